package simulation

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// ChannelState is the lifecycle state of a simulated channel.
type ChannelState string

const (
	StateClosed      ChannelState = "closed"
	StateOpening     ChannelState = "opening"
	StateOpen        ChannelState = "open"
	StateTransacting ChannelState = "transacting"
	StateClosing     ChannelState = "closing"
)

// States lists every state in lifecycle order.
var States = []ChannelState{StateClosed, StateOpening, StateOpen, StateTransacting, StateClosing}

// Trigger is what drives a transition: a user action or the channel's timer.
type Trigger string

const (
	TriggerCreate Trigger = "create"
	TriggerPay    Trigger = "pay"
	TriggerClose  Trigger = "close"
	TriggerTimer  Trigger = "timer"
)

var Triggers = []Trigger{TriggerCreate, TriggerPay, TriggerClose, TriggerTimer}

var (
	ErrInvalidTransition   = errors.New("invalid channel transition")
	ErrInsufficientBalance = errors.New("insufficient local balance")
	ErrStopped             = errors.New("channel simulation stopped")
)

// Ledger is the balance split of a simulated channel. Local+Remote is constant
// in every reachable state.
type Ledger struct {
	Local  btcutil.Amount `json:"localBalance"`
	Remote btcutil.Amount `json:"remoteBalance"`
}

// Total is the channel capacity, constant across transitions.
func (l Ledger) Total() btcutil.Amount {
	return l.Local + l.Remote
}

// LocalShare is the local side as a percentage of capacity, for the balance bar.
func (l Ledger) LocalShare() float64 {
	total := l.Total()
	if total <= 0 {
		return 0
	}
	return float64(l.Local) / float64(total) * 100
}

// Rules are the amounts the transition table works with.
type Rules struct {
	Initial Ledger
	Payment btcutil.Amount
}

// Transient reports whether the state ends on its own after a delay.
func (s ChannelState) Transient() bool {
	return s == StateOpening || s == StateTransacting || s == StateClosing
}

func (s ChannelState) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// Next is the transition table. It is total: every (state, trigger) pair
// either yields the next state and ledger or an error wrapping
// ErrInvalidTransition or ErrInsufficientBalance, in which case the inputs
// are returned unchanged.
func Next(state ChannelState, trigger Trigger, ledger Ledger, rules Rules) (ChannelState, Ledger, error) {
	switch {
	case state == StateClosed && trigger == TriggerCreate:
		return StateOpening, ledger, nil
	case state == StateOpening && trigger == TriggerTimer:
		return StateOpen, ledger, nil
	case state == StateOpen && trigger == TriggerPay:
		if ledger.Local < rules.Payment {
			return state, ledger, fmt.Errorf("%w: have %s, payment needs %s", ErrInsufficientBalance, ledger.Local, rules.Payment)
		}
		return StateTransacting, Ledger{Local: ledger.Local - rules.Payment, Remote: ledger.Remote + rules.Payment}, nil
	case state == StateOpen && trigger == TriggerClose:
		return StateClosing, ledger, nil
	case state == StateTransacting && trigger == TriggerTimer:
		return StateOpen, ledger, nil
	case state == StateClosing && trigger == TriggerTimer:
		return StateClosed, rules.Initial, nil
	}
	return state, ledger, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, trigger, state)
}
