package simulation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultOpenDelay    = 3 * time.Second
	DefaultPaymentDelay = 2 * time.Second
	DefaultCloseDelay   = 3 * time.Second

	DefaultInitialBalance = btcutil.Amount(500_000)
	DefaultPaymentAmount  = btcutil.Amount(100_000)

	DefaultLocalName  = "Your Node"
	DefaultRemoteName = "Coffee Shop"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	InitialLocal  btcutil.Amount
	InitialRemote btcutil.Amount
	PaymentAmount btcutil.Amount

	OpenDelay    time.Duration
	PaymentDelay time.Duration
	CloseDelay   time.Duration

	LocalName  string
	RemoteName string

	// Events, if set, receives every state change. Sends never block; events
	// are dropped when the channel is full.
	Events chan<- Event
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.InitialLocal == 0 && cfg.InitialRemote == 0 {
		cfg.InitialLocal = DefaultInitialBalance
		cfg.InitialRemote = DefaultInitialBalance
	}
	if cfg.InitialLocal < 0 || cfg.InitialRemote < 0 {
		return errors.New("initial balances must not be negative")
	}
	if cfg.PaymentAmount == 0 {
		cfg.PaymentAmount = DefaultPaymentAmount
	}
	if cfg.PaymentAmount < 0 {
		return errors.New("payment amount must be positive")
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = DefaultOpenDelay
	}
	if cfg.PaymentDelay <= 0 {
		cfg.PaymentDelay = DefaultPaymentDelay
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = DefaultCloseDelay
	}
	if cfg.LocalName == "" {
		cfg.LocalName = DefaultLocalName
	}
	if cfg.RemoteName == "" {
		cfg.RemoteName = DefaultRemoteName
	}
	return nil
}

func (cfg *Config) rules() Rules {
	return Rules{
		Initial: Ledger{Local: cfg.InitialLocal, Remote: cfg.InitialRemote},
		Payment: cfg.PaymentAmount,
	}
}

func (cfg *Config) delay(s ChannelState) time.Duration {
	switch s {
	case StateOpening:
		return cfg.OpenDelay
	case StateTransacting:
		return cfg.PaymentDelay
	case StateClosing:
		return cfg.CloseDelay
	}
	return 0
}

// Event describes one state change.
type Event struct {
	Seq     uint64       `json:"seq"`
	From    ChannelState `json:"from"`
	To      ChannelState `json:"to"`
	Trigger Trigger      `json:"trigger"`
	Ledger  Ledger       `json:"ledger"`
	At      time.Time    `json:"at"`
}

// Channel is one simulated payment channel. All methods are safe for
// concurrent use.
//
// A channel owns at most one pending timer. Every transition cancels it before
// scheduling the next one, and each timer carries the generation it was
// scheduled for so a fire that lost the race with a transition is discarded.
type Channel struct {
	log   *slog.Logger
	cfg   Config
	rules Rules

	// emitMu orders event delivery. It is taken before mu and held until the
	// observer returns, so observers see events in sequence order.
	emitMu sync.Mutex

	mu          sync.Mutex
	state       ChannelState
	ledger      Ledger
	explanation string
	timer       clockwork.Timer
	generation  uint64
	seq         uint64
	payments    int
	stopped     bool
	updatedAt   time.Time
	observer    func(Event)
}

// New creates a closed channel with the initial balance split.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules := cfg.rules()
	return &Channel{
		log:         cfg.Logger,
		cfg:         cfg,
		rules:       rules,
		state:       StateClosed,
		ledger:      rules.Initial,
		explanation: IntroExplanation,
		updatedAt:   cfg.Clock.Now(),
	}, nil
}

// Create opens the channel. Valid only while closed.
func (c *Channel) Create() error {
	return c.apply(TriggerCreate)
}

// SendPayment moves the payment amount from local to remote. Valid only while
// open and while the local balance covers the payment.
func (c *Channel) SendPayment() error {
	return c.apply(TriggerPay)
}

// Close settles the channel. Valid only while open.
func (c *Channel) Close() error {
	return c.apply(TriggerClose)
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ledger returns the current balances.
func (c *Channel) Ledger() Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger
}

// CanSendPayment reports whether SendPayment would currently succeed.
func (c *Channel) CanSendPayment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped && c.state == StateOpen && c.ledger.Local >= c.rules.Payment
}

// Stop cancels the pending timer. After Stop no timer mutates the channel and
// every action returns ErrStopped.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.cancelTimerLocked()
	c.log.Debug("simulation: channel stopped", "state", c.state)
}

func (c *Channel) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// SetObserver registers fn to be called with every event. fn runs after the
// channel is unlocked, so it may read the channel. It must not trigger
// actions on the same channel.
func (c *Channel) SetObserver(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

func (c *Channel) apply(trigger Trigger) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	ev, err := c.transitionLocked(trigger)
	observer := c.observer
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.emit(ev, observer)
	return nil
}

func (c *Channel) fire(generation uint64) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.stopped || generation != c.generation {
		c.log.Debug("simulation: discarding stale timer", "generation", generation, "current", c.generation)
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ev, err := c.transitionLocked(TriggerTimer)
	if err != nil {
		c.log.Error("simulation: timer transition failed", "state", c.state, "error", err)
		c.mu.Unlock()
		return
	}
	observer := c.observer
	c.mu.Unlock()

	c.emit(ev, observer)
}

func (c *Channel) transitionLocked(trigger Trigger) (Event, error) {
	from := c.state
	to, ledger, err := Next(from, trigger, c.ledger, c.rules)
	if err != nil {
		c.log.Debug("simulation: transition rejected", "state", from, "trigger", trigger, "error", err)
		return Event{}, err
	}

	c.cancelTimerLocked()
	c.state = to
	c.ledger = ledger
	c.updatedAt = c.cfg.Clock.Now()
	if text, ok := explanations[to]; ok {
		c.explanation = text
	}
	if trigger == TriggerPay {
		c.payments++
	}

	if to.Transient() {
		gen := c.generation
		c.timer = c.cfg.Clock.AfterFunc(c.cfg.delay(to), func() { c.fire(gen) })
	}

	c.seq++
	ev := Event{Seq: c.seq, From: from, To: to, Trigger: trigger, Ledger: ledger, At: c.updatedAt}
	c.log.Debug("simulation: transition", "from", from, "to", to, "trigger", trigger,
		"local", int64(ledger.Local), "remote", int64(ledger.Remote))
	return ev, nil
}

// cancelTimerLocked stops the pending timer and invalidates any fire already
// in flight.
func (c *Channel) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

// emit runs without mu held.
func (c *Channel) emit(ev Event, observer func(Event)) {
	if observer != nil {
		observer(ev)
	}
	if c.cfg.Events == nil {
		return
	}
	select {
	case c.cfg.Events <- ev:
	default:
		c.log.Debug("simulation: event dropped", "seq", ev.Seq)
	}
}

// Snapshot is a consistent read of the channel for rendering.
type Snapshot struct {
	State          ChannelState   `json:"state"`
	Explanation    string         `json:"explanation"`
	Ledger         Ledger         `json:"ledger"`
	Capacity       btcutil.Amount `json:"capacity"`
	LocalBTC       string         `json:"localBtc"`
	RemoteBTC      string         `json:"remoteBtc"`
	LocalPercent   float64        `json:"localPercent"`
	LocalName      string         `json:"localName"`
	RemoteName     string         `json:"remoteName"`
	CanSendPayment bool           `json:"canSendPayment"`
	PaymentAmount  btcutil.Amount `json:"paymentAmount"`
	Payments       int            `json:"payments"`
	Seq            uint64         `json:"seq"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Stopped        bool           `json:"stopped,omitempty"`
}

// Snapshot reads everything the channel view renders under one lock.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:          c.state,
		Explanation:    c.explanation,
		Ledger:         c.ledger,
		Capacity:       c.ledger.Total(),
		LocalBTC:       FormatBTC(c.ledger.Local),
		RemoteBTC:      FormatBTC(c.ledger.Remote),
		LocalPercent:   c.ledger.LocalShare(),
		LocalName:      c.cfg.LocalName,
		RemoteName:     c.cfg.RemoteName,
		CanSendPayment: !c.stopped && c.state == StateOpen && c.ledger.Local >= c.rules.Payment,
		PaymentAmount:  c.rules.Payment,
		Payments:       c.payments,
		Seq:            c.seq,
		UpdatedAt:      c.updatedAt,
		Stopped:        c.stopped,
	}
}
