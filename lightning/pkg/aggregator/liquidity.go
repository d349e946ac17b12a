package aggregator

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/malbeclabs/lnguide/lightning/pkg/lnd"
)

// Liquidity sums the balances of the channel snapshot. Inbound is what peers
// can send to us, outbound what we can send.
type Liquidity struct {
	Inbound  btcutil.Amount `json:"inbound"`
	Outbound btcutil.Amount `json:"outbound"`
	Capacity btcutil.Amount `json:"capacity"`
	Channels int            `json:"channels"`
}

// InboundBTC and OutboundBTC are for display.
func (l Liquidity) InboundBTC() float64  { return l.Inbound.ToBTC() }
func (l Liquidity) OutboundBTC() float64 { return l.Outbound.ToBTC() }

// ComputeLiquidity sums remote balance, local balance and capacity over
// channels.
func ComputeLiquidity(channels []lnd.Channel) Liquidity {
	var l Liquidity
	for _, ch := range channels {
		l.Inbound += ch.RemoteBalance.Amount()
		l.Outbound += ch.LocalBalance.Amount()
		l.Capacity += ch.Capacity.Amount()
	}
	l.Channels = len(channels)
	return l
}

// Liquidity is computed from the current channel snapshot.
func (a *Aggregator) Liquidity() Liquidity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ComputeLiquidity(a.data.Channels)
}
