package setup

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/malbeclabs/lnguide/explainer/pkg/simulation"
)

// USDPerBTC is the fixed rate used for display.
const USDPerBTC = 50_000

type FundingOption struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Amount      btcutil.Amount `json:"amount"`
	Description string         `json:"description"`
	Channels    int            `json:"channels"`
	BTC         string         `json:"btc"`
	USD         string         `json:"usd"`
}

var fundingOptions = []FundingOption{
	{ID: "beginner", Name: "Beginner", Amount: 100_000, Description: "Perfect for learning and small transactions", Channels: 2},
	{ID: "standard", Name: "Standard", Amount: 500_000, Description: "Balanced for most users", Channels: 3},
	{ID: "advanced", Name: "Advanced", Amount: 2_000_000, Description: "For frequent users with higher volume", Channels: 5},
}

// FundingOptions returns the selectable funding amounts with display values filled in.
func FundingOptions() []FundingOption {
	out := make([]FundingOption, len(fundingOptions))
	for i, opt := range fundingOptions {
		opt.BTC = simulation.FormatBTC(opt.Amount)
		opt.USD = FormatUSD(opt.Amount)
		out[i] = opt
	}
	return out
}

// FindFundingOption looks up a funding option by id.
func FindFundingOption(id string) (FundingOption, bool) {
	for _, opt := range FundingOptions() {
		if opt.ID == id {
			return opt, true
		}
	}
	return FundingOption{}, false
}

// FormatUSD renders a at USDPerBTC with two decimals.
func FormatUSD(a btcutil.Amount) string {
	return fmt.Sprintf("%.2f", a.ToBTC()*USDPerBTC)
}

// SuggestedPeer is a well-known node offered on the channels step.
type SuggestedPeer struct {
	Alias      string   `json:"alias"`
	Highlights []string `json:"highlights"`
}

var suggestedPeers = []SuggestedPeer{
	{Alias: "ACINQ", Highlights: []string{"Well-connected node with high uptime", "Reasonable fees and good routing"}},
	{Alias: "Lightning Labs", Highlights: []string{"Highly reliable with great connectivity", "Excellent for first-time users"}},
}

func SuggestedPeers() []SuggestedPeer {
	return append([]SuggestedPeer(nil), suggestedPeers...)
}
