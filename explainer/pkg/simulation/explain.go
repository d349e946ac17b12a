package simulation

import (
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

const IntroExplanation = `This visualization demonstrates how Lightning channels work. Click "Create Channel" to begin.`

// explanations is the text shown on entering a state. Closed has no entry:
// after a close the settlement text stays up until the next create.
var explanations = map[ChannelState]string{
	StateOpening:     "Opening a channel requires an on-chain Bitcoin transaction. This transaction locks funds that both parties can use for payments.",
	StateOpen:        "Channel open! Both parties can now transact instantly without touching the blockchain. Try sending a payment to see how balances shift.",
	StateTransacting: "Payments update the balance sheet between parties. This happens instantly and with minimal fees.",
	StateClosing:     "Closing a channel settles the final balances back to the blockchain. Each party receives their respective funds.",
}

// Explanation returns the text shown on entering s.
func Explanation(s ChannelState) string {
	if text, ok := explanations[s]; ok {
		return text
	}
	return IntroExplanation
}

// FormatBTC renders an amount as BTC with all eight decimals, e.g. 0.00500000.
func FormatBTC(a btcutil.Amount) string {
	return strconv.FormatFloat(a.ToBTC(), 'f', 8, 64)
}
