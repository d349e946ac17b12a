package lnd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ParsePubKey validates a hex encoded compressed secp256k1 node key.
func ParsePubKey(s string) (*btcec.PublicKey, error) {
	s = strings.TrimSpace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("node pubkey is not hex: %w", err)
	}
	if len(raw) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("node pubkey must be %d bytes, got %d", btcec.PubKeyBytesLenCompressed, len(raw))
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid node pubkey: %w", err)
	}
	return key, nil
}
