package lnd

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// Sats is a satoshi amount as carried by the LND REST gateway, which encodes
// 64-bit integers as decimal strings.
//
// Decoding policy: a JSON number or decimal string yields its value; a missing
// field, null, an empty string or anything unparsable yields 0. Decoding never
// fails, so one odd field cannot poison a whole response.
type Sats int64

// ParseSats applies the Sats decoding policy to a string.
func ParseSats(s string) Sats {
	return Sats(parseInt64(s))
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

func decodeInt64(b []byte) int64 {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		return 0
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return 0
		}
		return parseInt64(str)
	default:
		return parseInt64(string(b))
	}
}

func encodeInt64(n int64) []byte {
	return []byte(strconv.Quote(strconv.FormatInt(n, 10)))
}

func (s *Sats) UnmarshalJSON(b []byte) error {
	*s = Sats(decodeInt64(b))
	return nil
}

func (s Sats) MarshalJSON() ([]byte, error) {
	return encodeInt64(int64(s)), nil
}

func (s Sats) Int64() int64 { return int64(s) }

func (s Sats) Amount() btcutil.Amount { return btcutil.Amount(s) }

func (s Sats) String() string { return strconv.FormatInt(int64(s), 10) }

// Int is a non-monetary 64-bit field (weights, fee rates, counters, seconds)
// decoded with the same policy as Sats.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
	*n = Int(decodeInt64(b))
	return nil
}

func (n Int) MarshalJSON() ([]byte, error) {
	return encodeInt64(int64(n)), nil
}

func (n Int) Int64() int64 { return int64(n) }
