package bch

import (
	"fmt"
	"strings"
)

// SatsPerBCH is the number of satoshis in one BCH.
const SatsPerBCH = 100_000_000

const bchDecimals = 8

// ToSatoshis parses a fixed-point BCH amount ("0.01") into satoshis. This and
// FromSatoshis are the only two places amounts cross the unit boundary; every
// internal value is satoshis.
func ToSatoshis(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(amount, "-") {
		neg = true
		amount = amount[1:]
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > bchDecimals {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", amount, bchDecimals)
	}

	var sats int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
		d := int64(c - '0')
		if sats > (1<<62)/10 {
			return 0, fmt.Errorf("amount %q out of range", amount)
		}
		sats = sats*10 + d
	}
	sats *= SatsPerBCH

	mult := int64(SatsPerBCH / 10)
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
		sats += int64(c-'0') * mult
		mult /= 10
	}

	if neg {
		sats = -sats
	}
	return sats, nil
}

// FromSatoshis formats satoshis as a fixed-point BCH string with trailing
// zeros trimmed ("0.01", not "0.01000000").
func FromSatoshis(sats int64) string {
	neg := sats < 0
	if neg {
		sats = -sats
	}
	whole := sats / SatsPerBCH
	frac := sats % SatsPerBCH

	s := fmt.Sprintf("%d", whole)
	if frac > 0 {
		f := fmt.Sprintf("%08d", frac)
		f = strings.TrimRight(f, "0")
		s += "." + f
	}
	if neg {
		s = "-" + s
	}
	return s
}
