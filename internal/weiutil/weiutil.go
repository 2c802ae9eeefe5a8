package weiutil

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the scale of the native asset and of WETH/DAI alike.
const EtherDecimals = 18

// FormatUnits renders a raw token amount as a decimal string. Trailing
// fractional zeros are trimmed; whole amounts render without a point.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	scale := pow10(decimals)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	s := whole.String()
	if frac.Sign() != 0 {
		digits := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
		s += "." + digits
	}
	if neg {
		s = "-" + s
	}
	return s
}

// FormatEther renders a wei amount in ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

// ParseUnits converts a decimal string to a raw token amount. Fractional
// digits beyond the token's scale are rejected rather than truncated.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("weiutil: empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("weiutil: %q has more than %d fractional digits", s, decimals)
	}

	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("weiutil: bad amount %q", s)
	}
	out := new(big.Int).Mul(w, pow10(decimals))

	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("weiutil: bad amount %q", s)
		}
		f.Mul(f, pow10(decimals-len(frac)))
		out.Add(out, f)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}

// ParseEther converts an ether-denominated string to wei.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
