package copier

import (
	"fmt"
	"math/big"
)

// ScalePolicy maps a leader's input amount to a follower's replica amount.
// Implementations must be pure: no clock, no I/O, integer arithmetic only
// (token amounts carry up to 18 decimals and do not survive float64).
type ScalePolicy interface {
	Scale(leaderAmount *big.Int) (*big.Int, error)
	String() string
}

// FixedFractionPolicy sizes every replica at a fixed fraction of the
// leader's trade, expressed in basis points (1000 bps = 10%).
type FixedFractionPolicy struct {
	bps int64
}

func NewFixedFractionPolicy(bps int64) (FixedFractionPolicy, error) {
	if bps <= 0 || bps > 10_000 {
		return FixedFractionPolicy{}, fmt.Errorf("%w: bps must be in (0,10000], got %d", ErrPolicy, bps)
	}
	return FixedFractionPolicy{bps: bps}, nil
}

func (p FixedFractionPolicy) Bps() int64 { return p.bps }

func (p FixedFractionPolicy) Scale(leaderAmount *big.Int) (*big.Int, error) {
	if p.bps <= 0 || p.bps > 10_000 {
		return nil, fmt.Errorf("%w: bps=%d", ErrPolicy, p.bps)
	}
	if leaderAmount == nil || leaderAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: leader amount must be positive", ErrPolicy)
	}

	out := new(big.Int).Mul(leaderAmount, big.NewInt(p.bps))
	out.Div(out, big.NewInt(10_000))
	if out.Sign() <= 0 {
		// Leader trade too small for this fraction to round to anything.
		return nil, fmt.Errorf("%w: %d bps of %s truncates to zero", ErrPolicy, p.bps, leaderAmount)
	}
	return out, nil
}

func (p FixedFractionPolicy) String() string {
	return fmt.Sprintf("%.2f%% of leader size", float64(p.bps)/100)
}
