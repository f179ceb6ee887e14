package pool

import (
	"fmt"
)

const (
	timeUnitsPerDay = 86_400
	// blocksPerYear assumes one time unit per second.
	blocksPerYear = 31_536_000
)

// Params groups the economic constants of the pool. Loan terms and the flash
// fee are admin mutable after initialisation; the rest are fixed.
type Params struct {
	// CollateralRatio is a percentage: 150 locks 1.5x the borrowed amount.
	CollateralRatio uint64
	MinimumFeeBps   uint64
	// LoanAdminFeeBps is the admin share of repay and force-repay fees.
	LoanAdminFeeBps uint64
	// FlashAdminFeeBps is the admin share of flash fees.
	FlashAdminFeeBps uint64
	FlashFeeBps      uint64
	TimeUnitsPerYear uint64
	Terms            map[Term]Terms
}

// DefaultTerms returns the initial terms table.
func DefaultTerms() map[Term]Terms {
	return map[Term]Terms{
		TermShort:   {Duration: 30 * timeUnitsPerDay, RateBps: 500},
		TermMedium:  {Duration: 90 * timeUnitsPerDay, RateBps: 800},
		TermLong:    {Duration: 180 * timeUnitsPerDay, RateBps: 1200},
		TermLongest: {Duration: 365 * timeUnitsPerDay, RateBps: 1500},
	}
}

func DefaultParams() Params {
	return Params{
		CollateralRatio:  150,
		MinimumFeeBps:    10,
		LoanAdminFeeBps:  1000,
		FlashAdminFeeBps: 1100,
		FlashFeeBps:      9,
		TimeUnitsPerYear: blocksPerYear,
		Terms:            DefaultTerms(),
	}
}

// Clone returns a copy that does not share the terms map.
func (p Params) Clone() Params {
	clone := p
	clone.Terms = make(map[Term]Terms, len(p.Terms))
	for term, row := range p.Terms {
		clone.Terms[term] = row
	}
	return clone
}

func (p Params) Validate() error {
	if p.CollateralRatio < 100 {
		return fmt.Errorf("%w: collateral ratio %d below 100", ErrInvalidConfiguration, p.CollateralRatio)
	}
	if p.TimeUnitsPerYear == 0 {
		return fmt.Errorf("%w: time units per year must be positive", ErrInvalidConfiguration)
	}
	for name, bps := range map[string]uint64{
		"minimum fee":     p.MinimumFeeBps,
		"loan admin fee":  p.LoanAdminFeeBps,
		"flash admin fee": p.FlashAdminFeeBps,
		"flash fee":       p.FlashFeeBps,
	} {
		if bps > maxBps {
			return fmt.Errorf("%w: %s %d bps exceeds %d", ErrInvalidConfiguration, name, bps, maxBps)
		}
	}
	for _, term := range AllTerms() {
		if _, ok := p.Terms[term]; !ok {
			return fmt.Errorf("%w: missing %s loan term", ErrInvalidConfiguration, term)
		}
	}
	for term := range p.Terms {
		if !term.Valid() {
			return fmt.Errorf("%w: unknown loan term %d", ErrInvalidConfiguration, uint8(term))
		}
	}
	return nil
}
