package pool

import (
	"fmt"
	"math/big"
	"strings"

	"basketpool/crypto"
)

// Term selects a loan duration and annual rate from the terms table.
type Term uint8

const (
	TermShort Term = iota
	TermMedium
	TermLong
	TermLongest
)

var termNames = [...]string{"SHORT", "MEDIUM", "LONG", "LONGEST"}

// AllTerms lists every term in ascending duration order.
func AllTerms() []Term {
	return []Term{TermShort, TermMedium, TermLong, TermLongest}
}

func (t Term) Valid() bool { return int(t) < len(termNames) }

func (t Term) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TERM(%d)", uint8(t))
	}
	return termNames[t]
}

// ParseTerm accepts a term name in any case.
func ParseTerm(s string) (Term, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, candidate := range termNames {
		if candidate == name {
			return Term(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown loan term %q", ErrInvalidConfiguration, s)
}

// Terms is one row of the loan terms table. Duration is expressed in the
// engine's time units (block heights).
type Terms struct {
	Duration uint64
	RateBps  uint64
}

// AssetPool is the per-asset ledger. TotalDeposits minus TotalBorrowed is the
// liquidity available for loans and redemptions.
type AssetPool struct {
	Asset    crypto.Address
	Symbol   string
	Decimals uint8
	// TotalDeposits is the basket value held in trust for share holders.
	TotalDeposits *big.Int
	// TotalBorrowed is outstanding loan principal.
	TotalBorrowed *big.Int
	// TotalFees only ever grows.
	TotalFees  *big.Int
	AdminFees  *big.Int
	HolderFees *big.Int
}

func newAssetPool(asset crypto.Address, symbol string, decimals uint8) *AssetPool {
	return &AssetPool{
		Asset:         asset,
		Symbol:        symbol,
		Decimals:      decimals,
		TotalDeposits: big.NewInt(0),
		TotalBorrowed: big.NewInt(0),
		TotalFees:     big.NewInt(0),
		AdminFees:     big.NewInt(0),
		HolderFees:    big.NewInt(0),
	}
}

// Clone returns a deep copy of the pool record.
func (p *AssetPool) Clone() *AssetPool {
	if p == nil {
		return nil
	}
	return &AssetPool{
		Asset:         p.Asset,
		Symbol:        p.Symbol,
		Decimals:      p.Decimals,
		TotalDeposits: cloneInt(p.TotalDeposits),
		TotalBorrowed: cloneInt(p.TotalBorrowed),
		TotalFees:     cloneInt(p.TotalFees),
		AdminFees:     cloneInt(p.AdminFees),
		HolderFees:    cloneInt(p.HolderFees),
	}
}

// Loan is the single open position a borrower may hold. A zero Amount means
// no loan.
type Loan struct {
	Borrower   crypto.Address
	Asset      crypto.Address
	Amount     *big.Int
	Collateral *big.Int
	BorrowTime uint64
	Term       Term
}

func (l *Loan) Active() bool {
	return l != nil && l.Amount != nil && l.Amount.Sign() > 0
}

func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = cloneInt(l.Amount)
	clone.Collateral = cloneInt(l.Collateral)
	return &clone
}

// DepositReceipt reports what a basket deposit actually pulled and minted.
type DepositReceipt struct {
	Units   *big.Int
	Shares  *big.Int
	Amounts []*big.Int
}

// RedeemReceipt reports the per-asset payout of a redemption. Amounts include
// the fee portions listed in Fees.
type RedeemReceipt struct {
	Shares  *big.Int
	Amounts []*big.Int
	Fees    []*big.Int
}

// Settlement describes a closed loan.
type Settlement struct {
	Loan     *Loan
	Fee      *big.Int
	Returned *big.Int
}

// LoanDue is a read-only quote for an open loan.
type LoanDue struct {
	Loan      *Loan
	Fee       *big.Int
	TotalDue  *big.Int
	MaturesAt uint64
	Matured   bool
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneInts(values []*big.Int) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = cloneInt(v)
	}
	return out
}
