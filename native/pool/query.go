package pool

import (
	"errors"
	"fmt"
	"math/big"

	"basketpool/crypto"
	"basketpool/native/token"
)

// Pool returns a copy of the ledger record for asset.
func (e *Engine) Pool(asset crypto.Address) (*AssetPool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPool(asset)
}

// Pools returns every pool record in basket order.
func (e *Engine) Pools() ([]*AssetPool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	out := make([]*AssetPool, 0, len(e.assets))
	for _, asset := range e.assets {
		pool, err := e.loadPool(asset.Address())
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

// Loan returns the open loan of borrower or ErrNoActiveLoan.
func (e *Engine) Loan(borrower crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.loadLoan(borrower)
	if err != nil {
		return nil, err
	}
	if !loan.Active() {
		return nil, ErrNoActiveLoan
	}
	return loan, nil
}

// Loans lists every open loan in origination order of first borrow.
func (e *Engine) Loans() ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var borrowers [][]byte
	if _, err := e.state.KVGet(loanIndexKey, &borrowers); err != nil {
		return nil, err
	}
	out := make([]*Loan, 0, len(borrowers))
	for _, raw := range borrowers {
		loan, err := e.Loan(crypto.MustNewAddress(crypto.AccountPrefix, raw))
		if errors.Is(err, ErrNoActiveLoan) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}

// LoanDue quotes the fee and total owed on borrower's open loan.
func (e *Engine) LoanDue(borrower crypto.Address) (*LoanDue, error) {
	return e.LoanDueAt(borrower, e.BlockHeight())
}

// LoanDueAt is LoanDue evaluated at an explicit height.
func (e *Engine) LoanDueAt(borrower crypto.Address, height uint64) (*LoanDue, error) {
	loan, err := e.Loan(borrower)
	if err != nil {
		return nil, err
	}
	terms, err := e.termsFor(loan.Term)
	if err != nil {
		return nil, err
	}
	fee := CalculateFee(loan.Amount, terms, e.params.TimeUnitsPerYear, e.params.MinimumFeeBps)
	maturity := loan.BorrowTime + terms.Duration
	return &LoanDue{
		Loan:      loan,
		Fee:       fee,
		TotalDue:  new(big.Int).Add(loan.Amount, fee),
		MaturesAt: maturity,
		Matured:   height >= maturity,
	}, nil
}

// Ratios returns the per-unit basket composition.
func (e *Engine) Ratios() []*big.Int {
	if e == nil {
		return nil
	}
	return cloneInts(e.ratios)
}

// Assets returns the basket asset identifiers in order.
func (e *Engine) Assets() []crypto.Address {
	if e == nil {
		return nil
	}
	out := make([]crypto.Address, len(e.assets))
	for i, asset := range e.assets {
		out[i] = asset.Address()
	}
	return out
}

// AssetService returns the token handle for a basket asset.
func (e *Engine) AssetService(asset crypto.Address) (token.AssetService, error) {
	if e == nil {
		return nil, ErrNilState
	}
	return e.asset(asset)
}

func (e *Engine) LoanTerms() (map[Term]Terms, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadTerms()
}

func (e *Engine) TotalAvailableLiquidity() (*big.Int, error) {
	pools, err := e.Pools()
	if err != nil {
		return nil, err
	}
	return AggregateAvailableLiquidity(pools), nil
}

func (e *Engine) TotalDeposits() (*big.Int, error) {
	pools, err := e.Pools()
	if err != nil {
		return nil, err
	}
	return AggregateTotalDeposits(pools), nil
}

// ShareToken returns the bound share token or ErrNotInitialized.
func (e *Engine) ShareToken() (token.ShareService, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.shareToken()
}

// Params returns the effective parameters, including the current loan terms
// and flash fee.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, ErrNilState
	}
	params := e.params.Clone()
	meta, err := e.loadMeta()
	if err != nil {
		return Params{}, err
	}
	params.FlashFeeBps = meta.FlashFeeBps
	terms, err := e.loadTerms()
	if err != nil {
		return Params{}, err
	}
	params.Terms = terms
	return params, nil
}

func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	meta, err := e.loadMeta()
	if err != nil {
		return false, err
	}
	return meta.Paused, nil
}

// Describe renders a one-line summary of the pool for logs.
func (e *Engine) Describe() string {
	if e == nil {
		return "pool<nil>"
	}
	symbols := make([]string, len(e.assets))
	for i, asset := range e.assets {
		symbols[i] = fmt.Sprintf("%s:%s", asset.Symbol(), e.ratios[i])
	}
	return fmt.Sprintf("pool custody=%s basket=%v", e.custody, symbols)
}
