package pool

import (
	"context"
	"fmt"
	"math/big"

	"basketpool/core/events"
	"basketpool/crypto"
)

var percent = big.NewInt(100)

// Borrow opens a loan of amount from the asset's pool. Collateral in the same
// asset, sized by the collateral ratio, is pulled from the caller first.
func (e *Engine) Borrow(ctx context.Context, caller, assetAddr crypto.Address, amount *big.Int, term Term) (*Loan, error) {
	var opened *Loan
	err := e.run(ctx, OpBorrow, caller, func() error {
		if !positive(amount) {
			return fmt.Errorf("%w: borrow amount must be positive", ErrInsufficientInput)
		}
		if !term.Valid() {
			return fmt.Errorf("%w: unknown loan term %s", ErrInvalidConfiguration, term)
		}
		existing, err := e.loadLoan(caller)
		if err != nil {
			return err
		}
		if existing.Active() {
			return ErrDuplicateLoan
		}
		asset, err := e.asset(assetAddr)
		if err != nil {
			return err
		}
		pool, err := e.loadPool(assetAddr)
		if err != nil {
			return err
		}
		if available := AvailableLiquidity(pool); available.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s available %s, requested %s", ErrInsufficientLiquidity, asset.Symbol(), available, amount)
		}
		if _, err := e.termsFor(term); err != nil {
			return err
		}

		collateral := new(big.Int).Mul(amount, new(big.Int).SetUint64(e.params.CollateralRatio))
		collateral.Quo(collateral, percent)
		if err := asset.TransferFrom(e.custody, caller, e.custody, collateral); err != nil {
			return fmt.Errorf("lock collateral: %w", err)
		}
		pool.TotalBorrowed.Add(pool.TotalBorrowed, amount)
		if err := e.putPool(pool); err != nil {
			return err
		}
		loan := &Loan{
			Borrower:   caller,
			Asset:      assetAddr,
			Amount:     new(big.Int).Set(amount),
			Collateral: collateral,
			BorrowTime: e.blockHeight,
			Term:       term,
		}
		if err := e.putLoan(loan); err != nil {
			return err
		}
		if err := asset.Transfer(e.custody, caller, amount); err != nil {
			return fmt.Errorf("disburse loan: %w", err)
		}
		e.emit(events.PoolBorrowed{
			Borrower:   caller,
			Asset:      assetAddr,
			Amount:     new(big.Int).Set(amount),
			Collateral: new(big.Int).Set(collateral),
			Term:       term.String(),
			Height:     e.blockHeight,
		})
		opened = loan.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// Repay closes the caller's loan. Principal and the full-term fee are kept
// from the collateral and the remainder is returned. The fee does not depend
// on when the loan is repaid.
func (e *Engine) Repay(ctx context.Context, caller crypto.Address) (*Settlement, error) {
	var settled *Settlement
	err := e.run(ctx, OpRepay, caller, func() error {
		loan, err := e.loadLoan(caller)
		if err != nil {
			return err
		}
		if !loan.Active() {
			return ErrNoActiveLoan
		}
		fee, err := e.loanFee(loan)
		if err != nil {
			return err
		}
		totalDue := new(big.Int).Add(loan.Amount, fee)
		if loan.Collateral.Cmp(totalDue) < 0 {
			return fmt.Errorf("%w: collateral %s, due %s", ErrFeeExceedsCollateral, loan.Collateral, totalDue)
		}
		returned := new(big.Int).Sub(loan.Collateral, totalDue)
		if err := e.settle(loan, fee, returned, "repay"); err != nil {
			return err
		}
		e.emit(events.PoolRepaid{
			Borrower: caller,
			Asset:    loan.Asset,
			Amount:   new(big.Int).Set(loan.Amount),
			Fee:      new(big.Int).Set(fee),
			Returned: new(big.Int).Set(returned),
		})
		settled = &Settlement{Loan: loan, Fee: fee, Returned: returned}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// ForceRepay lets an admin close a matured loan. The collateral absorbs only
// the fee; everything else is returned to the borrower while the principal
// is written off against TotalBorrowed.
func (e *Engine) ForceRepay(ctx context.Context, caller, borrower crypto.Address) (*Settlement, error) {
	var settled *Settlement
	err := e.run(ctx, OpForceRepay, caller, func() error {
		loan, err := e.loadLoan(borrower)
		if err != nil {
			return err
		}
		if !loan.Active() {
			return ErrNoActiveLoan
		}
		terms, err := e.termsFor(loan.Term)
		if err != nil {
			return err
		}
		maturity := loan.BorrowTime + terms.Duration
		if e.blockHeight < maturity {
			return fmt.Errorf("%w: matures at %d, now %d", ErrLoanNotExpired, maturity, e.blockHeight)
		}
		fee := CalculateFee(loan.Amount, terms, e.params.TimeUnitsPerYear, e.params.MinimumFeeBps)
		if fee.Cmp(loan.Collateral) > 0 {
			return fmt.Errorf("%w: collateral %s, fee %s", ErrFeeExceedsCollateral, loan.Collateral, fee)
		}
		returned := new(big.Int).Sub(loan.Collateral, fee)
		if err := e.settle(loan, fee, returned, "force_repay"); err != nil {
			return err
		}
		e.emit(events.PoolForceRepaid{
			Admin:    caller,
			Borrower: borrower,
			Asset:    loan.Asset,
			Amount:   new(big.Int).Set(loan.Amount),
			Fee:      new(big.Int).Set(fee),
			Returned: new(big.Int).Set(returned),
		})
		settled = &Settlement{Loan: loan, Fee: fee, Returned: returned}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

func (e *Engine) loanFee(loan *Loan) (*big.Int, error) {
	terms, err := e.termsFor(loan.Term)
	if err != nil {
		return nil, err
	}
	return CalculateFee(loan.Amount, terms, e.params.TimeUnitsPerYear, e.params.MinimumFeeBps), nil
}

// settle applies the shared ledger effects of closing a loan.
func (e *Engine) settle(loan *Loan, fee, returned *big.Int, source string) error {
	asset, err := e.asset(loan.Asset)
	if err != nil {
		return err
	}
	pool, err := e.loadPool(loan.Asset)
	if err != nil {
		return err
	}
	pool.TotalBorrowed.Sub(pool.TotalBorrowed, loan.Amount)
	if pool.TotalBorrowed.Sign() < 0 {
		return fmt.Errorf("%w: %s borrowed below zero", ErrInsufficientLiquidity, pool.Symbol)
	}
	admin, holder := DistributeFee(pool, fee, e.params.LoanAdminFeeBps)
	if err := e.putPool(pool); err != nil {
		return err
	}
	if err := e.clearLoan(loan.Borrower); err != nil {
		return err
	}
	if returned.Sign() > 0 {
		if err := asset.Transfer(e.custody, loan.Borrower, returned); err != nil {
			return fmt.Errorf("return collateral: %w", err)
		}
	}
	if fee.Sign() > 0 {
		e.emit(events.PoolFeeDistributed{Asset: loan.Asset, Source: source, Fee: new(big.Int).Set(fee), AdminShare: admin, HolderShare: holder})
	}
	return nil
}
