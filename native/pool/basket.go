package pool

import (
	"context"
	"fmt"
	"math/big"

	"basketpool/core/events"
	"basketpool/crypto"
)

// shareScale is the fixed-point precision of a redeemer's pool fraction.
var shareScale = big.NewInt(1_000_000_000_000_000_000)

// Deposit pulls a whole number of basket units from caller and mints the
// matching shares. amounts holds one entry per configured asset in basket
// order; each must cover at least one unit. Only ratio[i]*units is pulled,
// any surplus stays with the caller.
func (e *Engine) Deposit(ctx context.Context, caller crypto.Address, amounts []*big.Int) (*DepositReceipt, error) {
	var receipt *DepositReceipt
	err := e.run(ctx, OpDeposit, caller, func() error {
		share, err := e.shareToken()
		if err != nil {
			return err
		}
		if len(amounts) != len(e.assets) {
			return fmt.Errorf("%w: expected %d amounts, got %d", ErrInsufficientInput, len(e.assets), len(amounts))
		}
		var units *big.Int
		for i, amount := range amounts {
			if amount == nil || amount.Cmp(e.ratios[i]) < 0 {
				return fmt.Errorf("%w: %s amount below ratio %s", ErrInsufficientInput, e.assets[i].Symbol(), e.ratios[i])
			}
			q := new(big.Int).Quo(amount, e.ratios[i])
			if units == nil || q.Cmp(units) < 0 {
				units = q
			}
		}
		if !positive(units) {
			return fmt.Errorf("%w: deposit mints no units", ErrInsufficientInput)
		}

		pulled := make([]*big.Int, len(e.assets))
		for i, asset := range e.assets {
			exact := new(big.Int).Mul(e.ratios[i], units)
			if err := asset.TransferFrom(e.custody, caller, e.custody, exact); err != nil {
				return fmt.Errorf("pull %s: %w", asset.Symbol(), err)
			}
			pool, err := e.loadPool(asset.Address())
			if err != nil {
				return err
			}
			pool.TotalDeposits.Add(pool.TotalDeposits, exact)
			if err := e.putPool(pool); err != nil {
				return err
			}
			pulled[i] = exact
		}

		shares := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(share.Decimals())), nil)
		shares.Mul(shares, units)
		if err := share.Mint(e.custody, caller, shares); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}
		e.emit(events.PoolDeposited{Depositor: caller, Amounts: cloneInts(pulled), Shares: new(big.Int).Set(shares)})
		receipt = &DepositReceipt{Units: units, Shares: shares, Amounts: pulled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Redeem burns shareAmount of caller's shares and pays out the same fraction
// of every pool's available liquidity and holder fees. The fraction is taken
// against the supply before the burn.
func (e *Engine) Redeem(ctx context.Context, caller crypto.Address, shareAmount *big.Int) (*RedeemReceipt, error) {
	var receipt *RedeemReceipt
	err := e.run(ctx, OpRedeem, caller, func() error {
		share, err := e.shareToken()
		if err != nil {
			return err
		}
		if !positive(shareAmount) {
			return fmt.Errorf("%w: share amount must be positive", ErrInsufficientInput)
		}
		balance, err := share.BalanceOf(caller)
		if err != nil {
			return err
		}
		if balance.Cmp(shareAmount) < 0 {
			return fmt.Errorf("%w: holds %s shares, redeeming %s", ErrInsufficientInput, balance, shareAmount)
		}
		supply, err := share.TotalSupply()
		if err != nil {
			return err
		}
		if supply.Sign() <= 0 {
			return fmt.Errorf("%w: share supply is zero", ErrInsufficientLiquidity)
		}
		fraction := new(big.Int).Mul(shareAmount, shareScale)
		fraction.Quo(fraction, supply)

		if err := share.BurnFrom(e.custody, caller, shareAmount); err != nil {
			return fmt.Errorf("burn shares: %w", err)
		}

		amounts := make([]*big.Int, len(e.assets))
		fees := make([]*big.Int, len(e.assets))
		for i, asset := range e.assets {
			pool, err := e.loadPool(asset.Address())
			if err != nil {
				return err
			}
			depositPortion := new(big.Int).Mul(AvailableLiquidity(pool), fraction)
			depositPortion.Quo(depositPortion, shareScale)
			pool.TotalDeposits.Sub(pool.TotalDeposits, depositPortion)

			feePortion := new(big.Int).Mul(pool.HolderFees, fraction)
			feePortion.Quo(feePortion, shareScale)
			if feePortion.Sign() > 0 {
				pool.HolderFees.Sub(pool.HolderFees, feePortion)
				e.emit(events.PoolFeeClaimed{Holder: caller, Asset: asset.Address(), Amount: new(big.Int).Set(feePortion)})
			}
			if err := e.putPool(pool); err != nil {
				return err
			}

			payout := new(big.Int).Add(depositPortion, feePortion)
			if payout.Sign() > 0 {
				held, err := asset.BalanceOf(e.custody)
				if err != nil {
					return err
				}
				if held.Cmp(payout) < 0 {
					return fmt.Errorf("%w: %s custody %s, payout %s", ErrInsufficientCustody, asset.Symbol(), held, payout)
				}
				if err := asset.Transfer(e.custody, caller, payout); err != nil {
					return fmt.Errorf("pay %s: %w", asset.Symbol(), err)
				}
			}
			amounts[i] = payout
			fees[i] = feePortion
		}
		e.emit(events.PoolRedeemed{Redeemer: caller, Shares: new(big.Int).Set(shareAmount), Amounts: cloneInts(amounts)})
		receipt = &RedeemReceipt{Shares: new(big.Int).Set(shareAmount), Amounts: amounts, Fees: fees}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
