package pool

import (
	"context"
	"fmt"
	"math/big"

	"basketpool/core/events"
	"basketpool/crypto"
	"basketpool/native/access"
	"basketpool/native/token"
)

// BindShareToken creates the pool's share token through factory. It can only
// succeed once. The pool custody account receives the minter and burner
// capabilities on the new token and admin receives its admin capability.
func (e *Engine) BindShareToken(ctx context.Context, caller crypto.Address, factory token.ShareFactory, name, symbol string, admin crypto.Address) (crypto.Address, error) {
	var bound crypto.Address
	err := e.run(ctx, OpBindShareToken, caller, func() error {
		if admin.IsZero() {
			return fmt.Errorf("%w: share token admin required", ErrInvalidConfiguration)
		}
		if factory == nil || !factory.Address().Equal(e.factory.Address()) {
			return fmt.Errorf("%w: factory does not match the configured factory", ErrInvalidConfiguration)
		}
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		if len(meta.Share) != 0 {
			return fmt.Errorf("%w: share token already bound", ErrInvalidConfiguration)
		}
		share, err := factory.CreateShareToken(name, symbol, e.custody)
		if err != nil {
			return fmt.Errorf("create share token: %w", err)
		}
		for _, role := range []access.Role{access.RoleMinter, access.RoleBurner} {
			if err := share.GrantRole(e.custody, role, e.custody); err != nil {
				return fmt.Errorf("grant %s: %w", role, err)
			}
		}
		if err := share.GrantRole(e.custody, access.RoleAdmin, admin); err != nil {
			return fmt.Errorf("grant admin: %w", err)
		}
		meta.Share = share.Address().Bytes()
		if err := e.putMeta(meta); err != nil {
			return err
		}
		e.emit(events.PoolShareTokenBound{Share: share.Address(), Name: share.Name(), Symbol: share.Symbol(), Admin: admin})
		bound = share.Address()
		return nil
	})
	return bound, err
}

// SetLoanTerms replaces one row of the loan terms table. Open loans are
// priced with the row in force when they are settled.
func (e *Engine) SetLoanTerms(ctx context.Context, caller crypto.Address, term Term, duration, rateBps uint64) error {
	return e.run(ctx, OpSetLoanTerms, caller, func() error {
		if !term.Valid() {
			return fmt.Errorf("%w: unknown loan term %s", ErrInvalidConfiguration, term)
		}
		terms, err := e.loadTerms()
		if err != nil {
			return err
		}
		terms[term] = Terms{Duration: duration, RateBps: rateBps}
		if err := e.putTerms(terms); err != nil {
			return err
		}
		e.emit(events.PoolLoanTermsUpdated{Term: term.String(), Duration: duration, RateBps: rateBps})
		return nil
	})
}

func (e *Engine) SetFlashFeeBps(ctx context.Context, caller crypto.Address, feeBps uint64) error {
	return e.run(ctx, OpSetFlashFee, caller, func() error {
		if feeBps > maxBps {
			return fmt.Errorf("%w: flash fee %d bps exceeds %d", ErrInvalidConfiguration, feeBps, maxBps)
		}
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		previous := meta.FlashFeeBps
		meta.FlashFeeBps = feeBps
		if err := e.putMeta(meta); err != nil {
			return err
		}
		e.emit(events.PoolFlashFeeUpdated{Previous: previous, Current: feeBps})
		return nil
	})
}

// WithdrawAdminFees pays the asset's accumulated admin fees to caller.
func (e *Engine) WithdrawAdminFees(ctx context.Context, caller, assetAddr crypto.Address) (*big.Int, error) {
	var withdrawn *big.Int
	err := e.run(ctx, OpWithdrawAdminFees, caller, func() error {
		asset, err := e.asset(assetAddr)
		if err != nil {
			return err
		}
		pool, err := e.loadPool(assetAddr)
		if err != nil {
			return err
		}
		if !positive(pool.AdminFees) {
			return fmt.Errorf("%w: no admin fees accrued for %s", ErrInsufficientInput, asset.Symbol())
		}
		amount := new(big.Int).Set(pool.AdminFees)
		pool.AdminFees = big.NewInt(0)
		if err := e.putPool(pool); err != nil {
			return err
		}
		if err := asset.Transfer(e.custody, caller, amount); err != nil {
			return fmt.Errorf("withdraw admin fees: %w", err)
		}
		e.emit(events.PoolAdminFeesWithdrawn{Admin: caller, Asset: assetAddr, Amount: new(big.Int).Set(amount)})
		withdrawn = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// SetPaused toggles the pool pause flag. While paused, deposits, redemptions,
// loans and flash loans fail with ErrModulePaused.
func (e *Engine) SetPaused(ctx context.Context, caller crypto.Address, paused bool) error {
	return e.run(ctx, OpSetPaused, caller, func() error {
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		if meta.Paused == paused {
			return nil
		}
		meta.Paused = paused
		if err := e.putMeta(meta); err != nil {
			return err
		}
		e.emit(events.PoolPaused{By: caller, Paused: paused})
		return nil
	})
}

// ReceiveNative rejects bare native-currency transfers to the pool.
func (e *Engine) ReceiveNative(_ context.Context, _ crypto.Address, _ *big.Int) error {
	return ErrNativeValueRejected
}
