package pool

import (
	"context"
	"fmt"
	"math/big"

	"basketpool/core/events"
	"basketpool/crypto"
)

// FlashReceiver is handed the borrowed amount and must return amount plus
// fee to the pool custody account before ExecuteOperation returns.
type FlashReceiver interface {
	Address() crypto.Address
	ExecuteOperation(ctx context.Context, asset crypto.Address, amount, fee *big.Int, initiator crypto.Address, params []byte) error
}

// FlashBorrow lends amount to receiver for the duration of its callback. The
// pool's custody balance must have grown by at least the fee once the
// callback returns, otherwise the whole operation, outbound transfer
// included, is reverted. The engine mutates nothing between the transfer and
// the callback's return.
func (e *Engine) FlashBorrow(ctx context.Context, caller, assetAddr crypto.Address, amount *big.Int, receiver FlashReceiver, params []byte) (*big.Int, error) {
	var charged *big.Int
	err := e.run(ctx, OpFlashBorrow, caller, func() error {
		if !positive(amount) {
			return fmt.Errorf("%w: flash amount must be positive", ErrInsufficientInput)
		}
		if receiver == nil || receiver.Address().IsZero() {
			return fmt.Errorf("%w: flash receiver required", ErrInvalidConfiguration)
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
		meta, err := e.loadMeta()
		if err != nil {
			return err
		}
		fee := FlashFee(amount, meta.FlashFeeBps)

		before, err := asset.BalanceOf(e.custody)
		if err != nil {
			return err
		}
		if err := asset.Transfer(e.custody, receiver.Address(), amount); err != nil {
			return fmt.Errorf("flash transfer: %w", err)
		}
		if err := receiver.ExecuteOperation(ctx, assetAddr, new(big.Int).Set(amount), new(big.Int).Set(fee), caller, params); err != nil {
			return fmt.Errorf("flash receiver: %w", err)
		}
		after, err := asset.BalanceOf(e.custody)
		if err != nil {
			return err
		}
		if owed := new(big.Int).Add(before, fee); after.Cmp(owed) < 0 {
			return fmt.Errorf("%w: custody %s, required %s", ErrUnrepaidFlashLoan, after, owed)
		}

		// Reload in case the callback moved value through another path.
		pool, err = e.loadPool(assetAddr)
		if err != nil {
			return err
		}
		admin, holder := DistributeFee(pool, fee, e.params.FlashAdminFeeBps)
		if err := e.putPool(pool); err != nil {
			return err
		}
		e.emit(events.PoolFlashSettled{Initiator: caller, Receiver: receiver.Address(), Asset: assetAddr, Amount: new(big.Int).Set(amount), Fee: new(big.Int).Set(fee)})
		if fee.Sign() > 0 {
			e.emit(events.PoolFeeDistributed{Asset: assetAddr, Source: "flash", Fee: new(big.Int).Set(fee), AdminShare: admin, HolderShare: holder})
		}
		charged = fee
		return nil
	})
	if err != nil {
		return nil, err
	}
	return charged, nil
}
