package poold

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/native/token"
)

// RepayingReceiver is a flash receiver that immediately returns principal
// plus fee to the pool from its own account. It is useful for exercising the
// flash path and as a template for in-process strategies.
type RepayingReceiver struct {
	account crypto.Address
	custody crypto.Address
	assets  func(crypto.Address) (token.AssetService, error)
}

// NewRepayingReceiver builds a receiver for account. The account must hold
// enough of each borrowed asset to cover the fee.
func (s *Service) NewRepayingReceiver(account crypto.Address) *RepayingReceiver {
	return &RepayingReceiver{
		account: account,
		custody: s.engine.Custody(),
		assets:  s.engine.AssetService,
	}
}

func (r *RepayingReceiver) Address() crypto.Address { return r.account }

func (r *RepayingReceiver) ExecuteOperation(ctx context.Context, asset crypto.Address, amount, fee *big.Int, _ crypto.Address, _ []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	svc, err := r.assets(asset)
	if err != nil {
		return err
	}
	owed := new(big.Int).Add(amount, fee)
	if err := svc.Transfer(r.account, r.custody, owed); err != nil {
		return fmt.Errorf("repay flash loan: %w", err)
	}
	return nil
}

// callbackReceiver raises active for the duration of the wrapped receiver's
// callback.
type callbackReceiver struct {
	pool.FlashReceiver
	active *atomic.Bool
}

func (r callbackReceiver) ExecuteOperation(ctx context.Context, asset crypto.Address, amount, fee *big.Int, initiator crypto.Address, params []byte) error {
	r.active.Store(true)
	defer r.active.Store(false)
	return r.FlashReceiver.ExecuteOperation(ctx, asset, amount, fee, initiator, params)
}
