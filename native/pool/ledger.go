package pool

import (
	"math/big"

	"basketpool/crypto"
)

// AvailableLiquidity is the amount of the pool's asset that can be lent or
// redeemed. It is clamped at zero; operations that would overdraw it are
// rejected before they mutate the pool.
func AvailableLiquidity(pool *AssetPool) *big.Int {
	if pool == nil || pool.TotalDeposits == nil {
		return big.NewInt(0)
	}
	available := new(big.Int).Set(pool.TotalDeposits)
	if pool.TotalBorrowed != nil {
		available.Sub(available, pool.TotalBorrowed)
	}
	if available.Sign() < 0 {
		return big.NewInt(0)
	}
	return available
}

// DistributeFee books fee against the pool record. The caller must already
// hold the value in custody.
func DistributeFee(pool *AssetPool, fee *big.Int, adminBps uint64) (admin, holder *big.Int) {
	admin, holder = SplitFee(fee, adminBps)
	if pool == nil || fee == nil || fee.Sign() <= 0 {
		return admin, holder
	}
	pool.AdminFees = new(big.Int).Add(cloneInt(pool.AdminFees), admin)
	pool.HolderFees = new(big.Int).Add(cloneInt(pool.HolderFees), holder)
	pool.TotalFees = new(big.Int).Add(cloneInt(pool.TotalFees), fee)
	return admin, holder
}

func AggregateAvailableLiquidity(pools []*AssetPool) *big.Int {
	total := big.NewInt(0)
	for _, pool := range pools {
		total.Add(total, AvailableLiquidity(pool))
	}
	return total
}

func AggregateTotalDeposits(pools []*AssetPool) *big.Int {
	total := big.NewInt(0)
	for _, pool := range pools {
		if pool != nil && pool.TotalDeposits != nil {
			total.Add(total, pool.TotalDeposits)
		}
	}
	return total
}

// TokenList projects the asset identifiers in pool order.
func TokenList(pools []*AssetPool) []crypto.Address {
	out := make([]crypto.Address, 0, len(pools))
	for _, pool := range pools {
		if pool != nil {
			out = append(out, pool.Asset)
		}
	}
	return out
}
