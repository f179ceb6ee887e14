package pool

import "math/big"

const maxBps = 10_000

var basisPoints = big.NewInt(maxBps)

func bpsOf(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// CalculateFee prices a loan for its full configured term, independent of how
// long the loan actually stays open:
//
//	fee = max(amount*rate*duration / (10000*timeUnitsPerYear), amount*minimumFeeBps/10000)
func CalculateFee(amount *big.Int, terms Terms, timeUnitsPerYear, minimumFeeBps uint64) *big.Int {
	floor := bpsOf(amount, minimumFeeBps)
	if amount == nil || amount.Sign() <= 0 || timeUnitsPerYear == 0 {
		return floor
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(terms.RateBps))
	fee.Mul(fee, new(big.Int).SetUint64(terms.Duration))
	denom := new(big.Int).Mul(basisPoints, new(big.Int).SetUint64(timeUnitsPerYear))
	fee.Quo(fee, denom)
	if fee.Cmp(floor) < 0 {
		return floor
	}
	return fee
}

// SplitFee divides fee into the admin share, rounded down, and the holder
// share, which absorbs the rounding remainder.
func SplitFee(fee *big.Int, adminBps uint64) (admin, holder *big.Int) {
	if fee == nil || fee.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if adminBps > maxBps {
		adminBps = maxBps
	}
	admin = bpsOf(fee, adminBps)
	holder = new(big.Int).Sub(fee, admin)
	return admin, holder
}

// FlashFee is the fee owed for a flash loan of amount.
func FlashFee(amount *big.Int, flashFeeBps uint64) *big.Int {
	return bpsOf(amount, flashFeeBps)
}
