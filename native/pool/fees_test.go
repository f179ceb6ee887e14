package pool

import (
	"math/big"
	"testing"
)

func TestCalculateFee(t *testing.T) {
	year := uint64(blocksPerYear)
	cases := []struct {
		name    string
		amount  int64
		terms   Terms
		minimum uint64
		want    int64
	}{
		{"full year", 1_000_000, Terms{Duration: year, RateBps: 1500}, 0, 150_000},
		{"short term", 1_000_000, Terms{Duration: 30 * timeUnitsPerDay, RateBps: 500}, 10, 4109},
		{"minimum floor", 1_000_000, Terms{Duration: 1, RateBps: 1}, 10, 1_000},
		{"zero rate", 1_000, Terms{Duration: year, RateBps: 0}, 0, 0},
		{"zero duration", 1_000, Terms{Duration: 0, RateBps: 500}, 50, 5},
		{"truncates", 999, Terms{Duration: year, RateBps: 1}, 0, 0},
	}
	for _, tc := range cases {
		got := CalculateFee(big.NewInt(tc.amount), tc.terms, year, tc.minimum)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("%s: got %s want %d", tc.name, got, tc.want)
		}
	}
	if got := CalculateFee(nil, Terms{}, year, 10); got.Sign() != 0 {
		t.Fatalf("nil amount should cost nothing")
	}
}

func TestSplitFeeConserves(t *testing.T) {
	for _, fee := range []int64{0, 1, 7, 9, 99, 100, 4109, 123_456_789} {
		for _, bps := range []uint64{0, 1, 1000, 1100, 3333, 10_000, 20_000} {
			admin, holder := SplitFee(big.NewInt(fee), bps)
			if sum := new(big.Int).Add(admin, holder); sum.Cmp(big.NewInt(fee)) != 0 {
				t.Fatalf("fee %d bps %d: %s + %s != fee", fee, bps, admin, holder)
			}
			if admin.Sign() < 0 || holder.Sign() < 0 {
				t.Fatalf("negative share for fee %d bps %d", fee, bps)
			}
		}
	}
	admin, holder := SplitFee(big.NewInt(9), 1000)
	if admin.Sign() != 0 || holder.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("rounding remainder must go to holders, got %s/%s", admin, holder)
	}
}

func TestDistributeFeeAndLiquidity(t *testing.T) {
	pool := newAssetPool(assetAddr(0), "TKA", 18)
	pool.TotalDeposits = big.NewInt(1_000)
	pool.TotalBorrowed = big.NewInt(400)
	if got := AvailableLiquidity(pool); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("available %s", got)
	}
	admin, holder := DistributeFee(pool, big.NewInt(100), 1000)
	if admin.Cmp(big.NewInt(10)) != 0 || holder.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("split %s/%s", admin, holder)
	}
	if pool.TotalFees.Cmp(big.NewInt(100)) != 0 || pool.AdminFees.Cmp(big.NewInt(10)) != 0 || pool.HolderFees.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("pool fees not booked")
	}
	pool.TotalBorrowed = big.NewInt(2_000)
	if AvailableLiquidity(pool).Sign() != 0 {
		t.Fatalf("available liquidity must clamp at zero")
	}
	other := newAssetPool(assetAddr(1), "TKB", 6)
	other.TotalDeposits = big.NewInt(50)
	if got := AggregateTotalDeposits([]*AssetPool{pool, other}); got.Cmp(big.NewInt(1_050)) != 0 {
		t.Fatalf("aggregate deposits %s", got)
	}
	if got := AggregateAvailableLiquidity([]*AssetPool{pool, other, nil}); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("aggregate available %s", got)
	}
	if FlashFee(big.NewInt(1_000_000), 9).Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("flash fee")
	}
}

func TestTermParsing(t *testing.T) {
	for _, term := range AllTerms() {
		parsed, err := ParseTerm(" " + term.String() + " ")
		if err != nil || parsed != term {
			t.Fatalf("parse %s: %v", term, err)
		}
	}
	if _, err := ParseTerm("forever"); err == nil {
		t.Fatalf("expected unknown term error")
	}
	if Term(7).Valid() {
		t.Fatalf("term 7 should be invalid")
	}
}
