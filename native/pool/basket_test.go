package pool

import (
	"errors"
	"math/big"
	"testing"

	"basketpool/core/events"
)

func TestDepositPullsExactMultiple(t *testing.T) {
	h := newHarness(t, 100, 200)
	alice := acct(1)
	h.fund(alice, 350, 700)

	receipt, err := h.engine.Deposit(h.ctx, alice, bis(350, 700))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.Units.Cmp(bi(3)) != 0 {
		t.Fatalf("expected 3 units, got %s", receipt.Units)
	}
	if receipt.Amounts[0].Cmp(bi(300)) != 0 || receipt.Amounts[1].Cmp(bi(600)) != 0 {
		t.Fatalf("unexpected pull %v", receipt.Amounts)
	}
	wantShares := new(big.Int).Mul(bi(3), unit(18))
	if receipt.Shares.Cmp(wantShares) != 0 || h.shares(alice).Cmp(wantShares) != 0 {
		t.Fatalf("expected %s shares, receipt %s", wantShares, receipt.Shares)
	}
	h.expectBalance(0, alice, 50)
	h.expectBalance(1, alice, 100)
	h.expectBalance(0, custodyAddr, 300)
	if h.pool(0).TotalDeposits.Cmp(bi(300)) != 0 || h.pool(1).TotalDeposits.Cmp(bi(600)) != 0 {
		t.Fatalf("pool deposits not credited")
	}
	deposited := h.recorder.OfType(events.TypePoolDeposited)
	if len(deposited) != 1 {
		t.Fatalf("expected one deposit event, got %d", len(deposited))
	}
	if attrs := events.Project(deposited[0]).Attributes; attrs["amounts"] != "300,600" {
		t.Fatalf("deposit event amounts %q", attrs["amounts"])
	}
}

func TestDepositMintFloor(t *testing.T) {
	h := newHarness(t, 100, 200)
	alice := acct(1)
	h.fund(alice, 10_000, 10_000)

	if _, err := h.engine.Deposit(h.ctx, alice, bis(99, 5000)); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput below ratio, got %v", err)
	}
	if _, err := h.engine.Deposit(h.ctx, alice, bis(100)); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput for short vector, got %v", err)
	}
	if _, err := h.engine.Deposit(h.ctx, alice, []*big.Int{bi(100), nil}); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput for nil amount, got %v", err)
	}
	h.expectBalance(0, alice, 10_000)

	for k := int64(1); k <= 4; k++ {
		receipt, err := h.engine.Deposit(h.ctx, alice, bis(100*k, 200*k))
		if err != nil {
			t.Fatalf("deposit k=%d: %v", k, err)
		}
		if receipt.Units.Cmp(bi(k)) != 0 {
			t.Fatalf("k=%d minted %s units", k, receipt.Units)
		}
	}
}

func TestDepositFailsWithoutAllowance(t *testing.T) {
	h := newHarness(t, 100, 200)
	bob := acct(2)
	if err := h.assets[0].Mint(bob, bi(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.assets[1].Mint(bob, bi(200)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.assets[0].Approve(bob, custodyAddr, bi(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.engine.Deposit(h.ctx, bob, bis(100, 200)); err == nil {
		t.Fatalf("expected deposit to fail on missing allowance")
	}
	// The first asset's pull must have been reverted with the rest.
	h.expectBalance(0, bob, 100)
	h.expectBalance(0, custodyAddr, 0)
	if h.pool(0).TotalDeposits.Sign() != 0 {
		t.Fatalf("pool credited by failed deposit")
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed deposit emitted events")
	}
}

func TestDepositRequiresBoundShare(t *testing.T) {
	h := newUnboundHarness(t, 1, 1)
	h.fund(acct(1), 10, 10)
	if _, err := h.engine.Deposit(h.ctx, acct(1), bis(5, 5)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := h.engine.Redeem(h.ctx, acct(1), bi(1)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestDepositRedeemRoundTrip(t *testing.T) {
	for n := MinAssets; n <= MaxAssets; n++ {
		ratios := make([]int64, n)
		amounts := make([]int64, n)
		for i := range ratios {
			ratios[i] = int64(7 * (i + 1))
			amounts[i] = ratios[i] * 5
		}
		h := newHarness(t, ratios...)
		alice := acct(1)
		h.fund(alice, amounts...)

		receipt, err := h.engine.Deposit(h.ctx, alice, bis(amounts...))
		if err != nil {
			t.Fatalf("n=%d deposit: %v", n, err)
		}
		redeemed, err := h.engine.Redeem(h.ctx, alice, receipt.Shares)
		if err != nil {
			t.Fatalf("n=%d redeem: %v", n, err)
		}
		for i := range amounts {
			if redeemed.Amounts[i].Cmp(bi(amounts[i])) != 0 {
				t.Fatalf("n=%d asset %d: redeemed %s want %d", n, i, redeemed.Amounts[i], amounts[i])
			}
			h.expectBalance(i, alice, amounts[i])
			h.expectBalance(i, custodyAddr, 0)
		}
		if h.shares(alice).Sign() != 0 {
			t.Fatalf("n=%d shares left after full redemption", n)
		}
		h.checkInvariants()
	}
}

func TestRedeemProportionalWithTwoHolders(t *testing.T) {
	h := newHarness(t, 10, 30)
	alice, bob := acct(1), acct(2)
	h.fund(alice, 100, 300)
	h.fund(bob, 300, 900)

	if _, err := h.engine.Deposit(h.ctx, alice, bis(100, 300)); err != nil {
		t.Fatalf("deposit alice: %v", err)
	}
	bobReceipt, err := h.engine.Deposit(h.ctx, bob, bis(300, 900))
	if err != nil {
		t.Fatalf("deposit bob: %v", err)
	}
	half := new(big.Int).Quo(bobReceipt.Shares, bi(2))
	out, err := h.engine.Redeem(h.ctx, bob, half)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// bob redeems 15 of 40 units.
	if out.Amounts[0].Cmp(bi(150)) != 0 || out.Amounts[1].Cmp(bi(450)) != 0 {
		t.Fatalf("unexpected payout %v", out.Amounts)
	}
	if h.pool(0).TotalDeposits.Cmp(bi(250)) != 0 {
		t.Fatalf("deposits not reduced: %s", h.pool(0).TotalDeposits)
	}
	h.checkInvariants()
}

func TestRedeemRejectsBadAmounts(t *testing.T) {
	h := newHarness(t, 1, 1)
	alice := acct(1)
	h.fund(alice, 10, 10)
	receipt, err := h.engine.Deposit(h.ctx, alice, bis(10, 10))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.engine.Redeem(h.ctx, alice, bi(0)); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput for zero, got %v", err)
	}
	tooMany := new(big.Int).Add(receipt.Shares, bi(1))
	if _, err := h.engine.Redeem(h.ctx, alice, tooMany); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput above balance, got %v", err)
	}
	if _, err := h.engine.Redeem(h.ctx, acct(9), bi(1)); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput for non-holder, got %v", err)
	}
	if h.shares(alice).Cmp(receipt.Shares) != 0 {
		t.Fatalf("failed redemptions burned shares")
	}
}

func TestRedeemPaysHolderFees(t *testing.T) {
	h := newHarness(t, 1_000_000, 1_000_000)
	alice := acct(1)
	h.fund(alice, 1_000_000, 1_000_000)
	receipt, err := h.engine.Deposit(h.ctx, alice, bis(1_000_000, 1_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	recv := &flashReceiver{addr: acct(0x77), asset: h.assets[0], payFee: true}
	if err := h.assets[0].Mint(recv.addr, bi(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	fee, err := h.engine.FlashBorrow(h.ctx, alice, assetAddr(0), bi(1_000_000), recv, nil)
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	holderFees := new(big.Int).Set(h.pool(0).HolderFees)
	if holderFees.Sign() == 0 || fee.Sign() == 0 {
		t.Fatalf("expected holder fees to accrue")
	}
	h.recorder.Reset()

	out, err := h.engine.Redeem(h.ctx, alice, receipt.Shares)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	want := new(big.Int).Add(bi(1_000_000), holderFees)
	if out.Amounts[0].Cmp(want) != 0 || out.Fees[0].Cmp(holderFees) != 0 {
		t.Fatalf("redeem paid %s (fees %s), want %s", out.Amounts[0], out.Fees[0], want)
	}
	if out.Amounts[1].Cmp(bi(1_000_000)) != 0 {
		t.Fatalf("second asset paid %s", out.Amounts[1])
	}
	if h.pool(0).HolderFees.Sign() != 0 {
		t.Fatalf("holder fees not cleared")
	}
	if claimed := h.recorder.OfType(events.TypePoolFeeClaimed); len(claimed) != 1 {
		t.Fatalf("expected one fee claim event, got %d", len(claimed))
	}
	// The admin share stays in custody.
	if h.balance(0, custodyAddr).Cmp(h.pool(0).AdminFees) != 0 {
		t.Fatalf("custody should hold exactly the admin fees")
	}
}

func TestRedeemAfterWriteOffHitsCustodyShortfall(t *testing.T) {
	h, borrower := newLoanHarness(t)
	lender := acct(1)
	if _, err := h.engine.Borrow(h.ctx, borrower, assetAddr(0), bi(1_000_000), TermShort); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.engine.SetBlockHeight(shortDuration)
	if _, err := h.engine.ForceRepay(h.ctx, adminAddr, borrower); err != nil {
		t.Fatalf("force repay: %v", err)
	}
	// The written-off principal still counts toward deposits but has left custody.
	const custodyAfter = lenderDeposit + 4109 - 1_000_000
	h.expectBalance(0, custodyAddr, custodyAfter)
	if h.pool(0).TotalDeposits.Cmp(bi(lenderDeposit)) != 0 {
		t.Fatalf("deposits %s", h.pool(0).TotalDeposits)
	}

	shares := h.shares(lender)
	h.recorder.Reset()
	if _, err := h.engine.Redeem(h.ctx, lender, shares); !errors.Is(err, ErrInsufficientCustody) {
		t.Fatalf("expected ErrInsufficientCustody, got %v", err)
	}
	if h.shares(lender).Cmp(shares) != 0 {
		t.Fatalf("failed redeem burned shares")
	}
	h.expectBalance(0, custodyAddr, custodyAfter)
	h.expectBalance(1, custodyAddr, lenderDeposit)
	h.expectBalance(0, lender, 0)
	h.expectBalance(1, lender, 0)
	pool := h.pool(0)
	if pool.TotalDeposits.Cmp(bi(lenderDeposit)) != 0 || pool.HolderFees.Cmp(bi(3699)) != 0 {
		t.Fatalf("failed redeem changed pool deposits=%s holder fees=%s", pool.TotalDeposits, pool.HolderFees)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed redeem emitted events")
	}
	h.checkInvariants()
}

func TestTokenEventsFollowOperationOutcome(t *testing.T) {
	h := newHarness(t, 1, 1)
	bob := acct(2)
	h.fund(bob, 100, 0)
	h.tokens.Reset()

	// The first asset moves before the second pull fails.
	if _, err := h.engine.Deposit(h.ctx, bob, bis(100, 100)); err == nil {
		t.Fatalf("expected deposit to fail on the second asset")
	}
	if got := h.tokens.Events(); len(got) != 0 {
		t.Fatalf("reverted deposit leaked %d token events", len(got))
	}

	h.fund(bob, 0, 100)
	h.tokens.Reset()
	if _, err := h.engine.Deposit(h.ctx, bob, bis(100, 100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := len(h.tokens.OfType(events.TypeTransfer)); got != 2 {
		t.Fatalf("expected two transfer events, got %d", got)
	}
	if got := len(h.tokens.OfType(events.TypeTokenSupply)); got != 1 {
		t.Fatalf("expected one share mint event, got %d", got)
	}

	// Token movements made outside the engine still reach the ledger sink.
	h.tokens.Reset()
	if err := h.assets[0].Mint(bob, bi(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := len(h.tokens.OfType(events.TypeTokenSupply)); got != 1 {
		t.Fatalf("direct mint not emitted")
	}
}
