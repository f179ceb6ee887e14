package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"basketpool/core/events"
)

func newFlashHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, 1, 1)
	h.fund(acct(1), 1_000_000, 1_000_000)
	if _, err := h.engine.Deposit(h.ctx, acct(1), bis(1_000_000, 1_000_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	h.recorder.Reset()
	return h
}

func (h *harness) newReceiver(payFee bool) *flashReceiver {
	h.t.Helper()
	recv := &flashReceiver{addr: acct(0x77), asset: h.assets[0], payFee: payFee}
	if err := h.assets[0].Mint(recv.addr, bi(5_000)); err != nil {
		h.t.Fatalf("mint: %v", err)
	}
	return recv
}

func TestFlashBorrowSettles(t *testing.T) {
	h := newFlashHarness(t)
	recv := h.newReceiver(true)

	fee, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(1_000_000), recv, []byte("arb"))
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	if fee.Cmp(bi(900)) != 0 {
		t.Fatalf("fee %s, want 900", fee)
	}
	if recv.calls != 1 || string(recv.seen.params) != "arb" || !recv.seen.initiator.Equal(acct(3)) {
		t.Fatalf("callback not invoked as expected")
	}
	h.expectBalance(0, custodyAddr, 1_000_900)
	h.expectBalance(0, recv.addr, 4_100)
	pool := h.pool(0)
	if pool.TotalBorrowed.Sign() != 0 {
		t.Fatalf("flash loan left principal outstanding")
	}
	if pool.AdminFees.Cmp(bi(99)) != 0 || pool.HolderFees.Cmp(bi(801)) != 0 || pool.TotalFees.Cmp(bi(900)) != 0 {
		t.Fatalf("fee split admin=%s holder=%s total=%s", pool.AdminFees, pool.HolderFees, pool.TotalFees)
	}
	if len(h.recorder.OfType(events.TypePoolFlashSettled)) != 1 {
		t.Fatalf("expected flash settled event")
	}
}

func TestFlashBorrowUnrepaidRollsBack(t *testing.T) {
	h := newFlashHarness(t)
	recv := h.newReceiver(false)
	before := h.balance(0, custodyAddr)

	_, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(500_000), recv, nil)
	if !errors.Is(err, ErrUnrepaidFlashLoan) {
		t.Fatalf("expected ErrUnrepaidFlashLoan, got %v", err)
	}
	if got := h.balance(0, custodyAddr); got.Cmp(before) != 0 {
		t.Fatalf("custody %s, want %s", got, before)
	}
	h.expectBalance(0, recv.addr, 5_000)
	if h.pool(0).TotalFees.Sign() != 0 {
		t.Fatalf("fees booked for failed flash loan")
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("failed flash loan emitted events")
	}
}

func TestFlashBorrowReceiverErrorRollsBack(t *testing.T) {
	h := newFlashHarness(t)
	recv := h.newReceiver(true)
	boom := errors.New("strategy failed")
	recv.hook = func(context.Context) error { return boom }

	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(10_000), recv, nil); !errors.Is(err, boom) {
		t.Fatalf("expected receiver error, got %v", err)
	}
	h.expectBalance(0, custodyAddr, 1_000_000)
	h.expectBalance(0, recv.addr, 5_000)
}

func TestFlashBorrowRejectsNestedCalls(t *testing.T) {
	h := newFlashHarness(t)
	recv := h.newReceiver(true)
	var nested error
	recv.hook = func(ctx context.Context) error {
		_, nested = h.engine.Deposit(ctx, recv.addr, bis(1, 1))
		return nil
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(10_000), recv, nil); err != nil {
		t.Fatalf("flash: %v", err)
	}
	if !errors.Is(nested, ErrReentrant) {
		t.Fatalf("nested deposit should fail with ErrReentrant, got %v", nested)
	}

	recv.hook = func(ctx context.Context) error {
		_, err := h.engine.FlashBorrow(ctx, recv.addr, assetAddr(0), bi(1), recv, nil)
		return err
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(10_000), recv, nil); !errors.Is(err, ErrReentrant) {
		t.Fatalf("expected propagated ErrReentrant, got %v", err)
	}
	// Queries stay available during a callback.
	recv.hook = func(context.Context) error {
		_, err := h.engine.Pool(assetAddr(0))
		return err
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(10_000), recv, nil); err != nil {
		t.Fatalf("query inside callback: %v", err)
	}
}

func TestFlashBorrowRejections(t *testing.T) {
	h := newFlashHarness(t)
	recv := h.newReceiver(true)
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(0), recv, nil); !errors.Is(err, ErrInsufficientInput) {
		t.Fatalf("expected ErrInsufficientInput, got %v", err)
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(1_000_001), recv, nil); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(4), bi(1), recv, nil); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
	if _, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(1), nil, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for nil receiver, got %v", err)
	}
	if recv.calls != 0 {
		t.Fatalf("receiver called for rejected flash loans")
	}
}

func TestFlashFeeFollowsAdminUpdate(t *testing.T) {
	h := newFlashHarness(t)
	if err := h.engine.SetFlashFeeBps(h.ctx, adminAddr, 100); err != nil {
		t.Fatalf("set flash fee: %v", err)
	}
	recv := h.newReceiver(true)
	fee, err := h.engine.FlashBorrow(h.ctx, acct(3), assetAddr(0), bi(100_000), recv, nil)
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	if fee.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("fee %s, want 1000", fee)
	}
}
