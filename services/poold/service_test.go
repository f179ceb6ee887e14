package poold

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	poolcfg "basketpool/config"
	"basketpool/core/events"
	"basketpool/crypto"
	"basketpool/integrations/audit"
	"basketpool/native/pool"
	"basketpool/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func account(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

var (
	alice = account(0x01)
	bob   = account(0x02)
	flash = account(0x03)
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	cfg      *poolcfg.Config
	db       storage.Database
	clock    *fakeClock
	recorder *events.Recorder
	audit    *audit.Store
	svc      *Service
	assets   []crypto.Address
	admin    crypto.Address
	custody  crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := poolcfg.Default()
	cfg.StorageBackend = storage.BackendMemory
	for _, asset := range cfg.Pool.Assets {
		for _, holder := range []crypto.Address{alice, bob, flash} {
			cfg.Genesis = append(cfg.Genesis, poolcfg.Balance{Account: holder.String(), Asset: asset.Address, Amount: "10000000"})
		}
	}
	require.NoError(t, cfg.Validate())

	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		cfg:      cfg,
		db:       storage.NewMemDB(),
		clock:    &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()},
		recorder: &events.Recorder{},
		audit:    store,
	}
	f.svc = f.start()
	for _, asset := range cfg.Pool.Assets {
		addr, err := poolcfg.ParseAddress(asset.Address)
		require.NoError(t, err)
		f.assets = append(f.assets, addr)
	}
	f.admin, err = poolcfg.ParseAddress(cfg.Pool.Admin)
	require.NoError(t, err)
	f.custody, err = poolcfg.ParseAddress(cfg.Pool.Custody)
	require.NoError(t, err)
	return f
}

func (f *fixture) start() *Service {
	f.t.Helper()
	svc, err := New(f.ctx, Options{
		Pool:  f.cfg,
		DB:    f.db,
		Clock: f.clock.Now,
		Audit: f.audit,
		Sinks: []events.Emitter{f.recorder},
	})
	require.NoError(f.t, err)
	return svc
}

func (f *fixture) approveAll(who crypto.Address, amount int64) {
	f.t.Helper()
	for _, asset := range f.assets {
		require.NoError(f.t, f.svc.Approve(f.ctx, who, asset, f.custody, big.NewInt(amount)))
	}
}

func (f *fixture) balance(who crypto.Address, asset crypto.Address) *big.Int {
	f.t.Helper()
	acct, err := f.svc.Account(who)
	require.NoError(f.t, err)
	for _, h := range acct.Holdings {
		if h.Token.Equal(asset) {
			return h.Balance
		}
	}
	f.t.Fatalf("no holding of %s", asset)
	return nil
}

func amounts(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestBootstrapSeedsGenesisOnce(t *testing.T) {
	f := newFixture(t)

	share, err := f.svc.Share()
	require.NoError(t, err)
	require.Equal(t, "BPS", share.Symbol)
	require.Equal(t, 0, share.TotalSupply.Sign())
	require.Equal(t, "10000000", f.balance(alice, f.assets[0]).String())

	records, err := f.audit.List(f.ctx, audit.Filter{Type: events.TypePoolBound})
	require.NoError(t, err)
	require.Len(t, records, 1)

	f.clock.Advance(90 * time.Second)
	restarted := f.start()
	require.EqualValues(t, 90, restarted.Height())
	f.svc = restarted
	require.Equal(t, "10000000", f.balance(alice, f.assets[0]).String())

	records, err = f.audit.List(f.ctx, audit.Filter{Type: events.TypePoolBound})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestDepositCommitsAndPublishes(t *testing.T) {
	f := newFixture(t)
	updates, cancel := f.svc.Subscribe()
	defer cancel()

	f.approveAll(alice, 1_000)
	receipt, err := f.svc.Deposit(f.ctx, alice, amounts(250, 500))
	require.NoError(t, err)
	require.EqualValues(t, 2, receipt.Units.Int64())
	require.Equal(t, "9999800", f.balance(alice, f.assets[0]).String())

	p, err := f.svc.Pool(f.assets[1])
	require.NoError(t, err)
	require.EqualValues(t, 400, p.TotalDeposits.Int64())

	require.Len(t, f.recorder.OfType(events.TypePoolDeposited), 1)
	var streamed []string
	for len(updates) > 0 {
		streamed = append(streamed, (<-updates).EventType())
	}
	require.Contains(t, streamed, events.TypePoolDeposited)

	records, err := f.audit.List(f.ctx, audit.Filter{Type: events.TypePoolDeposited})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.recorder.Reset()
	before, err := f.audit.Count(f.ctx)
	require.NoError(t, err)

	_, err = f.svc.Deposit(f.ctx, alice, amounts(100, 200))
	require.Error(t, err)
	require.Empty(t, f.recorder.Events())
	after, err := f.audit.Count(f.ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, "10000000", f.balance(alice, f.assets[0]).String())

	p, err := f.svc.Pool(f.assets[0])
	require.NoError(t, err)
	require.Equal(t, 0, p.TotalDeposits.Sign())
}

func TestLoanLifecycleFollowsClock(t *testing.T) {
	f := newFixture(t)
	f.approveAll(alice, 10_000_000)
	_, err := f.svc.Deposit(f.ctx, alice, amounts(1_000_000, 2_000_000))
	require.NoError(t, err)

	f.approveAll(bob, 10_000_000)
	f.clock.Advance(10 * time.Second)
	loan, err := f.svc.Borrow(f.ctx, bob, f.assets[0], big.NewInt(100_000), pool.TermShort)
	require.NoError(t, err)
	require.EqualValues(t, 10, loan.BorrowTime)

	_, err = f.svc.ForceRepay(f.ctx, f.admin, bob)
	require.ErrorIs(t, err, pool.ErrLoanNotExpired)

	due, err := f.svc.Loan(bob)
	require.NoError(t, err)
	require.False(t, due.Matured)

	f.clock.Advance(30 * 24 * time.Hour)
	due, err = f.svc.Loan(bob)
	require.NoError(t, err)
	require.True(t, due.Matured)

	settlement, err := f.svc.ForceRepay(f.ctx, f.admin, bob)
	require.NoError(t, err)
	require.Equal(t, due.Fee.String(), settlement.Fee.String())

	_, err = f.svc.Loan(bob)
	require.ErrorIs(t, err, pool.ErrNoActiveLoan)
}

func TestFlashBorrowThroughRegisteredReceiver(t *testing.T) {
	f := newFixture(t)
	f.approveAll(alice, 10_000_000)
	_, err := f.svc.Deposit(f.ctx, alice, amounts(1_000_000, 2_000_000))
	require.NoError(t, err)

	_, err = f.svc.FlashBorrow(f.ctx, alice, f.assets[0], big.NewInt(100_000), "loopback", nil)
	require.ErrorIs(t, err, ErrUnknownReceiver)

	require.NoError(t, f.svc.RegisterFlashReceiver("loopback", f.svc.NewRepayingReceiver(flash)))
	require.ErrorIs(t, f.svc.RegisterFlashReceiver("loopback", f.svc.NewRepayingReceiver(flash)), ErrReceiverExists)

	fee, err := f.svc.FlashBorrow(f.ctx, alice, f.assets[0], big.NewInt(100_000), "loopback", nil)
	require.NoError(t, err)
	require.EqualValues(t, 90, fee.Int64())
	require.Equal(t, "9999910", f.balance(flash, f.assets[0]).String())
	require.Len(t, f.recorder.OfType(events.TypePoolFlashSettled), 1)
}

// reenteringReceiver calls back into the service from inside its flash
// callback, then repays through inner unless failNested is set.
type reenteringReceiver struct {
	svc        *Service
	inner      *RepayingReceiver
	failNested bool
	nested     []error
}

func (r *reenteringReceiver) Address() crypto.Address { return r.inner.Address() }

func (r *reenteringReceiver) ExecuteOperation(ctx context.Context, asset crypto.Address, amount, fee *big.Int, initiator crypto.Address, params []byte) error {
	r.nested = r.nested[:0]
	_, err := r.svc.Repay(ctx, flash)
	r.nested = append(r.nested, err)
	_, err = r.svc.Deposit(context.Background(), flash, amounts(1, 2))
	r.nested = append(r.nested, err)
	_, err = r.svc.Pools()
	r.nested = append(r.nested, err)
	_, err = r.svc.Account(flash)
	r.nested = append(r.nested, err)
	if r.failNested {
		return r.nested[0]
	}
	return r.inner.ExecuteOperation(ctx, asset, amount, fee, initiator, params)
}

func TestFlashReceiverCannotReenterService(t *testing.T) {
	f := newFixture(t)
	f.approveAll(alice, 10_000_000)
	_, err := f.svc.Deposit(f.ctx, alice, amounts(1_000_000, 2_000_000))
	require.NoError(t, err)

	recv := &reenteringReceiver{svc: f.svc, inner: f.svc.NewRepayingReceiver(flash)}
	require.NoError(t, f.svc.RegisterFlashReceiver("nested", recv))

	borrow := func() (*big.Int, error) {
		type result struct {
			fee *big.Int
			err error
		}
		done := make(chan result, 1)
		go func() {
			fee, err := f.svc.FlashBorrow(f.ctx, alice, f.assets[0], big.NewInt(100_000), "nested", nil)
			done <- result{fee, err}
		}()
		select {
		case res := <-done:
			return res.fee, res.err
		case <-time.After(3 * time.Second):
			t.Fatal("flash borrow did not return")
			return nil, nil
		}
	}

	fee, err := borrow()
	require.NoError(t, err)
	require.EqualValues(t, 90, fee.Int64())
	require.Len(t, recv.nested, 4)
	for i, nestedErr := range recv.nested {
		require.ErrorIs(t, nestedErr, pool.ErrReentrant, "nested call %d", i)
	}
	require.Equal(t, "9999910", f.balance(flash, f.assets[0]).String())
	before, err := f.svc.Pool(f.assets[0])
	require.NoError(t, err)

	recv.failNested = true
	f.recorder.Reset()
	_, err = borrow()
	require.ErrorIs(t, err, pool.ErrReentrant)
	require.Empty(t, f.recorder.Events())
	require.Equal(t, "9999910", f.balance(flash, f.assets[0]).String())
	after, err := f.svc.Pool(f.assets[0])
	require.NoError(t, err)
	require.Equal(t, before.TotalDeposits.String(), after.TotalDeposits.String())
	require.Equal(t, before.HolderFees.String(), after.HolderFees.String())
}

func TestAdminOperationsAndPause(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.svc.SetPaused(f.ctx, alice, true), pool.ErrUnauthorized)
	require.NoError(t, f.svc.SetPaused(f.ctx, f.admin, true))

	f.approveAll(alice, 1_000)
	_, err := f.svc.Deposit(f.ctx, alice, amounts(100, 200))
	require.ErrorIs(t, err, pool.ErrModulePaused)

	require.NoError(t, f.svc.SetFlashFeeBps(f.ctx, f.admin, 25))
	require.NoError(t, f.svc.SetLoanTerms(f.ctx, f.admin, pool.TermLong, 1000, 900))
	overview, err := f.svc.Overview()
	require.NoError(t, err)
	require.True(t, overview.Paused)
	require.EqualValues(t, 25, overview.Params.FlashFeeBps)
	require.EqualValues(t, 900, overview.Params.Terms[pool.TermLong].RateBps)

	require.ErrorIs(t, f.svc.ReceiveNative(f.ctx, alice, big.NewInt(1)), pool.ErrNativeValueRejected)
}

func TestTransferSharesAndAssets(t *testing.T) {
	f := newFixture(t)
	f.approveAll(alice, 1_000)
	receipt, err := f.svc.Deposit(f.ctx, alice, amounts(100, 200))
	require.NoError(t, err)

	share, err := f.svc.Share()
	require.NoError(t, err)
	require.NoError(t, f.svc.Transfer(f.ctx, alice, share.Address, bob, receipt.Shares))
	require.Equal(t, receipt.Shares.String(), f.balance(bob, share.Address).String())

	require.NoError(t, f.svc.Transfer(f.ctx, alice, f.assets[1], bob, big.NewInt(5)))
	require.Equal(t, "10000005", f.balance(bob, f.assets[1]).String())

	redeemed, err := f.svc.Redeem(f.ctx, bob, receipt.Shares)
	require.NoError(t, err)
	require.EqualValues(t, 100, redeemed.Amounts[0].Int64())
}

func TestClosedServiceRejects(t *testing.T) {
	f := newFixture(t)
	f.svc.Close()
	_, err := f.svc.Deposit(f.ctx, alice, amounts(100, 200))
	require.True(t, errors.Is(err, ErrClosed))
}
