package pool

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"basketpool/core/events"
	"basketpool/core/state"
	"basketpool/crypto"
	"basketpool/native/access"
	"basketpool/native/token"
	"basketpool/storage"
)

var (
	custodyAddr = acct(0xC0)
	adminAddr   = acct(0xAD)
	factoryAddr = acct(0xFA)
)

func acct(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func assetAddr(i int) crypto.Address {
	return crypto.MustNewAddress(crypto.AssetPrefix, bytes.Repeat([]byte{byte(0x10 + i)}, crypto.AddressLength))
}

func bi(v int64) *big.Int { return big.NewInt(v) }

func bis(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	state    *state.Manager
	roles    *access.Registry
	ledger   *token.Ledger
	factory  *token.Factory
	assets   []*token.Asset
	engine   *Engine
	recorder *events.Recorder
	tokens   *events.Recorder
}

func newHarness(t *testing.T, ratios ...int64) *harness {
	t.Helper()
	return newHarnessWithParams(t, DefaultParams(), ratios...)
}

func newHarnessWithParams(t *testing.T, params Params, ratios ...int64) *harness {
	t.Helper()
	h := buildHarness(t, params, ratios...)
	if _, err := h.engine.BindShareToken(h.ctx, adminAddr, h.factory, "Basket Share", "BSK", adminAddr); err != nil {
		t.Fatalf("bind share token: %v", err)
	}
	h.recorder.Reset()
	return h
}

func newUnboundHarness(t *testing.T, ratios ...int64) *harness {
	t.Helper()
	return buildHarness(t, DefaultParams(), ratios...)
}

func buildHarness(t *testing.T, params Params, ratios ...int64) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	roles := access.NewRegistry(mgr)
	ledger := token.NewLedger(mgr, roles)
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		state:    mgr,
		roles:    roles,
		ledger:   ledger,
		factory:  token.NewFactory(ledger, factoryAddr),
		recorder: &events.Recorder{},
		tokens:   &events.Recorder{},
	}
	ledger.SetEmitter(h.tokens)
	services := make([]token.AssetService, len(ratios))
	for i := range ratios {
		asset, err := ledger.RegisterAsset(assetAddr(i), "TK"+string(rune('A'+i)), 18)
		if err != nil {
			t.Fatalf("register asset: %v", err)
		}
		h.assets = append(h.assets, asset)
		services[i] = asset
	}
	engine, err := NewEngine(mgr, roles, Config{
		Custody: custodyAddr,
		Admin:   adminAddr,
		Factory: h.factory,
		Assets:  services,
		Ratios:  bis(ratios...),
		Params:  params,
		Tokens:  ledger,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetEmitter(h.recorder)
	if err := engine.Initialize(h.ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.engine = engine
	return h
}

// fund mints amounts[i] of asset i to who and approves the custody account
// to spend all of it.
func (h *harness) fund(who crypto.Address, amounts ...int64) {
	h.t.Helper()
	for i, amount := range amounts {
		if amount == 0 {
			continue
		}
		asset := h.assets[i]
		if err := asset.Mint(who, bi(amount)); err != nil {
			h.t.Fatalf("mint: %v", err)
		}
		if err := asset.Approve(who, custodyAddr, new(big.Int).Lsh(bi(1), 200)); err != nil {
			h.t.Fatalf("approve: %v", err)
		}
	}
}

func (h *harness) balance(i int, who crypto.Address) *big.Int {
	h.t.Helper()
	bal, err := h.assets[i].BalanceOf(who)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) expectBalance(i int, who crypto.Address, want int64) {
	h.t.Helper()
	if got := h.balance(i, who); got.Cmp(bi(want)) != 0 {
		h.t.Fatalf("asset %d balance of %s: got %s want %d", i, who, got, want)
	}
}

func (h *harness) pool(i int) *AssetPool {
	h.t.Helper()
	pool, err := h.engine.Pool(assetAddr(i))
	if err != nil {
		h.t.Fatalf("pool: %v", err)
	}
	return pool
}

func (h *harness) shares(who crypto.Address) *big.Int {
	h.t.Helper()
	share, err := h.engine.ShareToken()
	if err != nil {
		h.t.Fatalf("share token: %v", err)
	}
	bal, err := share.BalanceOf(who)
	if err != nil {
		h.t.Fatalf("share balance: %v", err)
	}
	return bal
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	pools, err := h.engine.Pools()
	if err != nil {
		h.t.Fatalf("pools: %v", err)
	}
	for _, pool := range pools {
		if pool.TotalBorrowed.Cmp(pool.TotalDeposits) > 0 {
			h.t.Fatalf("%s: borrowed %s exceeds deposits %s", pool.Symbol, pool.TotalBorrowed, pool.TotalDeposits)
		}
		if new(big.Int).Add(pool.AdminFees, pool.HolderFees).Cmp(pool.TotalFees) > 0 {
			h.t.Fatalf("%s: claimable fees exceed total fees", pool.Symbol)
		}
	}
}

func unit(decimals int64) *big.Int {
	return new(big.Int).Exp(bi(10), bi(decimals), nil)
}

// flashReceiver returns the borrowed amount, plus the fee when payFee is set,
// to the pool custody account.
type flashReceiver struct {
	addr   crypto.Address
	asset  *token.Asset
	payFee bool
	hook   func(ctx context.Context) error
	calls  int
	seen   struct {
		amount, fee *big.Int
		initiator   crypto.Address
		params      []byte
	}
}

func (r *flashReceiver) Address() crypto.Address { return r.addr }

func (r *flashReceiver) ExecuteOperation(ctx context.Context, _ crypto.Address, amount, fee *big.Int, initiator crypto.Address, params []byte) error {
	r.calls++
	r.seen.amount, r.seen.fee, r.seen.initiator, r.seen.params = amount, fee, initiator, params
	if r.hook != nil {
		if err := r.hook(ctx); err != nil {
			return err
		}
	}
	back := new(big.Int).Set(amount)
	if r.payFee {
		back.Add(back, fee)
	}
	return r.asset.Transfer(r.addr, custodyAddr, back)
}
