package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"basketpool/core/events"
	"basketpool/crypto"
	"basketpool/native/access"
	nativecommon "basketpool/native/common"
	"basketpool/native/token"
)

// ModuleName is the pause key checked before value-moving operations.
const ModuleName = "pool"

// Basket size bounds.
const (
	MinAssets = 2
	MaxAssets = 10
)

// Operation names used by the access policy, metrics and logs.
const (
	OpInitialize        = "initialize"
	OpDeposit           = "deposit"
	OpRedeem            = "redeem"
	OpBorrow            = "borrow"
	OpRepay             = "repay"
	OpForceRepay        = "force_repay"
	OpFlashBorrow       = "flash_borrow"
	OpBindShareToken    = "bind_share_token"
	OpSetLoanTerms      = "set_loan_terms"
	OpSetFlashFee       = "set_flash_fee"
	OpWithdrawAdminFees = "withdraw_admin_fees"
	OpSetPaused         = "set_paused"
)

// pausable lists the value-moving operations refused while the module is
// paused.
var pausable = map[string]bool{
	OpDeposit:     true,
	OpRedeem:      true,
	OpBorrow:      true,
	OpRepay:       true,
	OpForceRepay:  true,
	OpFlashBorrow: true,
}

// DefaultPolicy gates the administrative surface on capabilities held over
// the pool custody address.
func DefaultPolicy() access.Policy {
	return access.Policy{
		OpBindShareToken:    {access.RoleAdmin},
		OpForceRepay:        {access.RoleAdmin},
		OpSetLoanTerms:      {access.RoleAdmin},
		OpSetFlashFee:       {access.RoleAdmin},
		OpWithdrawAdminFees: {access.RoleAdmin},
		OpSetPaused:         {access.RolePauser},
	}
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	Snapshot() int
	RevertToSnapshot(revid int)
}

type roleRegistry interface {
	access.View
	Grant(scope crypto.Address, role access.Role, account crypto.Address) error
}

// Config describes a pool at construction time. Assets and Ratios are paired
// by index and fixed for the life of the pool.
type Config struct {
	Custody crypto.Address
	Admin   crypto.Address
	Factory token.ShareFactory
	Assets  []token.AssetService
	Ratios  []*big.Int
	Params  Params
	// Tokens, when set, has its events held back until the operation that
	// raised them commits.
	Tokens TokenEvents
}

// TokenEvents is implemented by token.Ledger.
type TokenEvents interface {
	Redirect(events.Emitter) events.Emitter
}

// Engine orchestrates basket deposits, redemptions, loans and flash loans
// against per-asset pool records held in journaled state.
type Engine struct {
	state       engineState
	roles       roleRegistry
	custody     crypto.Address
	admin       crypto.Address
	factory     token.ShareFactory
	tokens      TokenEvents
	assets      []token.AssetService
	index       map[string]int
	ratios      []*big.Int
	params      Params
	policy      access.Policy
	blockHeight uint64
	emitter     events.Emitter
	pending     *events.Buffer
	pauses      nativecommon.PauseView
	busy        atomic.Bool
}

// NewEngine validates cfg and builds an engine over state. Call Initialize
// before any other operation.
func NewEngine(state engineState, roles roleRegistry, cfg Config) (*Engine, error) {
	if state == nil || roles == nil {
		return nil, ErrNilState
	}
	if n := len(cfg.Assets); n < MinAssets || n > MaxAssets {
		return nil, fmt.Errorf("%w: basket needs %d-%d assets, got %d", ErrInvalidConfiguration, MinAssets, MaxAssets, n)
	}
	if len(cfg.Ratios) != len(cfg.Assets) {
		return nil, fmt.Errorf("%w: %d ratios for %d assets", ErrInvalidConfiguration, len(cfg.Ratios), len(cfg.Assets))
	}
	if cfg.Custody.IsZero() {
		return nil, fmt.Errorf("%w: custody address required", ErrInvalidConfiguration)
	}
	if cfg.Admin.IsZero() {
		return nil, fmt.Errorf("%w: admin address required", ErrInvalidConfiguration)
	}
	if cfg.Factory == nil || cfg.Factory.Address().IsZero() {
		return nil, fmt.Errorf("%w: share token factory required", ErrInvalidConfiguration)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(cfg.Assets))
	ratios := make([]*big.Int, len(cfg.Ratios))
	for i, asset := range cfg.Assets {
		if asset == nil || asset.Address().IsZero() {
			return nil, fmt.Errorf("%w: asset %d not set", ErrInvalidConfiguration, i)
		}
		if _, dup := index[asset.Address().Key()]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidConfiguration, asset.Address())
		}
		index[asset.Address().Key()] = i
		ratio := cfg.Ratios[i]
		if ratio == nil || ratio.Sign() <= 0 {
			return nil, fmt.Errorf("%w: ratio for %s must be positive", ErrInvalidConfiguration, asset.Symbol())
		}
		ratios[i] = new(big.Int).Set(ratio)
	}
	return &Engine{
		state:   state,
		roles:   roles,
		custody: cfg.Custody,
		admin:   cfg.Admin,
		factory: cfg.Factory,
		tokens:  cfg.Tokens,
		assets:  append([]token.AssetService(nil), cfg.Assets...),
		index:   index,
		ratios:  ratios,
		params:  cfg.Params.Clone(),
		policy:  DefaultPolicy(),
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the sink for events of successful operations.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses adds an external pause source to the pool's own pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetPolicy replaces the capability policy.
func (e *Engine) SetPolicy(policy access.Policy) {
	if e == nil || policy == nil {
		return
	}
	e.policy = policy
}

// SetBlockHeight records the time counter used for loan origination and
// maturity checks.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

func (e *Engine) BlockHeight() uint64 {
	if e == nil {
		return 0
	}
	return e.blockHeight
}

// Custody returns the account holding the pooled assets.
func (e *Engine) Custody() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.custody
}

type statePause struct{ e *Engine }

func (p statePause) IsPaused(module string) bool {
	if module != ModuleName {
		return false
	}
	meta, err := p.e.loadMeta()
	return err == nil && meta.Paused
}

func (e *Engine) emit(evt events.Event) {
	if e.pending != nil {
		e.pending.Emit(evt)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

// run executes fn as a single all-or-nothing operation. Nested calls fail
// with ErrReentrant. On error every state write made by fn, token movements
// included, is reverted and buffered events, token events included, are
// dropped.
func (e *Engine) run(ctx context.Context, op string, caller crypto.Address, fn func() error) (err error) {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	defer e.busy.Store(false)

	if pausable[op] {
		if err := nativecommon.Guard(nativecommon.Pauses{statePause{e}, e.pauses}, ModuleName); err != nil {
			return err
		}
	}
	if err := e.policy.Check(e.roles, e.custody, op, caller); err != nil {
		return err
	}

	snap := e.state.Snapshot()
	buf := &events.Buffer{}
	e.pending = buf
	tokenBuf := &events.Buffer{}
	var tokenSink events.Emitter
	if e.tokens != nil {
		tokenSink = e.tokens.Redirect(tokenBuf)
	}
	defer func() {
		e.pending = nil
		if e.tokens != nil {
			e.tokens.Redirect(tokenSink)
		}
		if r := recover(); r != nil {
			e.state.RevertToSnapshot(snap)
			panic(r)
		}
		if err != nil {
			e.state.RevertToSnapshot(snap)
			buf.Discard()
			tokenBuf.Discard()
			return
		}
		if tokenSink != nil {
			tokenBuf.Flush(tokenSink)
		}
		buf.Flush(e.emitter)
	}()
	return fn()
}

// Initialize writes the pool records, ratios and loan terms on first use and
// grants the configured admin the admin and pauser capabilities. On an
// already initialised state it verifies the stored basket matches the
// configuration.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.run(ctx, OpInitialize, e.Custody(), func() error {
		meta, err := e.loadMeta()
		switch {
		case err == nil:
			return e.verifyMeta(meta)
		case !errors.Is(err, ErrNotInitialized):
			return err
		}

		meta = &metaRecord{
			Assets:      make([][]byte, len(e.assets)),
			Ratios:      cloneInts(e.ratios),
			FlashFeeBps: e.params.FlashFeeBps,
		}
		addrs := make([]crypto.Address, len(e.assets))
		for i, asset := range e.assets {
			meta.Assets[i] = asset.Address().Bytes()
			addrs[i] = asset.Address()
			if err := e.putPool(newAssetPool(asset.Address(), asset.Symbol(), asset.Decimals())); err != nil {
				return err
			}
		}
		if err := e.putMeta(meta); err != nil {
			return err
		}
		if err := e.putTerms(e.params.Terms); err != nil {
			return err
		}
		for _, role := range []access.Role{access.RoleAdmin, access.RolePauser} {
			if err := e.roles.Grant(e.custody, role, e.admin); err != nil {
				return err
			}
		}
		e.emit(events.PoolBound{Custody: e.custody, Factory: e.factory.Address(), Admin: e.admin, Assets: addrs})
		e.emit(events.PoolRatiosConfigured{Assets: addrs, Ratios: cloneInts(e.ratios)})
		return nil
	})
}

func (e *Engine) verifyMeta(meta *metaRecord) error {
	if len(meta.Assets) != len(e.assets) || len(meta.Ratios) != len(e.ratios) {
		return fmt.Errorf("%w: stored basket has %d assets, configured %d", ErrInvalidConfiguration, len(meta.Assets), len(e.assets))
	}
	for i, asset := range e.assets {
		if !asset.Address().Equal(crypto.MustNewAddress(crypto.AssetPrefix, meta.Assets[i])) {
			return fmt.Errorf("%w: asset %d differs from stored basket", ErrInvalidConfiguration, i)
		}
		if meta.Ratios[i].Cmp(e.ratios[i]) != 0 {
			return fmt.Errorf("%w: ratio for %s is immutable (stored %s)", ErrInvalidConfiguration, asset.Symbol(), meta.Ratios[i])
		}
	}
	return nil
}

func (e *Engine) asset(addr crypto.Address) (token.AssetService, error) {
	idx, ok := e.index[addr.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, addr)
	}
	return e.assets[idx], nil
}

func (e *Engine) shareToken() (token.ShareService, error) {
	meta, err := e.loadMeta()
	if err != nil {
		return nil, err
	}
	if len(meta.Share) == 0 {
		return nil, fmt.Errorf("%w: share token not bound", ErrNotInitialized)
	}
	return e.factory.ShareToken(crypto.MustNewAddress(crypto.AssetPrefix, meta.Share))
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
