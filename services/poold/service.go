package poold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	poolcfg "basketpool/config"
	"basketpool/core/events"
	"basketpool/core/state"
	"basketpool/crypto"
	"basketpool/integrations/audit"
	"basketpool/native/access"
	nativecommon "basketpool/native/common"
	"basketpool/native/pool"
	"basketpool/native/token"
	"basketpool/observability/metrics"
	"basketpool/observability/otel"
	"basketpool/storage"
)

const (
	OpApprove   = "approve"
	OpTransfer  = "transfer"
	opBootstrap = "bootstrap"
)

var genesisKey = []byte("poold/genesis")

var (
	ErrClosed          = errors.New("poold: service closed")
	ErrCommit          = errors.New("poold: commit failed")
	ErrUnknownReceiver = errors.New("poold: unknown flash receiver")
	ErrReceiverExists  = errors.New("poold: flash receiver already registered")
)

// operationKey marks contexts handed to code running inside execute.
type operationKey struct{}

type genesisRecord struct {
	UnixNano uint64
}

// Options wires a Service. Pool is required; everything else has a default.
type Options struct {
	Pool         *poolcfg.Config
	DB           storage.Database
	TimeUnit     time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
	Metrics      *metrics.PoolMetrics
	Audit        *audit.Store
	Sinks        []events.Emitter
	StreamBuffer int
}

// Service owns the pool state and applies operations one at a time. Every
// mutation runs against the journaled state and is committed to storage only
// when it succeeds; events reach subscribers after the commit.
//
// Calls made while a flash receiver callback is running fail with
// pool.ErrReentrant instead of waiting for the operation to finish.
type Service struct {
	mu       sync.RWMutex
	closed   bool
	callback atomic.Bool

	db      storage.Database
	state   *state.Manager
	roles   *access.Registry
	ledger  *token.Ledger
	factory *token.Factory
	engine  *pool.Engine
	pending *events.Buffer
	stream  *events.Broadcaster
	sinks   events.Multi
	audit   *audit.Store

	recvMu    sync.RWMutex
	receivers map[string]pool.FlashReceiver
	share     poolcfg.ShareConfig
	genesis   time.Time
	unit      time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	metrics   *metrics.PoolMetrics
	dropped   uint64
}

// New builds the pool from its genesis configuration. On first start it
// records the genesis time, seeds genesis balances and binds the configured
// share token; later starts verify the stored pool matches the configuration.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Pool == nil {
		return nil, errors.New("poold: pool configuration required")
	}
	cfg := opts.Pool
	db := opts.DB
	if db == nil {
		db = storage.NewMemDB()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	unit := opts.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	custody, err := poolcfg.ParseAddress(cfg.Pool.Custody)
	if err != nil {
		return nil, fmt.Errorf("pool custody: %w", err)
	}
	admin, err := poolcfg.ParseAddress(cfg.Pool.Admin)
	if err != nil {
		return nil, fmt.Errorf("pool admin: %w", err)
	}
	factoryAddr, err := poolcfg.ParseAddress(cfg.Pool.Factory)
	if err != nil {
		return nil, fmt.Errorf("pool factory: %w", err)
	}
	params, err := cfg.Pool.Params()
	if err != nil {
		return nil, err
	}
	ratios, err := cfg.Pool.Ratios()
	if err != nil {
		return nil, err
	}

	mgr := state.NewManager(db)
	roles := access.NewRegistry(mgr)
	ledger := token.NewLedger(mgr, roles)
	pending := &events.Buffer{}
	ledger.SetEmitter(pending)

	assets := make([]token.AssetService, len(cfg.Pool.Assets))
	for i, ac := range cfg.Pool.Assets {
		addr, err := poolcfg.ParseAddress(ac.Address)
		if err != nil {
			return nil, fmt.Errorf("pool asset %d: %w", i, err)
		}
		asset, err := ledger.RegisterAsset(addr, ac.Symbol, ac.Decimals)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", ac.Symbol, err)
		}
		assets[i] = asset
	}

	factory := token.NewFactory(ledger, factoryAddr)
	engine, err := pool.NewEngine(mgr, roles, pool.Config{
		Custody: custody,
		Admin:   admin,
		Factory: factory,
		Assets:  assets,
		Ratios:  ratios,
		Params:  params,
		Tokens:  ledger,
	})
	if err != nil {
		return nil, err
	}
	engine.SetEmitter(pending)
	if cfg.Pauses.Pool {
		engine.SetPauses(nativecommon.NewStaticPauses(pool.ModuleName))
	}

	stream := events.NewBroadcaster(opts.StreamBuffer)
	sinks := events.Multi{stream}
	for _, sink := range opts.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}

	s := &Service{
		db:        db,
		state:     mgr,
		roles:     roles,
		ledger:    ledger,
		factory:   factory,
		engine:    engine,
		pending:   pending,
		stream:    stream,
		sinks:     sinks,
		audit:     opts.Audit,
		receivers: make(map[string]pool.FlashReceiver),
		share:     cfg.Pool.Share,
		unit:      unit,
		clock:     clock,
		logger:    logger.With(slog.String("component", "poold")),
		metrics:   opts.Metrics,
	}
	if err := s.bootstrap(ctx, admin, cfg.Genesis); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) bootstrap(ctx context.Context, admin crypto.Address, balances []poolcfg.Balance) error {
	return s.execute(ctx, opBootstrap, func(ctx context.Context) error {
		if err := s.engine.Initialize(ctx); err != nil {
			return err
		}
		var record genesisRecord
		found, err := s.state.KVGet(genesisKey, &record)
		if err != nil {
			return err
		}
		if found {
			s.genesis = time.Unix(0, int64(record.UnixNano)).UTC()
			return nil
		}
		s.genesis = s.clock().UTC()
		for i, bal := range balances {
			if err := s.seed(bal); err != nil {
				return fmt.Errorf("genesis[%d]: %w", i, err)
			}
		}
		if name := s.share.Name; name != "" {
			shareAdmin := admin
			if s.share.Admin != "" {
				if shareAdmin, err = poolcfg.ParseAddress(s.share.Admin); err != nil {
					return fmt.Errorf("share admin: %w", err)
				}
			}
			if _, err := s.engine.BindShareToken(ctx, admin, s.factory, name, s.share.Symbol, shareAdmin); err != nil {
				return err
			}
		}
		return s.state.KVPut(genesisKey, genesisRecord{UnixNano: uint64(s.genesis.UnixNano())})
	})
}

func (s *Service) seed(bal poolcfg.Balance) error {
	account, err := poolcfg.ParseAddress(bal.Account)
	if err != nil {
		return err
	}
	assetAddr, err := poolcfg.ParseAddress(bal.Asset)
	if err != nil {
		return err
	}
	amount, err := poolcfg.ParseAmount(bal.Amount)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	asset, err := s.ledger.Asset(assetAddr)
	if err != nil {
		return err
	}
	return asset.Mint(account, amount)
}

// execute runs fn under the write lock, commits on success and publishes the
// events buffered by the operation.
func (s *Service) execute(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	if s.reentered(ctx) {
		return fmt.Errorf("%w: %s inside a running operation", pool.ErrReentrant, op)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	height := s.heightLocked()
	ctx = context.WithValue(ctx, operationKey{}, op)
	ctx, span := otel.StartSpan(ctx, op, attribute.Int64("pool.height", int64(height)))
	defer span.End()

	s.engine.SetBlockHeight(height)
	err = fn(ctx)
	if err == nil {
		if cerr := s.state.Commit(); cerr != nil {
			err = fmt.Errorf("%w: %v", ErrCommit, cerr)
		}
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		s.state.Discard()
		s.pending.Discard()
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Debug("pool operation failed",
			slog.String("op", op),
			slog.String("outcome", outcome),
			slog.Uint64("height", height),
			slog.Any("error", err))
	} else {
		s.publish(ctx, height)
		s.refreshGauges()
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
	return err
}

// reentered reports whether ctx belongs to a running operation or a flash
// receiver is mid-callback. Both hold the write lock.
func (s *Service) reentered(ctx context.Context) bool {
	if s.callback.Load() {
		return true
	}
	return ctx != nil && ctx.Value(operationKey{}) != nil
}

func (s *Service) rlock() error {
	if s.callback.Load() {
		return fmt.Errorf("%w: read during flash callback", pool.ErrReentrant)
	}
	s.mu.RLock()
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrCommit), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

func (s *Service) publish(ctx context.Context, height uint64) {
	recorder := &events.Recorder{}
	s.pending.Flush(recorder)
	evts := recorder.Events()
	if len(evts) == 0 {
		return
	}
	if s.audit != nil {
		if _, err := s.audit.RecordBatch(context.WithoutCancel(ctx), height, evts); err != nil {
			s.metrics.IncAuditFailure()
			s.logger.Error("audit write failed", slog.Uint64("height", height), slog.Any("error", err))
		}
	}
	for _, evt := range evts {
		s.metrics.IncEvent(evt.EventType())
		s.sinks.Emit(evt)
	}
	if dropped := s.stream.Dropped(); dropped > s.dropped {
		s.metrics.AddStreamDropped(int(dropped - s.dropped))
		s.dropped = dropped
	}
}

func (s *Service) refreshGauges() {
	if s.metrics == nil {
		return
	}
	pools, err := s.engine.Pools()
	if err != nil {
		return
	}
	for _, p := range pools {
		s.metrics.SetAsset(metrics.AssetSnapshot{
			Symbol:     p.Symbol,
			Deposits:   p.TotalDeposits,
			Borrowed:   p.TotalBorrowed,
			Available:  pool.AvailableLiquidity(p),
			AdminFees:  p.AdminFees,
			HolderFees: p.HolderFees,
		})
	}
	if loans, err := s.engine.Loans(); err == nil {
		s.metrics.SetActiveLoans(len(loans))
	}
	if share, err := s.engine.ShareToken(); err == nil {
		if supply, err := share.TotalSupply(); err == nil {
			s.metrics.SetShareSupply(supply)
		}
	}
}

func (s *Service) heightLocked() uint64 {
	if s.genesis.IsZero() {
		return 0
	}
	elapsed := s.clock().Sub(s.genesis)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / s.unit)
}

// Height returns the current time unit counted from genesis. The genesis
// time is fixed once New returns.
func (s *Service) Height() uint64 {
	return s.heightLocked()
}

// Subscribe streams committed events. The cancel function must be called.
func (s *Service) Subscribe() (<-chan events.Event, func()) {
	return s.stream.Subscribe()
}

// Close stops accepting operations and closes the underlying database.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.db.Close()
}

func (s *Service) Deposit(ctx context.Context, caller crypto.Address, amounts []*big.Int) (*pool.DepositReceipt, error) {
	var receipt *pool.DepositReceipt
	err := s.execute(ctx, pool.OpDeposit, func(ctx context.Context) (err error) {
		receipt, err = s.engine.Deposit(ctx, caller, amounts)
		return err
	})
	return receipt, err
}

func (s *Service) Redeem(ctx context.Context, caller crypto.Address, shares *big.Int) (*pool.RedeemReceipt, error) {
	var receipt *pool.RedeemReceipt
	err := s.execute(ctx, pool.OpRedeem, func(ctx context.Context) (err error) {
		receipt, err = s.engine.Redeem(ctx, caller, shares)
		return err
	})
	return receipt, err
}

func (s *Service) Borrow(ctx context.Context, caller, asset crypto.Address, amount *big.Int, term pool.Term) (*pool.Loan, error) {
	var loan *pool.Loan
	err := s.execute(ctx, pool.OpBorrow, func(ctx context.Context) (err error) {
		loan, err = s.engine.Borrow(ctx, caller, asset, amount, term)
		return err
	})
	return loan, err
}

func (s *Service) Repay(ctx context.Context, caller crypto.Address) (*pool.Settlement, error) {
	var settlement *pool.Settlement
	err := s.execute(ctx, pool.OpRepay, func(ctx context.Context) (err error) {
		settlement, err = s.engine.Repay(ctx, caller)
		return err
	})
	return settlement, err
}

func (s *Service) ForceRepay(ctx context.Context, caller, borrower crypto.Address) (*pool.Settlement, error) {
	var settlement *pool.Settlement
	err := s.execute(ctx, pool.OpForceRepay, func(ctx context.Context) (err error) {
		settlement, err = s.engine.ForceRepay(ctx, caller, borrower)
		return err
	})
	return settlement, err
}

// FlashBorrow lends amount to the receiver registered under name.
func (s *Service) FlashBorrow(ctx context.Context, caller, asset crypto.Address, amount *big.Int, receiverName string, params []byte) (*big.Int, error) {
	var fee *big.Int
	err := s.execute(ctx, pool.OpFlashBorrow, func(ctx context.Context) (err error) {
		s.recvMu.RLock()
		receiver, ok := s.receivers[receiverName]
		s.recvMu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownReceiver, receiverName)
		}
		fee, err = s.engine.FlashBorrow(ctx, caller, asset, amount, callbackReceiver{receiver, &s.callback}, params)
		return err
	})
	return fee, err
}

func (s *Service) BindShareToken(ctx context.Context, caller crypto.Address, name, symbol string, admin crypto.Address) (crypto.Address, error) {
	var addr crypto.Address
	err := s.execute(ctx, pool.OpBindShareToken, func(ctx context.Context) (err error) {
		addr, err = s.engine.BindShareToken(ctx, caller, s.factory, name, symbol, admin)
		return err
	})
	return addr, err
}

func (s *Service) SetLoanTerms(ctx context.Context, caller crypto.Address, term pool.Term, duration, rateBps uint64) error {
	return s.execute(ctx, pool.OpSetLoanTerms, func(ctx context.Context) error {
		return s.engine.SetLoanTerms(ctx, caller, term, duration, rateBps)
	})
}

func (s *Service) SetFlashFeeBps(ctx context.Context, caller crypto.Address, feeBps uint64) error {
	return s.execute(ctx, pool.OpSetFlashFee, func(ctx context.Context) error {
		return s.engine.SetFlashFeeBps(ctx, caller, feeBps)
	})
}

func (s *Service) WithdrawAdminFees(ctx context.Context, caller, asset crypto.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.execute(ctx, pool.OpWithdrawAdminFees, func(ctx context.Context) (err error) {
		amount, err = s.engine.WithdrawAdminFees(ctx, caller, asset)
		return err
	})
	return amount, err
}

func (s *Service) SetPaused(ctx context.Context, caller crypto.Address, paused bool) error {
	return s.execute(ctx, pool.OpSetPaused, func(ctx context.Context) error {
		return s.engine.SetPaused(ctx, caller, paused)
	})
}

// ReceiveNative always fails: the pool holds basket assets only.
func (s *Service) ReceiveNative(ctx context.Context, from crypto.Address, amount *big.Int) error {
	return s.engine.ReceiveNative(ctx, from, amount)
}

// Approve lets spender move caller's asset tokens. Depositors approve the
// custody account before Deposit.
func (s *Service) Approve(ctx context.Context, caller, asset, spender crypto.Address, amount *big.Int) error {
	return s.execute(ctx, OpApprove, func(context.Context) error {
		svc, err := s.ledger.Asset(asset)
		if err != nil {
			return err
		}
		return svc.Approve(caller, spender, amount)
	})
}

// Transfer moves caller's basket asset or share tokens to another account.
func (s *Service) Transfer(ctx context.Context, caller, asset, to crypto.Address, amount *big.Int) error {
	return s.execute(ctx, OpTransfer, func(context.Context) error {
		if svc, err := s.ledger.Asset(asset); err == nil {
			return svc.Transfer(caller, to, amount)
		}
		share, err := s.ledger.Share(asset)
		if err != nil {
			return err
		}
		return share.Transfer(caller, to, amount)
	})
}

// RegisterFlashReceiver makes receiver available to FlashBorrow under name.
func (s *Service) RegisterFlashReceiver(name string, receiver pool.FlashReceiver) error {
	if name == "" || receiver == nil {
		return fmt.Errorf("%w: receiver name and implementation required", pool.ErrInvalidConfiguration)
	}
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	if _, exists := s.receivers[name]; exists {
		return fmt.Errorf("%w: %q", ErrReceiverExists, name)
	}
	s.receivers[name] = receiver
	return nil
}

// FlashReceivers lists the registered receiver names and accounts.
func (s *Service) FlashReceivers() map[string]crypto.Address {
	s.recvMu.RLock()
	defer s.recvMu.RUnlock()
	out := make(map[string]crypto.Address, len(s.receivers))
	for name, r := range s.receivers {
		out[name] = r.Address()
	}
	return out
}
