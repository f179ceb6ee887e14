package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"basketpool/core/events"
	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/services/poold"
	"basketpool/services/poold/auth"
)

// PoolService is the subset of poold.Service the HTTP API drives.
type PoolService interface {
	Deposit(ctx context.Context, caller crypto.Address, amounts []*big.Int) (*pool.DepositReceipt, error)
	Redeem(ctx context.Context, caller crypto.Address, shares *big.Int) (*pool.RedeemReceipt, error)
	Borrow(ctx context.Context, caller, asset crypto.Address, amount *big.Int, term pool.Term) (*pool.Loan, error)
	Repay(ctx context.Context, caller crypto.Address) (*pool.Settlement, error)
	ForceRepay(ctx context.Context, caller, borrower crypto.Address) (*pool.Settlement, error)
	FlashBorrow(ctx context.Context, caller, asset crypto.Address, amount *big.Int, receiver string, params []byte) (*big.Int, error)
	BindShareToken(ctx context.Context, caller crypto.Address, name, symbol string, admin crypto.Address) (crypto.Address, error)
	SetLoanTerms(ctx context.Context, caller crypto.Address, term pool.Term, duration, rateBps uint64) error
	SetFlashFeeBps(ctx context.Context, caller crypto.Address, feeBps uint64) error
	WithdrawAdminFees(ctx context.Context, caller, asset crypto.Address) (*big.Int, error)
	SetPaused(ctx context.Context, caller crypto.Address, paused bool) error
	ReceiveNative(ctx context.Context, from crypto.Address, amount *big.Int) error
	Approve(ctx context.Context, caller, asset, spender crypto.Address, amount *big.Int) error
	Transfer(ctx context.Context, caller, asset, to crypto.Address, amount *big.Int) error

	Overview() (*poold.Overview, error)
	Pools() ([]*pool.AssetPool, error)
	Pool(asset crypto.Address) (*pool.AssetPool, error)
	Loan(borrower crypto.Address) (*pool.LoanDue, error)
	LoanTerms() (map[pool.Term]pool.Terms, error)
	Share() (*poold.ShareInfo, error)
	Account(addr crypto.Address) (*poold.Account, error)
	Subscribe() (<-chan events.Event, func())
}

var _ PoolService = (*poold.Service)(nil)

// Config captures the dependencies required to construct the server.
type Config struct {
	Service        PoolService
	Verifier       *auth.Verifier
	RateLimit      RateLimit
	Logger         *slog.Logger
	RequestTimeout time.Duration
	// AnonymousRead leaves GET endpoints open to callers without a token.
	AnonymousRead bool
}

// Server exposes the pool over HTTP.
type Server struct {
	svc      PoolService
	verifier *auth.Verifier
	limiter  *rateLimiter
	logger   *slog.Logger
	timeout  time.Duration
	anonRead bool
	router   http.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	srv := &Server{
		svc:      cfg.Service,
		verifier: cfg.Verifier,
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   logger.With(slog.String("component", "http")),
		timeout:  timeout,
		anonRead: cfg.AnonymousRead,
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), "poold")
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.verifier != nil {
			api.Use(s.verifier.Middleware)
		}
		api.Use(s.limiter.Middleware)

		api.Group(func(read chi.Router) {
			if !s.anonRead {
				read.Use(auth.Require)
			}
			read.Get("/pools", s.handlePools)
			read.Get("/pools/{asset}", s.handlePool)
			read.Get("/loans/{borrower}", s.handleLoan)
			read.Get("/terms", s.handleTerms)
			read.Get("/share", s.handleShare)
			read.Get("/accounts/{addr}", s.handleAccount)
			read.Get("/events/stream", s.handleStream)
		})

		api.Group(func(write chi.Router) {
			write.Use(auth.Require)
			write.Use(chimw.Timeout(s.timeout))
			write.Post("/deposit", s.handleDeposit)
			write.Post("/redeem", s.handleRedeem)
			write.Post("/borrow", s.handleBorrow)
			write.Post("/repay", s.handleRepay)
			write.Post("/flash", s.handleFlash)
			write.Post("/native", s.handleNative)
			write.Post("/assets/{asset}/approve", s.handleApprove)
			write.Post("/assets/{asset}/transfer", s.handleTransfer)

			write.Route("/admin", func(admin chi.Router) {
				admin.Post("/bind-share", s.handleBindShare)
				admin.Post("/force-repay", s.handleForceRepay)
				admin.Post("/terms", s.handleSetTerms)
				admin.Post("/flash-fee", s.handleSetFlashFee)
				admin.Post("/withdraw-fees", s.handleWithdrawFees)
				admin.Post("/pause", s.handlePause)
			})
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	overview, err := s.svc.Overview()
	if err != nil {
		writeError(w, err)
		return
	}
	pools, err := s.svc.Pools()
	if err != nil {
		writeError(w, err)
		return
	}
	view := overviewView{
		Height:         overview.Height,
		Custody:        overview.Custody.String(),
		Paused:         overview.Paused,
		Assets:         addressStrings(overview.Assets),
		Ratios:         amountStrings(overview.Ratios),
		TotalDeposits:  amountString(overview.TotalDeposits),
		TotalAvailable: amountString(overview.TotalAvailable),
		ActiveLoans:    overview.ActiveLoans,
		FlashFeeBps:    overview.Params.FlashFeeBps,
		Share:          shareViewFrom(overview.Share),
		Pools:          make([]poolView, 0, len(pools)),
	}
	for _, p := range pools {
		view.Pools = append(view.Pools, poolViewFrom(p))
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Pool(asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolViewFrom(p))
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddress("borrower", chi.URLParam(r, "borrower"))
	if err != nil {
		writeError(w, err)
		return
	}
	due, err := s.svc.Loan(borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDueView(due))
}

func (s *Server) handleTerms(w http.ResponseWriter, _ *http.Request) {
	terms, err := s.svc.LoanTerms()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, termViews(terms))
}

func (s *Server) handleShare(w http.ResponseWriter, _ *http.Request) {
	info, err := s.svc.Share()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shareViewFrom(info))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	acct, err := s.svc.Account(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountViewFrom(acct))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount("amounts", raw)
		if err != nil {
			writeError(w, err)
			return
		}
		amounts[i] = amount
	}
	receipt, err := s.svc.Deposit(r.Context(), caller, amounts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		Units:   amountString(receipt.Units),
		Shares:  amountString(receipt.Shares),
		Amounts: amountStrings(receipt.Amounts),
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.svc.Redeem(r.Context(), caller, shares)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{
		Shares:  amountString(receipt.Shares),
		Amounts: amountStrings(receipt.Amounts),
		Fees:    amountStrings(receipt.Fees),
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	term, err := parseTerm(req.Term)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := s.svc.Borrow(r.Context(), caller, asset, amount, term)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanViewFrom(loan))
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	settlement, err := s.svc.Repay(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementFrom(settlement))
}

func (s *Server) handleForceRepay(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req forceRepayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	settlement, err := s.svc.ForceRepay(r.Context(), caller, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementFrom(settlement))
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req flashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := parseParams(req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	fee, err := s.svc.FlashBorrow(r.Context(), caller, asset, amount, req.Receiver, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fee": amountString(fee)})
}

func (s *Server) handleBindShare(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req bindShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	admin, err := parseAddress("admin", req.Admin)
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := s.svc.BindShareToken(r.Context(), caller, req.Name, req.Symbol, admin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"share": addr.String()})
}

func (s *Server) handleSetTerms(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req termsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	term, err := parseTerm(req.Term)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetLoanTerms(r.Context(), caller, term, req.Duration, req.RateBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, termView{Term: term.String(), Duration: req.Duration, RateBps: req.RateBps})
}

func (s *Server) handleSetFlashFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req flashFeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetFlashFeeBps(r.Context(), caller, req.FeeBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.svc.WithdrawAdminFees(r.Context(), caller, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amountString(amount)})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetPaused(r.Context(), caller, req.Paused); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleNative(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req nativeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.ReceiveNative(r.Context(), caller, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	var spender crypto.Address
	if req.Spender == "" {
		overview, err := s.svc.Overview()
		if err != nil {
			writeError(w, err)
			return
		}
		spender = overview.Custody
	} else if spender, err = parseAddress("spender", req.Spender); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Approve(r.Context(), caller, asset, spender, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"spender": spender.String(), "amount": amount.String()})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Transfer(r.Context(), caller, asset, to, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.String()})
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, err)
		return crypto.Address{}, false
	}
	return caller, true
}
