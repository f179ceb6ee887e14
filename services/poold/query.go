package poold

import (
	"errors"
	"math/big"

	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/native/token"
)

// Overview summarises the pool for dashboards.
type Overview struct {
	Height         uint64
	Custody        crypto.Address
	Paused         bool
	Assets         []crypto.Address
	Ratios         []*big.Int
	TotalDeposits  *big.Int
	TotalAvailable *big.Int
	ActiveLoans    int
	Params         pool.Params
	Share          *ShareInfo
}

type ShareInfo struct {
	Address     crypto.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// Holding is one token balance of an account.
type Holding struct {
	Token    crypto.Address
	Symbol   string
	Decimals uint8
	Balance  *big.Int
	// Allowance granted to the pool custody account. Nil for the share token.
	Allowance *big.Int
}

type Account struct {
	Address  crypto.Address
	Holdings []Holding
	Loan     *pool.LoanDue
}

func (s *Service) Overview() (*Overview, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	params, err := s.engine.Params()
	if err != nil {
		return nil, err
	}
	paused, err := s.engine.Paused()
	if err != nil {
		return nil, err
	}
	deposits, err := s.engine.TotalDeposits()
	if err != nil {
		return nil, err
	}
	available, err := s.engine.TotalAvailableLiquidity()
	if err != nil {
		return nil, err
	}
	loans, err := s.engine.Loans()
	if err != nil {
		return nil, err
	}
	share, err := s.shareInfoLocked()
	if err != nil && !errors.Is(err, pool.ErrNotInitialized) {
		return nil, err
	}
	return &Overview{
		Height:         s.heightLocked(),
		Custody:        s.engine.Custody(),
		Paused:         paused,
		Assets:         s.engine.Assets(),
		Ratios:         s.engine.Ratios(),
		TotalDeposits:  deposits,
		TotalAvailable: available,
		ActiveLoans:    len(loans),
		Params:         params,
		Share:          share,
	}, nil
}

func (s *Service) Pools() ([]*pool.AssetPool, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.engine.Pools()
}

func (s *Service) Pool(asset crypto.Address) (*pool.AssetPool, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.engine.Pool(asset)
}

// Loan reports the borrower's open loan and what repaying it would cost now.
func (s *Service) Loan(borrower crypto.Address) (*pool.LoanDue, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.engine.LoanDueAt(borrower, s.heightLocked())
}

func (s *Service) Loans() ([]*pool.Loan, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.engine.Loans()
}

func (s *Service) LoanTerms() (map[pool.Term]pool.Terms, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.engine.LoanTerms()
}

// Share returns the bound share token or pool.ErrNotInitialized.
func (s *Service) Share() (*ShareInfo, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return s.shareInfoLocked()
}

func (s *Service) shareInfoLocked() (*ShareInfo, error) {
	share, err := s.engine.ShareToken()
	if err != nil {
		return nil, err
	}
	supply, err := share.TotalSupply()
	if err != nil {
		return nil, err
	}
	return &ShareInfo{
		Address:     share.Address(),
		Name:        share.Name(),
		Symbol:      share.Symbol(),
		Decimals:    share.Decimals(),
		TotalSupply: supply,
	}, nil
}

// Account lists addr's basket asset and share balances and its open loan.
func (s *Service) Account(addr crypto.Address) (*Account, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	out := &Account{Address: addr}
	custody := s.engine.Custody()
	for _, assetAddr := range s.engine.Assets() {
		asset, err := s.ledger.Asset(assetAddr)
		if err != nil {
			return nil, err
		}
		balance, err := asset.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		allowance, err := asset.Allowance(addr, custody)
		if err != nil {
			return nil, err
		}
		out.Holdings = append(out.Holdings, holding(asset, balance, allowance))
	}
	if share, err := s.engine.ShareToken(); err == nil {
		balance, err := share.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		out.Holdings = append(out.Holdings, holding(share, balance, nil))
	} else if !errors.Is(err, pool.ErrNotInitialized) {
		return nil, err
	}
	due, err := s.engine.LoanDueAt(addr, s.heightLocked())
	switch {
	case err == nil:
		out.Loan = due
	case errors.Is(err, pool.ErrNoActiveLoan):
	default:
		return nil, err
	}
	return out, nil
}

type tokenMeta interface {
	Address() crypto.Address
	Symbol() string
	Decimals() uint8
}

var (
	_ tokenMeta = token.AssetService(nil)
	_ tokenMeta = token.ShareService(nil)
)

func holding(t tokenMeta, balance, allowance *big.Int) Holding {
	return Holding{
		Token:     t.Address(),
		Symbol:    t.Symbol(),
		Decimals:  t.Decimals(),
		Balance:   balance,
		Allowance: allowance,
	}
}
