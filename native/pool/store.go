package pool

import (
	"fmt"
	"math/big"

	"lukechampine.com/blake3"

	"basketpool/crypto"
)

var (
	metaKey      = []byte("pool/meta")
	termsKey     = []byte("pool/terms")
	loanIndexKey = []byte("pool/loans")
	poolPrefix   = []byte("pool/asset/")
	loanPrefix   = []byte("pool/loan/")
)

type metaRecord struct {
	Assets      [][]byte
	Ratios      []*big.Int
	Share       []byte
	FlashFeeBps uint64
	Paused      bool
}

type poolRecord struct {
	Asset         []byte
	Symbol        string
	Decimals      uint8
	TotalDeposits *big.Int
	TotalBorrowed *big.Int
	TotalFees     *big.Int
	AdminFees     *big.Int
	HolderFees    *big.Int
}

type termRecord struct {
	Term     uint8
	Duration uint64
	RateBps  uint64
}

type loanRecord struct {
	Borrower   []byte
	Asset      []byte
	Amount     *big.Int
	Collateral *big.Int
	BorrowTime uint64
	Term       uint8
}

func poolKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), poolPrefix...), asset.Bytes()...)
}

// loanKey hashes the borrower so keys have a fixed width regardless of the
// address encoding.
func loanKey(borrower crypto.Address) []byte {
	sum := blake3.Sum256(borrower.Bytes())
	return append(append([]byte(nil), loanPrefix...), sum[:]...)
}

func (e *Engine) loadMeta() (*metaRecord, error) {
	meta := new(metaRecord)
	ok, err := e.state.KVGet(metaKey, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return meta, nil
}

func (e *Engine) putMeta(meta *metaRecord) error {
	return e.state.KVPut(metaKey, meta)
}

func (e *Engine) loadPool(asset crypto.Address) (*AssetPool, error) {
	if _, ok := e.index[asset.Key()]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	rec := new(poolRecord)
	ok, err := e.state.KVGet(poolKey(asset), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &AssetPool{
		Asset:         crypto.MustNewAddress(crypto.AssetPrefix, rec.Asset),
		Symbol:        rec.Symbol,
		Decimals:      rec.Decimals,
		TotalDeposits: cloneInt(rec.TotalDeposits),
		TotalBorrowed: cloneInt(rec.TotalBorrowed),
		TotalFees:     cloneInt(rec.TotalFees),
		AdminFees:     cloneInt(rec.AdminFees),
		HolderFees:    cloneInt(rec.HolderFees),
	}, nil
}

func (e *Engine) putPool(pool *AssetPool) error {
	if pool.TotalBorrowed.Cmp(pool.TotalDeposits) > 0 {
		return fmt.Errorf("%w: %s borrowed %s exceeds deposits %s", ErrInsufficientLiquidity, pool.Symbol, pool.TotalBorrowed, pool.TotalDeposits)
	}
	return e.state.KVPut(poolKey(pool.Asset), &poolRecord{
		Asset:         pool.Asset.Bytes(),
		Symbol:        pool.Symbol,
		Decimals:      pool.Decimals,
		TotalDeposits: cloneInt(pool.TotalDeposits),
		TotalBorrowed: cloneInt(pool.TotalBorrowed),
		TotalFees:     cloneInt(pool.TotalFees),
		AdminFees:     cloneInt(pool.AdminFees),
		HolderFees:    cloneInt(pool.HolderFees),
	})
}

func (e *Engine) loadTerms() (map[Term]Terms, error) {
	var records []termRecord
	ok, err := e.state.KVGet(termsKey, &records)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	out := make(map[Term]Terms, len(records))
	for _, rec := range records {
		out[Term(rec.Term)] = Terms{Duration: rec.Duration, RateBps: rec.RateBps}
	}
	return out, nil
}

func (e *Engine) putTerms(terms map[Term]Terms) error {
	records := make([]termRecord, 0, len(terms))
	for _, term := range AllTerms() {
		row, ok := terms[term]
		if !ok {
			continue
		}
		records = append(records, termRecord{Term: uint8(term), Duration: row.Duration, RateBps: row.RateBps})
	}
	return e.state.KVPut(termsKey, records)
}

func (e *Engine) termsFor(term Term) (Terms, error) {
	terms, err := e.loadTerms()
	if err != nil {
		return Terms{}, err
	}
	row, ok := terms[term]
	if !ok {
		return Terms{}, fmt.Errorf("%w: unknown loan term %s", ErrInvalidConfiguration, term)
	}
	return row, nil
}

func (e *Engine) loadLoan(borrower crypto.Address) (*Loan, error) {
	rec := new(loanRecord)
	ok, err := e.state.KVGet(loanKey(borrower), rec)
	if err != nil {
		return nil, err
	}
	loan := &Loan{Borrower: borrower, Amount: big.NewInt(0), Collateral: big.NewInt(0)}
	if !ok {
		return loan, nil
	}
	loan.Amount = cloneInt(rec.Amount)
	loan.Collateral = cloneInt(rec.Collateral)
	loan.BorrowTime = rec.BorrowTime
	loan.Term = Term(rec.Term)
	if len(rec.Asset) == crypto.AddressLength {
		loan.Asset = crypto.MustNewAddress(crypto.AssetPrefix, rec.Asset)
	}
	return loan, nil
}

func (e *Engine) putLoan(loan *Loan) error {
	if err := e.state.KVPut(loanKey(loan.Borrower), &loanRecord{
		Borrower:   loan.Borrower.Bytes(),
		Asset:      loan.Asset.Bytes(),
		Amount:     cloneInt(loan.Amount),
		Collateral: cloneInt(loan.Collateral),
		BorrowTime: loan.BorrowTime,
		Term:       uint8(loan.Term),
	}); err != nil {
		return err
	}
	return e.state.KVAppend(loanIndexKey, loan.Borrower.Bytes())
}

func (e *Engine) clearLoan(borrower crypto.Address) error {
	return e.state.KVDelete(loanKey(borrower))
}
