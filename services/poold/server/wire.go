package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"basketpool/crypto"
	"basketpool/native/pool"
	"basketpool/services/poold"
)

const maxBodyBytes = 1 << 20

type depositRequest struct {
	Amounts []string `json:"amounts"`
}

type redeemRequest struct {
	Shares string `json:"shares"`
}

type borrowRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Term   string `json:"term"`
}

type flashRequest struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
	Params   string `json:"params,omitempty"`
}

type forceRepayRequest struct {
	Borrower string `json:"borrower"`
}

type termsRequest struct {
	Term     string `json:"term"`
	Duration uint64 `json:"duration"`
	RateBps  uint64 `json:"rateBps"`
}

type flashFeeRequest struct {
	FeeBps uint64 `json:"feeBps"`
}

type withdrawRequest struct {
	Asset string `json:"asset"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type bindShareRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Admin  string `json:"admin"`
}

type approveRequest struct {
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type nativeRequest struct {
	Amount string `json:"amount"`
}

type poolView struct {
	Asset         string `json:"asset"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	TotalDeposits string `json:"totalDeposits"`
	TotalBorrowed string `json:"totalBorrowed"`
	Available     string `json:"available"`
	TotalFees     string `json:"totalFees"`
	AdminFees     string `json:"adminFees"`
	HolderFees    string `json:"holderFees"`
}

type loanView struct {
	Borrower   string `json:"borrower"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
	BorrowTime uint64 `json:"borrowTime"`
	Term       string `json:"term"`
	Fee        string `json:"fee,omitempty"`
	TotalDue   string `json:"totalDue,omitempty"`
	MaturesAt  uint64 `json:"maturesAt,omitempty"`
	Matured    bool   `json:"matured"`
}

type termView struct {
	Term     string `json:"term"`
	Duration uint64 `json:"duration"`
	RateBps  uint64 `json:"rateBps"`
}

type shareView struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type holdingView struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance,omitempty"`
}

type accountView struct {
	Address  string        `json:"address"`
	Holdings []holdingView `json:"holdings"`
	Loan     *loanView     `json:"loan,omitempty"`
}

type overviewView struct {
	Height         uint64     `json:"height"`
	Custody        string     `json:"custody"`
	Paused         bool       `json:"paused"`
	Assets         []string   `json:"assets"`
	Ratios         []string   `json:"ratios"`
	TotalDeposits  string     `json:"totalDeposits"`
	TotalAvailable string     `json:"totalAvailable"`
	ActiveLoans    int        `json:"activeLoans"`
	FlashFeeBps    uint64     `json:"flashFeeBps"`
	Share          *shareView `json:"share,omitempty"`
	Pools          []poolView `json:"pools"`
}

type depositResponse struct {
	Units   string   `json:"units"`
	Shares  string   `json:"shares"`
	Amounts []string `json:"amounts"`
}

type redeemResponse struct {
	Shares  string   `json:"shares"`
	Amounts []string `json:"amounts"`
	Fees    []string `json:"fees"`
}

type settlementResponse struct {
	Loan     loanView `json:"loan"`
	Fee      string   `json:"fee"`
	Returned string   `json:"returned"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

// parseAmount accepts a base-10 unsigned integer that fits in 256 bits.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", errBadRequest, field)
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return parsed.ToBig(), nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("%w: %s is the zero address", errBadRequest, field)
	}
	return addr, nil
}

func parseTerm(value string) (pool.Term, error) {
	term, err := pool.ParseTerm(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return term, nil
}

func parseParams(value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: params must be hex: %v", errBadRequest, err)
	}
	return raw, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amountStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = amountString(v)
	}
	return out
}

func addressStrings(addrs []crypto.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func poolViewFrom(p *pool.AssetPool) poolView {
	return poolView{
		Asset:         p.Asset.String(),
		Symbol:        p.Symbol,
		Decimals:      p.Decimals,
		TotalDeposits: amountString(p.TotalDeposits),
		TotalBorrowed: amountString(p.TotalBorrowed),
		Available:     amountString(pool.AvailableLiquidity(p)),
		TotalFees:     amountString(p.TotalFees),
		AdminFees:     amountString(p.AdminFees),
		HolderFees:    amountString(p.HolderFees),
	}
}

func loanViewFrom(loan *pool.Loan) loanView {
	return loanView{
		Borrower:   loan.Borrower.String(),
		Asset:      loan.Asset.String(),
		Amount:     amountString(loan.Amount),
		Collateral: amountString(loan.Collateral),
		BorrowTime: loan.BorrowTime,
		Term:       loan.Term.String(),
	}
}

func loanDueView(due *pool.LoanDue) *loanView {
	view := loanViewFrom(due.Loan)
	view.Fee = amountString(due.Fee)
	view.TotalDue = amountString(due.TotalDue)
	view.MaturesAt = due.MaturesAt
	view.Matured = due.Matured
	return &view
}

func termViews(terms map[pool.Term]pool.Terms) []termView {
	out := make([]termView, 0, len(terms))
	for term, row := range terms {
		out = append(out, termView{Term: term.String(), Duration: row.Duration, RateBps: row.RateBps})
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := pool.ParseTerm(out[i].Term)
		b, _ := pool.ParseTerm(out[j].Term)
		return a < b
	})
	return out
}

func shareViewFrom(info *poold.ShareInfo) *shareView {
	if info == nil {
		return nil
	}
	return &shareView{
		Address:     info.Address.String(),
		Name:        info.Name,
		Symbol:      info.Symbol,
		Decimals:    info.Decimals,
		TotalSupply: amountString(info.TotalSupply),
	}
}

func accountViewFrom(acct *poold.Account) accountView {
	view := accountView{Address: acct.Address.String(), Holdings: make([]holdingView, 0, len(acct.Holdings))}
	for _, h := range acct.Holdings {
		hv := holdingView{Token: h.Token.String(), Symbol: h.Symbol, Decimals: h.Decimals, Balance: amountString(h.Balance)}
		if h.Allowance != nil {
			hv.Allowance = h.Allowance.String()
		}
		view.Holdings = append(view.Holdings, hv)
	}
	if acct.Loan != nil {
		view.Loan = loanDueView(acct.Loan)
	}
	return view
}

func settlementFrom(s *pool.Settlement) settlementResponse {
	return settlementResponse{Loan: loanViewFrom(s.Loan), Fee: amountString(s.Fee), Returned: amountString(s.Returned)}
}
