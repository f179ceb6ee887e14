package events

import (
	"math/big"
	"strconv"
	"strings"

	"basketpool/core/types"
	"basketpool/crypto"
)

const (
	TypePoolBound              = "pool.bound"
	TypePoolRatiosConfigured   = "pool.ratios_configured"
	TypePoolShareTokenBound    = "pool.share_token_bound"
	TypePoolDeposited          = "pool.deposited"
	TypePoolRedeemed           = "pool.redeemed"
	TypePoolFeeClaimed         = "pool.fee_claimed"
	TypePoolBorrowed           = "pool.borrowed"
	TypePoolRepaid             = "pool.repaid"
	TypePoolForceRepaid        = "pool.force_repaid"
	TypePoolAdminFeesWithdrawn = "pool.admin_fees_withdrawn"
	TypePoolFlashSettled       = "pool.flash_settled"
	TypePoolFeeDistributed     = "pool.fee_distributed"
	TypePoolLoanTermsUpdated   = "pool.loan_terms_updated"
	TypePoolFlashFeeUpdated    = "pool.flash_fee_updated"
	TypePoolPaused             = "pool.paused"
)

func joinAddresses(addrs []crypto.Address) string {
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = addr.String()
	}
	return strings.Join(parts, ",")
}

func joinAmounts(amounts []*big.Int) string {
	parts := make([]string, len(amounts))
	for i, amount := range amounts {
		parts[i] = formatAmount(amount)
	}
	return strings.Join(parts, ",")
}

// PoolBound records the asset set the pool custody account was created for.
type PoolBound struct {
	Custody crypto.Address
	Factory crypto.Address
	Admin   crypto.Address
	Assets  []crypto.Address
}

func (PoolBound) EventType() string { return TypePoolBound }

func (e PoolBound) Event() *types.Event {
	return &types.Event{Type: TypePoolBound, Attributes: map[string]string{
		"custody": e.Custody.String(),
		"factory": e.Factory.String(),
		"admin":   e.Admin.String(),
		"assets":  joinAddresses(e.Assets),
	}}
}

// PoolRatiosConfigured records the per-unit basket composition.
type PoolRatiosConfigured struct {
	Assets []crypto.Address
	Ratios []*big.Int
}

func (PoolRatiosConfigured) EventType() string { return TypePoolRatiosConfigured }

func (e PoolRatiosConfigured) Event() *types.Event {
	return &types.Event{Type: TypePoolRatiosConfigured, Attributes: map[string]string{
		"assets": joinAddresses(e.Assets),
		"ratios": joinAmounts(e.Ratios),
	}}
}

type PoolShareTokenBound struct {
	Share  crypto.Address
	Name   string
	Symbol string
	Admin  crypto.Address
}

func (PoolShareTokenBound) EventType() string { return TypePoolShareTokenBound }

func (e PoolShareTokenBound) Event() *types.Event {
	return &types.Event{Type: TypePoolShareTokenBound, Attributes: map[string]string{
		"share":  e.Share.String(),
		"name":   strings.TrimSpace(e.Name),
		"symbol": normalizeAsset(e.Symbol),
		"admin":  e.Admin.String(),
	}}
}

// PoolDeposited carries the exact per-asset amounts pulled, which may be less
// than the amounts offered.
type PoolDeposited struct {
	Depositor crypto.Address
	Amounts   []*big.Int
	Shares    *big.Int
}

func (PoolDeposited) EventType() string { return TypePoolDeposited }

func (e PoolDeposited) Event() *types.Event {
	return &types.Event{Type: TypePoolDeposited, Attributes: map[string]string{
		"depositor": e.Depositor.String(),
		"amounts":   joinAmounts(e.Amounts),
		"shares":    formatAmount(e.Shares),
	}}
}

type PoolRedeemed struct {
	Redeemer crypto.Address
	Shares   *big.Int
	Amounts  []*big.Int
}

func (PoolRedeemed) EventType() string { return TypePoolRedeemed }

func (e PoolRedeemed) Event() *types.Event {
	return &types.Event{Type: TypePoolRedeemed, Attributes: map[string]string{
		"redeemer": e.Redeemer.String(),
		"shares":   formatAmount(e.Shares),
		"amounts":  joinAmounts(e.Amounts),
	}}
}

// PoolFeeClaimed is emitted per asset when a redemption pays out holder fees.
type PoolFeeClaimed struct {
	Holder crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

func (PoolFeeClaimed) EventType() string { return TypePoolFeeClaimed }

func (e PoolFeeClaimed) Event() *types.Event {
	return &types.Event{Type: TypePoolFeeClaimed, Attributes: map[string]string{
		"holder": e.Holder.String(),
		"asset":  e.Asset.String(),
		"amount": formatAmount(e.Amount),
	}}
}

type PoolBorrowed struct {
	Borrower   crypto.Address
	Asset      crypto.Address
	Amount     *big.Int
	Collateral *big.Int
	Term       string
	Height     uint64
}

func (PoolBorrowed) EventType() string { return TypePoolBorrowed }

func (e PoolBorrowed) Event() *types.Event {
	return &types.Event{Type: TypePoolBorrowed, Attributes: map[string]string{
		"borrower":   e.Borrower.String(),
		"asset":      e.Asset.String(),
		"amount":     formatAmount(e.Amount),
		"collateral": formatAmount(e.Collateral),
		"term":       e.Term,
		"height":     strconv.FormatUint(e.Height, 10),
	}}
}

// PoolRepaid covers voluntary repayment. Returned is the collateral handed
// back after principal and fee.
type PoolRepaid struct {
	Borrower crypto.Address
	Asset    crypto.Address
	Amount   *big.Int
	Fee      *big.Int
	Returned *big.Int
}

func (PoolRepaid) EventType() string { return TypePoolRepaid }

func (e PoolRepaid) Event() *types.Event {
	return &types.Event{Type: TypePoolRepaid, Attributes: map[string]string{
		"borrower": e.Borrower.String(),
		"asset":    e.Asset.String(),
		"amount":   formatAmount(e.Amount),
		"fee":      formatAmount(e.Fee),
		"returned": formatAmount(e.Returned),
	}}
}

type PoolForceRepaid struct {
	Admin    crypto.Address
	Borrower crypto.Address
	Asset    crypto.Address
	Amount   *big.Int
	Fee      *big.Int
	Returned *big.Int
}

func (PoolForceRepaid) EventType() string { return TypePoolForceRepaid }

func (e PoolForceRepaid) Event() *types.Event {
	return &types.Event{Type: TypePoolForceRepaid, Attributes: map[string]string{
		"admin":    e.Admin.String(),
		"borrower": e.Borrower.String(),
		"asset":    e.Asset.String(),
		"amount":   formatAmount(e.Amount),
		"fee":      formatAmount(e.Fee),
		"returned": formatAmount(e.Returned),
	}}
}

type PoolAdminFeesWithdrawn struct {
	Admin  crypto.Address
	Asset  crypto.Address
	Amount *big.Int
}

func (PoolAdminFeesWithdrawn) EventType() string { return TypePoolAdminFeesWithdrawn }

func (e PoolAdminFeesWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypePoolAdminFeesWithdrawn, Attributes: map[string]string{
		"admin":  e.Admin.String(),
		"asset":  e.Asset.String(),
		"amount": formatAmount(e.Amount),
	}}
}

type PoolFlashSettled struct {
	Initiator crypto.Address
	Receiver  crypto.Address
	Asset     crypto.Address
	Amount    *big.Int
	Fee       *big.Int
}

func (PoolFlashSettled) EventType() string { return TypePoolFlashSettled }

func (e PoolFlashSettled) Event() *types.Event {
	return &types.Event{Type: TypePoolFlashSettled, Attributes: map[string]string{
		"initiator": e.Initiator.String(),
		"receiver":  e.Receiver.String(),
		"asset":     e.Asset.String(),
		"amount":    formatAmount(e.Amount),
		"fee":       formatAmount(e.Fee),
	}}
}

// PoolFeeDistributed reports how a single fee was split.
type PoolFeeDistributed struct {
	Asset       crypto.Address
	Source      string
	Fee         *big.Int
	AdminShare  *big.Int
	HolderShare *big.Int
}

func (PoolFeeDistributed) EventType() string { return TypePoolFeeDistributed }

func (e PoolFeeDistributed) Event() *types.Event {
	attrs := map[string]string{
		"asset":       e.Asset.String(),
		"fee":         formatAmount(e.Fee),
		"adminShare":  formatAmount(e.AdminShare),
		"holderShare": formatAmount(e.HolderShare),
	}
	if source := strings.TrimSpace(e.Source); source != "" {
		attrs["source"] = source
	}
	return &types.Event{Type: TypePoolFeeDistributed, Attributes: attrs}
}

type PoolLoanTermsUpdated struct {
	Term     string
	Duration uint64
	RateBps  uint64
}

func (PoolLoanTermsUpdated) EventType() string { return TypePoolLoanTermsUpdated }

func (e PoolLoanTermsUpdated) Event() *types.Event {
	return &types.Event{Type: TypePoolLoanTermsUpdated, Attributes: map[string]string{
		"term":     e.Term,
		"duration": strconv.FormatUint(e.Duration, 10),
		"rateBps":  strconv.FormatUint(e.RateBps, 10),
	}}
}

type PoolFlashFeeUpdated struct {
	Previous uint64
	Current  uint64
}

func (PoolFlashFeeUpdated) EventType() string { return TypePoolFlashFeeUpdated }

func (e PoolFlashFeeUpdated) Event() *types.Event {
	return &types.Event{Type: TypePoolFlashFeeUpdated, Attributes: map[string]string{
		"previousBps": strconv.FormatUint(e.Previous, 10),
		"feeBps":      strconv.FormatUint(e.Current, 10),
	}}
}

type PoolPaused struct {
	By     crypto.Address
	Paused bool
}

func (PoolPaused) EventType() string { return TypePoolPaused }

func (e PoolPaused) Event() *types.Event {
	return &types.Event{Type: TypePoolPaused, Attributes: map[string]string{
		"by":     e.By.String(),
		"paused": strconv.FormatBool(e.Paused),
	}}
}
