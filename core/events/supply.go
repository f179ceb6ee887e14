package events

import (
	"math/big"

	"basketpool/core/types"
	"basketpool/crypto"
)

const (
	// TypeTokenSupply is emitted when a mint or burn changes a token's supply.
	TypeTokenSupply = "token.supply"

	SupplyReasonMint = "mint"
	SupplyReasonBurn = "burn"
)

// TokenSupply records a mint or burn against Holder. Token identifies the
// ledger entry; Symbol is informational since a share token and a basket
// asset may share one.
type TokenSupply struct {
	Token  crypto.Address
	Symbol string
	Holder crypto.Address
	Amount *big.Int
	Total  *big.Int
	Reason string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"token":  e.Token.String(),
		"holder": e.Holder.String(),
		"amount": formatAmount(e.Amount),
		"total":  formatAmount(e.Total),
	}
	if symbol := normalizeAsset(e.Symbol); symbol != "" {
		attrs["symbol"] = symbol
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
