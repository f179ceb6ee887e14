package events

import (
	"math/big"

	"basketpool/core/types"
	"basketpool/crypto"
)

const (
	// TypeTransfer is emitted for asset-token balance movements.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted when an owner changes a spender allowance.
	TypeApproval = "token.approval"
)

type Transfer struct {
	Token  crypto.Address
	Symbol string
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if symbol := normalizeAsset(e.Symbol); symbol != "" {
		attrs["symbol"] = symbol
	}
	attrs["token"] = e.Token.String()
	attrs["from"] = e.From.String()
	attrs["to"] = e.To.String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Token   crypto.Address
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: TypeApproval, Attributes: map[string]string{
		"token":   e.Token.String(),
		"owner":   e.Owner.String(),
		"spender": e.Spender.String(),
		"amount":  formatAmount(e.Amount),
	}}
}
