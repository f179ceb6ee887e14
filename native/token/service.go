package token

import (
	"math/big"

	"basketpool/crypto"
	"basketpool/native/access"
)

// AssetService is the value-transfer surface of an underlying asset token.
type AssetService interface {
	Address() crypto.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(account crypto.Address) (*big.Int, error)
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
}

// ShareService is the pooled share token. Mint and burn are capability gated.
type ShareService interface {
	Address() crypto.Address
	Name() string
	Symbol() string
	Decimals() uint8
	BalanceOf(account crypto.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	Mint(minter, to crypto.Address, amount *big.Int) error
	BurnFrom(burner, holder crypto.Address, amount *big.Int) error
	GrantRole(granter crypto.Address, role access.Role, account crypto.Address) error
}

// ShareFactory instantiates share tokens and resolves previously created ones.
type ShareFactory interface {
	Address() crypto.Address
	CreateShareToken(name, symbol string, owner crypto.Address) (ShareService, error)
	ShareToken(addr crypto.Address) (ShareService, error)
}
