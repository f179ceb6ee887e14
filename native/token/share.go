package token

import (
	"fmt"
	"math/big"

	"basketpool/crypto"
	"basketpool/native/access"
)

// Share is the pool share token. Supply only changes through holders of the
// minter and burner roles scoped to the share token's address.
type Share struct {
	ledger   *Ledger
	addr     crypto.Address
	name     string
	symbol   string
	decimals uint8
}

func (s *Share) Address() crypto.Address { return s.addr }
func (s *Share) Name() string            { return s.name }
func (s *Share) Symbol() string          { return s.symbol }
func (s *Share) Decimals() uint8         { return s.decimals }

func (s *Share) BalanceOf(account crypto.Address) (*big.Int, error) {
	return s.ledger.balance(s.addr, account)
}

func (s *Share) TotalSupply() (*big.Int, error) {
	rec, err := s.ledger.record(s.addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(rec.TotalSupply), nil
}

// Transfer moves shares between holders.
func (s *Share) Transfer(from, to crypto.Address, amount *big.Int) error {
	return s.ledger.move(s.addr, s.symbol, from, to, amount)
}

func (s *Share) require(role access.Role, account crypto.Address) error {
	if s.ledger.roles == nil {
		return access.ErrNilState
	}
	held, err := s.ledger.roles.HasRole(s.addr, role, account)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s lacks %s on %s", access.ErrUnauthorized, account, role, s.symbol)
	}
	return nil
}

func (s *Share) Mint(minter, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := s.require(access.RoleMinter, minter); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount.Sign() == 0 {
		return nil
	}
	return s.ledger.adjustSupply(s.addr, to, amount)
}

func (s *Share) BurnFrom(burner, holder crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := s.require(access.RoleBurner, burner); err != nil {
		return err
	}
	bal, err := s.BalanceOf(holder)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s shares, burning %s", ErrInsufficientBalance, holder, bal, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return s.ledger.adjustSupply(s.addr, holder, new(big.Int).Neg(amount))
}

// GrantRole lets an admin of the share token hand out capabilities on it.
func (s *Share) GrantRole(granter crypto.Address, role access.Role, account crypto.Address) error {
	if err := s.require(access.RoleAdmin, granter); err != nil {
		return err
	}
	return s.ledger.roles.Grant(s.addr, role, account)
}
