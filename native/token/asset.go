package token

import (
	"fmt"
	"math/big"

	"basketpool/core/events"
	"basketpool/crypto"
)

// Asset is a handle to an underlying fungible asset token.
type Asset struct {
	ledger   *Ledger
	addr     crypto.Address
	symbol   string
	decimals uint8
}

func (a *Asset) Address() crypto.Address { return a.addr }
func (a *Asset) Symbol() string          { return a.symbol }
func (a *Asset) Decimals() uint8         { return a.decimals }

func (a *Asset) BalanceOf(account crypto.Address) (*big.Int, error) {
	return a.ledger.balance(a.addr, account)
}

// TotalSupply returns the amount minted at genesis or through Mint.
func (a *Asset) TotalSupply() (*big.Int, error) {
	rec, err := a.ledger.record(a.addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(rec.TotalSupply), nil
}

func (a *Asset) Transfer(from, to crypto.Address, amount *big.Int) error {
	return a.ledger.move(a.addr, a.symbol, from, to, amount)
}

// Approve sets the amount spender may move out of owner's balance.
func (a *Asset) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	if err := a.ledger.ready(); err != nil {
		return err
	}
	if err := a.ledger.state.KVPut(allowanceKey(a.addr, owner, spender), amount); err != nil {
		return err
	}
	a.ledger.emit(events.Approval{Token: a.addr, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

func (a *Asset) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if err := a.ledger.ready(); err != nil {
		return nil, err
	}
	allowance := new(big.Int)
	if _, err := a.ledger.state.KVGet(allowanceKey(a.addr, owner, spender), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// TransferFrom moves amount from one account to another on behalf of spender.
// A spender moving its own balance needs no allowance.
func (a *Asset) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if spender.Equal(from) {
		return a.Transfer(from, to, amount)
	}
	allowance, err := a.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s, needs %s", ErrInsufficientAllowance, spender, allowance, amount)
	}
	if err := a.ledger.state.KVPut(allowanceKey(a.addr, from, spender), new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return a.Transfer(from, to, amount)
}

// Mint credits new supply to an account. Used to seed genesis balances.
func (a *Asset) Mint(to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if amount.Sign() == 0 {
		return nil
	}
	return a.ledger.adjustSupply(a.addr, to, amount)
}
