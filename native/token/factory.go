package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/blake3"

	"basketpool/crypto"
	"basketpool/native/access"
)

// Factory creates share tokens at addresses derived from their metadata.
type Factory struct {
	ledger *Ledger
	addr   crypto.Address
}

func NewFactory(ledger *Ledger, addr crypto.Address) *Factory {
	return &Factory{ledger: ledger, addr: addr}
}

func (f *Factory) Address() crypto.Address { return f.addr }

// ShareAddress derives the address CreateShareToken would assign.
func ShareAddress(name, symbol string, owner crypto.Address) crypto.Address {
	h := blake3.New(32, nil)
	h.Write([]byte(strings.TrimSpace(name)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(symbol))))
	h.Write([]byte{'|'})
	h.Write(owner.Bytes())
	sum := h.Sum(nil)
	return crypto.MustNewAddress(crypto.AssetPrefix, sum[:crypto.AddressLength])
}

// CreateShareToken registers a new share token and makes owner its admin.
func (f *Factory) CreateShareToken(name, symbol string, owner crypto.Address) (ShareService, error) {
	if f == nil || f.ledger == nil {
		return nil, ErrNilState
	}
	if err := f.ledger.ready(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" || symbol == "" {
		return nil, fmt.Errorf("%w: share token needs a name and symbol", ErrInvalidMetadata)
	}
	if owner.IsZero() {
		return nil, ErrZeroAddress
	}
	if f.ledger.roles == nil {
		return nil, access.ErrNilState
	}
	addr := ShareAddress(name, symbol, owner)
	if _, err := f.ledger.record(addr); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenExists, addr)
	} else if !errors.Is(err, ErrUnknownToken) {
		return nil, err
	}
	rec := &tokenRecord{
		Kind:        kindShare,
		Name:        name,
		Symbol:      symbol,
		Decimals:    ShareDecimals,
		Owner:       append([]byte(nil), owner.Bytes()...),
		TotalSupply: big.NewInt(0),
	}
	if err := f.ledger.putRecord(addr, rec); err != nil {
		return nil, err
	}
	if err := f.ledger.roles.Grant(addr, access.RoleAdmin, owner); err != nil {
		return nil, err
	}
	return &Share{ledger: f.ledger, addr: addr, name: name, symbol: symbol, decimals: ShareDecimals}, nil
}

// ShareToken resolves a previously created share token.
func (f *Factory) ShareToken(addr crypto.Address) (ShareService, error) {
	if f == nil || f.ledger == nil {
		return nil, ErrNilState
	}
	share, err := f.ledger.Share(addr)
	if err != nil {
		return nil, err
	}
	return share, nil
}
