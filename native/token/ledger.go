package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"basketpool/core/events"
	"basketpool/crypto"
	"basketpool/native/access"
)

var (
	ErrNilState              = errors.New("token: state not configured")
	ErrInvalidAmount         = errors.New("token: amount must not be negative")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrTokenExists           = errors.New("token: token already registered")
	ErrInvalidMetadata       = errors.New("token: invalid metadata")
	ErrZeroAddress           = errors.New("token: zero address")
)

const (
	kindAsset uint8 = 1
	kindShare uint8 = 2
)

// ShareDecimals is the precision of every share token created by a Factory.
const ShareDecimals uint8 = 18

var (
	metaPrefix      = []byte("token/meta/")
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type tokenRecord struct {
	Kind        uint8
	Name        string
	Symbol      string
	Decimals    uint8
	Owner       []byte
	TotalSupply *big.Int
}

// Ledger keeps balances, allowances and supply for every token in journaled
// state, so a reverted pool operation also reverts its token movements.
type Ledger struct {
	state   ledgerState
	roles   *access.Registry
	emitter events.Emitter
}

func NewLedger(state ledgerState, roles *access.Registry) *Ledger {
	return &Ledger{state: state, roles: roles, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink for transfer, approval and supply events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Redirect installs emitter and returns the sink it replaced.
func (l *Ledger) Redirect(emitter events.Emitter) events.Emitter {
	previous := l.emitter
	l.SetEmitter(emitter)
	return previous
}

func (l *Ledger) emit(evt events.Event) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

func metaKey(token crypto.Address) []byte {
	return append(append([]byte(nil), metaPrefix...), token.Bytes()...)
}

func balanceKey(token, holder crypto.Address) []byte {
	key := append(append([]byte(nil), balancePrefix...), token.Bytes()...)
	return append(key, holder.Bytes()...)
}

func allowanceKey(token, owner, spender crypto.Address) []byte {
	key := append(append([]byte(nil), allowancePrefix...), token.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return nil
}

func (l *Ledger) record(token crypto.Address) (*tokenRecord, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	rec := new(tokenRecord)
	ok, err := l.state.KVGet(metaKey(token), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if rec.TotalSupply == nil {
		rec.TotalSupply = big.NewInt(0)
	}
	return rec, nil
}

func (l *Ledger) putRecord(token crypto.Address, rec *tokenRecord) error {
	return l.state.KVPut(metaKey(token), rec)
}

// RegisterAsset records an underlying asset token. Registering the same
// metadata twice returns the existing handle.
func (l *Ledger) RegisterAsset(addr crypto.Address, symbol string, decimals uint8) (*Asset, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if addr.IsZero() {
		return nil, ErrZeroAddress
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrInvalidMetadata)
	}
	existing, err := l.record(addr)
	switch {
	case err == nil:
		if existing.Kind != kindAsset || existing.Symbol != symbol || existing.Decimals != decimals {
			return nil, fmt.Errorf("%w: %s", ErrTokenExists, addr)
		}
	case errors.Is(err, ErrUnknownToken):
		rec := &tokenRecord{Kind: kindAsset, Name: symbol, Symbol: symbol, Decimals: decimals, TotalSupply: big.NewInt(0)}
		if err := l.putRecord(addr, rec); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return &Asset{ledger: l, addr: addr, symbol: symbol, decimals: decimals}, nil
}

// Asset resolves a registered asset token.
func (l *Ledger) Asset(addr crypto.Address) (*Asset, error) {
	rec, err := l.record(addr)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kindAsset {
		return nil, fmt.Errorf("%w: %s is not an asset token", ErrUnknownToken, addr)
	}
	return &Asset{ledger: l, addr: addr, symbol: rec.Symbol, decimals: rec.Decimals}, nil
}

// Share resolves a share token created by a Factory.
func (l *Ledger) Share(addr crypto.Address) (*Share, error) {
	rec, err := l.record(addr)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kindShare {
		return nil, fmt.Errorf("%w: %s is not a share token", ErrUnknownToken, addr)
	}
	return &Share{ledger: l, addr: addr, name: rec.Name, symbol: rec.Symbol, decimals: rec.Decimals}, nil
}

func (l *Ledger) balance(token, holder crypto.Address) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	bal := new(big.Int)
	if _, err := l.state.KVGet(balanceKey(token, holder), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (l *Ledger) setBalance(token, holder crypto.Address, amount *big.Int) error {
	return l.state.KVPut(balanceKey(token, holder), amount)
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) move(token crypto.Address, symbol string, from, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	fromBal, err := l.balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, fromBal, amount)
	}
	if amount.Sign() == 0 || from.Equal(to) {
		return nil
	}
	if err := l.setBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := l.balance(token, to)
	if err != nil {
		return err
	}
	if err := l.setBalance(token, to, toBal.Add(toBal, amount)); err != nil {
		return err
	}
	l.emit(events.Transfer{Token: token, Symbol: symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) adjustSupply(token crypto.Address, holder crypto.Address, delta *big.Int) error {
	rec, err := l.record(token)
	if err != nil {
		return err
	}
	bal, err := l.balance(token, holder)
	if err != nil {
		return err
	}
	bal.Add(bal, delta)
	if bal.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, holder)
	}
	rec.TotalSupply = new(big.Int).Add(rec.TotalSupply, delta)
	if err := l.setBalance(token, holder, bal); err != nil {
		return err
	}
	if err := l.putRecord(token, rec); err != nil {
		return err
	}
	reason := events.SupplyReasonMint
	if delta.Sign() < 0 {
		reason = events.SupplyReasonBurn
	}
	l.emit(events.TokenSupply{
		Token:  token,
		Symbol: rec.Symbol,
		Holder: holder,
		Amount: new(big.Int).Abs(delta),
		Total:  new(big.Int).Set(rec.TotalSupply),
		Reason: reason,
	})
	return nil
}
