package access

import (
	"errors"
	"fmt"
	"strings"

	"basketpool/crypto"
)

// Role names a capability held by an account over a subject address.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePauser Role = "pauser"
	RoleMinter Role = "minter"
	RoleBurner Role = "burner"
)

var (
	ErrUnauthorized = errors.New("access: unauthorized")
	ErrUnknownRole  = errors.New("access: unknown role")
	ErrNilState     = errors.New("access: state not configured")
	ErrZeroAccount  = errors.New("access: account must be set")
)

var rolePrefix = []byte("access/role/")

// Valid reports whether r is one of the known capabilities.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePauser, RoleMinter, RoleBurner:
		return true
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return role, nil
}

// View answers capability membership questions.
type View interface {
	HasRole(scope crypto.Address, role Role, account crypto.Address) (bool, error)
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Registry stores role membership in state so grants share the atomicity of
// the operation that made them.
type Registry struct {
	state registryState
}

func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func roleKey(scope crypto.Address, role Role, account crypto.Address) []byte {
	key := make([]byte, 0, len(rolePrefix)+len(role)+2*crypto.AddressLength+1)
	key = append(key, rolePrefix...)
	key = append(key, scope.Bytes()...)
	key = append(key, role...)
	key = append(key, '/')
	key = append(key, account.Bytes()...)
	return key
}

func (r *Registry) check(role Role, account crypto.Address) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if account.IsZero() {
		return ErrZeroAccount
	}
	return nil
}

// Grant gives account the role over scope. Granting twice is a no-op.
func (r *Registry) Grant(scope crypto.Address, role Role, account crypto.Address) error {
	if err := r.check(role, account); err != nil {
		return err
	}
	return r.state.KVPut(roleKey(scope, role, account), true)
}

// Revoke removes the role from account.
func (r *Registry) Revoke(scope crypto.Address, role Role, account crypto.Address) error {
	if err := r.check(role, account); err != nil {
		return err
	}
	return r.state.KVDelete(roleKey(scope, role, account))
}

func (r *Registry) HasRole(scope crypto.Address, role Role, account crypto.Address) (bool, error) {
	if err := r.check(role, account); err != nil {
		if errors.Is(err, ErrZeroAccount) {
			return false, nil
		}
		return false, err
	}
	var held bool
	ok, err := r.state.KVGet(roleKey(scope, role, account), &held)
	if err != nil {
		return false, err
	}
	return ok && held, nil
}
