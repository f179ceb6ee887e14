package access

import (
	"fmt"

	"basketpool/crypto"
)

// Policy maps operation names to the capabilities a caller must hold, all of
// them, over the operation's scope. Operations absent from the policy are
// open to any caller.
type Policy map[string][]Role

// Requires returns the capabilities demanded by op.
func (p Policy) Requires(op string) []Role {
	if p == nil {
		return nil
	}
	return append([]Role(nil), p[op]...)
}

// Check evaluates the policy for op once, before the operation mutates
// anything.
func (p Policy) Check(view View, scope crypto.Address, op string, caller crypto.Address) error {
	required := p[op]
	if len(required) == 0 {
		return nil
	}
	if view == nil {
		return ErrNilState
	}
	for _, role := range required {
		held, err := view.HasRole(scope, role, caller)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, op, role)
		}
	}
	return nil
}

// Merge returns a copy of p with the entries of other layered on top.
func (p Policy) Merge(other Policy) Policy {
	out := make(Policy, len(p)+len(other))
	for op, roles := range p {
		out[op] = append([]Role(nil), roles...)
	}
	for op, roles := range other {
		out[op] = append([]Role(nil), roles...)
	}
	return out
}
