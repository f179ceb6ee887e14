package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses reports a module as paused when any of its views does.
type Pauses []PauseView

func (p Pauses) IsPaused(module string) bool {
	for _, view := range p {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}

// StaticPauses is a fixed pause set, typically loaded from operator
// configuration. Module names are matched case-insensitively.
type StaticPauses map[string]bool

func NewStaticPauses(modules ...string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, module := range modules {
		trimmed := strings.ToLower(strings.TrimSpace(module))
		if trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

func (s StaticPauses) IsPaused(module string) bool {
	if len(s) == 0 {
		return false
	}
	return s[strings.ToLower(strings.TrimSpace(module))]
}
