package actuation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExhausted is what every ExhaustedError unwraps to.
	ErrExhausted = errors.New("actuation: all strategies failed")

	// ErrUnsupported is returned by a strategy that cannot express a target,
	// and by Execute for a class without strategies.
	ErrUnsupported = errors.New("actuation: unsupported target")
)

// ExhaustedError is the single terminal error of a write: every strategy of
// the class was tried once and none was acknowledged.
type ExhaustedError struct {
	Capability string
	Attempted  []string
	Errs       []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempted))
	for i, name := range e.Attempted {
		parts[i] = fmt.Sprintf("%v: %v", name, e.Errs[i])
	}

	return fmt.Sprintf("%v for %q (%v)", ErrExhausted, e.Capability, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}
