// Package indicator implements the pure technical-indicator math used by the
// decision engine. Every function either returns a numeric result or an
// explicit InsufficientDataError; a short history never yields a silently
// wrong value.
package indicator

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports that a price window is shorter than the
// indicator requires.
type InsufficientDataError struct {
	Indicator string
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: not enough data: required %d, available %d", e.Indicator, e.Required, e.Available)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}

func insufficient(name string, required, available int) error {
	return &InsufficientDataError{Indicator: name, Required: required, Available: available}
}
