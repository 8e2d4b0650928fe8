package pipeline

import (
	"errors"
	"fmt"
)

// fatalError marks configuration-level failures that must stop the whole run.
// Only configuration errors abort; per-unit failures are isolated and
// reported by the stage that hit them.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatalf wraps a configuration error so Run stops instead of skipping the layer.
func Fatalf(format string, args ...any) error {
	return &fatalError{err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err is a configuration-level error.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
