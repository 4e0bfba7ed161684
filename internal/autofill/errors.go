// internal/autofill/errors.go
package autofill

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMode is returned for a Mode outside Fast, Click and Hover.
	ErrInvalidMode = errors.New("autofill: invalid mode")
	// ErrWatchClosed is returned when a host stops delivering signals while
	// the caller's context is still live (for example the page was closed).
	ErrWatchClosed = errors.New("autofill: watch closed by host")
)

// QueryError wraps a host failure to evaluate a selector or XPath, typically
// a malformed expression. It is never retried.
type QueryError struct {
	Query Query
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("autofill: query %s failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
