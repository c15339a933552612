package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllProvidersUnavailable is returned before any network attempt when
// health tracking considers every provider down.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// Attempt records one failed provider attempt during fallback.
type Attempt struct {
	Provider string
	Err      error
}

// FallbackError aggregates the last error of every attempted provider
// after the candidate list was exhausted without a success.
type FallbackError struct {
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual attempt errors to errors.Is and errors.As.
func (e *FallbackError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
