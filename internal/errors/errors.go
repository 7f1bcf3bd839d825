// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidStrategyFormat is returned when a search strategy spec in the
// config is not in 'min-max:sort:pages' format.
type ErrInvalidStrategyFormat struct {
	Spec string
}

func (e *ErrInvalidStrategyFormat) Error() string {
	return fmt.Sprintf("invalid search strategy: %q, expected 'min-max:sort:pages'", e.Spec)
}

// UpstreamError is returned when the GitHub API answers a request with a
// non-2xx status. It is fatal for the call that produced it.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("github %s failed with status %d: %v", e.Operation, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is returned when a search result item is missing a
// field the canonical record requires.
type MalformedResponseError struct {
	Field string
	URL   string
}

func (e *MalformedResponseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("malformed search result: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed search result for %s: missing %s", e.URL, e.Field)
}
