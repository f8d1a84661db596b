package core

import "fmt"

// The pipeline's error taxonomy. Readers and fetchers return these typed
// errors directly; the orchestrator wraps whatever it receives with %w so
// callers can still reach the concrete type through errors.As.

// ValidationError reports bad input shape or arguments detected before any
// I/O: a missing source for the chosen kind, an unknown import kind, or a
// duplicate table name.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// FormatError reports an unsupported or unparseable file format.
type FormatError struct {
	Name string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported or unreadable format %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("unsupported file format %q", e.Name)
}

func (e *FormatError) Unwrap() error { return e.Err }

// EmptyInputError reports a source that yielded zero usable rows.
type EmptyInputError struct {
	Source string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s contains no usable rows", e.Source)
}

// LimitExceededError reports a row or column count above the configured
// ceiling. Dimension is "rows" or "columns".
type LimitExceededError struct {
	Dimension string
	Observed  int
	Max       int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("input has %d %s, maximum allowed is %d", e.Observed, e.Dimension, e.Max)
}

// ConnectivityError reports a transient network failure that survived the
// retry budget.
type ConnectivityError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("failed to reach %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx response from the endpoint.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("endpoint %s returned HTTP %d", e.URL, e.StatusCode)
}

// ShapeError reports endpoint JSON that does not resolve to a non-empty
// row collection.
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string { return e.Msg }

// PersistenceError reports a bulk-insert failure that is not attributable
// to a simple duplicate.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("bulk insert failed: %v", e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }
