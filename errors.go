package fdk

import (
	"fmt"
)

// Error is a constant error type for sentinel errors.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrEmptyBatch is returned by the Materializer when it is handed a
	// batch with no records. Column discovery needs at least one record.
	ErrEmptyBatch = Error("cannot materialize an empty batch")

	// ErrSessionReleased is returned when an Ingester is run after its
	// consumer session has already been consumed by a previous run.
	ErrSessionReleased = Error("consumer session already released")

	// ErrNotFound is returned by registries for unknown entities and
	// feature views.
	ErrNotFound = Error("not found")
)

// TransportError is returned for any HTTP response with a non-2xx status.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// SchemaMismatchError is returned when a record (or table) lacks a column
// which was discovered from the first record of the batch.
type SchemaMismatchError struct {
	// Record is the index of the offending record in its batch.
	Record int
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("record %d has no value for column '%s'", e.Record, e.Column)
}

// ExternalCommandError is returned by RunCommand when a shell command exits
// with a non-zero status.
type ExternalCommandError struct {
	Command string
	Status  int
	Output  string
}

func (e *ExternalCommandError) Error() string {
	return fmt.Sprintf("command '%s' exited with status %d", e.Command, e.Status)
}
