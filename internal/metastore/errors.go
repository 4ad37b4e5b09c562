package metastore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when an operation is called before Init.
	ErrNotInitialized = errors.New("metadata store is not initialized")

	// ErrNotFound is returned when the operation target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for empty or ill-formed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError reports a failure from the underlying database engine.
// The engine's message is carried as text so callers never depend on
// engine-specific error types.
type StoreError struct {
	Op      string
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("metadata store: %s: %s", e.Op, e.Message)
}

// KeyFailure records a single failed key within a batch store.
type KeyFailure struct {
	Key     string
	Message string
}

// PartialError is returned when a batch store succeeded for some keys and
// failed for others. The successful keys remain persisted.
type PartialError struct {
	Path     string
	Total    int
	Failures []KeyFailure
}

func (e *PartialError) Error() string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.Key
	}
	return fmt.Sprintf("storing metadata for %s: %d of %d keys failed (%s)",
		e.Path, len(e.Failures), e.Total, strings.Join(keys, ", "))
}
