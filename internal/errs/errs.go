// Package errs defines the error kinds the core distinguishes as
// sentinel values usable with errors.Is/errors.As, wrapped with context at
// each layer boundary.
package errs

import "errors"

var (
	// ErrTransientIndexConflict marks a text-index writer contention error.
	// Retried with backoff in internal/graphstore; surfaced if retries are
	// exhausted.
	ErrTransientIndexConflict = errors.New("transient text-index writer conflict")

	// ErrDriverUnavailable marks a graph DB connection failure. Fatal for
	// the request that hit it.
	ErrDriverUnavailable = errors.New("graph database driver unavailable")

	// ErrLLMFailure marks an LLM provider 4xx/5xx/timeout. Callers fail
	// open (dedup), fail silent (extraction/categorization/summarization),
	// or fall back to a regex path (term extraction).
	ErrLLMFailure = errors.New("llm provider call failed")

	// ErrEmbeddingFailure marks an embedding provider failure. Silent in
	// semantic-dedup/resolution; fatal for Memory inserts.
	ErrEmbeddingFailure = errors.New("embedding provider call failed")

	// ErrParseFailure marks a non-JSON or malformed LLM response. Treated
	// as an empty result; never retried.
	ErrParseFailure = errors.New("failed to parse llm response")

	// ErrNotFound marks a missing memory or entity id.
	ErrNotFound = errors.New("not found")

	// ErrCancelled marks caller cancellation observed at a suspension
	// point.
	ErrCancelled = errors.New("operation cancelled")
)

// ItemError is a PerItemBatchFailure: one item in a batch failed without
// aborting the rest of the batch.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return e.Err.Error()
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or any error it wraps) is a condition
// worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIndexConflict)
}
