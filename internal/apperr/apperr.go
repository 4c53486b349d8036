// Package apperr defines the error taxonomy described in spec.md §7.
// Each Kind carries a distinct propagation policy: background workers log
// and record Transient/Integrity errors without tearing down the process;
// request handlers map a Kind to an HTTP status and propagate upward.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the intent behind how it should be handled.
type Kind int

const (
	// KindTransientExternal marks a retryable failure in an external
	// dependency (embeddings, reranker, LLM). Retrieval may degrade
	// (skip rerank, fall back to lexical-only) rather than fail outright.
	KindTransientExternal Kind = iota
	// KindInputMalformed marks a synchronously rejected bad request
	// (empty query, oversize upload, unsupported file type).
	KindInputMalformed
	// KindIngestionFailure marks a failure during document ingestion that
	// rolls back the enclosing transaction and marks the job failed.
	KindIngestionFailure
	// KindNotFound marks a reference to an entity that does not exist.
	KindNotFound
	// KindIntegrityConflict marks a violated invariant (duplicate chunk
	// index, missing parent reference) that aborts the ingesting document.
	KindIntegrityConflict
	// KindFatal marks an error that should prevent a dependent service
	// from starting (migration failure, schema drift, unreachable DB).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientExternal:
		return "transient_external"
	case KindInputMalformed:
		return "input_malformed"
	case KindIngestionFailure:
		return "ingestion_failure"
	case KindNotFound:
		return "not_found"
	case KindIntegrityConflict:
		return "integrity_conflict"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is an apperr-classified error wrapping an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and the operation name that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
