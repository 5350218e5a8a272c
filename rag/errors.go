package rag

import (
	"errors"
	"fmt"

	"github.com/kundankumarKD/faissrag/index"
	"github.com/kundankumarKD/faissrag/provider"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCredential is a missing or rejected API key.
	KindCredential
	// KindIndex is an unreadable, corrupt or stale index file.
	KindIndex
	// KindProvider is a failed request to the embedding or chat service.
	KindProvider
	// KindInput is malformed input, e.g. texts and metadatas of different lengths.
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindIndex:
		return "index"
	case KindProvider:
		return "provider"
	case KindInput:
		return "input"
	}
	return "unknown"
}

// ExitCode for the process when a run fails with an error of this kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindCredential:
		return 2
	case KindIndex:
		return 3
	case KindProvider:
		return 4
	case KindInput:
		return 5
	}
	return 1
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rag: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify wraps err with the Kind inferred from its cause, or fallback if
// the cause is not recognised.
func classify(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := kindOfCause(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOfCause(err error) Kind {
	switch {
	case provider.IsAuthError(err):
		return KindCredential
	case errors.Is(err, index.ErrEmbedding):
		return KindProvider
	case errors.Is(err, index.ErrCountMismatch):
		return KindInput
	case errors.Is(err, index.ErrNotFound),
		errors.Is(err, index.ErrCorrupt),
		errors.Is(err, index.ErrStale),
		errors.Is(err, index.ErrDimensionMismatch):
		return KindIndex
	}
	return KindUnknown
}
