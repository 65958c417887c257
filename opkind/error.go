package opkind

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// OpError is a wrapper around a Kind token, with a customizable message and
// an optional wrapped cause. It is the error type that carries a Kind up to
// the HTTP handlers (§7 propagation policy), which turn it into a response;
// the blockdevice, cache, msc and config packages return plain errors.
type OpError interface {
	error
	Kind() Kind
	Unwrap() error
}

type opError struct {
	kind          Kind
	message       string
	originalError error
}

func (e opError) Error() string {
	if e.message != "" {
		return e.message
	}
	return string(e.kind)
}

func (e opError) Kind() Kind {
	return e.kind
}

func (e opError) Unwrap() error {
	return e.originalError
}

// New creates an OpError carrying only a Kind; Error() returns the bare
// token.
func New(kind Kind) OpError {
	return opError{kind: kind}
}

// NewFromError wraps an underlying error with a Kind, keeping the original
// accessible via Unwrap for logging.
func NewFromError(kind Kind, originalError error) OpError {
	return opError{
		kind:          kind,
		message:       fmt.Sprintf("%s: %s", kind, originalError.Error()),
		originalError: originalError,
	}
}

// NewWithMessage creates an OpError with a custom message in addition to its
// Kind.
func NewWithMessage(kind Kind, message string) OpError {
	return opError{
		kind:    kind,
		message: fmt.Sprintf("%s: %s", kind, message),
	}
}

// Collect merges cleanup-path failures into a single multierror for logging
// while preserving governing as the value callers actually see and return.
// The propagation policy says the first error wins; this only changes what
// gets logged alongside it.
func Collect(governing error, others ...error) error {
	if governing == nil && len(others) == 0 {
		return nil
	}
	var merged *multierror.Error
	if governing != nil {
		merged = multierror.Append(merged, governing)
	}
	for _, err := range others {
		if err != nil {
			merged = multierror.Append(merged, err)
		}
	}
	return merged
}
