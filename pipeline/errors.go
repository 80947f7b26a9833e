package pipeline

import (
	"errors"
	"fmt"
)

// Kind enumerates the flat error taxonomy spec.md §7 lists. Grounded in the
// teacher's common.AzError(code, message) pairing, but represented the
// idiomatic-Go way: a small Kind enum plus a wrapped Underlying error
// compared with errors.Is/errors.As instead of an integer code.
type Kind uint8

const (
	// KindDataMissingInCache fires when OptionReturnCacheDataDontLoad is set
	// and no cached bytes satisfy the request.
	KindDataMissingInCache Kind = iota
	// KindDataLoadingFailed wraps a transport or local-read failure.
	KindDataLoadingFailed
	// KindDataIsEmpty fires when the transport completed with zero bytes.
	KindDataIsEmpty
	// KindDecoderNotRegistered fires when final data arrived and no decoder
	// claimed it.
	KindDecoderNotRegistered
	// KindDecodingFailed wraps a final-pass decoder failure.
	KindDecodingFailed
	// KindProcessingFailed wraps a processor failure.
	KindProcessingFailed
	// KindImageRequestMissing signals API misuse (an operation on a task
	// that was never actually registered).
	KindImageRequestMissing
	// KindPipelineInvalidated fires for any job started after Invalidate.
	KindPipelineInvalidated
)

func (k Kind) String() string {
	switch k {
	case KindDataMissingInCache:
		return "dataMissingInCache"
	case KindDataLoadingFailed:
		return "dataLoadingFailed"
	case KindDataIsEmpty:
		return "dataIsEmpty"
	case KindDecoderNotRegistered:
		return "decoderNotRegistered"
	case KindDecodingFailed:
		return "decodingFailed"
	case KindProcessingFailed:
		return "processingFailed"
	case KindImageRequestMissing:
		return "imageRequestMissing"
	case KindPipelineInvalidated:
		return "pipelineInvalidated"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every job emits. Context carries a short
// human-readable description of what was being attempted (a decoder name, a
// processor id); Underlying, if non-nil, is the wrapped cause.
type Error struct {
	Kind       Kind
	Context    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		if e.Context != "" {
			return fmt.Sprintf("%s (%s): %v", e.Kind, e.Context, e.Underlying)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Underlying)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Context)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Underlying }

// newError builds an *Error from its kind, context string and underlying
// cause.
func newError(kind Kind, context string, underlying error) *Error {
	return &Error{Kind: kind, Context: context, Underlying: underlying}
}

// Is reports whether err is a *Error of the given kind, looking through any
// wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}
