package kmer

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which class of failure a counting operation hit.
type Kind int

const (
	// KindUnknown is any error that is not one of the kinds below.
	KindUnknown Kind = iota
	// KindInvalidParameter is k <= 0 or k > MaxK.
	KindInvalidParameter
	// KindInconsistentParameter is one accumulator seeing two k values.
	KindInconsistentParameter
	// KindSchemaMismatch is a batch with missing or mistyped columns.
	KindSchemaMismatch
	// KindFinalized is any use of an accumulator after finalize.
	KindFinalized
	// KindChunkFailed is a unit of work that failed during a bulk count.
	KindChunkFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindInconsistentParameter:
		return "inconsistent_parameter"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindFinalized:
		return "finalized"
	case KindChunkFailed:
		return "chunk_failed"
	default:
		return "unknown"
	}
}

// Error is implemented by every typed error of this package.
type Error interface {
	error
	Kind() Kind
}

// InvalidParameterError is returned when k or a query bound is out of range.
type InvalidParameterError struct {
	Param  string
	Value  int64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s=%d: %s", e.Param, e.Value, e.Reason)
}

func (e *InvalidParameterError) Kind() Kind { return KindInvalidParameter }

// InconsistentParameterError is returned when an accumulator already fixed to
// one k observes a different one.
type InconsistentParameterError struct {
	Fixed int
	Got   int
}

func (e *InconsistentParameterError) Error() string {
	return fmt.Sprintf("inconsistent k: accumulator counts k=%d, got k=%d", e.Fixed, e.Got)
}

func (e *InconsistentParameterError) Kind() Kind { return KindInconsistentParameter }

// SchemaMismatchError is returned when an input batch lacks a column or the
// column has the wrong type.
type SchemaMismatchError struct {
	Column   string
	Expected string
	Found    string
}

func (e *SchemaMismatchError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("schema mismatch: missing column %q (want %s)", e.Column, e.Expected)
	}
	return fmt.Sprintf("schema mismatch: column %q is %s, want %s", e.Column, e.Found, e.Expected)
}

func (e *SchemaMismatchError) Kind() Kind { return KindSchemaMismatch }

// FinalizedError is returned by every accumulator operation after finalize.
type FinalizedError struct {
	Op string
}

func (e *FinalizedError) Error() string {
	return fmt.Sprintf("%s called on a finalized accumulator", e.Op)
}

func (e *FinalizedError) Kind() Kind { return KindFinalized }

// ChunkError reports the chunk that aborted a bulk aggregation.
type ChunkError struct {
	Chunk int
	Cause error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Chunk, e.Cause)
}

func (e *ChunkError) Unwrap() error { return e.Cause }

func (e *ChunkError) Kind() Kind { return KindChunkFailed }

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var ke Error
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return KindUnknown
}
