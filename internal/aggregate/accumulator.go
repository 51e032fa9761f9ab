// Package aggregate implements kmer_count as a mergeable aggregate operator
// for a columnar query host.
//
// A host creates one Accumulator per partition, feeds it argument batches
// with Update, ships State from one instance to another's Merge, and finally
// calls Evaluate exactly once. Partial states merge associatively and
// commutatively, so the host may combine them in any tree shape.
package aggregate

import (
	"fmt"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/table"
)

// Argument names used in schema-mismatch errors.
const (
	ArgSequence = "sequence"
	ArgK        = "k"
)

// Accumulator is the operator contract a host drives.
type Accumulator interface {
	// Update folds one batch of argument columns into the accumulator.
	Update(args []arrow.Array) error
	// Merge folds partial states produced by State into the accumulator.
	Merge(states []arrow.Array) error
	// State returns the current partial state. The caller releases it.
	State() ([]arrow.Array, error)
	// Evaluate finalizes the accumulator and returns its result. The caller
	// releases it. Every later call fails.
	Evaluate() (arrow.Array, error)
	// Size estimates the bytes retained by the accumulator.
	Size() int
}

// Phase is the lifecycle position of a KmerCountAccumulator.
type Phase int

const (
	// Empty accumulators have not seen a row or a non-empty state yet.
	Empty Phase = iota
	// Accumulating accumulators have a fixed k.
	Accumulating
	// Finalized accumulators have been evaluated.
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	default:
		return "finalized"
	}
}

// entryOverhead approximates the per-key cost of a tally entry beyond the
// key bytes: string header, count and map bucket share.
const entryOverhead = 16 + 8 + 8

// KmerCountAccumulator counts canonical k-mers of exactly one size.
type KmerCountAccumulator struct {
	mem    memory.Allocator
	perRow bool

	phase   Phase
	k       int
	scanner *kmer.Scanner
	tally   kmer.Tally
}

var _ Accumulator = (*KmerCountAccumulator)(nil)

// NewStatic creates an accumulator taking a single sequence argument, with k
// fixed up front.
func NewStatic(mem memory.Allocator, k int) (*KmerCountAccumulator, error) {
	scanner, err := kmer.NewScanner(k)
	if err != nil {
		return nil, err
	}
	return &KmerCountAccumulator{
		mem:     mem,
		k:       k,
		scanner: scanner,
		tally:   make(kmer.Tally),
	}, nil
}

// NewPerRow creates an accumulator taking (sequence, k) arguments. The first
// row with a sequence fixes k.
func NewPerRow(mem memory.Allocator) *KmerCountAccumulator {
	return &KmerCountAccumulator{
		mem:    mem,
		perRow: true,
		tally:  make(kmer.Tally),
	}
}

// K returns the fixed k, or 0 while unset.
func (a *KmerCountAccumulator) K() int {
	return a.k
}

// Phase returns the lifecycle phase.
func (a *KmerCountAccumulator) Phase() Phase {
	return a.phase
}

func (a *KmerCountAccumulator) fix(k int) error {
	if a.k == 0 {
		scanner, err := kmer.NewScanner(k)
		if err != nil {
			return err
		}
		a.k, a.scanner = k, scanner
	} else if a.k != k {
		return &kmer.InconsistentParameterError{Fixed: a.k, Got: k}
	}
	a.phase = Accumulating
	return nil
}

// Update implements Accumulator. The batch is validated in full before any
// row is counted, so a failing batch leaves the tally untouched.
func (a *KmerCountAccumulator) Update(args []arrow.Array) error {
	if a.phase == Finalized {
		return &kmer.FinalizedError{Op: "update"}
	}

	want := 1
	if a.perRow {
		want = 2
	}
	if len(args) != want {
		return &kmer.SchemaMismatchError{Column: ArgSequence, Expected: argsDescription(a.perRow), Found: argsFound(args)}
	}

	seqs, err := seqio.AsStringColumn(ArgSequence, args[0])
	if err != nil {
		return err
	}

	if !a.perRow {
		if seqs.Len() > 0 {
			a.phase = Accumulating
		}
		for i := 0; i < seqs.Len(); i++ {
			if s, ok := seqs.Value(i); ok {
				a.scanner.ScanInto(s, a.tally)
			}
		}
		return nil
	}

	ks, err := asIntColumn(args[1])
	if err != nil {
		return err
	}
	if ks.Len() != seqs.Len() {
		return &kmer.SchemaMismatchError{Column: ArgK, Expected: "same length as sequence", Found: args[1].DataType().String()}
	}

	batchK := a.k
	for i := 0; i < seqs.Len(); i++ {
		if _, ok := seqs.Value(i); !ok {
			continue
		}
		k, ok := ks.Value(i)
		if !ok {
			return &kmer.InvalidParameterError{Param: ArgK, Value: 0, Reason: "k must not be null"}
		}
		if err := kmer.ValidateK64(k); err != nil {
			return err
		}
		if batchK == 0 {
			batchK = int(k)
		} else if int(k) != batchK {
			return &kmer.InconsistentParameterError{Fixed: batchK, Got: int(k)}
		}
	}
	if batchK == 0 {
		return nil
	}
	if err := a.fix(batchK); err != nil {
		return err
	}

	for i := 0; i < seqs.Len(); i++ {
		if s, ok := seqs.Value(i); ok {
			a.scanner.ScanInto(s, a.tally)
		}
	}
	return nil
}

// Merge implements Accumulator. states holds one or more (kmer, count) array
// pairs as produced by State. An Empty per-row accumulator adopts k from the
// key length of the first non-empty state.
func (a *KmerCountAccumulator) Merge(states []arrow.Array) error {
	if a.phase == Finalized {
		return &kmer.FinalizedError{Op: "merge"}
	}
	if len(states) == 0 || len(states)%2 != 0 {
		return &kmer.SchemaMismatchError{Column: table.ColumnKmer, Expected: "(kmer, count) array pairs", Found: argsFound(states)}
	}

	incoming := make(kmer.Tally)
	for i := 0; i < len(states); i += 2 {
		if err := table.AddArrays(incoming, states[i], states[i+1]); err != nil {
			return err
		}
	}
	if len(incoming) == 0 {
		return nil
	}

	k := a.k
	for key := range incoming {
		if k == 0 {
			k = len(key)
		}
		if len(key) != k {
			return &kmer.InconsistentParameterError{Fixed: k, Got: len(key)}
		}
	}
	if err := a.fix(k); err != nil {
		return err
	}

	a.tally.Merge(incoming)
	return nil
}

// State implements Accumulator. It returns every (kmer, count) pair of the
// tally as two parallel arrays.
func (a *KmerCountAccumulator) State() ([]arrow.Array, error) {
	if a.phase == Finalized {
		return nil, &kmer.FinalizedError{Op: "state"}
	}
	kmers, counts := table.Columns(a.mem, a.tally, table.Unordered)
	return []arrow.Array{kmers, counts}, nil
}

// Evaluate implements Accumulator. It returns a struct array with fields
// kmer and count, one row per distinct canonical k-mer, in no defined order.
func (a *KmerCountAccumulator) Evaluate() (arrow.Array, error) {
	if a.phase == Finalized {
		return nil, &kmer.FinalizedError{Op: "evaluate"}
	}
	st, err := table.StructFromTally(a.mem, a.tally, table.Unordered)
	if err != nil {
		return nil, err
	}
	a.phase = Finalized
	a.tally = nil
	return st, nil
}

// Size implements Accumulator.
func (a *KmerCountAccumulator) Size() int {
	return int(unsafe.Sizeof(*a)) + len(a.tally)*(a.k+entryOverhead)
}

// Tally returns a copy of the current tally, or nil once finalized.
func (a *KmerCountAccumulator) Tally() kmer.Tally {
	if a.tally == nil {
		return nil
	}
	return a.tally.Clone()
}

type intColumn interface {
	Len() int
	Value(i int) (int64, bool)
}

type int64Column struct{ arr *array.Int64 }

func (c int64Column) Len() int { return c.arr.Len() }

func (c int64Column) Value(i int) (int64, bool) {
	if c.arr.IsNull(i) {
		return 0, false
	}
	return c.arr.Value(i), true
}

type int32Column struct{ arr *array.Int32 }

func (c int32Column) Len() int { return c.arr.Len() }

func (c int32Column) Value(i int) (int64, bool) {
	if c.arr.IsNull(i) {
		return 0, false
	}
	return int64(c.arr.Value(i)), true
}

func asIntColumn(arr arrow.Array) (intColumn, error) {
	switch a := arr.(type) {
	case *array.Int64:
		return int64Column{a}, nil
	case *array.Int32:
		return int32Column{a}, nil
	default:
		return nil, &kmer.SchemaMismatchError{Column: ArgK, Expected: "int64 or int32", Found: arr.DataType().String()}
	}
}

func argsDescription(perRow bool) string {
	if perRow {
		return "2 arguments (sequence utf8, k int64)"
	}
	return "1 argument (sequence utf8)"
}

func argsFound(args []arrow.Array) string {
	switch len(args) {
	case 0:
		return "no arguments"
	case 1:
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", len(args))
}
