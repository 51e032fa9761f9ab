// Package table converts tallies to and from Arrow tables with the columns
// (kmer utf8, count uint64).
package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/twotwotwo/sorts"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
)

// Column names of a result table.
const (
	ColumnKmer  = "kmer"
	ColumnCount = "count"
)

// Fields are the fields of a result table, also used for the struct returned
// by the kmer_count operator.
var Fields = []arrow.Field{
	{Name: ColumnKmer, Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: ColumnCount, Type: arrow.PrimitiveTypes.Uint64, Nullable: false},
}

// Schema is the schema of a result table.
var Schema = arrow.NewSchema(Fields, nil)

// Order selects the row order of a materialized table.
type Order int

const (
	// Unordered leaves rows in map iteration order.
	Unordered Order = iota
	// ByKmer sorts rows by k-mer ascending.
	ByKmer
	// ByCount sorts rows by count descending, then k-mer ascending.
	ByCount
)

// ParseOrder maps "", "none", "kmer" and "count" to an Order.
func ParseOrder(s string) (Order, bool) {
	switch s {
	case "", "none":
		return Unordered, true
	case "kmer":
		return ByKmer, true
	case "count":
		return ByCount, true
	}
	return Unordered, false
}

type entries []kmer.KMerCount

func (e entries) Len() int      { return len(e) }
func (e entries) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e entries) Less(i, j int) bool {
	return e[i].KMer < e[j].KMer
}

type byCount struct{ entries }

func (e byCount) Less(i, j int) bool {
	if e.entries[i].Count != e.entries[j].Count {
		return e.entries[i].Count > e.entries[j].Count
	}
	return e.entries[i].KMer < e.entries[j].KMer
}

func ordered(t kmer.Tally, order Order) entries {
	out := make(entries, 0, len(t))
	for k, n := range t {
		out = append(out, kmer.KMerCount{KMer: k, Count: n})
	}
	switch order {
	case ByKmer:
		sorts.Quicksort(out)
	case ByCount:
		sorts.Quicksort(byCount{out})
	}
	return out
}

// Columns builds the parallel kmer and count arrays of t. The caller releases
// both.
func Columns(mem memory.Allocator, t kmer.Tally, order Order) (kmers, counts arrow.Array) {
	kb := array.NewStringBuilder(mem)
	defer kb.Release()
	cb := array.NewUint64Builder(mem)
	defer cb.Release()

	rows := ordered(t, order)
	kb.Reserve(len(rows))
	cb.Reserve(len(rows))
	for _, r := range rows {
		kb.Append(r.KMer)
		cb.Append(r.Count)
	}
	return kb.NewArray(), cb.NewArray()
}

// Materialize returns t as a result table, one row per distinct k-mer. The
// caller releases the record.
func Materialize(mem memory.Allocator, t kmer.Tally, order Order) arrow.Record {
	kmers, counts := Columns(mem, t, order)
	defer kmers.Release()
	defer counts.Release()
	return array.NewRecord(Schema, []arrow.Array{kmers, counts}, int64(len(t)))
}

// StructFromTally returns t as a struct array {kmer, count}.
func StructFromTally(mem memory.Allocator, t kmer.Tally, order Order) (*array.Struct, error) {
	kmers, counts := Columns(mem, t, order)
	defer kmers.Release()
	defer counts.Release()
	return array.NewStructArrayWithFields([]arrow.Array{kmers, counts}, Fields)
}

// RecordFromStruct turns an operator result into a result table.
func RecordFromStruct(st *array.Struct) arrow.Record {
	return array.RecordFromStructArray(st, Schema)
}

// AddArrays adds the (kmer, count) pairs of two parallel arrays to t. Rows
// where either side is null are skipped.
func AddArrays(t kmer.Tally, kmers, counts arrow.Array) error {
	kcol, err := seqio.AsStringColumn(ColumnKmer, kmers)
	if err != nil {
		return err
	}
	if kmers.Len() != counts.Len() {
		return &kmer.SchemaMismatchError{
			Column:   ColumnCount,
			Expected: "same length as kmer column",
			Found:    counts.DataType().String(),
		}
	}

	switch c := counts.(type) {
	case *array.Uint64:
		for i := 0; i < c.Len(); i++ {
			k, ok := kcol.Value(i)
			if !ok || c.IsNull(i) {
				continue
			}
			t.Add(k, c.Value(i))
		}
	case *array.Int64:
		for i := 0; i < c.Len(); i++ {
			k, ok := kcol.Value(i)
			if !ok || c.IsNull(i) {
				continue
			}
			if v := c.Value(i); v > 0 {
				t.Add(k, uint64(v))
			}
		}
	default:
		return &kmer.SchemaMismatchError{Column: ColumnCount, Expected: "uint64", Found: counts.DataType().String()}
	}
	return nil
}

// TallyFromRecord reads a result table back into a tally.
func TallyFromRecord(rec arrow.Record) (kmer.Tally, error) {
	cols := make([]arrow.Array, 2)
	for i, name := range []string{ColumnKmer, ColumnCount} {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, &kmer.SchemaMismatchError{Column: name, Expected: Fields[i].Type.String()}
		}
		cols[i] = rec.Column(idx[0])
	}

	t := make(kmer.Tally, rec.NumRows())
	if err := AddArrays(t, cols[0], cols[1]); err != nil {
		return nil, err
	}
	return t, nil
}

// TallyFromStruct reads an operator result back into a tally.
func TallyFromStruct(st *array.Struct) (kmer.Tally, error) {
	rec := RecordFromStruct(st)
	defer rec.Release()
	return TallyFromRecord(rec)
}
