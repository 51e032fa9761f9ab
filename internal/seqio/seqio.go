// Package seqio supplies sequences to the counters: FASTA/FASTQ files through
// shenwei356/bio, in-memory slices, and string columns of Arrow tables.
package seqio

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/aria-lang/kmerflow/internal/kmer"
)

// Column names of a sequence table.
const (
	ColumnName     = "name"
	ColumnSequence = "sequence"
)

// Source yields sequences one at a time and returns io.EOF when exhausted.
type Source interface {
	Next() (string, error)
}

// Record is one named sequence.
type Record struct {
	ID       string
	Sequence string
}

// SliceSource is a Source over in-memory sequences.
type SliceSource struct {
	seqs []string
	i    int
}

// NewSliceSource creates a Source over seqs.
func NewSliceSource(seqs []string) *SliceSource {
	return &SliceSource{seqs: seqs}
}

// Next implements Source.
func (s *SliceSource) Next() (string, error) {
	if s.i >= len(s.seqs) {
		return "", io.EOF
	}
	v := s.seqs[s.i]
	s.i++
	return v, nil
}

// FileSource reads FASTA or FASTQ records (plain or compressed) from a file.
// "-" reads standard input.
type FileSource struct {
	path   string
	reader *fastx.Reader
	n      int
	lastID string
}

// OpenFile opens a sequence file. Sequences are not validated against an
// alphabet: ambiguous bases are filtered by the scanner.
func OpenFile(path string) (*FileSource, error) {
	reader, err := fastx.NewReader(seq.Unlimit, path, "")
	if err != nil {
		return nil, errors.Wrapf(err, "open sequence file: %s", path)
	}
	return &FileSource{path: path, reader: reader}, nil
}

// Next implements Source.
func (f *FileSource) Next() (string, error) {
	record, err := f.reader.Read()
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", errors.Wrapf(err, "read seq %d in %s", f.n, f.path)
	}
	f.n++
	f.lastID = string(record.ID)
	return string(record.Seq.Seq), nil
}

// ID returns the identifier of the record last returned by Next.
func (f *FileSource) ID() string {
	return f.lastID
}

// Count returns how many records have been read.
func (f *FileSource) Count() int {
	return f.n
}

// Close releases the underlying reader.
func (f *FileSource) Close() {
	f.reader.Close()
}

// ReadAll drains src.
func ReadAll(src Source) ([]string, error) {
	seqs := make([]string, 0)
	for {
		s, err := src.Next()
		if err == io.EOF {
			return seqs, nil
		}
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, s)
	}
}

// ReadRecords reads every record of a sequence file.
func ReadRecords(path string) ([]Record, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := make([]Record, 0)
	for {
		s, err := f.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, Record{ID: f.ID(), Sequence: s})
	}
}

// Schema is the schema of tables built by ToRecord.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnName, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: ColumnSequence, Type: arrow.BinaryTypes.LargeString, Nullable: true},
}, nil)

// ToRecord builds a (name, sequence) table from records. The caller owns the
// returned record and must Release it.
func ToRecord(mem memory.Allocator, records []Record) arrow.Record {
	names := array.NewStringBuilder(mem)
	defer names.Release()
	seqs := array.NewLargeStringBuilder(mem)
	defer seqs.Release()

	names.Reserve(len(records))
	seqs.Reserve(len(records))
	for _, r := range records {
		names.Append(r.ID)
		seqs.Append(r.Sequence)
	}

	nameArr := names.NewArray()
	defer nameArr.Release()
	seqArr := seqs.NewArray()
	defer seqArr.Release()

	return array.NewRecord(Schema, []arrow.Array{nameArr, seqArr}, int64(len(records)))
}

// StringColumn reads a Utf8 or LargeUtf8 array. Null slots report ok=false.
type StringColumn interface {
	Len() int
	Value(i int) (v string, ok bool)
}

type stringColumn struct{ arr *array.String }

func (c stringColumn) Len() int { return c.arr.Len() }

func (c stringColumn) Value(i int) (string, bool) {
	if c.arr.IsNull(i) {
		return "", false
	}
	return c.arr.Value(i), true
}

type largeStringColumn struct{ arr *array.LargeString }

func (c largeStringColumn) Len() int { return c.arr.Len() }

func (c largeStringColumn) Value(i int) (string, bool) {
	if c.arr.IsNull(i) {
		return "", false
	}
	return c.arr.Value(i), true
}

// AsStringColumn wraps a text array, or returns a schema-mismatch error naming
// column when arr is not Utf8/LargeUtf8.
func AsStringColumn(column string, arr arrow.Array) (StringColumn, error) {
	switch a := arr.(type) {
	case *array.String:
		return stringColumn{a}, nil
	case *array.LargeString:
		return largeStringColumn{a}, nil
	default:
		return nil, &kmer.SchemaMismatchError{Column: column, Expected: "utf8 or large_utf8", Found: arr.DataType().String()}
	}
}

// ColumnSource is a Source over the non-null values of a text column.
type ColumnSource struct {
	col StringColumn
	i   int
}

// NewColumnSource creates a Source over the named text column of rec.
func NewColumnSource(rec arrow.Record, column string) (*ColumnSource, error) {
	idx := rec.Schema().FieldIndices(column)
	if len(idx) == 0 {
		return nil, &kmer.SchemaMismatchError{Column: column, Expected: "utf8 or large_utf8"}
	}
	col, err := AsStringColumn(column, rec.Column(idx[0]))
	if err != nil {
		return nil, err
	}
	return &ColumnSource{col: col}, nil
}

// Next implements Source. Null values are skipped.
func (c *ColumnSource) Next() (string, error) {
	for c.i < c.col.Len() {
		v, ok := c.col.Value(c.i)
		c.i++
		if ok {
			return v, nil
		}
	}
	return "", io.EOF
}
