// Package kmerflow provides a high-level API for canonical k-mer counting.
//
// It exposes the counting core, the bulk sharded path and the aggregate
// operator through a small set of functions.
//
// Example usage:
//
//	counts, err := kmerflow.Count([]string{"ACGT", "ACNGT"}, 2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(counts["AC"]) // 4
//
//	rec, err := kmerflow.CountFile("reads.fq.gz", 21, kmerflow.ShardConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Release()
package kmerflow

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/aria-lang/kmerflow/internal/aggregate"
	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/shard"
	"github.com/aria-lang/kmerflow/internal/table"
)

// Re-export types for convenience
type (
	Tally       = kmer.Tally
	KMer        = kmer.KMer
	KMerCount   = kmer.KMerCount
	Kind        = kmer.Kind
	ShardConfig = shard.Config
	Aggregator  = shard.Aggregator
	Accumulator = aggregate.Accumulator
	UDAF        = aggregate.UDAF
	Order       = table.Order
)

// Constants
const (
	MaxK    = kmer.MaxK
	MaxTopN = kmer.MaxTopN

	Unordered = table.Unordered
	ByKmer    = table.ByKmer
	ByCount   = table.ByCount
)

// NewKMer creates a k-mer.
func NewKMer(seq string) (*KMer, error) {
	return kmer.NewKMer(seq)
}

// Canonical returns the canonical form of window.
func Canonical(window string) string {
	return string(kmer.Canonical([]byte(window)))
}

// ReverseComplement returns the reverse complement of window.
func ReverseComplement(window string) string {
	return string(kmer.ReverseComplement([]byte(window)))
}

// Count counts the canonical k-mers of seqs on the calling goroutine.
func Count(seqs []string, k int) (Tally, error) {
	return kmer.Count(seqs, k)
}

// CountSharded counts the canonical k-mers of seqs on a worker pool.
func CountSharded(seqs []string, k int, cfg ShardConfig) (Tally, error) {
	return shard.New(cfg).Count(seqs, k)
}

// CountFile counts the canonical k-mers of a FASTA/FASTQ file and returns them
// as a result table ordered by k-mer. The caller releases the record.
func CountFile(file string, k int, cfg ShardConfig) (arrow.Record, error) {
	src, err := seqio.OpenFile(file)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	t, err := shard.New(cfg).CountSource(src, k)
	if err != nil {
		return nil, err
	}
	return table.Materialize(memory.DefaultAllocator, t, table.ByKmer), nil
}

// Materialize returns t as a result table.
func Materialize(t Tally, order Order) arrow.Record {
	return table.Materialize(memory.DefaultAllocator, t, order)
}

// TopN returns the n most frequent k-mers, n at most MaxTopN.
func TopN(t Tally, n int) ([]KMerCount, error) {
	return t.TopN(n)
}

// Distance returns the Jaccard distance between the k-mer sets of two
// collections.
func Distance(a, b []string, k int) (float64, error) {
	ta, err := kmer.Count(a, k)
	if err != nil {
		return 0, err
	}
	tb, err := kmer.Count(b, k)
	if err != nil {
		return 0, err
	}
	return kmer.JaccardDistance(ta, tb), nil
}

// SharedKMers returns the canonical k-mers two collections have in common.
func SharedKMers(a, b []string, k int) ([]string, error) {
	ta, err := kmer.Count(a, k)
	if err != nil {
		return nil, err
	}
	tb, err := kmer.Count(b, k)
	if err != nil {
		return nil, err
	}
	return kmer.SharedKMers(ta, tb), nil
}

// NewUDAF returns the kmer_count operator with k fixed, or taking k per row
// when k is 0.
func NewUDAF(k int) (*UDAF, error) {
	if k == 0 {
		return aggregate.NewKmerCountUDAFPerRow(memory.DefaultAllocator), nil
	}
	return aggregate.NewKmerCountUDAF(memory.DefaultAllocator, k)
}

// KindOf classifies an error returned by this package.
func KindOf(err error) Kind {
	return kmer.KindOf(err)
}

// Version returns the kmerflow version.
func Version() string {
	return "1.0.0"
}

// Info returns information about kmerflow.
func Info() string {
	return fmt.Sprintf(`kmerflow v%s - Canonical k-mer counting

Features:
  - Strand-independent canonical k-mers over ACGT
  - Ambiguous windows skipped, lowercase input folded
  - Sharded bulk counting on a worker pool
  - Mergeable kmer_count aggregate operator over Arrow batches
  - (kmer, count) result tables
  - FASTA/FASTQ input, plain or compressed

For more information, see: https://github.com/aria-lang/kmerflow
`, Version())
}
