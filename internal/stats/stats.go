// Package stats summarizes the sequences fed to a count: lengths, base
// composition and how many k-mer windows were counted or skipped.
package stats

import (
	"fmt"
	"sort"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
)

// SequenceStats represents statistics for a single sequence. Bases are
// counted case-insensitively; NCount covers every byte outside ACGT.
type SequenceStats struct {
	Length    int
	GCContent float64
	ACount    int
	CCount    int
	GCount    int
	TCount    int
	NCount    int
}

// FromSequence calculates statistics for a sequence.
func FromSequence(seq string) *SequenceStats {
	s := &SequenceStats{Length: len(seq)}
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A', 'a':
			s.ACount++
		case 'C', 'c':
			s.CCount++
		case 'G', 'g':
			s.GCount++
		case 'T', 't':
			s.TCount++
		default:
			s.NCount++
		}
	}
	if s.Length > 0 {
		s.GCContent = float64(s.GCount+s.CCount) / float64(s.Length)
	}
	return s
}

// HasAmbiguous reports whether the sequence holds any byte outside ACGT.
func (s *SequenceStats) HasAmbiguous() bool {
	return s.NCount > 0
}

// Windows returns the number of length-k windows of the sequence.
func (s *SequenceStats) Windows(k int) int {
	if k <= 0 || s.Length < k {
		return 0
	}
	return s.Length - k + 1
}

func (s *SequenceStats) String() string {
	return fmt.Sprintf(`SequenceStats {
  length: %d
  GC content: %.1f%%
  A: %d, C: %d, G: %d, T: %d, other: %d
}`, s.Length, s.GCContent*100,
		s.ACount, s.CCount, s.GCount, s.TCount, s.NCount)
}

// SequenceSetStats represents aggregated statistics for a counted
// collection.
type SequenceSetStats struct {
	Count          int
	TotalBases     int
	MinLength      int
	MaxLength      int
	MeanLength     float64
	MedianLength   int
	MeanGCContent  float64
	N50            int
	TotalAmbiguous int

	K              int
	Windows        uint64
	CountedWindows uint64
}

// SkippedWindows returns the windows dropped for holding an ambiguous base.
func (s *SequenceSetStats) SkippedWindows() uint64 {
	return s.Windows - s.CountedWindows
}

func (s *SequenceSetStats) String() string {
	return fmt.Sprintf(`SequenceSetStats {
  count: %d
  total_bases: %d
  length range: %d - %d
  mean length: %.1f
  median length: %d
  mean GC: %.1f%%
  N50: %d
  ambiguous bases: %d
  %d-mer windows: %d (counted %d, skipped %d)
}`, s.Count, s.TotalBases, s.MinLength, s.MaxLength,
		s.MeanLength, s.MedianLength, s.MeanGCContent*100, s.N50, s.TotalAmbiguous,
		s.K, s.Windows, s.CountedWindows, s.SkippedWindows())
}

// Collector accumulates per-sequence statistics. It is not safe for
// concurrent use.
type Collector struct {
	lengths   []int
	total     int
	gcSum     float64
	ambiguous int
}

// Add records one sequence.
func (c *Collector) Add(seq string) {
	s := FromSequence(seq)
	c.lengths = append(c.lengths, s.Length)
	c.total += s.Length
	c.gcSum += s.GCContent
	c.ambiguous += s.NCount
}

// Count returns how many sequences were recorded.
func (c *Collector) Count() int {
	return len(c.lengths)
}

// Summary aggregates everything recorded. counted is the total of the tally
// produced from the same sequences with window size k.
func (c *Collector) Summary(k int, counted uint64) (*SequenceSetStats, error) {
	if err := kmer.ValidateK(k); err != nil {
		return nil, err
	}
	count := len(c.lengths)
	if count == 0 {
		return nil, fmt.Errorf("sequence list cannot be empty")
	}

	sorted := make([]int, count)
	copy(sorted, c.lengths)
	sort.Ints(sorted)

	mid := count / 2
	median := sorted[mid]
	if count%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	// N50: length where half of the bases are in sequences at least as long
	half := c.total / 2
	n50, running := sorted[count-1], 0
	for i := count - 1; i >= 0; i-- {
		running += sorted[i]
		if running >= half {
			n50 = sorted[i]
			break
		}
	}

	var windows uint64
	for _, l := range c.lengths {
		if l >= k {
			windows += uint64(l - k + 1)
		}
	}

	return &SequenceSetStats{
		Count:          count,
		TotalBases:     c.total,
		MinLength:      sorted[0],
		MaxLength:      sorted[count-1],
		MeanLength:     float64(c.total) / float64(count),
		MedianLength:   median,
		MeanGCContent:  c.gcSum / float64(count),
		N50:            n50,
		TotalAmbiguous: c.ambiguous,
		K:              k,
		Windows:        windows,
		CountedWindows: counted,
	}, nil
}

// Source records every sequence read through it.
type Source struct {
	seqio.Source
	Collector *Collector
}

// NewSource wraps src, recording into c.
func NewSource(src seqio.Source, c *Collector) *Source {
	return &Source{Source: src, Collector: c}
}

// Next implements seqio.Source.
func (s *Source) Next() (string, error) {
	seq, err := s.Source.Next()
	if err == nil {
		s.Collector.Add(seq)
	}
	return seq, err
}
