package kmer

import (
	"fmt"
	"sort"
)

// MaxTopN bounds the n accepted by TopN.
const MaxTopN = 100

// KMerCount is a k-mer and its count.
type KMerCount struct {
	KMer  string `json:"kmer"`
	Count uint64 `json:"count"`
}

// Tally maps canonical k-mers to occurrence counts. Tallies form a
// commutative monoid under Merge.
type Tally map[string]uint64

// Add adds n occurrences of kmer.
func (t Tally) Add(kmer string, n uint64) {
	if n == 0 {
		return
	}
	t[kmer] += n
}

// Merge adds every count of other into t.
func (t Tally) Merge(other Tally) {
	for kmer, n := range other {
		t[kmer] += n
	}
}

// Clone returns an independent copy of t.
func (t Tally) Clone() Tally {
	c := make(Tally, len(t))
	for kmer, n := range t {
		c[kmer] = n
	}
	return c
}

// Total returns the sum of all counts.
func (t Tally) Total() uint64 {
	var total uint64
	for _, n := range t {
		total += n
	}
	return total
}

// UniqueCount returns the number of distinct k-mers.
func (t Tally) UniqueCount() int {
	return len(t)
}

// Equal reports whether t and other hold the same keys with the same counts.
func (t Tally) Equal(other Tally) bool {
	if len(t) != len(other) {
		return false
	}
	for kmer, n := range t {
		if m, ok := other[kmer]; !ok || m != n {
			return false
		}
	}
	return true
}

// Keys returns the k-mers of t in ascending order.
func (t Tally) Keys() []string {
	keys := make([]string, 0, len(t))
	for kmer := range t {
		keys = append(keys, kmer)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns the (k-mer, count) pairs of t ordered by k-mer.
func (t Tally) Entries() []KMerCount {
	keys := t.Keys()
	out := make([]KMerCount, len(keys))
	for i, kmer := range keys {
		out[i] = KMerCount{KMer: kmer, Count: t[kmer]}
	}
	return out
}

// MostFrequent returns the n most frequent k-mers, ties broken by k-mer.
func (t Tally) MostFrequent(n int) ([]KMerCount, error) {
	if n <= 0 {
		return nil, &InvalidParameterError{Param: "n", Value: int64(n), Reason: "n must be positive"}
	}

	counts := t.Entries()
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})

	if n > len(counts) {
		n = len(counts)
	}
	return counts[:n], nil
}

// LeastFrequent returns the n least frequent k-mers, ties broken by k-mer.
func (t Tally) LeastFrequent(n int) ([]KMerCount, error) {
	if n <= 0 {
		return nil, &InvalidParameterError{Param: "n", Value: int64(n), Reason: "n must be positive"}
	}

	counts := t.Entries()
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count < counts[j].Count
	})

	if n > len(counts) {
		n = len(counts)
	}
	return counts[:n], nil
}

// TopN is MostFrequent bounded by MaxTopN.
func (t Tally) TopN(n int) ([]KMerCount, error) {
	if n > MaxTopN {
		return nil, &InvalidParameterError{Param: "top_n", Value: int64(n), Reason: fmt.Sprintf("top_n must not exceed %d", MaxTopN)}
	}
	return t.MostFrequent(n)
}

// FilterByCount returns k-mers with count >= minCount, ordered by k-mer.
func (t Tally) FilterByCount(minCount uint64) ([]KMerCount, error) {
	if minCount == 0 {
		return nil, &InvalidParameterError{Param: "min_count", Value: 0, Reason: "min_count must be positive"}
	}

	result := make([]KMerCount, 0)
	for _, kc := range t.Entries() {
		if kc.Count >= minCount {
			result = append(result, kc)
		}
	}
	return result, nil
}

// Spectrum maps each count value to the number of k-mers having it.
func (t Tally) Spectrum() map[uint64]int {
	spectrum := make(map[uint64]int)
	for _, n := range t {
		spectrum[n]++
	}
	return spectrum
}

// Frequency returns the share of all counted windows that are kmer.
func (t Tally) Frequency(kmer string) float64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	return float64(t[kmer]) / float64(total)
}

// MergeAll returns a new tally holding the key-wise sum of tallies.
func MergeAll(tallies ...Tally) Tally {
	size := 0
	for _, t := range tallies {
		if len(t) > size {
			size = len(t)
		}
	}
	out := make(Tally, size)
	for _, t := range tallies {
		out.Merge(t)
	}
	return out
}
