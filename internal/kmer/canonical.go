// Package kmer provides canonical k-mer counting.
//
// A k-mer is a window of k bases. Forward and reverse-strand occurrences of
// the same motif collapse onto one canonical key, the byte-wise smaller of
// the window and its reverse complement. Counts are kept in a Tally, which
// merges additively so that partial results can be combined in any order.
package kmer

import (
	"bytes"
	"fmt"
	"strings"
)

// MaxK is the largest window size accepted by ValidateK.
const MaxK = 1 << 12

// Unknown is the base any non-ACGT byte complements to.
const Unknown = 'N'

var (
	complementTable [256]byte
	upperTable      [256]byte
	validBase       [256]bool
)

func init() {
	for i := range complementTable {
		complementTable[i] = Unknown
		upperTable[i] = byte(i)
	}
	for _, p := range [][2]byte{{'A', 'T'}, {'C', 'G'}, {'G', 'C'}, {'T', 'A'}} {
		lower := p[0] + ('a' - 'A')
		complementTable[p[0]] = p[1]
		complementTable[lower] = p[1]
		upperTable[lower] = p[0]
		validBase[p[0]] = true
		validBase[lower] = true
	}
}

// IsValidBase reports whether b is one of A, C, G, T in either case.
func IsValidBase(b byte) bool {
	return validBase[b]
}

// ValidateK checks a caller-supplied window size.
func ValidateK(k int) error {
	return ValidateK64(int64(k))
}

// ValidateK64 is ValidateK for k values read from 64-bit columns.
func ValidateK64(k int64) error {
	if k <= 0 {
		return &InvalidParameterError{Param: "k", Value: k, Reason: "k must be greater than 0"}
	}
	if k > MaxK {
		return &InvalidParameterError{Param: "k", Value: k, Reason: fmt.Sprintf("k must not exceed %d", MaxK)}
	}
	return nil
}

// ReverseComplement returns the reverse complement of window. Output bases are
// uppercase; bytes outside ACGT become Unknown.
func ReverseComplement(window []byte) []byte {
	n := len(window)
	rc := make([]byte, n)
	for i, b := range window {
		rc[n-1-i] = complementTable[b]
	}
	return rc
}

// Canonical returns the smaller of the upper-cased window and its reverse
// complement. Palindromes return the window itself.
func Canonical(window []byte) []byte {
	fwd := make([]byte, len(window))
	for i, b := range window {
		fwd[i] = upperTable[b]
	}
	rc := ReverseComplement(window)
	if bytes.Compare(rc, fwd) < 0 {
		return rc
	}
	return fwd
}

// canonicalInto writes the canonical form of window into fwd and rc (both of
// len(window)) and returns whichever holds it. window must be valid bases only.
func canonicalInto(window string, fwd, rc []byte) []byte {
	n := len(window)
	for i := 0; i < n; i++ {
		b := window[i]
		fwd[i] = upperTable[b]
		rc[n-1-i] = complementTable[b]
	}
	if bytes.Compare(rc, fwd) < 0 {
		return rc
	}
	return fwd
}

// KMer is a single k-mer held as an uppercase string.
type KMer struct {
	Sequence string
	K        int
}

// NewKMer creates a k-mer from a sequence string.
func NewKMer(seq string) (*KMer, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("k-mer sequence cannot be empty")
	}
	if err := ValidateK(len(seq)); err != nil {
		return nil, err
	}
	return &KMer{
		Sequence: strings.ToUpper(seq),
		K:        len(seq),
	}, nil
}

// ReverseComplement returns the reverse complement of this k-mer.
func (km *KMer) ReverseComplement() *KMer {
	return &KMer{
		Sequence: string(ReverseComplement([]byte(km.Sequence))),
		K:        km.K,
	}
}

// Canonical returns the canonical form of this k-mer.
func (km *KMer) Canonical() *KMer {
	return &KMer{
		Sequence: string(Canonical([]byte(km.Sequence))),
		K:        km.K,
	}
}

// IsValid reports whether every base of the k-mer is A, C, G or T.
func (km *KMer) IsValid() bool {
	for i := 0; i < len(km.Sequence); i++ {
		if !validBase[km.Sequence[i]] {
			return false
		}
	}
	return true
}

func (km *KMer) String() string {
	return km.Sequence
}
