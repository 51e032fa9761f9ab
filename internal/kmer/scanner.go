package kmer

// Scanner extracts canonical k-mers of one fixed size.
type Scanner struct {
	K int

	fwd, rc []byte
}

// NewScanner creates a scanner for windows of size k.
func NewScanner(k int) (*Scanner, error) {
	if err := ValidateK(k); err != nil {
		return nil, err
	}
	return &Scanner{K: k, fwd: make([]byte, k), rc: make([]byte, k)}, nil
}

// ScanInto adds one count per valid window of seq to t. Windows containing a
// byte outside ACGT/acgt are skipped; a sequence shorter than K adds nothing.
// It returns the number of windows counted.
func (s *Scanner) ScanInto(seq string, t Tally) int {
	k := s.K
	if len(seq) < k {
		return 0
	}
	if len(s.fwd) != k {
		s.fwd, s.rc = make([]byte, k), make([]byte, k)
	}

	n := 0
	lastInvalid := -1
	for i := 0; i < len(seq); i++ {
		if !validBase[seq[i]] {
			lastInvalid = i
		}
		start := i - k + 1
		if start < 0 || lastInvalid >= start {
			continue
		}
		key := canonicalInto(seq[start:i+1], s.fwd, s.rc)
		t[string(key)]++
		n++
	}
	return n
}

// Count returns the local tally of a single sequence.
func (s *Scanner) Count(seq string) Tally {
	t := make(Tally)
	s.ScanInto(seq, t)
	return t
}

// CountAll returns the tally of every sequence in seqs.
func (s *Scanner) CountAll(seqs []string) Tally {
	t := make(Tally)
	for _, seq := range seqs {
		s.ScanInto(seq, t)
	}
	return t
}

// Count counts the canonical k-mers of the given sequences sequentially.
func Count(seqs []string, k int) (Tally, error) {
	s, err := NewScanner(k)
	if err != nil {
		return nil, err
	}
	return s.CountAll(seqs), nil
}
