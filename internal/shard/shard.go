// Package shard counts canonical k-mers over large sequence collections by
// splitting them into fixed-size chunks, scanning chunks on a worker pool and
// tree-reducing the chunk tallies.
//
// Workers never share a tally. The result does not depend on ChunkSize or
// Workers because tally merging is associative and commutative.
//
// A failing chunk aborts the whole count: the first ChunkError is returned and
// no partial tally is produced.
package shard

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
)

// DefaultChunkSize is the number of sequences per chunk when unset.
const DefaultChunkSize = 1024

// Config controls chunking and parallelism.
type Config struct {
	ChunkSize int // sequences per chunk; <= 0 means DefaultChunkSize
	Workers   int // worker goroutines; <= 0 means GOMAXPROCS
}

// Aggregator is the bulk counting path.
type Aggregator struct {
	cfg Config

	// OnChunk, if set, is called once per finished chunk with the number of
	// sequences it held. Calls come from a single goroutine.
	OnChunk func(seqs int)

	scan func(s *kmer.Scanner, seqs []string) kmer.Tally
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Aggregator{cfg: cfg, scan: (*kmer.Scanner).CountAll}
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Count counts the canonical k-mers of seqs.
func (a *Aggregator) Count(seqs []string, k int) (kmer.Tally, error) {
	return a.CountSource(seqio.NewSliceSource(seqs), k)
}

// CountSource counts the canonical k-mers of every sequence src yields. A read
// error from src aborts the count.
func (a *Aggregator) CountSource(src seqio.Source, k int) (kmer.Tally, error) {
	if err := kmer.ValidateK(k); err != nil {
		return nil, err
	}

	workers := a.cfg.Workers
	log.Debugf("shard: counting k=%d chunk_size=%d workers=%d", k, a.cfg.ChunkSize, workers)

	type job struct {
		idx  int
		seqs []string
	}
	type result struct {
		size  int
		tally kmer.Tally
		err   error
	}
	jobs := make(chan job, workers*2)
	results := make(chan result, workers*2)

	abort := make(chan struct{})
	var abortOnce sync.Once

	// Workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			scanner, _ := kmer.NewScanner(k)
			for j := range jobs {
				t, err := a.scanChunk(scanner, j.idx, j.seqs)
				results <- result{size: len(j.seqs), tally: t, err: err}
			}
		}()
	}

	// Collector
	var (
		partials []kmer.Tally
		cerr     error
		cwg      sync.WaitGroup
	)
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for r := range results {
			if cerr != nil {
				continue
			}
			if r.err != nil {
				cerr = r.err
				abortOnce.Do(func() { close(abort) })
				continue
			}
			partials = append(partials, r.tally)
			if a.OnChunk != nil {
				a.OnChunk(r.size)
			}
		}
	}()

	// Feed work
	var rerr error
	chunks := 0
feed:
	for {
		batch, err := readChunk(src, a.cfg.ChunkSize)
		if len(batch) > 0 {
			select {
			case <-abort:
				break feed
			case jobs <- job{idx: chunks, seqs: batch}:
				chunks++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			rerr = errors.Wrap(err, "read sequences")
			break
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	if cerr != nil {
		log.Warnf("shard: aborting count: %v", cerr)
		return nil, cerr
	}
	if rerr != nil {
		return nil, rerr
	}

	t := Reduce(partials, workers)
	log.Debugf("shard: reduced %d chunk tallies into %d k-mers", chunks, len(t))
	return t, nil
}

func (a *Aggregator) scanChunk(s *kmer.Scanner, idx int, seqs []string) (t kmer.Tally, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, &kmer.ChunkError{Chunk: idx, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return a.scan(s, seqs), nil
}

// readChunk reads up to n sequences. It returns io.EOF together with the last
// (possibly empty) batch.
func readChunk(src seqio.Source, n int) ([]string, error) {
	batch := make([]string, 0, n)
	for len(batch) < n {
		s, err := src.Next()
		if err != nil {
			return batch, err
		}
		batch = append(batch, s)
	}
	return batch, nil
}

// Reduce merges tallies pairwise, one tree level at a time, running up to
// workers merges of a level in parallel. It consumes its inputs: the returned
// tally may alias any of them.
func Reduce(tallies []kmer.Tally, workers int) kmer.Tally {
	if len(tallies) == 0 {
		return make(kmer.Tally)
	}
	if workers < 1 {
		workers = 1
	}

	for len(tallies) > 1 {
		next := make([]kmer.Tally, (len(tallies)+1)/2)
		_ = traverse.Limit(workers).Each(len(next), func(i int) error {
			if 2*i+1 == len(tallies) {
				next[i] = tallies[2*i]
				return nil
			}
			dst, src := tallies[2*i], tallies[2*i+1]
			if len(dst) < len(src) {
				dst, src = src, dst
			}
			dst.Merge(src)
			next[i] = dst
			return nil
		})
		tallies = next
	}
	return tallies[0]
}
