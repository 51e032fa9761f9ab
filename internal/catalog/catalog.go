// Package catalog keeps named Arrow tables in memory so that sequence tables
// can be registered, counted and read back by name.
package catalog

import (
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/shard"
	"github.com/aria-lang/kmerflow/internal/table"
)

// ResultTable is the name CountTable registers its result under.
const ResultTable = "kmers_result"

// ErrNotFound is returned for unknown table names.
var ErrNotFound = errors.New("table not found")

// Catalog stores tables by name.
type Catalog interface {
	// Register stores rec under name, replacing any previous table. The
	// catalog retains rec.
	Register(name string, rec arrow.Record) error
	// Table returns the named table retained. The caller releases it.
	Table(name string) (arrow.Record, error)
	// Drop removes and releases the named table.
	Drop(name string) error
	// Names lists registered tables in order.
	Names() []string
}

// Memory is a Catalog held in process memory.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]arrow.Record
}

var _ Catalog = (*Memory)(nil)

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]arrow.Record)}
}

// Register implements Catalog.
func (m *Memory) Register(name string, rec arrow.Record) error {
	if name == "" {
		return errors.New("table name must not be empty")
	}
	rec.Retain()

	m.mu.Lock()
	old, ok := m.tables[name]
	m.tables[name] = rec
	m.mu.Unlock()

	if ok {
		old.Release()
	}
	log.Debugf("catalog: registered %s (%d rows)", name, rec.NumRows())
	return nil
}

// Table implements Catalog.
func (m *Memory) Table(name string) (arrow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tables[name]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	rec.Retain()
	return rec, nil
}

// Drop implements Catalog.
func (m *Memory) Drop(name string) error {
	m.mu.Lock()
	rec, ok := m.tables[name]
	delete(m.tables, name)
	m.mu.Unlock()

	if !ok {
		return errors.Wrap(ErrNotFound, name)
	}
	rec.Release()
	return nil
}

// Names implements Catalog.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every table.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, rec := range m.tables {
		rec.Release()
		delete(m.tables, name)
	}
}

// CountTable counts the canonical k-mers of the sequence column of the named
// table and registers the result, ordered by k-mer, as ResultTable.
func CountTable(mem memory.Allocator, cat Catalog, name string, k int, agg *shard.Aggregator) (kmer.Tally, error) {
	if err := kmer.ValidateK(k); err != nil {
		return nil, err
	}
	rec, err := cat.Table(name)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	src, err := seqio.NewColumnSource(rec, seqio.ColumnSequence)
	if err != nil {
		return nil, err
	}
	t, err := agg.CountSource(src, k)
	if err != nil {
		return nil, errors.Wrapf(err, "count table %s", name)
	}

	result := table.Materialize(mem, t, table.ByKmer)
	defer result.Release()
	if err := cat.Register(ResultTable, result); err != nil {
		return nil, err
	}
	return t, nil
}

// IsNotFound reports whether err is caused by an unknown table name.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
