package aggregate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/table"
)

// Name is the name kmer_count registers under.
const Name = "kmer_count"

// Volatility tells the host whether results may be cached or reordered.
type Volatility int

const (
	// Immutable operators always return the same output for the same input.
	Immutable Volatility = iota
	// Stable operators are immutable within one query.
	Stable
	// Volatile operators may return different results on every call.
	Volatile
)

func (v Volatility) String() string {
	switch v {
	case Immutable:
		return "immutable"
	case Stable:
		return "stable"
	default:
		return "volatile"
	}
}

// UDAF describes an aggregate operator to a host.
type UDAF struct {
	Name        string
	InputTypes  []arrow.DataType
	ReturnType  arrow.DataType
	StateFields []arrow.Field
	Volatility  Volatility

	newAccumulator func() (Accumulator, error)
}

// NewAccumulator creates a fresh accumulator for one partition or group.
func (u *UDAF) NewAccumulator() (Accumulator, error) {
	return u.newAccumulator()
}

// Arity returns the number of arguments the operator takes.
func (u *UDAF) Arity() int {
	return len(u.InputTypes)
}

func (u *UDAF) String() string {
	return fmt.Sprintf("%s/%d (%s)", u.Name, u.Arity(), u.Volatility)
}

var (
	returnType  = arrow.StructOf(table.Fields...)
	stateFields = []arrow.Field{
		{Name: table.ColumnKmer, Type: arrow.BinaryTypes.String},
		{Name: table.ColumnCount, Type: arrow.PrimitiveTypes.Uint64},
	}
)

// NewKmerCountUDAF returns kmer_count(sequence) with k fixed at registration.
func NewKmerCountUDAF(mem memory.Allocator, k int) (*UDAF, error) {
	if err := kmer.ValidateK(k); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &UDAF{
		Name:        Name,
		InputTypes:  []arrow.DataType{arrow.BinaryTypes.String},
		ReturnType:  returnType,
		StateFields: stateFields,
		Volatility:  Immutable,
		newAccumulator: func() (Accumulator, error) {
			return NewStatic(mem, k)
		},
	}, nil
}

// NewKmerCountUDAFPerRow returns kmer_count(sequence, k) with k read per row.
func NewKmerCountUDAFPerRow(mem memory.Allocator) *UDAF {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &UDAF{
		Name:        Name,
		InputTypes:  []arrow.DataType{arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64},
		ReturnType:  returnType,
		StateFields: stateFields,
		Volatility:  Immutable,
		newAccumulator: func() (Accumulator, error) {
			return NewPerRow(mem), nil
		},
	}
}

type registryKey struct {
	name  string
	arity int
}

// Registry holds operators by name and arity.
type Registry struct {
	mu    sync.RWMutex
	udafs map[registryKey]*UDAF
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{udafs: make(map[registryKey]*UDAF)}
}

// Register adds u. Registering the same name and arity twice fails.
func (r *Registry) Register(u *UDAF) error {
	key := registryKey{u.Name, u.Arity()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.udafs[key]; ok {
		return fmt.Errorf("aggregate %s/%d already registered", u.Name, u.Arity())
	}
	r.udafs[key] = u
	return nil
}

// Lookup finds the operator registered for name and arity.
func (r *Registry) Lookup(name string, arity int) (*UDAF, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.udafs[registryKey{name, arity}]
	return u, ok
}

// Names lists registered operators as name/arity.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.udafs))
	for key := range r.udafs {
		names = append(names, fmt.Sprintf("%s/%d", key.name, key.arity))
	}
	sort.Strings(names)
	return names
}
