package aggregate

import (
	"math/rand"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/table"
)

func stringArray(mem memory.Allocator, vals []string, valid []bool) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

func int64Array(mem memory.Allocator, vals []int64, valid []bool) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return b.NewArray()
}

func release(arrs ...arrow.Array) {
	for _, a := range arrs {
		a.Release()
	}
}

func evaluate(t *testing.T, acc Accumulator) kmer.Tally {
	t.Helper()
	out, err := acc.Evaluate()
	require.NoError(t, err)
	defer out.Release()

	st, ok := out.(*array.Struct)
	require.True(t, ok)
	got, err := table.TallyFromStruct(st)
	require.NoError(t, err)
	return got
}

func TestStaticScenarios(t *testing.T) {
	tests := []struct {
		name string
		seqs []string
		want kmer.Tally
	}{
		{"palindrome", []string{"ACGT"}, kmer.Tally{"AC": 2, "CG": 1}},
		{"ambiguous base", []string{"ACNGT"}, kmer.Tally{"AC": 2}},
		{"lowercase", []string{"acgt"}, kmer.Tally{"AC": 2, "CG": 1}},
		{"too short", []string{"A"}, kmer.Tally{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			acc, err := NewStatic(mem, 2)
			require.NoError(t, err)

			seqs := stringArray(mem, tt.seqs, nil)
			defer seqs.Release()
			require.NoError(t, acc.Update([]arrow.Array{seqs}))

			assert.Equal(t, tt.want, evaluate(t, acc))
			assert.Equal(t, Finalized, acc.Phase())
		})
	}
}

func TestMergePartialStates(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	a, err := NewStatic(mem, 2)
	require.NoError(t, err)
	b, err := NewStatic(mem, 2)
	require.NoError(t, err)

	s1 := stringArray(mem, []string{"ACGT"}, nil)
	s2 := stringArray(mem, []string{"ACNGT"}, nil)
	defer release(s1, s2)

	require.NoError(t, a.Update([]arrow.Array{s1}))
	require.NoError(t, b.Update([]arrow.Array{s2}))

	state, err := b.State()
	require.NoError(t, err)
	require.NoError(t, a.Merge(state))
	release(state...)

	assert.Equal(t, kmer.Tally{"AC": 4, "CG": 1}, evaluate(t, a))
}

func TestStateRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()

	src, err := NewStatic(mem, 3)
	require.NoError(t, err)
	seqs := stringArray(mem, []string{"ACGTTGCA", "GGGCCCAT"}, nil)
	defer seqs.Release()
	require.NoError(t, src.Update([]arrow.Array{seqs}))

	state, err := src.State()
	require.NoError(t, err)
	defer release(state...)

	dst := NewPerRow(mem)
	require.NoError(t, dst.Merge(state))
	assert.Equal(t, 3, dst.K())
	assert.Equal(t, Accumulating, dst.Phase())
	assert.Equal(t, src.Tally(), dst.Tally())
}

func TestMergeEmptyStateKeepsPhase(t *testing.T) {
	mem := memory.NewGoAllocator()

	empty := NewPerRow(mem)
	state, err := empty.State()
	require.NoError(t, err)
	defer release(state...)

	acc := NewPerRow(mem)
	require.NoError(t, acc.Merge(state))
	assert.Equal(t, Empty, acc.Phase())
	assert.Equal(t, 0, acc.K())
}

func TestUseAfterEvaluate(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc, err := NewStatic(mem, 2)
	require.NoError(t, err)

	out, err := acc.Evaluate()
	require.NoError(t, err)
	out.Release()

	seqs := stringArray(mem, []string{"ACGT"}, nil)
	defer seqs.Release()
	other, err := NewStatic(mem, 2)
	require.NoError(t, err)
	state, err := other.State()
	require.NoError(t, err)
	defer release(state...)

	tests := []struct {
		name string
		call func() error
	}{
		{"update", func() error { return acc.Update([]arrow.Array{seqs}) }},
		{"merge", func() error { return acc.Merge(state) }},
		{"state", func() error { _, err := acc.State(); return err }},
		{"evaluate", func() error { _, err := acc.Evaluate(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, kmer.KindFinalized, kmer.KindOf(err))
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestPerRowInconsistentK(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc := NewPerRow(mem)

	s1, k1 := stringArray(mem, []string{"ACGT"}, nil), int64Array(mem, []int64{3}, nil)
	s2, k2 := stringArray(mem, []string{"ACGTA"}, nil), int64Array(mem, []int64{4}, nil)
	defer release(s1, k1, s2, k2)

	require.NoError(t, acc.Update([]arrow.Array{s1, k1}))
	assert.Equal(t, 3, acc.K())
	before := acc.Tally()

	err := acc.Update([]arrow.Array{s2, k2})
	require.Error(t, err)
	assert.Equal(t, kmer.KindInconsistentParameter, kmer.KindOf(err))
	assert.Equal(t, before, acc.Tally())
}

func TestPerRowBatchIsAtomic(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc := NewPerRow(mem)

	seqs := stringArray(mem, []string{"ACGT", "ACGT"}, nil)
	ks := int64Array(mem, []int64{2, 3}, nil)
	defer release(seqs, ks)

	err := acc.Update([]arrow.Array{seqs, ks})
	require.Error(t, err)
	assert.Equal(t, kmer.KindInconsistentParameter, kmer.KindOf(err))
	assert.Empty(t, acc.Tally())
	assert.Equal(t, Empty, acc.Phase())
}

func TestPerRowInvalidK(t *testing.T) {
	mem := memory.NewGoAllocator()

	tests := []struct {
		name  string
		ks    []int64
		valid []bool
	}{
		{"zero", []int64{0}, nil},
		{"negative", []int64{-2}, nil},
		{"too large", []int64{kmer.MaxK + 1}, nil},
		{"null", []int64{0}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seqs := stringArray(mem, []string{"ACGT"}, nil)
			ks := int64Array(mem, tt.ks, tt.valid)
			defer release(seqs, ks)

			err := NewPerRow(mem).Update([]arrow.Array{seqs, ks})
			require.Error(t, err)
			assert.Equal(t, kmer.KindInvalidParameter, kmer.KindOf(err))
		})
	}
}

func TestPerRowSkipsNullSequences(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc := NewPerRow(mem)

	seqs := stringArray(mem, []string{"", "ACGT"}, []bool{false, true})
	ks := int64Array(mem, []int64{0, 2}, []bool{false, true})
	defer release(seqs, ks)

	require.NoError(t, acc.Update([]arrow.Array{seqs, ks}))
	assert.Equal(t, kmer.Tally{"AC": 2, "CG": 1}, acc.Tally())
}

func TestPerRowNullSequenceIgnoresK(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc := NewPerRow(mem)

	seqs := stringArray(mem, []string{"", "ACGT"}, []bool{false, true})
	ks := int64Array(mem, []int64{-5, 2}, nil)
	defer release(seqs, ks)

	require.NoError(t, acc.Update([]arrow.Array{seqs, ks}))
	assert.Equal(t, kmer.Tally{"AC": 2, "CG": 1}, acc.Tally())
	assert.Equal(t, 2, acc.K())
}

func TestMergeAdoptsKThenRejectsOther(t *testing.T) {
	mem := memory.NewGoAllocator()

	kmers := stringArray(mem, []string{"AC", "CG"}, nil)
	cb := array.NewUint64Builder(mem)
	cb.AppendValues([]uint64{2, 1}, nil)
	counts := cb.NewArray()
	cb.Release()
	defer release(kmers, counts)

	acc := NewPerRow(mem)
	require.NoError(t, acc.Merge([]arrow.Array{kmers, counts}))
	assert.Equal(t, 2, acc.K())

	seqs, ks := stringArray(mem, []string{"ACGT"}, nil), int64Array(mem, []int64{3}, nil)
	defer release(seqs, ks)
	err := acc.Update([]arrow.Array{seqs, ks})
	assert.Equal(t, kmer.KindInconsistentParameter, kmer.KindOf(err))

	static, err := NewStatic(mem, 3)
	require.NoError(t, err)
	err = static.Merge([]arrow.Array{kmers, counts})
	assert.Equal(t, kmer.KindInconsistentParameter, kmer.KindOf(err))
}

func TestSchemaMismatch(t *testing.T) {
	mem := memory.NewGoAllocator()
	seqs := stringArray(mem, []string{"ACGT"}, nil)
	nums := int64Array(mem, []int64{2}, nil)
	defer release(seqs, nums)

	static, err := NewStatic(mem, 2)
	require.NoError(t, err)

	tests := []struct {
		name string
		acc  Accumulator
		args []arrow.Array
	}{
		{"static wrong type", static, []arrow.Array{nums}},
		{"static no args", static, nil},
		{"static extra arg", static, []arrow.Array{seqs, nums}},
		{"per-row missing k", NewPerRow(mem), []arrow.Array{seqs}},
		{"per-row k as text", NewPerRow(mem), []arrow.Array{seqs, seqs}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.acc.Update(tt.args)
			require.Error(t, err)
			assert.Equal(t, kmer.KindSchemaMismatch, kmer.KindOf(err))
		})
	}

	err = static.Merge([]arrow.Array{seqs})
	assert.Equal(t, kmer.KindSchemaMismatch, kmer.KindOf(err))
}

func TestNewStaticInvalidK(t *testing.T) {
	_, err := NewStatic(memory.NewGoAllocator(), 0)
	require.Error(t, err)
	assert.Equal(t, kmer.KindInvalidParameter, kmer.KindOf(err))
}

func TestSizeGrows(t *testing.T) {
	mem := memory.NewGoAllocator()
	acc, err := NewStatic(mem, 4)
	require.NoError(t, err)

	last := acc.Size()
	assert.Greater(t, last, 0)
	for _, s := range []string{"ACGTAC", "GGGTTTAAACCC", "TTGACCA"} {
		seqs := stringArray(mem, []string{s}, nil)
		require.NoError(t, acc.Update([]arrow.Array{seqs}))
		seqs.Release()

		size := acc.Size()
		assert.GreaterOrEqual(t, size, last)
		last = size
	}
}

func randomBatches(mem memory.Allocator, n int, seed int64) ([][]arrow.Array, []string) {
	rng := rand.New(rand.NewSource(seed))
	alphabet := "ACGTACGTNacgt"
	var all []string
	batches := make([][]arrow.Array, n)
	for i := range batches {
		seqs := make([]string, rng.Intn(6))
		for j := range seqs {
			b := make([]byte, rng.Intn(60))
			for x := range b {
				b[x] = alphabet[rng.Intn(len(alphabet))]
			}
			seqs[j] = string(b)
		}
		all = append(all, seqs...)
		batches[i] = []arrow.Array{stringArray(mem, seqs, nil)}
	}
	return batches, all
}

func TestRunPartitionedInvariance(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	batches, all := randomBatches(mem, 23, 11)
	defer func() {
		for _, b := range batches {
			release(b...)
		}
	}()

	want, err := kmer.Count(all, 4)
	require.NoError(t, err)

	u, err := NewKmerCountUDAF(mem, 4)
	require.NoError(t, err)

	for _, partitions := range []int{1, 2, 3, 8, 64} {
		out, err := RunPartitioned(u, batches, partitions)
		require.NoError(t, err)
		got, err := table.TallyFromStruct(out.(*array.Struct))
		out.Release()
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "partitions=%d", partitions)
	}
}

func TestRunPartitionedPropagatesErrors(t *testing.T) {
	mem := memory.NewGoAllocator()
	seqs := stringArray(mem, []string{"ACGT"}, nil)
	k1, k2 := int64Array(mem, []int64{2}, nil), int64Array(mem, []int64{3}, nil)
	defer release(seqs, k1, k2)

	u := NewKmerCountUDAFPerRow(mem)
	_, err := RunPartitioned(u, [][]arrow.Array{{seqs, k1}, {seqs, k2}}, 2)
	require.Error(t, err)
	assert.Equal(t, kmer.KindInconsistentParameter, kmer.KindOf(err))
}

func TestRunPartitionedUpdateError(t *testing.T) {
	mem := memory.NewGoAllocator()
	seqs := stringArray(mem, []string{"ACGT"}, nil)
	good, bad := int64Array(mem, []int64{2}, nil), int64Array(mem, []int64{0}, nil)
	defer release(seqs, good, bad)

	u := NewKmerCountUDAFPerRow(mem)
	batches := [][]arrow.Array{{seqs, good}, {seqs, good}, {seqs, bad}, {seqs, good}}
	_, err := RunPartitioned(u, batches, 4)
	require.Error(t, err)
	assert.Equal(t, kmer.KindInvalidParameter, kmer.KindOf(err))
	assert.Contains(t, err.Error(), "partition 2 batch 2")
}

func TestArgsFromRecord(t *testing.T) {
	mem := memory.NewGoAllocator()
	rec := seqio.ToRecord(mem, []seqio.Record{{ID: "r1", Sequence: "ACGT"}, {ID: "r2", Sequence: "ACNGT"}})
	defer rec.Release()

	args, err := ArgsFromRecord(rec, seqio.ColumnSequence, "")
	require.NoError(t, err)
	require.Len(t, args, 1)

	u, err := NewKmerCountUDAF(mem, 2)
	require.NoError(t, err)
	acc, err := u.NewAccumulator()
	require.NoError(t, err)
	require.NoError(t, acc.Update(args))
	assert.Equal(t, kmer.Tally{"AC": 4, "CG": 1}, evaluate(t, acc))

	_, err = ArgsFromRecord(rec, seqio.ColumnSequence, "k")
	require.Error(t, err)
	assert.Equal(t, kmer.KindSchemaMismatch, kmer.KindOf(err))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	static, err := NewKmerCountUDAF(nil, 5)
	require.NoError(t, err)
	perRow := NewKmerCountUDAFPerRow(nil)

	require.NoError(t, reg.Register(static))
	require.NoError(t, reg.Register(perRow))
	assert.Error(t, reg.Register(static))

	got, ok := reg.Lookup(Name, 2)
	require.True(t, ok)
	assert.Same(t, perRow, got)
	_, ok = reg.Lookup(Name, 3)
	assert.False(t, ok)

	assert.Equal(t, []string{"kmer_count/1", "kmer_count/2"}, reg.Names())
	assert.Equal(t, Immutable, static.Volatility)
	assert.Equal(t, "kmer_count/1 (immutable)", static.String())
	assert.Equal(t, arrow.STRUCT, static.ReturnType.ID())
}
