package aggregate

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/aria-lang/kmerflow/internal/kmer"
)

// ArgsFromRecord picks the argument columns of kmer_count out of rec. kCol is
// ignored when empty. The returned arrays are borrowed from rec.
func ArgsFromRecord(rec arrow.Record, seqCol, kCol string) ([]arrow.Array, error) {
	names := []string{seqCol}
	if kCol != "" {
		names = append(names, kCol)
	}

	args := make([]arrow.Array, 0, len(names))
	for _, name := range names {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, &kmer.SchemaMismatchError{Column: name, Expected: "column " + name}
		}
		args = append(args, rec.Column(idx[0]))
	}
	return args, nil
}

// RunPartitioned drives u the way a partitioned host would: batch i goes to
// partition i%partitions, partitions update in parallel, partial states are
// merged pairwise up a tree and the root is evaluated. The caller releases the
// result.
func RunPartitioned(u *UDAF, batches [][]arrow.Array, partitions int) (arrow.Array, error) {
	if partitions < 1 {
		partitions = 1
	}
	if len(batches) > 0 && partitions > len(batches) {
		partitions = len(batches)
	}
	log.Debugf("aggregate: running %s over %d batches in %d partitions", u.Name, len(batches), partitions)

	accs := make([]Accumulator, partitions)
	for i := range accs {
		acc, err := u.NewAccumulator()
		if err != nil {
			return nil, err
		}
		accs[i] = acc
	}

	err := traverse.Each(partitions, func(p int) error {
		for i := p; i < len(batches); i += partitions {
			if err := accs[p].Update(batches[i]); err != nil {
				return errors.Wrapf(err, "partition %d batch %d", p, i)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for len(accs) > 1 {
		next := make([]Accumulator, 0, (len(accs)+1)/2)
		for i := 0; i < len(accs); i += 2 {
			if i+1 == len(accs) {
				next = append(next, accs[i])
				continue
			}
			if err := mergeInto(accs[i], accs[i+1]); err != nil {
				return nil, err
			}
			next = append(next, accs[i])
		}
		accs = next
	}

	return accs[0].Evaluate()
}

func mergeInto(dst, src Accumulator) error {
	state, err := src.State()
	if err != nil {
		return err
	}
	defer func() {
		for _, arr := range state {
			arr.Release()
		}
	}()
	return errors.Wrap(dst.Merge(state), "merge partial state")
}
