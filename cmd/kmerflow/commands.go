package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aria-lang/kmerflow/internal/aggregate"
	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/seqio"
	"github.com/aria-lang/kmerflow/internal/shard"
	"github.com/aria-lang/kmerflow/internal/stats"
	"github.com/aria-lang/kmerflow/internal/table"
)

type countOptions struct {
	files    []string
	seqs     []string
	k        int
	top      int
	order    string
	output   string
	progress bool
	stats    bool

	chunkSize  int
	workers    int
	partitions int
	batchSize  int
}

func (o *countOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&o.files, "input", "i", nil, "Input FASTA/FASTQ files, plain or compressed (- for stdin)")
	cmd.Flags().StringSliceVarP(&o.seqs, "seq", "s", nil, "Sequence strings to count")
	cmd.Flags().IntVarP(&o.k, "kmer-size", "k", 0, "K-mer size (default from config)")
	cmd.Flags().IntVarP(&o.top, "top", "n", 0, fmt.Sprintf("Only print the n most frequent k-mers (at most %d)", kmer.MaxTopN))
	cmd.Flags().StringVar(&o.order, "order", "kmer", "Row order: kmer, count or none")
	cmd.Flags().StringVarP(&o.output, "output", "o", "-", "Output TSV file")
	cmd.Flags().BoolVarP(&o.progress, "progress", "p", false, "Show a progress bar")
	cmd.Flags().BoolVarP(&o.stats, "stats", "S", false, "Print input statistics to stderr")
	cmd.Flags().IntVarP(&o.workers, "threads", "t", 0, "Number of threads (default from config)")
}

// apply fills unset options from cfg.
// apply fills unset options from the config. An explicit -k is kept as given,
// even 0, so that it gets validated.
func (o *countOptions) apply(cmd *cobra.Command, g *globalOptions) {
	if !cmd.Flags().Changed("kmer-size") {
		o.k = g.cfg.Kmer.K
	}
	if o.chunkSize == 0 {
		o.chunkSize = g.cfg.Kmer.ChunkSize
	}
	if o.workers == 0 {
		o.workers = g.cfg.Kmer.Workers
	}
	if o.partitions == 0 {
		o.partitions = g.cfg.Kmer.Partitions
	}
}

func (o *countOptions) sources() ([]seqio.Source, func(), error) {
	if len(o.files) == 0 && len(o.seqs) == 0 {
		return nil, nil, errors.New("either --input or --seq is required")
	}

	var (
		srcs  []seqio.Source
		files []*seqio.FileSource
	)
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	if len(o.seqs) > 0 {
		srcs = append(srcs, seqio.NewSliceSource(o.seqs))
	}
	for _, file := range o.files {
		f, err := seqio.OpenFile(file)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		srcs = append(srcs, f)
	}
	return srcs, closeAll, nil
}

func countCommand(g *globalOptions) *cobra.Command {
	opts := &countOptions{}
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count canonical k-mers on the sharded bulk path",
		Long:  "Count canonical k-mers by scanning fixed-size chunks of sequences on a worker pool and merging the chunk tallies",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, g)
			return runCount(opts, cmd.ErrOrStderr())
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().IntVarP(&opts.chunkSize, "chunk-size", "C", 0, "Sequences per chunk (default from config)")
	return cmd
}

func runCount(opts *countOptions, stderr io.Writer) error {
	order, ok := table.ParseOrder(opts.order)
	if !ok {
		return errors.Errorf("unknown order: %s", opts.order)
	}
	srcs, closeAll, err := opts.sources()
	if err != nil {
		return err
	}
	defer closeAll()

	agg := shard.New(shard.Config{ChunkSize: opts.chunkSize, Workers: opts.workers})
	var bar *pb.ProgressBar
	if opts.progress {
		bar = pb.Full.Start64(0)
		bar.Set(pb.Bytes, false)
		defer bar.Finish()
		agg.OnChunk = func(n int) {
			bar.Add(n)
		}
	}

	var collector stats.Collector
	tallies := make([]kmer.Tally, 0, len(srcs))
	for _, src := range srcs {
		if opts.stats {
			src = stats.NewSource(src, &collector)
		}
		t, err := agg.CountSource(src, opts.k)
		if err != nil {
			return err
		}
		tallies = append(tallies, t)
	}
	t := shard.Reduce(tallies, opts.workers)
	if bar != nil {
		bar.Finish()
	}
	log.Infof("counted %d distinct canonical %d-mers (%d in total)", t.UniqueCount(), opts.k, t.Total())

	if opts.stats && collector.Count() > 0 {
		summary, err := collector.Summary(opts.k, t.Total())
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, summary)
	}

	return output(opts, t, order)
}

func aggregateCommand(g *globalOptions) *cobra.Command {
	opts := &countOptions{}
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Count canonical k-mers through the kmer_count aggregate operator",
		Long:  "Load sequences into Arrow batches, update one kmer_count accumulator per partition, merge the partial states and evaluate the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.apply(cmd, g)
			return runAggregate(opts)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().IntVarP(&opts.partitions, "partitions", "P", 0, "Number of partitions (default from config)")
	cmd.Flags().IntVarP(&opts.batchSize, "batch-size", "b", 4096, "Sequences per Arrow batch")
	return cmd
}

// readBatches loads every sequence of srcs into (name, sequence) records of
// at most size rows.
func readBatches(mem memory.Allocator, srcs []seqio.Source, size int) ([]arrow.Record, error) {
	if size < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", size)
	}

	var (
		recs  []arrow.Record
		batch []seqio.Record
	)
	flush := func() {
		if len(batch) > 0 {
			recs = append(recs, seqio.ToRecord(mem, batch))
			batch = batch[:0]
		}
	}
	for _, src := range srcs {
		for {
			s, err := src.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				for _, rec := range recs {
					rec.Release()
				}
				return nil, err
			}
			id := ""
			if f, ok := src.(*seqio.FileSource); ok {
				id = f.ID()
			}
			batch = append(batch, seqio.Record{ID: id, Sequence: s})
			if len(batch) == size {
				flush()
			}
		}
	}
	flush()
	return recs, nil
}

func runAggregate(opts *countOptions) error {
	order, ok := table.ParseOrder(opts.order)
	if !ok {
		return errors.Errorf("unknown order: %s", opts.order)
	}
	srcs, closeAll, err := opts.sources()
	if err != nil {
		return err
	}
	defer closeAll()

	mem := memory.DefaultAllocator
	udaf, err := aggregate.NewKmerCountUDAF(mem, opts.k)
	if err != nil {
		return err
	}

	recs, err := readBatches(mem, srcs, opts.batchSize)
	if err != nil {
		return err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	batches := make([][]arrow.Array, len(recs))
	for i, rec := range recs {
		if batches[i], err = aggregate.ArgsFromRecord(rec, seqio.ColumnSequence, ""); err != nil {
			return err
		}
	}
	log.Infof("running %s over %d batches in %d partitions", udaf, len(batches), opts.partitions)

	out, err := aggregate.RunPartitioned(udaf, batches, opts.partitions)
	if err != nil {
		return err
	}
	defer out.Release()

	t, err := table.TallyFromStruct(out.(*array.Struct))
	if err != nil {
		return err
	}
	return output(opts, t, order)
}

func output(opts *countOptions, t kmer.Tally, order table.Order) (err error) {
	var w io.Writer = os.Stdout
	if opts.output != "-" && opts.output != "" {
		f, cerr := os.Create(opts.output)
		if cerr != nil {
			return errors.Wrapf(cerr, "create output file: %s", opts.output)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = errors.Wrapf(cerr, "close output file: %s", opts.output)
			}
		}()
		w = f
	}

	bw := bufio.NewWriter(w)
	if err := writeResult(bw, opts.top, t, order); err != nil {
		return err
	}
	return errors.Wrap(bw.Flush(), "write output")
}

func writeResult(w io.Writer, top int, t kmer.Tally, order table.Order) error {
	if top > 0 {
		rows, err := t.TopN(top)
		if err != nil {
			return err
		}
		return writeRows(w, rows)
	}

	rec := table.Materialize(memory.DefaultAllocator, t, order)
	defer rec.Release()
	return writeTable(w, rec)
}

func writeRows(w io.Writer, rows []kmer.KMerCount) error {
	fmt.Fprintf(w, "%s\t%s\n", table.ColumnKmer, table.ColumnCount)
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", r.KMer, r.Count); err != nil {
			return err
		}
	}
	return nil
}

// writeTable writes a result table as TSV with a header line.
func writeTable(w io.Writer, rec arrow.Record) error {
	kmers, ok := rec.Column(0).(*array.String)
	if !ok {
		return &kmer.SchemaMismatchError{Column: table.ColumnKmer, Expected: "utf8", Found: rec.Column(0).DataType().String()}
	}
	counts, ok := rec.Column(1).(*array.Uint64)
	if !ok {
		return &kmer.SchemaMismatchError{Column: table.ColumnCount, Expected: "uint64", Found: rec.Column(1).DataType().String()}
	}

	fmt.Fprintf(w, "%s\t%s\n", table.ColumnKmer, table.ColumnCount)
	for i := 0; i < kmers.Len(); i++ {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", kmers.Value(i), counts.Value(i)); err != nil {
			return err
		}
	}
	return nil
}

func canonicalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "canonical KMER...",
		Short: "Show the reverse complement and canonical form of k-mers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "kmer\treverse_complement\tcanonical")
			for _, arg := range args {
				km, err := kmer.NewKMer(arg)
				if err != nil {
					return errors.Wrapf(err, "k-mer %q", arg)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", km, km.ReverseComplement(), km.Canonical())
			}
			return nil
		},
	}
}
