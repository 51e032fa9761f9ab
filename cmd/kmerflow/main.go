// Command kmerflow counts canonical k-mers in FASTA/FASTQ files.
//
// Usage:
//
//	kmerflow [command] [options]
//
// Commands:
//
//	count       Count k-mers on the sharded bulk path
//	aggregate   Count k-mers through the kmer_count operator
//	canonical   Show canonical forms of k-mers
//	version     Show version information
package main

import (
	"fmt"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aria-lang/kmerflow/internal/config"
	"github.com/aria-lang/kmerflow/internal/logging"
	"github.com/aria-lang/kmerflow/pkg/kmerflow"
)

type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func (o *globalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	o.cfg = cfg
	log.Debugf("config: k=%d chunk-size=%d workers=%d partitions=%d",
		cfg.Kmer.K, cfg.Kmer.ChunkSize, cfg.Kmer.Workers, cfg.Kmer.Partitions)
	return nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), kmerflow.Info())
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func rootCommand() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "kmerflow",
		Short: "Canonical k-mer counting",
		Long: `kmerflow: canonical k-mer counting

Counts strand-independent k-mers over A, C, G and T. Windows holding any other
byte are skipped. Results are (kmer, count) tables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default ./"+config.FileName+" if present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(countCommand(opts))
	rootCmd.AddCommand(aggregateCommand(opts))
	rootCmd.AddCommand(canonicalCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
