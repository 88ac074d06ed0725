package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jsphweid/abcxml/batch"
	"github.com/jsphweid/abcxml/convert"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	addBatchFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("to", "", "target format: abc, musicxml or midi (default: the other text format)")
	cmd.Flags().String("output-dir", "", "directory converted files are written to")
	cmd.Flags().Int("workers", 0, "documents converted in parallel (default: number of CPUs)")
	cmd.Flags().Int("max-files", 0, "stop after this many files, 0 for all")
	cmd.Flags().Bool("strict", false, "count documents with warning diagnostics as failed")
}

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Converts every score below a directory",
	Long: `Converts every .abc, .xml and .musicxml file below a directory in
parallel. A document that fails is reported and the rest carry on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd)
		if err != nil {
			return err
		}
		summary, err := r.RunDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return report(cmd.ErrOrStderr(), summary)
	},
}

func newRunner(cmd *cobra.Command) (*batch.Runner, error) {
	r := &batch.Runner{
		OutDir:   cfg.OutputDir,
		Workers:  cfg.Workers,
		Strict:   cfg.Strict,
		MaxFiles: cfg.MaxFiles,
		Logger:   logger,
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		f, err := convert.ParseFormat(to)
		if err != nil {
			return nil, err
		}
		r.To = f
	}
	return r, nil
}

func report(w io.Writer, s batch.Summary) error {
	for _, o := range s.Outcomes {
		printDiagnostics(w, o.Source, o.Diagnostics)
		if o.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", o.Source, o.Err)
		}
	}
	fmt.Fprintf(w, "run %s: %d converted, %d failed\n", s.RunID, s.Converted, s.Failed)
	if s.Failed > 0 {
		return errors.Errorf("%d of %d documents failed", s.Failed, len(s.Outcomes))
	}
	return nil
}

func runPaths(ctx context.Context, r *batch.Runner, w io.Writer, paths []string) {
	summary, err := r.Run(ctx, paths)
	if err != nil {
		logger.Error().Err(err).Msg("batch run failed")
		return
	}
	if err := report(w, summary); err != nil {
		logger.Warn().Err(err).Msg("batch finished with failures")
	}
}
