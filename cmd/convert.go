package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jsphweid/abcxml/batch"
	"github.com/jsphweid/abcxml/convert"
	"github.com/jsphweid/abcxml/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	convertCmd.Flags().String("to", "", "target format: abc, musicxml or midi (default: the other text format)")
	convertCmd.Flags().String("out", "", "write into this directory instead of stdout")
	convertCmd.Flags().Bool("strict", false, "fail when any warning diagnostic is produced")
	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Converts one score",
	Long: `Converts one ABC or MusicXML score. The source is read from the file
argument, or from stdin when it is missing or "-". Diagnostics go to stderr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := "-"
		if len(args) == 1 {
			source = args[0]
		}
		to, _ := cmd.Flags().GetString("to")
		out, _ := cmd.Flags().GetString("out")
		return convertOne(source, to, out, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func readSource(source string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", source)
	}
	return string(data), nil
}

func printDiagnostics(w io.Writer, source string, diags []model.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s: %s\n", source, d)
	}
}

func convertOne(source, toFlag, outDir string, stdin io.Reader, stdout, stderr io.Writer) error {
	text, err := readSource(source, stdin)
	if err != nil {
		return err
	}
	from := convert.Detect(text)
	to := convert.ABC
	if from == convert.ABC {
		to = convert.MusicXML
	}
	if toFlag != "" {
		if to, err = convert.ParseFormat(toFlag); err != nil {
			return err
		}
	}

	data, res, err := convert.Convert(text, from, to,
		convert.WithStrict(cfg.Strict),
		convert.WithLogger(logger.With().Str("file", source).Logger()))
	printDiagnostics(stderr, source, res.Diagnostics)
	if err != nil {
		return err
	}

	if outDir == "" {
		_, err = stdout.Write(data)
		return errors.Wrap(err, "writing output")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", outDir)
	}
	name := source
	if source == "-" {
		name = "stdin"
	}
	dest := batch.Target(filepath.Base(name), outDir, to)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", dest)
	}
	logger.Info().Str("dest", dest).Msg("written")
	return nil
}
