// Package batch converts many score files in parallel. Each document runs in
// its own pipeline; a failed document is recorded and never stops the run.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jsphweid/abcxml/convert"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Runner struct {
	To      convert.Format
	OutDir  string
	Workers int
	Strict  bool
	// Root, when set, keeps each source's directory below it under OutDir.
	// Sources outside Root land directly in OutDir.
	Root string
	// MaxFiles caps the number of documents per run; 0 is unlimited.
	MaxFiles int
	Logger   zerolog.Logger
}

type Outcome struct {
	Source      string             `json:"source"`
	Dest        string             `json:"dest,omitempty"`
	Diagnostics []model.Diagnostic `json:"diagnostics,omitempty"`
	Err         error              `json:"-"`
	Elapsed     time.Duration      `json:"elapsed"`
}

type Summary struct {
	RunID     string    `json:"run_id"`
	Converted int       `json:"converted"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s Summary) Failures() []Outcome {
	var res []Outcome
	for _, o := range s.Outcomes {
		if o.Err != nil {
			res = append(res, o)
		}
	}
	return res
}

var ErrDuplicateTarget = errors.New("output already written by another document")

// Target is the output path for source under outDir.
func Target(source, outDir string, to convert.Format) string {
	return TargetUnder("", source, outDir, to)
}

// TargetUnder is Target with source's directory relative to root kept under
// outDir. An empty root, or a source outside it, keeps only the base name.
func TargetUnder(root, source, outDir string, to convert.Format) string {
	name := filepath.Base(source)
	if root != "" {
		if rel, err := filepath.Rel(root, source); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			name = rel
		}
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(outDir, name+to.Extension())
}

// RunDir gathers every score file below root and converts them, mirroring
// root's layout under OutDir.
func (r *Runner) RunDir(ctx context.Context, root string) (Summary, error) {
	paths, err := util.GatherScorePaths(root, r.MaxFiles)
	if err != nil {
		return Summary{}, err
	}
	rr := *r
	rr.Root = root
	return rr.Run(ctx, paths)
}

// Run converts paths with at most Workers documents in flight. The error is
// only non-nil when the run could not start or ctx was cancelled; per-document
// failures are in the Summary.
func (r *Runner) Run(ctx context.Context, paths []string) (Summary, error) {
	if r.MaxFiles > 0 && len(paths) > r.MaxFiles {
		paths = paths[:r.MaxFiles]
	}
	if err := os.MkdirAll(r.OutDir, 0755); err != nil {
		return Summary{}, errors.Wrapf(err, "creating output dir %s", r.OutDir)
	}

	runID := uuid.NewString()
	logger := r.Logger.With().Str("run", runID).Logger()
	summary := Summary{RunID: runID, Outcomes: make([]Outcome, len(paths))}
	results := make([][]byte, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(util.Max(r.Workers, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary.Outcomes[i], results[i] = r.one(path, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, errors.Wrap(err, "batch cancelled")
	}

	// Outputs are written in path order so that of two documents sharing a
	// target the first one listed always wins.
	written := map[string]string{}
	for i := range summary.Outcomes {
		out := &summary.Outcomes[i]
		if out.Err == nil {
			r.write(out, results[i], written, logger)
		}
		if out.Err != nil {
			summary.Failed++
		} else {
			summary.Converted++
		}
	}

	logger.Info().
		Int("converted", summary.Converted).
		Int("failed", summary.Failed).
		Msg("batch finished")
	return summary, nil
}

func (r *Runner) write(out *Outcome, data []byte, written map[string]string, logger zerolog.Logger) {
	dest := out.Dest
	out.Dest = ""
	if first, ok := written[dest]; ok {
		out.Err = errors.Wrapf(ErrDuplicateTarget, "%s from %s", dest, first)
		logger.Warn().Err(out.Err).Str("file", out.Source).Msg("conversion not written")
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		out.Err = errors.Wrapf(err, "creating %s", filepath.Dir(dest))
		return
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		out.Err = errors.Wrapf(err, "writing %s", dest)
		return
	}
	written[dest] = out.Source
	out.Dest = dest
	logger.Info().
		Str("file", out.Source).
		Str("dest", dest).
		Int("diagnostics", len(out.Diagnostics)).
		Msg("converted")
}

// one converts a single document; the output is returned for Run to write.
func (r *Runner) one(path string, logger zerolog.Logger) (out Outcome, result []byte) {
	start := time.Now()
	out.Source = path
	defer func() {
		out.Elapsed = time.Since(start)
	}()

	// a panic fails this document only
	defer func() {
		if p := recover(); p != nil {
			out.Err = errors.Errorf("panic converting %s: %v", path, p)
			result = nil
			logger.Error().Str("file", path).Interface("panic", p).Msg("conversion panicked")
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		out.Err = errors.Wrapf(err, "reading %s", path)
		logger.Warn().Err(out.Err).Str("file", path).Msg("skipping")
		return out, nil
	}
	text := string(data)
	from := convert.Detect(text)
	to := r.To
	if to == "" {
		to = convert.ABC
		if from == convert.ABC {
			to = convert.MusicXML
		}
	}

	result, res, err := convert.Convert(text, from, to,
		convert.WithStrict(r.Strict),
		convert.WithLogger(logger.With().Str("file", path).Logger()))
	out.Diagnostics = res.Diagnostics
	if err != nil {
		out.Err = err
		logger.Warn().Err(err).Str("file", path).Msg("conversion failed")
		return out, nil
	}
	out.Dest = TargetUnder(r.Root, path, r.OutDir, to)
	return out, result
}
