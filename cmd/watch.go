package cmd

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/jsphweid/abcxml/batch"
	"github.com/jsphweid/abcxml/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	addBatchFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 0, "quiet period before changed files are converted (default 500ms)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Converts scores below a directory whenever they change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRunner(cmd)
		if err != nil {
			return err
		}
		r.Root = args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return watch(ctx, args[0], r, cmd.ErrOrStderr())
	},
}

// pending collects changed paths between debounced runs.
type pending struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (p *pending) add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths[path] = true
}

func (p *pending) drain() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := util.GetKeysSorted(p.paths)
	p.paths = make(map[string]bool)
	return res
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// within reports whether path lies below dir; converted files written
// there must not trigger another run.
func within(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func watch(ctx context.Context, root string, r *batch.Runner, out io.Writer) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	defer w.Close()
	if err := addTree(w, root); err != nil {
		return errors.Wrapf(err, "watching %s", root)
	}

	changed := &pending{paths: make(map[string]bool)}
	debounced := debounce.New(cfg.Debounce)
	flush := func() {
		if paths := changed.drain(); len(paths) > 0 {
			runPaths(ctx, r, out, paths)
		}
	}
	logger.Info().Str("dir", root).Dur("debounce", cfg.Debounce).Msg("watching")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(w, event.Name); err != nil {
						logger.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch")
					}
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !util.IsScorePath(event.Name) || within(event.Name, r.OutDir) {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("changed")
			changed.add(event.Name)
			debounced(flush)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")
		}
	}
}
