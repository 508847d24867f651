package walker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

// Watcher emits Entry values for files created or modified under root after
// the initial scan completes. This is a supplemented capability beyond the
// spec's "lazy finite sequence" contract: a long-running pipeline can stay
// attached to a workspace instead of re-running a full walk, the same
// live-reindex role the teacher's incremental_scan.go fills for its own
// scanner.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	entries chan Entry
	errs    chan error
}

// NewWatcher starts watching root, and every directory that holds a file at
// start-up, for file create/write events. Directories created later, and
// directories with no files at start-up, are not watched. Callers drain
// Entries() until ctx is cancelled, then call Close.
func NewWatcher(ctx context.Context, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		entries: make(chan Entry, 64),
		errs:    make(chan error, 1),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run(ctx)
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	walker := New(root, "")
	if err := walker.build(); err != nil {
		return err
	}
	dirs := map[string]bool{root: true}
	for _, p := range walker.paths {
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			logging.For(logging.ComponentWalker).Warn("failed to watch directory", logging.QueueField(d))
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.entries)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			hash, err := hashFile(ev.Name)
			if err != nil {
				continue // file removed/renamed before we could hash it
			}
			info, err := statSize(ev.Name)
			if err != nil {
				continue
			}
			select {
			case w.entries <- Entry{Path: ev.Name, ContentHash: hash, Size: info}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Entries returns the channel of newly observed file entries.
func (w *Watcher) Entries() <-chan Entry { return w.entries }

// Errors returns the channel of watcher-internal errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
