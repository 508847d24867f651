// Package walker produces the lazy, restartable file sequence consumed by
// file-analysis jobs. The spec treats file-system walking as an external
// collaborator ("file-system walkers" is explicitly out of scope), but — the
// same way internal/llmclient supplies one concrete illustrative
// implementation of its consumed LLM boundary — this package supplies one
// concrete, swappable implementation of the walker contract so the pipeline
// runs end to end. Grounded on the teacher's internal/world/fs.go (content
// hashing, hidden-directory filtering) and incremental_scan.go (restart via
// a persisted cursor/fingerprint set).
package walker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

// Entry is one file emitted by the walker (spec §4: "lazy finite sequence
// of {path, content_hash, size}").
type Entry struct {
	Path        string
	ContentHash string
	Size        int64
}

// Cursor identifies a restart position: the last path emitted, in the
// walker's deterministic (lexicographic) ordering.
type Cursor string

// excludedDirs mirrors the teacher's hidden-directory allow/deny map in
// fs.go, generalized beyond codenerd-specific names.
var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

var allowedHidden = map[string]bool{
	".github":   true,
	".vscode":   true,
	".circleci": true,
	".config":   true,
}

// FS is a restartable, symlink-loop-safe lazy walker over a single root
// directory. Call Next repeatedly until ok is false.
type FS struct {
	root    string
	after   Cursor
	paths   []string
	idx     int
	visited map[string]bool // resolved real paths already descended into
	started bool
}

// New creates a walker rooted at root, resuming after the given cursor (use
// "" to start from the beginning).
func New(root string, after Cursor) *FS {
	return &FS{root: root, after: after, visited: make(map[string]bool)}
}

// Next returns the next entry in deterministic path order, or ok=false once
// the tree is exhausted. The first call performs the full directory walk to
// build a sorted path list; subsequent calls are O(1).
func (w *FS) Next(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if !w.started {
		if err := w.build(); err != nil {
			return Entry{}, false, err
		}
		w.started = true
	}

	for w.idx < len(w.paths) {
		path := w.paths[w.idx]
		w.idx++
		if Cursor(path) <= w.after {
			continue
		}

		info, err := os.Lstat(path)
		if err != nil {
			logging.For(logging.ComponentWalker).Warn("skipping unreadable file", logging.QueueField(path))
			continue
		}
		hash, err := hashFile(path)
		if err != nil {
			logging.For(logging.ComponentWalker).Warn("skipping unhashable file", logging.QueueField(path))
			continue
		}
		return Entry{Path: path, ContentHash: hash, Size: info.Size()}, true, nil
	}
	return Entry{}, false, nil
}

// Cursor returns the resumable position after the most recently returned
// entry.
func (w *FS) Cursor() Cursor {
	if w.idx == 0 || w.idx > len(w.paths) {
		return w.after
	}
	return Cursor(w.paths[w.idx-1])
}

func (w *FS) build() error {
	var paths []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}

		if d.IsDir() {
			name := d.Name()
			if path != w.root && strings.HasPrefix(name, ".") && !allowedHidden[name] {
				return filepath.SkipDir
			}
			if excludedDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}

		// WalkDir never descends into a symlinked directory on its own, so
		// a symlink loop can only arise if we chose to follow one
		// ourselves; here a symlink is resolved once and, if it points at
		// a directory, skipped rather than followed (spec §4: "must
		// filter symlink loops").
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil // broken symlink, skip
			}
			if w.visited[resolved] {
				return nil
			}
			w.visited[resolved] = true
			info, err := os.Stat(resolved)
			if err != nil || info.IsDir() {
				return nil
			}
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)
	w.paths = paths
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
