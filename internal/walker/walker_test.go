package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func drain(t *testing.T, w *FS) []Entry {
	t.Helper()
	var out []Entry
	for {
		e, ok, err := w.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

func TestFS_EmitsAllFilesInDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", "package b")
	writeFile(t, dir, "a.go", "package a")
	writeFile(t, dir, "sub/c.go", "package c")

	entries := drain(t, New(dir, ""))
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Path, entries[i].Path)
	}
}

func TestFS_ComputesStableContentHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	entries := drain(t, New(dir, ""))
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].ContentHash, 64) // sha256 hex
}

func TestFS_SkipsExcludedDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.go", "package keep")
	writeFile(t, dir, "node_modules/dep.js", "skip me")
	writeFile(t, dir, ".git/objects/x", "skip me too")

	entries := drain(t, New(dir, ""))
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.go", filepath.Base(entries[0].Path))
}

func TestFS_RestartsAfterCursor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "a")
	writeFile(t, dir, "b.go", "b")
	writeFile(t, dir, "c.go", "c")

	first := New(dir, "")
	e1, ok, err := first.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	cursor := first.Cursor()
	assert.Equal(t, Cursor(e1.Path), cursor)

	resumed := New(dir, cursor)
	rest := drain(t, resumed)
	assert.Len(t, rest, 2)
	for _, e := range rest {
		assert.Greater(t, e.Path, e1.Path)
	}
}

func TestFS_SkipsSymlinkDirectoryLoop(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, dir, "sub/file.go", "package sub")

	loop := filepath.Join(sub, "loop")
	if err := os.Symlink(dir, loop); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	entries := drain(t, New(dir, ""))
	paths := make(map[string]bool)
	for _, e := range entries {
		paths[e.Path] = true
	}
	assert.True(t, paths[filepath.Join(sub, "file.go")])
}
