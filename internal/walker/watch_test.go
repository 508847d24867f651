package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_EmitsEntryOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing.go", "package existing")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, dir)
	require.NoError(t, err)
	defer w.Close()

	newPath := filepath.Join(dir, "added.go")
	time.Sleep(20 * time.Millisecond) // let the watcher subscribe first
	require.NoError(t, os.WriteFile(newPath, []byte("package added"), 0o644))

	select {
	case e := <-w.Entries():
		assert.Equal(t, newPath, e.Path)
		assert.Len(t, e.ContentHash, 64)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watcher entry for the new file")
	}
}
