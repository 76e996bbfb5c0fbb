package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalFS)(nil)
}

func TestLocalFS_WriteRead(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewLocalFS(dir)
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("index,open\n0,100\n")

	require.NoError(t, fs.Write(ctx, "runs/r1/BTCUSDT/bars.csv", data))
	require.NoError(t, fs.Write(ctx, "runs/r1/BTCUSDT/bars.csv", data), "overwrite is allowed")

	got, err := fs.Read(ctx, "runs/r1/BTCUSDT/bars.csv")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(filepath.Join(dir, "runs", "r1", "BTCUSDT"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestLocalFS_RejectsEscapingPaths(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, fs.Write(ctx, "../outside.txt", []byte("x")), core.ErrMalformedInput)
	_, err = fs.Read(ctx, "a/../../outside.txt")
	assert.ErrorIs(t, err, core.ErrMalformedInput)
}

func TestLocalFS_Exists(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := fs.Exists(ctx, "nonexistent.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.Write(ctx, "exists.txt", []byte("data")))
	exists, err = fs.Exists(ctx, "exists.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalFS_List(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "runs/r1/ETHUSDT/labels.csv", []byte("b")))
	require.NoError(t, fs.Write(ctx, "runs/r1/BTCUSDT/labels.csv", []byte("a")))
	require.NoError(t, fs.Write(ctx, "runs/r2/BTCUSDT/labels.csv", []byte("c")))

	paths, err := fs.List(ctx, "runs/r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/r1/BTCUSDT/labels.csv", "runs/r1/ETHUSDT/labels.csv"}, paths)

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := fs.List(ctx, "runs/r9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalFS_Cancelled(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, fs.Write(ctx, "a.txt", nil), context.Canceled)
}
