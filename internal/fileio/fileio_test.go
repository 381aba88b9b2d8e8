package fileio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		path     string
		protocol string
		location string
	}{
		{"/data/t.frame_idx", ProtocolLocal, "/data/t.frame_idx"},
		{"relative/t.sidx", ProtocolLocal, "relative/t.sidx"},
		{"file:///data/t.sidx", ProtocolLocal, "/data/t.sidx"},
		{"mem://scratch/t.sidx", ProtocolMemory, "scratch/t.sidx"},
		{"s3://bucket/dir/t.sidx", "s3", "bucket/dir/t.sidx"},
	}
	for _, tt := range tests {
		proto, loc := Split(tt.path)
		assert.Equal(t, tt.protocol, proto, tt.path)
		assert.Equal(t, tt.location, loc, tt.path)
	}
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "mem://a/b/c.sidx", Join("mem://a/b", "c.sidx"))
	assert.Equal(t, filepath.Join("/tmp/x", "y.sidx"), Join("/tmp/x", "y.sidx"))
	assert.Equal(t, "mem://a/b", Dir("mem://a/b/c.sidx"))
	assert.Equal(t, "/tmp/x", Dir("/tmp/x/y"))
	assert.Equal(t, "c.sidx", Base("s3://bkt/a/c.sidx"))

	assert.True(t, SameProtocol("/a", "file:///b"))
	assert.False(t, SameProtocol("/a", "mem://b"))

	assert.Equal(t, "c.sidx", Rel("mem://a/b", "mem://a/b/c.sidx"))
	assert.Equal(t, "mem://z/c.sidx", Rel("mem://a/b", "mem://z/c.sidx"))
	assert.Equal(t, "mem://a/b/c.sidx", Rel("/a/b", "mem://a/b/c.sidx"))

	assert.Equal(t, "mem://a/b/c.sidx", Resolve("mem://a/b", "c.sidx"))
	assert.Equal(t, "/abs/c.sidx", Resolve("mem://a/b", "/abs/c.sidx"))
	assert.Equal(t, "s3://k/c", Resolve("/tmp", "s3://k/c"))
}

func TestRegistry_UnknownProtocol(t *testing.T) {
	_, err := Open(context.Background(), "gopher://x/y")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func testStore(t *testing.T, base string) {
	ctx := context.Background()
	p := Join(base, "nested", "file.bin")

	ok, err := Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Open(ctx, p)
	assert.True(t, errors.Is(err, ErrNotFound))

	w, err := Create(ctx, p)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("segment"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := ReadFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "hello segment", string(data))

	f, err := Open(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(13), f.Size())
	buf := make([]byte, 7)
	_, err = f.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "segment", string(buf))
	require.NoError(t, f.Close())

	require.NoError(t, WriteFile(ctx, p, []byte("replaced")))
	data, err = ReadFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, Remove(ctx, p))
	ok, err = Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, Remove(ctx, p), ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	testStore(t, t.TempDir())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, "mem://"+t.Name())
}

func TestLocalStore_AbortLeavesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := filepath.Join(dir, "aborted.bin")

	w, err := Create(ctx, p)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_NotVisibleBeforeClose(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "pending.bin")

	w, err := Create(ctx, p)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	ok, err := Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, w.Close())
	ok, err = Exists(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
}
