package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/sframe/internal/fileio"
)

func TestSplitLocation(t *testing.T) {
	bucket, key, err := splitLocation("bkt/dir/t.sidx")
	require.NoError(t, err)
	assert.Equal(t, "bkt", bucket)
	assert.Equal(t, "dir/t.sidx", key)

	for _, bad := range []string{"", "bkt", "bkt/", "/key"} {
		_, _, err := splitLocation(bad)
		assert.Error(t, err, bad)
	}
}

// Runs against a real bucket when SFRAME_TEST_S3_BUCKET is set.
func TestStore_Integration(t *testing.T) {
	bucket := os.Getenv("SFRAME_TEST_S3_BUCKET")
	if bucket == "" {
		t.Skip("SFRAME_TEST_S3_BUCKET not set")
	}
	ctx := context.Background()
	store, err := New(ctx, Options{
		Region:         os.Getenv("AWS_REGION"),
		Endpoint:       os.Getenv("SFRAME_TEST_S3_ENDPOINT"),
		ForcePathStyle: os.Getenv("SFRAME_TEST_S3_ENDPOINT") != "",
	})
	require.NoError(t, err)

	loc := bucket + "/sframe-test/" + uuid.NewString()
	payload := bytes.Repeat([]byte("block"), 1000)

	w, err := store.Create(ctx, loc)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	defer store.Remove(ctx, loc)

	f, err := store.Open(ctx, loc)
	require.NoError(t, err)
	got := make([]byte, f.Size())
	_, err = f.ReadAt(got, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	assert.Equal(t, payload, got)

	_, err = store.Open(ctx, loc+"-missing")
	assert.ErrorIs(t, err, fileio.ErrNotFound)
}
