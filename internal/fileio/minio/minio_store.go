// Package minio serves the "minio" protocol (minio://bucket/key) through
// the MinIO client.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/soltixdb/sframe/internal/fileio"
)

// Protocol is the URL scheme served by Store.
const Protocol = "minio"

// Options configures a client built by New.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store implements fileio.Store on top of a MinIO client.
type Store struct {
	client *minio.Client
}

// New creates a client for opts.Endpoint with static credentials.
func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewStore(client), nil
}

// NewStore wraps an existing client.
func NewStore(client *minio.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Protocol() string { return Protocol }

func splitLocation(location string) (string, string, error) {
	bucket, key, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("minio location %q must be bucket/key", location)
	}
	return bucket, key, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Store) Open(ctx context.Context, location string) (fileio.File, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: minio://%s", fileio.ErrNotFound, location)
		}
		return nil, err
	}
	return &object{client: s.client, bucket: bucket, key: key, size: info.Size}, nil
}

func (s *Store) Create(ctx context.Context, location string) (fileio.WritableFile, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &writable{pw: pw, done: make(chan error, 1), cancel: cancel}
	go func() {
		_, err := s.client.PutObject(uploadCtx, bucket, key, pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (s *Store) Put(ctx context.Context, location string, data []byte) error {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (s *Store) Remove(ctx context.Context, location string) error {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: minio://%s", fileio.ErrNotFound, location)
		}
		return err
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

type object struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (o *object) Size() int64  { return o.size }
func (o *object) Close() error { return nil }

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), o.size) - 1
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}
	obj, err := o.client.GetObject(context.Background(), o.bucket, o.key, opts)
	if err != nil {
		return 0, err
	}
	defer obj.Close()
	n, err := io.ReadFull(obj, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type writable struct {
	pw     *io.PipeWriter
	done   chan error
	cancel context.CancelFunc
	closed atomic.Bool
}

func (w *writable) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

func (w *writable) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	defer w.cancel()
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (w *writable) Abort() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.cancel()
	_ = w.pw.CloseWithError(errors.New("upload aborted"))
	<-w.done
	return nil
}
