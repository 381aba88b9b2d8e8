// Package s3 serves the "s3" protocol (s3://bucket/key) from Amazon S3 or
// any S3-compatible endpoint using the AWS SDK.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/soltixdb/sframe/internal/fileio"
)

// Protocol is the URL scheme served by Store.
const Protocol = "s3"

// Options configures a client built by New.
type Options struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// Store implements fileio.Store on top of an S3 client.
type Store struct {
	client *s3.Client
}

// New loads the default AWS configuration chain and creates a store.
func New(ctx context.Context, opts Options) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	return NewStore(client), nil
}

// NewStore wraps an existing client.
func NewStore(client *s3.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Protocol() string { return Protocol }

// splitLocation turns "bucket/key/parts" into bucket and key.
func splitLocation(location string) (string, string, error) {
	bucket, key, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 location %q must be bucket/key", location)
	}
	return bucket, key, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (s *Store) Open(ctx context.Context, location string) (fileio.File, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s", fileio.ErrNotFound, location)
		}
		return nil, err
	}
	return &object{client: s.client, bucket: bucket, key: key, size: aws.ToInt64(head.ContentLength)}, nil
}

func (s *Store) Create(ctx context.Context, location string) (fileio.WritableFile, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &writable{pw: pw, done: make(chan error, 1), cancel: cancel}
	uploader := manager.NewUploader(s.client)
	go func() {
		_, err := uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
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
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

func (s *Store) Remove(ctx context.Context, location string) error {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

type object struct {
	client *s3.Client
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
	resp, err := o.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.ReadFull(resp.Body, p[:end-off+1])
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
