package fileio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore serves the "file" protocol from the local filesystem.
// Writes go to a temporary sibling file that is fsynced and renamed into
// place on Close.
type LocalStore struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewLocalStore creates a local filesystem store.
func NewLocalStore() *LocalStore {
	return &LocalStore{dirPerm: 0o755, filePerm: 0o644}
}

func (s *LocalStore) Protocol() string { return ProtocolLocal }

func (s *LocalStore) Open(_ context.Context, location string) (File, error) {
	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localFile{File: f, size: info.Size()}, nil
}

func (s *LocalStore) Create(_ context.Context, location string) (WritableFile, error) {
	if err := os.MkdirAll(filepath.Dir(location), s.dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", location, err)
	}
	tmpPath := tmpName(location)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	return &localWritable{f: f, w: bufio.NewWriterSize(f, 256*1024), tmpPath: tmpPath, finalPath: location}, nil
}

func (s *LocalStore) Put(ctx context.Context, location string, data []byte) error {
	w, err := s.Create(ctx, location)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	return w.Close()
}

func (s *LocalStore) Remove(_ context.Context, location string) error {
	if err := os.Remove(location); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return err
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, location string) (bool, error) {
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func tmpName(location string) string {
	return location + ".tmp-" + uuid.NewString()
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }

type localWritable struct {
	f         *os.File
	w         *bufio.Writer
	tmpPath   string
	finalPath string
	done      bool
}

func (w *localWritable) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.w.Write(p)
}

func (w *localWritable) Close() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("failed to flush %s: %w", w.tmpPath, err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("failed to sync %s: %w", w.tmpPath, err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close %s: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("failed to rename %s -> %s: %w", w.tmpPath, w.finalPath, err)
	}
	return nil
}

func (w *localWritable) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}
