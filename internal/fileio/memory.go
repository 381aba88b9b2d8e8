package fileio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore serves the "mem" protocol from process memory. It is used
// for scratch tables and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) Protocol() string { return ProtocolMemory }

func (s *MemoryStore) Open(_ context.Context, location string) (File, error) {
	s.mu.RLock()
	data, ok := s.files[location]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return &memFile{r: bytes.NewReader(data)}, nil
}

func (s *MemoryStore) Create(_ context.Context, location string) (WritableFile, error) {
	return &memWritable{store: s, location: location}, nil
}

func (s *MemoryStore) Put(_ context.Context, location string, data []byte) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.files[location] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[location]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	delete(s.files, location)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, location string) (bool, error) {
	s.mu.RLock()
	_, ok := s.files[location]
	s.mu.RUnlock()
	return ok, nil
}

type memFile struct {
	r *bytes.Reader
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) { return f.r.ReadAt(p, off) }
func (f *memFile) Size() int64                             { return f.r.Size() }
func (f *memFile) Close() error                            { return nil }

type memWritable struct {
	store    *MemoryStore
	location string
	buf      bytes.Buffer
	done     bool
}

func (w *memWritable) Write(p []byte) (int, error) {
	if w.done {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *memWritable) Close() error {
	if w.done {
		return io.ErrClosedPipe
	}
	w.done = true
	w.store.mu.Lock()
	w.store.files[w.location] = w.buf.Bytes()
	w.store.mu.Unlock()
	return nil
}

func (w *memWritable) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
