// Package fileio addresses table files through storage protocols. A path is
// either a plain local path, or "<protocol>://<location>" where the
// protocol selects a registered Store (file, mem, s3, minio, ...).
package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = errors.New("fileio: file not found")
	// ErrUnknownProtocol is returned for a path whose protocol has no store.
	ErrUnknownProtocol = errors.New("fileio: unknown protocol")
)

const (
	// ProtocolLocal is the protocol of plain paths and file:// URLs.
	ProtocolLocal = "file"
	// ProtocolMemory is the process-local in-memory protocol.
	ProtocolMemory = "mem"

	schemeSep = "://"
)

// File is an open, read-only file.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// WritableFile is a file being written sequentially. Data becomes visible
// once Close returns nil; Abort discards it.
type WritableFile interface {
	io.Writer
	io.Closer
	Abort() error
}

// Store is one storage protocol. Locations passed to a Store have the
// "<protocol>://" prefix removed.
type Store interface {
	Protocol() string
	Open(ctx context.Context, location string) (File, error)
	Create(ctx context.Context, location string) (WritableFile, error)
	// Put writes data so that readers see either the old or the new
	// content, never a partial file.
	Put(ctx context.Context, location string, data []byte) error
	Remove(ctx context.Context, location string) error
	Exists(ctx context.Context, location string) (bool, error)
}

// Registry maps protocol names to stores.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry returns a registry with the local and in-memory protocols.
func NewRegistry() *Registry {
	r := &Registry{stores: make(map[string]Store)}
	r.Register(NewLocalStore())
	r.Register(NewMemoryStore())
	return r
}

// Register adds or replaces the store for s.Protocol().
func (r *Registry) Register(s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Protocol()] = s
}

// Resolve returns the store serving p and the location within it.
func (r *Registry) Resolve(p string) (Store, string, error) {
	proto, loc := Split(p)
	r.mu.RLock()
	s, ok := r.stores[proto]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %q in %s", ErrUnknownProtocol, proto, p)
	}
	return s, loc, nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the package functions.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a store to the default registry.
func Register(s Store) {
	defaultRegistry.Register(s)
}

// Split separates a path into protocol and location. Plain paths belong to
// the local protocol.
func Split(p string) (protocol, location string) {
	if i := strings.Index(p, schemeSep); i > 0 {
		return p[:i], p[i+len(schemeSep):]
	}
	return ProtocolLocal, p
}

// Protocol returns the protocol name of p.
func Protocol(p string) string {
	proto, _ := Split(p)
	return proto
}

// SameProtocol reports whether a and b are served by the same protocol.
func SameProtocol(a, b string) bool {
	return Protocol(a) == Protocol(b)
}

func join(proto, loc string) string {
	if proto == ProtocolLocal {
		return loc
	}
	return proto + schemeSep + loc
}

// Join joins path elements onto base, keeping base's protocol.
func Join(base string, elem ...string) string {
	proto, loc := Split(base)
	if proto == ProtocolLocal {
		return filepath.Join(append([]string{loc}, elem...)...)
	}
	return join(proto, path.Join(append([]string{loc}, elem...)...))
}

// Dir returns all but the last element of p, keeping its protocol.
func Dir(p string) string {
	proto, loc := Split(p)
	if proto == ProtocolLocal {
		return filepath.Dir(loc)
	}
	return join(proto, path.Dir(loc))
}

// Base returns the last element of p.
func Base(p string) string {
	_, loc := Split(p)
	return path.Base(filepath.ToSlash(loc))
}

// Rel expresses target relative to dir when target lives directly under
// dir on the same protocol; otherwise target is returned unchanged.
func Rel(dir, target string) string {
	if !SameProtocol(dir, target) {
		return target
	}
	if Dir(target) == dir {
		return Base(target)
	}
	return target
}

// Resolve interprets ref relative to dir: references without a protocol
// and without a leading separator are looked up under dir.
func Resolve(dir, ref string) string {
	if strings.Contains(ref, schemeSep) || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return ref
	}
	return Join(dir, ref)
}

// Open opens p for reading using the default registry.
func Open(ctx context.Context, p string) (File, error) {
	s, loc, err := defaultRegistry.Resolve(p)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, loc)
}

// Create creates p for writing using the default registry.
func Create(ctx context.Context, p string) (WritableFile, error) {
	s, loc, err := defaultRegistry.Resolve(p)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, loc)
}

// WriteFile atomically replaces the content of p.
func WriteFile(ctx context.Context, p string, data []byte) error {
	s, loc, err := defaultRegistry.Resolve(p)
	if err != nil {
		return err
	}
	return s.Put(ctx, loc, data)
}

// ReadFile reads the whole content of p.
func ReadFile(ctx context.Context, p string) ([]byte, error) {
	f, err := Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, f.Size())
	if _, err := f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return buf, nil
}

// Remove deletes p.
func Remove(ctx context.Context, p string) error {
	s, loc, err := defaultRegistry.Resolve(p)
	if err != nil {
		return err
	}
	return s.Remove(ctx, loc)
}

// Exists reports whether p exists.
func Exists(ctx context.Context, p string) (bool, error) {
	s, loc, err := defaultRegistry.Resolve(p)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, loc)
}
