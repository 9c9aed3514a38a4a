package rhi

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gogpu/rhi/cache"
)

// KernelKey identifies one compiled kernel: a fully specialized program, an
// entry point within it and the backend target the kernel was compiled for.
type KernelKey struct {
	Program    string
	EntryPoint int
	Target     string
}

func (k KernelKey) hash() uint64 {
	h := hashString(k.Program)
	h = hashCombine(h, uint64(k.EntryPoint))
	return hashCombine(h, hashString(k.Target))
}

// KernelCache persists compiled kernels across devices and, for disk-backed
// implementations, across processes. Implementations must be safe for
// concurrent use.
type KernelCache interface {
	// Kernel returns the cached kernel for key, if present.
	Kernel(key KernelKey) ([]byte, bool)

	// Store saves a compiled kernel under key.
	Store(key KernelKey, code []byte) error
}

// MemoryKernelCache is an in-process KernelCache with LRU eviction.
type MemoryKernelCache struct {
	c *cache.Sharded[KernelKey, []byte]
}

// NewMemoryKernelCache creates a memory cache holding up to capacity kernels
// per shard.
func NewMemoryKernelCache(capacity int) *MemoryKernelCache {
	return &MemoryKernelCache{
		c: cache.NewSharded[KernelKey, []byte](capacity, KernelKey.hash),
	}
}

// Kernel returns the cached kernel for key, if present.
func (m *MemoryKernelCache) Kernel(key KernelKey) ([]byte, bool) {
	return m.c.Get(key)
}

// Store saves a compiled kernel under key. It never fails.
func (m *MemoryKernelCache) Store(key KernelKey, code []byte) error {
	m.c.Set(key, code)
	return nil
}

// Stats returns cache statistics.
func (m *MemoryKernelCache) Stats() cache.Stats { return m.c.Stats() }

// DirKernelCache is a KernelCache backed by a directory of kernel files,
// one file per key named by the key's hash. Concurrent stores of the same
// key are safe; the write goes through a temporary file and an atomic
// rename.
type DirKernelCache struct {
	dir string
}

// NewDirKernelCache creates a disk cache rooted at dir, creating the
// directory if needed.
func NewDirKernelCache(dir string) (*DirKernelCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rhi: creating kernel cache dir: %w", err)
	}
	return &DirKernelCache{dir: dir}, nil
}

// Dir returns the cache directory.
func (d *DirKernelCache) Dir() string { return d.dir }

func (d *DirKernelCache) path(key KernelKey) string {
	return filepath.Join(d.dir, fmt.Sprintf("%016x.bin", key.hash()))
}

// Kernel returns the cached kernel for key, if present.
func (d *DirKernelCache) Kernel(key KernelKey) ([]byte, bool) {
	code, err := os.ReadFile(d.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			Logger().Warn("rhi: kernel cache read failed", "path", d.path(key), "error", err)
		}
		return nil, false
	}
	return code, true
}

// Store saves a compiled kernel under key.
func (d *DirKernelCache) Store(key KernelKey, code []byte) error {
	tmp, err := os.CreateTemp(d.dir, "kernel-*.tmp")
	if err != nil {
		return fmt.Errorf("rhi: kernel cache store: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("rhi: kernel cache store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("rhi: kernel cache store: %w", err)
	}
	if err := os.Rename(name, d.path(key)); err != nil {
		os.Remove(name)
		return fmt.Errorf("rhi: kernel cache store: %w", err)
	}
	return nil
}
