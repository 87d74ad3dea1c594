// Package filecache persists compiled artifacts across process runs so a Store doesn't have to
// recompile an unchanged module on every start.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Key is the 256-bit identifier under which an artifact is stored, typically a module's
// content hash (wasm.ModuleID).
type Key = [sha256.Size]byte

// Cache stores and retrieves compiled artifacts keyed by Key. Implementations must be
// goroutine-safe.
type Cache interface {
	// Get returns the cached content for key, or ok=false if absent. A not-found is not an
	// error; content.Close() is the caller's responsibility when ok is true.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, replacing any prior entry.
	Add(key Key, content io.Reader) error
	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(key Key) error
}

// FileCachePathKey is a context.Context value key whose value is the cache directory path.
type FileCachePathKey struct{}

// New returns a Cache backed by a directory of files, one per Key, each transparently
// zstd-compressed.
func New(ctx context.Context) Cache {
	dir, _ := ctx.Value(FileCachePathKey{}).(string)
	if dir == "" {
		return nil
	}
	return NewDirCache(dir)
}

// NewDirCache returns a Cache backed by dir directly, without requiring a context.
func NewDirCache(dir string) Cache {
	return NewCompressed(newFileCache(dir))
}

// NewCompressed wraps inner so every Add is zstd-compressed before reaching it, and every Get
// is transparently decompressed. Wire this around a custom Cache implementation (e.g. a network
// blob store) to get the same compression the default file-backed cache uses.
func NewCompressed(inner Cache) Cache {
	return &compressedCache{inner: inner}
}

type compressedCache struct {
	inner Cache
}

func (c *compressedCache) Get(key Key) (io.ReadCloser, bool, error) {
	raw, ok, err := c.inner.Get(key)
	if !ok || err != nil {
		return nil, ok, err
	}
	defer raw.Close()
	dec, err := zstd.NewReader(raw)
	if err != nil {
		return nil, false, fmt.Errorf("filecache: corrupt entry: %w", err)
	}
	buf, err := io.ReadAll(dec)
	dec.Close()
	if err != nil {
		return nil, false, err
	}
	return io.NopCloser(bytesReader(buf)), true, nil
}

func (c *compressedCache) Add(key Key, content io.Reader) error {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw)
	if err != nil {
		return err
	}
	go func() {
		_, copyErr := io.Copy(enc, content)
		closeErr := enc.Close()
		if copyErr != nil {
			pw.CloseWithError(copyErr)
		} else {
			pw.CloseWithError(closeErr)
		}
	}()
	return c.inner.Add(key, pr)
}

func (c *compressedCache) Delete(key Key) error { return c.inner.Delete(key) }

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache persists entries as plain, uncompressed files named by hex(key); compression, if
// wanted, is layered on top via NewCompressed rather than built in here, so on-disk content
// stays byte-identical to what Add was given.
type fileCache struct {
	dirPath string
	dirOk   bool
	mux     sync.RWMutex
}

type fileReadCloser struct {
	*os.File
	fc *fileCache
}

func (fc *fileCache) path(key Key) string {
	return path.Join(fc.dirPath, hex.EncodeToString(key[:]))
}

func (fc *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	fc.mux.RLock()
	unlock := fc.mux.RUnlock
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	f, err := os.Open(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	unlock = nil
	return &fileReadCloser{File: f, fc: fc}, true, nil
}

func (f *fileReadCloser) Close() (err error) {
	defer f.fc.mux.RUnlock()
	return f.File.Close()
}

func (fc *fileCache) Add(key Key, content io.Reader) (err error) {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	if err = fc.requireDir(); err != nil {
		return err
	}

	file, err := os.Create(fc.path(key))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, content)
	return err
}

func (fc *fileCache) Delete(key Key) (err error) {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	err = os.Remove(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}

func (fc *fileCache) requireDir() error {
	if fc.dirOk {
		return nil
	}
	if s, err := os.Stat(fc.dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(fc.dirPath, 0o700); err != nil {
			return fmt.Errorf("filecache: couldn't create dir %s: %w", fc.dirPath, err)
		}
	} else if err != nil {
		return fmt.Errorf("filecache: couldn't open dir %s: %w", fc.dirPath, err)
	} else if !s.IsDir() {
		return fmt.Errorf("filecache: expected dir at %s", fc.dirPath)
	}
	fc.dirOk = true
	return nil
}
