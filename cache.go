package wazero

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	goruntime "runtime"

	"github.com/corewasm/corewasm/internal/filecache"
)

// cacheVersion qualifies the on-disk cache directory so an incompatible rebuild of this module
// (a different codec.go encoding, a different GOARCH) doesn't load stale compiled functions.
const cacheVersion = "corewasm-1"

// Cache holds a compilation cache that can be shared across multiple Runtime instances, so a
// wasm.Module compiled once doesn't need re-lowering in a later process.
//
// Trimmed of any Close/engine-sharing semantics: this module's wasm.Engine has no Close method,
// so a Cache here only ever backs filecache.Cache persistence, never a shared, long-lived
// compiler.Engine instance.
type Cache interface {
	// WithCompilationCacheDirName configures the destination directory of the compilation
	// cache. Creates the directory if absent.
	WithCompilationCacheDirName(dir string) error
}

// NewCache returns a new Cache to be passed to RuntimeConfig.WithCompilationCache.
func NewCache() Cache {
	return &cache{}
}

type cache struct {
	fileCache filecache.Cache
}

func (c *cache) WithCompilationCacheDirName(dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := mkdir(dir); err != nil {
		return err
	}

	dirname := path.Join(dir, cacheVersion+"-"+goruntime.GOARCH+"-"+goruntime.GOOS)
	if err := mkdir(dirname); err != nil {
		return err
	}

	c.fileCache = filecache.NewDirCache(dirname)
	return nil
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirname, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %v", dirname, err)
		}
	} else if err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not dir", dirname)
	}
	return nil
}
