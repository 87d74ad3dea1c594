package compiler

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/corewasm/corewasm/internal/filecache"
	"github.com/corewasm/corewasm/internal/platform"
	"github.com/corewasm/corewasm/internal/wasm"
)

// codeCache holds every compiledModule this engine has produced in memory, and optionally
// persists each function's encoded operation stream to an external filecache.Cache so a
// restarted process can skip re-lowering an unchanged module.
//
// Follows an add/get/serialize pattern, adapted to persist encodeOperations' byte form instead
// of native machine code.
type codeCache struct {
	mux     sync.RWMutex
	modules map[wasm.ModuleID]*compiledModule
	fc      filecache.Cache
}

func newCodeCache(fc filecache.Cache) *codeCache {
	return &codeCache{modules: map[wasm.ModuleID]*compiledModule{}, fc: fc}
}

func (c *codeCache) get(id wasm.ModuleID) (*compiledModule, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	cm, ok := c.modules[id]
	return cm, ok
}

func (c *codeCache) add(id wasm.ModuleID, cm *compiledModule) {
	c.mux.Lock()
	c.modules[id] = cm
	c.mux.Unlock()
}

func (c *codeCache) delete(id wasm.ModuleID) {
	c.mux.Lock()
	delete(c.modules, id)
	c.mux.Unlock()
}

func (c *codeCache) count() uint32 {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return uint32(len(c.modules))
}

// codeCacheMagic tags the serialized form so a cache directory shared across incompatible
// builds fails loudly on load rather than decoding garbage.
const codeCacheMagic = "CWASM01"

// persist writes every function's encoded operation stream to c.fc under id, if a filecache is
// configured. Mapping each function's bytes back into executable memory happens lazily in load.
func (c *codeCache) persist(id wasm.ModuleID, cm *compiledModule) error {
	if c.fc == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString(codeCacheMagic)
	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(cm.functions)))
	buf.Write(scratch[:4])
	for _, f := range cm.functions {
		binary.LittleEndian.PutUint64(scratch[:8], uint64(len(f.codeSegment)))
		buf.Write(scratch[:8])
		buf.Write(f.codeSegment)
	}
	return c.fc.Add(filecache.Key(id), &buf)
}

// load reconstructs a compiledModule's codeSegments (and, when the platform supports it, mmaps
// each one) from a prior persist call. steps are NOT restored here: decodeOperations plus
// compileSteps re-derive them from the code segment, since a []step closure slice cannot itself
// be serialized.
func (c *codeCache) load(module *wasm.Module) (*compiledModule, bool, error) {
	if c.fc == nil {
		return nil, false, nil
	}
	r, ok, err := c.fc.Get(filecache.Key(module.ID))
	if err != nil || !ok {
		return nil, ok, err
	}
	defer r.Close()

	magic := make([]byte, len(codeCacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != codeCacheMagic {
		return nil, false, fmt.Errorf("compiler: corrupt cache entry for module %x", module.ID)
	}
	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, false, fmt.Errorf("compiler: corrupt cache entry for module %x: %w", module.ID, err)
	}
	count := binary.LittleEndian.Uint32(scratch[:4])
	if int(count) != len(module.CodeSection) {
		return nil, false, fmt.Errorf("compiler: cache entry for module %x has %d functions, module has %d", module.ID, count, len(module.CodeSection))
	}

	cm := &compiledModule{functions: make([]*compiledFunction, count)}
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return nil, false, fmt.Errorf("compiler: corrupt cache entry for module %x: %w", module.ID, err)
		}
		size := int(binary.LittleEndian.Uint64(scratch[:8]))

		var codeSegment []byte
		if size > 0 && platform.CompilerSupported() {
			codeSegment, err = platform.MmapCodeSegment(io.LimitReader(r, int64(size)), size)
			if err != nil {
				return nil, false, fmt.Errorf("compiler: mapping cached code for module %x: %w", module.ID, err)
			}
		} else {
			codeSegment = make([]byte, size)
			if _, err := io.ReadFull(r, codeSegment); err != nil {
				return nil, false, fmt.Errorf("compiler: corrupt cache entry for module %x: %w", module.ID, err)
			}
		}

		ops, err := decodeOperations(codeSegment)
		if err != nil {
			return nil, false, fmt.Errorf("compiler: decoding cached code for module %x: %w", module.ID, err)
		}
		steps, err := compileSteps(ops)
		if err != nil {
			return nil, false, fmt.Errorf("compiler: rebuilding steps for module %x: %w", module.ID, err)
		}

		fn := module.CodeSection[i]
		cm.functions[i] = &compiledFunction{
			typ:         module.TypeSection[fn.TypeIndex],
			numLocals:   len(fn.LocalTypes) + len(module.TypeSection[fn.TypeIndex].Params),
			steps:       steps,
			index:       module.ImportFuncCount() + wasm.Index(i),
			debugName:   fn.DebugName,
			paramNames:  fn.ParamNames,
			codeSegment: codeSegment,
		}
	}
	return cm, true, nil
}
