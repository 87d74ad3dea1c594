package wasm

import (
	"context"
	"fmt"
	"math"

	"github.com/corewasm/corewasm/api"
)

// FunctionKind distinguishes a Wasm-defined function body from a host (Go) function.
type FunctionKind int

const (
	FunctionKindWasm FunctionKind = iota
	FunctionKindGo
)

// FunctionInstance is a function instance in a Store.
//
// Grounded on the vendored internal/wasm/store.go's FunctionInstance.
type FunctionInstance struct {
	DebugName string
	Kind      FunctionKind
	Type      *FunctionType

	LocalTypes []api.ValueType
	Body       []byte

	GoFunc GoFunc // non-nil when Kind == FunctionKindGo

	Module *ModuleInstance
	TypeID FunctionTypeID
	Idx    Index

	moduleName  string
	name        string
	paramNames  []string
	exportNames []string
}

// GoFunc is a host function's Go-level implementation: it receives raw Wasm-encoded
// arguments and returns raw Wasm-encoded results, matching the Trampoline's values_buf
// element width.
type GoFunc func(mod api.Instance, params []uint64) (results []uint64)

func (f *FunctionInstance) Index() uint32 { return f.Idx }
func (f *FunctionInstance) Name() string  { return f.name }

// DebugString identifies this function for errors and stack traces, e.g. "env.abort" or
// ".$3" for an unnamed function at index 3 of an unnamed module.
func (f *FunctionInstance) DebugString() string {
	mod := f.moduleName
	name := f.name
	if name == "" {
		name = fmt.Sprintf("$%d", f.Idx)
	}
	return mod + "." + name
}

// GlobalInstance is a global instance in a Store.
type GlobalInstance struct {
	Type  *GlobalType
	Val   uint64
	ValHi uint64 // used only by V128 globals

	// PendingFuncRefIndex is set by buildGlobals when this global's initializer is a
	// ref.func (whose target, unlike other constant expressions, isn't known until the owning
	// module's functions exist) and cleared by the ModuleEngine's InitializeFuncrefGlobals once
	// it has resolved Val to that function's engine-specific reference.
	PendingFuncRefIndex *Index
}

func (g *GlobalInstance) Get() api.Val {
	switch g.Type.ValType {
	case api.ValueTypeF32:
		return api.ValF32(api.DecodeF32(g.Val))
	case api.ValueTypeF64:
		return api.ValF64(api.DecodeF64(g.Val))
	default:
		return api.ValFromBits(g.Type.ValType, g.Val)
	}
}

func (g *GlobalInstance) Set(v api.Val) { g.Val = v.Bits() }
func (g *GlobalInstance) Type_() api.ValueType { return g.Type.ValType }
func (g *GlobalInstance) String() string {
	return fmt.Sprintf("global(type=%s,val=%#x)", api.ValueTypeName(g.Type.ValType), g.Val)
}

// MemoryPageSize is 64KiB, the unit of Wasm linear memory sizing.
const MemoryPageSize = 65536

// MemoryMaxPages is the hard ceiling of 4GiB / MemoryPageSize.
const MemoryMaxPages = math.MaxUint32 / MemoryPageSize + 1

// MemoryInstance is a linear memory instance in a Store.
type MemoryInstance struct {
	Buffer   []byte
	Min, Cap, Max uint32
}

func NewMemoryInstance(t *MemoryType) *MemoryInstance {
	max := t.Max
	if !t.IsMaxEncoded {
		max = MemoryMaxPages
	}
	return &MemoryInstance{
		Buffer: make([]byte, uint64(t.Min)*MemoryPageSize),
		Min:    t.Min,
		Cap:    t.Min,
		Max:    max,
	}
}

func (m *MemoryInstance) Size() uint32 { return uint32(len(m.Buffer) / MemoryPageSize) }

func (m *MemoryInstance) Grow(deltaPages uint32) (previousPages uint32, ok bool) {
	current := m.Size()
	if deltaPages == 0 {
		return current, true
	}
	next := current + deltaPages
	if next < current || next > m.Max {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(deltaPages)*MemoryPageSize)...)
	return current, true
}

func (m *MemoryInstance) hasSize(offset uint32, n uint64) bool {
	return uint64(offset)+n <= uint64(len(m.Buffer))
}

func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if !m.hasSize(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	b := m.Buffer[offset : offset+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	lo, _ := m.ReadUint32Le(offset)
	hi, _ := m.ReadUint32Le(offset + 4)
	return uint64(lo) | uint64(hi)<<32, true
}

func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(offset, uint64(byteCount)) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if !m.hasSize(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

func (m *MemoryInstance) WriteUint32Le(offset, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	b := m.Buffer[offset : offset+4]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return true
}

func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	m.WriteUint32Le(offset, uint32(v))
	m.WriteUint32Le(offset+4, uint32(v>>32))
	return true
}

func (m *MemoryInstance) Write(offset uint32, v []byte) bool {
	if !m.hasSize(offset, uint64(len(v))) {
		return false
	}
	copy(m.Buffer[offset:], v)
	return true
}

// TableInstance is a table instance in a Store, holding opaque references (funcref/externref).
type TableInstance struct {
	References []Reference
	Type       api.ValueType
	Max        *uint32
}

// Reference is an opaque 64-bit table/global slot value: either a funcref (an engine-specific
// compiled function pointer) or an externref (an ExternRef handle).
type Reference = uintptr

func (t *TableInstance) Size() uint32 { return uint32(len(t.References)) }
func (t *TableInstance) Type_() api.ValueType { return t.Type }

// ExportInstance is a named export in a Store.
type ExportInstance struct {
	Type     api.ExternType
	Function *FunctionInstance
	Global   *GlobalInstance
	Memory   *MemoryInstance
	Table    *TableInstance
}

// DataInstance holds bytes corresponding to a data segment (used by bulk-memory ops).
type DataInstance = []byte

// ElementInstance holds the funcref/externref contents of a passive element segment.
type ElementInstance struct {
	References []Reference
	Type       api.ValueType
}

// ModuleInstance is the runtime representation of an instantiated Module.
//
// Grounded on the vendored internal/wasm/store.go's ModuleInstance.
type ModuleInstance struct {
	Name      string
	Exports   map[string]*ExportInstance
	Functions []*FunctionInstance
	Globals   []*GlobalInstance
	Memory    *MemoryInstance
	Tables    []*TableInstance
	Types     []*FunctionType
	TypeIDs   []FunctionTypeID

	DataInstances    []DataInstance
	ElementInstances []ElementInstance

	// Engine implements function calls for this module (set by Store.Instantiate).
	Engine ModuleEngine

	// Store is the owning Store, set by Store.Instantiate; a compiled call loop uses it to
	// reach the shared Interrupts/Fuel state without threading an extra parameter through every
	// call site.
	Store *Store

	// closed and exitCode are set by CloseWithExitCode and reported by Closed.
	closed   bool
	exitCode uint32
}

// CloseWithExitCode marks the instance closed and records exitCode, both reported by Closed.
// It does not stop a call in flight, and calls made afterward still run.
// Calling it twice is a no-op: the first exit code sticks.
func (m *ModuleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.exitCode = exitCode
	if m.Memory != nil {
		// Nothing to unmap: MemoryInstance is plain Go-heap backed. Table/Memory release is a
		// GC concern here; only code memory (owned by the Engine's compiled module and released
		// by Engine.DeleteCompiledModule) requires explicit release.
	}
	return nil
}

// Closed reports whether CloseWithExitCode has already run, and the exit code it recorded.
func (m *ModuleInstance) Closed() (bool, uint32) { return m.closed, m.exitCode }

func (m *ModuleInstance) getExport(name string, et api.ExternType) (*ExportInstance, error) {
	exp, ok := m.Exports[name]
	if !ok {
		return nil, fmt.Errorf("%q is not exported in module %q", name, m.Name)
	}
	if exp.Type != et {
		return nil, fmt.Errorf("export %q in module %q is a %s, not a %s", name, m.Name, api.ExternTypeName(exp.Type), api.ExternTypeName(et))
	}
	return exp, nil
}

func (m *ModuleInstance) buildExports(exports []*Export) {
	m.Exports = make(map[string]*ExportInstance, len(exports))
	for _, exp := range exports {
		idx := exp.Index
		var ei *ExportInstance
		switch exp.Type {
		case api.ExternTypeFunc:
			ei = &ExportInstance{Type: exp.Type, Function: m.Functions[idx]}
		case api.ExternTypeGlobal:
			ei = &ExportInstance{Type: exp.Type, Global: m.Globals[idx]}
		case api.ExternTypeMemory:
			ei = &ExportInstance{Type: exp.Type, Memory: m.Memory}
		case api.ExternTypeTable:
			ei = &ExportInstance{Type: exp.Type, Table: m.Tables[idx]}
		}
		m.Exports[exp.Name] = ei
	}
}
