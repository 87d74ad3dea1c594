// Package wasm holds the parsed Module shape plus the
// runtime instances created from it, independent of any compilation strategy.
//
// Grounded on the vendored internal/wasm/store.go (see DESIGN.md) from an earlier wazero
// release, generalized to corewasm's vocabulary (Store, ModuleInstance, FunctionInstance...).
package wasm

import (
	"fmt"

	"github.com/corewasm/corewasm/api"
)

// Index is a position in a module's index namespace (imports first, then module-defined).
type Index = uint32

// FunctionType is the Wasm type of a function: parameter and result value types.
// Interned per-Store as a FunctionTypeID (see Store.getFunctionTypeID).
type FunctionType struct {
	Params, Results []api.ValueType

	// cachedKey memoizes String() since it is used as a map key during signature interning.
	cachedKey string
}

func (t *FunctionType) String() string {
	if t.cachedKey != "" {
		return t.cachedKey
	}
	key := make([]byte, 0, len(t.Params)+len(t.Results)+2)
	for _, p := range t.Params {
		key = append(key, p)
	}
	key = append(key, '_')
	for _, r := range t.Results {
		key = append(key, r)
	}
	t.cachedKey = string(key)
	return t.cachedKey
}

// EqualsSignature reports whether this type has the same params/results as the given ones.
func (t *FunctionType) EqualsSignature(params, results []api.ValueType) bool {
	return sliceEq(t.Params, params) && sliceEq(t.Results, results)
}

func sliceEq(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Import describes one entry of a Module's import section.
type Import struct {
	Type       api.ExternType
	Module     string
	Name       string
	DescFunc   Index // index into Module.TypeSection, when Type == ExternTypeFunc
	DescTable  TableType
	DescMem    MemoryType
	DescGlobal GlobalType
}

// TableType is the declared shape of a table import or definition.
type TableType struct {
	ElemType api.ValueType // ValueTypeFuncref or ValueTypeExternref
	Min      uint32
	Max      *uint32
}

// MemoryType is the declared shape of a memory import or definition, in 64KiB pages.
type MemoryType struct {
	Min, Max     uint32
	IsMaxEncoded bool
}

// GlobalType is the declared shape of a global import or definition.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// ConstantExpression is a Wasm constant expression, used for global initializers and
// active element/data segment offsets.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Opcode is a raw Wasm instruction opcode (subset the Compiler recognizes; see
// internal/wazeroir for the lowered IR the Compiler actually consumes).
type Opcode = byte

const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0b
	OpcodeBr          Opcode = 0x0c
	OpcodeBrIf        Opcode = 0x0d
	OpcodeBrTable     Opcode = 0x0e
	OpcodeReturn      Opcode = 0x0f
	OpcodeCall        Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11
	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b
	OpcodeLocalGet    Opcode = 0x20
	OpcodeLocalSet    Opcode = 0x21
	OpcodeLocalTee    Opcode = 0x22
	OpcodeGlobalGet   Opcode = 0x23
	OpcodeGlobalSet   Opcode = 0x24
	OpcodeI32Load     Opcode = 0x28
	OpcodeI64Load     Opcode = 0x29
	OpcodeI32Store    Opcode = 0x36
	OpcodeI64Store    Opcode = 0x37
	OpcodeMemorySize  Opcode = 0x3f
	OpcodeMemoryGrow  Opcode = 0x40
	OpcodeI32Const    Opcode = 0x41
	OpcodeI64Const    Opcode = 0x42
	OpcodeF32Const    Opcode = 0x43
	OpcodeF64Const    Opcode = 0x44
	OpcodeI32Add      Opcode = 0x6a
	OpcodeI32Sub      Opcode = 0x6b
	OpcodeI32Mul      Opcode = 0x6c
	OpcodeI32DivS     Opcode = 0x6d
	OpcodeI64Add      Opcode = 0x7c
	OpcodeI64Sub      Opcode = 0x7d
	OpcodeI64Mul      Opcode = 0x7e
	OpcodeRefNull     Opcode = 0xd0
	OpcodeRefFunc     Opcode = 0xd2
)

// Function is a module-defined (non-imported) function: its signature index and body.
type Function struct {
	TypeIndex  Index
	LocalTypes []api.ValueType
	Body       []byte // raw Wasm bytecode, decoded by internal/wazeroir before compilation
	DebugName  string
	ParamNames []string
}

// Global is a module-defined (non-imported) global.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// Table is a module-defined (non-imported) table.
type Table struct {
	Type TableType
}

// Memory is a module-defined (non-imported) memory.
type Memory = MemoryType

// ElementSegment initializes a range of a table with function indices.
type ElementSegment struct {
	TableIndex Index
	Offset     *ConstantExpression
	Init       []*Index // nullable function indices
	Passive    bool
}

// DataSegment initializes a range of memory with bytes.
type DataSegment struct {
	Offset  *ConstantExpression
	Init    []byte
	Passive bool
}

// ExportKind describes what namespace an Export index resolves into; equals api.ExternType.
type Export struct {
	Type  api.ExternType
	Name  string
	Index Index
}

// Module is the validated, parsed shape of a Wasm binary: immutable after translation.
// It carries no compiled code; see internal/engine/compiler's compiledModule
// for the artifact produced from it.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // index into TypeSection, one per module-defined function
	TableSection    []*Table
	MemorySection   *Memory
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Function
	DataSection     []*DataSegment

	// NameSection carries the optional debug names used in Trap backtraces.
	NameSection *NameSection

	// ID identifies this Module for compilation caching (internal/filecache), independent
	// of the name it is instantiated under.
	ID ModuleID
}

// ModuleID uniquely identifies a Module's bytes, used as a filecache and compiled-code-map key.
type ModuleID [32]byte

// NameSection holds the optional debug names carried in a Wasm custom "name" section.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string
}

// ImportFuncCount returns how many of ImportSection are function imports; these occupy the
// low indices of the function index space, ahead of CodeSection's module-defined functions.
func (m *Module) ImportFuncCount() Index {
	var n Index
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeFunc {
			n++
		}
	}
	return n
}

// funcDesc formats a function reference for error messages, e.g. "import[2]" or "code[0]".
func (m *Module) funcDesc(idx Index) string {
	importFuncs := m.ImportFuncCount()
	if idx < importFuncs {
		return fmt.Sprintf("import[%d]", idx)
	}
	return fmt.Sprintf("code[%d]", idx-importFuncs)
}

// TypeOfFunction returns the FunctionType for the function at the given index in the
// combined (imports-first) function index space.
func (m *Module) TypeOfFunction(idx Index) *FunctionType {
	importFuncs := m.ImportFuncCount()
	if idx < importFuncs {
		var seen Index
		for _, i := range m.ImportSection {
			if i.Type != api.ExternTypeFunc {
				continue
			}
			if seen == idx {
				return m.TypeSection[i.DescFunc]
			}
			seen++
		}
		return nil
	}
	return m.TypeSection[m.FunctionSection[idx-importFuncs]]
}
