// Package api includes constants and interfaces used by both embedders and
// internal implementations of the corewasm execution engine.
package api

import (
	"context"
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the WebAssembly 1.0 (20191205) Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a parameter or result type mapped to a WebAssembly
// function signature.
//
// The following describes how to convert between Wasm and Go types:
//
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 DecodeF64 from float64
//   - ValueTypeExternref - uintptr(unsafe.Pointer(p)) where p is any pointer type in Go
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeExternref ValueType = 0x6f
	ValueTypeFuncref   ValueType = 0x70
)

// ValueTypeName returns the type name of the given ValueType as used in the WebAssembly text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeExternref:
		return "externref"
	case ValueTypeFuncref:
		return "funcref"
	}
	return "unknown"
}

// ValueSize is the number of bytes reserved for any value in a values buffer. It is wide
// enough to hold the bits of any ValueType.
const ValueSize = 16

// Trap is a Wasm-level failure originating from inside a compiled function, carrying a kind,
// a human message, the code offset at which it occurred, and the reconstructed backtrace.
type Trap struct {
	Kind      TrapKind
	Message   string
	Backtrace []Frame
}

func (t *Trap) Error() string {
	return t.DisplayString()
}

// DisplayString renders the stable §4.7 format:
//
//	wasm trap: <kind>, source location: @<hex>
//	wasm backtrace:
//	  0: <mod>!<name>
//	  1: <mod>!<wasm function N>
func (t *Trap) DisplayString() string {
	s := "wasm trap: " + t.Message
	if len(t.Backtrace) > 0 {
		s += fmt.Sprintf(", source location: @%#x", t.Backtrace[0].Offset)
	}
	s += "\nwasm backtrace:"
	for i, f := range t.Backtrace {
		name := f.FuncName
		if name == "" {
			name = fmt.Sprintf("wasm function %d", f.FuncIndex)
		}
		s += fmt.Sprintf("\n  %d: %s!%s", i, f.ModuleName, name)
	}
	return s
}

// NewTrap constructs a user trap raised directly by host code, with no kind classification
// beyond TrapKindUser and no backtrace until it unwinds through Wasm frames.
func NewTrap(message string) *Trap {
	return &Trap{Kind: TrapKindUser, Message: message}
}

// TrapKind enumerates the trap kinds of Trap Record.
type TrapKind int

const (
	TrapKindUnreachable TrapKind = iota
	TrapKindMemoryOutOfBounds
	TrapKindHeapMisaligned
	TrapKindTableOutOfBounds
	TrapKindIndirectCallTypeMismatch
	TrapKindStackOverflow
	TrapKindIntegerDivideByZero
	TrapKindIntegerOverflow
	TrapKindBadConversionToInteger
	TrapKindInterrupt
	TrapKindOutOfGas
	TrapKindUser
)

func (k TrapKind) String() string {
	switch k {
	case TrapKindUnreachable:
		return "unreachable"
	case TrapKindMemoryOutOfBounds:
		return "out of bounds memory access"
	case TrapKindHeapMisaligned:
		return "misaligned heap access"
	case TrapKindTableOutOfBounds:
		return "undefined element"
	case TrapKindIndirectCallTypeMismatch:
		return "indirect call type mismatch"
	case TrapKindStackOverflow:
		return "call stack exhausted"
	case TrapKindIntegerDivideByZero:
		return "integer divide by zero"
	case TrapKindIntegerOverflow:
		return "integer overflow"
	case TrapKindBadConversionToInteger:
		return "invalid conversion to integer"
	case TrapKindInterrupt:
		return "interrupt"
	case TrapKindOutOfGas:
		return "out of gas"
	case TrapKindUser:
		return "user trap"
	}
	return "unknown trap"
}

// Frame is one entry of a Trap's backtrace: a classified PC inside a CompiledModule.
type Frame struct {
	ModuleName string
	FuncIndex  uint32
	FuncName   string // empty when the module carries no name-section entry
	Offset     uint64 // byte offset of the faulting/return PC within the function body
}

// Val is a dynamically-typed Wasm value as passed across the embedding API boundary
// (wasmtime-go style, see go.mod's bytecodealliance/wasmtime-go benchmark dependency).
type Val struct {
	Type ValueType
	bits uint64
}

func ValI32(v int32) Val       { return Val{Type: ValueTypeI32, bits: uint64(uint32(v))} }
func ValI64(v int64) Val       { return Val{Type: ValueTypeI64, bits: uint64(v)} }
func ValF32(v float32) Val     { return Val{Type: ValueTypeF32, bits: uint64(math.Float32bits(v))} }
func ValF64(v float64) Val     { return Val{Type: ValueTypeF64, bits: math.Float64bits(v)} }
func ValExternref(p uintptr) Val {
	return Val{Type: ValueTypeExternref, bits: uint64(p)}
}

func (v Val) I32() int32       { return int32(uint32(v.bits)) }
func (v Val) I64() int64       { return int64(v.bits) }
func (v Val) F32() float32     { return math.Float32frombits(uint32(v.bits)) }
func (v Val) F64() float64     { return math.Float64frombits(v.bits) }
func (v Val) Externref() uintptr { return uintptr(v.bits) }
func (v Val) Bits() uint64     { return v.bits }

func ValFromBits(t ValueType, bits uint64) Val { return Val{Type: t, bits: bits} }

// EncodeExternref encodes the input as a ValueTypeExternref.
func EncodeExternref(input uintptr) uint64 { return uint64(input) }

// DecodeExternref decodes the input as a ValueTypeExternref.
func DecodeExternref(input uint64) uintptr { return uintptr(input) }

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 { return uint64(uint32(input)) }

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 { return uint64(input) }

// EncodeF32 encodes the input as a ValueTypeF32.
func EncodeF32(input float32) uint64 { return uint64(math.Float32bits(input)) }

// DecodeF32 decodes the input as a ValueTypeF32.
func DecodeF32(input uint64) float32 { return math.Float32frombits(uint32(input)) }

// EncodeF64 encodes the input as a ValueTypeF64.
func EncodeF64(input float64) uint64 { return math.Float64bits(input) }

// DecodeF64 decodes the input as a ValueTypeF64.
func DecodeF64(input uint64) float64 { return math.Float64frombits(input) }

// Closer closes a resource.
type Closer interface {
	Close(context.Context) error
}

// ExportDefinition is metadata about a name exported (or re-exported as an import) from a Module.
type ExportDefinition interface {
	ModuleName() string
	Index() uint32
	Import() (moduleName, name string, isImport bool)
	ExportNames() []string
}

// FunctionDefinition is a WebAssembly function exported in a Module, prior to instantiation.
type FunctionDefinition interface {
	ExportDefinition
	Name() string
	DebugName() string
	ParamTypes() []ValueType
	ParamNames() []string
	ResultTypes() []ValueType
}

// MemoryDefinition is a WebAssembly memory exported in a Module, prior to instantiation.
type MemoryDefinition interface {
	ExportDefinition
	Min() uint32
	Max() (uint32, bool)
}

// Func is a WebAssembly function exported from an Instance.
//
// "Func::call(args) → Result<Vec<Val>, Trap>".
type Func interface {
	Definition() FunctionDefinition

	// Call invokes the function's trampoline with the given arguments, validating arity and
	// types first. A nil ctx defaults to context.Background().
	Call(ctx context.Context, args ...Val) ([]Val, error)
}

// Global is a WebAssembly global exported from an Instance.
type Global interface {
	fmt.Stringer
	Type() ValueType
	Get() Val
}

// MutableGlobal is a Global whose value can be updated at runtime.
type MutableGlobal interface {
	Global
	Set(v Val)
}

// Table is a WebAssembly table exported from an Instance, used for indirect calls and funcref/externref storage.
type Table interface {
	Size() uint32
	Type() ValueType
}

// Memory allows restricted access to an Instance's linear memory. All multi-byte values are little-endian.
type Memory interface {
	Size() uint32
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
	ReadByte(offset uint32) (byte, bool)
	ReadUint32Le(offset uint32) (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
	Read(offset, byteCount uint32) ([]byte, bool)
	WriteByte(offset uint32, v byte) bool
	WriteUint32Le(offset, v uint32) bool
	WriteUint64Le(offset uint32, v uint64) bool
	Write(offset uint32, v []byte) bool
}

// MemorySizer applies during compilation to determine min/capacity/max page counts (65536 bytes/page)
// for a defined memory, pluggable independently of its declared Min/Max.
type MemorySizer func(minPages uint32, maxPages *uint32) (min, capacity, max uint32)

// Instance is an instantiated Module, with typed export handles.
type Instance interface {
	fmt.Stringer
	Closer

	Name() string
	Memory() Memory
	ExportedFunction(name string) Func
	ExportedMemory(name string) Memory
	ExportedGlobal(name string) Global
	ExportedTable(name string) Table

	// CloseWithExitCode marks this Instance closed and records exitCode. Its memories and tables
	// are ordinary Go memory left to the garbage collector, and Func.Call does not check the
	// closed state: calls made afterward still run.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error
}
