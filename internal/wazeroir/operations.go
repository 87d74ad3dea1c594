// Package wazeroir lowers a Module-defined function's raw Wasm bytecode into a flat, linear
// intermediate representation: a []Operation with structured control flow (block/loop/if)
// already resolved into absolute branch targets. The Compiler consumes this IR instead of
// walking raw bytecode itself, so its code generation loop is a simple switch over Operation
// kinds rather than a bytecode decoder interleaved with a control-flow stack.
package wazeroir

import "github.com/corewasm/corewasm/api"

// OperationKind discriminates the concrete Operation types below.
type OperationKind byte

const (
	OperationKindUnreachable OperationKind = iota
	OperationKindBr
	OperationKindBrIf
	OperationKindBrTable
	OperationKindCall
	OperationKindCallIndirect
	OperationKindDrop
	OperationKindSelect
	OperationKindLocalGet
	OperationKindLocalSet
	OperationKindLocalTee
	OperationKindGlobalGet
	OperationKindGlobalSet
	OperationKindLoad
	OperationKindStore
	OperationKindMemorySize
	OperationKindMemoryGrow
	OperationKindConstI32
	OperationKindConstI64
	OperationKindConstF32
	OperationKindConstF64
	OperationKindAdd
	OperationKindSub
	OperationKindMul
	OperationKindDiv
	OperationKindRefNull
	OperationKindRefFunc
	OperationKindReturn
)

// UnsignedType distinguishes the primitive kind an arithmetic or memory Operation operates on.
// corewasm's bounded opcode set never lowers a signed-vs-unsigned distinct pair of ops (e.g.
// only i32.div_s, never i32.div_u), so this carries no separate SignedType.
type UnsignedType byte

const (
	UnsignedTypeI32 UnsignedType = iota
	UnsignedTypeI64
	UnsignedTypeF32
	UnsignedTypeF64
)

func unsignedTypeOf(t api.ValueType) UnsignedType {
	switch t {
	case api.ValueTypeI64:
		return UnsignedTypeI64
	case api.ValueTypeF32:
		return UnsignedTypeF32
	case api.ValueTypeF64:
		return UnsignedTypeF64
	default:
		return UnsignedTypeI32
	}
}

// Operation is one lowered IR instruction.
type Operation interface {
	Kind() OperationKind
}

// OperationUnreachable implements Operation for the "unreachable" instruction: always traps.
type OperationUnreachable struct{}

func (OperationUnreachable) Kind() OperationKind { return OperationKindUnreachable }

// OperationBr is an unconditional jump to Target, an absolute index into the enclosing
// CompilationResult.Operations. Held by pointer in that slice so the lowering pass can patch
// Target in place once a forward branch's block/if end is reached.
type OperationBr struct{ Target uint64 }

func (*OperationBr) Kind() OperationKind { return OperationKindBr }

// OperationBrIf pops an i32 condition and jumps to Then if non-zero, Else otherwise.
type OperationBrIf struct{ Then, Else uint64 }

func (*OperationBrIf) Kind() OperationKind { return OperationKindBrIf }

// OperationBrTable pops an i32 index, clamps it to len(Targets)-1, and jumps to Targets[index].
type OperationBrTable struct{ Targets []uint64 }

func (*OperationBrTable) Kind() OperationKind { return OperationKindBrTable }

// OperationCall invokes the module-indexed function directly.
type OperationCall struct{ FunctionIndex uint32 }

func (OperationCall) Kind() OperationKind { return OperationKindCall }

// OperationCallIndirect pops a table index, resolves it through TableIndex against the
// TypeIndex signature, and calls it.
type OperationCallIndirect struct {
	TypeIndex  uint32
	TableIndex uint32
}

func (OperationCallIndirect) Kind() OperationKind { return OperationKindCallIndirect }

// OperationDrop discards the top-of-stack value.
type OperationDrop struct{}

func (OperationDrop) Kind() OperationKind { return OperationKindDrop }

// OperationSelect pops a condition and two values, pushing the first if the condition is
// non-zero, the second otherwise.
type OperationSelect struct{}

func (OperationSelect) Kind() OperationKind { return OperationKindSelect }

// OperationLocalGet pushes local slot Index.
type OperationLocalGet struct{ Index uint32 }

func (OperationLocalGet) Kind() OperationKind { return OperationKindLocalGet }

// OperationLocalSet pops the top of stack into local slot Index.
type OperationLocalSet struct{ Index uint32 }

func (OperationLocalSet) Kind() OperationKind { return OperationKindLocalSet }

// OperationLocalTee is OperationLocalSet without popping: the value is also left on the stack.
type OperationLocalTee struct{ Index uint32 }

func (OperationLocalTee) Kind() OperationKind { return OperationKindLocalTee }

// OperationGlobalGet pushes global Index's current value.
type OperationGlobalGet struct{ Index uint32 }

func (OperationGlobalGet) Kind() OperationKind { return OperationKindGlobalGet }

// OperationGlobalSet pops the top of stack into global Index.
type OperationGlobalSet struct{ Index uint32 }

func (OperationGlobalSet) Kind() OperationKind { return OperationKindGlobalSet }

// OperationLoad pops an address, adds Offset, and pushes the Type-sized value read from linear
// memory, trapping on an out-of-bounds access.
type OperationLoad struct {
	Type   UnsignedType
	Offset uint32
}

func (OperationLoad) Kind() OperationKind { return OperationKindLoad }

// OperationStore pops a value then an address, adds Offset, and writes Type-sized bytes to
// linear memory, trapping on an out-of-bounds access.
type OperationStore struct {
	Type   UnsignedType
	Offset uint32
}

func (OperationStore) Kind() OperationKind { return OperationKindStore }

// OperationMemorySize pushes the current memory size in pages.
type OperationMemorySize struct{}

func (OperationMemorySize) Kind() OperationKind { return OperationKindMemorySize }

// OperationMemoryGrow pops a page-count delta, grows memory, and pushes the previous size (or
// -1 on failure).
type OperationMemoryGrow struct{}

func (OperationMemoryGrow) Kind() OperationKind { return OperationKindMemoryGrow }

// OperationConstI32 pushes an immediate i32.
type OperationConstI32 struct{ Value uint32 }

func (OperationConstI32) Kind() OperationKind { return OperationKindConstI32 }

// OperationConstI64 pushes an immediate i64.
type OperationConstI64 struct{ Value uint64 }

func (OperationConstI64) Kind() OperationKind { return OperationKindConstI64 }

// OperationConstF32 pushes an immediate f32.
type OperationConstF32 struct{ Value uint32 } // raw IEEE-754 bits

func (OperationConstF32) Kind() OperationKind { return OperationKindConstF32 }

// OperationConstF64 pushes an immediate f64.
type OperationConstF64 struct{ Value uint64 } // raw IEEE-754 bits

func (OperationConstF64) Kind() OperationKind { return OperationKindConstF64 }

// OperationAdd pops two Type operands and pushes their sum.
type OperationAdd struct{ Type UnsignedType }

func (OperationAdd) Kind() OperationKind { return OperationKindAdd }

// OperationSub pops two Type operands and pushes their difference.
type OperationSub struct{ Type UnsignedType }

func (OperationSub) Kind() OperationKind { return OperationKindSub }

// OperationMul pops two Type operands and pushes their product.
type OperationMul struct{ Type UnsignedType }

func (OperationMul) Kind() OperationKind { return OperationKindMul }

// OperationDiv pops two Type operands and pushes their (signed, for integers) quotient,
// trapping on division by zero or (for i32/i64) on MinInt/-1 overflow.
type OperationDiv struct{ Type UnsignedType }

func (OperationDiv) Kind() OperationKind { return OperationKindDiv }

// OperationRefNull pushes a null reference of the given value type (funcref or externref).
type OperationRefNull struct{ Type api.ValueType }

func (OperationRefNull) Kind() OperationKind { return OperationKindRefNull }

// OperationRefFunc pushes an engine-specific funcref for the module-indexed function.
type OperationRefFunc struct{ FunctionIndex uint32 }

func (OperationRefFunc) Kind() OperationKind { return OperationKindRefFunc }

// OperationReturn returns from the current function.
type OperationReturn struct{}

func (OperationReturn) Kind() OperationKind { return OperationKindReturn }
