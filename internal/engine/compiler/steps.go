package compiler

import (
	"context"
	"fmt"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/fiber"
	"github.com/corewasm/corewasm/internal/wasm"
	"github.com/corewasm/corewasm/internal/wasmdebug"
	"github.com/corewasm/corewasm/internal/wasmruntime"
	"github.com/corewasm/corewasm/internal/wazeroir"
)

// step is one threaded-code unit: it performs exactly one wazeroir.Operation's effect on ce and
// returns the next step index to run (cf.steps[next]), or an index >= len(cf.steps) to signal
// the function has returned.
type step func(ce *callEngine) int

// callEngine holds the value stack and locals for one in-flight Call, plus state shared across
// every nested wasm-to-wasm call it makes: the recursion-depth counter, the accumulating trap
// message builder, and the structured backtrace frames a trap ultimately reports.
type callEngine struct {
	ctx    context.Context
	module *wasm.ModuleInstance
	stack  []uint64
	depth  *int
	trace  wasmdebug.ErrorBuilder
	frames *[]api.Frame // shared across every nested callEngine in one top-level Call

	// fiber is non-nil only for a Call made through moduleEngine.CallAsync: a loop back-edge or
	// call entry that finds fuel exhausted under FuelPolicyYieldAsync suspends through it rather
	// than trapping.
	fiber *fiber.Control
}

// checkSuspend is the loop-back-edge/call-entry suspension hook: it polls the owning Store's
// interrupt flag and fuel counter, trapping (or, in async mode with fuel exhausted, suspending
// the fiber) before control reaches the target.
func (ce *callEngine) checkSuspend() {
	st := ce.module.Store
	if st == nil {
		return
	}
	if st.Interrupts.PollAndClear() {
		panic(wasmruntime.ErrRuntimeInterrupted)
	}
	if st.Fuel.Enabled() && st.Fuel.Consume(1) {
		if st.Fuel.Policy() == wasm.FuelPolicyYieldAsync && ce.fiber != nil {
			if err := ce.fiber.Yield(); err != nil {
				panic(err)
			}
			return
		}
		panic(wasmruntime.ErrRuntimeOutOfGas)
	}
}

// maxCallDepth bounds wasm-to-wasm call recursion, independent of the Go goroutine's native
// stack size; exceeding it panics with wasmruntime.ErrRuntimeCallStackOverflow.
const maxCallDepth = 2048

// runFunction drives cf's threaded steps to completion, recording cf's frame onto ce.frames if a
// panic unwinds through it: since recover/re-panic happens once per nested runFunction call (see
// invoke), frames accumulate innermost-first exactly as they do in wasmdebug.ErrorBuilder.
func runFunction(ce *callEngine, cf *compiledFunction) {
	ce.checkSuspend()
	defer func() {
		if r := recover(); r != nil {
			name := wasmdebug.FuncName(ce.module.Name, cf.debugName, uint32(cf.index))
			if ce.trace != nil {
				ce.trace.AddFrame(name, cf.typ.Params, cf.typ.Results)
			}
			if ce.frames != nil {
				*ce.frames = append(*ce.frames, api.Frame{
					ModuleName: ce.module.Name,
					FuncIndex:  uint32(cf.index),
					FuncName:   cf.debugName,
				})
			}
			panic(r)
		}
	}()
	idx := 0
	for idx < len(cf.steps) {
		idx = cf.steps[idx](ce)
	}
}

func (ce *callEngine) push(v uint64)  { ce.stack = append(ce.stack, v) }
func (ce *callEngine) pop() uint64 {
	n := len(ce.stack) - 1
	v := ce.stack[n]
	ce.stack = ce.stack[:n]
	return v
}

// compileSteps translates a function's lowered operations into threaded-code steps; step i
// implements ops[i] and, when ops[i] is not a control-transfer instruction, defaults to
// returning i+1 for the driver loop in runFunction.
func compileSteps(ops []wazeroir.Operation) ([]step, error) {
	steps := make([]step, len(ops))
	for i, op := range ops {
		i, op := i, op // per-iteration capture
		next := i + 1
		switch o := op.(type) {
		case wazeroir.OperationUnreachable:
			steps[i] = func(ce *callEngine) int { panic(wasmruntime.ErrRuntimeUnreachable) }
		case *wazeroir.OperationBr:
			target := int(o.Target)
			steps[i] = func(ce *callEngine) int {
				if target <= i {
					ce.checkSuspend()
				}
				return target
			}
		case *wazeroir.OperationBrIf:
			then, els := int(o.Then), int(o.Else)
			steps[i] = func(ce *callEngine) int {
				target := els
				if int32(ce.pop()) != 0 {
					target = then
				}
				if target <= i {
					ce.checkSuspend()
				}
				return target
			}
		case *wazeroir.OperationBrTable:
			targets := o.Targets
			steps[i] = func(ce *callEngine) int {
				idx := ce.pop()
				if idx >= uint64(len(targets)) {
					idx = uint64(len(targets)) - 1
				}
				target := int(targets[idx])
				if target <= i {
					ce.checkSuspend()
				}
				return target
			}
		case wazeroir.OperationReturn:
			steps[i] = func(ce *callEngine) int { return len(steps) }
		case wazeroir.OperationCall:
			fnIdx := o.FunctionIndex
			steps[i] = func(ce *callEngine) int {
				callFunction(ce, fnIdx)
				return next
			}
		case wazeroir.OperationCallIndirect:
			tableIdx, typeIdx := o.TableIndex, o.TypeIndex
			steps[i] = func(ce *callEngine) int {
				callIndirect(ce, tableIdx, typeIdx)
				return next
			}
		case wazeroir.OperationDrop:
			steps[i] = func(ce *callEngine) int { ce.pop(); return next }
		case wazeroir.OperationSelect:
			steps[i] = func(ce *callEngine) int {
				cond := ce.pop()
				b, a := ce.pop(), ce.pop()
				if cond != 0 {
					ce.push(a)
				} else {
					ce.push(b)
				}
				return next
			}
		case wazeroir.OperationLocalGet:
			idx := o.Index
			steps[i] = func(ce *callEngine) int {
				ce.push(ce.stack[ce.localBase()+int(idx)])
				return next
			}
		case wazeroir.OperationLocalSet:
			idx := o.Index
			steps[i] = func(ce *callEngine) int {
				ce.stack[ce.localBase()+int(idx)] = ce.pop()
				return next
			}
		case wazeroir.OperationLocalTee:
			idx := o.Index
			steps[i] = func(ce *callEngine) int {
				ce.stack[ce.localBase()+int(idx)] = ce.stack[len(ce.stack)-1]
				return next
			}
		case wazeroir.OperationGlobalGet:
			idx := o.Index
			steps[i] = func(ce *callEngine) int {
				ce.push(ce.module.Globals[idx].Val)
				return next
			}
		case wazeroir.OperationGlobalSet:
			idx := o.Index
			steps[i] = func(ce *callEngine) int {
				ce.module.Globals[idx].Val = ce.pop()
				return next
			}
		case wazeroir.OperationLoad:
			typ, offset := o.Type, o.Offset
			steps[i] = func(ce *callEngine) int {
				addr := uint32(ce.pop()) + offset
				loadMemory(ce, typ, addr)
				return next
			}
		case wazeroir.OperationStore:
			typ, offset := o.Type, o.Offset
			steps[i] = func(ce *callEngine) int {
				v := ce.pop()
				addr := uint32(ce.pop()) + offset
				storeMemory(ce, typ, addr, v)
				return next
			}
		case wazeroir.OperationMemorySize:
			steps[i] = func(ce *callEngine) int {
				ce.push(uint64(ce.module.Memory.Size()))
				return next
			}
		case wazeroir.OperationMemoryGrow:
			steps[i] = func(ce *callEngine) int {
				delta := uint32(ce.pop())
				prev, ok := ce.module.Memory.Grow(delta)
				if !ok {
					ce.push(uint64(uint32(0xffffffff)))
				} else {
					ce.push(uint64(prev))
				}
				return next
			}
		case wazeroir.OperationConstI32:
			v := uint64(o.Value)
			steps[i] = func(ce *callEngine) int { ce.push(v); return next }
		case wazeroir.OperationConstI64:
			v := o.Value
			steps[i] = func(ce *callEngine) int { ce.push(v); return next }
		case wazeroir.OperationConstF32:
			v := uint64(o.Value)
			steps[i] = func(ce *callEngine) int { ce.push(v); return next }
		case wazeroir.OperationConstF64:
			v := o.Value
			steps[i] = func(ce *callEngine) int { ce.push(v); return next }
		case wazeroir.OperationAdd:
			typ := o.Type
			steps[i] = func(ce *callEngine) int { arithmetic(ce, typ, opAdd); return next }
		case wazeroir.OperationSub:
			typ := o.Type
			steps[i] = func(ce *callEngine) int { arithmetic(ce, typ, opSub); return next }
		case wazeroir.OperationMul:
			typ := o.Type
			steps[i] = func(ce *callEngine) int { arithmetic(ce, typ, opMul); return next }
		case wazeroir.OperationDiv:
			typ := o.Type
			steps[i] = func(ce *callEngine) int { arithmetic(ce, typ, opDivS); return next }
		case wazeroir.OperationRefNull:
			steps[i] = func(ce *callEngine) int { ce.push(0); return next }
		case wazeroir.OperationRefFunc:
			idx := o.FunctionIndex
			steps[i] = func(ce *callEngine) int {
				ce.push(uint64(uintptr(idx)) | funcrefTag)
				return next
			}
		default:
			return nil, fmt.Errorf("compiler: unhandled operation kind %v", op.Kind())
		}
	}
	return steps, nil
}

// funcrefTag marks a funcref table/global slot's opaque value as "the module-local function at
// this index", distinguishing it from a null reference (0) without needing a real code pointer
// since calls resolve funcrefs back through ModuleInstance.Functions by index.
const funcrefTag = uint64(1) << 63

// localBase returns the stack index of the current frame's first local: this callEngine is
// freshly created per invocation (see invoke and moduleEngine.newCallEngine) with locals pre-pushed at indices
// [0, numLocals), so it is always 0. Kept as a method for clarity at call sites and in case a
// future change reuses callEngines across frames.
func (ce *callEngine) localBase() int { return 0 }

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDivS
)

func arithmetic(ce *callEngine, typ wazeroir.UnsignedType, op arithOp) {
	b, a := ce.pop(), ce.pop()
	switch typ {
	case wazeroir.UnsignedTypeI32:
		x, y := int32(uint32(a)), int32(uint32(b))
		ce.push(uint64(uint32(i32Op(x, y, op))))
	case wazeroir.UnsignedTypeI64:
		x, y := int64(a), int64(b)
		ce.push(uint64(i64Op(x, y, op)))
	default:
		panic(fmt.Sprintf("compiler: BUG: arithmetic on unsupported type %v", typ))
	}
}

func i32Op(x, y int32, op arithOp) int32 {
	switch op {
	case opAdd:
		return x + y
	case opSub:
		return x - y
	case opMul:
		return x * y
	case opDivS:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if x == -2147483648 && y == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return x / y
	}
	panic("compiler: BUG: unknown arithOp")
}

func i64Op(x, y int64, op arithOp) int64 {
	switch op {
	case opAdd:
		return x + y
	case opSub:
		return x - y
	case opMul:
		return x * y
	case opDivS:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if x == -9223372036854775808 && y == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return x / y
	}
	panic("compiler: BUG: unknown arithOp")
}

func loadMemory(ce *callEngine, typ wazeroir.UnsignedType, addr uint32) {
	mem := ce.module.Memory
	switch typ {
	case wazeroir.UnsignedTypeI32:
		v, ok := mem.ReadUint32Le(addr)
		if !ok {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		ce.push(uint64(v))
	case wazeroir.UnsignedTypeI64:
		v, ok := mem.ReadUint64Le(addr)
		if !ok {
			panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
		}
		ce.push(v)
	default:
		panic(fmt.Sprintf("compiler: BUG: load of unsupported type %v", typ))
	}
}

func storeMemory(ce *callEngine, typ wazeroir.UnsignedType, addr uint32, v uint64) {
	mem := ce.module.Memory
	var ok bool
	switch typ {
	case wazeroir.UnsignedTypeI32:
		ok = mem.WriteUint32Le(addr, uint32(v))
	case wazeroir.UnsignedTypeI64:
		ok = mem.WriteUint64Le(addr, v)
	default:
		panic(fmt.Sprintf("compiler: BUG: store of unsupported type %v", typ))
	}
	if !ok {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
}

// callFunction invokes the module-indexed function (import or module-defined, wasm or host) as
// part of executing a "call" operation, pushing its results back onto ce.stack.
func callFunction(ce *callEngine, idx wasm.Index) {
	f := ce.module.Functions[idx]
	params := popParams(ce, f.Type.Params)
	results := invoke(ce, f, params)
	for _, r := range results {
		ce.push(r)
	}
}

// callIndirect resolves a "call_indirect" through the given table, checking the resolved
// function's type against typeIdx before invoking it.
func callIndirect(ce *callEngine, tableIdx, typeIdx wasm.Index) {
	tableElemIdx := uint32(ce.pop())
	table := ce.module.Tables[tableIdx]
	if tableElemIdx >= table.Size() {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	ref := uint64(table.References[tableElemIdx])
	if ref&funcrefTag == 0 {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	funcIdx := wasm.Index(ref &^ funcrefTag)
	f := ce.module.Functions[funcIdx]
	wantType := ce.module.Types[typeIdx]
	if !wantType.EqualsSignature(f.Type.Params, f.Type.Results) {
		panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
	}
	params := popParams(ce, f.Type.Params)
	results := invoke(ce, f, params)
	for _, r := range results {
		ce.push(r)
	}
}

func popParams(ce *callEngine, paramTypes []api.ValueType) []uint64 {
	params := make([]uint64, len(paramTypes))
	for i := len(paramTypes) - 1; i >= 0; i-- {
		params[i] = ce.pop()
	}
	return params
}

// invoke calls f (wasm-defined or host) and returns its raw results, recursing through
// runFunction for wasm-defined functions so nested traps still unwind through runFunction's
// recover, which records each frame.
func invoke(ce *callEngine, f *wasm.FunctionInstance, params []uint64) []uint64 {
	if f.Kind == wasm.FunctionKindGo {
		return f.GoFunc(wasm.NewAPIInstance(f.Module), params)
	}

	*ce.depth++
	if *ce.depth > maxCallDepth {
		panic(wasmruntime.ErrRuntimeCallStackOverflow)
	}
	defer func() { *ce.depth-- }()

	me := f.Module.Engine.(*moduleEngine)
	cf := me.functions[f.Idx-me.importFuncCount()]
	nested := &callEngine{ctx: ce.ctx, module: f.Module, depth: ce.depth, trace: ce.trace, frames: ce.frames, fiber: ce.fiber}
	nested.stack = make([]uint64, cf.numLocals, cf.numLocals+8)
	copy(nested.stack, params)
	for i := len(params); i < cf.numLocals; i++ {
		nested.stack[i] = 0
	}
	runFunction(nested, cf)
	results := make([]uint64, len(f.Type.Results))
	copy(results, nested.stack[len(nested.stack)-len(f.Type.Results):])
	return results
}
