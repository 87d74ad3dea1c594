package wazeroir

import (
	"fmt"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/leb128"
	"github.com/corewasm/corewasm/internal/wasm"
)

// CompilationResult is the output of lowering one Module-defined function: a flat, linearized
// instruction stream the Compiler lowers into threaded steps, plus the function's frame shape.
type CompilationResult struct {
	Operations []Operation
	// LocalTypes is the concatenation of the function's declared parameter and local types, in
	// frame-slot order, so the Compiler can size and type-check its call frame.
	LocalTypes []api.ValueType
}

// blockSignature is the resolved param/result shape of a block/loop/if's immediate blocktype.
// corewasm's bounded opcode set only recognizes the MVP single-byte encodings (a value type, or
// 0x40 for the empty type); the multi-value form (a signed LEB128 index into the type section)
// is out of scope, matching the rest of this engine's bounded Opcode subset.
type blockSignature struct {
	Results []api.ValueType
}

var emptySignature = blockSignature{}

func blockSignatureOf(valType byte) (blockSignature, error) {
	switch valType {
	case 0x40:
		return emptySignature, nil
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64,
		api.ValueTypeFuncref, api.ValueTypeExternref:
		return blockSignature{Results: []api.ValueType{valType}}, nil
	default:
		return blockSignature{}, fmt.Errorf("wazeroir: unsupported blocktype encoding %#x (multi-value block types are out of scope)", valType)
	}
}

// controlFrame tracks one active block/loop/if while lowering, so a later Br/BrIf/BrTable
// targeting it (by relative depth, per the Wasm binary format) can be resolved to an absolute
// Operations index.
type controlFrame struct {
	isLoop bool
	// loopStart is the absolute index of the loop's first body operation; a branch to a loop
	// frame always jumps here (the back-edge), which is known as soon as the Loop opcode is
	// lowered.
	loopStart uint64
	// pendingBranches collects branch operations that target this frame's end (block/if: a
	// forward jump past the matching End; these can't be resolved until End is reached).
	pendingBranches []branchPatch
}

// branchPatch is a not-yet-resolved forward branch: set *target = endIndex once the frame it
// was emitted under reaches its matching End.
type branchPatch struct {
	target *uint64
}

// Compile lowers one module-defined function's raw Wasm bytecode into a CompilationResult.
func Compile(module *wasm.Module, fn *wasm.Function) (*CompilationResult, error) {
	sig := module.TypeSection[fn.TypeIndex]
	c := &lowerer{
		body:       fn.Body,
		localTypes: append(append([]api.ValueType{}, sig.Params...), fn.LocalTypes...),
	}
	if err := c.lower(); err != nil {
		name := fn.DebugName
		if name == "" {
			name = "<unnamed>"
		}
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return &CompilationResult{Operations: c.ops, LocalTypes: c.localTypes}, nil
}

type lowerer struct {
	body       []byte
	pc         int
	ops        []Operation
	localTypes []api.ValueType
	frames     []*controlFrame
}

func (c *lowerer) emit(op Operation) uint64 {
	c.ops = append(c.ops, op)
	return uint64(len(c.ops) - 1)
}

func (c *lowerer) nextIndex() uint64 { return uint64(len(c.ops)) }

func (c *lowerer) readByte() (byte, error) {
	if c.pc >= len(c.body) {
		return 0, fmt.Errorf("unexpected end of function body")
	}
	b := c.body[c.pc]
	c.pc++
	return b, nil
}

func (c *lowerer) readVu32() (uint32, error) {
	v, n, err := leb128.LoadUint32(c.body[c.pc:])
	if err != nil {
		return 0, err
	}
	c.pc += int(n)
	return v, nil
}

func (c *lowerer) readVi32() (int32, error) {
	v, n, err := leb128.LoadInt32(c.body[c.pc:])
	if err != nil {
		return 0, err
	}
	c.pc += int(n)
	return v, nil
}

func (c *lowerer) readVi64() (int64, error) {
	v, n, err := leb128.LoadInt64(c.body[c.pc:])
	if err != nil {
		return 0, err
	}
	c.pc += int(n)
	return v, nil
}

// targetFrame returns the control frame a branch of the given relative depth refers to.
func (c *lowerer) targetFrame(depth uint32) *controlFrame {
	return c.frames[len(c.frames)-1-int(depth)]
}

func (c *lowerer) lower() error {
	for c.pc < len(c.body) {
		op, err := c.readByte()
		if err != nil {
			return err
		}
		switch op {
		case wasm.OpcodeUnreachable:
			c.emit(OperationUnreachable{})
		case wasm.OpcodeNop:
			// no-op: nothing to lower.
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			bt, err := c.readByte()
			if err != nil {
				return err
			}
			if _, err := blockSignatureOf(bt); err != nil {
				return err
			}
			frame := &controlFrame{isLoop: op == wasm.OpcodeLoop, loopStart: c.nextIndex()}
			if op == wasm.OpcodeIf {
				// Pop-and-branch-if-zero is lowered as a BrIf whose Else target is patched to
				// the matching Else (or End, if there's none) and whose Then target is the
				// very next operation (the if's "then" body, falling straight through).
				ifOp := &OperationBrIf{Then: c.nextIndex() + 1}
				c.emit(ifOp)
				frame.pendingBranches = append(frame.pendingBranches, branchPatch{target: &ifOp.Else})
			}
			c.frames = append(c.frames, frame)
		case wasm.OpcodeElse:
			if len(c.frames) == 0 {
				return fmt.Errorf("else without matching if")
			}
			frame := c.frames[len(c.frames)-1]
			// The then-body, on falling out here, must itself skip the else-body and jump to
			// the end: emit that Br first (its target is resolved once End is reached, like any
			// other forward branch out of this frame).
			elseBr := &OperationBr{}
			c.emit(elseBr)
			// Whatever was already pending on this frame is exactly the if's own Else target
			// (installed when the If was lowered): that's resolved now, to the else-body's
			// start, which is the operation right after the Br just emitted.
			elseBodyStart := c.nextIndex()
			for _, p := range frame.pendingBranches {
				*p.target = elseBodyStart
			}
			frame.pendingBranches = []branchPatch{{target: &elseBr.Target}}
		case wasm.OpcodeEnd:
			if len(c.frames) == 0 {
				return nil // function-ending End.
			}
			frame := c.frames[len(c.frames)-1]
			c.frames = c.frames[:len(c.frames)-1]
			end := c.nextIndex()
			for _, p := range frame.pendingBranches {
				*p.target = end
			}
		case wasm.OpcodeBr:
			depth, err := c.readVu32()
			if err != nil {
				return err
			}
			frame := c.targetFrame(depth)
			brOp := &OperationBr{}
			if frame.isLoop {
				brOp.Target = frame.loopStart
			} else {
				frame.pendingBranches = append(frame.pendingBranches, branchPatch{target: &brOp.Target})
			}
			c.emit(brOp)
		case wasm.OpcodeBrIf:
			depth, err := c.readVu32()
			if err != nil {
				return err
			}
			frame := c.targetFrame(depth)
			brOp := &OperationBrIf{Else: c.nextIndex() + 1}
			if frame.isLoop {
				brOp.Then = frame.loopStart
			} else {
				frame.pendingBranches = append(frame.pendingBranches, branchPatch{target: &brOp.Then})
			}
			c.emit(brOp)
		case wasm.OpcodeBrTable:
			count, err := c.readVu32()
			if err != nil {
				return err
			}
			targets := make([]uint64, count+1)
			brTableOp := &OperationBrTable{Targets: targets}
			for i := uint32(0); i <= count; i++ {
				depth, err := c.readVu32()
				if err != nil {
					return err
				}
				frame := c.targetFrame(depth)
				if frame.isLoop {
					targets[i] = frame.loopStart
				} else {
					frame.pendingBranches = append(frame.pendingBranches, branchPatch{target: &brTableOp.Targets[i]})
				}
			}
			c.emit(brTableOp)
		case wasm.OpcodeReturn:
			c.emit(OperationReturn{})
		case wasm.OpcodeCall:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationCall{FunctionIndex: idx})
		case wasm.OpcodeCallIndirect:
			typeIdx, err := c.readVu32()
			if err != nil {
				return err
			}
			tableIdx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationCallIndirect{TypeIndex: typeIdx, TableIndex: tableIdx})
		case wasm.OpcodeDrop:
			c.emit(OperationDrop{})
		case wasm.OpcodeSelect:
			c.emit(OperationSelect{})
		case wasm.OpcodeLocalGet:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationLocalGet{Index: idx})
		case wasm.OpcodeLocalSet:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationLocalSet{Index: idx})
		case wasm.OpcodeLocalTee:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationLocalTee{Index: idx})
		case wasm.OpcodeGlobalGet:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationGlobalGet{Index: idx})
		case wasm.OpcodeGlobalSet:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationGlobalSet{Index: idx})
		case wasm.OpcodeI32Load, wasm.OpcodeI64Load:
			if _, err := c.readVu32(); err != nil { // align
				return err
			}
			offset, err := c.readVu32()
			if err != nil {
				return err
			}
			t := UnsignedTypeI32
			if op == wasm.OpcodeI64Load {
				t = UnsignedTypeI64
			}
			c.emit(OperationLoad{Type: t, Offset: offset})
		case wasm.OpcodeI32Store, wasm.OpcodeI64Store:
			if _, err := c.readVu32(); err != nil { // align
				return err
			}
			offset, err := c.readVu32()
			if err != nil {
				return err
			}
			t := UnsignedTypeI32
			if op == wasm.OpcodeI64Store {
				t = UnsignedTypeI64
			}
			c.emit(OperationStore{Type: t, Offset: offset})
		case wasm.OpcodeMemorySize:
			if _, err := c.readByte(); err != nil { // reserved
				return err
			}
			c.emit(OperationMemorySize{})
		case wasm.OpcodeMemoryGrow:
			if _, err := c.readByte(); err != nil { // reserved
				return err
			}
			c.emit(OperationMemoryGrow{})
		case wasm.OpcodeI32Const:
			v, err := c.readVi32()
			if err != nil {
				return err
			}
			c.emit(OperationConstI32{Value: uint32(v)})
		case wasm.OpcodeI64Const:
			v, err := c.readVi64()
			if err != nil {
				return err
			}
			c.emit(OperationConstI64{Value: uint64(v)})
		case wasm.OpcodeF32Const:
			if c.pc+4 > len(c.body) {
				return fmt.Errorf("unexpected end of function body reading f32.const")
			}
			v := le32(c.body[c.pc:])
			c.pc += 4
			c.emit(OperationConstF32{Value: v})
		case wasm.OpcodeF64Const:
			if c.pc+8 > len(c.body) {
				return fmt.Errorf("unexpected end of function body reading f64.const")
			}
			v := le64(c.body[c.pc:])
			c.pc += 8
			c.emit(OperationConstF64{Value: v})
		case wasm.OpcodeI32Add:
			c.emit(OperationAdd{Type: UnsignedTypeI32})
		case wasm.OpcodeI32Sub:
			c.emit(OperationSub{Type: UnsignedTypeI32})
		case wasm.OpcodeI32Mul:
			c.emit(OperationMul{Type: UnsignedTypeI32})
		case wasm.OpcodeI32DivS:
			c.emit(OperationDiv{Type: UnsignedTypeI32})
		case wasm.OpcodeI64Add:
			c.emit(OperationAdd{Type: UnsignedTypeI64})
		case wasm.OpcodeI64Sub:
			c.emit(OperationSub{Type: UnsignedTypeI64})
		case wasm.OpcodeI64Mul:
			c.emit(OperationMul{Type: UnsignedTypeI64})
		case wasm.OpcodeRefNull:
			vt, err := c.readByte()
			if err != nil {
				return err
			}
			c.emit(OperationRefNull{Type: vt})
		case wasm.OpcodeRefFunc:
			idx, err := c.readVu32()
			if err != nil {
				return err
			}
			c.emit(OperationRefFunc{FunctionIndex: idx})
		default:
			return fmt.Errorf("unsupported opcode %#x (outside corewasm's bounded opcode subset)", op)
		}
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
