package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/corewasm/corewasm/internal/wazeroir"
)

// encodeOperations serializes a function's lowered operations into the flat byte form that gets
// mmap'd by platform.MmapCodeSegment and persisted to the file cache: this is the "compiled
// artifact" the Code Memory Manager is responsible for, standing in for native machine code since
// no multi-arch codegen backend is wired here (see DESIGN.md). Encoding is a simple tag-plus-
// fixed-width-operands scheme, one entry per wazeroir.Operation, in order.
func encodeOperations(ops []wazeroir.Operation) []byte {
	buf := make([]byte, 0, len(ops)*9)
	var scratch [8]byte
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(scratch[:4], v); buf = append(buf, scratch[:4]...) }
	putU64 := func(v uint64) { binary.LittleEndian.PutUint64(scratch[:8], v); buf = append(buf, scratch[:8]...) }

	for _, op := range ops {
		buf = append(buf, byte(op.Kind()))
		switch o := op.(type) {
		case wazeroir.OperationUnreachable:
			_ = o
		case *wazeroir.OperationBr:
			putU64(o.Target)
		case *wazeroir.OperationBrIf:
			putU64(o.Then)
			putU64(o.Else)
		case *wazeroir.OperationBrTable:
			putU32(uint32(len(o.Targets)))
			for _, t := range o.Targets {
				putU64(t)
			}
		case wazeroir.OperationCall:
			putU32(o.FunctionIndex)
		case wazeroir.OperationCallIndirect:
			putU32(o.TypeIndex)
			putU32(o.TableIndex)
		case wazeroir.OperationLocalGet:
			putU32(o.Index)
		case wazeroir.OperationLocalSet:
			putU32(o.Index)
		case wazeroir.OperationLocalTee:
			putU32(o.Index)
		case wazeroir.OperationGlobalGet:
			putU32(o.Index)
		case wazeroir.OperationGlobalSet:
			putU32(o.Index)
		case wazeroir.OperationLoad:
			buf = append(buf, byte(o.Type))
			putU32(o.Offset)
		case wazeroir.OperationStore:
			buf = append(buf, byte(o.Type))
			putU32(o.Offset)
		case wazeroir.OperationConstI32:
			putU32(o.Value)
		case wazeroir.OperationConstI64:
			putU64(o.Value)
		case wazeroir.OperationConstF32:
			putU32(o.Value)
		case wazeroir.OperationConstF64:
			putU64(o.Value)
		case wazeroir.OperationAdd:
			buf = append(buf, byte(o.Type))
		case wazeroir.OperationSub:
			buf = append(buf, byte(o.Type))
		case wazeroir.OperationMul:
			buf = append(buf, byte(o.Type))
		case wazeroir.OperationDiv:
			buf = append(buf, byte(o.Type))
		case wazeroir.OperationRefNull:
			buf = append(buf, o.Type)
		case wazeroir.OperationRefFunc:
			putU32(o.FunctionIndex)
		}
	}
	return buf
}

// decodeOperations is encodeOperations' inverse, reconstructing an operation list equivalent in
// meaning to the one that was encoded (branch targets included) for execution after a file-cache
// load.
func decodeOperations(data []byte) ([]wazeroir.Operation, error) {
	var ops []wazeroir.Operation
	pos := 0
	readByte := func() (byte, error) {
		if pos >= len(data) {
			return 0, fmt.Errorf("compiler: truncated code segment")
		}
		b := data[pos]
		pos++
		return b, nil
	}
	readU32 := func() (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("compiler: truncated code segment")
		}
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("compiler: truncated code segment")
		}
		v := binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v, nil
	}

	for pos < len(data) {
		kindByte, err := readByte()
		if err != nil {
			return nil, err
		}
		switch wazeroir.OperationKind(kindByte) {
		case wazeroir.OperationKindUnreachable:
			ops = append(ops, wazeroir.OperationUnreachable{})
		case wazeroir.OperationKindBr:
			v, err := readU64()
			if err != nil {
				return nil, err
			}
			ops = append(ops, &wazeroir.OperationBr{Target: v})
		case wazeroir.OperationKindBrIf:
			then, err := readU64()
			if err != nil {
				return nil, err
			}
			els, err := readU64()
			if err != nil {
				return nil, err
			}
			ops = append(ops, &wazeroir.OperationBrIf{Then: then, Else: els})
		case wazeroir.OperationKindBrTable:
			n, err := readU32()
			if err != nil {
				return nil, err
			}
			targets := make([]uint64, n)
			for i := range targets {
				targets[i], err = readU64()
				if err != nil {
					return nil, err
				}
			}
			ops = append(ops, &wazeroir.OperationBrTable{Targets: targets})
		case wazeroir.OperationKindCall:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationCall{FunctionIndex: v})
		case wazeroir.OperationKindCallIndirect:
			ti, err := readU32()
			if err != nil {
				return nil, err
			}
			tbl, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationCallIndirect{TypeIndex: ti, TableIndex: tbl})
		case wazeroir.OperationKindDrop:
			ops = append(ops, wazeroir.OperationDrop{})
		case wazeroir.OperationKindSelect:
			ops = append(ops, wazeroir.OperationSelect{})
		case wazeroir.OperationKindLocalGet:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationLocalGet{Index: v})
		case wazeroir.OperationKindLocalSet:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationLocalSet{Index: v})
		case wazeroir.OperationKindLocalTee:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationLocalTee{Index: v})
		case wazeroir.OperationKindGlobalGet:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationGlobalGet{Index: v})
		case wazeroir.OperationKindGlobalSet:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationGlobalSet{Index: v})
		case wazeroir.OperationKindLoad:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			off, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationLoad{Type: wazeroir.UnsignedType(t), Offset: off})
		case wazeroir.OperationKindStore:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			off, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationStore{Type: wazeroir.UnsignedType(t), Offset: off})
		case wazeroir.OperationKindMemorySize:
			ops = append(ops, wazeroir.OperationMemorySize{})
		case wazeroir.OperationKindMemoryGrow:
			ops = append(ops, wazeroir.OperationMemoryGrow{})
		case wazeroir.OperationKindConstI32:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationConstI32{Value: v})
		case wazeroir.OperationKindConstI64:
			v, err := readU64()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationConstI64{Value: v})
		case wazeroir.OperationKindConstF32:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationConstF32{Value: v})
		case wazeroir.OperationKindConstF64:
			v, err := readU64()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationConstF64{Value: v})
		case wazeroir.OperationKindAdd:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationAdd{Type: wazeroir.UnsignedType(t)})
		case wazeroir.OperationKindSub:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationSub{Type: wazeroir.UnsignedType(t)})
		case wazeroir.OperationKindMul:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationMul{Type: wazeroir.UnsignedType(t)})
		case wazeroir.OperationKindDiv:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationDiv{Type: wazeroir.UnsignedType(t)})
		case wazeroir.OperationKindRefNull:
			t, err := readByte()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationRefNull{Type: t})
		case wazeroir.OperationKindRefFunc:
			v, err := readU32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, wazeroir.OperationRefFunc{FunctionIndex: v})
		case wazeroir.OperationKindReturn:
			ops = append(ops, wazeroir.OperationReturn{})
		default:
			return nil, fmt.Errorf("compiler: unknown operation kind %d in code segment", kindByte)
		}
	}
	return ops, nil
}
