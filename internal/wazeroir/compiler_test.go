package wazeroir

import (
	"testing"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/testing/require"
	"github.com/corewasm/corewasm/internal/wasm"
)

func i32Type() *wasm.FunctionType {
	return &wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
}

func compile(t *testing.T, body []byte) *CompilationResult {
	t.Helper()
	module := &wasm.Module{TypeSection: []*wasm.FunctionType{i32Type()}}
	fn := &wasm.Function{TypeIndex: 0, Body: body}
	res, err := Compile(module, fn)
	require.NoError(t, err)
	return res
}

func TestCompile_constAndArithmetic(t *testing.T) {
	// (i32.add (i32.const 1) (i32.const 2))
	res := compile(t, []byte{
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeI32Const, 0x02,
		wasm.OpcodeI32Add,
		wasm.OpcodeEnd,
	})
	require.Equal(t, 3, len(res.Operations))
	require.Equal(t, OperationConstI32{Value: 1}, res.Operations[0])
	require.Equal(t, OperationConstI32{Value: 2}, res.Operations[1])
	require.Equal(t, OperationAdd{Type: UnsignedTypeI32}, res.Operations[2])
}

func TestCompile_localsAndGlobals(t *testing.T) {
	res := compile(t, []byte{
		wasm.OpcodeLocalGet, 0x00,
		wasm.OpcodeGlobalSet, 0x01,
		wasm.OpcodeEnd,
	})
	require.Equal(t, OperationLocalGet{Index: 0}, res.Operations[0])
	require.Equal(t, OperationGlobalSet{Index: 1}, res.Operations[1])
}

func TestCompile_unreachableAndReturn(t *testing.T) {
	res := compile(t, []byte{wasm.OpcodeUnreachable, wasm.OpcodeReturn, wasm.OpcodeEnd})
	require.Equal(t, OperationUnreachable{}, res.Operations[0])
	require.Equal(t, OperationReturn{}, res.Operations[1])
}

func TestCompile_blockBranchResolvesForward(t *testing.T) {
	// block
	//   br 0       ;; jumps past the block's own end
	//   unreachable ;; dead code, never reached
	// end
	res := compile(t, []byte{
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeBr, 0x00,
		wasm.OpcodeUnreachable,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})
	br, ok := res.Operations[0].(*OperationBr)
	require.True(t, ok)
	// The block has exactly one body op after the Br (the unreachable); the branch must
	// target the index right after it, i.e. 2.
	require.Equal(t, uint64(2), br.Target)
}

func TestCompile_loopBranchTargetsLoopStart(t *testing.T) {
	// loop
	//   br 0   ;; back-edge to the loop's first body operation, itself
	// end
	res := compile(t, []byte{
		wasm.OpcodeLoop, 0x40,
		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})
	br, ok := res.Operations[0].(*OperationBr)
	require.True(t, ok)
	require.Equal(t, uint64(0), br.Target)
}

func TestCompile_ifElseBranchesResolve(t *testing.T) {
	// if
	//   i32.const 1
	// else
	//   i32.const 2
	// end
	res := compile(t, []byte{
		wasm.OpcodeIf, 0x40,
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeElse,
		wasm.OpcodeI32Const, 0x02,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	})
	// Operations: [0]=BrIf(then-body), [1]=ConstI32(1), [2]=Br(to end), [3]=ConstI32(2)
	ifOp, ok := res.Operations[0].(*OperationBrIf)
	require.True(t, ok)
	require.Equal(t, uint64(1), ifOp.Then)
	require.Equal(t, uint64(3), ifOp.Else)

	elseBr, ok := res.Operations[2].(*OperationBr)
	require.True(t, ok)
	require.Equal(t, uint64(4), elseBr.Target)
}

func TestCompile_callAndCallIndirect(t *testing.T) {
	res := compile(t, []byte{
		wasm.OpcodeCall, 0x02,
		wasm.OpcodeCallIndirect, 0x01, 0x00,
		wasm.OpcodeEnd,
	})
	require.Equal(t, OperationCall{FunctionIndex: 2}, res.Operations[0])
	require.Equal(t, OperationCallIndirect{TypeIndex: 1, TableIndex: 0}, res.Operations[1])
}

func TestCompile_memoryLoadStore(t *testing.T) {
	res := compile(t, []byte{
		wasm.OpcodeI32Const, 0x00,
		wasm.OpcodeI32Load, 0x02, 0x04,
		wasm.OpcodeI32Const, 0x00,
		wasm.OpcodeI32Store, 0x02, 0x08,
		wasm.OpcodeEnd,
	})
	require.Equal(t, OperationLoad{Type: UnsignedTypeI32, Offset: 4}, res.Operations[1])
	require.Equal(t, OperationStore{Type: UnsignedTypeI32, Offset: 8}, res.Operations[3])
}

func TestCompile_unsupportedOpcode(t *testing.T) {
	module := &wasm.Module{TypeSection: []*wasm.FunctionType{i32Type()}}
	fn := &wasm.Function{TypeIndex: 0, Body: []byte{0xfc, 0x00}}
	_, err := Compile(module, fn)
	require.Error(t, err)
}
