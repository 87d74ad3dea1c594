package wazero

import (
	"context"
	"testing"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/testing/require"
	"github.com/corewasm/corewasm/internal/wasm"
)

// addModule builds a single-function module equivalent to:
//
//	(module (func $add (param i32 i32) (result i32) local.get 0 local.get 1 i32.add))
//
// by hand, since this build carries no text/binary decoder (see DESIGN.md).
func addModule() *wasm.Module {
	body := []byte{
		byte(wasm.OpcodeLocalGet), 0x00,
		byte(wasm.OpcodeLocalGet), 0x01,
		byte(wasm.OpcodeI32Add),
		byte(wasm.OpcodeEnd),
	}
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Function{{TypeIndex: 0, Body: body, DebugName: "add"}},
		ExportSection:   []*wasm.Export{{Type: api.ExternTypeFunc, Name: "add", Index: 0}},
	}
}

func TestRuntime_CompileAndInstantiate(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	compiled, err := r.CompileModule(context.Background(), addModule(), NewCompileConfig())
	require.NoError(t, err)
	defer compiled.Close(context.Background())

	inst, err := r.InstantiateModule(context.Background(), compiled, NewModuleConfig().WithName("arith"))
	require.NoError(t, err)
	require.Equal(t, inst, r.Module("arith"))

	add := inst.ExportedFunction("add")
	require.NotNil(t, add)

	results, err := add.Call(context.Background(), api.ValI32(2), api.ValI32(40))
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
}

func TestRuntime_InstantiateTwice_DistinctNames(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	compiled, err := r.CompileModule(context.Background(), addModule(), NewCompileConfig())
	require.NoError(t, err)

	_, err = r.InstantiateModule(context.Background(), compiled, NewModuleConfig().WithName("m"))
	require.NoError(t, err)

	_, err = r.InstantiateModule(context.Background(), compiled, NewModuleConfig().WithName("m"))
	require.EqualError(t, err, "module[m] has already been instantiated")
}

func TestRuntime_NewNamespace_Independent(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	compiled, err := r.CompileModule(context.Background(), addModule(), NewCompileConfig())
	require.NoError(t, err)

	_, err = r.InstantiateModule(context.Background(), compiled, NewModuleConfig().WithName("m"))
	require.NoError(t, err)

	ns := r.NewNamespace(context.Background())
	require.Nil(t, ns.Module("m"))
}
