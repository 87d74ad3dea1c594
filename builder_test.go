package wazero

import (
	"context"
	"errors"
	"testing"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/testing/require"
)

func TestHostModuleBuilder_WithFunc(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	env, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(x, y uint32) uint32 { return x + y }).
		WithParameterNames("x", "y").
		Export("add").
		Instantiate(context.Background())
	require.NoError(t, err)

	add := env.ExportedFunction("add")
	require.NotNil(t, add)

	results, err := add.Call(context.Background(), api.ValI32(2), api.ValI32(40))
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
}

func TestHostModuleBuilder_InstanceParam(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	var sawName string
	env, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(mod api.Instance) uint32 {
			sawName = mod.Name()
			return 0
		}).
		Export("touch").
		Instantiate(context.Background())
	require.NoError(t, err)

	_, err = env.ExportedFunction("touch").Call(context.Background())
	require.NoError(t, err)
	require.Equal(t, "env", sawName)
}

func TestHostModuleBuilder_ErrorResultBecomesTrap(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	boom := errors.New("boom")
	env, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func() error { return boom }).
		Export("fail").
		Instantiate(context.Background())
	require.NoError(t, err)

	_, err = env.ExportedFunction("fail").Call(context.Background())
	require.Error(t, err)

	var trap *api.Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, api.TrapKindUser, trap.Kind)
}

func TestHostModuleBuilder_DuplicateExport(t *testing.T) {
	r := NewRuntime()
	defer r.Close(context.Background())

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(func() {}).Export("f").
		NewFunctionBuilder().WithFunc(func() {}).Export("f").
		Instantiate(context.Background())
	require.EqualError(t, err, `host module env: duplicate export "f"`)
}
