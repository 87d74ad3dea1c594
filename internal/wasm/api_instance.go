package wasm

import (
	"context"
	"fmt"

	"github.com/corewasm/corewasm/api"
)

// APIInstance adapts a *ModuleInstance to the embedder-facing api.Instance interface, so a host
// function (whose GoFunc signature takes an api.Instance) can look up the calling module's own
// exports without depending on this package's unexported fields.
type APIInstance struct{ m *ModuleInstance }

// NewAPIInstance wraps m for use as a GoFunc's first argument.
func NewAPIInstance(m *ModuleInstance) APIInstance { return APIInstance{m} }

func (a APIInstance) String() string { return fmt.Sprintf("module[%s]", a.m.Name) }
func (a APIInstance) Name() string   { return a.m.Name }

func (a APIInstance) Memory() api.Memory {
	if a.m.Memory == nil {
		return nil
	}
	return a.m.Memory
}

func (a APIInstance) ExportedFunction(name string) api.Func {
	exp, err := a.m.getExport(name, api.ExternTypeFunc)
	if err != nil {
		return nil
	}
	return &apiFunc{fn: exp.Function}
}

func (a APIInstance) ExportedMemory(name string) api.Memory {
	exp, err := a.m.getExport(name, api.ExternTypeMemory)
	if err != nil {
		return nil
	}
	return exp.Memory
}

func (a APIInstance) ExportedGlobal(name string) api.Global {
	exp, err := a.m.getExport(name, api.ExternTypeGlobal)
	if err != nil {
		return nil
	}
	return apiGlobal{exp.Global}
}

func (a APIInstance) ExportedTable(name string) api.Table {
	exp, err := a.m.getExport(name, api.ExternTypeTable)
	if err != nil {
		return nil
	}
	return apiTable{exp.Table}
}

// apiGlobal and apiTable adapt GlobalInstance/TableInstance to api.Global/api.Table: both
// instance types name their Wasm value-type field Type, so their own Type_ accessor can't also
// be spelled Type() without a field/method collision, hence this thin rename-only wrapper.
type apiGlobal struct{ g *GlobalInstance }

func (g apiGlobal) String() string     { return g.g.String() }
func (g apiGlobal) Type() api.ValueType { return g.g.Type_() }
func (g apiGlobal) Get() api.Val        { return g.g.Get() }

type apiTable struct{ t *TableInstance }

func (t apiTable) Size() uint32        { return t.t.Size() }
func (t apiTable) Type() api.ValueType { return t.t.Type_() }

func (a APIInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	return a.m.CloseWithExitCode(ctx, exitCode)
}

// Close implements api.Closer by closing with a zero exit code.
func (a APIInstance) Close(ctx context.Context) error {
	return a.m.CloseWithExitCode(ctx, 0)
}

// apiFunc adapts a *FunctionInstance to api.Func for APIInstance.ExportedFunction. Its Call
// method goes through the owning module's Engine so a re-entrant host-to-wasm call still gets
// the same trap/backtrace handling as a top-level invocation.
type apiFunc struct{ fn *FunctionInstance }

func (f *apiFunc) Definition() api.FunctionDefinition { return nil }

func (f *apiFunc) Call(ctx context.Context, args ...api.Val) ([]api.Val, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if i < len(f.fn.Type.Params) && a.Type != f.fn.Type.Params[i] {
			return nil, fmt.Errorf("argument type mismatch")
		}
		raw[i] = a.Bits()
	}
	results, err := f.fn.Module.Engine.Call(ctx, f.fn.Module, f.fn, raw...)
	if err != nil {
		return nil, err
	}
	out := make([]api.Val, len(results))
	for i, r := range results {
		out[i] = api.ValFromBits(f.fn.Type.Results[i], r)
	}
	return out, nil
}
