package wazero

import (
	"context"
	"fmt"
	"reflect"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/engine/compiler"
	"github.com/corewasm/corewasm/internal/wasm"
)

// HostFunctionBuilder defines a host function (in Go), so that a WebAssembly module can import
// and call it.
//
// Here's an example of an addition function:
//
//	hostModuleBuilder.NewFunctionBuilder().
//		WithFunc(func(x, y uint32) uint32 {
//			return x + y
//		}).
//		Export("add")
//
// Except for an optional leading context.Context or api.Instance parameter, every parameter and
// result must map to a WebAssembly numeric value type: uint32, int32, uint64, int64, float32 or
// float64. A trailing error result, if present, becomes a *api.Trap when non-nil.
type HostFunctionBuilder interface {
	// WithFunc uses reflection to derive fn's Wasm signature. fn that isn't a func fails at
	// Export/Instantiate time rather than here, to allow chaining.
	WithFunc(fn interface{}) HostFunctionBuilder

	// WithName defines the optional module-local debug name of this function (shown in Trap
	// backtraces). Defaults to the Export name.
	WithName(name string) HostFunctionBuilder

	// WithParameterNames defines optional parameter names, e.g. "buf", "buf_len". When set, must
	// cover every parameter.
	WithParameterNames(names ...string) HostFunctionBuilder

	// Export exports this function from the HostModuleBuilder under the given name.
	Export(name string) HostModuleBuilder
}

// HostModuleBuilder defines host functions (in Go) that an instantiated WebAssembly module can
// import, implementing the host side of an ABI (e.g. a small WASI-like surface).
//
//	env, err := r.NewHostModuleBuilder("env").
//		NewFunctionBuilder().WithFunc(func(x, y uint32) uint32 { return x + y }).Export("add").
//		Instantiate(ctx)
type HostModuleBuilder interface {
	// NewFunctionBuilder begins the definition of a host function.
	NewFunctionBuilder() HostFunctionBuilder

	// Instantiate builds and binds this host module into the Runtime's default namespace,
	// returning the resulting api.Instance so its functions can be looked up or called
	// directly (e.g. from a test).
	Instantiate(ctx context.Context) (api.Instance, error)
}

type hostModuleBuilder struct {
	r          *runtime
	moduleName string
	defs       []*wasm.HostFunctionDef
}

// NewHostModuleBuilder implements Runtime.NewHostModuleBuilder.
func (r *runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

type hostFunctionBuilder struct {
	b          *hostModuleBuilder
	fn         interface{}
	name       string
	paramNames []string
}

func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{b: b}
}

func (h *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	h.fn = fn
	return h
}

func (h *hostFunctionBuilder) WithName(name string) HostFunctionBuilder {
	h.name = name
	return h
}

func (h *hostFunctionBuilder) WithParameterNames(names ...string) HostFunctionBuilder {
	h.paramNames = names
	return h
}

func (h *hostFunctionBuilder) Export(exportName string) HostModuleBuilder {
	name := h.name
	if name == "" {
		name = exportName
	}
	params, results, goFunc, err := reflectGoFunc(h.fn)
	h.b.defs = append(h.b.defs, &wasm.HostFunctionDef{
		Name: name, ExportName: exportName,
		ParamTypes: params, ResultTypes: results,
		ParamNames: h.paramNames,
		GoFunc:     goFunc,
		reflectErr: err,
	})
	return h.b
}

// Instantiate implements HostModuleBuilder.Instantiate.
func (b *hostModuleBuilder) Instantiate(ctx context.Context) (api.Instance, error) {
	for _, d := range b.defs {
		if err := d.ReflectErr(); err != nil {
			return nil, fmt.Errorf("func[%s]: %w", d.ExportName, err)
		}
	}
	engine := compiler.NewHostModuleEngine(b.moduleName)
	m, err := wasm.NewHostModuleInstance(b.moduleName, engine, b.defs)
	if err != nil {
		return nil, err
	}
	if err := b.r.ns.AddModule(m); err != nil {
		return nil, err
	}
	return wasm.NewAPIInstance(m), nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	ctxType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	instanceType = reflect.TypeOf((*api.Instance)(nil)).Elem()
)

var valueTypeOf = map[reflect.Kind]api.ValueType{
	reflect.Uint32:  api.ValueTypeI32,
	reflect.Int32:   api.ValueTypeI32,
	reflect.Uint64:  api.ValueTypeI64,
	reflect.Int64:   api.ValueTypeI64,
	reflect.Float32: api.ValueTypeF32,
	reflect.Float64: api.ValueTypeF64,
}

// reflectGoFunc derives fn's Wasm signature and wraps it into a wasm.GoFunc, building the GoFunc
// closure directly from a caller-supplied function value via reflect.Value.Call, since GoFunc's
// signature is already fixed rather than needing to satisfy an arbitrary caller-declared
// function type.
func reflectGoFunc(fn interface{}) (params, results []api.ValueType, goFunc wasm.GoFunc, reflectErr error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		reflectErr = fmt.Errorf("not a function: %v", t)
		return
	}

	wasmParamOffset := 0
	takesCtx, takesInstance := false, false
	if t.NumIn() > 0 && t.In(0) == ctxType {
		takesCtx = true
		wasmParamOffset++
	}
	if t.NumIn() > wasmParamOffset && t.In(wasmParamOffset) == instanceType {
		takesInstance = true
		wasmParamOffset++
	}

	for i := wasmParamOffset; i < t.NumIn(); i++ {
		vt, ok := valueTypeOf[t.In(i).Kind()]
		if !ok {
			reflectErr = fmt.Errorf("param[%d]: unsupported type %v", i, t.In(i))
			return
		}
		params = append(params, vt)
	}

	hasErrorResult := t.NumOut() > 0 && t.Out(t.NumOut()-1) == errorType
	resultCount := t.NumOut()
	if hasErrorResult {
		resultCount--
	}
	if resultCount > 1 {
		reflectErr = fmt.Errorf("at most one non-error result is supported, got %d", resultCount)
		return
	}
	if resultCount == 1 {
		vt, ok := valueTypeOf[t.Out(0).Kind()]
		if !ok {
			reflectErr = fmt.Errorf("result: unsupported type %v", t.Out(0))
			return
		}
		results = append(results, vt)
	}

	goFunc = func(mod api.Instance, wasmParams []uint64) []uint64 {
		args := make([]reflect.Value, 0, t.NumIn())
		if takesCtx {
			args = append(args, reflect.ValueOf(context.Background()))
		}
		if takesInstance {
			args = append(args, reflect.ValueOf(mod))
		}
		for i, p := range wasmParams {
			pt := t.In(wasmParamOffset + i)
			switch pt.Kind() {
			case reflect.Uint32:
				args = append(args, reflect.ValueOf(uint32(p)))
			case reflect.Int32:
				args = append(args, reflect.ValueOf(int32(p)))
			case reflect.Uint64:
				args = append(args, reflect.ValueOf(p))
			case reflect.Int64:
				args = append(args, reflect.ValueOf(int64(p)))
			case reflect.Float32:
				args = append(args, reflect.ValueOf(api.DecodeF32(p)))
			case reflect.Float64:
				args = append(args, reflect.ValueOf(api.DecodeF64(p)))
			}
		}

		out := v.Call(args)
		if hasErrorResult {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				panic(errVal.Interface().(error))
			}
			out = out[:len(out)-1]
		}
		if len(out) == 0 {
			return nil
		}
		switch out[0].Kind() {
		case reflect.Float32:
			return []uint64{api.EncodeF32(float32(out[0].Float()))}
		case reflect.Float64:
			return []uint64{api.EncodeF64(out[0].Float())}
		case reflect.Int32, reflect.Int64:
			return []uint64{uint64(out[0].Int())}
		default:
			return []uint64{out[0].Uint()}
		}
	}
	return
}
