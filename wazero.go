// Package wazero is a WebAssembly 1.0 (20191205) embedding API: compile a parsed module ahead
// of use, instantiate it into a Store namespace, and invoke its exports.
//
// A compile-then-instantiate top-level package shape (Runtime/RuntimeConfig/ModuleConfig/
// HostModuleBuilder) built around this module's Compiler-only internal/wasm engine.
package wazero

import (
	"context"
	"fmt"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/engine/compiler"
	"github.com/corewasm/corewasm/internal/filecache"
	"github.com/corewasm/corewasm/internal/wasm"
)

// Runtime allows embedding of WebAssembly modules: compile a wasm.Module into a CompiledCode,
// then instantiate it (possibly more than once) into addressable, isolated module instances.
//
// Call Close to close its module instances; compiled code pages are released by CompiledCode.Close.
type Runtime interface {
	// CompileModule lowers module ahead of instantiation: its functions are compiled and
	// verified once no matter how many times the result is later instantiated.
	CompileModule(ctx context.Context, module *wasm.Module, config CompileConfig) (CompiledCode, error)

	// InstantiateModule instantiates compiled into the Runtime's default Namespace, running
	// its start function (if any), and returns the resulting api.Instance.
	InstantiateModule(ctx context.Context, compiled CompiledCode, config ModuleConfig) (api.Instance, error)

	// NewHostModuleBuilder begins defining a host module: a set of Go-backed functions
	// importable under moduleName.
	NewHostModuleBuilder(moduleName string) HostModuleBuilder

	// NewNamespace creates an additional isolated binding namespace sharing this Runtime's
	// Engine and Store, so the same CompiledCode can be instantiated into it independently of
	// modules already bound in the default namespace.
	NewNamespace(ctx context.Context) *wasm.Namespace

	// Module looks up a module previously instantiated into the default namespace by name.
	// Returns nil if absent.
	Module(moduleName string) api.Instance

	// Close closes every instance in every namespace created by this Runtime. Compiled code
	// pages are not released here; CompiledCode.Close releases them.
	Close(ctx context.Context) error

	// CloseWithExitCode is like Close, but records exitCode on each instance it closes (see
	// api.Instance.CloseWithExitCode); a call still running is not stopped.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error
}

type runtime struct {
	cfg   *runtimeConfig
	store *wasm.Store
	ns    *wasm.Namespace
}

// NewRuntime returns a Runtime configured with NewRuntimeConfig's defaults.
func NewRuntime() Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime configured as rConfig describes. Panics if rConfig
// isn't obtained from NewRuntimeConfig (no other implementation is supported).
func NewRuntimeWithConfig(rConfig RuntimeConfig) Runtime {
	cfg, ok := rConfig.(*runtimeConfig)
	if !ok {
		panic(fmt.Errorf("unsupported wazero.RuntimeConfig implementation: %v", rConfig))
	}
	var fc filecache.Cache
	if cfg.cache != nil {
		fc = cfg.cache.fileCache
	}
	eng := compiler.NewEngine(fc)
	store, ns := wasm.NewStore(cfg.enabledFeatures, eng)
	return &runtime{cfg: cfg, store: store, ns: ns}
}

func (r *runtime) CompileModule(ctx context.Context, module *wasm.Module, config CompileConfig) (CompiledCode, error) {
	cfg, _ := config.(*compileConfig)
	if cfg == nil {
		cfg = newCompileConfig()
	}

	m := module
	if !cfg.debugInfo {
		cp := *module
		cp.NameSection = nil
		fns := make([]*wasm.Function, len(module.CodeSection))
		for i, f := range module.CodeSection {
			fcp := *f
			fcp.DebugName = ""
			fcp.ParamNames = nil
			fns[i] = &fcp
		}
		cp.CodeSection = fns
		m = &cp
	}

	if mem := m.MemorySection; mem != nil && mem.IsMaxEncoded && mem.Max > r.cfg.memoryMaxPages {
		return nil, fmt.Errorf("memory max %d pages exceeds configured limit %d pages", mem.Max, r.cfg.memoryMaxPages)
	}

	if err := r.store.Engine.CompileModule(ctx, m); err != nil {
		return nil, err
	}
	return &compiledCode{module: m, engine: r.store.Engine}, nil
}

func (r *runtime) InstantiateModule(ctx context.Context, compiled CompiledCode, config ModuleConfig) (api.Instance, error) {
	cc, ok := compiled.(*compiledCode)
	if !ok {
		return nil, fmt.Errorf("unsupported wazero.CompiledCode implementation: %v", compiled)
	}
	cfg, _ := config.(*moduleConfig)
	if cfg == nil {
		cfg = NewModuleConfig().(*moduleConfig)
	}

	name := cfg.name
	if name == "" && cc.module.NameSection != nil {
		name = cc.module.NameSection.ModuleName
	}

	mod, err := r.store.Instantiate(ctx, r.ns, cc.module, name)
	if err != nil {
		return nil, err
	}

	inst := wasm.NewAPIInstance(mod)
	for _, fname := range cfg.startFunctions {
		f := inst.ExportedFunction(fname)
		if f == nil {
			continue
		}
		if _, err := f.Call(ctx); err != nil {
			return nil, fmt.Errorf("start function %q: %w", fname, err)
		}
	}
	return inst, nil
}

func (r *runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

func (r *runtime) NewNamespace(ctx context.Context) *wasm.Namespace {
	return r.store.NewNamespace(ctx)
}

func (r *runtime) Module(moduleName string) api.Instance {
	m := r.ns.Module(moduleName)
	if m == nil {
		return nil
	}
	return wasm.NewAPIInstance(m)
}

func (r *runtime) Close(ctx context.Context) error {
	return r.CloseWithExitCode(ctx, 0)
}

func (r *runtime) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	return r.store.CloseWithExitCode(ctx, exitCode)
}
