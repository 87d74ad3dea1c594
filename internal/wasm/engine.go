package wasm

import (
	"context"
	"errors"
)

// Engine is a Store-scoped mechanism to compile functions declared or imported by a module.
// This is a top-level type implemented by internal/engine/compiler.
//
// Grounded on the vendored internal/wasm/engine.go.
type Engine interface {
	// CompileModule lowers module's functions into the Engine's compiled form ahead of any instantiation.
	CompileModule(ctx context.Context, module *Module) error

	// CompiledModuleCount is exported for testing, to track the size of the compilation cache.
	CompiledModuleCount() uint32

	// DeleteCompiledModule releases compilation caches for the given module (source). It is
	// safe to call even while instances of it still have outstanding calls.
	DeleteCompiledModule(module *Module)

	// NewModuleEngine links a compiled module's functions against concrete imports and
	// returns a ModuleEngine ready to Call.
	NewModuleEngine(module *Module, instance *ModuleInstance) (ModuleEngine, error)
}

// ModuleEngine implements function calls for a given module instance.
type ModuleEngine interface {
	Name() string

	// Call invokes a function instance f with given raw Wasm-encoded parameters, through its
	// Trampoline. Returns a *api.Trap wrapped as an error on Wasm-level failure.
	Call(ctx context.Context, m *ModuleInstance, f *FunctionInstance, params ...uint64) (results []uint64, err error)

	// CreateFuncElementInstance creates an ElementInstance whose references are
	// engine-specific function pointers corresponding to the given indexes.
	CreateFuncElementInstance(indexes []*Index) *ElementInstance

	// InitializeFuncrefGlobals initializes Funcref-typed globals to opaque compiled-function pointers.
	InitializeFuncrefGlobals(globals []*GlobalInstance)
}

// TableInitEntry is a normalized element segment used by engines to initialize tables.
type TableInitEntry struct {
	TableIndex      Index
	Offset          Index
	FunctionIndexes []*Index
}

// ErrElementOffsetOutOfBounds is raised when an active element offset exceeds the table
// length; this is a runtime error post-reference-types, not an instantiation error.
var ErrElementOffsetOutOfBounds = errors.New("element offset out of bounds")

// FunctionTypeID is a uniquely assigned integer for a function type within a Store, used at
// runtime for indirect-call type checks.
type FunctionTypeID uint32
