package wasm

import (
	"fmt"

	"github.com/corewasm/corewasm/api"
)

// HostFunctionDef describes one Go-backed function a host module exports: unlike a
// CodeSection entry, it carries no bytecode for the Compiler to lower, since GoFunc is already
// executable Go code reached directly through FunctionInstance.Kind == FunctionKindGo.
type HostFunctionDef struct {
	// Name is the function's module-local debug name (shown in Trap backtraces); ExportName is
	// what importers see. The two commonly match but need not.
	Name, ExportName string
	ParamTypes       []api.ValueType
	ResultTypes      []api.ValueType
	ParamNames       []string
	GoFunc           GoFunc

	// reflectErr, when non-nil, is reported through ReflectErr by the host module builder's
	// Instantiate, before NewHostModuleInstance runs (which does not check it): lets a builder collect a WithFunc reflection failure and report it lazily, at
	// Instantiate time, rather than forcing WithFunc itself to return an error mid-chain.
	reflectErr error
}

// ReflectErr returns the error deferred from building GoFunc via reflection, if any.
func (d *HostFunctionDef) ReflectErr() error { return d.reflectErr }

// NewHostModuleInstance builds a ModuleInstance entirely out of Go functions, bypassing
// Store.instantiate's bytecode-lowering pipeline: a host module has no CodeSection, so
// Engine.CompileModule/NewModuleEngine (which assume one) don't apply to it. engine backs
// Call for every FunctionKindGo entry without itself needing any compiledFunction (see
// internal/engine/compiler.NewHostModuleEngine).
func NewHostModuleInstance(name string, engine ModuleEngine, defs []*HostFunctionDef) (*ModuleInstance, error) {
	seen := make(map[string]struct{}, len(defs))
	m := &ModuleInstance{
		Name:    name,
		Engine:  engine,
		Exports: map[string]*ExportInstance{},
	}
	m.Functions = make([]*FunctionInstance, len(defs))
	for i, d := range defs {
		if _, ok := seen[d.ExportName]; ok {
			return nil, fmt.Errorf("host module %s: duplicate export %q", name, d.ExportName)
		}
		seen[d.ExportName] = struct{}{}

		debugName := d.Name
		if debugName == "" {
			debugName = d.ExportName
		}
		fn := &FunctionInstance{
			DebugName:  debugName,
			Kind:       FunctionKindGo,
			Type:       &FunctionType{Params: d.ParamTypes, Results: d.ResultTypes},
			GoFunc:     d.GoFunc,
			Module:     m,
			Idx:        Index(i),
			moduleName: name,
			name:       debugName,
			paramNames: d.ParamNames,
		}
		m.Functions[i] = fn
		m.Exports[d.ExportName] = &ExportInstance{Type: api.ExternTypeFunc, Function: fn}
	}
	return m, nil
}
