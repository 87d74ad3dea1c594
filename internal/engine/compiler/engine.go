package compiler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/corewasm/corewasm/internal/filecache"
	"github.com/corewasm/corewasm/internal/wasm"
)

// engine implements wasm.Engine: it owns a codeCache mapping each compiled wasm.Module to its
// compiledModule, consulting an optional filecache.Cache so a module compiled in a prior process
// doesn't need lowering and threading repeated.
type engine struct {
	cache *codeCache
	log   *logrus.Entry
}

// NewEngine constructs the ahead-of-time Compiler engine. fc may be nil, in which case
// compiled artifacts live only in memory for this engine's lifetime.
func NewEngine(fc filecache.Cache) wasm.Engine {
	return &engine{
		cache: newCodeCache(fc),
		log:   logrus.WithField("component", "compiler"),
	}
}

func (e *engine) CompileModule(ctx context.Context, module *wasm.Module) error {
	if _, ok := e.cache.get(module.ID); ok {
		return nil
	}

	if cm, ok, err := e.cache.load(module); err != nil {
		e.log.WithError(err).WithField("module", fmt.Sprintf("%x", module.ID)).Debug("cache load failed, recompiling")
	} else if ok {
		e.cache.add(module.ID, cm)
		return nil
	}

	cm := &compiledModule{functions: make([]*compiledFunction, len(module.CodeSection))}
	for i, fn := range module.CodeSection {
		index := module.ImportFuncCount() + wasm.Index(i)
		cf, err := compileFunction(module, fn, index)
		if err != nil {
			return fmt.Errorf("compiler: %w", err)
		}
		cm.functions[i] = cf
	}

	if err := e.cache.persist(module.ID, cm); err != nil {
		e.log.WithError(err).WithField("module", fmt.Sprintf("%x", module.ID)).Debug("persisting compiled module to cache failed")
	}

	e.cache.add(module.ID, cm)
	e.log.WithFields(logrus.Fields{"module": fmt.Sprintf("%x", module.ID), "functions": len(cm.functions)}).Debug("compiled module")
	return nil
}

func (e *engine) CompiledModuleCount() uint32 { return e.cache.count() }

func (e *engine) DeleteCompiledModule(module *wasm.Module) {
	if cm, ok := e.cache.get(module.ID); ok {
		for _, f := range cm.functions {
			releaseCodeSegment(f.codeSegment)
		}
	}
	e.cache.delete(module.ID)
}

func (e *engine) NewModuleEngine(module *wasm.Module, instance *wasm.ModuleInstance) (wasm.ModuleEngine, error) {
	cm, ok := e.cache.get(module.ID)
	if !ok {
		return nil, fmt.Errorf("compiler: BUG: module %x not compiled", module.ID)
	}
	return &moduleEngine{name: instance.Name, module: module, functions: cm.functions}, nil
}

// NewHostModuleEngine returns a ModuleEngine for a Go-only host module (see
// wasm.NewHostModuleInstance): every one of its functions is FunctionKindGo, so Call never
// touches m.functions/m.module, and no prior CompileModule call is needed.
func NewHostModuleEngine(name string) wasm.ModuleEngine {
	return &moduleEngine{name: name}
}
