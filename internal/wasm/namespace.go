package wasm

import (
	"context"
	"fmt"
	"sync"
)

// Namespace is an isolated binding scope for module instance names within a Store: two modules instantiated into different Namespaces may share the same name without
// colliding, but imports are only resolved against modules already present in the same
// Namespace.
//
// Grounded on the vendored internal/wasm/store.go's namespace tracking (Store.moduleNamespaces
// equivalent: requireModules/requireModuleName/addModule/deleteModule).
type Namespace struct {
	mux     sync.RWMutex
	modules map[string]*ModuleInstance
}

func newNamespace() *Namespace {
	return &Namespace{modules: map[string]*ModuleInstance{}}
}

// requireModules returns the ModuleInstances currently bound to each of the given names, or an
// error naming the first one missing.
func (n *Namespace) requireModules(names map[string]struct{}) (map[string]*ModuleInstance, error) {
	n.mux.RLock()
	defer n.mux.RUnlock()

	ret := make(map[string]*ModuleInstance, len(names))
	for name := range names {
		m, ok := n.modules[name]
		if !ok {
			return nil, fmt.Errorf("module[%s] not instantiated", name)
		}
		ret[name] = m
	}
	return ret, nil
}

// requireModuleName fails if name is already bound, or reserves it for an in-flight instantiate
// (an empty name is always permitted: anonymous modules are not addressable by import).
func (n *Namespace) requireModuleName(name string) error {
	if name == "" {
		return nil
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, ok := n.modules[name]; ok {
		return fmt.Errorf("module[%s] has already been instantiated", name)
	}
	n.modules[name] = nil
	return nil
}

func (n *Namespace) addModule(m *ModuleInstance) {
	if m.Name == "" {
		return
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	n.modules[m.Name] = m
}

func (n *Namespace) deleteModule(name string) {
	if name == "" {
		return
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	delete(n.modules, name)
}

// AddModule binds m under its own Name, for a module instantiated outside Store.Instantiate's
// bytecode-lowering pipeline (a host module; see NewHostModuleInstance). Fails if the name is
// already bound.
func (n *Namespace) AddModule(m *ModuleInstance) error {
	if err := n.requireModuleName(m.Name); err != nil {
		return err
	}
	n.addModule(m)
	return nil
}

// Module looks up a previously instantiated module by name, for host code building an
// api.Instance handle out-of-band (e.g. the embedding API's Runtime.Module lookup).
func (n *Namespace) Module(name string) *ModuleInstance {
	n.mux.RLock()
	defer n.mux.RUnlock()
	return n.modules[name]
}

// CloseWithExitCode closes every module instance currently bound in the namespace, in
// unspecified order, collecting the first error encountered.
func (n *Namespace) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	n.mux.Lock()
	modules := make([]*ModuleInstance, 0, len(n.modules))
	for _, m := range n.modules {
		if m != nil {
			modules = append(modules, m)
		}
	}
	n.modules = map[string]*ModuleInstance{}
	n.mux.Unlock()

	var firstErr error
	for _, m := range modules {
		if err := m.CloseWithExitCode(ctx, exitCode); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
