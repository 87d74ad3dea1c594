package wasm

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/leb128"
)

// Store is the runtime representation of instantiated Wasm modules and objects.
//
// Multiple modules can be instantiated within a single Store, and each instance can reference
// others via its ImportSection. Store is NOT thread (concurrency) safe by design except for the narrow InterruptHandle/fuel fields,
// which is why the fields below are read/written under mux only from Store's own methods, never
// assumed safe from compiled code itself.
//
// Grounded on the vendored internal/wasm/store.go.
type Store struct {
	EnabledFeatures Features
	Engine          Engine

	typeIDs          map[string]FunctionTypeID
	functionMaxTypes uint32

	namespaces []*Namespace
	mux        sync.RWMutex

	// Interrupts and Fuel back interrupt_handle/add_fuel/fuel_consumed.
	Interrupts *Interrupts
	Fuel       *FuelState
}

// maximumFunctionTypes bounds how many distinct function signatures a single Store will intern,
// guarding against a pathological module exhausting the type-ID space.
const maximumFunctionTypes = 1 << 27

// NewStore constructs a Store over the given compilation Engine.
func NewStore(enabledFeatures Features, engine Engine) (*Store, *Namespace) {
	ns := newNamespace()
	return &Store{
		EnabledFeatures:  enabledFeatures,
		Engine:           engine,
		namespaces:       []*Namespace{ns},
		typeIDs:          map[string]FunctionTypeID{},
		functionMaxTypes: maximumFunctionTypes,
		Interrupts:       newInterrupts(),
		Fuel:             newFuelState(),
	}, ns
}

// NewNamespace creates an additional isolated binding namespace sharing this Store's engine.
func (s *Store) NewNamespace(_ context.Context) *Namespace {
	ns := newNamespace()
	s.mux.Lock()
	defer s.mux.Unlock()
	s.namespaces = append(s.namespaces, ns)
	return ns
}

// Instantiate implements instantiate(module, imports, host_state) → InstanceHandle; the returned
// *ModuleInstance serves as the handle, and there is no separate VMContext or host_state wrapper.
func (s *Store) Instantiate(ctx context.Context, ns *Namespace, module *Module, name string) (*ModuleInstance, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	importedModuleNames := map[string]struct{}{}
	for _, i := range module.ImportSection {
		importedModuleNames[i.Module] = struct{}{}
	}

	importedModules, err := ns.requireModules(importedModuleNames)
	if err != nil {
		return nil, err
	}
	if err = ns.requireModuleName(name); err != nil {
		return nil, err
	}

	m, err := s.instantiate(ctx, module, name, importedModules)
	if err != nil {
		ns.deleteModule(name)
		return nil, err
	}
	ns.addModule(m)
	return m, nil
}

func (s *Store) instantiate(ctx context.Context, module *Module, name string, modules map[string]*ModuleInstance) (*ModuleInstance, error) {
	typeIDs, err := s.getFunctionTypeIDs(module.TypeSection)
	if err != nil {
		return nil, err
	}

	importedFunctions, importedGlobals, importedTables, importedMemory, err := resolveImports(module, modules)
	if err != nil {
		return nil, err
	}

	tables := buildTables(module, importedTables)
	globals := buildGlobals(module, importedGlobals)
	memory := buildMemory(module)

	functions := buildFunctions(module, name)

	m := &ModuleInstance{Name: name, Store: s}
	m.Types = module.TypeSection
	m.TypeIDs = typeIDs
	m.Functions = append(m.Functions, importedFunctions...)
	for i, f := range functions {
		f.Module = m
		f.TypeID = typeIDs[module.FunctionSection[i]]
		m.Functions = append(m.Functions, f)
	}
	m.Globals = append(m.Globals, importedGlobals...)
	m.Globals = append(m.Globals, globals...)
	m.Tables = tables
	if importedMemory != nil {
		m.Memory = importedMemory
	} else {
		m.Memory = memory
	}
	m.buildExports(module.ExportSection)
	for _, d := range module.DataSection {
		m.DataInstances = append(m.DataInstances, d.Init)
	}

	if !s.EnabledFeatures.Get(FeatureReferenceTypes) {
		if err = validateData(m, module.DataSection); err != nil {
			return nil, err
		}
	}

	m.Engine, err = s.Engine.NewModuleEngine(module, m)
	if err != nil {
		return nil, fmt.Errorf("compilation failed: %w", err)
	}

	m.ElementInstances = buildElementInstances(m, module.ElementSection)
	m.Engine.InitializeFuncrefGlobals(m.Globals)

	if err = applyData(m, module.DataSection); err != nil {
		return nil, err
	}

	if module.StartSection != nil {
		funcIdx := *module.StartSection
		f := m.Functions[funcIdx]
		if _, err = m.Engine.Call(ctx, m, f); err != nil {
			return nil, fmt.Errorf("start %s failed: %w", module.funcDesc(funcIdx), err)
		}
	}

	return m, nil
}

func buildTables(module *Module, imported []*TableInstance) []*TableInstance {
	tables := make([]*TableInstance, 0, len(imported)+len(module.TableSection))
	tables = append(tables, imported...)
	for _, t := range module.TableSection {
		tables = append(tables, &TableInstance{References: make([]Reference, t.Type.Min), Type: t.Type.ElemType, Max: t.Type.Max})
	}
	return tables
}

func buildGlobals(module *Module, imported []*GlobalInstance) []*GlobalInstance {
	globals := make([]*GlobalInstance, len(module.GlobalSection))
	for i, g := range module.GlobalSection {
		gi := &GlobalInstance{Type: g.Type, Val: constExpressionBits(executeConstExpression(imported, g.Init))}
		if g.Init.Opcode == OpcodeRefFunc {
			idx, _, _ := leb128.LoadUint32(g.Init.Data)
			gi.PendingFuncRefIndex = &idx
		}
		globals[i] = gi
	}
	return globals
}

// constExpressionBits reinterprets executeConstExpression's native Go value as the raw uint64
// bit pattern GlobalInstance/MemoryInstance slots are stored in (api.Val's own encoding scheme).
func constExpressionBits(v interface{}) uint64 {
	switch x := v.(type) {
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case float32:
		return uint64(api.EncodeF32(x))
	case float64:
		return api.EncodeF64(x)
	default:
		return 0
	}
}

func buildMemory(module *Module) *MemoryInstance {
	if module.MemorySection == nil {
		return nil
	}
	return NewMemoryInstance(module.MemorySection)
}

func buildFunctions(module *Module, moduleName string) []*FunctionInstance {
	fns := make([]*FunctionInstance, len(module.CodeSection))
	importFuncs := module.ImportFuncCount()
	for i, f := range module.CodeSection {
		fns[i] = &FunctionInstance{
			DebugName:  f.DebugName,
			Kind:       FunctionKindWasm,
			Type:       module.TypeSection[module.FunctionSection[i]],
			LocalTypes: f.LocalTypes,
			Body:       f.Body,
			Idx:        importFuncs + Index(i),
			moduleName: moduleName,
			name:       f.DebugName,
			paramNames: f.ParamNames,
		}
	}
	return fns
}

func buildElementInstances(m *ModuleInstance, elements []*ElementSegment) []ElementInstance {
	out := make([]ElementInstance, len(elements))
	for i, elm := range elements {
		if elm.Passive {
			out[i] = *m.Engine.CreateFuncElementInstance(elm.Init)
		}
	}
	return out
}

func validateData(m *ModuleInstance, data []*DataSegment) error {
	for i, d := range data {
		if d.Passive {
			continue
		}
		offset := int(executeConstExpression(m.Globals, d.Offset).(int32))
		ceil := offset + len(d.Init)
		if offset < 0 || ceil > len(m.Memory.Buffer) {
			return fmt.Errorf("data[%d]: out of bounds memory access", i)
		}
	}
	return nil
}

func applyData(m *ModuleInstance, data []*DataSegment) error {
	for i, d := range data {
		if d.Passive {
			continue
		}
		offset := executeConstExpression(m.Globals, d.Offset).(int32)
		if offset < 0 || int(offset)+len(d.Init) > len(m.Memory.Buffer) {
			return fmt.Errorf("data[%d]: out of bounds memory access", i)
		}
		copy(m.Memory.Buffer[offset:], d.Init)
	}
	return nil
}

func resolveImports(module *Module, modules map[string]*ModuleInstance) (
	importedFunctions []*FunctionInstance,
	importedGlobals []*GlobalInstance,
	importedTables []*TableInstance,
	importedMemory *MemoryInstance,
	err error,
) {
	for idx, i := range module.ImportSection {
		m, ok := modules[i.Module]
		if !ok {
			err = fmt.Errorf("module[%s] not instantiated", i.Module)
			return
		}
		var imported *ExportInstance
		if imported, err = m.getExport(i.Name, i.Type); err != nil {
			return
		}
		switch i.Type {
		case api.ExternTypeFunc:
			expected := module.TypeSection[i.DescFunc]
			actual := imported.Function.Type
			if !expected.EqualsSignature(actual.Params, actual.Results) {
				err = errorInvalidImport(i, idx, fmt.Errorf("signature mismatch: %s != %s", expected, actual))
				return
			}
			importedFunctions = append(importedFunctions, imported.Function)
		case api.ExternTypeTable:
			t := imported.Table
			if i.DescTable.ElemType != t.Type {
				err = errorInvalidImport(i, idx, fmt.Errorf("table type mismatch"))
				return
			}
			if i.DescTable.Min > t.Size() {
				err = errorInvalidImport(i, idx, fmt.Errorf("minimum size mismatch: %d > %d", i.DescTable.Min, t.Size()))
				return
			}
			importedTables = append(importedTables, t)
		case api.ExternTypeMemory:
			importedMemory = imported.Memory
			if i.DescMem.Min > importedMemory.Size() {
				err = errorInvalidImport(i, idx, fmt.Errorf("minimum size mismatch: %d > %d", i.DescMem.Min, importedMemory.Size()))
				return
			}
		case api.ExternTypeGlobal:
			g := imported.Global
			if i.DescGlobal.Mutable != g.Type.Mutable || i.DescGlobal.ValType != g.Type.ValType {
				err = errorInvalidImport(i, idx, fmt.Errorf("global type mismatch"))
				return
			}
			importedGlobals = append(importedGlobals, g)
		}
	}
	return
}

func errorInvalidImport(i *Import, idx int, err error) error {
	return fmt.Errorf("import[%d] %s[%s.%s]: %w", idx, api.ExternTypeName(i.Type), i.Module, i.Name, err)
}

// executeConstExpression evaluates a global initializer / segment offset constant expression.
// Only imported globals are valid operands of global.get here.
func executeConstExpression(importedGlobals []*GlobalInstance, expr *ConstantExpression) interface{} {
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, _ := leb128.LoadInt32(expr.Data)
		return v
	case OpcodeI64Const:
		v, _, _ := leb128.LoadInt64(expr.Data)
		return v
	case OpcodeF32Const:
		// Unlike integer consts, float consts are raw little-endian IEEE-754 bytes, not LEB128.
		return api.DecodeF32(uint64(binary.LittleEndian.Uint32(expr.Data)))
	case OpcodeF64Const:
		return api.DecodeF64(binary.LittleEndian.Uint64(expr.Data))
	case OpcodeGlobalGet:
		id, _, _ := leb128.LoadUint32(expr.Data)
		g := importedGlobals[id]
		switch g.Type.ValType {
		case api.ValueTypeI32:
			return int32(g.Val)
		case api.ValueTypeI64:
			return int64(g.Val)
		case api.ValueTypeF32:
			return api.DecodeF32(g.Val)
		case api.ValueTypeF64:
			return api.DecodeF64(g.Val)
		}
	case OpcodeRefNull:
		return int64(-1)
	}
	return int32(0)
}

func (s *Store) getFunctionTypeIDs(ts []*FunctionType) ([]FunctionTypeID, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	ret := make([]FunctionTypeID, len(ts))
	for i, t := range ts {
		id, err := s.getFunctionTypeID(t)
		if err != nil {
			return nil, err
		}
		ret[i] = id
	}
	return ret, nil
}

func (s *Store) getFunctionTypeID(t *FunctionType) (FunctionTypeID, error) {
	key := t.String()
	id, ok := s.typeIDs[key]
	if !ok {
		if uint32(len(s.typeIDs)) >= s.functionMaxTypes {
			return 0, fmt.Errorf("too many function types in a store")
		}
		id = FunctionTypeID(len(s.typeIDs))
		s.typeIDs[key] = id
	}
	return id, nil
}

// CloseWithExitCode closes every namespace (and therefore every instance) owned by this Store,
// in reverse creation order.
func (s *Store) CloseWithExitCode(ctx context.Context, exitCode uint32) (err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for i := len(s.namespaces) - 1; i >= 0; i-- {
		if e := s.namespaces[i].CloseWithExitCode(ctx, exitCode); e != nil && err == nil {
			err = e
		}
	}
	s.namespaces = nil
	s.typeIDs = nil
	return
}
