package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/corewasm/corewasm/api"
	"github.com/corewasm/corewasm/internal/fiber"
	"github.com/corewasm/corewasm/internal/wasm"
	"github.com/corewasm/corewasm/internal/wasmdebug"
	"github.com/corewasm/corewasm/internal/wasmruntime"
)

// moduleEngine implements wasm.ModuleEngine over one module instance's compiledFunctions.
type moduleEngine struct {
	name      string
	module    *wasm.Module
	functions []*compiledFunction
}

func (m *moduleEngine) Name() string { return m.name }

// Call runs f, the Trampoline between a Go-level invocation and the threaded steps that
// implement it: it validates the raw parameter count, builds the initial callEngine, and turns
// any panic that escapes execution into a *api.Trap, with a Wasm call stack recovered frame by
// frame as the panic unwinds through nested runFunction calls (see runFunction's recover).
func (m *moduleEngine) Call(ctx context.Context, mod *wasm.ModuleInstance, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	if len(params) != len(f.Type.Params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(f.Type.Params), len(params))
	}

	if f.Kind == wasm.FunctionKindGo {
		return m.callGo(f, params)
	}
	if f.Idx < m.importFuncCount() {
		// f is an import bound to another module instance; that module's own ModuleEngine owns
		// its compiledFunction, not this one.
		return f.Module.Engine.Call(ctx, f.Module, f, params...)
	}
	cf := m.functions[f.Idx-m.importFuncCount()]
	ce := m.newCallEngine(ctx, mod, cf, params, nil)

	err = m.run(ce, cf)
	if err != nil {
		return nil, err
	}
	results = make([]uint64, len(f.Type.Results))
	copy(results, ce.stack[len(ce.stack)-len(f.Type.Results):])
	return results, nil
}

// callGo invokes a FunctionKindGo function under its own top-level recover: a host function has
// no callEngine/compiledFunction of its own, so it can't share run's recover, but a panicking
// host call (including one that panics an error result, see wazero.reflectGoFunc) must still
// surface as a *api.Trap rather than unwind past this engine's Call boundary.
func (m *moduleEngine) callGo(f *wasm.FunctionInstance, params []uint64) (results []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = m.toTrap(&callEngine{module: f.Module, trace: wasmdebug.NewErrorBuilder()}, r)
		}
	}()
	return f.GoFunc(wasm.NewAPIInstance(f.Module), params), nil
}

func (m *moduleEngine) importFuncCount() wasm.Index {
	if len(m.functions) == 0 {
		return 0
	}
	return m.functions[0].index
}

func (m *moduleEngine) newCallEngine(ctx context.Context, mod *wasm.ModuleInstance, cf *compiledFunction, params []uint64, fc *fiber.Control) *callEngine {
	depth := 0
	frames := make([]api.Frame, 0, 8)
	ce := &callEngine{
		ctx:    ctx,
		module: mod,
		depth:  &depth,
		trace:  wasmdebug.NewErrorBuilder(),
		frames: &frames,
		fiber:  fc,
	}
	ce.stack = make([]uint64, cf.numLocals, cf.numLocals+8)
	copy(ce.stack, params)
	return ce
}

// CallAsync is Call's cooperatively-suspendable counterpart: f runs on a Fiber instead of the
// calling goroutine, so a loop back-edge or call entry that finds fuel exhausted under
// FuelPolicyYieldAsync can suspend back to the returned Fiber's driver instead of trapping. The
// driver must Resume (or Cancel) the Fiber until it reports done; results/err are only valid
// once it does.
func (m *moduleEngine) CallAsync(ctx context.Context, mod *wasm.ModuleInstance, f *wasm.FunctionInstance, params ...uint64) (*fiber.Fiber, *[]uint64, *error) {
	results := new([]uint64)
	runErr := new(error)

	if f.Kind == wasm.FunctionKindGo || f.Idx < m.importFuncCount() {
		fb := fiber.New(func(_ context.Context, _ *fiber.Control) error {
			r, err := m.Call(ctx, mod, f, params...)
			*results, *runErr = r, err
			return err
		})
		return fb, results, runErr
	}

	cf := m.functions[f.Idx-m.importFuncCount()]
	var fb *fiber.Fiber
	fb = fiber.New(func(_ context.Context, ctrl *fiber.Control) error {
		ce := m.newCallEngine(ctx, mod, cf, params, ctrl)
		err := m.run(ce, cf)
		*runErr = err
		if err == nil {
			out := make([]uint64, len(f.Type.Results))
			copy(out, ce.stack[len(ce.stack)-len(f.Type.Results):])
			*results = out
		}
		return err
	})
	return fb, results, runErr
}

// run executes cf's steps under a single top-level recover, converting any escaped panic (a
// wasmruntime sentinel, a Go runtime.Error, an arbitrary host panic value, or a context
// cancellation surfaced via mid-loop polling) into a *api.Trap.
func (m *moduleEngine) run(ce *callEngine, cf *compiledFunction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = m.toTrap(ce, r)
		}
	}()
	runFunction(ce, cf)
	return nil
}

// toTrap converts a panic recovered at the top of one Call into a *api.Trap: Message stays a
// short, single-line cause (matching DisplayString's own "wasm trap: <message>" prefix), while
// the fuller classified-and-stack-traced rendering from ce.trace is reserved for the debug log
// line so the two don't end up duplicating each other's backtrace formatting.
func (m *moduleEngine) toTrap(ce *callEngine, recovered interface{}) error {
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
	case string:
		cause = errors.New(v)
	default:
		cause = fmt.Errorf("%v", v)
	}

	var backtrace []api.Frame
	if ce.frames != nil {
		backtrace = *ce.frames
	}

	kind := api.TrapKindUser
	switch {
	case errors.Is(cause, wasmruntime.ErrRuntimeUnreachable):
		kind = api.TrapKindUnreachable
	case errors.Is(cause, wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess):
		kind = api.TrapKindMemoryOutOfBounds
	case errors.Is(cause, wasmruntime.ErrRuntimeInvalidConversionToInteger):
		kind = api.TrapKindBadConversionToInteger
	case errors.Is(cause, wasmruntime.ErrRuntimeIntegerDivideByZero):
		kind = api.TrapKindIntegerDivideByZero
	case errors.Is(cause, wasmruntime.ErrRuntimeIntegerOverflow):
		kind = api.TrapKindIntegerOverflow
	case errors.Is(cause, wasmruntime.ErrRuntimeInvalidTableAccess):
		kind = api.TrapKindTableOutOfBounds
	case errors.Is(cause, wasmruntime.ErrRuntimeIndirectCallTypeMismatch):
		kind = api.TrapKindIndirectCallTypeMismatch
	case errors.Is(cause, wasmruntime.ErrRuntimeStackOverflow), errors.Is(cause, wasmruntime.ErrRuntimeCallStackOverflow):
		kind = api.TrapKindStackOverflow
	case errors.Is(cause, wasmruntime.ErrRuntimeOutOfGas):
		kind = api.TrapKindOutOfGas
	case errors.Is(cause, wasmruntime.ErrRuntimeInterrupted), errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		kind = api.TrapKindInterrupt
	}

	if ce.trace != nil {
		logrus.WithFields(logrus.Fields{
			"module": ce.module.Name,
			"frames": len(backtrace),
		}).Debug(ce.trace.FromRecovered(recovered).Error())
	}

	return &api.Trap{Kind: kind, Message: cause.Error(), Backtrace: backtrace}
}

// CreateFuncElementInstance builds an ElementInstance whose References are this engine's own
// funcref encoding (see funcrefTag in steps.go): a null entry in indexes becomes a null
// reference, matching the Wasm bulk-memory table.init/elem.drop semantics.
func (m *moduleEngine) CreateFuncElementInstance(indexes []*wasm.Index) *wasm.ElementInstance {
	refs := make([]wasm.Reference, len(indexes))
	for i, idx := range indexes {
		if idx == nil {
			continue
		}
		refs[i] = wasm.Reference(uint64(*idx) | funcrefTag)
	}
	return &wasm.ElementInstance{References: refs, Type: api.ValueTypeFuncref}
}

// InitializeFuncrefGlobals resolves any global whose initializer was ref.func: buildGlobals
// could not compute its funcref encoding without the owning engine's funcrefTag convention, so
// it stashed the target function index in PendingFuncRefIndex for this pass to consume.
func (m *moduleEngine) InitializeFuncrefGlobals(globals []*wasm.GlobalInstance) {
	for _, g := range globals {
		if g.PendingFuncRefIndex == nil {
			continue
		}
		g.Val = uint64(*g.PendingFuncRefIndex) | funcrefTag
		g.PendingFuncRefIndex = nil
	}
}
