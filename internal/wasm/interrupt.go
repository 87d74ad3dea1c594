package wasm

import (
	"sync/atomic"
)

// Interrupts backs interrupt_handle(): a thread-safe flag polled by compiled code
// at loop back-edges and function entry. The next poll after Set raises Trap(interrupt) and
// clears the flag atomically, so a single interruption never fires twice.
//
// Grounded on the original VMInterrupts design; here it is its own small type rather than embedded in a VMContext layout,
// because this module has no VMContext: the Store holds it and the compiled call loop reaches it through ModuleInstance.Store.
type Interrupts struct {
	flag uint32
}

func newInterrupts() *Interrupts { return &Interrupts{} }

// InterruptHandle is the thread-safe handle returned to embedders; Set is safe to call from any
// goroutine, including one unrelated to the Store's single-thread execution discipline.
type InterruptHandle struct {
	i *Interrupts
}

// Handle returns the thread-safe handle that can be shared with another goroutine to interrupt
// this Store's execution.
func (i *Interrupts) Handle() *InterruptHandle { return &InterruptHandle{i} }

// Set raises the interrupt flag. Idempotent: setting an already-set flag has no additional effect.
func (h *InterruptHandle) Set() { atomic.StoreUint32(&h.i.flag, 1) }

// PollAndClear is called by the compiled call loop at every function entry and loop back-edge
// (see checkSuspend in internal/engine/compiler). It reports whether an interrupt was pending and,
// if so, atomically clears it so the same Set doesn't fire again.
func (i *Interrupts) PollAndClear() bool {
	return atomic.CompareAndSwapUint32(&i.flag, 1, 0)
}

// FuelPolicy governs what happens when a Store's fuel counter crosses zero.
type FuelPolicy int

const (
	// FuelPolicyTrap raises Trap(out-of-gas) immediately.
	FuelPolicyTrap FuelPolicy = iota
	// FuelPolicyYieldAsync suspends the current fiber instead of trapping, for a caller that
	// reinjects fuel on resume.
	FuelPolicyYieldAsync
)

// FuelState backs add_fuel(n)/fuel_consumed(): a monotonic counter decremented by
// compiled code by one unit at every function entry and every loop back-edge, to bound
// execution. The granularity is fixed; there is no setting to change it.
//
// Grounded on the embedding config's fuel fields (here enabled with FuelState.Enable) adapted to
// the design's explicit add_fuel/fuel_consumed/out_of_gas vocabulary.
type FuelState struct {
	enabled  bool
	policy   FuelPolicy
	remaining int64
	consumed  int64
}

func newFuelState() *FuelState { return &FuelState{} }

// Enable turns fuel accounting on for the Store, selecting the out-of-gas policy.
func (f *FuelState) Enable(policy FuelPolicy) {
	f.enabled = true
	f.policy = policy
}

// Enabled reports whether fuel accounting is active.
func (f *FuelState) Enabled() bool { return f.enabled }

// Policy reports the configured out-of-gas behavior.
func (f *FuelState) Policy() FuelPolicy { return f.policy }

// AddFuel adds n units to the remaining budget. Per the design: "after add_fuel(n) with
// consume_fuel=true, total Wasm work performed before out_of_gas fires is exactly n fuel units" —
// so AddFuel never resets fuel_consumed, only extends remaining.
func (f *FuelState) AddFuel(n int64) {
	f.remaining += n
}

// FuelConsumed reports the cumulative number of fuel units spent since the Store was created.
func (f *FuelState) FuelConsumed() int64 { return f.consumed }

// Consume deducts n units from the remaining budget and reports whether the budget is now
// exhausted (remaining <= 0), at which point the caller (the compiled call loop's checkSuspend)
// must apply the configured FuelPolicy.
func (f *FuelState) Consume(n int64) (exhausted bool) {
	f.remaining -= n
	f.consumed += n
	return f.remaining <= 0
}
