// Package fiber implements cooperative suspension for asynchronous Wasm calls: a Fiber runs a
// function on its own goroutine and can be suspended mid-call (at a host import boundary or an
// out-of-gas check) and later resumed, without the caller's goroutine blocking for the suspended
// duration.
//
// No native-stack context switch is attempted here (the retrieved reference material carries no
// assembly-level stack-switching source to ground one on); a goroutine blocked on a channel send
// plays the same "parked mid-call, cheap to resume" role a native fiber stack would, at the cost
// of one goroutine per outstanding async call instead of a reused native stack.
package fiber

import "context"

// State is a Fiber's current position in its Ready/Running/Suspended/Done lifecycle.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSuspended
	StateDone
)

// Fiber runs fn on a dedicated goroutine, letting the caller suspend and resume it at points fn
// itself chooses by calling (*Control).Yield.
type Fiber struct {
	state  State
	result error

	resume chan resumeMsg
	yield  chan struct{}
	done   chan struct{}
}

type resumeMsg struct {
	cancel bool
	err    error
}

// Control is the handle a running Fiber's function uses to cooperatively suspend itself.
type Control struct {
	f *Fiber
}

// New starts fn on a new goroutine, immediately parking it until the first Resume call: fn
// receives a *Control it can pass down to whatever host call site needs to Yield.
func New(fn func(ctx context.Context, c *Control) error) *Fiber {
	f := &Fiber{
		state:  StateReady,
		resume: make(chan resumeMsg),
		yield:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	ctrl := &Control{f: f}
	go func() {
		msg := <-f.resume // wait for the first Resume before running any of fn
		if msg.cancel {
			f.result = msg.err
			close(f.done)
			return
		}
		f.result = fn(context.Background(), ctrl)
		close(f.done)
	}()
	return f
}

// Yield suspends the calling goroutine (which must be the Fiber's own goroutine, reached via the
// Control passed into New's fn) until the next Resume, returning an error if the driver canceled
// instead of resuming.
func (c *Control) Yield() error {
	c.f.yield <- struct{}{}
	msg := <-c.f.resume
	if msg.cancel {
		return msg.err
	}
	return nil
}

// Resume runs (or resumes) the Fiber until it either yields again, a cancellation via Cancel, or
// completes, returning (done, err): done is true once fn has returned, at which point err is fn's
// own return value (or a cancellation error).
func (f *Fiber) Resume() (done bool, err error) {
	if f.state == StateDone {
		return true, f.result
	}
	f.state = StateRunning
	f.resume <- resumeMsg{}
	select {
	case <-f.yield:
		f.state = StateSuspended
		return false, nil
	case <-f.done:
		f.state = StateDone
		return true, f.result
	}
}

// Cancel resumes a suspended (or not-yet-started) Fiber with cancellation cause, per the
// "dropping the driver mid-call resumes the fiber with cancel" contract: the fiber's Yield call
// returns cause as an error so it can unwind (rather than continue) to completion.
func (f *Fiber) Cancel(cause error) error {
	if f.state == StateDone {
		return f.result
	}
	f.state = StateRunning
	f.resume <- resumeMsg{cancel: true, err: cause}
	<-f.done
	f.state = StateDone
	return f.result
}

// State reports the Fiber's current lifecycle position.
func (f *Fiber) State() State { return f.state }
