// core/component.go
package core

import (
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// Lifecycle state
// -----------------------------------------------------------------------------

// State is the lifecycle phase of a component. States are mutually exclusive;
// the warning/error status flags are orthogonal and live in the same byte.
type State uint8

const (
	StateConstruction State = iota
	StateSetup
	StateLoop
	StateLoopDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstruction:
		return "construction"
	case StateSetup:
		return "setup"
	case StateLoop:
		return "loop"
	case StateLoopDone:
		return "loop_done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Packed layout of Base.bits: state in the low 3 bits, flags above.
const (
	stateMask     uint8 = 0x07
	statusWarning uint8 = 1 << 3
	statusError   uint8 = 1 << 4
)

// Setup priority ranks. Higher runs earlier during Application.Setup.
const (
	PriorityBus       float32 = 1000
	PriorityIO        float32 = 900
	PriorityHardware  float32 = 800
	PriorityData      float32 = 600
	PriorityProcessor float32 = 400
	PriorityDefault   float32 = 0
	PriorityLate      float32 = -100
)

// -----------------------------------------------------------------------------
// Component contract
// -----------------------------------------------------------------------------

// Component is one hosted driver unit. Concrete components embed Base, which
// provides default method bodies and the runtime plumbing; the unexported
// method pins every implementation to Base.
type Component interface {
	// Setup initialises the component. Called once per generation, in
	// descending SetupPriority order. A component that cannot initialise
	// calls MarkFailed on itself instead of returning an error.
	Setup()
	// Loop runs one frame of work. Called only while the component is in
	// StateLoop; must not block for an unbounded time.
	Loop()
	// DumpConfig returns human-readable diagnostic text.
	DumpConfig() string
	// SetupPriority ranks the one-time setup pass. Sampled once before any
	// Setup runs.
	SetupPriority() float32

	base() *Base
}

// Optional capabilities, discovered by type assertion.

// Teardowner is polled during bounded shutdown; true means done.
type Teardowner interface{ Teardown() bool }

// Powerdowner is called exactly once after teardown, whether or not
// Teardown finished cleanly.
type Powerdowner interface{ OnPowerdown() }

// Shutdowner runs before teardown on an orderly shutdown.
type Shutdowner interface{ OnShutdown() }

// SafeShutdowner runs before Shutdowner on an orderly shutdown.
type SafeShutdowner interface{ OnSafeShutdown() }

// LoopParticipant lets a component opt out of the active partition entirely
// (for pure event-driven components whose Loop is a no-op).
type LoopParticipant interface{ LoopSupported() bool }

// -----------------------------------------------------------------------------
// Base
// -----------------------------------------------------------------------------

// Base carries the per-component runtime state. Embed it by value in every
// component; all methods require the component to have been registered with
// an Application first.
type Base struct {
	app  *Application
	self Component
	name string

	bits    uint8
	message string // static diagnostic string, stored by reference

	// Position in the Application's looping slice; -1 while not participating.
	loopIndex int

	// Set by DisableLoop during Setup; applied when setup completes.
	wantDisabled bool

	// Set from any context; applied by the Application at the next frame start.
	pendingEnable atomic.Bool

	lastBlockWarn time.Time
}

func (b *Base) base() *Base { return b }

// attach wires the Base to its Application. Called by Register.
func (b *Base) attach(app *Application, self Component, name string) {
	b.app = app
	b.self = self
	b.name = name
	b.loopIndex = -1
}

// Name returns the registration name used in diagnostics and bus topics.
func (b *Base) Name() string { return b.name }

// App returns the owning Application (socket registration, wake, frame time).
func (b *Base) App() *Application { return b.app }

// Default method bodies; components override what they need.

func (b *Base) Setup()                 {}
func (b *Base) Loop()                  {}
func (b *Base) DumpConfig() string     { return "" }
func (b *Base) SetupPriority() float32 { return PriorityDefault }

// -----------------------------------------------------------------------------
// State machine
// -----------------------------------------------------------------------------

func (b *Base) State() State { return State(b.bits & stateMask) }

func (b *Base) setState(s State) {
	if b.State() == s {
		return
	}
	b.bits = (b.bits &^ stateMask) | uint8(s)
	if b.app != nil {
		b.app.publishStatus(b)
	}
}

func (b *Base) IsFailed() bool { return b.State() == StateFailed }

// IsReady reports whether setup finished without failure.
func (b *Base) IsReady() bool {
	s := b.State()
	return s == StateLoop || s == StateLoopDone
}

// MarkFailed transitions the component to StateFailed and removes it from
// all future Setup/Loop passes. msg must be a literal or otherwise stable
// string; it is stored by reference for later inspection.
func (b *Base) MarkFailed(msg string) {
	if b.State() == StateFailed {
		return
	}
	if msg != "" {
		b.message = msg
	}
	b.bits |= statusError
	b.setState(StateFailed)
	if b.app != nil {
		b.app.removeFromPartition(b)
		b.app.sched.cancelAllFor(b)
	}
}

// ResetToConstruction clears a failed (or any) component back to
// StateConstruction so the Application retries its full Setup on the next
// frame. Main loop context only.
func (b *Base) ResetToConstruction() {
	if b.app != nil {
		b.app.removeFromPartition(b)
		b.app.sched.cancelAllFor(b)
	}
	b.bits &^= statusError | statusWarning
	b.message = ""
	b.wantDisabled = false
	b.setState(StateConstruction)
	if b.app != nil {
		b.app.pendingSetup = true
	}
}

// -----------------------------------------------------------------------------
// Loop participation
// -----------------------------------------------------------------------------

// EnableLoop re-adds the component to the active partition. Main loop
// context only; no-op unless the component is in StateLoopDone.
func (b *Base) EnableLoop() {
	if b.State() != StateLoopDone || b.loopIndex < 0 {
		return
	}
	b.setState(StateLoop)
	b.app.enableLoop(b)
}

// DisableLoop opts the component out of per-frame work. Main loop context
// only. Called during Setup it takes effect the moment setup completes, so
// a component can start opted out.
func (b *Base) DisableLoop() {
	switch b.State() {
	case StateSetup:
		b.wantDisabled = true
	case StateLoop:
		b.setState(StateLoopDone)
		b.app.disableLoop(b)
	}
}

// EnableLoopSoonAnyContext requests EnableLoop from an interrupt or a
// concurrent task. The request is recorded in a lock-free flag, applied by
// the Application at the start of the next frame, and wakes the main loop
// if it is sleeping.
func (b *Base) EnableLoopSoonAnyContext() {
	b.pendingEnable.Store(true)
	if b.app != nil {
		b.app.requestEnableLoop()
	}
}

// -----------------------------------------------------------------------------
// Status flags
// -----------------------------------------------------------------------------

func (b *Base) HasWarning() bool { return b.bits&statusWarning != 0 }
func (b *Base) HasError() bool   { return b.bits&statusError != 0 }

// StatusMessage returns the static diagnostic string most recently recorded.
func (b *Base) StatusMessage() string { return b.message }

// StatusSetWarning sets the warning flag. msg must be a stable string.
func (b *Base) StatusSetWarning(msg string) { b.statusSet(statusWarning, msg) }

// StatusSetError sets the error flag. msg must be a stable string.
func (b *Base) StatusSetError(msg string) { b.statusSet(statusError, msg) }

func (b *Base) statusSet(flag uint8, msg string) {
	if msg != "" {
		b.message = msg
	}
	if b.bits&flag != 0 {
		return
	}
	b.bits |= flag
	if b.app != nil {
		b.app.publishStatus(b)
	}
}

func (b *Base) StatusClearWarning() { b.statusClear(statusWarning) }
func (b *Base) StatusClearError()   { b.statusClear(statusError) }

func (b *Base) statusClear(flag uint8) {
	if b.bits&flag == 0 {
		return
	}
	b.bits &^= flag
	if b.app != nil {
		b.app.publishStatus(b)
	}
}

// StatusMomentaryWarning sets the warning flag and arms a timeout keyed by
// name that clears it after d.
func (b *Base) StatusMomentaryWarning(name string, d time.Duration) {
	b.StatusSetWarning("")
	b.SetTimeout(name, d, b.StatusClearWarning)
}

// StatusMomentaryError sets the error flag and arms a timeout keyed by name
// that clears it after d.
func (b *Base) StatusMomentaryError(name string, d time.Duration) {
	b.StatusSetError("")
	b.SetTimeout(name, d, b.StatusClearError)
}

// -----------------------------------------------------------------------------
// Scheduling (forwarded to the Application's scheduler, owner-scoped)
// -----------------------------------------------------------------------------

// SetTimeout arms a one-shot callback after delay. An existing timeout with
// the same name is cancelled and replaced silently.
func (b *Base) SetTimeout(name string, delay time.Duration, fn func()) {
	b.app.sched.arm(b, nameKey(name), kindTimeout, delay, fn)
}

// CancelTimeout reports whether a pending timeout with that name existed.
func (b *Base) CancelTimeout(name string) bool {
	return b.app.sched.cancel(b, nameKey(name), kindTimeout)
}

// SetInterval arms a repeating callback. The first firing is jittered within
// [0, period); later firings are spaced period apart from the previous
// scheduled time, so execution delay does not accumulate as drift.
func (b *Base) SetInterval(name string, period time.Duration, fn func()) {
	b.app.sched.armInterval(b, nameKey(name), period, fn)
}

func (b *Base) CancelInterval(name string) bool {
	return b.app.sched.cancel(b, nameKey(name), kindInterval)
}

// SetRetry arms fn to run after initialWait, retrying with exponential
// backoff while it returns Retry, up to maxAttempts total attempts. fn
// receives the number of attempts remaining after the current one (0 on the
// last). Exhausted retries are dropped silently.
func (b *Base) SetRetry(name string, initialWait time.Duration, maxAttempts uint8, fn RetryFunc, backoffFactor float32) {
	b.app.sched.armRetry(b, nameKey(name), initialWait, maxAttempts, fn, backoffFactor)
}

func (b *Base) CancelRetry(name string) bool {
	return b.app.sched.cancel(b, nameKey(name), kindRetry)
}

// Defer runs fn exactly once on the next scheduler tick, after the current
// call stack unwinds and before the next loop pass. A pending deferral with
// the same name is replaced.
func (b *Base) Defer(name string, fn func()) {
	b.app.sched.arm(b, nameKey(name), kindDefer, 0, fn)
}

func (b *Base) CancelDefer(name string) bool {
	return b.app.sched.cancel(b, nameKey(name), kindDefer)
}

// DeferCall is the keyless variant of Defer: every call schedules an
// independent, non-cancellable item for the next tick.
func (b *Base) DeferCall(fn func()) {
	b.app.sched.armAnon(b, fn)
}

// Numeric-key variants: zero-allocation keys for callers that do not need
// cancel-by-name ergonomics.

func (b *Base) SetNumericTimeout(id uint32, delay time.Duration, fn func()) {
	b.app.sched.arm(b, numericKey(id), kindTimeout, delay, fn)
}

func (b *Base) CancelNumericTimeout(id uint32) bool {
	return b.app.sched.cancel(b, numericKey(id), kindTimeout)
}

func (b *Base) SetNumericInterval(id uint32, period time.Duration, fn func()) {
	b.app.sched.armInterval(b, numericKey(id), period, fn)
}

func (b *Base) CancelNumericInterval(id uint32) bool {
	return b.app.sched.cancel(b, numericKey(id), kindInterval)
}
