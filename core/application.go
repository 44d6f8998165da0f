// core/application.go
package core

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"firmcore-go/bus"
	"firmcore-go/types"
	"firmcore-go/x/timex"
)

// Watchdog abstracts the hardware watchdog; Feed is called once per frame
// and between teardown passes.
type Watchdog interface{ Feed() }

// Config tunes the Application. Zero values get safe defaults.
type Config struct {
	// LoopInterval is the soft frame budget; remaining time is slept.
	LoopInterval time.Duration // default 16ms
	// BlockingWarnThreshold flags a component whose single Loop call runs
	// longer than this.
	BlockingWarnThreshold time.Duration // default 50ms
	// TeardownTimeout bounds graceful shutdown.
	TeardownTimeout time.Duration // default 1s
	// Watchdog, when set, is fed every frame.
	Watchdog Watchdog
	// Bus, when set, receives retained component status messages.
	Bus *bus.Bus
}

// Application owns the component registry and drives setup, the per-frame
// loop, the scheduler tick, idle sleep, and bounded teardown. One instance
// exists for the process lifetime. All methods are main-loop-context only
// unless noted otherwise.
type Application struct {
	cfg   Config
	sched Scheduler

	components []Component // registration order
	names      map[string]struct{}

	// Active/inactive partition: indices < activeEnd are looped every frame.
	looping   []Component
	activeEnd int

	// Index the loop pass is currently visiting; -1 outside a pass. Used to
	// keep self-disable O(1) without skipping the swapped-in component.
	curLoopIndex int

	frameStart time.Time
	setupRun   bool

	// Set from any context via EnableLoopSoonAnyContext; cleared at frame
	// start before the partition is touched.
	pendingEnable atomic.Bool

	// Set by ResetToConstruction; triggers a setup pass for construction
	// components on the next frame.
	pendingSetup bool

	sel *loopSelect
}

// New creates the Application. The error is from the platform readiness
// primitive (epoll/eventfd on linux).
func New(cfg Config) (*Application, error) {
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 16 * time.Millisecond
	}
	if cfg.BlockingWarnThreshold <= 0 {
		cfg.BlockingWarnThreshold = 50 * time.Millisecond
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = time.Second
	}
	sel, err := newLoopSelect()
	if err != nil {
		return nil, err
	}
	return &Application{
		cfg:          cfg,
		names:        map[string]struct{}{},
		curLoopIndex: -1,
		frameStart:   time.Now(),
		sel:          sel,
	}, nil
}

// Close releases the readiness primitive. For tests and host tools; firmware
// never tears the Application down except through Shutdown.
func (a *Application) Close() { a.sel.close() }

// Register adds a component under a stable name. It panics on a duplicate
// name, a nil component, or registration after Setup: all are programmer
// errors best caught at start-up.
func (a *Application) Register(name string, c Component) {
	if name == "" {
		panic("core: empty component name")
	}
	if c == nil {
		panic("core: nil component " + name)
	}
	if a.setupRun {
		panic("core: component " + name + " registered after setup")
	}
	if _, exists := a.names[name]; exists {
		panic("core: component name already registered: " + name)
	}
	a.names[name] = struct{}{}
	c.base().attach(a, c, name)
	a.components = append(a.components, c)
}

// FrameStart returns the time snapshot taken at the top of the current
// frame; components use it as "now" to avoid repeated clock reads.
func (a *Application) FrameStart() time.Time { return a.frameStart }

func (a *Application) now() time.Time { return a.frameStart }

// Scheduler exposes pending-item diagnostics.
func (a *Application) Scheduler() *Scheduler { return &a.sched }

// -----------------------------------------------------------------------------
// Setup
// -----------------------------------------------------------------------------

// Setup runs every registered component's Setup in strictly descending
// SetupPriority order. Priorities are sampled once before any Setup runs. A
// component that marks itself failed is skipped for the rest of setup and
// for all future loop passes; setup continues for the rest.
func (a *Application) Setup() {
	a.frameStart = time.Now()

	ordered := make([]Component, len(a.components))
	copy(ordered, a.components)
	prio := make(map[Component]float32, len(ordered))
	for _, c := range ordered {
		prio[c] = c.SetupPriority()
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return prio[ordered[i]] > prio[ordered[j]]
	})

	for _, c := range ordered {
		a.setupComponent(c)
	}
	a.setupRun = true
}

func (a *Application) setupComponent(c Component) {
	b := c.base()
	if b.State() != StateConstruction {
		return
	}
	b.setState(StateSetup)
	c.Setup()
	if b.IsFailed() {
		println("Warning:", b.name, "setup failed:", b.message)
		return
	}
	b.setState(StateLoop)
	if lp, ok := c.(LoopParticipant); ok && !lp.LoopSupported() {
		b.setState(StateLoopDone)
		return
	}
	a.addToPartition(b)
	if b.wantDisabled {
		b.wantDisabled = false
		b.DisableLoop()
	}
}

// -----------------------------------------------------------------------------
// Frame loop
// -----------------------------------------------------------------------------

// Loop runs one frame: housekeeping, scheduler tick, the active-component
// pass, then idle sleep for the rest of the frame budget. The sleep wakes
// early on registered socket readiness or WakeMainLoop.
func (a *Application) Loop() {
	a.frameStart = time.Now()
	if a.cfg.Watchdog != nil {
		a.cfg.Watchdog.Feed()
	}
	if a.pendingEnable.Swap(false) {
		a.applyPendingEnables()
	}
	if a.pendingSetup {
		a.pendingSetup = false
		for _, c := range a.components {
			a.setupComponent(c)
		}
	}

	a.sched.tick(a.frameStart)

	for a.curLoopIndex = 0; a.curLoopIndex < a.activeEnd; a.curLoopIndex++ {
		c := a.looping[a.curLoopIndex]
		b := c.base()
		if b.State() != StateLoop {
			continue
		}
		start := time.Now()
		c.Loop()
		if d := time.Since(start); d > a.cfg.BlockingWarnThreshold {
			a.warnBlocking(b, d)
		}
	}
	a.curLoopIndex = -1

	if remaining := a.cfg.LoopInterval - time.Since(a.frameStart); remaining > 0 {
		a.sel.wait(remaining)
	}
}

// RunForever drives Loop until ctx is cancelled. Cancellation wakes a
// sleeping frame immediately.
func (a *Application) RunForever(ctx context.Context) {
	stop := context.AfterFunc(ctx, a.WakeMainLoop)
	defer stop()
	for ctx.Err() == nil {
		a.Loop()
	}
}

func (a *Application) warnBlocking(b *Base, d time.Duration) {
	// Rate limited per component so a persistently slow driver does not
	// flood the log.
	if !b.lastBlockWarn.IsZero() && a.frameStart.Sub(b.lastBlockWarn) < 10*time.Second {
		return
	}
	b.lastBlockWarn = a.frameStart
	println("Warning:", b.name, "blocked the loop for", d.Milliseconds(), "ms")
}

func (a *Application) applyPendingEnables() {
	for _, c := range a.components {
		b := c.base()
		if b.pendingEnable.Swap(false) {
			b.EnableLoop()
		}
	}
}

// requestEnableLoop is the any-context half of EnableLoopSoonAnyContext.
func (a *Application) requestEnableLoop() {
	a.pendingEnable.Store(true)
	a.sel.wake()
}

// WakeMainLoop interrupts an in-progress idle sleep. Safe from any
// goroutine, task, or interrupt context; no arguments, no result.
func (a *Application) WakeMainLoop() { a.sel.wake() }

// -----------------------------------------------------------------------------
// Active/inactive partition
// -----------------------------------------------------------------------------

// ActiveCount reports how many components are looped each frame.
func (a *Application) ActiveCount() int { return a.activeEnd }

func (a *Application) addToPartition(b *Base) {
	if b.loopIndex >= 0 {
		return
	}
	// Insert at the partition boundary: swap the first inactive slot out of
	// the way, then grow the active region over the new entry.
	a.looping = append(a.looping, b.self)
	b.loopIndex = len(a.looping) - 1
	a.swapLooping(b.loopIndex, a.activeEnd)
	a.activeEnd++
}

func (a *Application) enableLoop(b *Base) {
	if b.loopIndex < 0 || b.loopIndex < a.activeEnd {
		return
	}
	a.swapLooping(b.loopIndex, a.activeEnd)
	a.activeEnd++
}

func (a *Application) disableLoop(b *Base) {
	if b.loopIndex < 0 || b.loopIndex >= a.activeEnd {
		return
	}
	idx := b.loopIndex
	a.activeEnd--
	a.swapLooping(idx, a.activeEnd)
	// Revisit the slot the swap refilled if we are mid-pass.
	if a.curLoopIndex == idx {
		a.curLoopIndex--
	}
}

// removeFromPartition drops a component entirely (failure or reset).
func (a *Application) removeFromPartition(b *Base) {
	if b.loopIndex < 0 {
		return
	}
	if b.loopIndex < a.activeEnd {
		a.disableLoop(b)
	}
	// Swap with the final slot and shrink.
	last := len(a.looping) - 1
	a.swapLooping(b.loopIndex, last)
	a.looping[last] = nil
	a.looping = a.looping[:last]
	b.loopIndex = -1
}

func (a *Application) swapLooping(i, j int) {
	if i == j {
		return
	}
	a.looping[i], a.looping[j] = a.looping[j], a.looping[i]
	a.looping[i].base().loopIndex = i
	a.looping[j].base().loopIndex = j
}

// -----------------------------------------------------------------------------
// Sockets
// -----------------------------------------------------------------------------

// RegisterSocket adds a descriptor to the idle-sleep readiness wait, so data
// arriving while the loop sleeps wakes it immediately.
func (a *Application) RegisterSocket(fd int) error { return a.sel.register(fd) }

// UnregisterSocket removes a descriptor from the readiness wait.
func (a *Application) UnregisterSocket(fd int) error { return a.sel.unregister(fd) }

// SocketReady reports, without blocking, whether the descriptor was readable
// at the most recent wait. On platforms without a readiness primitive it
// returns true and the caller must attempt a non-blocking read.
func (a *Application) SocketReady(fd int) bool { return a.sel.ready(fd) }

// -----------------------------------------------------------------------------
// Teardown
// -----------------------------------------------------------------------------

// TeardownComponents polls every component's Teardown across short passes
// until all report done or the budget elapses, then calls OnPowerdown on
// every component exactly once. A stuck component can therefore delay
// shutdown by at most the budget, never block it.
func (a *Application) TeardownComponents(timeout time.Duration) {
	start := time.Now()

	pending := make([]Teardowner, 0, len(a.components))
	for _, c := range a.components {
		if td, ok := c.(Teardowner); ok {
			pending = append(pending, td)
		}
	}

	for len(pending) > 0 {
		busy := pending[:0]
		for _, td := range pending {
			if !td.Teardown() {
				busy = append(busy, td)
			}
		}
		pending = busy
		if len(pending) == 0 {
			break
		}
		if time.Since(start) >= timeout {
			println("Info: teardown timed out with", len(pending), "components busy")
			break
		}
		if a.cfg.Watchdog != nil {
			a.cfg.Watchdog.Feed()
		}
		time.Sleep(time.Millisecond)
	}

	for _, c := range a.components {
		if pd, ok := c.(Powerdowner); ok {
			pd.OnPowerdown()
		}
	}
}

// Shutdown runs the orderly shutdown sequence: safe-shutdown hooks, shutdown
// hooks, then bounded teardown ending in power-down.
func (a *Application) Shutdown() {
	for _, c := range a.components {
		if s, ok := c.(SafeShutdowner); ok {
			s.OnSafeShutdown()
		}
	}
	for _, c := range a.components {
		if s, ok := c.(Shutdowner); ok {
			s.OnShutdown()
		}
	}
	a.TeardownComponents(a.cfg.TeardownTimeout)
}

// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// DumpConfig prints every component's configuration text with failure and
// status annotations.
func (a *Application) DumpConfig() {
	for _, c := range a.components {
		b := c.base()
		println("Info: component", b.name, "state:", b.State().String())
		if b.message != "" {
			println("Info:   message:", b.message)
		}
		if txt := c.DumpConfig(); txt != "" {
			println(txt)
		}
	}
}

func (a *Application) publishStatus(b *Base) {
	if a.cfg.Bus == nil {
		return
	}
	a.cfg.Bus.Publish(a.cfg.Bus.NewMessage(
		bus.T("component", b.name, "status"),
		types.ComponentStatus{
			State:   b.State().String(),
			Warning: b.HasWarning(),
			Error:   b.HasError(),
			Message: b.message,
			TS:      timex.NowMs(),
		},
		true,
	))
}
