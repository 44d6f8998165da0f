// Package button turns GPIO edge interrupts into debounced press/release
// messages. The interrupt side pushes raw edges into a lock-free SPSC ring
// and requests loop participation; the main loop drains the ring, applies
// the debounce, publishes, and opts back out of the loop when idle. The
// component therefore costs nothing per frame while the button is untouched.
package button

import (
	"time"

	"firmcore-go/bus"
	"firmcore-go/core"
	"firmcore-go/types"
	"firmcore-go/x/evring"
	"firmcore-go/x/timex"
)

// Edge is one raw level change captured in interrupt context.
type Edge struct {
	Level bool
	TS    int64 // unix ms, captured at the interrupt
}

type Component struct {
	core.Base

	Bus      *bus.Bus
	Debounce time.Duration // default 20ms
	Invert   bool

	ring *evring.Ring[Edge]

	lastLevel   bool
	lastEventMs int64
}

func New(b *bus.Bus) *Component {
	return &Component{
		Bus:  b,
		ring: evring.New[Edge](32),
	}
}

func (c *Component) SetupPriority() float32 { return core.PriorityHardware }

func (c *Component) Setup() {
	if c.Debounce <= 0 {
		c.Debounce = 20 * time.Millisecond
	}
	// Idle until the first interrupt arrives.
	c.DisableLoop()
}

// OnPinChange is the interrupt-side entry point. It must not block and must
// not allocate: one ring push, one flag, one wake.
func (c *Component) OnPinChange(level bool) {
	c.ring.Push(Edge{Level: level, TS: timex.NowMs()})
	c.EnableLoopSoonAnyContext()
}

func (c *Component) Loop() {
	for {
		ev, ok := c.ring.Pop()
		if !ok {
			break
		}
		c.handle(ev)
	}
	// Drained; drop back out of the per-frame partition.
	c.DisableLoop()
}

func (c *Component) handle(ev Edge) {
	level := ev.Level != c.Invert
	if level == c.lastLevel {
		return
	}
	if c.lastEventMs != 0 && ev.TS-c.lastEventMs < timex.Ms(c.Debounce) {
		return // bounce
	}
	c.lastLevel = level
	c.lastEventMs = ev.TS
	c.Bus.Publish(c.Bus.NewMessage(
		bus.T("component", c.Name(), "value"),
		types.ButtonEvent{Pressed: level, TS: ev.TS},
		false,
	))
}

// Dropped reports interrupt-side overflow, for diagnostics.
func (c *Component) Dropped() uint32 { return c.ring.Drops() }

func (c *Component) DumpConfig() string {
	return "Info:   button debounce " + c.Debounce.String()
}
