// Package uptime reports seconds since boot on the status bus at a fixed
// period. It does no per-frame work at all: the report runs from a scheduler
// interval, so the component opts out of the loop partition entirely.
package uptime

import (
	"time"

	"firmcore-go/bus"
	"firmcore-go/core"
	"firmcore-go/types"
	"firmcore-go/x/timex"
)

type Component struct {
	core.Base

	Bus    *bus.Bus
	Period time.Duration // default 60s

	started time.Time
}

func New(b *bus.Bus) *Component {
	return &Component{Bus: b}
}

func (c *Component) LoopSupported() bool { return false }

func (c *Component) SetupPriority() float32 { return core.PriorityLate }

func (c *Component) Setup() {
	if c.Period <= 0 {
		c.Period = 60 * time.Second
	}
	c.started = c.App().FrameStart()
	c.SetInterval("report", c.Period, c.report)
}

func (c *Component) report() {
	up := int64(c.App().FrameStart().Sub(c.started) / time.Second)
	c.Bus.Publish(c.Bus.NewMessage(
		bus.T("component", c.Name(), "value"),
		types.Uptime{Seconds: up, TS: timex.NowMs()},
		true,
	))
}

func (c *Component) DumpConfig() string {
	return "Info:   uptime report period: " + c.Period.String()
}
