// core/core_test.go
//
// Shared test harness: a scriptable component and frame-driving helpers.
package core

import (
	"testing"
	"time"
)

type testComp struct {
	Base
	prio    float32
	setupFn func(c *testComp)
	loopFn  func(c *testComp)
	loops   int
}

func (c *testComp) SetupPriority() float32 { return c.prio }

func (c *testComp) Setup() {
	if c.setupFn != nil {
		c.setupFn(c)
	}
}

func (c *testComp) Loop() {
	c.loops++
	if c.loopFn != nil {
		c.loopFn(c)
	}
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	app, err := New(Config{LoopInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

// runFrames drives exactly n frames.
func runFrames(app *Application, n int) {
	for i := 0; i < n; i++ {
		app.Loop()
	}
}

// runUntil drives frames until cond holds or the deadline passes.
func runUntil(t *testing.T, app *Application, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached within %v", d)
		}
		app.Loop()
	}
}
