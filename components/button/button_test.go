package button

import (
	"testing"
	"time"

	"firmcore-go/bus"
	"firmcore-go/core"
	"firmcore-go/types"
)

func newApp(t *testing.T) (*core.Application, *bus.Bus) {
	t.Helper()
	b := bus.New(16)
	app, err := core.New(core.Config{LoopInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(app.Close)
	return app, b
}

func collect(sub *bus.Subscription) []types.ButtonEvent {
	var out []types.ButtonEvent
	for {
		select {
		case msg := <-sub.Channel():
			out = append(out, msg.Payload.(types.ButtonEvent))
		default:
			return out
		}
	}
}

func TestPressReleasePublished(t *testing.T) {
	app, b := newApp(t)
	c := New(b)
	c.Debounce = time.Millisecond
	app.Register("button", c)
	app.Setup()

	if app.ActiveCount() != 0 {
		t.Fatalf("button must start idle, active=%d", app.ActiveCount())
	}

	sub := b.Subscribe(bus.T("component", "button", "value"))

	c.OnPinChange(true)
	deadline := time.Now().Add(time.Second)
	var events []types.ButtonEvent
	for len(events) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no press published")
		}
		app.Loop()
		events = append(events, collect(sub)...)
	}
	if !events[0].Pressed {
		t.Error("first event not a press")
	}

	// After draining, the component leaves the partition again.
	if app.ActiveCount() != 0 {
		t.Errorf("button still active after drain, active=%d", app.ActiveCount())
	}

	time.Sleep(2 * time.Millisecond)
	c.OnPinChange(false)
	for len(events) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no release published")
		}
		app.Loop()
		events = append(events, collect(sub)...)
	}
	if events[1].Pressed {
		t.Error("second event not a release")
	}
}

func TestBounceSuppressed(t *testing.T) {
	app, b := newApp(t)
	c := New(b)
	c.Debounce = 50 * time.Millisecond
	app.Register("button", c)
	app.Setup()

	sub := b.Subscribe(bus.T("component", "button", "value"))

	// A press followed by contact bounce well inside the debounce window.
	c.OnPinChange(true)
	c.OnPinChange(false)
	c.OnPinChange(true)

	deadline := time.Now().Add(time.Second)
	var events []types.ButtonEvent
	for len(events) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no event published")
		}
		app.Loop()
		events = append(events, collect(sub)...)
	}
	// Let any spurious extras surface.
	app.Loop()
	events = append(events, collect(sub)...)

	if len(events) != 1 || !events[0].Pressed {
		t.Fatalf("got %d events (%v), want single press", len(events), events)
	}
}

func TestInterruptFromGoroutineWakesLoop(t *testing.T) {
	b := bus.New(16)
	app, err := core.New(core.Config{LoopInterval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(app.Close)

	c := New(b)
	c.Debounce = time.Millisecond
	app.Register("button", c)
	app.Setup()

	sub := b.Subscribe(bus.T("component", "button", "value"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.OnPinChange(true)
	}()

	start := time.Now()
	app.Loop() // sleeping frame, interrupted by the wake
	app.Loop() // pending enable applied, event drained
	if elapsed := time.Since(start); elapsed >= 900*time.Millisecond {
		t.Errorf("wake did not shorten the frames: %v", elapsed)
	}
	if got := collect(sub); len(got) != 1 || !got[0].Pressed {
		t.Fatalf("got %v, want single press", got)
	}
}
