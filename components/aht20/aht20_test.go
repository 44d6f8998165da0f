package aht20

import (
	"errors"
	"testing"
	"time"

	"firmcore-go/bus"
	"firmcore-go/core"
	"firmcore-go/types"
)

// fakeI2C emulates the AHT20 register protocol. failStatus makes the first
// n status reads fail, exercising the probe retry path.
type fakeI2C struct {
	failStatus int
	triggers   int
	busyReads  int // reads answered busy before a sample is produced
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if addr != Address {
		return errors.New("wrong address")
	}
	switch {
	case len(w) > 0 && w[0] == cmdStatus:
		if f.failStatus > 0 {
			f.failStatus--
			return errors.New("nack")
		}
		r[0] = statusCalibrated
		return nil
	case len(w) > 0 && w[0] == cmdInitialize:
		return nil
	case len(w) > 0 && w[0] == cmdTrigger:
		f.triggers++
		return nil
	case len(w) == 0 && len(r) >= 7:
		if f.busyReads > 0 {
			f.busyReads--
			r[0] = statusCalibrated | statusBusy
			return nil
		}
		// hraw=0x8CCCD (55.0 %RH), traw=0x60000 (25.0 C)
		r[0] = statusCalibrated
		r[1], r[2], r[3], r[4], r[5] = 0x8C, 0xCC, 0xD6, 0x00, 0x00
		return nil
	}
	return errors.New("unexpected transaction")
}

func newApp(t *testing.T, b *bus.Bus) *core.Application {
	t.Helper()
	app, err := core.New(core.Config{LoopInterval: time.Millisecond, Bus: b})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func runUntil(t *testing.T, app *core.Application, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached within %v", d)
		}
		app.Loop()
	}
}

func TestMeasurementPublished(t *testing.T) {
	b := bus.New(8)
	app := newApp(t, b)

	dev := &fakeI2C{busyReads: 2}
	c := New(b, dev)
	c.Period = 20 * time.Millisecond
	app.Register("aht20", c)
	app.Setup()

	sub := b.Subscribe(bus.T("component", "aht20", "value"))
	var env types.Environment
	runUntil(t, app, 3*time.Second, func() bool {
		select {
		case msg := <-sub.Channel():
			env = msg.Payload.(types.Environment)
			return true
		default:
			return false
		}
	})

	if env.DeciCelsius != 250 {
		t.Errorf("deci celsius %d, want 250", env.DeciCelsius)
	}
	if env.DeciRelHumidity != 550 {
		t.Errorf("deci humidity %d, want 550", env.DeciRelHumidity)
	}
	if dev.triggers == 0 {
		t.Error("no trigger transaction issued")
	}
	if c.HasWarning() {
		t.Error("warning flag set after successful collect")
	}
}

func TestProbeRetriesThenRecovers(t *testing.T) {
	b := bus.New(8)
	app := newApp(t, b)

	dev := &fakeI2C{failStatus: 2}
	c := New(b, dev)
	c.Period = 20 * time.Millisecond
	app.Register("aht20", c)
	app.Setup()

	runUntil(t, app, 3*time.Second, func() bool { return dev.triggers > 0 })
	if c.IsFailed() {
		t.Error("component failed despite eventual probe success")
	}
}

type deadI2C struct{}

func (deadI2C) Tx(addr uint16, w, r []byte) error { return errors.New("no device") }

func TestAbsentDeviceMarksFailed(t *testing.T) {
	b := bus.New(8)
	app := newApp(t, b)

	c := New(b, deadI2C{})
	app.Register("aht20", c)
	app.Setup()

	runUntil(t, app, 5*time.Second, func() bool { return c.IsFailed() })
	if c.StatusMessage() != "aht20 not responding" {
		t.Errorf("diagnostic message %q", c.StatusMessage())
	}
}
