// Package aht20 hosts an AHT20 temperature/humidity sensor as a runtime
// component. The whole measurement cycle is scheduler-driven and never
// blocks the loop: probing retries with backoff, a trigger write starts the
// conversion, and collection is polled on short timeouts until the device
// reports ready.
package aht20

import (
	"time"

	"tinygo.org/x/drivers"

	"firmcore-go/bus"
	"firmcore-go/core"
	"firmcore-go/types"
	"firmcore-go/x/timex"
)

// I2C address and protocol bytes (per datasheet).
const (
	Address = 0x38

	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

const (
	probeWait     = 20 * time.Millisecond
	probeAttempts = 5
	probeBackoff  = 2.0

	triggerHint  = 80 * time.Millisecond
	collectWait  = 15 * time.Millisecond
	collectTries = 5
)

type Component struct {
	core.Base

	Bus    *bus.Bus
	I2C    drivers.I2C
	Addr   uint16
	Period time.Duration // default 10s

	buf [7]byte // reused read buffer, no allocation per sample
}

func New(b *bus.Bus, i2c drivers.I2C) *Component {
	return &Component{Bus: b, I2C: i2c, Addr: Address}
}

func (c *Component) LoopSupported() bool { return false }

func (c *Component) SetupPriority() float32 { return core.PriorityData }

func (c *Component) Setup() {
	if c.Period <= 0 {
		c.Period = 10 * time.Second
	}
	c.SetRetry("init", probeWait, probeAttempts, c.probe, probeBackoff)
}

// probe checks the calibration bit and issues the initialise command until
// the device answers, marking the component failed when attempts run out.
func (c *Component) probe(remaining uint8) core.RetryResult {
	var status [1]byte
	err := c.I2C.Tx(c.Addr, []byte{cmdStatus}, status[:])
	if err == nil && status[0]&statusCalibrated != 0 {
		c.SetInterval("measure", c.Period, c.trigger)
		return core.RetryDone
	}
	if remaining == 0 {
		c.MarkFailed("aht20 not responding")
		return core.RetryDone
	}
	// Kick initialisation and let the retry backoff provide the settle time.
	c.I2C.Tx(c.Addr, []byte{cmdInitialize, 0x08, 0x00}, nil)
	return core.Retry
}

// trigger starts one conversion; the result is collected after the nominal
// conversion time.
func (c *Component) trigger() {
	if err := c.I2C.Tx(c.Addr, []byte{cmdTrigger, 0x33, 0x00}, nil); err != nil {
		c.StatusMomentaryWarning("warn_trigger", 5*time.Second)
		return
	}
	c.SetTimeout("collect_start", triggerHint, func() {
		c.SetRetry("collect", collectWait, collectTries, c.collect, 1.0)
	})
}

func (c *Component) collect(remaining uint8) core.RetryResult {
	data := c.buf[:]
	if err := c.I2C.Tx(c.Addr, nil, data); err != nil {
		c.StatusMomentaryWarning("warn_collect", 5*time.Second)
		return core.RetryDone
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		if remaining == 0 {
			c.StatusMomentaryWarning("warn_collect", 5*time.Second)
		}
		return core.Retry // conversion still running, poll again
	}

	hraw := (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	traw := (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])

	c.StatusClearWarning()
	c.publish(types.Environment{
		DeciCelsius:     ((int32(traw) * 2000) / 0x100000) - 500,
		DeciRelHumidity: (int32(hraw) * 1000) / 0x100000,
		TS:              timex.NowMs(),
	})
	return core.RetryDone
}

func (c *Component) publish(env types.Environment) {
	c.Bus.Publish(c.Bus.NewMessage(
		bus.T("component", c.Name(), "value"),
		env,
		true,
	))
}

func (c *Component) DumpConfig() string {
	return "Info:   aht20 i2c addr 0x38, period " + c.Period.String()
}
