// cmd/loopdemo/main.go
//
// Host-side demo: an Application hosting the example components, with a
// simulated button interrupt source and a simulated AHT20 on a fake I2C
// bus. Subscribes to the status bus and prints everything it sees.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firmcore-go/bus"
	"firmcore-go/components/aht20"
	"firmcore-go/components/button"
	"firmcore-go/components/uptime"
	"firmcore-go/core"
	"firmcore-go/types"
)

// ---------- Configuration ----------

const (
	loopInterval   = 16 * time.Millisecond
	samplePeriod   = 2 * time.Second
	uptimePeriod   = 5 * time.Second
	buttonCadence  = 3 * time.Second
	pressHoldTime  = 120 * time.Millisecond
	shutdownBudget = 500 * time.Millisecond
)

func main() {
	println("boot")

	b := bus.New(32)
	app, err := core.New(core.Config{
		LoopInterval:    loopInterval,
		TeardownTimeout: shutdownBudget,
		Bus:             b,
	})
	if err != nil {
		println("Error: init:", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	up := uptime.New(b)
	up.Period = uptimePeriod
	app.Register("uptime", up)

	env := aht20.New(b, newSimI2C())
	env.Period = samplePeriod
	app.Register("aht20", env)

	btn := button.New(b)
	app.Register("button", btn)

	app.Setup()
	app.DumpConfig()

	// Simulated interrupt source: a press/release pair every few seconds.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go pressButton(ctx, btn)
	go printBus(ctx, b)

	app.RunForever(ctx)

	println("Info: shutting down")
	app.Shutdown()
}

func pressButton(ctx context.Context, btn *button.Component) {
	tick := time.NewTicker(buttonCadence)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			btn.OnPinChange(true)
			time.Sleep(pressHoldTime)
			btn.OnPinChange(false)
		}
	}
}

func printBus(ctx context.Context, b *bus.Bus) {
	status := b.Subscribe(bus.T("component", bus.Wildcard, "status"))
	values := b.Subscribe(bus.T("component", bus.Wildcard, "value"))
	defer status.Unsubscribe()
	defer values.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-status.Channel():
			st := msg.Payload.(types.ComponentStatus)
			println("Info:", msg.Topic.String(), "state:", st.State)
		case msg := <-values.Channel():
			switch v := msg.Payload.(type) {
			case types.Environment:
				println("Info:", msg.Topic.String(),
					"temp(dC):", v.DeciCelsius, "rh(d%):", v.DeciRelHumidity)
			case types.Uptime:
				println("Info:", msg.Topic.String(), "uptime(s):", v.Seconds)
			case types.ButtonEvent:
				println("Info:", msg.Topic.String(), "pressed:", v.Pressed)
			}
		}
	}
}
