package board

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/mscfs/pkg"
)

// HeartbeatPeriod is the default time between LED toggles.
const HeartbeatPeriod = time.Second

// LED is an on/off indicator.
type LED interface {
	Set(on bool)
}

// LogLED is an LED that logs its state changes, for hosts without one.
type LogLED struct {
	Name string
}

// Set logs the new state at debug level.
func (l LogLED) Set(on bool) {
	pkg.LogDebug(pkg.ComponentBoard, "led", "name", l.Name, "on", on)
}

// Heartbeat blinks an LED to show the application loop is alive.
type Heartbeat struct {
	led     LED
	period  time.Duration
	on      atomic.Bool
	toggles atomic.Uint64
}

// NewHeartbeat creates a heartbeat toggling led every period. A nil led
// disables the heartbeat and a non-positive period selects
// HeartbeatPeriod.
func NewHeartbeat(led LED, period time.Duration) *Heartbeat {
	if period <= 0 {
		period = HeartbeatPeriod
	}
	return &Heartbeat{led: led, period: period}
}

// Run toggles the LED until ctx is done and leaves it off.
func (h *Heartbeat) Run(ctx context.Context) error {
	if h.led == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	defer h.led.Set(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			on := !h.on.Load()
			h.on.Store(on)
			h.led.Set(on)
			h.toggles.Add(1)
		}
	}
}

// On reports the last state written to the LED.
func (h *Heartbeat) On() bool {
	return h.on.Load()
}

// Toggles returns the number of state changes so far.
func (h *Heartbeat) Toggles() uint64 {
	return h.toggles.Load()
}
