//go:build tinygo

package board

import "machine"

// PinLED drives an LED on a GPIO pin.
type PinLED struct {
	pin machine.Pin
}

// NewPinLED configures pin as an output and returns its LED.
func NewPinLED(pin machine.Pin) PinLED {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return PinLED{pin: pin}
}

// Set drives the pin high for on.
func (l PinLED) Set(on bool) {
	l.pin.Set(on)
}

// DefaultLED returns the on-board LED.
func DefaultLED() LED {
	return NewPinLED(machine.LED)
}
