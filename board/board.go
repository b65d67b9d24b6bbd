// Package board abstracts the GPIO hardware the dispenser is wired to.
//
// A Board hands out GPIOPins for actuator and sensor lines and
// DigitalInterrupts for edge-counting inputs (the diagnostic encoder).
// Implementations live in the fake, linux and firmata subpackages.
package board

import (
	"context"
)

// A Board is a collection of GPIO pins and interrupt lines.
type Board interface {
	// GPIOPinByName returns the GPIO pin with the given name.
	GPIOPinByName(name string) (GPIOPin, error)

	// DigitalInterruptByName returns the digital interrupt with the given name.
	DigitalInterruptByName(name string) (DigitalInterrupt, error)

	// Close shuts the board down and releases any claimed lines.
	Close(ctx context.Context) error
}

// A GPIOPin represents an individual GPIO pin on a board.
type GPIOPin interface {
	// Set sets the pin to either low or high.
	Set(ctx context.Context, high bool) error

	// Get gets the high/low state of the pin.
	Get(ctx context.Context) (bool, error)

	// PWM gets the pin's given duty cycle.
	PWM(ctx context.Context) (float64, error)

	// SetPWM sets the pin to the given duty cycle.
	SetPWM(ctx context.Context, dutyCyclePct float64) error

	// PWMFreq gets the PWM frequency of the pin.
	PWMFreq(ctx context.Context) (uint, error)

	// SetPWMFreq sets the given pin to the given PWM frequency. 0 will use the
	// board's default PWM frequency.
	SetPWMFreq(ctx context.Context, freqHz uint) error
}

// Tick represents one digital interrupt event.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// A DigitalInterrupt represents a configured interrupt on the board.
type DigitalInterrupt interface {
	// Name returns the name of the interrupt.
	Name() string

	// Value returns the current observation count of the interrupt.
	Value(ctx context.Context) (int64, error)

	// Tick is to be called either manually if the interrupt is a proxy to some
	// real hardware interrupt or for tests.
	Tick(ctx context.Context, high bool, nanosec uint64) error

	// AddCallback adds a callback to be sent a low/high value on Tick.
	AddCallback(ch chan Tick)

	// RemoveCallback removes a listener for interrupts.
	RemoveCallback(ch chan Tick)
}
