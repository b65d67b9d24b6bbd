// Package fake implements an in-memory board for tests.
//
// Output pins record every transition so tests can assert on actuation
// order; input pins replay scripted read sequences and then hold the last
// value, which is how tests simulate a limit switch or IR detector changing
// state partway through a polling loop.
package fake

import (
	"context"
	"sync"

	"github.com/mediwheel/dispenser/board"
)

// A Board provides settable pins and manually tickable interrupts.
type Board struct {
	mu       sync.Mutex
	GPIOPins map[string]*GPIOPin
	Digitals map[string]*board.BasicDigitalInterrupt

	CloseCount int
}

// NewBoard returns an empty fake board. Pins and interrupts are created on
// first lookup.
func NewBoard() *Board {
	return &Board{
		GPIOPins: map[string]*GPIOPin{},
		Digitals: map[string]*board.BasicDigitalInterrupt{},
	}
}

// GPIOPinByName returns the named pin, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.Pin(name), nil
}

// Pin is GPIOPinByName without the interface wrapping, for tests.
func (b *Board) Pin(name string) *GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.GPIOPins[name]
	if !ok {
		p = &GPIOPin{}
		b.GPIOPins[name] = p
	}
	return p
}

// DigitalInterruptByName returns the named interrupt, creating it if needed.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	return b.Interrupt(name), nil
}

// Interrupt is DigitalInterruptByName without the interface wrapping.
func (b *Board) Interrupt(name string) *board.BasicDigitalInterrupt {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.Digitals[name]
	if !ok {
		d = board.NewBasicDigitalInterrupt(name)
		b.Digitals[name] = d
	}
	return d
}

// Close counts calls so tests can verify shutdown.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCount++
	return nil
}

// A GPIOPin reads back the values set on it, unless a read script is queued.
type GPIOPin struct {
	mu      sync.Mutex
	high    bool
	pwm     float64
	pwmFreq uint

	reads  []bool
	setLog []bool
}

// Set sets the pin to either low or high and records the transition.
func (gp *GPIOPin) Set(ctx context.Context, high bool) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.high = high
	gp.pwm = 0
	gp.setLog = append(gp.setLog, high)
	return nil
}

// Get gets the pin state. Scripted reads are consumed first; once the script
// is exhausted the last value holds.
func (gp *GPIOPin) Get(ctx context.Context) (bool, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if len(gp.reads) > 0 {
		gp.high = gp.reads[0]
		gp.reads = gp.reads[1:]
	}
	return gp.high, nil
}

// PWM gets the pin's given duty cycle.
func (gp *GPIOPin) PWM(ctx context.Context) (float64, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.pwm, nil
}

// SetPWM sets the pin to the given duty cycle.
func (gp *GPIOPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.pwm = dutyCyclePct
	return nil
}

// PWMFreq gets the PWM frequency of the pin.
func (gp *GPIOPin) PWMFreq(ctx context.Context) (uint, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.pwmFreq, nil
}

// SetPWMFreq sets the given pin to the given PWM frequency.
func (gp *GPIOPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.pwmFreq = freqHz
	return nil
}

// Hold pins the input level the pin reads at until changed again.
func (gp *GPIOPin) Hold(high bool) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.reads = nil
	gp.high = high
}

// EnqueueReads scripts the next Get results, in order.
func (gp *GPIOPin) EnqueueReads(values ...bool) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.reads = append(gp.reads, values...)
}

// SetLog returns every value passed to Set, in order.
func (gp *GPIOPin) SetLog() []bool {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	out := make([]bool, len(gp.setLog))
	copy(out, gp.setLog)
	return out
}

// RisingSets counts the low-to-high transitions recorded by Set.
func (gp *GPIOPin) RisingSets() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	n := 0
	last := false
	for _, v := range gp.setLog {
		if v && !last {
			n++
		}
		last = v
	}
	return n
}

// ClearLog discards the recorded transitions.
func (gp *GPIOPin) ClearLog() {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.setLog = nil
}
