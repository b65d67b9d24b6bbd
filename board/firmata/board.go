// Package firmata implements the actuator side of the dispenser board on an
// Arduino running Firmata, for bench rigs driven over a serial link.
//
// The Firmata client is write-only from our side: output pins and PWM work,
// but Get and digital interrupts report errors. Sensor lines on a bench rig
// belong on a board that can read (see the linux package).
package firmata

import (
	"context"
	"strconv"
	"sync"

	"github.com/edaniels/golog"
	firmata "github.com/kraman/go-firmata"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mediwheel/dispenser/board"
)

// Config describes the serial link to the Arduino.
type Config struct {
	Device string `json:"device"` // e.g. /dev/ttyACM0
	Baud   int    `json:"baud,omitempty"`
}

// DefaultBaud matches the standard Firmata sketch.
const DefaultBaud = 57600

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Device == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "device")
	}
	return nil
}

// Board talks to an Arduino over Firmata. Pin names are Arduino pin numbers.
type Board struct {
	logger golog.Logger
	client *firmata.FirmataClient

	mu    sync.Mutex
	modes map[uint8]firmata.PinMode
}

// NewBoard opens the serial link and handshakes with the Firmata sketch.
func NewBoard(ctx context.Context, conf Config, logger golog.Logger) (*Board, error) {
	baud := conf.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	client, err := firmata.NewClient(conf.Device, baud)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to firmata device %s", conf.Device)
	}
	return &Board{
		logger: logger,
		client: client,
		modes:  map[uint8]firmata.PinMode{},
	}, nil
}

// GPIOPinByName returns the Arduino pin with the given number.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	num, err := strconv.ParseUint(name, 10, 8)
	if err != nil {
		return nil, errors.Wrapf(err, "firmata pin names are arduino pin numbers, got %q", name)
	}
	return &firmataPin{b: b, pin: uint8(num)}, nil
}

// DigitalInterruptByName is unsupported; Firmata has no edge events.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	return nil, errors.New("firmata boards do not support digital interrupts")
}

// Close shuts down the serial link.
func (b *Board) Close(ctx context.Context) error {
	b.client.Close()
	return nil
}

func (b *Board) ensureMode(pin uint8, mode firmata.PinMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modes[pin] == mode {
		return
	}
	b.client.SetPinMode(pin, mode)
	b.modes[pin] = mode
}

type firmataPin struct {
	b   *Board
	pin uint8

	mu   sync.Mutex
	high bool
	pwm  float64
}

// Set sets the pin to either low or high.
func (fp *firmataPin) Set(ctx context.Context, high bool) error {
	fp.b.ensureMode(fp.pin, firmata.Output)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.b.client.DigitalWrite(fp.pin, high)
	fp.high = high
	fp.pwm = 0
	return nil
}

// Get reports the last value written; the client cannot read pins back.
func (fp *firmataPin) Get(ctx context.Context) (bool, error) {
	return false, errors.New("firmata pins are write-only; wire sensors to a readable board")
}

// PWM gets the pin's given duty cycle.
func (fp *firmataPin) PWM(ctx context.Context) (float64, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.pwm, nil
}

// SetPWM sets the pin to the given duty cycle through AnalogWrite.
func (fp *firmataPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	if dutyCyclePct < 0 || dutyCyclePct > 1 {
		return errors.Errorf("duty cycle pct should be between 0 and 1, got %f", dutyCyclePct)
	}
	fp.b.ensureMode(fp.pin, firmata.PWM)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.b.client.AnalogWrite(uint(fp.pin), byte(dutyCyclePct*255))
	fp.pwm = dutyCyclePct
	return nil
}

// PWMFreq is fixed by the Arduino timers.
func (fp *firmataPin) PWMFreq(ctx context.Context) (uint, error) {
	return 490, nil
}

// SetPWMFreq is unsupported; Arduino PWM frequency is fixed by the sketch.
func (fp *firmataPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	return errors.New("firmata PWM frequency is fixed by the sketch")
}
