// Package stepper drives the disc's stepper motor through GPIO step and
// direction lines.
//
// Pulses are symmetric: the step line is held high for one pulse width and
// low for the same time, so one step takes twice the pulse width. Speed is
// set per call by the pulse width, clamped to the configured safe bounds.
// This is the only package that talks to the motor.
package stepper

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mediwheel/dispenser/board"
	"github.com/mediwheel/dispenser/utils"
)

// PinConfig defines where the motor driver is wired.
type PinConfig struct {
	Step          string `json:"step"`
	Direction     string `json:"dir"`
	EnablePinHigh string `json:"en_high,omitempty"`
	EnablePinLow  string `json:"en_low,omitempty"`
}

// Config describes the motor and its drive train.
type Config struct {
	Pins               PinConfig `json:"pins"`
	StepsPerRevolution int       `json:"steps_per_revolution"`
	Microstepping      int       `json:"microstepping,omitempty"`
	GearRatio          float64   `json:"gear_ratio,omitempty"`

	// Symmetric pulse timing, in microseconds. PulseWidthUsec is the default
	// speed; Min/Max bound every requested width.
	PulseWidthUsec    int `json:"pulse_width_usec,omitempty"`
	MinPulseWidthUsec int `json:"min_pulse_width_usec,omitempty"`
	MaxPulseWidthUsec int `json:"max_pulse_width_usec,omitempty"`

	// ForwardIsHigh sets the direction pin polarity; most drivers step
	// clockwise when DIR is high, which is the default.
	ForwardIsHigh *bool `json:"forward_is_high,omitempty"`
}

// Defaults match a 1.8 degree motor on a common driver breakout.
const (
	defaultPulseWidthUsec    = 15000
	defaultMinPulseWidthUsec = 10000
	defaultMaxPulseWidthUsec = 50000
)

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pins.Step == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pins.step")
	}
	if cfg.Pins.Direction == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pins.dir")
	}
	if cfg.StepsPerRevolution <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "steps_per_revolution")
	}
	if cfg.Microstepping < 0 {
		return goutils.NewConfigValidationError(path, errors.New("microstepping cannot be negative"))
	}
	if cfg.GearRatio < 0 {
		return goutils.NewConfigValidationError(path, errors.New("gear_ratio cannot be negative"))
	}
	if cfg.MinPulseWidthUsec < 0 || cfg.MaxPulseWidthUsec < 0 || cfg.PulseWidthUsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("pulse widths cannot be negative"))
	}
	if cfg.MinPulseWidthUsec > 0 && cfg.MaxPulseWidthUsec > 0 && cfg.MinPulseWidthUsec > cfg.MaxPulseWidthUsec {
		return goutils.NewConfigValidationError(path, errors.New("min_pulse_width_usec exceeds max_pulse_width_usec"))
	}
	return nil
}

// Motor generates step pulses. It keeps no position state of its own; the
// caller accounts for every step through the values Move returns.
type Motor struct {
	stepPin, dirPin             board.GPIOPin
	enablePinHigh, enablePinLow board.GPIOPin

	totalStepsPerRev int64
	pulseWidth       time.Duration
	minPulseWidth    time.Duration
	maxPulseWidth    time.Duration
	forwardIsHigh    bool

	clk    clock.Clock
	logger golog.Logger
}

// New wires a Motor to the given board.
func New(b board.Board, cfg Config, logger golog.Logger) (*Motor, error) {
	micro := cfg.Microstepping
	if micro == 0 {
		micro = 1
	}
	gear := cfg.GearRatio
	if gear == 0 {
		gear = 1.0
	}
	pw := cfg.PulseWidthUsec
	if pw == 0 {
		pw = defaultPulseWidthUsec
	}
	minPW := cfg.MinPulseWidthUsec
	if minPW == 0 {
		minPW = defaultMinPulseWidthUsec
	}
	maxPW := cfg.MaxPulseWidthUsec
	if maxPW == 0 {
		maxPW = defaultMaxPulseWidthUsec
	}
	forwardIsHigh := true
	if cfg.ForwardIsHigh != nil {
		forwardIsHigh = *cfg.ForwardIsHigh
	}

	m := &Motor{
		totalStepsPerRev: int64(math.Round(float64(cfg.StepsPerRevolution) * float64(micro) * gear)),
		pulseWidth:       time.Duration(pw) * time.Microsecond,
		minPulseWidth:    time.Duration(minPW) * time.Microsecond,
		maxPulseWidth:    time.Duration(maxPW) * time.Microsecond,
		forwardIsHigh:    forwardIsHigh,
		clk:              clock.New(),
		logger:           logger,
	}
	if m.totalStepsPerRev <= 0 {
		return nil, errors.New("drive train yields no steps per revolution")
	}

	var err error
	if m.stepPin, err = b.GPIOPinByName(cfg.Pins.Step); err != nil {
		return nil, errors.Wrap(err, "couldn't get step pin")
	}
	if m.dirPin, err = b.GPIOPinByName(cfg.Pins.Direction); err != nil {
		return nil, errors.Wrap(err, "couldn't get dir pin")
	}
	if cfg.Pins.EnablePinHigh != "" {
		if m.enablePinHigh, err = b.GPIOPinByName(cfg.Pins.EnablePinHigh); err != nil {
			return nil, errors.Wrap(err, "couldn't get enable-high pin")
		}
	}
	if cfg.Pins.EnablePinLow != "" {
		if m.enablePinLow, err = b.GPIOPinByName(cfg.Pins.EnablePinLow); err != nil {
			return nil, errors.Wrap(err, "couldn't get enable-low pin")
		}
	}
	return m, nil
}

// TotalStepsPerRevolution returns the full-revolution step count after
// microstepping and gearing.
func (m *Motor) TotalStepsPerRevolution() int64 {
	return m.totalStepsPerRev
}

// StepsForAngle converts an angle to a step count under the drive train.
func (m *Motor) StepsForAngle(angleDeg float64) int64 {
	return int64((angleDeg / 360.0) * float64(m.totalStepsPerRev))
}

// DefaultPulseWidth is the configured cruising pulse width.
func (m *Motor) DefaultPulseWidth() time.Duration {
	return m.pulseWidth
}

// ClampPulseWidth bounds a requested pulse width to the configured safe
// range, logging when it has to adjust.
func (m *Motor) ClampPulseWidth(pw time.Duration) time.Duration {
	clamped := utils.ClampDuration(pw, m.minPulseWidth, m.maxPulseWidth)
	if clamped != pw {
		m.logger.Debugf("step pulse width %v adjusted to %v (limits %v-%v)",
			pw, clamped, m.minPulseWidth, m.maxPulseWidth)
	}
	return clamped
}

// Enable sets the direction line and powers the driver. Call Stop when the
// move is done; every exit path should leave the motor disabled.
func (m *Motor) Enable(ctx context.Context, forward bool) error {
	if err := m.dirPin.Set(ctx, forward == m.forwardIsHigh); err != nil {
		return errors.Wrap(err, "couldn't set dir pin")
	}
	return m.setEnabled(ctx, true)
}

// Step emits one symmetric pulse at the given width. The driver must be
// enabled. Returns an error if the context is cancelled mid-pulse.
func (m *Motor) Step(ctx context.Context, pulseWidth time.Duration) error {
	pw := m.ClampPulseWidth(pulseWidth)
	if err := m.stepPin.Set(ctx, true); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, m.clk, pw) {
		return ctx.Err()
	}
	if err := m.stepPin.Set(ctx, false); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, m.clk, pw) {
		return ctx.Err()
	}
	return nil
}

// Move drives the given signed number of steps at the given pulse width and
// returns the signed steps actually moved. The driver is disabled again
// before returning, on every path.
func (m *Motor) Move(ctx context.Context, steps int64, pulseWidth time.Duration) (moved int64, err error) {
	if steps == 0 {
		return 0, nil
	}
	forward := steps > 0
	count := utils.AbsInt64(steps)

	if err := m.Enable(ctx, forward); err != nil {
		return 0, err
	}
	defer func() {
		if stopErr := m.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	for i := int64(0); i < count; i++ {
		if err := m.Step(ctx, pulseWidth); err != nil {
			return signed(i, forward), err
		}
		moved = signed(i+1, forward)
	}
	return moved, nil
}

// Stop forces the step line low and disables the driver.
func (m *Motor) Stop(ctx context.Context) error {
	if err := m.stepPin.Set(ctx, false); err != nil {
		return err
	}
	return m.setEnabled(ctx, false)
}

func (m *Motor) setEnabled(ctx context.Context, on bool) error {
	if m.enablePinHigh != nil {
		return m.enablePinHigh.Set(ctx, on)
	}
	if m.enablePinLow != nil {
		return m.enablePinLow.Set(ctx, !on)
	}
	return nil
}

func signed(n int64, forward bool) int64 {
	if forward {
		return n
	}
	return -n
}
