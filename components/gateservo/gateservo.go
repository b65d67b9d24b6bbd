// Package gateservo moves the release gate servo through a bounded
// microsecond range.
//
// The gate never jumps: every move walks toward the target in small
// microsecond increments with a delay between writes, which keeps the arm
// from shocking a pill loose at the wrong moment. Dispensing uses a full
// min-max-min sweep to dislodge pills stuck against the pickup.
package gateservo

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mediwheel/dispenser/board"
	"github.com/mediwheel/dispenser/utils"
)

// Config describes the gate servo and its safe travel.
type Config struct {
	Pin string `json:"pin"`

	// Absolute pulse range of the servo, plus a margin backed off from both
	// hard stops to avoid stalling against them.
	MinUsec       int `json:"min_usec,omitempty"`
	MaxUsec       int `json:"max_usec,omitempty"`
	EndMarginUsec int `json:"end_margin_usec,omitempty"`

	// Gradual motion parameters.
	StepUsec      int `json:"step_usec,omitempty"`       // increment per write
	StepDelayMsec int `json:"step_delay_msec,omitempty"` // delay between writes
	DwellMsec     int `json:"dwell_msec,omitempty"`      // hold at the far end of a sweep
}

// Defaults match the bench-calibrated gate hardware.
const (
	defaultMinUsec       = 150
	defaultMaxUsec       = 2100
	defaultStepUsec      = 60
	defaultStepDelayMsec = 1
	defaultDwellMsec     = 500
	defaultFreqHz        = 50
)

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if cfg.MinUsec < 0 || cfg.MaxUsec < 0 || cfg.EndMarginUsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("pulse widths cannot be negative"))
	}
	min, max := cfg.MinUsec, cfg.MaxUsec
	if min == 0 {
		min = defaultMinUsec
	}
	if max == 0 {
		max = defaultMaxUsec
	}
	if min+cfg.EndMarginUsec >= max-cfg.EndMarginUsec {
		return goutils.NewConfigValidationError(path, errors.New("servo safe range is empty"))
	}
	if cfg.StepUsec < 0 || cfg.StepDelayMsec < 0 || cfg.DwellMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("motion parameters cannot be negative"))
	}
	return nil
}

// Servo drives the release gate.
type Servo struct {
	pin    board.GPIOPin
	logger golog.Logger
	clk    clock.Clock

	minSafeUs int
	maxSafeUs int
	stepUs    int
	stepDelay time.Duration
	dwell     time.Duration
	freqHz    uint

	currUs int
}

// New wires the servo and leaves it at the rest (minimum safe) position.
func New(ctx context.Context, b board.Board, cfg Config, logger golog.Logger) (*Servo, error) {
	pin, err := b.GPIOPinByName(cfg.Pin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get servo pin")
	}

	min, max := cfg.MinUsec, cfg.MaxUsec
	if min == 0 {
		min = defaultMinUsec
	}
	if max == 0 {
		max = defaultMaxUsec
	}
	stepUs := cfg.StepUsec
	if stepUs == 0 {
		stepUs = defaultStepUsec
	}
	stepDelay := cfg.StepDelayMsec
	if stepDelay == 0 {
		stepDelay = defaultStepDelayMsec
	}
	dwell := cfg.DwellMsec
	if dwell == 0 {
		dwell = defaultDwellMsec
	}

	s := &Servo{
		pin:       pin,
		logger:    logger,
		clk:       clock.New(),
		minSafeUs: min + cfg.EndMarginUsec,
		maxSafeUs: max - cfg.EndMarginUsec,
		stepUs:    stepUs,
		stepDelay: time.Duration(stepDelay) * time.Millisecond,
		dwell:     time.Duration(dwell) * time.Millisecond,
	}

	s.freqHz, err = pin.PWMFreq(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get servo pin pwm frequency")
	}
	if s.freqHz == 0 {
		if err := pin.SetPWMFreq(ctx, defaultFreqHz); err != nil {
			return nil, errors.Wrap(err, "couldn't set servo pin pwm frequency")
		}
		s.freqHz = defaultFreqHz
	}

	s.currUs = s.minSafeUs
	if err := s.write(ctx, s.currUs); err != nil {
		return nil, errors.Wrap(err, "couldn't move servo to rest position")
	}
	return s, nil
}

// MinSafe and MaxSafe are the usable travel endpoints.
func (s *Servo) MinSafe() int { return s.minSafeUs }

// MaxSafe is the far usable travel endpoint.
func (s *Servo) MaxSafe() int { return s.maxSafeUs }

// CurrentMicroseconds reports the last commanded position.
func (s *Servo) CurrentMicroseconds() int { return s.currUs }

// MoveTo walks the gate to the target pulse width, clamped to the safe
// range, stepping gradually.
func (s *Servo) MoveTo(ctx context.Context, targetUs int) error {
	if targetUs < s.minSafeUs {
		targetUs = s.minSafeUs
	}
	if targetUs > s.maxSafeUs {
		targetUs = s.maxSafeUs
	}

	step := s.stepUs
	if targetUs < s.currUs {
		step = -step
	}

	for us := s.currUs; us != targetUs; {
		next := us + step
		if (step > 0 && next > targetUs) || (step < 0 && next < targetUs) {
			break
		}
		if err := s.write(ctx, next); err != nil {
			return err
		}
		us = next
		if !utils.SelectContextOrWait(ctx, s.clk, s.stepDelay) {
			return ctx.Err()
		}
	}

	// Land exactly on target in case the step size didn't divide evenly.
	if err := s.write(ctx, targetUs); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, s.clk, s.stepDelay) {
		return ctx.Err()
	}
	return nil
}

// Rest returns the gate to the minimum safe position.
func (s *Servo) Rest(ctx context.Context) error {
	return s.MoveTo(ctx, s.minSafeUs)
}

// FullSweep runs the gate through its entire safe arc and back: min to max,
// dwell, max to min. Used per dispense attempt to dislodge a stuck pill.
func (s *Servo) FullSweep(ctx context.Context) error {
	if err := s.MoveTo(ctx, s.minSafeUs); err != nil {
		return err
	}
	if err := s.MoveTo(ctx, s.maxSafeUs); err != nil {
		return err
	}
	if !utils.SelectContextOrWait(ctx, s.clk, s.dwell) {
		return ctx.Err()
	}
	return s.MoveTo(ctx, s.minSafeUs)
}

func (s *Servo) write(ctx context.Context, us int) error {
	period := 1.0 / float64(s.freqHz)
	pct := (float64(us) / (1000 * 1000)) / period
	if err := s.pin.SetPWM(ctx, pct); err != nil {
		return errors.Wrap(err, "couldn't move the servo")
	}
	s.currUs = us
	return nil
}
