// Package irsensor reads the infrared pill-drop detector.
//
// Detection is edge based: a pill falling through the beam produces an
// inactive-to-active transition of the sensed state. Level reads alone are
// not trusted because a pill resting in the chute would read active forever.
package irsensor

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

// Config describes the IR detector wiring.
type Config struct {
	Pin string `json:"pin"`

	// ActiveLow matches the common IR break-beam modules, which pull the
	// line low while the beam is interrupted.
	ActiveLow *bool `json:"active_low,omitempty"`

	PollIntervalMsec int `json:"poll_interval_msec,omitempty"`
}

const defaultPollIntervalMsec = 10

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if cfg.PollIntervalMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("poll_interval_msec cannot be negative"))
	}
	return nil
}

// Sensor polls the IR detector line.
type Sensor struct {
	pin    board.GPIOPin
	logger golog.Logger
	clk    clock.Clock

	activeLow    bool
	pollInterval time.Duration
}

// New wires the sensor.
func New(b board.Board, cfg Config, logger golog.Logger) (*Sensor, error) {
	pin, err := b.GPIOPinByName(cfg.Pin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get IR sensor pin")
	}
	activeLow := true
	if cfg.ActiveLow != nil {
		activeLow = *cfg.ActiveLow
	}
	poll := cfg.PollIntervalMsec
	if poll == 0 {
		poll = defaultPollIntervalMsec
	}
	return &Sensor{
		pin:          pin,
		logger:       logger,
		clk:          clock.New(),
		activeLow:    activeLow,
		pollInterval: time.Duration(poll) * time.Millisecond,
	}, nil
}

// Detecting reports whether the beam is currently interrupted.
func (s *Sensor) Detecting(ctx context.Context) (bool, error) {
	high, err := s.pin.Get(ctx)
	if err != nil {
		return false, errors.Wrap(err, "couldn't read IR sensor")
	}
	return high != s.activeLow, nil
}

// WaitForDetection polls for an inactive-to-active transition until the
// timeout elapses, returning whether one was seen.
func (s *Sensor) WaitForDetection(ctx context.Context, timeout time.Duration) (bool, error) {
	n, err := s.CountDetections(ctx, timeout, true)
	return n > 0, err
}

// CountDetections polls for the given duration and counts
// inactive-to-active transitions. With stopAtFirst set it returns as soon as
// one is seen.
func (s *Sensor) CountDetections(ctx context.Context, window time.Duration, stopAtFirst bool) (int, error) {
	last, err := s.Detecting(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	deadline := s.clk.Now().Add(window)
	for s.clk.Now().Before(deadline) {
		if !utils.SelectContextOrWait(ctx, s.clk, s.pollInterval) {
			return count, ctx.Err()
		}
		curr, err := s.Detecting(ctx)
		if err != nil {
			return count, err
		}
		if curr && !last {
			count++
			if stopAtFirst {
				return count, nil
			}
		}
		last = curr
	}
	return count, nil
}
