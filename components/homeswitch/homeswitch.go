// Package homeswitch reads the home-position limit switch.
//
// The switch is the only absolute position reference the disc has. The
// default wiring is a normally-open switch to ground with a pull-up, so the
// line reads low while pressed.
package homeswitch

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

// Config describes the switch wiring.
type Config struct {
	Pin string `json:"pin"`

	// ActiveLow matches pull-up wiring (pressed reads low); set to false for
	// a pull-down arrangement.
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

// Switch polls the limit switch line.
type Switch struct {
	pin    board.GPIOPin
	logger golog.Logger
	clk    clock.Clock

	activeLow    bool
	pollInterval time.Duration
}

// New wires the switch.
func New(b board.Board, cfg Config, logger golog.Logger) (*Switch, error) {
	pin, err := b.GPIOPinByName(cfg.Pin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get home switch pin")
	}
	activeLow := true
	if cfg.ActiveLow != nil {
		activeLow = *cfg.ActiveLow
	}
	poll := cfg.PollIntervalMsec
	if poll == 0 {
		poll = defaultPollIntervalMsec
	}
	return &Switch{
		pin:          pin,
		logger:       logger,
		clk:          clock.New(),
		activeLow:    activeLow,
		pollInterval: time.Duration(poll) * time.Millisecond,
	}, nil
}

// Active reports whether the switch is currently pressed.
func (s *Switch) Active(ctx context.Context) (bool, error) {
	high, err := s.pin.Get(ctx)
	if err != nil {
		return false, errors.Wrap(err, "couldn't read home switch")
	}
	return high != s.activeLow, nil
}

// WaitForActivation polls until the switch is pressed or the timeout
// elapses, returning whether it activated.
func (s *Switch) WaitForActivation(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := s.clk.Now().Add(timeout)
	for {
		active, err := s.Active(ctx)
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
		if s.clk.Now().After(deadline) {
			return false, nil
		}
		if !utils.SelectContextOrWait(ctx, s.clk, s.pollInterval) {
			return false, ctx.Err()
		}
	}
}
