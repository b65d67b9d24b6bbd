// Package magnet switches the electromagnet pickup on and off.
package magnet

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

// Config describes the electromagnet wiring and settle times.
type Config struct {
	Pin string `json:"pin"`

	// Stabilization time after switching on, and release time after
	// switching off. The pickup needs both before the next motion.
	ActivationDelayMsec   int `json:"activation_delay_msec,omitempty"`
	DeactivationDelayMsec int `json:"deactivation_delay_msec,omitempty"`
}

const defaultSettleDelayMsec = 200

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if cfg.ActivationDelayMsec < 0 || cfg.DeactivationDelayMsec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("settle delays cannot be negative"))
	}
	return nil
}

// Magnet is the pickup electromagnet.
type Magnet struct {
	pin    board.GPIOPin
	logger golog.Logger
	clk    clock.Clock

	activationDelay   time.Duration
	deactivationDelay time.Duration
	active            bool
}

// New wires the magnet and makes sure it starts off.
func New(ctx context.Context, b board.Board, cfg Config, logger golog.Logger) (*Magnet, error) {
	pin, err := b.GPIOPinByName(cfg.Pin)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get electromagnet pin")
	}

	actDelay := cfg.ActivationDelayMsec
	if actDelay == 0 {
		actDelay = defaultSettleDelayMsec
	}
	deactDelay := cfg.DeactivationDelayMsec
	if deactDelay == 0 {
		deactDelay = defaultSettleDelayMsec
	}

	m := &Magnet{
		pin:               pin,
		logger:            logger,
		clk:               clock.New(),
		activationDelay:   time.Duration(actDelay) * time.Millisecond,
		deactivationDelay: time.Duration(deactDelay) * time.Millisecond,
	}
	if err := pin.Set(ctx, false); err != nil {
		return nil, errors.Wrap(err, "couldn't drive electromagnet pin low")
	}
	return m, nil
}

// Activate energizes the magnet and waits for the field to stabilize.
func (m *Magnet) Activate(ctx context.Context) error {
	if err := m.pin.Set(ctx, true); err != nil {
		return errors.Wrap(err, "couldn't activate electromagnet")
	}
	m.active = true
	if !utils.SelectContextOrWait(ctx, m.clk, m.activationDelay) {
		return ctx.Err()
	}
	return nil
}

// Deactivate releases the magnet and waits for the pill to drop clear.
func (m *Magnet) Deactivate(ctx context.Context) error {
	if err := m.pin.Set(ctx, false); err != nil {
		return errors.Wrap(err, "couldn't deactivate electromagnet")
	}
	m.active = false
	if !utils.SelectContextOrWait(ctx, m.clk, m.deactivationDelay) {
		return ctx.Err()
	}
	return nil
}

// Active reports whether the magnet is currently energized.
func (m *Magnet) Active() bool {
	return m.active
}
