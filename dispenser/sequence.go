package dispenser

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/mediwheel/dispenser/components/gateservo"
	"github.com/mediwheel/dispenser/components/irsensor"
	"github.com/mediwheel/dispenser/components/magnet"
)

// A DispenseSequencer runs the pickup-and-release cycle for whatever
// compartment the disc is currently aligned with.
//
// An attempt is: energize the magnet, sweep the gate through its full arc
// to shake the pill onto the chute, then watch the drop detector. Success
// is a detector edge inside the window, never a bare level read. The magnet
// is released on every exit path.
type DispenseSequencer struct {
	gate *gateservo.Servo
	mag  *magnet.Magnet
	ir   *irsensor.Sensor

	maxAttempts     int
	detectionWindow time.Duration
	interAttempt    time.Duration

	clk    clock.Clock
	logger golog.Logger
}

// NewDispenseSequencer applies defaults and wires the sequencer.
func NewDispenseSequencer(
	gate *gateservo.Servo,
	mag *magnet.Magnet,
	ir *irsensor.Sensor,
	cfg DispenseConfig,
	logger golog.Logger,
) *DispenseSequencer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultDispenseMaxAttempts
	}
	windowMs := cfg.DetectionWindowMsec
	if windowMs == 0 {
		windowMs = defaultDetectionWindowMsec
	}
	interMs := cfg.InterAttemptDelayMsec
	if interMs == 0 {
		interMs = defaultInterAttemptDelayMsec
	}
	return &DispenseSequencer{
		gate:            gate,
		mag:             mag,
		ir:              ir,
		maxAttempts:     maxAttempts,
		detectionWindow: time.Duration(windowMs) * time.Millisecond,
		interAttempt:    time.Duration(interMs) * time.Millisecond,
		clk:             clock.New(),
		logger:          logger,
	}
}

// AttemptOne runs a single pickup-and-release cycle and reports whether a
// pill crossed the drop detector.
func (ds *DispenseSequencer) AttemptOne(ctx context.Context) (detected bool, err error) {
	if err := ds.mag.Activate(ctx); err != nil {
		return false, err
	}
	defer func() {
		// Release and re-park no matter how the attempt went; pin the magnet
		// cleanup to a fresh context so cancellation can't leave it energized.
		cleanupCtx := ctx
		if ctx.Err() != nil {
			var cancel func()
			cleanupCtx, cancel = context.WithTimeout(context.Background(), time.Second)
			defer cancel()
		}
		err = multierr.Combine(err, ds.gate.Rest(cleanupCtx), ds.mag.Deactivate(cleanupCtx))
	}()

	if err := ds.gate.FullSweep(ctx); err != nil {
		return false, err
	}
	return ds.ir.WaitForDetection(ctx, ds.detectionWindow)
}

// Dispense runs attempts until one detects a drop or the budget runs out,
// reporting whether a pill was released.
func (ds *DispenseSequencer) Dispense(ctx context.Context) (bool, error) {
	for attempt := 0; attempt < ds.maxAttempts; attempt++ {
		detected, err := ds.AttemptOne(ctx)
		if err != nil {
			return false, err
		}
		if detected {
			return true, nil
		}
		ds.logger.Debugw("no drop detected", "attempt", attempt+1)
		if attempt < ds.maxAttempts-1 {
			if !waitFor(ctx, ds.clk, ds.interAttempt) {
				return false, ctx.Err()
			}
		}
	}
	return false, nil
}
