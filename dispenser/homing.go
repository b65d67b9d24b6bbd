package dispenser

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/mediwheel/dispenser/components/encoder"
	"github.com/mediwheel/dispenser/components/gateservo"
	"github.com/mediwheel/dispenser/components/homeswitch"
	"github.com/mediwheel/dispenser/components/stepper"
)

// A HomingSequencer rotates the disc until the home switch trips,
// establishing the absolute position reference.
//
// Attempts escalate: each retry searches slower and waits longer than the
// one before, on the theory that a missed switch was missed at speed.
type HomingSequencer struct {
	motor   *stepper.Motor
	sw      *homeswitch.Switch
	gate    *gateservo.Servo
	enc     *encoder.Encoder
	tracker *PositionTracker

	maxAttempts    int
	timeout        time.Duration
	timeoutIncr    time.Duration
	pulseWidth     time.Duration
	pulseWidthDecr time.Duration
	backoffSteps   int64
	nudgeSteps     int64
	settle         time.Duration
	retryWait      time.Duration
	nudgeSettle    time.Duration

	clk    clock.Clock
	logger golog.Logger
}

// NewHomingSequencer applies defaults and wires the sequencer. The encoder
// may be nil.
func NewHomingSequencer(
	motor *stepper.Motor,
	sw *homeswitch.Switch,
	gate *gateservo.Servo,
	enc *encoder.Encoder,
	tracker *PositionTracker,
	cfg HomingConfig,
	logger golog.Logger,
) *HomingSequencer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultHomingMaxAttempts
	}
	timeoutMs := cfg.TimeoutMsec
	if timeoutMs == 0 {
		timeoutMs = defaultHomingTimeoutMsec
	}
	timeoutIncrMs := cfg.TimeoutIncrementMsec
	if timeoutIncrMs == 0 {
		timeoutIncrMs = defaultHomingTimeoutIncrMsec
	}
	pw := time.Duration(cfg.PulseWidthUsec) * time.Microsecond
	if pw == 0 {
		pw = motor.DefaultPulseWidth()
	}
	pwDecr := cfg.PulseWidthDecrementUsec
	if pwDecr == 0 {
		pwDecr = defaultHomingPulseWidthDecrUsec
	}
	backoffDeg := cfg.BackoffDeg
	if backoffDeg == 0 {
		backoffDeg = defaultHomingBackoffDeg
	}
	nudgeDeg := cfg.NudgeDeg
	if nudgeDeg == 0 {
		nudgeDeg = defaultHomingNudgeDeg
	}
	settleMs := cfg.SettleMsec
	if settleMs == 0 {
		settleMs = defaultHomingSettleMsec
	}

	return &HomingSequencer{
		motor:          motor,
		sw:             sw,
		gate:           gate,
		enc:            enc,
		tracker:        tracker,
		maxAttempts:    maxAttempts,
		timeout:        time.Duration(timeoutMs) * time.Millisecond,
		timeoutIncr:    time.Duration(timeoutIncrMs) * time.Millisecond,
		pulseWidth:     pw,
		pulseWidthDecr: time.Duration(pwDecr) * time.Microsecond,
		backoffSteps:   motor.StepsForAngle(backoffDeg),
		nudgeSteps:     motor.StepsForAngle(nudgeDeg),
		settle:         time.Duration(settleMs) * time.Millisecond,
		retryWait:      defaultHomingRetryWaitMsec * time.Millisecond,
		nudgeSettle:    defaultHomingNudgeSettleMsec * time.Millisecond,
		clk:            clock.New(),
		logger:         logger,
	}
}

// Home runs the full homing sequence and reports whether the reference was
// established. A false result with a nil error means every attempt timed
// out; the disc position is unknown afterward.
func (h *HomingSequencer) Home(ctx context.Context) (bool, error) {
	// The gate must be clear of the disc before it turns.
	if err := h.gate.Rest(ctx); err != nil {
		return false, errors.Wrap(err, "couldn't rest gate before homing")
	}

	active, err := h.sw.Active(ctx)
	if err != nil {
		return false, err
	}
	if active && h.tracker.Homed() {
		// Already sitting on the switch with a valid reference; just re-zero.
		h.markHomed()
		return true, nil
	}
	if active {
		// Pressed but with no trusted reference. Back off so the approach
		// below trips the switch from a known direction.
		if _, err := h.motor.Move(ctx, -h.backoffSteps, h.pulseWidth); err != nil {
			return false, errors.Wrap(err, "couldn't back off home switch")
		}
	}

	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		pw := h.pulseWidth - time.Duration(attempt)*h.pulseWidthDecr
		pw = h.motor.ClampPulseWidth(pw)
		timeout := h.timeout + time.Duration(attempt)*h.timeoutIncr

		found, err := h.seekSwitch(ctx, pw, timeout)
		if err != nil {
			return false, err
		}
		if found {
			if !waitFor(ctx, h.clk, h.settle) {
				return false, ctx.Err()
			}
			h.markHomed()
			h.logger.Infow("homing complete", "attempt", attempt+1)
			return true, nil
		}

		h.logger.Warnw("homing attempt timed out", "attempt", attempt+1, "timeout", timeout)
		if attempt < h.maxAttempts-1 {
			if !waitFor(ctx, h.clk, h.retryWait) {
				return false, ctx.Err()
			}
			// Bump forward in case the disc stalled right at the switch lip.
			if _, err := h.motor.Move(ctx, h.nudgeSteps, h.pulseWidth); err != nil {
				return false, errors.Wrap(err, "couldn't nudge disc between homing attempts")
			}
			if !waitFor(ctx, h.clk, h.nudgeSettle) {
				return false, ctx.Err()
			}
		}
	}
	h.tracker.Invalidate()
	return false, nil
}

// seekSwitch steps the disc forward, checking the switch after every step,
// until it trips or the timeout elapses.
func (h *HomingSequencer) seekSwitch(ctx context.Context, pw time.Duration, timeout time.Duration) (found bool, err error) {
	if err := h.motor.Enable(ctx, true); err != nil {
		return false, err
	}
	defer func() {
		if stopErr := h.motor.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	deadline := h.clk.Now().Add(timeout)
	for h.clk.Now().Before(deadline) {
		active, err := h.sw.Active(ctx)
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
		if err := h.motor.Step(ctx, pw); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (h *HomingSequencer) markHomed() {
	h.tracker.ResetToHome()
	if h.enc != nil {
		h.enc.Reset()
	}
}
