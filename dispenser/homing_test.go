package dispenser

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mediwheel/dispenser/board/fake"
	"github.com/mediwheel/dispenser/components/gateservo"
	"github.com/mediwheel/dispenser/components/homeswitch"
	"github.com/mediwheel/dispenser/components/stepper"
)

func fastGateConfig() gateservo.Config {
	return gateservo.Config{
		Pin:           "servo",
		MinUsec:       150,
		MaxUsec:       2100,
		StepUsec:      500,
		StepDelayMsec: 1,
		DwellMsec:     1,
	}
}

func fastHomingConfig() HomingConfig {
	return HomingConfig{
		MaxAttempts:          2,
		TimeoutMsec:          30,
		TimeoutIncrementMsec: 10,
		PulseWidthUsec:       1,
		BackoffDeg:           10,
		NudgeDeg:             5,
		SettleMsec:           1,
	}
}

func newHomingSequencer(t *testing.T) (*HomingSequencer, *PositionTracker, *fake.Board) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	ctx := context.Background()

	motor, err := stepper.New(b, fastMotorConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	gate, err := gateservo.New(ctx, b, fastGateConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	sw, err := homeswitch.New(b, homeswitch.Config{Pin: "home", PollIntervalMsec: 1}, logger)
	test.That(t, err, test.ShouldBeNil)

	tracker := fiveSlotTracker(t)
	return NewHomingSequencer(motor, sw, gate, nil, tracker, fastHomingConfig(), logger), tracker, b
}

func TestHomeFindsSwitch(t *testing.T) {
	h, tracker, b := newHomingSequencer(t)
	ctx := context.Background()

	// Not pressed for the pre-check and the first three steps of the
	// search, then the switch comes down.
	b.Pin("home").Hold(true)
	b.Pin("home").EnqueueReads(true, true, true, true, false)

	homed, err := h.Home(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, homed, test.ShouldBeTrue)
	test.That(t, tracker.Homed(), test.ShouldBeTrue)
	test.That(t, tracker.CurrentSteps(), test.ShouldEqual, 0)
	test.That(t, b.Pin("step").RisingSets(), test.ShouldEqual, 3)
}

func TestHomeRezeroesWhenAlreadyOnSwitch(t *testing.T) {
	h, tracker, b := newHomingSequencer(t)
	ctx := context.Background()

	tracker.ResetToHome()
	tracker.ApplyDelta(50)
	b.Pin("home").Hold(false) // pressed

	homed, err := h.Home(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, homed, test.ShouldBeTrue)
	test.That(t, tracker.CurrentSteps(), test.ShouldEqual, 0)
	// No motion was needed.
	test.That(t, len(b.Pin("step").SetLog()), test.ShouldEqual, 0)
}

func TestHomeBacksOffStaleSwitchContact(t *testing.T) {
	h, tracker, b := newHomingSequencer(t)
	ctx := context.Background()

	// Pressed, but the position reference is untrusted: the disc must back
	// away and re-approach instead of accepting the contact.
	b.Pin("home").Hold(false)

	homed, err := h.Home(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, homed, test.ShouldBeTrue)
	test.That(t, tracker.Homed(), test.ShouldBeTrue)
	// 10 degrees of a 200 step disc is 5 steps of backoff.
	test.That(t, b.Pin("step").RisingSets(), test.ShouldEqual, 5)
}

func TestHomeGivesUpAfterAllAttempts(t *testing.T) {
	h, tracker, b := newHomingSequencer(t)
	ctx := context.Background()

	b.Pin("home").Hold(true) // never pressed

	homed, err := h.Home(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, homed, test.ShouldBeFalse)
	test.That(t, tracker.Homed(), test.ShouldBeFalse)
	// The disc did search.
	test.That(t, b.Pin("step").RisingSets(), test.ShouldBeGreaterThan, 0)
}

func TestHomeRestsGateFirst(t *testing.T) {
	h, _, b := newHomingSequencer(t)
	ctx := context.Background()

	b.Pin("home").Hold(false)
	_, err := h.Home(ctx)
	test.That(t, err, test.ShouldBeNil)

	// The gate was parked at its rest position before the disc turned.
	pwm, err := b.Pin("servo").PWM(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pwm, test.ShouldAlmostEqual, 150.0*50/1e6, 1e-9)
}
