package stepper

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/mediwheel/dispenser/board/fake"
)

func fastConfig() Config {
	return Config{
		Pins:               PinConfig{Step: "step", Direction: "dir", EnablePinHigh: "en"},
		StepsPerRevolution: 200,
		PulseWidthUsec:     1,
		MinPulseWidthUsec:  1,
		MaxPulseWidthUsec:  50000,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := fastConfig()
	test.That(t, cfg.Validate("motor"), test.ShouldBeNil)

	t.Run("missing step pin", func(t *testing.T) {
		bad := fastConfig()
		bad.Pins.Step = ""
		test.That(t, bad.Validate("motor"), test.ShouldNotBeNil)
	})

	t.Run("missing steps per revolution", func(t *testing.T) {
		bad := fastConfig()
		bad.StepsPerRevolution = 0
		test.That(t, bad.Validate("motor"), test.ShouldNotBeNil)
	})

	t.Run("inverted pulse bounds", func(t *testing.T) {
		bad := fastConfig()
		bad.MinPulseWidthUsec = 100
		bad.MaxPulseWidthUsec = 50
		test.That(t, bad.Validate("motor"), test.ShouldNotBeNil)
	})
}

func TestDriveTrainMath(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()

	cfg := fastConfig()
	cfg.Microstepping = 8
	cfg.GearRatio = 2
	m, err := New(b, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.TotalStepsPerRevolution(), test.ShouldEqual, 3200)
	test.That(t, m.StepsForAngle(90), test.ShouldEqual, 800)
	test.That(t, m.StepsForAngle(360), test.ShouldEqual, 3200)
}

func TestMoveCountsSteps(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	m, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	moved, err := m.Move(ctx, 7, m.DefaultPulseWidth())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moved, test.ShouldEqual, 7)
	test.That(t, b.Pin("step").RisingSets(), test.ShouldEqual, 7)

	// Dir pin went high for a forward move and the driver ended up disabled.
	dirLog := b.Pin("dir").SetLog()
	test.That(t, len(dirLog), test.ShouldBeGreaterThan, 0)
	test.That(t, dirLog[len(dirLog)-1], test.ShouldBeTrue)
	enLog := b.Pin("en").SetLog()
	test.That(t, enLog[len(enLog)-1], test.ShouldBeFalse)
}

func TestMoveReverse(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	m, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	moved, err := m.Move(ctx, -3, m.DefaultPulseWidth())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moved, test.ShouldEqual, -3)
	test.That(t, b.Pin("step").RisingSets(), test.ShouldEqual, 3)
	dirLog := b.Pin("dir").SetLog()
	test.That(t, dirLog[len(dirLog)-1], test.ShouldBeFalse)
}

func TestMoveZero(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	m, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	moved, err := m.Move(context.Background(), 0, m.DefaultPulseWidth())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moved, test.ShouldEqual, 0)
	test.That(t, len(b.Pin("step").SetLog()), test.ShouldEqual, 0)
}

func TestClampPulseWidth(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	cfg := fastConfig()
	cfg.MinPulseWidthUsec = 10
	cfg.MaxPulseWidthUsec = 100
	m, err := New(b, cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.ClampPulseWidth(time.Microsecond), test.ShouldEqual, 10*time.Microsecond)
	test.That(t, m.ClampPulseWidth(time.Millisecond), test.ShouldEqual, 100*time.Microsecond)
	test.That(t, m.ClampPulseWidth(50*time.Microsecond), test.ShouldEqual, 50*time.Microsecond)
}

func TestMoveCancelled(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	m, err := New(b, fastConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Move(ctx, 10, m.DefaultPulseWidth())
	test.That(t, err, test.ShouldNotBeNil)
	// Even a cancelled move leaves the driver disabled.
	enLog := b.Pin("en").SetLog()
	test.That(t, enLog[len(enLog)-1], test.ShouldBeFalse)
}
