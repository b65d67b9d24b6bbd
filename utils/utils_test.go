package utils

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestAbsInt64(t *testing.T) {
	test.That(t, AbsInt64(5), test.ShouldEqual, 5)
	test.That(t, AbsInt64(-5), test.ShouldEqual, 5)
	test.That(t, AbsInt64(0), test.ShouldEqual, 0)
}

func TestModAngDeg(t *testing.T) {
	test.That(t, ModAngDeg(0), test.ShouldEqual, 0)
	test.That(t, ModAngDeg(360), test.ShouldEqual, 0)
	test.That(t, ModAngDeg(-90), test.ShouldEqual, 270)
	test.That(t, ModAngDeg(630), test.ShouldEqual, 270)
	test.That(t, ModAngDeg(72.5), test.ShouldAlmostEqual, 72.5, 1e-9)
}

func TestClampDuration(t *testing.T) {
	test.That(t, ClampDuration(5, 10, 20), test.ShouldEqual, time.Duration(10))
	test.That(t, ClampDuration(25, 10, 20), test.ShouldEqual, time.Duration(20))
	test.That(t, ClampDuration(15, 10, 20), test.ShouldEqual, time.Duration(15))
}

func TestSelectContextOrWait(t *testing.T) {
	clk := clock.New()
	test.That(t, SelectContextOrWait(context.Background(), clk, time.Millisecond), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, SelectContextOrWait(ctx, clk, time.Hour), test.ShouldBeFalse)
}
