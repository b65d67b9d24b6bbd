//go:build linux

package linux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
)

// countingPin records Out calls; the rest of gpio.PinIO stays unimplemented.
type countingPin struct {
	gpio.PinIO

	mu     sync.Mutex
	writes int
}

func (p *countingPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	return nil
}

func (p *countingPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Board{
		logger:     golog.NewTestLogger(t),
		pwms:       map[string]pwmSetting{},
		interrupts: map[string]*digitalInterrupt{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

func waitForWrites(t *testing.T, pin *countingPin) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pin.Writes() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pin was never written")
}

func TestSoftwarePWMLoopStarts(t *testing.T) {
	ctx := context.Background()

	t.Run("frequency set before duty cycle", func(t *testing.T) {
		b := newTestBoard(t)
		pin := &countingPin{}
		gp := &periphGpioPin{b: b, pin: pin, pinName: "servo"}

		test.That(t, gp.SetPWMFreq(ctx, 50), test.ShouldBeNil)
		test.That(t, gp.SetPWM(ctx, 0.05), test.ShouldBeNil)
		waitForWrites(t, pin)

		freq, err := gp.PWMFreq(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, freq, test.ShouldEqual, 50)
		test.That(t, b.Close(ctx), test.ShouldBeNil)
	})

	t.Run("duty cycle only", func(t *testing.T) {
		b := newTestBoard(t)
		pin := &countingPin{}
		gp := &periphGpioPin{b: b, pin: pin, pinName: "servo"}

		test.That(t, gp.SetPWM(ctx, 0.05), test.ShouldBeNil)
		waitForWrites(t, pin)
		test.That(t, b.Close(ctx), test.ShouldBeNil)
	})

	t.Run("set level stops the loop", func(t *testing.T) {
		b := newTestBoard(t)
		pin := &countingPin{}
		gp := &periphGpioPin{b: b, pin: pin, pinName: "servo"}

		test.That(t, gp.SetPWMFreq(ctx, 50), test.ShouldBeNil)
		test.That(t, gp.SetPWM(ctx, 0.05), test.ShouldBeNil)
		waitForWrites(t, pin)

		test.That(t, gp.Set(ctx, false), test.ShouldBeNil)
		b.activeBackgroundWorkers.Wait()
		test.That(t, b.Close(ctx), test.ShouldBeNil)
	})
}
