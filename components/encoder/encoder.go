// Package encoder counts quadrature ticks from an optional rotary encoder on
// the disc shaft.
//
// The count is diagnostic telemetry only: positioning decisions are made
// from commanded step counts, never from this value. The tick handler does
// bounded work (one pin read, one atomic add) because it can fire during any
// blocking wait in the control loop.
package encoder

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mediwheel/dispenser/board"
)

// Config names the interrupt for channel A and the plain GPIO pin for
// channel B.
type Config struct {
	InterruptA string `json:"interrupt_a"`
	PinB       string `json:"pin_b"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.InterruptA == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "interrupt_a")
	}
	if cfg.PinB == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin_b")
	}
	return nil
}

// Encoder tracks a signed tick count from a quadrature pair.
type Encoder struct {
	interruptA board.DigitalInterrupt
	pinB       board.GPIOPin
	logger     golog.Logger

	position int64

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New subscribes to channel A ticks and starts the counting worker.
func New(ctx context.Context, b board.Board, cfg Config, logger golog.Logger) (*Encoder, error) {
	interruptA, err := b.DigitalInterruptByName(cfg.InterruptA)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get encoder channel A interrupt")
	}
	pinB, err := b.GPIOPinByName(cfg.PinB)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't get encoder channel B pin")
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	e := &Encoder{
		interruptA: interruptA,
		pinB:       pinB,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	e.start()
	return e, nil
}

func (e *Encoder) start() {
	ch := make(chan board.Tick)
	e.interruptA.AddCallback(ch)
	e.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		defer e.interruptA.RemoveCallback(ch)
		for {
			select {
			case <-e.cancelCtx.Done():
				return
			case tick := <-ch:
				bHigh, err := e.pinB.Get(e.cancelCtx)
				if err != nil {
					e.logger.Debugw("encoder channel B read failed", "error", err)
					continue
				}
				if bHigh != tick.High {
					atomic.AddInt64(&e.position, 1)
				} else {
					atomic.AddInt64(&e.position, -1)
				}
			}
		}
	}, e.activeBackgroundWorkers.Done)
}

// Position returns the current signed tick count.
func (e *Encoder) Position() int64 {
	return atomic.LoadInt64(&e.position)
}

// Reset zeroes the tick count; called when the disc is homed.
func (e *Encoder) Reset() {
	atomic.StoreInt64(&e.position, 0)
}

// Close stops the counting worker.
func (e *Encoder) Close() error {
	e.cancelFunc()
	e.activeBackgroundWorkers.Wait()
	return nil
}
