//go:build linux

package linux

// Interrupt lines use the character-device ioctl interface by way of mkch's
// gpio package; periph.io does not surface edge events.

import (
	"context"
	"sync"

	"github.com/mkch/gpio"
	"go.viam.com/utils"

	dboard "github.com/mediwheel/dispenser/board"
)

type digitalInterrupt struct {
	interrupt  *dboard.BasicDigitalInterrupt
	line       *gpio.LineWithEvent
	cancelCtx  context.Context
	cancelFunc func()
}

func (b *Board) openDigitalInterrupt(conf DigitalInterruptConfig) (*digitalInterrupt, error) {
	chip, err := gpio.OpenChip(conf.ChipDev)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(conf.Line, gpio.Input, gpio.BothEdges, "dispenser-interrupt")
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(b.cancelCtx)
	di := &digitalInterrupt{
		interrupt:  dboard.NewBasicDigitalInterrupt(conf.Name),
		line:       line,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	di.startMonitor(&b.activeBackgroundWorkers)
	return di, nil
}

func (di *digitalInterrupt) startMonitor(workers *sync.WaitGroup) {
	workers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-di.cancelCtx.Done():
				return
			case event := <-di.line.Events():
				utils.UncheckedError(di.interrupt.Tick(
					di.cancelCtx, event.RisingEdge, uint64(event.Time.UnixNano())))
			}
		}
	}, workers.Done)
}

func (di *digitalInterrupt) Close() error {
	// The monitor goroutine only reads from the line's event channel, so it
	// is safe to close the line before the goroutine has fully wound down.
	di.cancelFunc()
	return di.line.Close()
}
