package board

import (
	"context"
	"sync"
	"sync/atomic"
)

// A BasicDigitalInterrupt counts ticks and fans them out to any registered
// callback channels. Board implementations feed it from their event sources;
// tests feed it directly through Tick.
type BasicDigitalInterrupt struct {
	name  string
	count int64

	callbacksMu sync.RWMutex
	callbacks   []chan Tick
}

// NewBasicDigitalInterrupt returns an interrupt with the given name.
func NewBasicDigitalInterrupt(name string) *BasicDigitalInterrupt {
	return &BasicDigitalInterrupt{name: name}
}

// Name returns the name of the interrupt.
func (i *BasicDigitalInterrupt) Name() string {
	return i.name
}

// Value returns the amount of ticks that have been observed.
func (i *BasicDigitalInterrupt) Value(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&i.count), nil
}

// Tick records an interrupt event and notifies listeners. Only high ticks are
// counted; both edges are forwarded to callbacks.
func (i *BasicDigitalInterrupt) Tick(ctx context.Context, high bool, nanosec uint64) error {
	if high {
		atomic.AddInt64(&i.count, 1)
	}

	i.callbacksMu.RLock()
	defer i.callbacksMu.RUnlock()
	for _, ch := range i.callbacks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- Tick{Name: i.name, High: high, TimestampNanosec: nanosec}:
		}
	}
	return nil
}

// AddCallback adds a listener for interrupt ticks.
func (i *BasicDigitalInterrupt) AddCallback(ch chan Tick) {
	i.callbacksMu.Lock()
	defer i.callbacksMu.Unlock()
	i.callbacks = append(i.callbacks, ch)
}

// RemoveCallback removes a listener for interrupt ticks.
func (i *BasicDigitalInterrupt) RemoveCallback(ch chan Tick) {
	i.callbacksMu.Lock()
	defer i.callbacksMu.Unlock()
	for idx, c := range i.callbacks {
		if c == ch {
			i.callbacks = append(i.callbacks[:idx], i.callbacks[idx+1:]...)
			break
		}
	}
}
