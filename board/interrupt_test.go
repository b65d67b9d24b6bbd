package board

import (
	"context"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestBasicDigitalInterruptCounts(t *testing.T) {
	i := NewBasicDigitalInterrupt("pill-drop")
	ctx := context.Background()
	test.That(t, i.Name(), test.ShouldEqual, "pill-drop")

	test.That(t, i.Tick(ctx, true, uint64(time.Now().UnixNano())), test.ShouldBeNil)
	test.That(t, i.Tick(ctx, false, uint64(time.Now().UnixNano())), test.ShouldBeNil)
	test.That(t, i.Tick(ctx, true, uint64(time.Now().UnixNano())), test.ShouldBeNil)

	v, err := i.Value(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 2)
}

func TestBasicDigitalInterruptCallbacks(t *testing.T) {
	i := NewBasicDigitalInterrupt("enc-a")
	ctx := context.Background()

	ch := make(chan Tick, 4)
	i.AddCallback(ch)

	test.That(t, i.Tick(ctx, true, 100), test.ShouldBeNil)
	test.That(t, i.Tick(ctx, false, 200), test.ShouldBeNil)

	tick := <-ch
	test.That(t, tick.Name, test.ShouldEqual, "enc-a")
	test.That(t, tick.High, test.ShouldBeTrue)
	test.That(t, tick.TimestampNanosec, test.ShouldEqual, 100)
	tick = <-ch
	test.That(t, tick.High, test.ShouldBeFalse)

	i.RemoveCallback(ch)
	test.That(t, i.Tick(ctx, true, 300), test.ShouldBeNil)
	test.That(t, len(ch), test.ShouldEqual, 0)
}
