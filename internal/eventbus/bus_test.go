package eventbus

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe(GroupCreated, func(ev Event) { got = append(got, "created:"+ev.ID) })
	b.Subscribe(GroupDeleted, func(ev Event) { got = append(got, "deleted:"+ev.ID) })

	b.Publish(Event{Type: GroupCreated, ID: "1"})
	b.Publish(Event{Type: GroupDeleted, ID: "1"})
	b.Publish(Event{Type: GroupCreated, ID: "2"})

	if len(got) != 0 {
		t.Fatalf("handlers ran before Flush: %v", got)
	}

	b.Flush()

	want := []string{"created:1", "deleted:1", "created:2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("delivery order = %v, want %v", got, want)
	}
}

func TestBusTakeDefersDelivery(t *testing.T) {
	b := New()

	count := 0
	b.SubscribeAll(func(Event) { count++ })

	b.Publish(Event{Type: ConfigModified})
	events := b.Take()
	b.Flush()
	if count != 0 {
		t.Fatalf("Flush delivered %d taken events, want 0", count)
	}

	b.Deliver(events)
	if count != 1 {
		t.Errorf("Deliver delivered %d events, want 1", count)
	}
}

func TestBusHandlerPublishIsDeliveredInSameFlush(t *testing.T) {
	b := New()

	var got []EventType
	b.Subscribe(SensorModified, func(ev Event) {
		got = append(got, ev.Type)
		b.Publish(Event{Type: SensorStateModified, ID: ev.ID})
	})
	b.Subscribe(SensorStateModified, func(ev Event) { got = append(got, ev.Type) })

	b.Publish(Event{Type: SensorModified, ID: "1"})
	b.Flush()

	want := []EventType{SensorModified, SensorStateModified}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	b := New()

	delivered := false
	b.Subscribe(RuleCreated, func(Event) { panic("boom") })
	b.Subscribe(RuleCreated, func(Event) { delivered = true })

	b.Publish(Event{Type: RuleCreated, ID: "1"})
	b.Flush()

	if !delivered {
		t.Error("second handler not called after first panicked")
	}
}

func TestBusDropsWhenQueueFull(t *testing.T) {
	b := NewWithQueueSize(2)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: ConfigModified})
	}
	if b.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", b.Pending())
	}
}

func TestLoopRunsWorkSequentiallyAndFlushes(t *testing.T) {
	b := New()
	var turns atomic.Int32
	l := NewLoop(b, 16, func() { turns.Add(1) })
	l.Start()
	defer l.Close(context.Background())

	var order []string
	b.Subscribe(ConfigModified, func(Event) { order = append(order, "event") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := l.Do(ctx, func() {
		order = append(order, "work")
		b.Publish(Event{Type: ConfigModified})
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	// The flush runs in the same turn, after Do's work returned.
	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	want := []string{"work", "event"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	// The second turn's hook may still be running; the first one has finished.
	if n := turns.Load(); n < 1 {
		t.Errorf("afterTurn ran %d times, want at least 1", n)
	}
}

func TestLoopRejectsWorkAfterClose(t *testing.T) {
	l := NewLoop(New(), 4, nil)
	l.Start()
	l.Close(context.Background())

	if l.Post(func() {}) {
		t.Error("Post() after Close = true, want false")
	}
	if err := l.Do(context.Background(), func() {}); err != ErrLoopClosed {
		t.Errorf("Do() after Close error = %v, want %v", err, ErrLoopClosed)
	}
}

func TestLoopDeferredChainDoesNotStarvePostedWork(t *testing.T) {
	l := NewLoop(New(), 4, nil)
	l.Start()

	var chained atomic.Int32
	var step func()
	step = func() {
		chained.Add(1)
		l.Defer(step)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Do(ctx, func() { l.Defer(step) }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := l.Do(ctx, func() {}); err != nil {
			t.Fatalf("Do() while deferred work keeps rescheduling itself: %v", err)
		}
	}
	if chained.Load() == 0 {
		t.Error("deferred work never ran")
	}

	closed := make(chan struct{})
	go func() {
		l.Close(context.Background())
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return while deferred work was pending")
	}
	if l.Defer(func() {}) {
		t.Error("Defer() after Close = true, want false")
	}
}
