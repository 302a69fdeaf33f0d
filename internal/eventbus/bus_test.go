package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishDelivers(t *testing.T) {
	b := NewWithConfig(2, 16)

	var mu sync.Mutex
	var got []Event
	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe(EventTypeCorrection, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
	})

	b.Publish(Event{Type: EventTypeCorrection, Device: "eDP-1", Data: map[string]interface{}{"observed": 40}})
	b.Publish(Event{Type: EventTypeCorrection, Device: "eDP-1"})
	b.Publish(Event{Type: EventTypeApplied, Device: "eDP-1"}) // no subscriber

	wg.Wait()
	b.Close(context.Background())

	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	for _, e := range got {
		if e.Time.IsZero() {
			t.Error("Publish() did not stamp event time")
		}
	}
}

func TestSubscribeAll(t *testing.T) {
	b := New()
	var n atomic.Int32
	done := make(chan struct{}, 5)
	b.SubscribeAll(func(Event) {
		n.Add(1)
		done <- struct{}{}
	})

	for _, et := range []EventType{EventTypeCorrection, EventTypeApplied, EventTypeReset, EventTypeSaveFailed, EventTypeDevice} {
		b.Publish(Event{Type: et})
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	b.Close(context.Background())

	if n.Load() != 5 {
		t.Errorf("handled %d events, want 5", n.Load())
	}
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 4)
	done := make(chan struct{})
	b.Subscribe(EventTypeReset, func(Event) { panic("boom") })
	b.Subscribe(EventTypeApplied, func(Event) { close(done) })

	b.Publish(Event{Type: EventTypeReset})
	b.Publish(Event{Type: EventTypeApplied})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive handler panic")
	}
	b.Close(context.Background())
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	b := New()
	b.Subscribe(EventTypeApplied, func(Event) { t.Error("handler called after Close") })
	b.Close(context.Background())
	b.Close(context.Background())

	b.Publish(Event{Type: EventTypeApplied})
}

func TestConcurrentPublishAndClose(t *testing.T) {
	b := NewWithConfig(2, 8)
	b.Subscribe(EventTypeApplied, func(Event) {})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: EventTypeApplied})
			}
		}()
	}
	b.Close(context.Background())
	wg.Wait()
}
