package hostevent

import (
	"testing"
	"time"
)

func TestQueueTryEnqueueRespectsDepth(t *testing.T) {
	q := New()
	for i := 0; i < Depth; i++ {
		if !q.TryEnqueue(NewWifiEvent(uint32(i), WifiStaStart, 0, 0)) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if q.TryEnqueue(NewWifiEvent(99, WifiStaStart, 0, 0)) {
		t.Fatal("enqueue past Depth should fail")
	}
	if q.Len() != Depth {
		t.Fatalf("Len() = %d, want %d", q.Len(), Depth)
	}
}

func TestQueueDequeueFIFO(t *testing.T) {
	q := New()
	q.TryEnqueue(NewWifiEvent(1, WifiStaStart, 0, 0))
	q.TryEnqueue(NewWifiEvent(2, WifiStaGotIP, 0, 0))

	ev, ok := q.Dequeue(0)
	if !ok || ev.Wifi.Kind != WifiStaStart {
		t.Fatalf("first dequeue = %+v, %v", ev, ok)
	}
	ev, ok = q.Dequeue(0)
	if !ok || ev.Wifi.Kind != WifiStaGotIP {
		t.Fatalf("second dequeue = %+v, %v", ev, ok)
	}
}

func TestQueueDequeueTimesOutWhenEmpty(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	if ok {
		t.Fatal("expected dequeue to time out on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("dequeue returned too early: %v", elapsed)
	}
}

func TestQueueDequeueWakesOnEnqueue(t *testing.T) {
	q := New()
	done := make(chan Event, 1)
	go func() {
		ev, ok := q.Dequeue(time.Second)
		if ok {
			done <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.TryEnqueue(NewWifiEvent(5, WifiStaGotIP, 0, 0))

	select {
	case ev := <-done:
		if ev.Wifi.Kind != WifiStaGotIP {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up on enqueue")
	}
}
