package hostevent

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Depth is the fixed capacity of the cross-thread event queue.
const Depth = 16

// Queue is the bounded FIFO through which producer threads (HTTP handlers,
// the Wi-Fi event dispatcher, the devserver start task) hand HostEvents to
// the loop thread. It wraps github.com/eapache/queue's ring-buffer-backed
// Queue with a mutex and a single-slot wakeup channel so the loop can block
// for an exact deadline-derived timeout rather than spin.
//
// Enqueue never blocks past its caller-supplied timeout: on a full queue the
// producer gets false back and decides for itself whether to retry or drop.
// Dequeue blocks at most the timeout the loop computes from its deadline
// schedule.
type Queue struct {
	mu   sync.Mutex
	q    *queue.Queue
	wake chan struct{}
}

// New returns an empty Queue at the fixed Depth capacity.
func New() *Queue {
	return &Queue{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
	}
}

func (eq *Queue) notify() {
	select {
	case eq.wake <- struct{}{}:
	default:
	}
}

// TryEnqueue attempts a single, non-blocking enqueue. Returns false if the
// queue is already at Depth.
func (eq *Queue) TryEnqueue(ev Event) bool {
	eq.mu.Lock()
	if eq.q.Length() >= Depth {
		eq.mu.Unlock()
		return false
	}
	eq.q.Add(ev)
	eq.mu.Unlock()
	eq.notify()
	return true
}

// Enqueue retries TryEnqueue until it succeeds or timeout elapses. A zero or
// negative timeout behaves like TryEnqueue.
func (eq *Queue) Enqueue(ev Event, timeout time.Duration) bool {
	if eq.TryEnqueue(ev) {
		return true
	}
	if timeout <= 0 {
		return false
	}
	deadline := time.Now().Add(timeout)
	const retryInterval = time.Millisecond
	t := time.NewTimer(retryInterval)
	defer t.Stop()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := retryInterval
		if remaining < wait {
			wait = remaining
		}
		t.Reset(wait)
		<-t.C
		if eq.TryEnqueue(ev) {
			return true
		}
	}
}

// Len reports the current number of queued events.
func (eq *Queue) Len() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return eq.q.Length()
}

// tryDequeue pops the oldest event if present.
func (eq *Queue) tryDequeue() (Event, bool) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	if eq.q.Length() == 0 {
		return Event{}, false
	}
	v := eq.q.Remove()
	return v.(Event), true
}

// Dequeue waits up to timeout for an event. timeout == 0 polls once;
// timeout < 0 waits indefinitely. This is the loop thread's sole suspension
// point.
func (eq *Queue) Dequeue(timeout time.Duration) (Event, bool) {
	if ev, ok := eq.tryDequeue(); ok {
		return ev, true
	}

	var timeoutC <-chan time.Time
	if timeout == 0 {
		return Event{}, false
	}
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-eq.wake:
			if ev, ok := eq.tryDequeue(); ok {
				return ev, true
			}
		case <-timeoutC:
			return Event{}, false
		}
	}
}
