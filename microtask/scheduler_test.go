package microtask

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestScheduler() *Scheduler {
	return New(zerolog.Nop())
}

func TestEncodeDecodeHandleRoundTrip(t *testing.T) {
	h := EncodeHandle(5, 3)
	idx, gen, ok := DecodeHandle(h)
	if !ok || idx != 5 || gen != 3 {
		t.Fatalf("round trip failed: idx=%d gen=%d ok=%v", idx, gen, ok)
	}
}

func TestDecodeHandleRejectsZeroAndNegative(t *testing.T) {
	if _, _, ok := DecodeHandle(0); ok {
		t.Error("Handle(0) should be invalid")
	}
	if _, _, ok := DecodeHandle(-1); ok {
		t.Error("negative Handle should be invalid")
	}
}

func TestStartAndCancel(t *testing.T) {
	s := newTestScheduler()
	h := s.Start(1000, 50, 0)
	if h == 0 {
		t.Fatal("Start should return a nonzero handle")
	}
	if !s.HasTasks() {
		t.Fatal("scheduler should report having a task")
	}
	if !s.Cancel(h) {
		t.Fatal("Cancel should succeed for a freshly-started task")
	}
	if s.HasTasks() {
		t.Fatal("scheduler should have no tasks after cancel")
	}
	if s.Cancel(h) {
		t.Fatal("Cancel should fail the second time (stale handle)")
	}
}

func TestStartFailsWhenFull(t *testing.T) {
	s := newTestScheduler()
	for i := 0; i < MaxTasks; i++ {
		if h := s.Start(0, 0, 0); h == 0 {
			t.Fatalf("Start %d should have succeeded", i)
		}
	}
	if h := s.Start(0, 0, 0); h != 0 {
		t.Fatalf("Start past capacity should return 0, got %d", h)
	}
}

func TestHasDueAndNextDueMs(t *testing.T) {
	s := newTestScheduler()
	if s.NextDueMs() != NoDueMs {
		t.Fatal("empty scheduler should report NoDueMs")
	}
	s.Start(1000, 100, 0)
	if s.HasDue(1050) {
		t.Fatal("task due at 1100 should not be due at 1050")
	}
	if !s.HasDue(1100) {
		t.Fatal("task due at 1100 should be due at 1100")
	}
	if due := s.NextDueMs(); due != 1100 {
		t.Fatalf("NextDueMs() = %d, want 1100", due)
	}
}

func TestRunDueActionDoneReleasesSlot(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0)

	s.RunDue(0, 16, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionDone}, nil
	})

	if s.HasTasks() {
		t.Fatal("task should be released after ActionDone")
	}
}

func TestRunDueActionYieldOneShotUsesDefaultDelay(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0)

	s.RunDue(0, 1, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionYield}, nil
	})

	if due := s.NextDueMs(); due != DefaultYieldDelayMs {
		t.Fatalf("one-shot yield should reschedule at now+DefaultYieldDelayMs, got %d", due)
	}
}

func TestRunDuePeriodicCatchUpSkip(t *testing.T) {
	s := newTestScheduler()
	// Due at 100, period 10: at now=175 far more than one period has elapsed.
	s.Start(0, 100, 10)

	s.RunDue(175, 1, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionYield}, nil
	})

	// previousDue=100, elapsed=75, steps=75/10+1=8, next=100+80=180.
	if due := s.NextDueMs(); due != 180 {
		t.Fatalf("catch-up skip should land on 180, got %d", due)
	}
}

func TestRunDueSleepMsShorterThanPeriodDefersToPeriod(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 100, 50)

	s.RunDue(100, 1, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionSleepMs, SleepArgMs: 10}, nil
	})

	// periodBoundary = nextPeriodicBoundary(100, 50, 100) = 150.
	// sleepBoundary = 100+10 = 110. A periodic task's sleep request never
	// pulls its next run earlier than the period boundary, so 150 wins.
	if due := s.NextDueMs(); due != 150 {
		t.Fatalf("period boundary should win over a shorter sleep, got %d", due)
	}
}

func TestRunDueSleepMsLongerThanPeriodExtendsPastPeriod(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 100, 50)

	s.RunDue(100, 1, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionSleepMs, SleepArgMs: 1000}, nil
	})

	// sleepBoundary = 100+1000 = 1100, past the period boundary of 150, so
	// the longer sleep request wins.
	if due := s.NextDueMs(); due != 1100 {
		t.Fatalf("sleep longer than period should win, want 1100, got %d", due)
	}
}

func TestRunDueSleepMsZeroUsesDefaultDelay(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0) // one-shot, due immediately

	s.RunDue(0, 1, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: ActionSleepMs, SleepArgMs: 0}, nil
	})

	// One-shot task, no period: sleepBoundary = now + DefaultYieldDelayMs
	// since a SleepArgMs of 0 is treated as the default delay, not an
	// immediate re-run.
	if due := s.NextDueMs(); due != DefaultYieldDelayMs {
		t.Fatalf("SleepArgMs=0 should substitute DefaultYieldDelayMs, got %d", due)
	}
}

func TestRunDueErrorReleasesSlot(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0)

	s.RunDue(0, 16, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{}, errors.New("guest trapped")
	})

	if s.HasTasks() {
		t.Fatal("a failing step should release the slot")
	}
}

func TestRunDueInvalidActionReleasesSlot(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0)

	s.RunDue(0, 16, func(h Handle, nowMs uint32) (StepResult, error) {
		return StepResult{Action: Action(99)}, nil
	})

	if s.HasTasks() {
		t.Fatal("an invalid action should release the slot")
	}
}

func TestGenerationIncrementsOnRelease(t *testing.T) {
	s := newTestScheduler()
	h1 := s.Start(0, 0, 0)
	s.Cancel(h1)
	h2 := s.Start(0, 0, 0)

	idx1, gen1, _ := DecodeHandle(h1)
	idx2, gen2, _ := DecodeHandle(h2)
	if idx1 != idx2 {
		t.Fatalf("expected the same slot to be reused, got %d and %d", idx1, idx2)
	}
	if gen2 != gen1+1 {
		t.Fatalf("expected generation to increment from %d to %d, got %d", gen1, gen1+1, gen2)
	}
}

func TestClearAllReleasesEverySlot(t *testing.T) {
	s := newTestScheduler()
	s.Start(0, 0, 0)
	s.Start(0, 0, 0)
	s.ClearAll()
	if s.HasTasks() {
		t.Fatal("ClearAll should release every task")
	}
}
