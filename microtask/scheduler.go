// Package microtask implements the fixed-capacity, generation-indexed
// cooperative task table the guest schedules periodic and deferred work
// through.
//
// Task state lives in a fixed slot table sized to the guest contract's
// capacity rather than a growable queue, so a misbehaving guest cannot
// force unbounded allocation.
package microtask

import "github.com/rs/zerolog"

// MaxTasks is the fixed slot table capacity.
const MaxTasks = 64

// maxGeneration is the generation wraparound boundary: generations count up
// from 1 and wrap back to 1 once they would exceed this.
const maxGeneration = 0x7fff

// NoDueMs is the sentinel "nothing due" deadline value returned by NextDueMs.
const NoDueMs uint32 = 0xffffffff

// DefaultYieldDelayMs is the fallback re-run delay for a one-shot task that
// yields without asking for periodic rescheduling.
const DefaultYieldDelayMs uint32 = 50

// Action is the guest's requested disposition for a task after one step.
type Action int32

const (
	ActionDone Action = iota
	ActionYield
	ActionSleepMs
)

// StepResult is what the guest returns from one microtask step: what to do
// next, and (for ActionSleepMs) how many milliseconds to wait.
type StepResult struct {
	Action Action
	SleepArgMs uint32
}

// Handle identifies a scheduled task slot across its lifetime. The zero
// Handle is never valid.
type Handle int32

type slot struct {
	occupied  bool
	generation int32
	nextRunMs uint32
	periodMs  uint32 // 0 = one-shot
}

// EncodeHandle packs a slot index and generation into a Handle.
func EncodeHandle(index int, generation int32) Handle {
	return Handle((generation << 16) | int32(index+1))
}

// DecodeHandle unpacks a Handle into its slot index and generation. ok is
// false for handle <= 0 or a zero index/generation component.
func DecodeHandle(h Handle) (index int, generation int32, ok bool) {
	if h <= 0 {
		return 0, 0, false
	}
	indexPart := int32(h) & 0xffff
	generation = int32(h) >> 16
	if indexPart == 0 || generation == 0 {
		return 0, 0, false
	}
	return int(indexPart - 1), generation, true
}

// Scheduler is the fixed-capacity microtask table. Not safe for concurrent
// use — owned exclusively by the loop thread.
type Scheduler struct {
	log zerolog.Logger

	slots      [MaxTasks]slot
	runCursor  int
	allocCursor int
}

// New returns an empty Scheduler with every slot's generation initialized to 1.
func New(log zerolog.Logger) *Scheduler {
	s := &Scheduler{log: log.With().Str("component", "microtask").Logger()}
	for i := range s.slots {
		s.slots[i].generation = 1
	}
	return s
}

// Start allocates a task slot due at now+startAfterMs, re-running every
// periodMs thereafter (periodMs == 0 for a one-shot task). Returns 0 if the
// table is full.
func (s *Scheduler) Start(now uint32, startAfterMs, periodMs uint32) Handle {
	for i := 0; i < MaxTasks; i++ {
		idx := (s.allocCursor + i) % MaxTasks
		if s.slots[idx].occupied {
			continue
		}
		s.allocCursor = (idx + 1) % MaxTasks
		sl := &s.slots[idx]
		sl.occupied = true
		sl.nextRunMs = now + startAfterMs
		sl.periodMs = periodMs
		return EncodeHandle(idx, sl.generation)
	}
	return 0
}

// Cancel releases a task slot before it next runs. Returns false if the
// handle is stale or already released.
func (s *Scheduler) Cancel(h Handle) bool {
	idx, gen, ok := DecodeHandle(h)
	if !ok || idx < 0 || idx >= MaxTasks {
		return false
	}
	sl := &s.slots[idx]
	if !sl.occupied || sl.generation != gen {
		return false
	}
	s.releaseSlot(idx)
	return true
}

// ClearAll releases every slot and resets the scan cursors.
func (s *Scheduler) ClearAll() {
	for i := range s.slots {
		s.slots[i].occupied = false
		s.slots[i].periodMs = 0
	}
	s.runCursor = 0
	s.allocCursor = 0
}

// HasTasks reports whether any slot is occupied.
func (s *Scheduler) HasTasks() bool {
	for i := range s.slots {
		if s.slots[i].occupied {
			return true
		}
	}
	return false
}

// findDueSlot scans starting at runCursor (inclusive) for the first occupied
// slot due at or before now, rotating the cursor so repeated due tasks don't
// starve later slots.
func (s *Scheduler) findDueSlot(now uint32) (idx int, ok bool) {
	for i := 0; i < MaxTasks; i++ {
		j := (s.runCursor + i) % MaxTasks
		sl := &s.slots[j]
		if !sl.occupied {
			continue
		}
		if timeReached(now, sl.nextRunMs) {
			s.runCursor = (j + 1) % MaxTasks
			return j, true
		}
	}
	return 0, false
}

func timeReached(now, target uint32) bool {
	return int32(now-target) >= 0
}

// HasDue reports whether any occupied slot is due at or before now.
func (s *Scheduler) HasDue(now uint32) bool {
	_, ok := s.findDueSlot(now)
	return ok
}

// NextDueMs returns the earliest nextRunMs among occupied slots, or NoDueMs
// if none are occupied.
func (s *Scheduler) NextDueMs() uint32 {
	found := false
	var best uint32
	for i := range s.slots {
		if !s.slots[i].occupied {
			continue
		}
		if !found || int32(s.slots[i].nextRunMs-best) < 0 {
			best = s.slots[i].nextRunMs
			found = true
		}
	}
	if !found {
		return NoDueMs
	}
	return best
}

// Stepper invokes one guest microtask step and returns its disposition. The
// eventloop package supplies this, backed by guest.Controller.CallMicroTaskStep.
type Stepper func(h Handle, nowMs uint32) (StepResult, error)

// RunDue executes up to maxSteps due tasks, each exactly once, applying the
// guest's requested Done/Yield/Sleep disposition to the slot afterward. It
// stops early once no slot is due.
func (s *Scheduler) RunDue(now uint32, maxSteps int, step Stepper) {
	for i := 0; i < maxSteps; i++ {
		idx, ok := s.findDueSlot(now)
		if !ok {
			return
		}
		sl := &s.slots[idx]
		h := EncodeHandle(idx, sl.generation)
		previousDue := sl.nextRunMs
		period := sl.periodMs

		res, err := step(h, now)
		if err != nil {
			s.log.Warn().Err(err).Int("slot", idx).Msg("microtask step failed, releasing slot")
			s.releaseSlot(idx)
			continue
		}

		switch res.Action {
		case ActionDone:
			s.releaseSlot(idx)
		case ActionYield:
			if period != 0 {
				sl.nextRunMs = nextPeriodicBoundary(previousDue, period, now)
			} else {
				sl.nextRunMs = now + DefaultYieldDelayMs
			}
		case ActionSleepMs:
			periodBoundary := sl.nextRunMs
			if period != 0 {
				periodBoundary = nextPeriodicBoundary(previousDue, period, now)
			}
			sleepMs := res.SleepArgMs
			if sleepMs == 0 {
				sleepMs = DefaultYieldDelayMs
			}
			sleepBoundary := now + sleepMs
			if period != 0 && int32(periodBoundary-sleepBoundary) < 0 {
				sl.nextRunMs = sleepBoundary
			} else if period != 0 {
				sl.nextRunMs = periodBoundary
			} else {
				sl.nextRunMs = sleepBoundary
			}
		default:
			s.log.Warn().Int32("action", int32(res.Action)).Int("slot", idx).
				Msg("invalid microtask action, releasing slot")
			s.releaseSlot(idx)
		}
	}
}

// nextPeriodicBoundary computes the next scheduled run at or after now for a
// periodic task, skipping over any boundaries already missed rather than
// replaying them one by one.
func nextPeriodicBoundary(previousDue, period, now uint32) uint32 {
	if !timeReached(now, previousDue) {
		return previousDue
	}
	elapsed := now - previousDue
	steps := elapsed/period + 1
	return previousDue + steps*period
}

func (s *Scheduler) releaseSlot(idx int) {
	sl := &s.slots[idx]
	sl.occupied = false
	sl.periodMs = 0
	sl.generation = nextGeneration(sl.generation)
}

func nextGeneration(g int32) int32 {
	if g <= 0 || g > maxGeneration {
		return 1
	}
	g++
	if g > maxGeneration {
		return 1
	}
	return g
}

// DebugState returns a snapshot for the debug probe surface (control.RegisterKernelProbes).
func (s *Scheduler) DebugState() map[string]any {
	occupied := 0
	for i := range s.slots {
		if s.slots[i].occupied {
			occupied++
		}
	}
	return map[string]any{
		"occupied": occupied,
		"capacity": MaxTasks,
	}
}
