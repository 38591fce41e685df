// Wires the generic ConfigStore/MetricsRegistry/DebugProbes primitives to the
// host kernel's own concerns: tunable settings, per-subsystem counters, and
// state-dump probes for the event loop, gesture engine, microtask scheduler,
// and guest controller.

package control

// Settings are the kernel's runtime-tunable knobs, backed by a ConfigStore so
// they can be hot-reloaded without a restart.
type Settings struct {
	store *ConfigStore
}

// NewSettings wraps store with typed accessors for the kernel's known keys.
func NewSettings(store *ConfigStore) *Settings {
	return &Settings{store: store}
}

const (
	keyIdleTimeoutMs    = "idle_timeout_ms"
	keyTouchPollIdleMs  = "touch_poll_idle_ms"
	keyTouchPollActiveMs = "touch_poll_active_ms"
	keyHTTPMaxBodyBytes = "http_max_body_bytes"
)

// Apply seeds the store with the kernel's default tunables. Later SetConfig
// calls (e.g. from a settings app) override them and trigger OnReload hooks.
func (s *Settings) Apply(idleTimeoutMs, touchPollIdleMs, touchPollActiveMs, httpMaxBodyBytes uint32) {
	s.store.SetConfig(map[string]any{
		keyIdleTimeoutMs:     idleTimeoutMs,
		keyTouchPollIdleMs:   touchPollIdleMs,
		keyTouchPollActiveMs: touchPollActiveMs,
		keyHTTPMaxBodyBytes:  httpMaxBodyBytes,
	})
	TriggerHotReload()
}

func (s *Settings) uint32(key string, def uint32) uint32 {
	snap := s.store.GetSnapshot()
	if v, ok := snap[key]; ok {
		if u, ok := v.(uint32); ok {
			return u
		}
	}
	return def
}

// IdleTimeoutMs returns the current idle-to-power-off timeout.
func (s *Settings) IdleTimeoutMs() uint32 { return s.uint32(keyIdleTimeoutMs, 3*60*1000) }

// TouchPollIdleMs returns the current idle touch-poll interval.
func (s *Settings) TouchPollIdleMs() uint32 { return s.uint32(keyTouchPollIdleMs, 50) }

// TouchPollActiveMs returns the current active touch-poll interval.
func (s *Settings) TouchPollActiveMs() uint32 { return s.uint32(keyTouchPollActiveMs, 20) }

// HTTPMaxBodyBytes returns the current per-request body staging cap.
func (s *Settings) HTTPMaxBodyBytes() uint32 { return s.uint32(keyHTTPMaxBodyBytes, 8192) }

// Counters are the kernel's loop-facing operation counters, surfaced through
// a MetricsRegistry so a debug HTTP surface can read them without reaching
// into the loop's internals directly.
type Counters struct {
	reg *MetricsRegistry

	iterations     uint64
	gestureEvents  uint64
	microtaskSteps uint64
	guestCalls     uint64
	crashRecoveries uint64
}

// NewCounters wraps reg with the kernel's known counter keys.
func NewCounters(reg *MetricsRegistry) *Counters {
	return &Counters{reg: reg}
}

// IncIteration records one loop iteration.
func (c *Counters) IncIteration() {
	c.iterations++
	c.reg.Set("loop.iterations", c.iterations)
}

// IncGestureEvent records one gesture dispatched to the guest.
func (c *Counters) IncGestureEvent() {
	c.gestureEvents++
	c.reg.Set("gesture.events", c.gestureEvents)
}

// IncMicrotaskStep records one microtask step executed.
func (c *Counters) IncMicrotaskStep() {
	c.microtaskSteps++
	c.reg.Set("microtask.steps", c.microtaskSteps)
}

// IncGuestCall records one guest export invocation of any kind.
func (c *Counters) IncGuestCall() {
	c.guestCalls++
	c.reg.Set("guest.calls", c.guestCalls)
}

// IncCrashRecovery records one successful crash-recovery reload.
func (c *Counters) IncCrashRecovery() {
	c.crashRecoveries++
	c.reg.Set("guest.crash_recoveries", c.crashRecoveries)
}

// StateProvider is implemented by each subsystem the debug probes report on.
// eventloop.Loop, gesture.Engine, microtask.Scheduler, and guest.Controller
// each expose a narrow snapshot method satisfying this shape indirectly
// through the closures RegisterKernelProbes wires up.
type StateProvider func() any

// RegisterKernelProbes wires one debug probe per subsystem into probes,
// keyed by subsystem name, so DumpState() produces a single combined
// snapshot. Probes only read state; they never mutate it.
func RegisterKernelProbes(probes *DebugProbes, eventLoopState, gestureState, microtaskState, guestState StateProvider) {
	probes.RegisterProbe("eventloop", func() any { return eventLoopState() })
	probes.RegisterProbe("gesture", func() any { return gestureState() })
	probes.RegisterProbe("microtask", func() any { return microtaskState() })
	probes.RegisterProbe("guest", func() any { return guestState() })
}
