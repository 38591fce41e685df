// Package eventloop assembles the Event Loop: the single goroutine that
// multiplexes touch polling, the microtask scheduler, idle power-off, and
// cross-thread command delivery into serialized guest dispatch. It owns
// every other subsystem for its lifetime.
package eventloop

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperportal/hostkernel/collab"
	"github.com/paperportal/hostkernel/control"
	"github.com/paperportal/hostkernel/gesture"
	"github.com/paperportal/hostkernel/guest"
	"github.com/paperportal/hostkernel/hostevent"
	"github.com/paperportal/hostkernel/microtask"
	"github.com/paperportal/hostkernel/pool"
)

// Timing constants.
const (
	IdleSleepTimeoutMs = 3 * 60 * 1000
	MicroTaskMaxSteps  = 16
)

// SleepGestureID is the registered id of the built-in system sleep gesture.
const SleepGestureID = "SLP"

// TouchSample is one raw touch reading from the platform's touch driver.
type TouchSample struct {
	Type      gesture.TouchType
	PointerID int
	X, Y      float64
}

// TouchSource polls the touch hardware collaborator.
type TouchSource interface {
	Poll(nowMs uint64) ([]TouchSample, error)
}

// PowerService powers the device off.
type PowerService interface {
	PowerOff(idle bool)
}

// Clock supplies monotonic wall time in 32-bit-wrapping milliseconds, the
// unit every deadline in this package is expressed in.
type Clock interface {
	NowMs() uint64
}

// EmbeddedModules is re-exported for composition-root convenience.
type EmbeddedModules = guest.EmbeddedModules

// Config bundles the loop's tunables.
type Config struct {
	Mount            string
	AppAPIVersion    int32
	IdleTimeoutMs    uint64
	HTTPMaxBodyBytes int32
}

// DefaultConfig returns the kernel's default resource budgets.
func DefaultConfig() Config {
	return Config{
		AppAPIVersion:    guest.ContractVersion,
		IdleTimeoutMs:    IdleSleepTimeoutMs,
		HTTPMaxBodyBytes: hostevent.HTTPMaxBodyBytes,
	}
}

// Loop is the Event Loop. Construct with New, then call Run from the
// dedicated loop goroutine: one loop thread owns all subsystems.
type Loop struct {
	log zerolog.Logger
	cfg Config

	queue   *hostevent.Queue
	pending *hostevent.Pending

	gestures   *gesture.Engine
	scheduler  *microtask.Scheduler
	controller *guest.Controller

	touch TouchSource
	power PowerService
	clock Clock

	http     collab.HTTPServer
	wifi     collab.WifiService
	devsrv   collab.DevServer
	fs       guest.Source
	embedded EmbeddedModules
	bodyPool pool.BytePool
	counters *control.Counters

	sleepGestureHandle int32
	tracker            touchTracker
	nextTouchPollMs    uint64

	lastInputMs uint64

	wifiSubscribeOnce sync.Once

	stop chan struct{}
}

// New assembles a Loop from its collaborators. The returned Loop is inert
// until Run is called.
func New(
	log zerolog.Logger,
	cfg Config,
	queue *hostevent.Queue,
	pending *hostevent.Pending,
	gestures *gesture.Engine,
	scheduler *microtask.Scheduler,
	controller *guest.Controller,
	touch TouchSource,
	power PowerService,
	clock Clock,
	http collab.HTTPServer,
	wifi collab.WifiService,
	devsrv collab.DevServer,
	fs guest.Source,
	embedded EmbeddedModules,
	bodyPool pool.BytePool,
	counters *control.Counters,
) *Loop {
	return &Loop{
		log:        log.With().Str("component", "eventloop").Logger(),
		cfg:        cfg,
		queue:      queue,
		pending:    pending,
		gestures:   gestures,
		scheduler:  scheduler,
		controller: controller,
		touch:      touch,
		power:      power,
		clock:      clock,
		http:       http,
		wifi:       wifi,
		devsrv:     devsrv,
		fs:         fs,
		embedded:   embedded,
		bodyPool:   bodyPool,
		counters:   counters,
		stop:       make(chan struct{}),
	}
}

// DebugState returns a snapshot for the debug probe surface (control.RegisterKernelProbes).
func (l *Loop) DebugState() map[string]any {
	return map[string]any{
		"last_input_ms":       l.lastInputMs,
		"next_touch_poll_ms":  l.nextTouchPollMs,
		"touch_active":        l.tracker.active,
	}
}

func now32(nowMs uint64) uint32 { return uint32(nowMs) }

func timeReached(now, target uint32) bool { return hostevent.TimeReached(now, target) }

func timeUntil(now, target uint32) uint32 { return hostevent.TimeUntil(now, target) }

// registerSystemGestures installs the built-in sleep gesture.
func (l *Loop) registerSystemGestures() {
	l.sleepGestureHandle = l.gestures.RegisterPolyline(
		SleepGestureID,
		[]gesture.Point{{X: 280, Y: 860}, {X: 280, Y: 500}, {X: 280, Y: 860}},
		true,  // fixed: absolute screen coordinates
		100,   // tolerancePx
		10,    // priority
		1500,  // maxDurationMs
		false, // segmentConstraintEnabled
		true,  // system
	)
}

// Start performs first-boot loading: registers system gestures, logs the
// Wi-Fi service hookup exactly once per Loop (collab.WifiService has no
// subscribe call; Wi-Fi events reach the loop through the event queue), and
// loads+instantiates+initializes the default launcher entrypoint.
func (l *Loop) Start(ctx context.Context) error {
	l.registerSystemGestures()

	nowMs := l.clock.NowMs()
	l.lastInputMs = nowMs
	l.nextTouchPollMs = nowMs

	l.wifiSubscribeOnce.Do(func() {
		if l.wifi != nil {
			l.log.Info().Msg("wifi service attached")
		}
	})

	if err := l.controller.LoadEntrypoint(ctx, "launcher", l.cfg.Mount, l.fs, l.embedded); err != nil {
		return err
	}
	if err := l.controller.Instantiate(ctx); err != nil {
		return err
	}
	return l.controller.CallInit(ctx, l.cfg.AppAPIVersion, nil)
}

// Stop signals Run to return after completing its current iteration.
func (l *Loop) Stop() {
	close(l.stop)
}

// Run executes the loop until Stop is called. It must run on the goroutine
// dedicated to the loop; callers typically pin that goroutine's
// OS thread via the affinity package first.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if l.counters != nil {
			l.counters.IncIteration()
		}

		nowMs := l.clock.NowMs()
		now := now32(nowMs)

		deadline := l.computeDeadline(now)
		wait := time.Duration(timeUntil(now, deadline)) * time.Millisecond

		if ev, ok := l.queue.Dequeue(wait); ok {
			l.dispatch(ctx, ev)
			l.recoverFromCrash(ctx)
		}

		l.applyDeferredTransitions(ctx)

		nowMs = l.clock.NowMs()
		now = now32(nowMs)
		l.checkIdle(now)

		if timeReached(now, now32(l.nextTouchPollMs)) {
			if l.pollTouch(ctx, nowMs) {
				l.lastInputMs = nowMs
			}
			interval := uint64(touchPollIdleMs)
			if l.tracker.active {
				interval = touchPollActiveMs
			}
			l.nextTouchPollMs = nowMs + interval
		}

		if l.scheduler.HasDue(now) {
			l.runMicrotasks(ctx, now)
			l.recoverFromCrash(ctx)
		}
	}
}

// computeDeadline is step 1 of the loop iteration: the minimum of the next
// touch poll, next microtask due time, and idle-sleep deadline, when each
// applies.
func (l *Loop) computeDeadline(now uint32) uint32 {
	deadline := now32(l.nextTouchPollMs)

	if due := l.scheduler.NextDueMs(); due != microtask.NoDueMs && timeUntil(now, due) < timeUntil(now, deadline) {
		deadline = due
	}

	if !l.devserverActive() {
		idleDeadline := now32(l.lastInputMs) + IdleSleepTimeoutMs
		if timeUntil(now, idleDeadline) < timeUntil(now, deadline) {
			deadline = idleDeadline
		}
	}

	return deadline
}

func (l *Loop) devserverActive() bool {
	return l.devsrv != nil && (l.devsrv.IsRunning() || l.devsrv.IsStarting())
}

// checkIdle is step 4: reset the idle timer while the devserver is active,
// otherwise power off once the idle deadline is reached.
// Note the source performs an equivalent check twice per iteration (once
// implicitly while computing the deadline, once explicitly here); this
// mirrors that duplicated structure rather than optimizing it away, since
// the second check is what actually triggers power-off after the wait.
func (l *Loop) checkIdle(now uint32) {
	if l.devserverActive() {
		l.lastInputMs = uint64(now)
		return
	}
	idleDeadline := now32(l.lastInputMs) + IdleSleepTimeoutMs
	if timeReached(now, idleDeadline) {
		l.log.Info().Uint32("idle_ms", now-now32(l.lastInputMs)).Msg("idle timeout elapsed; powering off")
		if l.power != nil {
			l.power.PowerOff(true)
		}
		l.lastInputMs = uint64(now)
	}
}

// applyDeferredTransitions is step 3: switch wins over exit when both are
// pending.
func (l *Loop) applyDeferredTransitions(ctx context.Context) {
	sw, exit := l.pending.Take()
	switch {
	case sw != nil:
		l.handleAppSwitch(ctx, sw)
	case exit:
		l.handleAppExit(ctx)
	}
}

func (l *Loop) handleAppSwitch(ctx context.Context, sw *hostevent.PendingSwitch) {
	l.log.Info().Str("app_id", sw.AppID).Msg("processing pending app switch")

	if l.controller.State() == guest.Running {
		l.controller.CallShutdown(ctx)
	}
	l.controller.Unload(ctx)

	var err error
	switch sw.AppID {
	case "launcher", "settings":
		err = l.controller.LoadEmbedded(sw.AppID, l.embedded)
	default:
		err = l.controller.LoadEntrypoint(ctx, sw.AppID, l.cfg.Mount, l.fs, l.embedded)
	}
	if err == nil {
		if err = l.controller.Instantiate(ctx); err == nil {
			args := []byte(sw.Args)
			err = l.controller.CallInit(ctx, l.cfg.AppAPIVersion, args)
		}
	}
	if err != nil {
		l.log.Error().Err(err).Str("app_id", sw.AppID).Msg("app switch failed")
	}
}

func (l *Loop) handleAppExit(ctx context.Context) {
	l.log.Info().Msg("processing pending app exit")

	if l.controller.State() == guest.Running {
		l.controller.CallShutdown(ctx)
	}
	l.controller.Unload(ctx)

	if err := l.controller.LoadEntrypoint(ctx, "launcher", l.cfg.Mount, l.fs, l.embedded); err != nil {
		l.log.Error().Err(err).Msg("failed to load launcher after app exit")
		return
	}
	if err := l.controller.Instantiate(ctx); err != nil {
		l.log.Error().Err(err).Msg("failed to instantiate launcher after app exit")
		return
	}
	if err := l.controller.CallInit(ctx, l.cfg.AppAPIVersion, nil); err != nil {
		l.log.Error().Err(err).Msg("launcher init failed after app exit")
		return
	}
	l.log.Info().Msg("returned to launcher after app exit")
}

func (l *Loop) recoverFromCrash(ctx context.Context) {
	uploadedCrashed := l.devsrv != nil && l.devsrv.UploadedAppIsCrashed()
	if l.controller.RecoverFromCrash(ctx, uploadedCrashed, l.cfg.Mount, l.fs, l.embedded, l.cfg.AppAPIVersion) {
		if l.devsrv != nil {
			l.devsrv.NotifyUploadedStopped()
		}
		if l.counters != nil {
			l.counters.IncCrashRecovery()
		}
	}
}

func (l *Loop) runMicrotasks(ctx context.Context, now uint32) {
	l.scheduler.RunDue(now, MicroTaskMaxSteps, func(h microtask.Handle, nowMs uint32) (microtask.StepResult, error) {
		packed, err := l.controller.CallMicroTaskStep(ctx, int32(h), nowMs)
		if l.counters != nil {
			l.counters.IncMicrotaskStep()
			l.counters.IncGuestCall()
		}
		if err != nil {
			return microtask.StepResult{}, err
		}
		return decodeStepResult(packed), nil
	})
}

// decodeStepResult unpacks the guest's i64 return from microtask_step into
// an action kind (high 32 bits) and argument (low 32 bits).
func decodeStepResult(packed int64) microtask.StepResult {
	action := microtask.Action(int32(packed >> 32))
	arg := uint32(packed)
	return microtask.StepResult{Action: action, SleepArgMs: arg}
}

// dispatch performs event-type-specific handling.
func (l *Loop) dispatch(ctx context.Context, ev hostevent.Event) {
	switch ev.Type {
	case hostevent.Tick:
		// Reserved for host-internal scheduling; not currently produced.
	case hostevent.Gesture:
		g := ev.Gesture
		_ = l.controller.CallOnGesture(ctx, g.Kind, float32(g.X), float32(g.Y), float32(g.DX), float32(g.DY), uint32(g.DurationMs), ev.NowMs, g.Flags)
		if l.counters != nil {
			l.counters.IncGestureEvent()
			l.counters.IncGuestCall()
		}
	case hostevent.HTTPRequest:
		l.dispatchHTTP(ctx, ev)
	case hostevent.WifiEvent:
		l.dispatchWifi(ctx, ev)
	case hostevent.DevCommand:
		l.dispatchDevCommand(ctx, ev)
	}
}

func (l *Loop) dispatchHTTP(ctx context.Context, ev hostevent.Event) {
	if !l.controller.HasHTTPRequestHandler() || l.http == nil {
		return
	}
	h := ev.HTTP
	info, method, ok := l.http.RequestInfo(h.ReqID)
	if !ok {
		l.log.Warn().Int32("req_id", h.ReqID).Msg("http request info missing")
		return
	}

	staging := l.bodyPool.Get()
	defer l.bodyPool.Put(staging)

	n := 0
	var flags int32
	if info.Body != nil {
		var err error
		n, err = io.ReadFull(info.Body, staging)
		switch err {
		case nil:
			// staging filled completely; a larger declared length or more
			// data waiting means the body was truncated.
			one := make([]byte, 1)
			if extra, _ := info.Body.Read(one); extra > 0 || int(info.ContentLen) > n {
				flags |= hostevent.HTTPFlagBodyTruncated
			}
		case io.ErrUnexpectedEOF, io.EOF:
			// The body ended before filling staging; ending short of
			// ContentLen means the transport read underran.
			if n < int(info.ContentLen) {
				flags |= hostevent.HTTPFlagBodyTruncated
			}
		default:
			l.log.Warn().Err(err).Int32("req_id", h.ReqID).Msg("http body read failed")
		}
	}
	body := staging[:n]

	if err := l.controller.CallOnHTTPRequest(ctx, h.ReqID, method, info.URI, body, info.ContentLen, ev.NowMs, flags); err != nil {
		l.log.Error().Err(err).Int32("req_id", h.ReqID).Msg("http dispatch failed")
	}
}

func (l *Loop) dispatchWifi(ctx context.Context, ev hostevent.Event) {
	w := ev.Wifi
	if w.Kind == hostevent.WifiStaDisconnected && l.wifi != nil && l.devsrv != nil {
		if status, err := l.wifi.Status(); err == nil && !status.APRunning {
			_ = l.devsrv.Stop(ctx)
			l.devsrv.NotifyServerError("wifi disconnected")
		}
	}
	if l.controller.HasWifiEventHandler() {
		_ = l.controller.CallOnWifiEvent(ctx, w.Kind, ev.NowMs, w.Arg0, w.Arg1)
	}
}

func (l *Loop) dispatchDevCommand(ctx context.Context, ev hostevent.Event) {
	cmd := ev.Dev.Cmd
	if cmd == nil {
		return
	}
	reloadLauncher := func() bool {
		l.controller.Unload(ctx)
		if err := l.controller.LoadEntrypoint(ctx, "launcher", l.cfg.Mount, l.fs, l.embedded); err != nil {
			return false
		}
		if err := l.controller.Instantiate(ctx); err != nil {
			return false
		}
		return l.controller.CallInit(ctx, l.cfg.AppAPIVersion, nil) == nil
	}

	switch cmd.Kind {
	case hostevent.RunUploadedWasm:
		if l.devsrv != nil && l.devsrv.UploadedAppIsRunning() {
			l.devsrv.NotifyUploadedStopped()
		}
		l.controller.CallShutdown(ctx)
		l.controller.Unload(ctx)

		if err := l.controller.LoadBytes(cmd.WasmBytes, true); err != nil {
			l.finishDevCommand(cmd, -2, err.Error(), reloadLauncher)
			return
		}
		if err := l.controller.Instantiate(ctx); err != nil {
			l.finishDevCommand(cmd, -2, err.Error(), reloadLauncher)
			return
		}
		if err := l.controller.CallInit(ctx, l.cfg.AppAPIVersion, []byte(cmd.Args)); err != nil {
			l.finishDevCommand(cmd, -2, err.Error(), reloadLauncher)
			return
		}
		if l.devsrv != nil {
			l.devsrv.NotifyUploadedStarted()
		}
		l.finishDevCommand(cmd, 0, "ok", nil)

	case hostevent.StopUploadedWasm:
		if l.devsrv == nil || !l.devsrv.UploadedAppIsRunning() {
			l.finishDevCommand(cmd, 0, "ok", nil)
			return
		}
		l.controller.CallShutdown(ctx)
		if !reloadLauncher() {
			l.finishDevCommand(cmd, -2, "reload launcher failed", nil)
			return
		}
		l.devsrv.NotifyUploadedStopped()
		l.finishDevCommand(cmd, 0, "ok", nil)

	default:
		l.finishDevCommand(cmd, -1, "unknown dev command", nil)
	}
}

// finishDevCommand signals the reply and releases the loop's ownership of
// it. If onFailure is non-nil it is invoked to restore a known-good launcher
// before signaling.
func (l *Loop) finishDevCommand(cmd *hostevent.DevCommand, result int32, message string, onFailure func() bool) {
	if onFailure != nil {
		if !onFailure() {
			message = "reload launcher failed: " + message
		}
		if l.devsrv != nil {
			l.devsrv.NotifyServerError(message)
		}
	}
	if cmd.Reply != nil {
		cmd.Reply.Signal(result, message)
		cmd.Reply.Release()
	}
}

// pollTouch is step 5: poll the touch hardware and feed samples to the
// gesture engine and built-in synthesizer. Built-in gestures are forwarded
// straight to the guest; a custom-polyline winner is enqueued as a Gesture
// event. It returns whether any input was observed.
func (l *Loop) pollTouch(ctx context.Context, nowMs uint64) bool {
	samples, err := l.touch.Poll(nowMs)
	if err != nil {
		l.log.Warn().Err(err).Msg("touch poll failed")
		return false
	}
	observed := false
	for _, s := range samples {
		observed = true
		l.processTouchSample(ctx, s, nowMs)
	}
	if !observed {
		if ev, ok := l.tracker.maybeLongPress(nowMs); ok {
			l.forwardBuiltin(ctx, *ev, nowMs)
		}
	}
	return observed
}

func (l *Loop) processTouchSample(ctx context.Context, s TouchSample, nowMs uint64) {
	pos := gesture.Point{X: s.X, Y: s.Y}

	switch s.Type {
	case gesture.Down:
		l.tracker.onDown(pos, nowMs)
	case gesture.Move:
		if ev, ok := l.tracker.onMove(pos, nowMs); ok {
			l.forwardBuiltin(ctx, *ev, nowMs)
		}
	case gesture.Up:
		if ev, ok := l.tracker.onUp(pos, nowMs); ok {
			l.forwardBuiltin(ctx, *ev, nowMs)
		}
	case gesture.Cancel:
		l.tracker.active = false
	}

	winner := l.gestures.ProcessTouchEvent(gesture.TouchEvent{
		Type: s.Type, PointerID: s.PointerID, X: s.X, Y: s.Y, TimeMs: nowMs,
	})

	if s.Type != gesture.Up || winner == 0 {
		return
	}
	if l.sleepGestureHandle != 0 && winner == l.sleepGestureHandle {
		l.log.Info().Msg("system sleep gesture matched; powering off")
		if l.power != nil {
			l.power.PowerOff(false)
		}
		return
	}
	l.queue.TryEnqueue(hostevent.NewGestureEvent(now32(nowMs), hostevent.GestureData{
		Kind: int32(kindCustomPolyline), X: int32(s.X), Y: int32(s.Y), Flags: winner,
	}))
}

func (l *Loop) forwardBuiltin(ctx context.Context, ev builtinEvent, nowMs uint64) {
	_ = l.controller.CallOnGesture(ctx, int32(ev.kind), float32(ev.x), float32(ev.y), float32(ev.dx), float32(ev.dy), ev.durationMs, now32(nowMs), ev.flags)
}
