package eventloop

import "github.com/paperportal/hostkernel/gesture"

// Touch synthesis constants.
const (
	tapMaxMovePx          = 8.0
	longPressMinDurationMs = 500
	tapMaxDurationMs       = 250
	flickMaxDurationMs     = 250
	flickMinDistancePx     = 24.0

	touchPollIdleMs   = 50
	touchPollActiveMs = 20
)

// touchTracker synthesizes Tap/LongPress/Flick/DragStart/DragMove/DragEnd
// from raw Down/Move/Up samples of a single pointer, independently of the
// gesture engine's polyline matching.
type touchTracker struct {
	active           bool
	dragging         bool
	longPressEmitted bool

	downPos  gesture.Point
	lastPos  gesture.Point
	downTime uint64
}

// builtinKind matches the guest-facing gesture kind constants.
type builtinKind int32

const (
	kindTap            builtinKind = 1
	kindLongPress      builtinKind = 2
	kindFlick          builtinKind = 3
	kindDragStart      builtinKind = 4
	kindDragMove       builtinKind = 5
	kindDragEnd        builtinKind = 6
	kindCustomPolyline builtinKind = 100
)

// builtinEvent is one synthesized built-in gesture, ready for forwarding to
// the guest's on_gesture handler.
type builtinEvent struct {
	kind       builtinKind
	x, y       float64
	dx, dy     float64
	durationMs uint32
	flags      int32
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// onDown starts tracking a new touch.
func (t *touchTracker) onDown(pos gesture.Point, nowMs uint64) {
	t.active = true
	t.dragging = false
	t.longPressEmitted = false
	t.downPos = pos
	t.lastPos = pos
	t.downTime = nowMs
}

// onMove updates tracking and returns a DragStart or DragMove event if the
// movement crosses the drag threshold or a drag is already in progress.
func (t *touchTracker) onMove(pos gesture.Point, nowMs uint64) (ev *builtinEvent, ok bool) {
	if !t.active {
		return nil, false
	}
	t.lastPos = pos
	dx := pos.X - t.downPos.X
	dy := pos.Y - t.downPos.Y

	if !t.dragging {
		if absF(dx) > tapMaxMovePx || absF(dy) > tapMaxMovePx {
			t.dragging = true
			return &builtinEvent{kind: kindDragStart, x: pos.X, y: pos.Y, dx: dx, dy: dy, durationMs: durationSince(t.downTime, nowMs)}, true
		}
		return nil, false
	}
	return &builtinEvent{kind: kindDragMove, x: pos.X, y: pos.Y, dx: dx, dy: dy, durationMs: durationSince(t.downTime, nowMs)}, true
}

// maybeLongPress returns a LongPress event the first time the hold duration
// crosses the threshold without movement or dragging, called from the idle
// poll path (a touch held in place generates no Move samples).
func (t *touchTracker) maybeLongPress(nowMs uint64) (ev *builtinEvent, ok bool) {
	if !t.active || t.dragging || t.longPressEmitted {
		return nil, false
	}
	duration := durationSince(t.downTime, nowMs)
	dx := t.lastPos.X - t.downPos.X
	dy := t.lastPos.Y - t.downPos.Y
	if duration < longPressMinDurationMs || absF(dx) > tapMaxMovePx || absF(dy) > tapMaxMovePx {
		return nil, false
	}
	t.longPressEmitted = true
	return &builtinEvent{kind: kindLongPress, x: t.lastPos.X, y: t.lastPos.Y, durationMs: duration}, true
}

// onUp finalizes the touch and returns the built-in event it resolves to, if
// any (DragEnd, Tap, or Flick).
func (t *touchTracker) onUp(pos gesture.Point, nowMs uint64) (ev *builtinEvent, ok bool) {
	if !t.active {
		return nil, false
	}
	defer func() { t.active = false }()

	duration := durationSince(t.downTime, nowMs)
	dx := pos.X - t.downPos.X
	dy := pos.Y - t.downPos.Y

	if t.dragging {
		return &builtinEvent{kind: kindDragEnd, x: pos.X, y: pos.Y, dx: dx, dy: dy, durationMs: duration}, true
	}
	if t.longPressEmitted {
		return nil, false
	}
	if duration <= tapMaxDurationMs && absF(dx) <= tapMaxMovePx && absF(dy) <= tapMaxMovePx {
		return &builtinEvent{kind: kindTap, x: pos.X, y: pos.Y, durationMs: duration}, true
	}
	if duration <= flickMaxDurationMs && (absF(dx) >= flickMinDistancePx || absF(dy) >= flickMinDistancePx) {
		return &builtinEvent{kind: kindFlick, x: pos.X, y: pos.Y, dx: dx, dy: dy, durationMs: duration}, true
	}
	return nil, false
}

func durationSince(start, now uint64) uint32 {
	if now < start {
		return 0
	}
	d := now - start
	if d > 0xffffffff {
		return 0xffffffff
	}
	return uint32(d)
}
