package eventloop

import (
	"testing"

	"github.com/paperportal/hostkernel/gesture"
)

func TestTouchTrackerTap(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 10, Y: 10}, 1000)
	ev, ok := tr.onUp(gesture.Point{X: 12, Y: 11}, 1100)
	if !ok {
		t.Fatal("expected a tap event")
	}
	if ev.kind != kindTap {
		t.Fatalf("kind = %d, want kindTap", ev.kind)
	}
	if ev.durationMs != 100 {
		t.Fatalf("durationMs = %d, want 100", ev.durationMs)
	}
}

func TestTouchTrackerTapRejectedByExcessMovement(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 10, Y: 10}, 1000)
	// Movement beyond tapMaxMovePx but resolved fast enough that it never
	// crossed the drag threshold via onMove — simulate a jump straight to up.
	ev, ok := tr.onUp(gesture.Point{X: 30, Y: 10}, 1050)
	if ok {
		t.Fatalf("expected no tap for excess movement, got kind %d", ev.kind)
	}
}

func TestTouchTrackerTapRejectedByExcessDuration(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 10, Y: 10}, 1000)
	ev, ok := tr.onUp(gesture.Point{X: 10, Y: 10}, 1000+tapMaxDurationMs+1)
	if ok {
		t.Fatalf("expected no tap past tapMaxDurationMs, got kind %d", ev.kind)
	}
}

func TestTouchTrackerFlick(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 0, Y: 0}, 1000)
	ev, ok := tr.onUp(gesture.Point{X: flickMinDistancePx + 5, Y: 0}, 1000+flickMaxDurationMs-10)
	if !ok {
		t.Fatal("expected a flick event")
	}
	if ev.kind != kindFlick {
		t.Fatalf("kind = %d, want kindFlick", ev.kind)
	}
	if ev.dx != flickMinDistancePx+5 {
		t.Fatalf("dx = %v", ev.dx)
	}
}

func TestTouchTrackerDragStartThenMoveThenEnd(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 0, Y: 0}, 1000)

	ev, ok := tr.onMove(gesture.Point{X: tapMaxMovePx + 1, Y: 0}, 1010)
	if !ok || ev.kind != kindDragStart {
		t.Fatalf("expected DragStart, got ok=%v ev=%v", ok, ev)
	}
	if !tr.dragging {
		t.Fatal("tracker should be marked dragging after DragStart")
	}

	ev, ok = tr.onMove(gesture.Point{X: tapMaxMovePx + 5, Y: 2}, 1020)
	if !ok || ev.kind != kindDragMove {
		t.Fatalf("expected DragMove, got ok=%v ev=%v", ok, ev)
	}

	ev, ok = tr.onUp(gesture.Point{X: tapMaxMovePx + 5, Y: 2}, 1030)
	if !ok || ev.kind != kindDragEnd {
		t.Fatalf("expected DragEnd, got ok=%v ev=%v", ok, ev)
	}
	if tr.active {
		t.Fatal("tracker should be inactive after onUp")
	}
}

func TestTouchTrackerMoveIgnoredWhenNotActive(t *testing.T) {
	var tr touchTracker
	if _, ok := tr.onMove(gesture.Point{X: 1, Y: 1}, 1000); ok {
		t.Fatal("onMove should no-op when no touch is down")
	}
}

func TestTouchTrackerLongPress(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 5, Y: 5}, 1000)

	if ev, ok := tr.maybeLongPress(1000 + longPressMinDurationMs - 1); ok {
		t.Fatalf("long press fired too early: %v", ev)
	}

	ev, ok := tr.maybeLongPress(1000 + longPressMinDurationMs)
	if !ok || ev.kind != kindLongPress {
		t.Fatalf("expected LongPress, got ok=%v ev=%v", ok, ev)
	}

	// Subsequent polls should not re-fire.
	if _, ok := tr.maybeLongPress(1000 + longPressMinDurationMs + 100); ok {
		t.Fatal("long press should only fire once per touch")
	}
}

func TestTouchTrackerLongPressSuppressedByMovement(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 5, Y: 5}, 1000)
	tr.lastPos = gesture.Point{X: 5 + tapMaxMovePx + 1, Y: 5}
	if _, ok := tr.maybeLongPress(1000 + longPressMinDurationMs); ok {
		t.Fatal("long press should not fire once movement exceeds tapMaxMovePx")
	}
}

func TestTouchTrackerUpAfterLongPressEmitsNothing(t *testing.T) {
	var tr touchTracker
	tr.onDown(gesture.Point{X: 5, Y: 5}, 1000)
	tr.maybeLongPress(1000 + longPressMinDurationMs)

	if _, ok := tr.onUp(gesture.Point{X: 5, Y: 5}, 1000+longPressMinDurationMs+10); ok {
		t.Fatal("onUp should not emit a second event after a long press already fired")
	}
}

func TestDurationSinceHandlesWraparoundGuard(t *testing.T) {
	if d := durationSince(1000, 500); d != 0 {
		t.Fatalf("durationSince with now < start should clamp to 0, got %d", d)
	}
	if d := durationSince(1000, 1500); d != 500 {
		t.Fatalf("durationSince = %d, want 500", d)
	}
}
