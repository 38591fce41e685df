package gesture

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine() *Engine {
	return New(zerolog.Nop())
}

func TestRegisterPolylineValidation(t *testing.T) {
	e := newTestEngine()

	if h := e.RegisterPolyline("", []Point{{0, 0}, {1, 1}}, true, 10, 0, 0, false, false); h != -1 {
		t.Errorf("empty id: got %d, want -1", h)
	}
	if h := e.RegisterPolyline("x", []Point{{0, 0}}, true, 10, 0, 0, false, false); h != -1 {
		t.Errorf("single point: got %d, want -1", h)
	}
	if h := e.RegisterPolyline("x", []Point{{0, 0}, {1, 1}}, true, 0, 0, 0, false, false); h != -1 {
		t.Errorf("zero tolerance: got %d, want -1", h)
	}

	h1 := e.RegisterPolyline("a", []Point{{0, 0}, {10, 10}}, true, 10, 0, 0, false, false)
	h2 := e.RegisterPolyline("b", []Point{{0, 0}, {10, 10}}, true, 10, 0, 0, false, false)
	if h1 == h2 || h1 <= 0 || h2 <= 0 {
		t.Fatalf("expected distinct positive handles, got %d, %d", h1, h2)
	}
}

func TestRemoveRejectsSystemGesture(t *testing.T) {
	e := newTestEngine()
	h := e.RegisterPolyline("sys", []Point{{0, 0}, {1, 1}}, true, 10, 0, 0, false, true)
	if got := e.Remove(h); got != -4 {
		t.Errorf("Remove(system) = %d, want -4", got)
	}
	if got := e.Remove(h + 100); got != -4 {
		t.Errorf("Remove(unknown) = %d, want -4", got)
	}
	if got := e.Remove(0); got != -1 {
		t.Errorf("Remove(0) = %d, want -1", got)
	}
}

func TestClearCustomPreservesSystemGestures(t *testing.T) {
	e := newTestEngine()
	e.RegisterPolyline("sys", []Point{{0, 0}, {1, 1}}, true, 10, 0, 0, false, true)
	e.RegisterPolyline("custom", []Point{{0, 0}, {1, 1}}, true, 10, 0, 0, false, false)

	if got := e.DebugState()["registered"]; got != 2 {
		t.Fatalf("expected 2 registered gestures before clear, got %v", got)
	}

	e.ClearCustom()

	if got := e.DebugState()["registered"]; got != 1 {
		t.Fatalf("expected only the system gesture to survive ClearCustom, got %v", got)
	}
}

// TestStraightLineWinsOnLift exercises a simple two-point polyline that
// should match when the touch travels directly from the first to the second
// waypoint and lifts near the end.
func TestStraightLineWinsOnLift(t *testing.T) {
	e := newTestEngine()
	handle := e.RegisterPolyline("line", []Point{{0, 0}, {100, 0}}, true, 12, 5, 0, false, false)

	winner := e.ProcessTouchEvent(TouchEvent{Type: Down, PointerID: 1, X: 0, Y: 0, TimeMs: 0})
	if winner != 0 {
		t.Fatalf("Down should never report a winner, got %d", winner)
	}
	e.ProcessTouchEvent(TouchEvent{Type: Move, PointerID: 1, X: 50, Y: 0, TimeMs: 50})
	winner = e.ProcessTouchEvent(TouchEvent{Type: Up, PointerID: 1, X: 100, Y: 0, TimeMs: 100})

	if winner != handle {
		t.Fatalf("expected handle %d to win, got %d", handle, winner)
	}
}

func TestWinnerSelectionPrefersHigherPriority(t *testing.T) {
	e := newTestEngine()
	low := e.RegisterPolyline("low", []Point{{0, 0}, {100, 0}}, true, 20, 1, 0, false, false)
	high := e.RegisterPolyline("high", []Point{{0, 0}, {100, 0}}, true, 20, 10, 0, false, false)

	e.ProcessTouchEvent(TouchEvent{Type: Down, PointerID: 1, X: 0, Y: 0, TimeMs: 0})
	winner := e.ProcessTouchEvent(TouchEvent{Type: Up, PointerID: 1, X: 100, Y: 0, TimeMs: 10})

	if winner != high {
		t.Fatalf("expected higher-priority handle %d to win over %d, got %d", high, low, winner)
	}
}

func TestMaxDurationExpiresCandidate(t *testing.T) {
	e := newTestEngine()
	handle := e.RegisterPolyline("timed", []Point{{0, 0}, {100, 0}}, true, 20, 0, 50, false, false)

	e.ProcessTouchEvent(TouchEvent{Type: Down, PointerID: 1, X: 0, Y: 0, TimeMs: 0})
	winner := e.ProcessTouchEvent(TouchEvent{Type: Up, PointerID: 1, X: 100, Y: 0, TimeMs: 1000})

	if winner == handle {
		t.Fatalf("gesture exceeding MaxDurationMs should not win")
	}
}

func TestDifferentPointerIDIgnored(t *testing.T) {
	e := newTestEngine()
	e.RegisterPolyline("line", []Point{{0, 0}, {100, 0}}, true, 12, 0, 0, false, false)

	e.ProcessTouchEvent(TouchEvent{Type: Down, PointerID: 1, X: 0, Y: 0, TimeMs: 0})
	winner := e.ProcessTouchEvent(TouchEvent{Type: Up, PointerID: 2, X: 100, Y: 0, TimeMs: 10})
	if winner != 0 {
		t.Fatalf("a lift from a different pointer id should not select a winner, got %d", winner)
	}
}

func TestDistSqPointToSegment(t *testing.T) {
	if got := distSqPointToSegment(Point{5, 5}, Point{0, 0}, Point{10, 0}); got != 25 {
		t.Errorf("distSqPointToSegment = %v, want 25", got)
	}
	// Degenerate segment (a == b) falls back to point distance.
	if got := distSqPointToSegment(Point{3, 4}, Point{0, 0}, Point{0, 0}); got != 25 {
		t.Errorf("degenerate segment distSq = %v, want 25", got)
	}
}
