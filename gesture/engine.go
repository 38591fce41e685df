// Package gesture implements the multi-candidate polyline matcher: the
// engine that tracks one active touch against every registered custom
// gesture definition and picks a winner on lift.
package gesture

import (
	"fmt"

	"github.com/rs/zerolog"
)

// TouchType is the kind of a single touch sample fed to the engine.
type TouchType int

const (
	Down TouchType = iota
	Move
	Up
	Cancel
)

// TouchEvent is one touch sample, in device pixels and monotonic milliseconds.
type TouchEvent struct {
	Type      TouchType
	PointerID int
	X, Y      float64
	TimeMs    uint64
}

// Point is a 2D waypoint, in device pixels.
type Point struct {
	X, Y float64
}

// Def is a registered gesture definition.
type Def struct {
	Handle                     int32
	ID                         string // ≤47 bytes (UTF-8)
	Points                     []Point
	TolerancePx                float64
	Fixed                      bool
	System                     bool
	Priority                   int32
	MaxDurationMs              uint32 // 0 = unlimited
	SegmentConstraintEnabled   bool
}

// trackState is the per-gesture, per-touch tracking state.
type trackState struct {
	active bool

	anchor      Point
	startTimeMs uint64
	targetIndex int

	lastDistToTarget float64
	approachArmed    bool
	// maxProgress mirrors a field present in the original tracker that is set
	// but never read for winner selection; kept only for contract fidelity.
	maxProgress float64

	consecutiveFailApproach int
	consecutiveFailSegment  int

	downPos Point
	lastPos Point
}

type slot struct {
	def   Def
	track trackState
}

// consecutiveFailThreshold: either failure counter reaching this deactivates
// the candidate.
const consecutiveFailThreshold = 2

// Engine is the gesture matcher. It is not safe for concurrent use — all
// methods are called from the loop thread only.
type Engine struct {
	log zerolog.Logger

	nextHandle      int32
	activePointerID int
	touchActive     bool
	slots           []*slot
}

// New returns an empty Engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{
		log:             log.With().Str("component", "gesture").Logger(),
		nextHandle:      1,
		activePointerID: -1,
	}
}

func distSq(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// distSqPointToSegment is the squared distance from p to the segment [a,b].
func distSqPointToSegment(p, a, b Point) float64 {
	abx := b.X - a.X
	aby := b.Y - a.Y
	apx := p.X - a.X
	apy := p.Y - a.Y

	abLenSq := abx*abx + aby*aby
	if abLenSq <= 0.000001 {
		return distSq(p, a)
	}

	t := (apx*abx + apy*aby) / abLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	proj := Point{X: a.X + t*abx, Y: a.Y + t*aby}
	return distSq(p, proj)
}

// absPoint resolves waypoint index to absolute display coordinates: fixed
// gestures use it verbatim, relative gestures add the touch-down anchor.
func absPoint(def *Def, track *trackState, index int) Point {
	if index < 0 || index >= len(def.Points) {
		return Point{}
	}
	p := def.Points[index]
	if def.Fixed {
		return p
	}
	return Point{X: track.anchor.X + p.X, Y: track.anchor.Y + p.Y}
}

func resetTrack(t *trackState) {
	*t = trackState{}
}

// ResetTracking clears all per-touch tracking state without touching
// registrations.
func (e *Engine) ResetTracking() {
	e.touchActive = false
	e.activePointerID = -1
	for _, s := range e.slots {
		resetTrack(&s.track)
	}
}

// ClearAll removes every registration (system and custom) and resets tracking.
func (e *Engine) ClearAll() {
	e.slots = nil
	e.ResetTracking()
}

// ClearCustom removes every non-system gesture, preserving system gestures
// under their original handles, and resets tracking.
func (e *Engine) ClearCustom() {
	kept := e.slots[:0]
	for _, s := range e.slots {
		if s.def.System {
			kept = append(kept, s)
		}
	}
	e.slots = kept
	e.ResetTracking()
}

// RegisterPolyline registers a new gesture definition and returns its handle,
// or a negative error code if the definition is invalid. Handles are unique
// and never reused within one host lifetime.
func (e *Engine) RegisterPolyline(id string, points []Point, fixed bool, tolerancePx float64, priority int32, maxDurationMs uint32, segmentConstraintEnabled, system bool) int32 {
	if id == "" || len(id) > 47 {
		return -1
	}
	if len(points) < 2 {
		return -1
	}
	if !(tolerancePx > 0) {
		return -1
	}

	def := Def{
		Handle:                   e.nextHandle,
		ID:                       id,
		Points:                   append([]Point(nil), points...),
		TolerancePx:              tolerancePx,
		Fixed:                    fixed,
		System:                   system,
		Priority:                 priority,
		MaxDurationMs:            maxDurationMs,
		SegmentConstraintEnabled: segmentConstraintEnabled,
	}
	e.nextHandle++

	s := &slot{def: def}
	e.slots = append(e.slots, s)

	e.log.Info().Str("id", id).Int32("handle", def.Handle).Int("points", len(points)).
		Bool("fixed", fixed).Bool("system", system).Int32("priority", priority).
		Uint32("max_duration_ms", maxDurationMs).Bool("segment", segmentConstraintEnabled).
		Msg("registered polyline gesture")

	return def.Handle
}

// Remove deregisters a custom gesture by handle. Returns 0 on success, or a
// negative code: -1 for an invalid handle, -4 if not found or system-flagged.
// System gestures cannot be removed.
func (e *Engine) Remove(handle int32) int32 {
	if handle <= 0 {
		return -1
	}
	for i, s := range e.slots {
		if s.def.Handle != handle {
			continue
		}
		if s.def.System {
			return -4
		}
		e.slots = append(e.slots[:i], e.slots[i+1:]...)
		return 0
	}
	return -4
}

// ProcessTouchEvent feeds a touch sample to every active candidate. It
// returns the winning handle on Up (0 if none); all other event types
// return 0.
func (e *Engine) ProcessTouchEvent(ev TouchEvent) int32 {
	if len(e.slots) == 0 {
		return 0
	}

	switch ev.Type {
	case Down:
		e.onDown(ev)
		return 0
	case Move:
		if !e.touchActive || ev.PointerID != e.activePointerID {
			return 0
		}
		e.onMoveOrUp(ev)
		return 0
	case Up:
		if !e.touchActive || ev.PointerID != e.activePointerID {
			e.ResetTracking()
			return 0
		}
		e.onMoveOrUp(ev)
		winner := e.onUpSelectWinner(ev)
		e.ResetTracking()
		return winner
	default: // Cancel
		e.ResetTracking()
		return 0
	}
}

func (e *Engine) onDown(ev TouchEvent) {
	e.touchActive = true
	e.activePointerID = ev.PointerID
	down := Point{X: ev.X, Y: ev.Y}

	for _, s := range e.slots {
		t := &s.track
		resetTrack(t)
		t.active = true
		t.anchor = down
		t.startTimeMs = ev.TimeMs
		t.targetIndex = 0
		t.downPos = down
		t.lastPos = down

		tolSq := s.def.TolerancePx * s.def.TolerancePx
		first := absPoint(&s.def, t, 0)
		d0 := distSq(down, first)

		if s.def.Fixed && d0 > tolSq {
			t.active = false
			continue
		}

		t.lastDistToTarget = d0
		if d0 <= tolSq {
			t.targetIndex = 1
			t.approachArmed = false
			if t.targetIndex < len(s.def.Points) {
				t.lastDistToTarget = distSq(down, absPoint(&s.def, t, t.targetIndex))
			}
		}
	}
}

func (e *Engine) onMoveOrUp(ev TouchEvent) {
	pos := Point{X: ev.X, Y: ev.Y}

	for _, s := range e.slots {
		t := &s.track
		if !t.active {
			continue
		}
		t.lastPos = pos

		if s.def.MaxDurationMs != 0 {
			var duration uint64
			if ev.TimeMs >= t.startTimeMs {
				duration = ev.TimeMs - t.startTimeMs
			}
			if duration > uint64(s.def.MaxDurationMs) {
				t.active = false
				continue
			}
		}

		tolSq := s.def.TolerancePx * s.def.TolerancePx
		approachSlackPx := 2.0
		if s.def.TolerancePx >= 12.0 {
			approachSlackPx = s.def.TolerancePx * 0.15
		}
		approachSlackSq := approachSlackPx * approachSlackPx

		// Advance the target waypoint while within tolerance; this absorbs
		// coarse sampling that skips waypoints in one poll.
		for t.targetIndex < len(s.def.Points) {
			target := absPoint(&s.def, t, t.targetIndex)
			d := distSq(pos, target)
			if d > tolSq {
				break
			}
			t.targetIndex++
			t.consecutiveFailApproach = 0
			t.consecutiveFailSegment = 0
			t.maxProgress = 0
			if t.targetIndex < len(s.def.Points) {
				t.lastDistToTarget = distSq(pos, absPoint(&s.def, t, t.targetIndex))
				t.approachArmed = false
			}
		}

		if t.targetIndex >= len(s.def.Points) {
			continue
		}

		target := absPoint(&s.def, t, t.targetIndex)
		dToTarget := distSq(pos, target)

		// Approach constraint: armed only once we observe initial progress
		// toward the new target after a pivot, to avoid false failures at
		// corners where the touch briefly reverses direction.
		if !t.approachArmed && t.targetIndex > 0 {
			prevWp := absPoint(&s.def, t, t.targetIndex-1)
			switch {
			case distSq(pos, prevWp) <= tolSq:
				t.lastDistToTarget = dToTarget
			case dToTarget+approachSlackSq < t.lastDistToTarget:
				t.approachArmed = true
				t.consecutiveFailApproach = 0
				t.lastDistToTarget = dToTarget
			default:
				t.lastDistToTarget = dToTarget
			}
		} else {
			if dToTarget > t.lastDistToTarget+approachSlackSq {
				t.consecutiveFailApproach++
			} else {
				t.consecutiveFailApproach = 0
			}
			t.lastDistToTarget = dToTarget
		}

		if s.def.SegmentConstraintEnabled && t.targetIndex > 0 {
			prev := absPoint(&s.def, t, t.targetIndex-1)
			dSeg := distSqPointToSegment(pos, prev, target)
			if dSeg > tolSq {
				t.consecutiveFailSegment++
			} else {
				t.consecutiveFailSegment = 0
			}
		} else {
			t.consecutiveFailSegment = 0
		}

		if t.consecutiveFailApproach >= consecutiveFailThreshold || t.consecutiveFailSegment >= consecutiveFailThreshold {
			t.active = false
		}
	}
}

func (e *Engine) onUpSelectWinner(ev TouchEvent) int32 {
	up := Point{X: ev.X, Y: ev.Y}

	var bestHandle int32
	var bestPriority int32 = -1 << 31
	var bestScore float64

	for _, s := range e.slots {
		t := &s.track
		if !t.active || len(s.def.Points) == 0 {
			continue
		}

		if s.def.MaxDurationMs != 0 {
			var duration uint64
			if ev.TimeMs >= t.startTimeMs {
				duration = ev.TimeMs - t.startTimeMs
			}
			if duration > uint64(s.def.MaxDurationMs) {
				continue
			}
		}

		tolSq := s.def.TolerancePx * s.def.TolerancePx
		last := absPoint(&s.def, t, len(s.def.Points)-1)
		score := distSq(up, last)

		allReached := t.targetIndex >= len(s.def.Points)
		nearLast := score <= tolSq
		if !allReached || !nearLast {
			continue
		}

		if bestHandle == 0 ||
			s.def.Priority > bestPriority ||
			(s.def.Priority == bestPriority && score < bestScore) ||
			(s.def.Priority == bestPriority && score == bestScore && s.def.Handle < bestHandle) {
			bestHandle = s.def.Handle
			bestPriority = s.def.Priority
			bestScore = score
		}
	}

	if bestHandle > 0 {
		e.log.Info().Int32("handle", bestHandle).Int32("priority", bestPriority).
			Str("score_sq", fmt.Sprintf("%.1f", bestScore)).Msg("gesture winner selected")
	}
	return bestHandle
}

// DebugState returns a snapshot for the debug probe surface (control.RegisterKernelProbes).
func (e *Engine) DebugState() map[string]any {
	active := 0
	for _, s := range e.slots {
		if s.track.active {
			active++
		}
	}
	return map[string]any{
		"registered":    len(e.slots),
		"active_tracks": active,
		"touch_active":  e.touchActive,
	}
}
