// Package hostevent defines the tagged-union event type that flows from
// producer threads (HTTP handlers, the Wi-Fi event dispatcher, the devserver
// start task) and from the loop's own touch/gesture synthesis into the
// single-threaded event loop, plus the bounded cross-thread queue that
// carries it.
package hostevent

import "fmt"

// Kind tags the variant carried by an Event.
type Kind uint8

const (
	// Tick is reserved for host-internal scheduling; nothing produces it today.
	Tick Kind = iota
	Gesture
	HTTPRequest
	WifiEvent
	DevCommand
)

func (k Kind) String() string {
	switch k {
	case Tick:
		return "tick"
	case Gesture:
		return "gesture"
	case HTTPRequest:
		return "http_request"
	case WifiEvent:
		return "wifi_event"
	case DevCommand:
		return "dev_command"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Gesture kinds, per the guest contract.
const (
	GestureTap            int32 = 1
	GestureLongPress      int32 = 2
	GestureFlick          int32 = 3
	GestureDragStart      int32 = 4
	GestureDragMove       int32 = 5
	GestureDragEnd        int32 = 6
	GestureCustomPolyline int32 = 100
)

// Wi-Fi event kinds, per the guest contract.
const (
	WifiStaStart        int32 = 1
	WifiStaDisconnected int32 = 2
	WifiStaGotIP        int32 = 3
)

// HTTPFlagBodyTruncated is set on HTTP dispatch when the request
// body exceeded HTTPMaxBodyBytes or the transport read underran.
const HTTPFlagBodyTruncated int32 = 0x1

// HTTPMaxBodyBytes bounds how much of an HTTP request body is copied into
// guest memory per dispatch.
const HTTPMaxBodyBytes = 8192

// GestureData is the payload of a Gesture event, synthesized by the loop
// itself (never by an external producer).
type GestureData struct {
	Kind       int32
	X, Y       int32
	DX, DY     int32
	DurationMs int32
	Flags      int32
}

// HTTPRequestData is the payload of an HTTPRequest event. The request body
// itself is not carried here — it is fetched from the external HTTP server
// collaborator by request id at dispatch time.
type HTTPRequestData struct {
	ReqID      int32
	Method     int32
	ContentLen int32
}

// WifiEventData is the payload of a WifiEvent.
type WifiEventData struct {
	Kind       int32
	Arg0, Arg1 int32
}

// DevCommandData carries ownership of a DevCommand into the loop.
type DevCommandData struct {
	Cmd *DevCommand
}

// Event is the tagged union delivered through the event queue. Every event
// carries NowMs, the monotonic-millisecond timestamp captured by the
// producer at enqueue time (32-bit, wraparound-tolerant — see TimeReached).
type Event struct {
	Type  Kind
	NowMs uint32

	Gesture GestureData
	HTTP    HTTPRequestData
	Wifi    WifiEventData
	Dev     DevCommandData
}

// NewGestureEvent constructs a Gesture event.
func NewGestureEvent(nowMs uint32, g GestureData) Event {
	return Event{Type: Gesture, NowMs: nowMs, Gesture: g}
}

// NewHTTPRequestEvent constructs an HTTPRequest event.
func NewHTTPRequestEvent(nowMs uint32, reqID, method, contentLen int32) Event {
	return Event{Type: HTTPRequest, NowMs: nowMs, HTTP: HTTPRequestData{ReqID: reqID, Method: method, ContentLen: contentLen}}
}

// NewWifiEvent constructs a WifiEvent event.
func NewWifiEvent(nowMs uint32, kind, arg0, arg1 int32) Event {
	return Event{Type: WifiEvent, NowMs: nowMs, Wifi: WifiEventData{Kind: kind, Arg0: arg0, Arg1: arg1}}
}

// NewDevCommandEvent constructs a DevCommand event, transferring ownership
// of cmd to whoever eventually dequeues it.
func NewDevCommandEvent(nowMs uint32, cmd *DevCommand) Event {
	return Event{Type: DevCommand, NowMs: nowMs, Dev: DevCommandData{Cmd: cmd}}
}

// TimeReached implements the 32-bit-wraparound-safe deadline comparison:
// true once now has reached (or passed) target.
func TimeReached(now, target uint32) bool {
	return uint32(now-target) < 0x80000000
}

// TimeUntil returns how long (in ms) until target is reached, 0 if already reached.
func TimeUntil(now, target uint32) uint32 {
	if TimeReached(now, target) {
		return 0
	}
	return target - now
}
