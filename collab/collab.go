// Package collab declares the narrow interfaces the host kernel uses to
// reach its external collaborators: the HTTP server, the Wi-Fi service, the
// devserver, and the app filesystem. None of their internals are specified
// here — only the shapes the core dispatches
// through or consumes data from.
package collab

import "context"

// HTTPRequestInfo is what the HTTP server collaborator hands back for a
// request id at dispatch time.
type HTTPRequestInfo struct {
	URI        string
	ContentLen int32
	// Body streams up to ContentLen bytes of the request body. Implementations
	// should treat a short read as the transport "underrunning".
	Body interface {
		Read(p []byte) (int, error)
	}
}

// HTTPServer is the external HTTP server collaborator.
type HTTPServer interface {
	// RequestInfo resolves an opaque request id to its method/URI/body.
	// ok is false if the id is no longer valid (already completed/timed out).
	RequestInfo(reqID int32) (info HTTPRequestInfo, method int32, ok bool)
}

// WifiMode mirrors the collaborator's notion of STA/AP mode, used only to
// decide whether to stop the devserver on disconnect.
type WifiMode int

const (
	WifiModeUnknown WifiMode = iota
	WifiModeSTA
	WifiModeAP
)

// WifiStatus is a snapshot of the Wi-Fi service's current state.
type WifiStatus struct {
	Mode      WifiMode
	APRunning bool
}

// WifiService is the external Wi-Fi state collaborator.
type WifiService interface {
	Status() (WifiStatus, error)
}

// DevServer is the external developer-upload HTTP surface and its crash/
// status bookkeeping.
type DevServer interface {
	IsRunning() bool
	IsStarting() bool
	Stop(ctx context.Context) error

	NotifyServerError(reason string)
	NotifyUploadedStarted()
	NotifyUploadedStopped()
	NotifyUploadedCrashed(reason string)

	UploadedAppIsRunning() bool
	UploadedAppIsCrashed() bool

	LogPush(line string)
}

// Filesystem is the external mounted-storage collaborator used to resolve
// app bytes by id and to read a launcher override, if present.
type Filesystem interface {
	// ReadFile returns the full contents of path, or ok=false if absent.
	ReadFile(path string) (data []byte, ok bool, err error)
}
