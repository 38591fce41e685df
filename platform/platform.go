// Package platform supplies the default, host-OS-backed implementations of
// the kernel's external collaborator interfaces (collab, eventloop.Clock,
// eventloop.TouchSource, eventloop.PowerService, guest.Source). Real touch
// hardware, Wi-Fi, and devserver integrations are firmware-specific and out
// of this repository's scope; these stand-ins let the
// composition root run end-to-end against ordinary files and the system
// clock.
package platform

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperportal/hostkernel/collab"
	"github.com/paperportal/hostkernel/eventloop"
)

// SystemClock reports wall time in milliseconds since the Unix epoch as a
// full 64-bit value; the event loop truncates it to 32 bits for its
// wraparound-safe deadline arithmetic.
type SystemClock struct{}

// NowMs implements eventloop.Clock.
func (SystemClock) NowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// NoTouch is a TouchSource for hosts with no touch digitizer attached; it
// reports no samples on every poll.
type NoTouch struct{}

// Poll implements eventloop.TouchSource.
func (NoTouch) Poll(nowMs uint64) ([]eventloop.TouchSample, error) { return nil, nil }

// LoggingPower logs power-off requests instead of cutting power, for
// development hosts that are not the target appliance.
type LoggingPower struct {
	Log zerolog.Logger
}

// PowerOff implements eventloop.PowerService.
func (p LoggingPower) PowerOff(idle bool) {
	p.Log.Warn().Bool("idle", idle).Msg("power-off requested (no-op on this host)")
}

// OSFilesystem resolves guest module bytes from the local filesystem,
// implementing both collab.Filesystem and guest.Source (identical shapes).
type OSFilesystem struct{}

// ReadFile implements collab.Filesystem / guest.Source.
func (OSFilesystem) ReadFile(path string) (data []byte, ok bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// NoWifi reports a disconnected, AP-less Wi-Fi status, for hosts without a
// managed radio.
type NoWifi struct{}

// Status implements collab.WifiService.
func (NoWifi) Status() (collab.WifiStatus, error) {
	return collab.WifiStatus{Mode: collab.WifiModeUnknown, APRunning: false}, nil
}

// NoHTTPServer never has a pending request for any id, for hosts without an
// HTTP front end wired up.
type NoHTTPServer struct{}

// RequestInfo implements collab.HTTPServer.
func (NoHTTPServer) RequestInfo(reqID int32) (collab.HTTPRequestInfo, int32, bool) {
	return collab.HTTPRequestInfo{}, 0, false
}

// NoDevServer is a DevServer that never reports upload activity.
type NoDevServer struct {
	Log zerolog.Logger
}

func (NoDevServer) IsRunning() bool  { return false }
func (NoDevServer) IsStarting() bool { return false }
func (NoDevServer) Stop(ctx context.Context) error { return nil }

func (d NoDevServer) NotifyServerError(reason string)  { d.Log.Warn().Str("reason", reason).Msg("devserver error") }
func (NoDevServer) NotifyUploadedStarted()             {}
func (NoDevServer) NotifyUploadedStopped()             {}
func (d NoDevServer) NotifyUploadedCrashed(reason string) {
	d.Log.Error().Str("reason", reason).Msg("uploaded app crashed")
}

func (NoDevServer) UploadedAppIsRunning() bool { return false }
func (NoDevServer) UploadedAppIsCrashed() bool { return false }

func (d NoDevServer) LogPush(line string) { d.Log.Info().Str("devserver_log", line).Msg("") }
