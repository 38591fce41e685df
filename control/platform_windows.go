//go:build windows
// +build windows

// CPU topology probe for Windows development hosts; like the Linux build,
// it reports the CPU count only.

package control

import (
	"runtime"
)

// RegisterPlatformProbes adds the Windows CPU-count probe.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
