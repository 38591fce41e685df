//go:build linux
// +build linux

// CPU topology probe, useful alongside affinity.SetAffinity for
// confirming the loop thread's pin target is sane on the running appliance.

package control

import (
	"runtime"
)

// RegisterPlatformProbes adds the Linux CPU-count probe.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
