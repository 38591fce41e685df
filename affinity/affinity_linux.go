//go:build linux
// +build linux

// Linux-specific implementation for setting thread CPU affinity, pinning the
// calling OS thread (not the whole process) via sched_setaffinity.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinityPlatform pins the calling OS thread to cpuID. Callers must have
// already called runtime.LockOSThread, since affinity is a per-thread
// property on Linux and goroutines may otherwise migrate across threads.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// tid 0 means "the calling thread" to sched_setaffinity.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity failed: %w", err)
	}
	return nil
}
