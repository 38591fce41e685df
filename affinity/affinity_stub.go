//go:build !linux && !windows
// +build !linux,!windows

// Fallback for platforms with no CPU-pinning primitive wired up; the loop
// still runs, just without a thread affinity guarantee.

package affinity

import "errors"

// setAffinityPlatform always fails: no pinning primitive exists on this platform.
func setAffinityPlatform(cpuID int) error {
	return errors.New("affinity: not supported on this platform")
}
