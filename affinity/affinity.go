// Package affinity pins the event loop's OS thread to a single CPU core, so
// guest WASM execution gets consistent cache behavior instead of migrating
// across cores mid-iteration. Platform-specific implementations live in
// affinity_linux.go, affinity_windows.go, and affinity_stub.go, selected by
// build tags.
package affinity

// SetAffinity pins the calling OS thread to cpuID on supported platforms, or
// returns an error on platforms without a pinning primitive.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
