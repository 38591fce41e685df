//go:build windows
// +build windows

// Windows has no loop-thread pinning requirement on this appliance (the
// target hardware is Linux-only), but a working stand-in keeps the
// composition root portable for development hosts.

package affinity

import (
	"syscall"
)

// setAffinityPlatform pins the calling thread to cpuID via the Win32
// SetThreadAffinityMask API.
func setAffinityPlatform(cpuID int) error {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	procSetThreadAffinityMask := kernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThread := kernel32.NewProc("GetCurrentThread")
	hThread, _, _ := procGetCurrentThread.Call()
	mask := uintptr(1) << cpuID
	ret, _, err := procSetThreadAffinityMask.Call(hThread, mask)
	if ret == 0 {
		return err
	}
	return nil
}
