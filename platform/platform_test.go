package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystemReadFileFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.wasm")
	if err := os.WriteFile(path, []byte{0x00, 0x61, 0x73, 0x6d}, 0o644); err != nil {
		t.Fatalf("setup WriteFile failed: %v", err)
	}

	fs := OSFilesystem{}
	data, ok, err := fs.ReadFile(path)
	if err != nil || !ok {
		t.Fatalf("ReadFile(%q) = %v, %v, %v", path, data, ok, err)
	}
	if len(data) != 4 {
		t.Fatalf("unexpected data length %d", len(data))
	}
}

func TestOSFilesystemReadFileMissingIsNotAnError(t *testing.T) {
	fs := OSFilesystem{}
	_, ok, err := fs.ReadFile(filepath.Join(t.TempDir(), "missing.wasm"))
	if err != nil {
		t.Fatalf("missing file should not report an error, got %v", err)
	}
	if ok {
		t.Fatal("ok should be false for a missing file")
	}
}

func TestNoTouchReportsNoSamples(t *testing.T) {
	samples, err := NoTouch{}.Poll(0)
	if err != nil || samples != nil {
		t.Fatalf("NoTouch.Poll() = %v, %v", samples, err)
	}
}

func TestNoWifiReportsDisconnected(t *testing.T) {
	status, err := NoWifi{}.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.APRunning {
		t.Fatal("NoWifi should never report a running access point")
	}
}

func TestNoHTTPServerHasNoPendingRequests(t *testing.T) {
	_, _, ok := NoHTTPServer{}.RequestInfo(1)
	if ok {
		t.Fatal("NoHTTPServer should report every request id as unknown")
	}
}

func TestNoDevServerReportsIdle(t *testing.T) {
	d := NoDevServer{}
	if d.IsRunning() || d.IsStarting() {
		t.Fatal("NoDevServer should never report running/starting")
	}
	if d.UploadedAppIsRunning() || d.UploadedAppIsCrashed() {
		t.Fatal("NoDevServer should never report uploaded app activity")
	}
}
