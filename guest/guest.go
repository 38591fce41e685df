// Package guest is the Guest Lifecycle Controller: it owns the WASM guest's
// load-instantiate-call-unload cycle on top of github.com/tetratelabs/wazero,
// validates the host/guest contract, and exposes the narrow call surface the
// event loop drives.
//
// The controller is the sole point where guest memory addresses are
// translated to/from host pointers; every other subsystem speaks only in
// (ptr, len) pairs.
package guest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ContractVersion is the host's expected value of the guest's
// contract_version() export.
const ContractVersion = 1

// State is a lifecycle stage of the controller.
type State int

const (
	Stopped State = iota
	Loaded
	Ready
	Running
	Faulted
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Loaded:
		return "loaded"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// exports caches the resolved guest function handles, so lookups happen once
// per instantiation instead of on every call.
type exports struct {
	contractVersion api.Function
	microtaskStep   api.Function
	alloc           api.Function
	free            api.Function

	init         api.Function
	onGesture    api.Function
	onHTTP       api.Function
	onWifi       api.Function
	shutdownFn   api.Function
}

// Controller is the Guest Lifecycle Controller. Not safe for concurrent use —
// owned exclusively by the loop thread.
type Controller struct {
	log zerolog.Logger

	runtime wazero.Runtime

	state State
	bytes []byte

	module  api.Module
	ex      exports
	memory  api.Memory

	crashReason string
	// uploadedApp marks that the currently loaded module came from an
	// uploaded-by-developer source rather than an embedded one, so crash
	// recovery knows whether to attempt a launcher reload.
	uploadedApp bool
}

// New returns a Stopped Controller bound to a fresh wazero runtime.
func New(ctx context.Context, log zerolog.Logger) *Controller {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	return &Controller{
		log:     log.With().Str("component", "guest").Logger(),
		runtime: wazero.NewRuntimeWithConfig(ctx, cfg),
		state:   Stopped,
	}
}

// State reports the controller's current lifecycle stage.
func (c *Controller) State() State { return c.state }

// IsReady reports whether the guest has completed Init and may receive
// events.
func (c *Controller) IsReady() bool { return c.state == Running }

// CanDispatch reports whether the controller will currently forward events
// to the guest.
func (c *Controller) CanDispatch() bool { return c.state == Running }

// CrashReason returns the exception text recorded when the controller last
// transitioned to Faulted, if any.
func (c *Controller) CrashReason() string { return c.crashReason }

// LoadBytes takes ownership of wasm bytes and transitions Stopped/Faulted →
// Loaded. uploadedApp marks the module as developer-uploaded, which affects
// crash-recovery eligibility.
func (c *Controller) LoadBytes(wasmBytes []byte, uploadedApp bool) error {
	if len(wasmBytes) == 0 {
		return fmt.Errorf("guest: load_bytes: empty module")
	}
	c.bytes = wasmBytes
	c.uploadedApp = uploadedApp
	c.state = Loaded
	c.log.Info().Int("bytes", len(wasmBytes)).Bool("uploaded", uploadedApp).Msg("module loaded")
	return nil
}

// Source resolves an app id to its module bytes: "launcher" and "settings"
// resolve to embedded modules, a host override at <mount>/entrypoint.wasm is
// consulted first for the launcher, and any other accepted (UUID) id
// resolves to <mount>/apps/<id>/app.wasm on the external filesystem.
type Source interface {
	// ReadFile returns the full contents of path, or ok=false if absent.
	ReadFile(path string) (data []byte, ok bool, err error)
}

// EmbeddedModules supplies the firmware-embedded launcher/settings bytes.
type EmbeddedModules interface {
	Launcher() []byte
	Settings() []byte
}

// LoadEmbedded loads the embedded launcher or settings module directly,
// ignoring any filesystem override, to guarantee a known-good fallback that
// cannot be shadowed by a corrupted SD override.
func (c *Controller) LoadEmbedded(appID string, embedded EmbeddedModules) error {
	var b []byte
	switch appID {
	case "launcher":
		b = embedded.Launcher()
	case "settings":
		b = embedded.Settings()
	default:
		return fmt.Errorf("guest: load_embedded: unknown embedded app id %q", appID)
	}
	return c.LoadBytes(b, false)
}

// LoadEntrypoint resolves appID the normal way: for "launcher" it prefers a
// filesystem override at <mount>/entrypoint.wasm, falling back to the
// embedded launcher; "settings" always resolves to the embedded settings
// module; any other accepted id resolves to <mount>/apps/<id>/app.wasm.
// This is the loader ordinary app switches and initial boot use; crash
// recovery also uses this path, so a crash-looping SD override is retried
// rather than silently papered over.
func (c *Controller) LoadEntrypoint(ctx context.Context, appID, mount string, fs Source, embedded EmbeddedModules) error {
	switch appID {
	case "launcher":
		if fs != nil {
			if data, ok, err := fs.ReadFile(mount + "/entrypoint.wasm"); err != nil {
				return fmt.Errorf("guest: load_entrypoint: reading override: %w", err)
			} else if ok {
				return c.LoadBytes(data, false)
			}
		}
		return c.LoadEmbedded("launcher", embedded)
	case "settings":
		return c.LoadEmbedded("settings", embedded)
	default:
		if fs == nil {
			return fmt.Errorf("guest: load_entrypoint: no filesystem bound for app id %q", appID)
		}
		data, ok, err := fs.ReadFile(mount + "/apps/" + appID + "/app.wasm")
		if err != nil {
			return fmt.Errorf("guest: load_entrypoint: reading %q: %w", appID, err)
		}
		if !ok {
			return fmt.Errorf("guest: load_entrypoint: app %q not found", appID)
		}
		return c.LoadBytes(data, true)
	}
}

// Instantiate compiles and instantiates the loaded module, resolving required
// and optional exports, and verifies the contract version. Fails and leaves
// the controller Faulted if a required export is missing or the contract
// version mismatches.
func (c *Controller) Instantiate(ctx context.Context) error {
	if c.state != Loaded {
		return fmt.Errorf("guest: instantiate: wrong state %s", c.state)
	}

	compiled, err := c.runtime.CompileModule(ctx, c.bytes)
	if err != nil {
		c.fault("compile: " + err.Error())
		return fmt.Errorf("guest: instantiate: compile: %w", err)
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions() // no implicit _start
	mod, err := c.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		c.fault("instantiate: " + err.Error())
		return fmt.Errorf("guest: instantiate: %w", err)
	}

	ex := exports{
		contractVersion: mod.ExportedFunction("contract_version"),
		microtaskStep:   mod.ExportedFunction("microtask_step"),
		alloc:           mod.ExportedFunction("alloc"),
		free:            mod.ExportedFunction("free"),
		init:            mod.ExportedFunction("init"),
		onGesture:       mod.ExportedFunction("on_gesture"),
		onHTTP:          mod.ExportedFunction("on_http_request"),
		onWifi:          mod.ExportedFunction("on_wifi_event"),
		shutdownFn:      mod.ExportedFunction("shutdown"),
	}
	missing := requiredMissing(ex)
	if len(missing) > 0 {
		mod.Close(ctx)
		c.fault("missing required exports: " + missing)
		return fmt.Errorf("guest: instantiate: missing required exports: %s", missing)
	}

	c.module = mod
	c.ex = ex
	c.memory = mod.Memory()
	c.state = Ready

	if err := c.verifyContract(ctx); err != nil {
		c.module.Close(ctx)
		c.fault(err.Error())
		return err
	}

	c.log.Info().Msg("module instantiated, contract verified")
	return nil
}

func requiredMissing(ex exports) string {
	missing := ""
	add := func(ok bool, name string) {
		if !ok {
			if missing != "" {
				missing += ","
			}
			missing += name
		}
	}
	add(ex.contractVersion != nil, "contract_version")
	add(ex.microtaskStep != nil, "microtask_step")
	add(ex.alloc != nil, "alloc")
	add(ex.free != nil, "free")
	return missing
}

func (c *Controller) verifyContract(ctx context.Context) error {
	res, err := c.ex.contractVersion.Call(ctx)
	if err != nil {
		return fmt.Errorf("guest: contract_version: %w", err)
	}
	got := int32(res[0])
	if got != ContractVersion {
		return fmt.Errorf("guest: contract version mismatch: host=%d guest=%d", ContractVersion, got)
	}
	return nil
}

// HasGestureHandler reports whether on_gesture is exported.
func (c *Controller) HasGestureHandler() bool { return c.ex.onGesture != nil }

// HasHTTPRequestHandler reports whether on_http_request is exported.
func (c *Controller) HasHTTPRequestHandler() bool { return c.ex.onHTTP != nil }

// HasWifiEventHandler reports whether on_wifi_event is exported.
func (c *Controller) HasWifiEventHandler() bool { return c.ex.onWifi != nil }

// CallInit invokes init(api_version, args_ptr, args_len), allocating and
// writing the args buffer in guest memory first (and freeing it afterward)
// if args is non-empty, then transitions Ready → Running.
func (c *Controller) CallInit(ctx context.Context, apiVersion int32, args []byte) error {
	if c.state != Ready {
		return fmt.Errorf("guest: call_init: wrong state %s", c.state)
	}
	if c.ex.init == nil {
		c.state = Running
		return nil
	}

	argsPtr, argsLen, free, err := c.writeTemp(ctx, args)
	if err != nil {
		return fmt.Errorf("guest: call_init: staging args: %w", err)
	}
	defer free()

	res, err := c.ex.init.Call(ctx, uint64(apiVersion), uint64(argsPtr), uint64(argsLen))
	if err != nil {
		c.fault("init: " + err.Error())
		return fmt.Errorf("guest: call_init: %w", err)
	}
	if code := int32(res[0]); code != 0 {
		c.fault(fmt.Sprintf("init returned %d", code))
		return fmt.Errorf("guest: call_init: guest returned code %d", code)
	}

	c.state = Running
	return nil
}

// CallOnGesture forwards a gesture event to the guest, if it handles
// gestures. A guest exception transitions the controller to Faulted.
func (c *Controller) CallOnGesture(ctx context.Context, kind int32, x, y, dx, dy float32, durationMs, nowMs uint32, flags int32) error {
	if !c.CanDispatch() || c.ex.onGesture == nil {
		return nil
	}
	_, err := c.ex.onGesture.Call(ctx,
		uint64(kind),
		uint64(api.EncodeF32(x)), uint64(api.EncodeF32(y)),
		uint64(api.EncodeF32(dx)), uint64(api.EncodeF32(dy)),
		uint64(durationMs), uint64(nowMs), uint64(flags))
	if err != nil {
		c.fault("on_gesture: " + err.Error())
		return fmt.Errorf("guest: call_on_gesture: %w", err)
	}
	return nil
}

// CallOnHTTPRequest stages uri/body into guest memory (via the guest's own
// allocator), forwards the request, then frees the staged buffers, regardless
// of outcome.
func (c *Controller) CallOnHTTPRequest(ctx context.Context, reqID, method int32, uri string, body []byte, contentLen int32, nowMs uint32, flags int32) error {
	if !c.CanDispatch() || c.ex.onHTTP == nil {
		return nil
	}

	uriPtr, uriLen, freeURI, err := c.writeTemp(ctx, []byte(uri))
	if err != nil {
		return fmt.Errorf("guest: call_on_http: staging uri: %w", err)
	}
	defer freeURI()

	bodyPtr, bodyLen, freeBody, err := c.writeTemp(ctx, body)
	if err != nil {
		return fmt.Errorf("guest: call_on_http: staging body: %w", err)
	}
	defer freeBody()

	_, err = c.ex.onHTTP.Call(ctx,
		uint64(reqID), uint64(method),
		uint64(uriPtr), uint64(uriLen),
		uint64(bodyPtr), uint64(bodyLen),
		uint64(contentLen), uint64(nowMs), uint64(flags))
	if err != nil {
		c.fault("on_http_request: " + err.Error())
		return fmt.Errorf("guest: call_on_http: %w", err)
	}
	return nil
}

// CallOnWifiEvent forwards a Wi-Fi event to the guest, if it handles them.
func (c *Controller) CallOnWifiEvent(ctx context.Context, kind int32, nowMs uint32, arg0, arg1 int32) error {
	if !c.CanDispatch() || c.ex.onWifi == nil {
		return nil
	}
	_, err := c.ex.onWifi.Call(ctx, uint64(kind), uint64(nowMs), uint64(arg0), uint64(arg1))
	if err != nil {
		c.fault("on_wifi_event: " + err.Error())
		return fmt.Errorf("guest: call_on_wifi: %w", err)
	}
	return nil
}

// CallMicroTaskStep runs one cooperative step of a scheduled task and
// returns the guest's packed action result.
func (c *Controller) CallMicroTaskStep(ctx context.Context, handle int32, nowMs uint32) (int64, error) {
	if !c.CanDispatch() {
		return 0, fmt.Errorf("guest: call_microtask_step: not running")
	}
	res, err := c.ex.microtaskStep.Call(ctx, uint64(handle), uint64(nowMs))
	if err != nil {
		c.fault("microtask_step: " + err.Error())
		return 0, fmt.Errorf("guest: call_microtask_step: %w", err)
	}
	return int64(res[0]), nil
}

// CallAlloc reserves len bytes in guest memory via the guest's own allocator.
func (c *Controller) CallAlloc(ctx context.Context, length int32) (int32, error) {
	if c.ex.alloc == nil {
		return 0, fmt.Errorf("guest: call_alloc: allocator missing")
	}
	res, err := c.ex.alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, fmt.Errorf("guest: call_alloc: %w", err)
	}
	ptr := int32(res[0])
	if ptr == 0 && length > 0 {
		return 0, fmt.Errorf("guest: call_alloc: out of guest memory")
	}
	return ptr, nil
}

// CallFree releases a guest memory region previously returned by CallAlloc.
func (c *Controller) CallFree(ctx context.Context, ptr, length int32) error {
	if c.ex.free == nil {
		return fmt.Errorf("guest: call_free: deallocator missing")
	}
	if ptr == 0 {
		return nil
	}
	_, err := c.ex.free.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return fmt.Errorf("guest: call_free: %w", err)
	}
	return nil
}

// WriteGuestMemory copies src into an already-reserved guest region at ptr,
// bounds-checked against the guest's current memory size.
func (c *Controller) WriteGuestMemory(ptr int32, src []byte) error {
	if c.memory == nil {
		return fmt.Errorf("guest: write_guest_memory: not ready")
	}
	if len(src) == 0 {
		return nil
	}
	if !c.memory.Write(uint32(ptr), src) {
		return fmt.Errorf("guest: write_guest_memory: out of bounds ptr=%d len=%d", ptr, len(src))
	}
	return nil
}

// MapGuestMemory borrows (without copying) a read view of a guest region,
// bounds-checked against the guest's current memory size.
func (c *Controller) MapGuestMemory(ptr, length int32) ([]byte, error) {
	if c.memory == nil {
		return nil, fmt.Errorf("guest: map_guest_memory: not ready")
	}
	if length == 0 {
		return nil, nil
	}
	b, ok := c.memory.Read(uint32(ptr), uint32(length))
	if !ok {
		return nil, fmt.Errorf("guest: map_guest_memory: out of bounds ptr=%d len=%d", ptr, length)
	}
	return b, nil
}

// writeTemp allocates len(data) bytes in guest memory, writes data into it,
// and returns a free func the caller must invoke once done with the region.
// A nil/empty data writes nothing and returns a zero pointer.
func (c *Controller) writeTemp(ctx context.Context, data []byte) (ptr int32, length int32, free func(), err error) {
	if len(data) == 0 {
		return 0, 0, func() {}, nil
	}
	ptr, err = c.CallAlloc(ctx, int32(len(data)))
	if err != nil {
		return 0, 0, func() {}, err
	}
	if err := c.WriteGuestMemory(ptr, data); err != nil {
		_ = c.CallFree(ctx, ptr, int32(len(data)))
		return 0, 0, func() {}, err
	}
	length = int32(len(data))
	return ptr, length, func() { _ = c.CallFree(ctx, ptr, length) }, nil
}

// CallShutdown best-effort invokes shutdown(), if exported. Never fatal:
// errors are logged and swallowed.
func (c *Controller) CallShutdown(ctx context.Context) {
	if c.ex.shutdownFn == nil {
		return
	}
	if _, err := c.ex.shutdownFn.Call(ctx); err != nil {
		c.log.Warn().Err(err).Msg("guest shutdown call failed, ignoring")
	}
}

// Unload frees the runtime instance and the owned module byte buffer,
// transitioning to Stopped from any state.
func (c *Controller) Unload(ctx context.Context) {
	if c.module != nil {
		_ = c.module.Close(ctx)
	}
	c.module = nil
	c.memory = nil
	c.ex = exports{}
	c.bytes = nil
	c.crashReason = ""
	c.uploadedApp = false
	c.state = Stopped
}

// UploadedApp reports whether the currently loaded module came from a
// developer upload rather than an embedded/filesystem app.
func (c *Controller) UploadedApp() bool { return c.uploadedApp }

func (c *Controller) fault(reason string) {
	c.crashReason = reason
	c.state = Faulted
	c.log.Error().Str("reason", reason).Msg("guest faulted")
}

// RecoverFromCrash reloads the launcher when the controller is
// Faulted, the module was uploaded, and the devserver (via isUploadedCrashed)
// confirms it already flagged that app as crashed. It is invoked by the loop
// after each dispatch and microtask run.
//
// Crash recovery loads via the SD-override-aware entrypoint loader rather
// than the embedded-only path, so a crash recovery can still pick up a
// filesystem launcher override instead of hardcoding the embedded module.
func (c *Controller) RecoverFromCrash(ctx context.Context, isUploadedCrashed bool, mount string, fs Source, embedded EmbeddedModules, apiVersion int32) bool {
	if c.state != Faulted || !c.uploadedApp || !isUploadedCrashed {
		return false
	}

	c.Unload(ctx)
	if err := c.LoadEntrypoint(ctx, "launcher", mount, fs, embedded); err != nil {
		c.log.Error().Err(err).Msg("crash recovery: reload failed")
		return false
	}
	if err := c.Instantiate(ctx); err != nil {
		c.log.Error().Err(err).Msg("crash recovery: instantiate failed")
		return false
	}
	if err := c.CallInit(ctx, apiVersion, nil); err != nil {
		c.log.Error().Err(err).Msg("crash recovery: init failed")
		return false
	}
	c.log.Info().Msg("crash recovery: launcher reloaded")
	return true
}

// DebugState returns a snapshot for the debug probe surface (control.RegisterKernelProbes).
func (c *Controller) DebugState() map[string]any {
	return map[string]any{
		"state":        c.state.String(),
		"uploaded_app": c.uploadedApp,
		"crash_reason": c.crashReason,
	}
}
