// Package embedapp embeds the firmware-default launcher and settings guest
// modules directly into the host binary, so the kernel always has a
// known-good fallback even with no filesystem mounted.
//
// assets/launcher.wasm and assets/settings.wasm are build-time placeholders
// here; a real firmware build substitutes the actual compiled guest modules
// at the same paths before go:embed runs.
package embedapp

import _ "embed"

//go:embed assets/launcher.wasm
var launcherBytes []byte

//go:embed assets/settings.wasm
var settingsBytes []byte

// Modules implements guest.EmbeddedModules over the embedded byte slices.
type Modules struct{}

// Launcher returns the embedded launcher module bytes.
func (Modules) Launcher() []byte { return launcherBytes }

// Settings returns the embedded settings module bytes.
func (Modules) Settings() []byte { return settingsBytes }
