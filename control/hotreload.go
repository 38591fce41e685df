// Package-level reload hooks for components that sit outside the
// ConfigStore/Settings path but still need to react to a settings-app push
// (e.g. re-opening a log file, re-reading an affinity mask).

package control

var reloadHooks []func()

// RegisterReloadHook adds a component reload listener, invoked whenever
// Settings.Apply runs.
func RegisterReloadHook(fn func()) {
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload dispatches all registered reload hooks.
func TriggerHotReload() {
	for _, fn := range reloadHooks {
		go fn()
	}
}
