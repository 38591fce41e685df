// Package control holds the kernel's runtime-tunable settings, operation
// counters, and debug probe registry: the generic ConfigStore/
// MetricsRegistry/DebugProbes primitives, plus kernel.go's typed wiring of
// them to Settings, Counters, and RegisterKernelProbes.
package control
