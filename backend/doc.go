// Package backend provides the graphics backend abstraction driven by the
// broker.
//
// A [Backend] is a capability interface: the broker calls it with
// identifiers it minted itself and with gputypes descriptors, and the backend
// maps those identifiers to native resources. The broker never inspects
// identifier bits to decide which implementation to call; the implementation
// is chosen once, when the broker starts, and per adapter the [HAL] backend
// keeps the hal.Adapter selected at enumeration time.
//
// # Backend Registration
//
// Backends are registered by name from init functions and selected at
// runtime. Two gogpu/wgpu HAL backends are registered on import:
//
//   - "software": CPU rasterizer (hal/software), reported as a CPU adapter
//   - "noop": no-op HAL (hal/noop), used by tests and dry runs
//
// # Backend Selection
//
//	// Best available backend by priority.
//	b := backend.Default()
//
//	// A specific backend by name.
//	b, err := backend.Open("noop")
//
// # Threading
//
// Backend implementations are not safe for concurrent use. The broker calls
// them from a single goroutine locked to one OS thread.
package backend
