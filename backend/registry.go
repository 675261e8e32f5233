package backend

import (
	"slices"

	"github.com/gogpu/gpucontext"
)

// Backend name constants.
const (
	// BackendSoftware is the CPU rasterizer HAL from gogpu/wgpu.
	BackendSoftware = "software"
	// BackendNoop is the no-op HAL from gogpu/wgpu.
	BackendNoop = "noop"
)

// Factory creates a new backend instance.
type Factory func() Backend

// backends holds registered factories. Priority order for Default:
// software first since it performs real work, noop as a last resort.
var backends = gpucontext.NewRegistry[Backend](
	gpucontext.WithPriority(BackendSoftware, BackendNoop),
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	backends.Register(name, factory)
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	backends.Unregister(name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	names := backends.Available()
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return backends.Has(name)
}

// Get returns a new backend instance by name, or nil if the name is not
// registered.
func Get(name string) Backend {
	return backends.Get(name)
}

// Default returns a new instance of the highest-priority registered backend,
// or nil if none is registered.
func Default() Backend {
	return backends.Best()
}

// Open returns a new backend instance by name. An empty name selects the
// default backend.
func Open(name string) (Backend, error) {
	var b Backend
	if name == "" {
		b = Default()
	} else {
		b = Get(name)
	}
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	return b, nil
}
