package backend

import (
	"errors"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/broker/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoAdapter is returned when no adapter satisfies the request options.
	ErrNoAdapter = errors.New("backend: no compatible adapter")

	// ErrUnknownResource is returned when an identifier has no native resource.
	ErrUnknownResource = errors.New("backend: unknown resource")

	// ErrDuplicateID is returned when a creation reuses a live identifier.
	ErrDuplicateID = errors.New("backend: identifier already in use")

	// ErrInvalidDescriptor is returned when a descriptor fails validation.
	ErrInvalidDescriptor = errors.New("backend: invalid descriptor")

	// ErrUnsupported is returned for valid requests the backend cannot serve.
	ErrUnsupported = errors.New("backend: unsupported")

	// ErrInUse is returned when destroying a device that still owns buffers.
	ErrInUse = errors.New("backend: resource still in use")

	// ErrReleased is returned for any call after Release.
	ErrReleased = errors.New("backend: instance released")
)

// Backend is the set of operations the broker performs against a graphics
// backend. Identifiers are minted by the caller; the backend only binds them
// to native resources.
//
// Implementations are not required to be safe for concurrent use.
type Backend interface {
	// Name returns the registered backend name (e.g., "software", "noop").
	Name() string

	// RequestAdapter selects an adapter matching opts and binds it to id.
	// Returns ErrNoAdapter if nothing matches.
	RequestAdapter(id gpucore.AdapterID, opts *gputypes.RequestAdapterOptions) (gputypes.AdapterInfo, error)

	// RequestDevice opens a logical device on adapter and binds it to id.
	RequestDevice(id gpucore.DeviceID, adapter gpucore.AdapterID, desc *gputypes.DeviceDescriptor) error

	// CreateBuffer allocates a buffer on device and binds it to id.
	CreateBuffer(id gpucore.BufferID, device gpucore.DeviceID, desc *gputypes.BufferDescriptor) error

	// DestroyBuffer releases the buffer bound to id.
	DestroyBuffer(id gpucore.BufferID) error

	// PollDevice advances the device's outstanding work. With wait set it
	// blocks until all submitted work has completed.
	PollDevice(device gpucore.DeviceID, wait bool) error

	// DestroyDevice releases the device bound to id. All of its buffers
	// must have been destroyed first.
	DestroyDevice(id gpucore.DeviceID) error

	// Release frees the backend instance. Every later call fails with
	// ErrReleased. Release is idempotent.
	Release()
}
