package broker

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/broker/backend"
)

// Request is a message the actor accepts. The set is closed: only the
// request types in this package implement it.
type Request interface {
	request()
	// kind names the request in logs.
	kind() string
	// validate checks the request's reply channel.
	validate() error
}

// Result carries exactly one reply to a request: either Value or a non-nil
// Err.
type Result[T any] struct {
	Value T
	Err   error
}

// Get returns the reply as a (value, error) pair.
func (r Result[T]) Get() (T, error) {
	return r.Value, r.Err
}

// AdapterResponse is the reply to RequestAdapter.
type AdapterResponse struct {
	Adapter AdapterHandle
	// Info describes the adapter as reported by the backend.
	Info gputypes.AdapterInfo
	// Summary is the coarse adapter classification.
	Summary gpucontext.AdapterInfo
}

// DeviceResponse is the reply to RequestDevice. The request descriptor is
// echoed back.
type DeviceResponse struct {
	Device     DeviceHandle
	Descriptor gputypes.DeviceDescriptor
}

// BufferResponse is the reply to CreateBuffer.
type BufferResponse struct {
	Buffer     BufferHandle
	Descriptor gputypes.BufferDescriptor
}

// Snapshot is a copy of the actor's state delivered in reply to Inspect.
type Snapshot struct {
	State     State
	Backend   string
	Adapters  []AdapterHandle
	Devices   map[DeviceHandle]AdapterHandle
	Buffers   map[BufferHandle]DeviceHandle
	Processed uint64
	// Queued is the number of requests waiting behind this Inspect.
	Queued int
	// Issued counts the identifiers minted per kind, live or not.
	Issued IssuedIDs
	// Memory is nil when the backend does not track memory.
	Memory *backend.MemoryStats
}

// IssuedIDs counts identifiers minted by the actor.
type IssuedIDs struct {
	Adapters uint64
	Devices  uint64
	Buffers  uint64
}

// RequestAdapter asks for an adapter matching Options.
type RequestAdapter struct {
	Options gputypes.RequestAdapterOptions
	Reply   chan<- Result[AdapterResponse]
}

// RequestDevice asks for a device on Adapter.
type RequestDevice struct {
	Adapter    AdapterHandle
	Descriptor gputypes.DeviceDescriptor
	Reply      chan<- Result[DeviceResponse]
}

// CreateBuffer asks for a buffer on Device.
type CreateBuffer struct {
	Device     DeviceHandle
	Descriptor gputypes.BufferDescriptor
	Reply      chan<- Result[BufferResponse]
}

// DestroyBuffer destroys Buffer. There is no reply; destroying an unknown
// buffer is a no-op.
type DestroyBuffer struct {
	Buffer BufferHandle
}

// DestroyDevice waits for Device, destroys every buffer it owns and then
// the device itself.
type DestroyDevice struct {
	Device DeviceHandle
	Reply  chan<- Result[struct{}]
}

// Inspect asks for a Snapshot of the actor's state.
type Inspect struct {
	Reply chan<- Result[Snapshot]
}

// Shutdown tears down every resource, releases the backend and stops the
// actor. Ack receives one value once teardown has completed.
type Shutdown struct {
	Ack chan<- struct{}
}

func (RequestAdapter) request() {}
func (RequestDevice) request()  {}
func (CreateBuffer) request()   {}
func (DestroyBuffer) request()  {}
func (DestroyDevice) request()  {}
func (Inspect) request()        {}
func (Shutdown) request()       {}

func (RequestAdapter) kind() string { return "RequestAdapter" }
func (RequestDevice) kind() string  { return "RequestDevice" }
func (CreateBuffer) kind() string   { return "CreateBuffer" }
func (DestroyBuffer) kind() string  { return "DestroyBuffer" }
func (DestroyDevice) kind() string  { return "DestroyDevice" }
func (Inspect) kind() string        { return "Inspect" }
func (Shutdown) kind() string       { return "Shutdown" }

func (m RequestAdapter) validate() error { return checkReply(m.Reply) }
func (m RequestDevice) validate() error  { return checkReply(m.Reply) }
func (m CreateBuffer) validate() error   { return checkReply(m.Reply) }
func (DestroyBuffer) validate() error    { return nil }
func (m DestroyDevice) validate() error  { return checkReply(m.Reply) }
func (m Inspect) validate() error        { return checkReply(m.Reply) }

// validate accepts a nil Ack for a shutdown nobody waits on.
func (m Shutdown) validate() error {
	if m.Ack != nil && cap(m.Ack) == 0 {
		return ErrUnbufferedReply
	}
	return nil
}

// checkReply requires room for the single reply.
func checkReply[T any](ch chan<- Result[T]) error {
	if cap(ch) == 0 {
		return ErrUnbufferedReply
	}
	return nil
}

// State is the actor lifecycle state.
type State uint8

const (
	// StateRunning accepts and processes requests.
	StateRunning State = iota
	// StateStopped is terminal, entered after Shutdown.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
