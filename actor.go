package broker

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/broker/backend"
	"github.com/gogpu/broker/gpucore"
	"github.com/gogpu/broker/internal/mailbox"
	"github.com/gogpu/broker/internal/registry"
)

// actor owns the backend and the registry. All of its fields are touched
// only from the goroutine running run.
type actor struct {
	name    string
	backend backend.Backend
	reg     *registry.Registry
	inbox   *mailbox.Mailbox[Request]

	adapterIDs gpucore.AdapterAllocator
	deviceIDs  gpucore.DeviceAllocator
	bufferIDs  gpucore.BufferAllocator

	state     State
	tornDown  bool
	processed uint64
}

func newActor(name string, b backend.Backend, inbox *mailbox.Mailbox[Request]) *actor {
	return &actor{
		name:    name,
		backend: b,
		reg:     registry.New(),
		inbox:   inbox,
		state:   StateRunning,
	}
}

// run is the actor loop. It pins itself to one OS thread so that every
// backend call happens there, and closes done on exit.
func (a *actor) run(done chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	Logger().Info("broker: actor started", "thread", a.name, "backend", a.backend.Name())
	for a.state == StateRunning {
		req, ok := a.inbox.Receive()
		if !ok {
			// Closed without a Shutdown message; still release everything.
			a.teardown()
			a.state = StateStopped
			break
		}
		a.handle(req)
	}
	Logger().Info("broker: actor stopped", "thread", a.name, "processed", a.processed)
}

func (a *actor) handle(req Request) {
	a.processed++
	Logger().Debug("broker: request", "thread", a.name, "kind", req.kind(), "seq", a.processed)

	switch m := req.(type) {
	case RequestAdapter:
		a.requestAdapter(m)
	case RequestDevice:
		a.requestDevice(m)
	case CreateBuffer:
		a.createBuffer(m)
	case DestroyBuffer:
		a.destroyBuffer(m)
	case DestroyDevice:
		a.destroyDevice(m)
	case Inspect:
		deliver(m.Reply, Result[Snapshot]{Value: a.snapshot()}, m)
	case Shutdown:
		a.shutdown(m)
	}
}

func (a *actor) requestAdapter(m RequestAdapter) {
	id := a.adapterIDs.Alloc()
	var info gputypes.AdapterInfo
	err := a.call("RequestAdapter", func() (err error) {
		info, err = a.backend.RequestAdapter(id, &m.Options)
		return err
	})
	if err != nil {
		if errors.Is(err, backend.ErrNoAdapter) {
			err = fmt.Errorf("%w: backend %s, power preference %s, fallback %t",
				ErrNoAdapter, a.backend.Name(), m.Options.PowerPreference, m.Options.ForceFallbackAdapter)
		}
		deliver(m.Reply, Result[AdapterResponse]{Err: err}, m)
		return
	}

	a.reg.RecordAdapter(id)
	summary := backend.Classify(info)
	Logger().Info("broker: adapter selected",
		"adapter", id, "name", info.Name, "type", summary.Type, "backend", a.backend.Name())
	deliver(m.Reply, Result[AdapterResponse]{Value: AdapterResponse{
		Adapter: id,
		Info:    info,
		Summary: summary,
	}}, m)
}

func (a *actor) requestDevice(m RequestDevice) {
	if !a.reg.HasAdapter(m.Adapter) {
		deliver(m.Reply, Result[DeviceResponse]{Err: fmt.Errorf("%w: %s", ErrUnknownHandle, m.Adapter)}, m)
		return
	}

	id := a.deviceIDs.Alloc()
	desc := m.Descriptor
	err := a.call("RequestDevice", func() error {
		return a.backend.RequestDevice(id, m.Adapter, &desc)
	})
	if err != nil {
		deliver(m.Reply, Result[DeviceResponse]{Err: err}, m)
		return
	}

	a.reg.RecordDevice(id, m.Adapter)
	deliver(m.Reply, Result[DeviceResponse]{Value: DeviceResponse{
		Device:     id,
		Descriptor: m.Descriptor,
	}}, m)
}

func (a *actor) createBuffer(m CreateBuffer) {
	if _, ok := a.reg.DeviceOwner(m.Device); !ok {
		deliver(m.Reply, Result[BufferResponse]{Err: fmt.Errorf("%w: %s", ErrUnknownHandle, m.Device)}, m)
		return
	}

	id := a.bufferIDs.Alloc()
	desc := m.Descriptor
	err := a.call("CreateBuffer", func() error {
		return a.backend.CreateBuffer(id, m.Device, &desc)
	})
	if err != nil {
		deliver(m.Reply, Result[BufferResponse]{Err: err}, m)
		return
	}

	a.reg.RecordBuffer(id, m.Device)
	deliver(m.Reply, Result[BufferResponse]{Value: BufferResponse{
		Buffer:     id,
		Descriptor: m.Descriptor,
	}}, m)
}

func (a *actor) destroyBuffer(m DestroyBuffer) {
	if _, ok := a.reg.BufferOwner(m.Buffer); !ok {
		Logger().Debug("broker: destroy of unknown buffer ignored", "buffer", m.Buffer)
		return
	}
	err := a.call("DestroyBuffer", func() error {
		return a.backend.DestroyBuffer(m.Buffer)
	})
	if err != nil {
		Logger().Warn("broker: destroy buffer failed", "buffer", m.Buffer, "err", err)
		return
	}
	a.reg.RemoveBuffer(m.Buffer)
}

func (a *actor) destroyDevice(m DestroyDevice) {
	if _, ok := a.reg.DeviceOwner(m.Device); !ok {
		deliver(m.Reply, Result[struct{}]{Err: fmt.Errorf("%w: %s", ErrUnknownHandle, m.Device)}, m)
		return
	}

	err := a.call("PollDevice", func() error {
		return a.backend.PollDevice(m.Device, true)
	})
	if err != nil {
		deliver(m.Reply, Result[struct{}]{Err: err}, m)
		return
	}
	for buf := range a.reg.BuffersOf(m.Device) {
		err := a.call("DestroyBuffer", func() error {
			return a.backend.DestroyBuffer(buf)
		})
		if err != nil {
			deliver(m.Reply, Result[struct{}]{Err: err}, m)
			return
		}
		a.reg.RemoveBuffer(buf)
	}
	err = a.call("DestroyDevice", func() error {
		return a.backend.DestroyDevice(m.Device)
	})
	if err != nil {
		deliver(m.Reply, Result[struct{}]{Err: err}, m)
		return
	}
	a.reg.RemoveDevice(m.Device)
	deliver(m.Reply, Result[struct{}]{}, m)
}

func (a *actor) shutdown(m Shutdown) {
	pending := a.inbox.Close()
	a.teardown()
	a.state = StateStopped
	for _, req := range pending {
		a.reject(req)
	}
	acknowledge(m.Ack)
}

// reject answers a request that arrived after Shutdown.
func (a *actor) reject(req Request) {
	Logger().Debug("broker: rejecting request after shutdown", "kind", req.kind())
	switch m := req.(type) {
	case RequestAdapter:
		deliver(m.Reply, Result[AdapterResponse]{Err: ErrShutdown}, m)
	case RequestDevice:
		deliver(m.Reply, Result[DeviceResponse]{Err: ErrShutdown}, m)
	case CreateBuffer:
		deliver(m.Reply, Result[BufferResponse]{Err: ErrShutdown}, m)
	case DestroyDevice:
		deliver(m.Reply, Result[struct{}]{Err: ErrShutdown}, m)
	case Inspect:
		deliver(m.Reply, Result[Snapshot]{Err: ErrShutdown}, m)
	case Shutdown:
		acknowledge(m.Ack)
	}
}

// memoryReporter is implemented by backends that track buffer memory.
type memoryReporter interface {
	MemoryStats() backend.MemoryStats
}

func (a *actor) snapshot() Snapshot {
	s := Snapshot{
		State:     a.state,
		Backend:   a.backend.Name(),
		Adapters:  a.reg.Adapters(),
		Devices:   a.reg.DeviceMap(),
		Buffers:   a.reg.BufferMap(),
		Processed: a.processed,
		Queued:    a.inbox.Len(),
		Issued: IssuedIDs{
			Adapters: a.adapterIDs.Issued(),
			Devices:  a.deviceIDs.Issued(),
			Buffers:  a.bufferIDs.Issued(),
		},
	}
	if m, ok := a.backend.(memoryReporter); ok {
		stats := m.MemoryStats()
		s.Memory = &stats
	}
	return s
}

// call runs one backend operation. Errors and panics come back wrapped in
// ErrBackend.
func (a *actor) call(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("broker: backend panic", "op", op, "panic", r)
			err = fmt.Errorf("%w: %s panicked: %v", ErrBackend, op, r)
		}
	}()
	Logger().Debug("broker: backend call", "op", op)
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
	}
	return nil
}

// deliver sends r on ch without blocking. A nil, full or closed channel
// loses the reply, which is logged.
func deliver[T any](ch chan<- Result[T], r Result[T], req Request) {
	defer func() {
		if p := recover(); p != nil {
			Logger().Warn("broker: reply dropped", "kind", req.kind(), "reason", "closed channel")
		}
	}()
	if ch == nil {
		Logger().Warn("broker: reply dropped", "kind", req.kind(), "reason", "nil channel")
		return
	}
	select {
	case ch <- r:
	default:
		Logger().Warn("broker: reply dropped", "kind", req.kind(), "reason", "channel full")
	}
}

func acknowledge(ack chan<- struct{}) {
	defer func() {
		if p := recover(); p != nil {
			Logger().Warn("broker: shutdown ack dropped", "reason", "closed channel")
		}
	}()
	if ack == nil {
		return
	}
	select {
	case ack <- struct{}{}:
	default:
		Logger().Warn("broker: shutdown ack dropped", "reason", "channel full")
	}
}
