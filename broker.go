package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/broker/backend"
	"github.com/gogpu/broker/internal/mailbox"
)

// Broker is the caller side of a running actor. It is safe for concurrent
// use by any number of goroutines.
type Broker struct {
	inbox   *mailbox.Mailbox[Request]
	done    chan struct{}
	backend string
}

// New starts a broker configured by cfg. It returns ErrDisabled if cfg
// disables the broker, or ErrBackendNotAvailable (wrapped) if cfg names a
// backend that is not registered.
func New(cfg Config, opts ...Option) (*Broker, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	be := o.backend
	if be == nil {
		var err error
		if be, err = backend.Open(cfg.Backend); err != nil {
			return nil, fmt.Errorf("broker: backend %q: %w", cfg.Backend, err)
		}
	}

	if cfg.MemoryBudgetMB > 0 {
		if bs, ok := be.(budgetSetter); ok {
			bs.SetBudget(uint64(cfg.MemoryBudgetMB) << 20)
		} else {
			Logger().Warn("broker: backend ignores memory budget", "backend", be.Name())
		}
	}

	b := &Broker{
		inbox:   mailbox.New[Request](),
		done:    make(chan struct{}),
		backend: be.Name(),
	}
	go newActor(cfg.ThreadName, be, b.inbox).run(b.done)
	return b, nil
}

// budgetSetter is implemented by backends that enforce a memory budget.
type budgetSetter interface {
	SetBudget(bytes uint64)
}

// Backend returns the name of the backend the broker drives.
func (b *Broker) Backend() string { return b.backend }

// Closed reports whether the broker has stopped accepting requests, which
// happens as soon as the actor receives a Shutdown.
func (b *Broker) Closed() bool { return b.inbox.Closed() }

// Done returns a channel that is closed once the actor has stopped.
func (b *Broker) Done() <-chan struct{} { return b.done }

// Send enqueues req for the actor. It returns ErrUnbufferedReply if the
// reply channel of req is nil or unbuffered, and ErrClosed once the broker
// has received a Shutdown.
func (b *Broker) Send(req Request) error {
	if req == nil {
		return errors.New("broker: nil request")
	}
	if err := req.validate(); err != nil {
		return fmt.Errorf("%w: %s", err, req.kind())
	}
	if err := b.inbox.Push(req); err != nil {
		if errors.Is(err, mailbox.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// roundTrip sends the request built around a fresh reply channel and waits
// for the reply, ctx or the actor to stop. When ctx ends first the request
// is still processed; its reply is discarded.
func roundTrip[T any](ctx context.Context, b *Broker, build func(chan<- Result[T]) Request) (T, error) {
	var zero T
	reply := make(chan Result[T], 1)
	if err := b.Send(build(reply)); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r.Get()
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.done:
		// Replies are delivered before the actor exits.
		select {
		case r := <-reply:
			return r.Get()
		default:
			return zero, ErrShutdown
		}
	}
}

// RequestAdapter asks for an adapter matching opts.
func (b *Broker) RequestAdapter(ctx context.Context, opts gputypes.RequestAdapterOptions) (AdapterResponse, error) {
	return roundTrip(ctx, b, func(reply chan<- Result[AdapterResponse]) Request {
		return RequestAdapter{Options: opts, Reply: reply}
	})
}

// RequestDevice opens a device on adapter.
func (b *Broker) RequestDevice(ctx context.Context, adapter AdapterHandle, desc gputypes.DeviceDescriptor) (DeviceResponse, error) {
	return roundTrip(ctx, b, func(reply chan<- Result[DeviceResponse]) Request {
		return RequestDevice{Adapter: adapter, Descriptor: desc, Reply: reply}
	})
}

// CreateBuffer creates a buffer on device.
func (b *Broker) CreateBuffer(ctx context.Context, device DeviceHandle, desc gputypes.BufferDescriptor) (BufferResponse, error) {
	return roundTrip(ctx, b, func(reply chan<- Result[BufferResponse]) Request {
		return CreateBuffer{Device: device, Descriptor: desc, Reply: reply}
	})
}

// DestroyBuffer enqueues destruction of buf. It does not wait.
func (b *Broker) DestroyBuffer(buf BufferHandle) error {
	return b.Send(DestroyBuffer{Buffer: buf})
}

// DestroyDevice destroys device and every buffer it owns.
func (b *Broker) DestroyDevice(ctx context.Context, device DeviceHandle) error {
	_, err := roundTrip(ctx, b, func(reply chan<- Result[struct{}]) Request {
		return DestroyDevice{Device: device, Reply: reply}
	})
	return err
}

// Inspect returns a snapshot of the actor's state.
func (b *Broker) Inspect(ctx context.Context) (Snapshot, error) {
	return roundTrip(ctx, b, func(reply chan<- Result[Snapshot]) Request {
		return Inspect{Reply: reply}
	})
}

// Shutdown tears the broker down and waits for the actor to stop.
// Calling it again, or after another caller's Shutdown, waits for the same
// stop and returns nil.
func (b *Broker) Shutdown(ctx context.Context) error {
	ack := make(chan struct{}, 1)
	if err := b.Send(Shutdown{Ack: ack}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
