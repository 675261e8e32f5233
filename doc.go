// Package broker mediates access to a graphics device from many callers.
//
// A [Broker] runs a single actor goroutine, locked to one OS thread, that
// owns the graphics backend and the ownership graph between adapters,
// devices and buffers. Callers never touch the backend: they send
// [Request] values into the broker's mailbox and receive exactly one
// [Result] on a reply channel they supply.
//
// # Quick Start
//
//	b, err := broker.New(broker.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Shutdown(context.Background())
//
//	ctx := context.Background()
//	ad, err := b.RequestAdapter(ctx, gputypes.RequestAdapterOptions{})
//	dev, err := b.RequestDevice(ctx, ad.Adapter, gputypes.DefaultDeviceDescriptor())
//	buf, err := b.CreateBuffer(ctx, dev.Device, gputypes.BufferDescriptor{
//	    Size:  16,
//	    Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
//	})
//	b.DestroyBuffer(buf.Buffer)
//
// # Protocol
//
// The caller helpers on [Broker] wrap the raw protocol. Bindings that manage
// their own reply channels use [Broker.Send] with the request types
// directly. Send rejects a request whose reply channel is nil or unbuffered
// with [ErrUnbufferedReply], so a delivered reply always has room to land
// and the actor never blocks on a caller.
//
// # Handles
//
// [AdapterHandle], [DeviceHandle] and [BufferHandle] are capability tokens
// minted by the actor. They carry no ownership: a stale handle is reported
// as [ErrUnknownHandle], never a crash.
//
// # Shutdown
//
// [Broker.Shutdown] destroys every buffer (after waiting for its device),
// then every device, then releases the backend. Requests already queued
// behind the shutdown are answered with [ErrShutdown] and later sends fail
// with [ErrClosed].
//
// # Logging
//
// The broker is silent by default. See [SetLogger].
package broker
