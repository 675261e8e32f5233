package broker

import "errors"

// Errors returned by the broker. Failures are wrapped with context, so
// compare them with errors.Is.
var (
	// ErrUnknownHandle is returned when a request refers to an adapter,
	// device or buffer that is not live.
	ErrUnknownHandle = errors.New("broker: unknown handle")

	// ErrNoAdapter is returned when no adapter matches the request options.
	// The broker keeps running.
	ErrNoAdapter = errors.New("broker: no compatible adapter")

	// ErrBackend is returned when the backend rejects an operation or
	// panics while performing it. The backend error is wrapped.
	ErrBackend = errors.New("broker: backend failure")

	// ErrShutdown is returned for requests that were queued behind a
	// shutdown.
	ErrShutdown = errors.New("broker: shut down")

	// ErrUnbufferedReply is returned by Send when a request's reply channel
	// is nil or has no buffer, so a reply could not be delivered without
	// blocking the actor.
	ErrUnbufferedReply = errors.New("broker: reply channel is nil or unbuffered")

	// ErrClosed is returned when sending to a broker whose mailbox is closed.
	ErrClosed = errors.New("broker: closed")

	// ErrDisabled is returned by New when the configuration disables the
	// broker.
	ErrDisabled = errors.New("broker: disabled by configuration")
)
