package gpucore

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is a constraint for the marker types that distinguish identifier kinds.
// The marker set is closed: only this package can implement it.
type Kind interface {
	kindName() string
}

type adapterKind struct{}

func (adapterKind) kindName() string { return "adapter" }

type deviceKind struct{}

func (deviceKind) kindName() string { return "device" }

type bufferKind struct{}

func (bufferKind) kindName() string { return "buffer" }

// ID is an opaque, comparable resource identifier parameterized by its kind.
// Different kinds are distinct types, so a DeviceID cannot be passed where a
// BufferID is expected.
type ID[K Kind] struct {
	raw uint64
}

// AdapterID identifies a physical or logical adapter selected by a backend.
type AdapterID = ID[adapterKind]

// DeviceID identifies a logical device opened from an adapter.
type DeviceID = ID[deviceKind]

// BufferID identifies a buffer allocated on a device.
type BufferID = ID[bufferKind]

// NewAdapterID wraps a raw backend value. No validation is performed.
func NewAdapterID(raw uint64) AdapterID { return AdapterID{raw: raw} }

// NewDeviceID wraps a raw backend value. No validation is performed.
func NewDeviceID(raw uint64) DeviceID { return DeviceID{raw: raw} }

// NewBufferID wraps a raw backend value. No validation is performed.
func NewBufferID(raw uint64) BufferID { return BufferID{raw: raw} }

// Raw returns the underlying backend value.
func (id ID[K]) Raw() uint64 { return id.raw }

// IsZero reports whether id is the invalid zero identifier.
func (id ID[K]) IsZero() bool { return id.raw == 0 }

// Kind returns the resource kind name ("adapter", "device" or "buffer").
func (id ID[K]) Kind() string {
	var k K
	return k.kindName()
}

// String returns the identifier as "<kind>:<raw>", e.g. "buffer:7".
func (id ID[K]) String() string {
	return id.Kind() + ":" + strconv.FormatUint(id.raw, 10)
}

// MarshalText implements encoding.TextMarshaler using the String form.
func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the String
// form and rejects identifiers of another kind.
func (id *ID[K]) UnmarshalText(text []byte) error {
	kind, raw, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("gpucore: malformed identifier %q", text)
	}
	if want := id.Kind(); kind != want {
		return fmt.Errorf("gpucore: identifier %q is a %s, want %s", text, kind, want)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("gpucore: malformed identifier %q: %w", text, err)
	}
	id.raw = v
	return nil
}
