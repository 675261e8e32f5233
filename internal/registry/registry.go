// Package registry tracks the ownership graph between adapters, devices and
// buffers held by a broker.
//
// The registry is the sole source of truth for liveness: a handle that is
// not present in its map is considered destroyed. Entries are never updated
// in place; every lifecycle transition is an insert or a remove.
//
// A Registry is not safe for concurrent use. The broker owns exactly one and
// touches it only from its actor goroutine.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/gogpu/broker/gpucore"
)

// ErrInconsistent is returned by Check when an entry refers to an owner that
// is no longer live.
var ErrInconsistent = errors.New("registry: inconsistent ownership graph")

// Registry holds the adapter set and the device->adapter and buffer->device
// ownership maps.
type Registry struct {
	adapters map[gpucore.AdapterID]struct{}
	devices  map[gpucore.DeviceID]gpucore.AdapterID
	buffers  map[gpucore.BufferID]gpucore.DeviceID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		adapters: make(map[gpucore.AdapterID]struct{}),
		devices:  make(map[gpucore.DeviceID]gpucore.AdapterID),
		buffers:  make(map[gpucore.BufferID]gpucore.DeviceID),
	}
}

// RecordAdapter marks adapter as known.
func (r *Registry) RecordAdapter(adapter gpucore.AdapterID) {
	r.adapters[adapter] = struct{}{}
}

// HasAdapter reports whether adapter has been recorded.
func (r *Registry) HasAdapter(adapter gpucore.AdapterID) bool {
	_, ok := r.adapters[adapter]
	return ok
}

// RecordDevice records device as owned by adapter.
// The caller is responsible for checking that adapter is known.
func (r *Registry) RecordDevice(device gpucore.DeviceID, adapter gpucore.AdapterID) {
	r.devices[device] = adapter
}

// RecordBuffer records buffer as owned by device.
// The caller is responsible for checking that device is live.
func (r *Registry) RecordBuffer(buffer gpucore.BufferID, device gpucore.DeviceID) {
	r.buffers[buffer] = device
}

// DeviceOwner returns the adapter that owns device.
func (r *Registry) DeviceOwner(device gpucore.DeviceID) (gpucore.AdapterID, bool) {
	a, ok := r.devices[device]
	return a, ok
}

// BufferOwner returns the device that owns buffer.
func (r *Registry) BufferOwner(buffer gpucore.BufferID) (gpucore.DeviceID, bool) {
	d, ok := r.buffers[buffer]
	return d, ok
}

// RemoveBuffer deletes buffer. It reports whether an entry was present;
// removing an absent buffer is a no-op.
func (r *Registry) RemoveBuffer(buffer gpucore.BufferID) bool {
	if _, ok := r.buffers[buffer]; !ok {
		return false
	}
	delete(r.buffers, buffer)
	return true
}

// RemoveDevice deletes device. It reports whether an entry was present.
//
// RemoveDevice does not cascade: buffers owned by device must be removed
// first, otherwise Check reports ErrInconsistent.
func (r *Registry) RemoveDevice(device gpucore.DeviceID) bool {
	if _, ok := r.devices[device]; !ok {
		return false
	}
	delete(r.devices, device)
	return true
}

// BuffersOf yields the buffers owned by device in ascending ID order.
// The owner set is captured when iteration starts, so the caller may remove
// buffers while ranging.
func (r *Registry) BuffersOf(device gpucore.DeviceID) iter.Seq[gpucore.BufferID] {
	return func(yield func(gpucore.BufferID) bool) {
		for _, b := range sortedKeys(r.buffers) {
			if r.buffers[b] != device {
				continue
			}
			if !yield(b) {
				return
			}
		}
	}
}

// DevicesOf yields the devices owned by adapter in ascending ID order.
func (r *Registry) DevicesOf(adapter gpucore.AdapterID) iter.Seq[gpucore.DeviceID] {
	return func(yield func(gpucore.DeviceID) bool) {
		for _, d := range sortedKeys(r.devices) {
			if r.devices[d] != adapter {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Buffers yields every (buffer, device) entry in ascending buffer ID order.
// Entries removed during iteration are skipped.
func (r *Registry) Buffers() iter.Seq2[gpucore.BufferID, gpucore.DeviceID] {
	return func(yield func(gpucore.BufferID, gpucore.DeviceID) bool) {
		for _, b := range sortedKeys(r.buffers) {
			d, ok := r.buffers[b]
			if !ok {
				continue
			}
			if !yield(b, d) {
				return
			}
		}
	}
}

// Devices yields every (device, adapter) entry in ascending device ID order.
// Entries removed during iteration are skipped.
func (r *Registry) Devices() iter.Seq2[gpucore.DeviceID, gpucore.AdapterID] {
	return func(yield func(gpucore.DeviceID, gpucore.AdapterID) bool) {
		for _, d := range sortedKeys(r.devices) {
			a, ok := r.devices[d]
			if !ok {
				continue
			}
			if !yield(d, a) {
				return
			}
		}
	}
}

// Adapters returns the recorded adapters in ascending ID order.
func (r *Registry) Adapters() []gpucore.AdapterID {
	return sortedKeys(r.adapters)
}

// NumDevices returns the number of live devices.
func (r *Registry) NumDevices() int { return len(r.devices) }

// NumBuffers returns the number of live buffers.
func (r *Registry) NumBuffers() int { return len(r.buffers) }

// DeviceMap returns a copy of the device->adapter map.
func (r *Registry) DeviceMap() map[gpucore.DeviceID]gpucore.AdapterID {
	return maps.Clone(r.devices)
}

// BufferMap returns a copy of the buffer->device map.
func (r *Registry) BufferMap() map[gpucore.BufferID]gpucore.DeviceID {
	return maps.Clone(r.buffers)
}

// Check verifies that every buffer is owned by a live device and every
// device by a known adapter.
func (r *Registry) Check() error {
	for b, d := range r.Buffers() {
		if _, ok := r.devices[d]; !ok {
			return fmt.Errorf("%w: %s owned by destroyed %s", ErrInconsistent, b, d)
		}
	}
	for d, a := range r.Devices() {
		if _, ok := r.adapters[a]; !ok {
			return fmt.Errorf("%w: %s owned by unknown %s", ErrInconsistent, d, a)
		}
	}
	return nil
}

type rawID interface {
	comparable
	Raw() uint64
}

func sortedKeys[K rawID, V any](m map[K]V) []K {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b K) int { return cmp.Compare(a.Raw(), b.Raw()) })
	return keys
}
