package backend

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/broker/gpucore"
)

func init() {
	Register(BackendSoftware, func() Backend { return NewHAL(BackendSoftware, software.API{}) })
	Register(BackendNoop, func() Backend { return NewHAL(BackendNoop, noop.API{}) })
}

type halAdapter struct {
	exposed hal.ExposedAdapter
}

type halDevice struct {
	adapter gpucore.AdapterID
	open    hal.OpenDevice
	limits  gputypes.Limits
}

type halBuffer struct {
	device gpucore.DeviceID
	raw    hal.Buffer
	size   uint64
}

// HAL is a Backend over a gogpu/wgpu hal.Backend. The hal.Instance is
// created on the first adapter request. Each adapter identifier keeps the
// hal.Adapter chosen when it was enumerated.
//
// HAL is not safe for concurrent use.
type HAL struct {
	name     string
	api      hal.Backend
	instance hal.Instance

	adapters map[gpucore.AdapterID]*halAdapter
	devices  map[gpucore.DeviceID]*halDevice
	buffers  map[gpucore.BufferID]*halBuffer

	mem      memoryBudget
	released bool
}

var _ Backend = (*HAL)(nil)

// NewHAL creates a backend named name over api.
func NewHAL(name string, api hal.Backend) *HAL {
	return &HAL{
		name:     name,
		api:      api,
		adapters: make(map[gpucore.AdapterID]*halAdapter),
		devices:  make(map[gpucore.DeviceID]*halDevice),
		buffers:  make(map[gpucore.BufferID]*halBuffer),
	}
}

// Name returns the backend name.
func (b *HAL) Name() string { return b.name }

func (b *HAL) ensureInstance() error {
	if b.instance != nil {
		return nil
	}
	inst, err := b.api.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.BackendsAll,
	})
	if err != nil {
		return fmt.Errorf("%w: create %s instance: %w", ErrNoAdapter, b.name, err)
	}
	b.instance = inst
	slogger().Debug("backend: instance created", "backend", b.name)
	return nil
}

// RequestAdapter enumerates the instance's adapters and binds the best
// match for opts to id.
func (b *HAL) RequestAdapter(id gpucore.AdapterID, opts *gputypes.RequestAdapterOptions) (gputypes.AdapterInfo, error) {
	if b.released {
		return gputypes.AdapterInfo{}, ErrReleased
	}
	if _, ok := b.adapters[id]; ok {
		return gputypes.AdapterInfo{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if err := b.ensureInstance(); err != nil {
		return gputypes.AdapterInfo{}, err
	}
	if opts == nil {
		opts = &gputypes.RequestAdapterOptions{}
	}

	exposed, ok := SelectAdapter(b.instance.EnumerateAdapters(nil), opts)
	if !ok {
		return gputypes.AdapterInfo{}, ErrNoAdapter
	}
	b.adapters[id] = &halAdapter{exposed: exposed}
	slogger().Debug("backend: adapter bound",
		"backend", b.name, "adapter", id, "name", exposed.Info.Name, "type", exposed.Info.DeviceType)
	return exposed.Info, nil
}

// RequestDevice opens a device on the adapter bound to adapter.
func (b *HAL) RequestDevice(id gpucore.DeviceID, adapter gpucore.AdapterID, desc *gputypes.DeviceDescriptor) error {
	if b.released {
		return ErrReleased
	}
	a, ok := b.adapters[adapter]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, adapter)
	}
	if _, ok := b.devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	adapterLimits := a.exposed.Capabilities.Limits
	if err := ValidateDeviceDescriptor(desc, a.exposed.Features, adapterLimits); err != nil {
		return err
	}
	limits := effectiveLimits(desc, adapterLimits)

	var features gputypes.Features
	for _, f := range desc.RequiredFeatures {
		features.Insert(f)
	}
	open, err := a.exposed.Adapter.Open(features, limits)
	if err != nil {
		return fmt.Errorf("open device %q on %s: %w", desc.Label, adapter, err)
	}
	b.devices[id] = &halDevice{adapter: adapter, open: open, limits: limits}
	slogger().Debug("backend: device opened", "backend", b.name, "device", id, "adapter", adapter)
	return nil
}

// CreateBuffer allocates a buffer on device.
func (b *HAL) CreateBuffer(id gpucore.BufferID, device gpucore.DeviceID, desc *gputypes.BufferDescriptor) error {
	if b.released {
		return ErrReleased
	}
	d, ok := b.devices[device]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, device)
	}
	if _, ok := b.buffers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if err := ValidateBufferDescriptor(desc, d.limits); err != nil {
		return err
	}
	if err := b.mem.reserve(desc.Size); err != nil {
		return err
	}
	raw, err := d.open.Device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		b.mem.release(desc.Size)
		return fmt.Errorf("create buffer %q on %s: %w", desc.Label, device, err)
	}
	b.buffers[id] = &halBuffer{device: device, raw: raw, size: desc.Size}
	return nil
}

// DestroyBuffer releases the buffer bound to id.
func (b *HAL) DestroyBuffer(id gpucore.BufferID) error {
	if b.released {
		return ErrReleased
	}
	buf, ok := b.buffers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if d, ok := b.devices[buf.device]; ok {
		d.open.Device.DestroyBuffer(buf.raw)
	}
	b.mem.release(buf.size)
	delete(b.buffers, id)
	return nil
}

// PollDevice waits for the device to go idle when wait is set. A
// non-waiting poll has nothing to advance on the HAL device.
func (b *HAL) PollDevice(device gpucore.DeviceID, wait bool) error {
	if b.released {
		return ErrReleased
	}
	d, ok := b.devices[device]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, device)
	}
	if !wait {
		return nil
	}
	if err := d.open.Device.WaitIdle(); err != nil {
		return fmt.Errorf("poll %s: %w", device, err)
	}
	return nil
}

// DestroyDevice releases the device bound to id.
func (b *HAL) DestroyDevice(id gpucore.DeviceID) error {
	if b.released {
		return ErrReleased
	}
	d, ok := b.devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if n := b.buffersOn(id); n > 0 {
		return fmt.Errorf("%w: %s owns %d buffers", ErrInUse, id, n)
	}
	d.open.Device.Destroy()
	delete(b.devices, id)
	return nil
}

// Release destroys whatever the caller left alive, then the adapters and
// the instance.
func (b *HAL) Release() {
	if b.released {
		return
	}
	b.released = true
	log := slogger()

	if _, devices, buffers := b.live(); buffers > 0 || devices > 0 {
		log.Warn("backend: releasing live resources",
			"backend", b.name, "buffers", buffers, "devices", devices)
	}
	for _, id := range slices.SortedFunc(maps.Keys(b.buffers), byRaw[gpucore.BufferID]) {
		buf := b.buffers[id]
		if d, ok := b.devices[buf.device]; ok {
			d.open.Device.DestroyBuffer(buf.raw)
		}
		b.mem.release(buf.size)
		delete(b.buffers, id)
	}
	for _, id := range slices.SortedFunc(maps.Keys(b.devices), byRaw[gpucore.DeviceID]) {
		b.devices[id].open.Device.Destroy()
		delete(b.devices, id)
	}
	for _, id := range slices.SortedFunc(maps.Keys(b.adapters), byRaw[gpucore.AdapterID]) {
		b.adapters[id].exposed.Adapter.Destroy()
		delete(b.adapters, id)
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
	log.Debug("backend: released", "backend", b.name)
}

// live reports how many native resources are alive.
func (b *HAL) live() (adapters, devices, buffers int) {
	return len(b.adapters), len(b.devices), len(b.buffers)
}

// SetBudget limits the total size of live buffers. Zero removes the limit.
// Buffers already alive are kept even when they exceed a new, lower limit.
func (b *HAL) SetBudget(bytes uint64) {
	b.mem.limit = bytes
}

// MemoryStats reports buffer memory usage.
func (b *HAL) MemoryStats() MemoryStats {
	return b.mem.stats()
}

func (b *HAL) buffersOn(device gpucore.DeviceID) int {
	n := 0
	for _, buf := range b.buffers {
		if buf.device == device {
			n++
		}
	}
	return n
}

func byRaw[K interface{ Raw() uint64 }](a, b K) int {
	return cmp.Compare(a.Raw(), b.Raw())
}
