package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// mapUsage is the set of usages that make a buffer host-mappable.
const mapUsage = gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite

// ValidateBufferDescriptor checks desc against WebGPU buffer creation rules
// and the device limits. It returns an error wrapping ErrInvalidDescriptor
// or ErrUnsupported.
func ValidateBufferDescriptor(desc *gputypes.BufferDescriptor, limits gputypes.Limits) error {
	if desc == nil {
		return fmt.Errorf("%w: nil buffer descriptor", ErrInvalidDescriptor)
	}
	u := desc.Usage
	switch {
	case u == gputypes.BufferUsageNone:
		return fmt.Errorf("%w: buffer %q has no usage", ErrInvalidDescriptor, desc.Label)
	case u.ContainsUnknownBits():
		return fmt.Errorf("%w: buffer %q has unknown usage bits %#x", ErrInvalidDescriptor, desc.Label, uint64(u))
	case u.Contains(gputypes.BufferUsageMapRead) && u&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst) != 0:
		return fmt.Errorf("%w: buffer %q: MAP_READ combines only with COPY_DST", ErrInvalidDescriptor, desc.Label)
	case u.Contains(gputypes.BufferUsageMapWrite) && u&^(gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc) != 0:
		return fmt.Errorf("%w: buffer %q: MAP_WRITE combines only with COPY_SRC", ErrInvalidDescriptor, desc.Label)
	}
	if limits.MaxBufferSize != 0 && desc.Size > limits.MaxBufferSize {
		return fmt.Errorf("%w: buffer %q size %d exceeds limit %d",
			ErrInvalidDescriptor, desc.Label, desc.Size, limits.MaxBufferSize)
	}
	if desc.MappedAtCreation {
		return fmt.Errorf("%w: buffer %q mapped at creation", ErrUnsupported, desc.Label)
	}
	return nil
}

// ValidateDeviceDescriptor checks that desc only asks for features and
// limits the adapter exposes. It returns an error wrapping ErrUnsupported.
func ValidateDeviceDescriptor(desc *gputypes.DeviceDescriptor, features gputypes.Features, limits gputypes.Limits) error {
	if desc == nil {
		return fmt.Errorf("%w: nil device descriptor", ErrInvalidDescriptor)
	}
	var required gputypes.Features
	for _, f := range desc.RequiredFeatures {
		required.Insert(f)
	}
	if missing := required &^ features; missing != 0 {
		return fmt.Errorf("%w: device %q requires features %#x not offered by the adapter",
			ErrUnsupported, desc.Label, uint64(missing))
	}

	req := desc.RequiredLimits
	checks := []struct {
		name      string
		got, have uint64
	}{
		{"MaxBufferSize", req.MaxBufferSize, limits.MaxBufferSize},
		{"MaxStorageBufferBindingSize", req.MaxStorageBufferBindingSize, limits.MaxStorageBufferBindingSize},
		{"MaxUniformBufferBindingSize", req.MaxUniformBufferBindingSize, limits.MaxUniformBufferBindingSize},
		{"MaxBindGroups", uint64(req.MaxBindGroups), uint64(limits.MaxBindGroups)},
		{"MaxTextureDimension2D", uint64(req.MaxTextureDimension2D), uint64(limits.MaxTextureDimension2D)},
	}
	for _, c := range checks {
		if c.got > c.have {
			return fmt.Errorf("%w: device %q requires %s=%d, adapter offers %d",
				ErrUnsupported, desc.Label, c.name, c.got, c.have)
		}
	}
	return nil
}

// effectiveLimits returns the limits a device opened with desc runs under.
// A zero RequiredLimits means the adapter's own limits.
func effectiveLimits(desc *gputypes.DeviceDescriptor, adapter gputypes.Limits) gputypes.Limits {
	if desc.RequiredLimits == (gputypes.Limits{}) {
		return adapter
	}
	return desc.RequiredLimits
}
