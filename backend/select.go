package backend

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Classify maps a HAL adapter description onto the coarse adapter type
// used for selection and reporting.
func Classify(info gputypes.AdapterInfo) gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: info.Name, Type: t}
}

// SelectAdapter picks the adapter that best satisfies opts.
//
// ForceFallbackAdapter restricts the choice to software adapters. Otherwise
// high performance prefers discrete over integrated, low power prefers
// integrated over discrete, and no preference keeps enumeration order.
// Software adapters rank below hardware ones unless a fallback is forced.
// Ties keep enumeration order.
func SelectAdapter(exposed []hal.ExposedAdapter, opts *gputypes.RequestAdapterOptions) (hal.ExposedAdapter, bool) {
	best, bestRank := -1, -1
	for i := range exposed {
		r := rank(Classify(exposed[i].Info).Type, opts)
		if r > bestRank {
			best, bestRank = i, r
		}
	}
	if best < 0 {
		return hal.ExposedAdapter{}, false
	}
	return exposed[best], true
}

// rank scores an adapter type for opts. A negative rank excludes it.
func rank(t gpucontext.AdapterType, opts *gputypes.RequestAdapterOptions) int {
	if opts.ForceFallbackAdapter {
		if t == gpucontext.AdapterTypeSoftware {
			return 0
		}
		return -1
	}
	switch opts.PowerPreference {
	case gputypes.PowerPreferenceHighPerformance:
		switch t {
		case gpucontext.AdapterTypeDiscrete:
			return 3
		case gpucontext.AdapterTypeIntegrated:
			return 2
		}
	case gputypes.PowerPreferenceLowPower:
		switch t {
		case gpucontext.AdapterTypeIntegrated:
			return 3
		case gpucontext.AdapterTypeDiscrete:
			return 2
		}
	default:
		if t != gpucontext.AdapterTypeSoftware {
			return 2
		}
	}
	if t == gpucontext.AdapterTypeSoftware {
		return 0
	}
	return 1
}
