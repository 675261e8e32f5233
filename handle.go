package broker

import "github.com/gogpu/broker/gpucore"

// Handle types exposed to callers. They are comparable, usable as map keys
// and marshal to text as "kind:id".
type (
	AdapterHandle = gpucore.AdapterID
	DeviceHandle  = gpucore.DeviceID
	BufferHandle  = gpucore.BufferID
)
