package gpucore

import "sync/atomic"

// Allocator mints identifiers of one kind. Values start at 1 and increase
// monotonically; released resources never give their identifier back.
//
// The zero Allocator is ready to use. Alloc is safe for concurrent use,
// although the broker only calls it from its actor goroutine.
type Allocator[K Kind] struct {
	last atomic.Uint64
}

// AdapterAllocator mints AdapterIDs.
type AdapterAllocator = Allocator[adapterKind]

// DeviceAllocator mints DeviceIDs.
type DeviceAllocator = Allocator[deviceKind]

// BufferAllocator mints BufferIDs.
type BufferAllocator = Allocator[bufferKind]

// Alloc returns a fresh, never-before-issued identifier.
func (a *Allocator[K]) Alloc() ID[K] {
	return ID[K]{raw: a.last.Add(1)}
}

// Issued returns how many identifiers have been handed out.
func (a *Allocator[K]) Issued() uint64 {
	return a.last.Load()
}
