// Package gpucore defines the opaque resource identifiers shared by the
// broker, its registry and its backends.
//
// An identifier is a capability token: it names a backend resource but says
// nothing about whether that resource is still alive. Liveness is a property
// of the broker's registry, never of the identifier itself, so a caller may
// hold a stale [BufferID] and the broker must answer it with an "unknown
// handle" failure rather than crash.
//
// Identifiers are minted by an [Allocator], one per resource kind. Each
// allocator hands out strictly increasing values starting at 1, so an
// identifier is never reused within a process lifetime and the zero value
// always means "no resource".
//
//	var buffers gpucore.BufferAllocator
//	id := buffers.Alloc() // buffer:1
//	next := buffers.Alloc() // buffer:2
package gpucore
