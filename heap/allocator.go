package heap

// Allocator is the surface shared by account-data allocators. Implementations keep
// every piece of their state inside the caller-provided buffer, addressed by
// buffer-relative offsets, so the same bytes can be handed back at a different base
// address on a later invocation and resumed.
//
// Offset 0 is never a valid allocation: the account data header occupies it, so all
// operations treat 0 as "no allocation".
type Allocator interface {
	// Bootstrap prepares a never-before-used buffer, writing the header that later
	// invocations use to recognize it. Operations bootstrap lazily on first touch,
	// so calling this directly is only needed to surface sizing errors early.
	Bootstrap(data []byte) error

	// Alloc reserves size bytes and returns the offset of the payload. A size of 0
	// reserves nothing and returns offset 0.
	Alloc(data []byte, size uint32) (uint32, error)
	// Free releases the allocation at offset. Offset 0 is a no-op.
	Free(data []byte, offset uint32) error
	// Len returns the declared payload length of the allocation at offset, or 0 for
	// offset 0.
	Len(data []byte, offset uint32) uint32
	// Realloc resizes the allocation at offset, preserving the first min(old, new)
	// payload bytes, and returns the possibly-changed payload offset. Offset 0
	// degrades to Alloc; size 0 degrades to Free.
	Realloc(data []byte, offset uint32, size uint32) (uint32, error)

	// Validate performs consistency checks over the allocator's embedded state.
	// These checks walk the entire structure and are intended for diagnostics;
	// when the implementation is functioning correctly they cannot fail.
	Validate(data []byte) error
	// AllocationCount returns the number of live allocations in the buffer.
	AllocationCount(data []byte) int
	// VisitAllRegions calls visit once for every allocated payload and every free
	// region in the buffer, in address order.
	VisitAllRegions(data []byte, visit func(offset uint32, size uint32, free bool) error) error
}
