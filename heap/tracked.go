package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"

	"github.com/chainmem/chainmem"
)

// TrackedHeap wraps an Allocator and keeps a side table of every payload offset it
// has handed out. Frees and resizes of offsets that were never returned by this
// wrapper, including double frees, are rejected with chainmem.ErrInvalidOffset
// before the underlying allocator sees them.
//
// The side table lives in process memory, not in the buffer, so a TrackedHeap only
// knows about allocations made through itself within the current invocation. It is
// a debugging and hardening layer, not part of the persistent format.
type TrackedHeap struct {
	inner Allocator
	live  *swiss.Map[uint32, uint32]
}

var _ Allocator = &TrackedHeap{}

// NewTrackedHeap wraps the provided allocator.
func NewTrackedHeap(inner Allocator) *TrackedHeap {
	return &TrackedHeap{
		inner: inner,
		live:  swiss.NewMap[uint32, uint32](42),
	}
}

// LiveCount returns the number of allocations handed out through this wrapper that
// have not been freed.
func (h *TrackedHeap) LiveCount() int {
	return h.live.Count()
}

func (h *TrackedHeap) Bootstrap(data []byte) error {
	return h.inner.Bootstrap(data)
}

func (h *TrackedHeap) Alloc(data []byte, size uint32) (uint32, error) {
	offset, err := h.inner.Alloc(data, size)
	if err != nil {
		return 0, err
	}

	if offset != 0 {
		h.live.Put(offset, size)
	}

	return offset, nil
}

func (h *TrackedHeap) Free(data []byte, offset uint32) error {
	if offset == 0 {
		return nil
	}

	if !h.live.Has(offset) {
		return cerrors.Wrapf(chainmem.ErrInvalidOffset, "offset %d was not handed out by this allocator or was already freed", offset)
	}

	err := h.inner.Free(data, offset)
	if err != nil {
		return err
	}

	h.live.Delete(offset)
	return nil
}

func (h *TrackedHeap) Len(data []byte, offset uint32) uint32 {
	if offset == 0 {
		return 0
	}

	length, ok := h.live.Get(offset)
	if !ok {
		return 0
	}

	return length
}

func (h *TrackedHeap) Realloc(data []byte, offset uint32, size uint32) (uint32, error) {
	if offset != 0 && !h.live.Has(offset) {
		return 0, cerrors.Wrapf(chainmem.ErrInvalidOffset, "offset %d was not handed out by this allocator or was already freed", offset)
	}

	newOffset, err := h.inner.Realloc(data, offset, size)
	if err != nil {
		return 0, err
	}

	if offset != 0 {
		h.live.Delete(offset)
	}
	if newOffset != 0 {
		h.live.Put(newOffset, size)
	}

	return newOffset, nil
}

// Validate validates the underlying allocator, then cross-checks the side table
// against the regions actually present in the buffer.
func (h *TrackedHeap) Validate(data []byte) error {
	err := h.inner.Validate(data)
	if err != nil {
		return err
	}

	live := make(map[uint32]uint32, h.live.Count())

	err = h.inner.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if !free {
			live[offset] = size
		}
		return nil
	})
	if err != nil {
		return err
	}

	var tableErr error
	h.live.Iter(func(offset uint32, length uint32) bool {
		actual, ok := live[offset]
		if !ok {
			tableErr = errors.Errorf("the side table holds offset %d, but the buffer has no live allocation there", offset)
			return true
		}
		if actual != length {
			tableErr = errors.Errorf("the side table holds %d bytes for offset %d, but the buffer declares %d", length, offset, actual)
			return true
		}
		return false
	})

	return tableErr
}

func (h *TrackedHeap) AllocationCount(data []byte) int {
	return h.inner.AllocationCount(data)
}

func (h *TrackedHeap) VisitAllRegions(data []byte, visit func(offset uint32, size uint32, free bool) error) error {
	return h.inner.VisitAllRegions(data, visit)
}
