package heap

import (
	"github.com/pkg/errors"
)

// Validate walks the chunk chain and verifies every structural invariant: the chain
// is symmetrically doubly-linked, terminates in exactly one terminal sentinel, every
// chunk spans at least its declared length, and no two adjacent chunks are both
// free. A buffer that has never been bootstrapped validates trivially.
//
// The walk touches every chunk, so this is a diagnostic aid rather than something
// to run on a hot path.
func (h *Heap) Validate(data []byte) error {
	if uint32(len(data)) < HeaderSize || headerField(data, magicField) != h.magic {
		return nil
	}

	heapOffset := headerField(data, heapOffsetField)
	if heapOffset < HeaderSize || heapOffset%PayloadAlign != 0 {
		return errors.Errorf("header names heap offset %d, which is not an aligned offset past the header", heapOffset)
	}

	offset := heapOffset

	var lastOffset uint32
	lastFree := false

	for {
		if offset+chunkHeaderSize > uint32(len(data)) {
			return errors.Errorf("chunk header at offset %d extends past the end of the %d byte buffer", offset, len(data))
		}

		if offset%PayloadAlign != 0 {
			return errors.Errorf("chunk at offset %d is not aligned on a %d byte boundary", offset, PayloadAlign)
		}

		cur := loadChunk(data, offset)

		if cur.length == 0 || cur.next == 0 {
			if !cur.terminal() {
				return errors.Errorf("chunk at offset %d is only half terminal: length %d, next link %d", offset, cur.length, cur.next)
			}

			if cur.allocated {
				return errors.Errorf("terminal chunk at offset %d is marked allocated", offset)
			}

			if cur.prev != lastOffset {
				return errors.Errorf("terminal chunk at offset %d names previous chunk %d, but the chunk before it is at %d", offset, cur.prev, lastOffset)
			}

			if lastFree {
				return errors.Errorf("free chunk at offset %d is adjacent to the terminal chunk and should have been merged", lastOffset)
			}

			return nil
		}

		if cur.prev != lastOffset {
			return errors.Errorf("chunk at offset %d names previous chunk %d, but the chunk before it is at %d", offset, cur.prev, lastOffset)
		}

		if cur.next <= offset+chunkHeaderSize {
			return errors.Errorf("chunk at offset %d has non-advancing next link %d", offset, cur.next)
		}

		if cur.span(offset) < cur.length {
			return errors.Errorf("chunk at offset %d declares %d bytes but only spans %d", offset, cur.length, cur.span(offset))
		}

		if !cur.allocated && lastFree {
			return errors.Errorf("free chunks at offsets %d and %d are adjacent and should have been merged", lastOffset, offset)
		}

		lastFree = !cur.allocated
		lastOffset = offset
		offset = cur.next
	}
}

// VisitAllRegions calls visit once for every allocated payload and every free
// region in the buffer, in address order. Allocated regions report their declared
// length; free regions report their full usable span, and the tail past the
// terminal chunk is reported as one free region. A buffer that has never been
// bootstrapped has no regions.
func (h *Heap) VisitAllRegions(data []byte, visit func(offset uint32, size uint32, free bool) error) error {
	if uint32(len(data)) < HeaderSize || headerField(data, magicField) != h.magic {
		return nil
	}

	offset := headerField(data, heapOffsetField)

	for {
		if offset+chunkHeaderSize > uint32(len(data)) {
			return errors.Errorf("chunk header at offset %d extends past the end of the %d byte buffer", offset, len(data))
		}

		cur := loadChunk(data, offset)

		if cur.terminal() {
			tail := len(data) - int(offset+chunkHeaderSize)
			if tail > 0 {
				return visit(offset+chunkHeaderSize, uint32(tail), true)
			}

			return nil
		}

		if cur.next == 0 || cur.length == 0 {
			return errors.Errorf("chunk at offset %d is only half terminal: length %d, next link %d", offset, cur.length, cur.next)
		}

		var err error
		if cur.allocated {
			err = visit(offset+chunkHeaderSize, cur.length, false)
		} else {
			err = visit(offset+chunkHeaderSize, cur.span(offset), true)
		}
		if err != nil {
			return err
		}

		offset = cur.next
	}
}

// AllocationCount returns the number of live allocations in the buffer.
func (h *Heap) AllocationCount(data []byte) int {
	var count int

	_ = h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if !free {
			count++
		}
		return nil
	})

	return count
}

// FreeRegionsCount returns the number of distinct free regions in the buffer,
// counting the tail past the terminal chunk as one region. Eager merging keeps this
// bounded to one free region per gap between allocations.
func (h *Heap) FreeRegionsCount(data []byte) int {
	var count int

	_ = h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if free {
			count++
		}
		return nil
	})

	return count
}

// SumFreeSize returns the number of free payload bytes in the buffer, including the
// tail past the terminal chunk.
func (h *Heap) SumFreeSize(data []byte) int {
	var sum int

	_ = h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if free {
			sum += int(size)
		}
		return nil
	})

	return sum
}

// IsEmpty returns true if the buffer has no live allocations.
func (h *Heap) IsEmpty(data []byte) bool {
	return h.AllocationCount(data) == 0
}
