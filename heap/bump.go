package heap

import (
	"encoding/binary"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"

	"github.com/chainmem/chainmem"
)

const (
	// bumpCursorSize is the space reserved at the heap offset for the cursor word.
	// Only 4 bytes are used, but reserving 8 keeps every payload aligned.
	bumpCursorSize = 8
	// bumpPrefixSize is the space reserved before each payload for its length
	// prefix. As with the cursor, the extra 4 bytes are alignment padding.
	bumpPrefixSize = 8
)

// BumpHeap is the no-reuse contrast to Heap: allocations are carved off a single
// cursor that only ever moves forward, each carrying a length prefix so Len can
// still answer. Free is a no-op and freed space is never reclaimed, which suits
// short-lived invocations that discard the whole buffer afterwards.
//
// Like Heap, all of its state lives inside the managed buffer: the header at offset
// 0 and the cursor word at the heap offset, so it too survives the buffer moving
// between invocations.
type BumpHeap struct {
	magic      uint32
	heapOffset uint32
}

var _ Allocator = &BumpHeap{}

// NewBumpHeap creates a BumpHeap identified by the provided magic word.
// fixedFieldsSize behaves as it does for NewHeap.
func NewBumpHeap(magic uint32, fixedFieldsSize int) *BumpHeap {
	return &BumpHeap{
		magic:      magic,
		heapOffset: uint32(chainmem.AlignUp(HeaderSize+fixedFieldsSize, PayloadAlign)),
	}
}

// Bootstrap initializes the header and the cursor word inside a fresh buffer.
// Calling it on a buffer that already carries the magic word is a no-op.
func (h *BumpHeap) Bootstrap(data []byte) error {
	if uint32(len(data)) < HeaderSize {
		return cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "buffer of %d bytes cannot hold the %d byte header", len(data), HeaderSize)
	}

	if headerField(data, magicField) == h.magic {
		return nil
	}

	if uint32(len(data)) < h.heapOffset+bumpCursorSize {
		return cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "buffer of %d bytes cannot hold the heap, which begins at offset %d", len(data), h.heapOffset)
	}

	setHeaderField(data, magicField, h.magic)
	setHeaderField(data, returnDataLenField, 0)
	setHeaderField(data, returnDataOffsetField, 0)
	setHeaderField(data, heapOffsetField, h.heapOffset)

	binary.LittleEndian.PutUint32(data[h.heapOffset:], h.heapOffset+bumpCursorSize)

	return nil
}

func (h *BumpHeap) ensure(data []byte) (uint32, error) {
	err := h.Bootstrap(data)
	if err != nil {
		return 0, err
	}

	heapOffset := headerField(data, heapOffsetField)
	if heapOffset < HeaderSize || heapOffset%PayloadAlign != 0 || heapOffset+bumpCursorSize > uint32(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "header names heap offset %d, which cannot hold the cursor in a %d byte buffer", heapOffset, len(data))
	}

	cursor := binary.LittleEndian.Uint32(data[heapOffset:])
	if cursor < heapOffset+bumpCursorSize || cursor > uint32(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "cursor is %d, outside the heap region of a %d byte buffer", cursor, len(data))
	}

	return heapOffset, nil
}

// Alloc reserves size bytes past the cursor and returns the offset of the payload.
// A size of 0 reserves nothing and returns offset 0.
func (h *BumpHeap) Alloc(data []byte, size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}

	heapOffset, err := h.ensure(data)
	if err != nil {
		return 0, err
	}

	cursor := binary.LittleEndian.Uint32(data[heapOffset:])

	payload := cursor + bumpPrefixSize
	end := uint64(payload) + uint64(roundUpAlloc(size))

	if roundUpAlloc(size) < size || end > uint64(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "no room for a %d byte allocation in a %d byte buffer", size, len(data))
	}

	binary.LittleEndian.PutUint32(data[cursor:], size)
	binary.LittleEndian.PutUint32(data[cursor+4:], 0)
	binary.LittleEndian.PutUint32(data[heapOffset:], uint32(end))

	chainmem.DebugFill(data, payload, size, chainmem.CreatedFillPattern)
	return payload, nil
}

// Free is a no-op: a BumpHeap never reclaims space. It exists so consumers can be
// written against Allocator and switched between implementations.
func (h *BumpHeap) Free(data []byte, offset uint32) error {
	return nil
}

// Len returns the declared payload length of the allocation at offset, or 0 for
// offset 0 and offsets outside the buffer.
func (h *BumpHeap) Len(data []byte, offset uint32) uint32 {
	if offset == 0 {
		return 0
	}

	if offset < bumpPrefixSize || offset > uint32(len(data)) {
		return 0
	}

	return binary.LittleEndian.Uint32(data[offset-bumpPrefixSize:])
}

// Realloc resizes the allocation at offset. Shrinking happens in place; growth
// extends the cursor when offset is the most recent allocation and otherwise
// allocates fresh space and copies the payload. The old space is not reclaimed.
func (h *BumpHeap) Realloc(data []byte, offset uint32, size uint32) (uint32, error) {
	if size == 0 {
		return 0, h.Free(data, offset)
	}

	if offset == 0 {
		return h.Alloc(data, size)
	}

	heapOffset, err := h.ensure(data)
	if err != nil {
		return 0, err
	}

	if offset < heapOffset+bumpCursorSize+bumpPrefixSize || offset%PayloadAlign != 0 || offset > uint32(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrInvalidOffset, "offset %d cannot be a payload in the heap region of a %d byte buffer", offset, len(data))
	}

	oldLength := binary.LittleEndian.Uint32(data[offset-bumpPrefixSize:])

	if size <= oldLength {
		binary.LittleEndian.PutUint32(data[offset-bumpPrefixSize:], size)
		return offset, nil
	}

	cursor := binary.LittleEndian.Uint32(data[heapOffset:])

	if offset+roundUpAlloc(oldLength) == cursor {
		// most recent allocation: grow by moving the cursor
		end := offset + roundUpAlloc(size)
		if end <= uint32(len(data)) {
			binary.LittleEndian.PutUint32(data[offset-bumpPrefixSize:], size)
			binary.LittleEndian.PutUint32(data[heapOffset:], end)
			return offset, nil
		}
	}

	newOffset, err := h.Alloc(data, size)
	if err != nil {
		return 0, err
	}

	copy(data[newOffset:newOffset+oldLength], data[offset:offset+oldLength])

	return newOffset, nil
}

// Validate walks the length prefixes from the start of the heap region to the
// cursor and verifies they tile it exactly.
func (h *BumpHeap) Validate(data []byte) error {
	if uint32(len(data)) < HeaderSize || headerField(data, magicField) != h.magic {
		return nil
	}

	heapOffset := headerField(data, heapOffsetField)
	if heapOffset < HeaderSize || heapOffset+bumpCursorSize > uint32(len(data)) {
		return errors.Errorf("header names heap offset %d, which cannot hold the cursor in a %d byte buffer", heapOffset, len(data))
	}

	cursor := binary.LittleEndian.Uint32(data[heapOffset:])
	if cursor < heapOffset+bumpCursorSize || cursor > uint32(len(data)) {
		return errors.Errorf("cursor is %d, outside the heap region of a %d byte buffer", cursor, len(data))
	}

	offset := heapOffset + bumpCursorSize
	for offset < cursor {
		if offset+bumpPrefixSize > cursor {
			return errors.Errorf("length prefix at offset %d extends past the cursor at %d", offset, cursor)
		}

		length := binary.LittleEndian.Uint32(data[offset:])
		if length == 0 {
			return errors.Errorf("allocation at offset %d has zero length", offset+bumpPrefixSize)
		}

		offset += bumpPrefixSize + roundUpAlloc(length)
	}

	if offset != cursor {
		return errors.Errorf("allocations tile %d bytes but the cursor is at %d", offset, cursor)
	}

	return nil
}

// AllocationCount returns the number of allocations ever made in the buffer. Free
// does not reclaim, so this never decreases.
func (h *BumpHeap) AllocationCount(data []byte) int {
	var count int

	_ = h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if !free {
			count++
		}
		return nil
	})

	return count
}

// VisitAllRegions calls visit once for every allocation, in address order, followed
// by the free tail between the cursor and the end of the buffer.
func (h *BumpHeap) VisitAllRegions(data []byte, visit func(offset uint32, size uint32, free bool) error) error {
	if uint32(len(data)) < HeaderSize || headerField(data, magicField) != h.magic {
		return nil
	}

	heapOffset := headerField(data, heapOffsetField)
	if heapOffset < HeaderSize || heapOffset+bumpCursorSize > uint32(len(data)) {
		return errors.Errorf("header names heap offset %d, which cannot hold the cursor in a %d byte buffer", heapOffset, len(data))
	}

	cursor := binary.LittleEndian.Uint32(data[heapOffset:])
	if cursor < heapOffset+bumpCursorSize || cursor > uint32(len(data)) {
		return errors.Errorf("cursor is %d, outside the heap region of a %d byte buffer", cursor, len(data))
	}

	offset := heapOffset + bumpCursorSize
	for offset < cursor {
		length := binary.LittleEndian.Uint32(data[offset:])

		err := visit(offset+bumpPrefixSize, length, false)
		if err != nil {
			return err
		}

		offset += bumpPrefixSize + roundUpAlloc(length)
	}

	if uint32(len(data)) > cursor {
		return visit(cursor, uint32(len(data))-cursor, true)
	}

	return nil
}
