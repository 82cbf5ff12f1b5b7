package heap

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/chainmem/chainmem"
)

// Heap is an offset-addressed first-fit allocator embedded in an externally-owned
// byte buffer, such as the data region of an on-chain account. The buffer's owner
// hands the same bytes back on every invocation, possibly at a different base
// address and possibly grown, so the heap stores every link as a buffer-relative
// offset and re-reads its own header on each call.
//
// The heap is a doubly-linked chain of chunks so freed chunks can merge with their
// neighbours. The chain always ends in a terminal sentinel chunk with zero length
// and no next link; the buffer may grow between invocations, so the sentinel marks
// "free space to the end of whatever the buffer currently is" rather than a fixed
// extent.
//
// Heap performs no locking. The execution model it serves runs one invocation at a
// time with exclusive access to the buffer.
type Heap struct {
	magic      uint32
	heapOffset uint32

	// AbortOnExhaustion switches out-of-space reporting from an error return to a
	// panic, matching the environment the layout comes from, where running out of
	// account data terminates the whole invocation and rolls back the transaction.
	AbortOnExhaustion bool
}

var _ Allocator = &Heap{}

// NewHeap creates a Heap identified by the provided magic word. fixedFieldsSize is
// the number of bytes reserved between the header and the first chunk for fixed
// storage fields laid out by the consumer; the heap begins at the next aligned
// boundary after them. Pass 0 when there are no fixed fields.
func NewHeap(magic uint32, fixedFieldsSize int) *Heap {
	return &Heap{
		magic:      magic,
		heapOffset: uint32(chainmem.AlignUp(HeaderSize+fixedFieldsSize, PayloadAlign)),
	}
}

// Alloc finds or creates a chunk able to hold size bytes, marks it allocated and
// returns the offset of its payload. A size of 0 allocates nothing and returns
// offset 0, which every other operation accepts as "no allocation".
//
// The scan is first-fit in chain order. Free chunks that are comfortably oversized
// are split; free chunks whose leftover would be below the split threshold are
// reused whole, with the slack kept as padding for future in-place growth.
//
// Alloc returns chainmem.ErrAccountDataTooSmall when no chunk can hold the request
// and the buffer has no room left at the tail. Nothing has been modified when it
// does, so the heap remains valid and a smaller request may still succeed.
func (h *Heap) Alloc(data []byte, size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}

	offset, err := h.ensure(data)
	if err != nil {
		return 0, err
	}

	allocSize := roundUpAlloc(size)
	if allocSize < size {
		// rounding wrapped: the request is within 8 bytes of the uint32 limit and
		// can never fit in a buffer this side of 4GB
		return 0, h.exhausted(size, len(data))
	}

	var offsetPrev uint32

	for {
		if offset+chunkHeaderSize > uint32(len(data)) {
			return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "chunk chain reaches offset %d, outside the %d byte buffer", offset, len(data))
		}

		cur := loadChunk(data, offset)

		if !cur.allocated {
			if cur.length == 0 {
				if cur.next != 0 {
					return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "zero-length chunk at offset %d has a next link", offset)
				}

				// Terminal chunk: free space bounded only by the buffer. Claim it
				// and write a fresh terminal chunk after the new allocation.
				payload := offset + chunkHeaderSize

				if uint64(payload)+uint64(allocSize)+chunkHeaderSize >= uint64(len(data)) {
					return 0, h.exhausted(size, len(data))
				}

				cur.next = payload + allocSize
				cur.prev = offsetPrev
				cur.length = size
				cur.allocated = true
				cur.store(data, offset)

				chunk{prev: offset}.store(data, cur.next)

				chainmem.DebugFill(data, payload, size, chainmem.CreatedFillPattern)
				return payload, nil
			} else if cur.length < allocSize {
				// too small
			} else if allocSize+minSplitSlack > cur.length {
				// just right: reuse whole, the leftover is not worth a chunk of its own
				cur.allocated = true
				cur.length = size
				cur.store(data, offset)

				chainmem.DebugFill(data, offset+chunkHeaderSize, size, chainmem.CreatedFillPattern)
				return offset + chunkHeaderSize, nil
			} else {
				// too big: split the tail off as a new free chunk
				next := cur.next
				splitOffset := offset + chunkHeaderSize + allocSize

				cur.next = splitOffset
				cur.length = size
				cur.allocated = true
				cur.store(data, offset)

				chunk{
					prev:   offset,
					next:   next,
					length: next - splitOffset - chunkHeaderSize,
				}.store(data, splitOffset)

				if next != 0 {
					after := loadChunk(data, next)
					after.prev = splitOffset
					after.store(data, next)
				}

				chainmem.DebugFill(data, offset+chunkHeaderSize, size, chainmem.CreatedFillPattern)
				return offset + chunkHeaderSize, nil
			}
		}

		offsetPrev = offset
		offset = cur.next

		if offset == 0 {
			return 0, cerrors.Wrap(chainmem.ErrCorruptHeap, "chunk chain ended without a terminal chunk")
		}
	}
}

// Free marks the allocation at offset free and eagerly merges it with free
// neighbours, so no two adjacent chunks are ever both free. Offset 0 is a no-op.
//
// Unlike the layout's original environment, which trusts its callers completely,
// Free rejects offsets that do not refer to a live allocation with
// chainmem.ErrInvalidOffset. A double free is therefore reported rather than
// silently corrupting the chain.
func (h *Heap) Free(data []byte, offset uint32) error {
	if offset == 0 {
		return nil
	}

	heapOffset, err := h.ensure(data)
	if err != nil {
		return err
	}

	err = checkLiveOffset(data, heapOffset, offset)
	if err != nil {
		return err
	}

	chunkOffset := offset - chunkHeaderSize
	cur := loadChunk(data, chunkOffset)

	chainmem.DebugFill(data, offset, cur.length, chainmem.DestroyedFillPattern)

	cur.allocated = false
	cur.store(data, chunkOffset)

	// merge with previous chunk?
	if cur.prev != 0 {
		prev := loadChunk(data, cur.prev)

		if !prev.allocated {
			merged := cur.prev

			if cur.next != 0 {
				prev.next = cur.next
				prev.length = cur.next - merged - chunkHeaderSize

				next := loadChunk(data, cur.next)
				next.prev = merged
				next.store(data, cur.next)
			} else {
				prev.next = 0
				prev.length = 0
			}

			prev.store(data, merged)

			chunkOffset = merged
			cur = prev
		}
	}

	// merge with next chunk?
	if cur.next != 0 {
		next := loadChunk(data, cur.next)

		if !next.allocated {
			if next.next != 0 {
				cur.next = next.next
				cur.length = cur.next - chunkOffset - chunkHeaderSize

				after := loadChunk(data, cur.next)
				after.prev = chunkOffset
				after.store(data, cur.next)
			} else {
				cur.next = 0
				cur.length = 0
			}

			cur.store(data, chunkOffset)
		}
	}

	return nil
}

// Len returns the declared payload length of the allocation at offset, which is the
// size most recently requested for it rather than the rounded internal alloc size.
// Offset 0 and offsets outside the buffer return 0.
func (h *Heap) Len(data []byte, offset uint32) uint32 {
	if offset == 0 {
		return 0
	}

	if offset < chunkHeaderSize || offset > uint32(len(data)) {
		return 0
	}

	return loadChunk(data, offset-chunkHeaderSize).length
}

// Realloc resizes the allocation at offset to size bytes, preserving the first
// min(old, new) payload bytes, and returns the possibly-changed payload offset.
// An offset of 0 degrades to Alloc; a size of 0 degrades to Free and returns 0.
//
// Growth is attempted cheapest-first: in place within the chunk's existing span,
// then by expanding into a free following chunk, and only then by allocating fresh
// space, copying the payload and freeing the old chunk. When that final allocation
// fails the original allocation is untouched and still live.
func (h *Heap) Realloc(data []byte, offset uint32, size uint32) (uint32, error) {
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

	err = checkLiveOffset(data, heapOffset, offset)
	if err != nil {
		return 0, err
	}

	chunkOffset := offset - chunkHeaderSize
	cur := loadChunk(data, chunkOffset)

	if cur.next < offset || cur.next+chunkHeaderSize > uint32(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "allocated chunk at offset %d has next link %d, outside the %d byte buffer", chunkOffset, cur.next, len(data))
	}

	existingSize := cur.next - offset
	allocSize := roundUpAlloc(size)
	if allocSize < size {
		return 0, h.exhausted(size, len(data))
	}

	// 1. Is the existing chunk big enough
	if size <= existingSize {
		cur.length = size
		cur.store(data, chunkOffset)

		// can we free up some space
		if existingSize >= allocSize+minSplitSlack {
			h.shrinkInPlace(data, chunkOffset, cur, offset+allocSize)
		}

		return offset, nil
	}

	next := loadChunk(data, cur.next)

	// 2. Can we use the next chunk to expand our chunk to fit
	// Note because we always merge neighbours, free chunks do not have free
	// neighbours.
	if !next.allocated {
		if next.next != 0 {
			mergedSize := next.next - offset

			if size < mergedSize {
				if mergedSize-allocSize < minSplitSlack {
					// merge the two chunks
					cur.next = next.next
					cur.length = size
					cur.store(data, chunkOffset)

					after := loadChunk(data, cur.next)
					after.prev = chunkOffset
					after.store(data, cur.next)
				} else {
					// expand our chunk to fit and shrink the next chunk
					offsetNext := offset + allocSize
					offsetNextNext := next.next

					cur.next = offsetNext
					cur.length = size
					cur.store(data, chunkOffset)

					chunk{
						prev:   chunkOffset,
						next:   offsetNextNext,
						length: offsetNextNext - offsetNext - chunkHeaderSize,
					}.store(data, offsetNext)

					after := loadChunk(data, offsetNextNext)
					after.prev = offsetNext
					after.store(data, offsetNextNext)
				}

				return offset, nil
			}
		} else if uint64(offset)+uint64(allocSize)+chunkHeaderSize < uint64(len(data)) {
			// the next chunk is the terminal chunk: extend into the tail
			cur.next = offset + allocSize
			cur.length = size
			cur.store(data, chunkOffset)

			chunk{prev: chunkOffset}.store(data, cur.next)

			return offset, nil
		}
	}

	// 3. Allocate fresh space, copy the payload, free the old chunk. The old
	// allocation is only released once the copy has succeeded.
	oldLength := cur.length

	newOffset, err := h.Alloc(data, size)
	if err != nil {
		return 0, err
	}

	copyLen := oldLength
	if size < copyLen {
		copyLen = size
	}
	copy(data[newOffset:newOffset+copyLen], data[offset:offset+copyLen])

	err = h.Free(data, offset)
	if err != nil {
		return 0, err
	}

	return newOffset, nil
}

// shrinkInPlace trims the chunk at chunkOffset down to end at newNext, handing the
// slack to a free chunk there. The slack merges with a free following chunk, moves
// the terminal chunk up when it directly precedes it, or becomes a new free chunk
// between two allocated ones.
func (h *Heap) shrinkInPlace(data []byte, chunkOffset uint32, cur chunk, newNext uint32) {
	next := loadChunk(data, cur.next)

	if !next.allocated && next.next == 0 {
		// the trailing terminal chunk moves up
		cur.next = newNext
		cur.store(data, chunkOffset)

		chunk{prev: chunkOffset}.store(data, newNext)
		return
	}

	// the chunk after the slack: the free chunk's successor when merging, the
	// allocated successor itself when inserting
	after := cur.next
	if !next.allocated {
		after = next.next
	}

	cur.next = newNext
	cur.store(data, chunkOffset)

	chunk{
		prev:   chunkOffset,
		next:   after,
		length: after - newNext - chunkHeaderSize,
	}.store(data, newNext)

	afterChunk := loadChunk(data, after)
	afterChunk.prev = newNext
	afterChunk.store(data, after)
}

// checkLiveOffset verifies that offset plausibly came from Alloc or Realloc and
// still refers to a live allocation: inside the heap region, payload-aligned, and
// backed by a chunk header whose allocated flag is set.
func checkLiveOffset(data []byte, heapOffset, offset uint32) error {
	if offset < heapOffset+chunkHeaderSize || offset%PayloadAlign != 0 || offset+chunkHeaderSize > uint32(len(data)) {
		return cerrors.Wrapf(chainmem.ErrInvalidOffset, "offset %d cannot be a payload in the heap region of a %d byte buffer", offset, len(data))
	}

	if !loadChunk(data, offset-chunkHeaderSize).allocated {
		return cerrors.Wrapf(chainmem.ErrInvalidOffset, "chunk at offset %d is not allocated", offset-chunkHeaderSize)
	}

	return nil
}

func (h *Heap) exhausted(size uint32, bufferLen int) error {
	err := cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "no room for a %d byte allocation in a %d byte buffer", size, bufferLen)
	if h.AbortOnExhaustion {
		panic(err)
	}

	return err
}
