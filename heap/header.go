package heap

import (
	"encoding/binary"

	cerrors "github.com/cockroachdb/errors"

	"github.com/chainmem/chainmem"
)

// The account data header occupies the first 16 bytes of the managed buffer. The
// magic word identifies the buffer as heap-managed and distinguishes first use from
// resumption; the heap offset locates the first chunk header. The return-data fields
// belong to an orthogonal return-value channel and play no part in the allocator
// invariants.
const (
	// HeaderSize is the size in bytes of the account data header at offset 0.
	HeaderSize = 16

	magicField            = 0
	returnDataLenField    = 4
	returnDataOffsetField = 8
	heapOffsetField       = 12
)

// DefaultMagic is the magic word used when the consumer has no identifier of its
// own. Consumers that manage multiple buffer layouts (for example, one per deployed
// program) should pass their own discriminator to NewHeap instead.
const DefaultMagic uint32 = 0x41424344

func headerField(data []byte, field int) uint32 {
	return binary.LittleEndian.Uint32(data[field : field+4])
}

func setHeaderField(data []byte, field int, value uint32) {
	binary.LittleEndian.PutUint32(data[field:field+4], value)
}

// Bootstrap initializes the header and the terminal sentinel chunk inside a fresh
// buffer. It is invoked lazily by every operation when the magic word is absent, so
// calling it directly is only useful to surface sizing problems early. Calling it on
// a buffer that already carries the magic word is a no-op.
func (h *Heap) Bootstrap(data []byte) error {
	if uint32(len(data)) < HeaderSize {
		return cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "buffer of %d bytes cannot hold the %d byte header", len(data), HeaderSize)
	}

	if headerField(data, magicField) == h.magic {
		return nil
	}

	if uint32(len(data)) < h.heapOffset+chunkHeaderSize {
		return cerrors.Wrapf(chainmem.ErrAccountDataTooSmall, "buffer of %d bytes cannot hold the heap, which begins at offset %d", len(data), h.heapOffset)
	}

	setHeaderField(data, magicField, h.magic)
	setHeaderField(data, returnDataLenField, 0)
	setHeaderField(data, returnDataOffsetField, 0)
	setHeaderField(data, heapOffsetField, h.heapOffset)

	chunk{}.store(data, h.heapOffset)

	return nil
}

// ensure bootstraps the buffer if it has never been touched and returns the heap
// offset recorded in its header. The recorded offset is trusted only after a bounds
// and alignment check: a header that points outside the buffer means the buffer
// bytes were damaged by something else.
func (h *Heap) ensure(data []byte) (uint32, error) {
	err := h.Bootstrap(data)
	if err != nil {
		return 0, err
	}

	heapOffset := headerField(data, heapOffsetField)
	if heapOffset < HeaderSize || heapOffset%PayloadAlign != 0 || heapOffset+chunkHeaderSize > uint32(len(data)) {
		return 0, cerrors.Wrapf(chainmem.ErrCorruptHeap, "header names heap offset %d, which cannot hold a chunk in a %d byte buffer", heapOffset, len(data))
	}

	return heapOffset, nil
}
