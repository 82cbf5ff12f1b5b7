package heap

import "encoding/binary"

// Chunk headers live directly before each payload inside the managed buffer. All
// fields are little-endian uint32 values, and every link is a byte offset from the
// start of the buffer rather than a native pointer: the buffer's base address is
// different on every invocation, only its contents persist.
const (
	chunkHeaderSize = 16

	chunkNextField      = 0
	chunkPrevField      = 4
	chunkLengthField    = 8
	chunkAllocatedField = 12
)

// PayloadAlign is the boundary every chunk payload starts on. Keeping payloads
// 8-byte aligned keeps 8-byte-wide bulk copy and zero helpers usable on them.
const PayloadAlign = 8

// minSplitSlack is the smallest tail worth splitting off an oversized chunk. A
// smaller tail cannot hold a chunk header plus one aligned payload, so splitting
// would only manufacture a chunk that can never be reused.
const minSplitSlack = chunkHeaderSize + PayloadAlign

type chunk struct {
	next      uint32
	prev      uint32
	length    uint32
	allocated bool
}

func loadChunk(data []byte, offset uint32) chunk {
	field := data[offset : offset+chunkHeaderSize]

	return chunk{
		next:      binary.LittleEndian.Uint32(field[chunkNextField:]),
		prev:      binary.LittleEndian.Uint32(field[chunkPrevField:]),
		length:    binary.LittleEndian.Uint32(field[chunkLengthField:]),
		allocated: binary.LittleEndian.Uint32(field[chunkAllocatedField:]) != 0,
	}
}

func (c chunk) store(data []byte, offset uint32) {
	field := data[offset : offset+chunkHeaderSize]

	var allocated uint32
	if c.allocated {
		allocated = 1
	}

	binary.LittleEndian.PutUint32(field[chunkNextField:], c.next)
	binary.LittleEndian.PutUint32(field[chunkPrevField:], c.prev)
	binary.LittleEndian.PutUint32(field[chunkLengthField:], c.length)
	binary.LittleEndian.PutUint32(field[chunkAllocatedField:], allocated)
}

// span returns the usable bytes between this chunk's payload start and the next
// chunk's header. It is only meaningful for chunks with a next link.
func (c chunk) span(offset uint32) uint32 {
	return c.next - offset - chunkHeaderSize
}

// terminal reports whether this is the sentinel chunk marking the heap's growth
// frontier. The sentinel always has zero length and no next link.
func (c chunk) terminal() bool {
	return c.length == 0 && c.next == 0
}

// roundUpAlloc rounds a requested payload size up to the internal alloc size, which
// keeps all chunk boundaries aligned on PayloadAlign.
func roundUpAlloc(size uint32) uint32 {
	return (size + PayloadAlign - 1) &^ (PayloadAlign - 1)
}
