package heap_test

import (
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/chainmem/chainmem"
	"github.com/chainmem/chainmem/heap"
)

func TestTrackedHeapRejectsDoubleFree(t *testing.T) {
	h := heap.NewTrackedHeap(heap.NewHeap(heap.DefaultMagic, 0))
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)
	require.Equal(t, 1, h.LiveCount())

	require.NoError(t, h.Free(data, o1))
	require.Equal(t, 0, h.LiveCount())

	err = h.Free(data, o1)
	require.True(t, cerrors.Is(err, chainmem.ErrInvalidOffset))
}

func TestTrackedHeapRejectsForeignOffset(t *testing.T) {
	h := heap.NewTrackedHeap(heap.NewHeap(heap.DefaultMagic, 0))
	data := make([]byte, 0x1000)

	_, err := h.Alloc(data, 100)
	require.NoError(t, err)

	err = h.Free(data, 48)
	require.True(t, cerrors.Is(err, chainmem.ErrInvalidOffset))

	_, err = h.Realloc(data, 48, 200)
	require.True(t, cerrors.Is(err, chainmem.ErrInvalidOffset))
}

func TestTrackedHeapFollowsRealloc(t *testing.T) {
	h := heap.NewTrackedHeap(heap.NewHeap(heap.DefaultMagic, 0))
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)

	// Another allocation forces the grow to move.
	_, err = h.Alloc(data, 100)
	require.NoError(t, err)

	o2, err := h.Realloc(data, o1, 500)
	require.NoError(t, err)
	require.NotEqual(t, o1, o2)

	require.Equal(t, uint32(0), h.Len(data, o1))
	require.Equal(t, uint32(500), h.Len(data, o2))
	require.Equal(t, 2, h.LiveCount())

	require.NoError(t, h.Validate(data))
}

func TestTrackedHeapLenOfFreedOffsetIsZero(t *testing.T) {
	h := heap.NewTrackedHeap(heap.NewHeap(heap.DefaultMagic, 0))
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)
	require.Equal(t, uint32(100), h.Len(data, o1))

	require.NoError(t, h.Free(data, o1))
	require.Equal(t, uint32(0), h.Len(data, o1))
}

func TestTrackedHeapOverBump(t *testing.T) {
	h := heap.NewTrackedHeap(heap.NewBumpHeap(heap.DefaultMagic, 0))
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)

	// The bump heap's Free is a no-op in the buffer, but the tracker still
	// retires the offset.
	require.NoError(t, h.Free(data, o1))
	err = h.Free(data, o1)
	require.True(t, cerrors.Is(err, chainmem.ErrInvalidOffset))
}
