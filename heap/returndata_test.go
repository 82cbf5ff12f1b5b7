package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainmem/chainmem/heap"
)

func TestReturnDataRoundTrip(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	require.Nil(t, h.ReturnData(data))

	payload := []byte("instruction result")
	require.NoError(t, h.SetReturnData(data, payload))
	require.Equal(t, payload, h.ReturnData(data))

	require.NoError(t, h.Validate(data))
}

func TestReturnDataOverwrite(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	require.NoError(t, h.SetReturnData(data, []byte("first")))
	require.NoError(t, h.SetReturnData(data, []byte("a considerably longer second payload")))
	require.Equal(t, []byte("a considerably longer second payload"), h.ReturnData(data))

	require.NoError(t, h.Validate(data))
}

func TestReturnDataClear(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	require.NoError(t, h.SetReturnData(data, []byte("payload")))
	require.NoError(t, h.ClearReturnData(data))
	require.Nil(t, h.ReturnData(data))

	// The backing allocation is released along with the channel.
	require.True(t, h.IsEmpty(data))
	require.NoError(t, h.Validate(data))
}

func TestReturnDataSurvivesResumption(t *testing.T) {
	data := make([]byte, 0x1000)

	h1 := heap.NewHeap(heap.DefaultMagic, 0)
	require.NoError(t, h1.SetReturnData(data, []byte("carried over")))

	h2 := heap.NewHeap(heap.DefaultMagic, 0)
	require.Equal(t, []byte("carried over"), h2.ReturnData(data))
}

func TestReturnDataCoexistsWithAllocations(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 64)
	require.NoError(t, err)
	for i := uint32(0); i < 64; i++ {
		data[o1+i] = 0x11
	}

	require.NoError(t, h.SetReturnData(data, []byte("between allocations")))

	o2, err := h.Alloc(data, 64)
	require.NoError(t, err)

	require.Equal(t, []byte("between allocations"), h.ReturnData(data))
	require.Equal(t, byte(0x11), data[o1+63])
	require.NotEqual(t, uint32(0), o2)

	require.NoError(t, h.Validate(data))
}
