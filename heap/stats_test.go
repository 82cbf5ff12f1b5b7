package heap_test

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/chainmem/chainmem"
	"github.com/chainmem/chainmem/heap"
)

func TestAddDetailedStatistics(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)
	_, err = h.Alloc(data, 300)
	require.NoError(t, err)
	o3, err := h.Alloc(data, 50)
	require.NoError(t, err)

	require.NoError(t, h.Free(data, o1))

	var stats chainmem.DetailedStatistics
	stats.Clear()
	require.NoError(t, h.AddDetailedStatistics(data, &stats))

	require.Equal(t, 1, stats.BufferCount)
	require.Equal(t, len(data), stats.BufferBytes)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 350, stats.AllocationBytes)
	require.Equal(t, 50, stats.AllocationSizeMin)
	require.Equal(t, 300, stats.AllocationSizeMax)

	// o1's freed chunk plus the tail past the terminal chunk.
	require.Equal(t, 2, stats.UnusedRangeCount)

	_ = o3
}

func TestFreeRegionsStayMerged(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	var offsets []uint32
	for i := 0; i < 4; i++ {
		offset, err := h.Alloc(data, 64)
		require.NoError(t, err)
		offsets = append(offsets, offset)
	}

	require.NoError(t, h.Free(data, offsets[1]))
	require.NoError(t, h.Free(data, offsets[2]))

	// Adjacent frees merged into one region, plus the tail.
	require.Equal(t, 2, h.FreeRegionsCount(data))
	require.Equal(t, 2, h.AllocationCount(data))
}

func TestHeapJsonData(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	o1, err := h.Alloc(data, 100)
	require.NoError(t, err)
	_, err = h.Alloc(data, 200)
	require.NoError(t, err)
	require.NoError(t, h.Free(data, o1))

	writer := jwriter.NewWriter()
	obj := writer.Object()
	require.NoError(t, h.HeapJsonData(obj, data))
	obj.End()
	require.NoError(t, writer.Error())

	var out struct {
		TotalBytes   int
		UnusedBytes  int
		Allocations  int
		UnusedRanges int
		Chunks       []struct {
			Offset int
			Size   int
			Free   bool
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &out))

	require.Equal(t, len(data), out.TotalBytes)
	require.Equal(t, len(data)-200, out.UnusedBytes)
	require.Equal(t, 1, out.Allocations)
	require.Equal(t, 2, out.UnusedRanges)
	require.Len(t, out.Chunks, 3)

	require.True(t, out.Chunks[0].Free)
	require.False(t, out.Chunks[1].Free)
	require.Equal(t, 200, out.Chunks[1].Size)
	require.True(t, out.Chunks[2].Free)
}

func TestDebugLogAllAllocations(t *testing.T) {
	h := heap.NewHeap(heap.DefaultMagic, 0)
	data := make([]byte, 0x1000)

	_, err := h.Alloc(data, 100)
	require.NoError(t, err)
	_, err = h.Alloc(data, 200)
	require.NoError(t, err)

	var logged []uint32
	h.DebugLogAllAllocations(data, slog.Default(), func(log *slog.Logger, offset uint32, size uint32) {
		logged = append(logged, size)
	})

	require.Equal(t, []uint32{100, 200}, logged)
}
