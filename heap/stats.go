package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/chainmem/chainmem"
)

// AddStatistics sums this buffer's allocation statistics into the statistics
// currently present in the provided chainmem.Statistics object.
func (h *Heap) AddStatistics(data []byte, stats *chainmem.Statistics) error {
	stats.BufferCount++
	stats.BufferBytes += len(data)

	return h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if !free {
			stats.AllocationCount++
			stats.AllocationBytes += int(size)
		}
		return nil
	})
}

// AddDetailedStatistics sums this buffer's allocation statistics into the
// statistics currently present in the provided chainmem.DetailedStatistics object.
func (h *Heap) AddDetailedStatistics(data []byte, stats *chainmem.DetailedStatistics) error {
	stats.BufferCount++
	stats.BufferBytes += len(data)

	return h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if free {
			stats.AddUnusedRange(int(size))
		} else {
			stats.AddAllocation(int(size))
		}
		return nil
	})
}

// HeapJsonData populates a json object with information about this buffer's heap,
// including a chunk-by-chunk map of allocated payloads and free regions.
func (h *Heap) HeapJsonData(json jwriter.ObjectState, data []byte) error {
	var stats chainmem.DetailedStatistics
	stats.Clear()

	err := h.AddDetailedStatistics(data, &stats)
	if err != nil {
		return err
	}

	json.Name("TotalBytes").Int(len(data))
	json.Name("UnusedBytes").Int(len(data) - stats.AllocationBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)

	chunksJson := json.Name("Chunks").Array()
	defer chunksJson.End()

	return h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		chunkJson := chunksJson.Object()
		defer chunkJson.End()

		chunkJson.Name("Offset").Int(int(offset))
		chunkJson.Name("Size").Int(int(size))
		chunkJson.Name("Free").Bool(free)

		return nil
	})
}

// DebugLogAllAllocations walks the heap and calls logFunc once for each live
// allocation. When logFunc is nil a default that logs the offset and size at debug
// level is used.
func (h *Heap) DebugLogAllAllocations(data []byte, logger *slog.Logger, logFunc func(log *slog.Logger, offset uint32, size uint32)) {
	if logFunc == nil {
		logFunc = func(log *slog.Logger, offset uint32, size uint32) {
			log.Debug("live allocation", "offset", offset, "size", size)
		}
	}

	_ = h.VisitAllRegions(data, func(offset uint32, size uint32, free bool) error {
		if !free {
			logFunc(logger, offset, size)
		}
		return nil
	})
}
