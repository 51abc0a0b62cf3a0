package pool

import (
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/slotpool/memutils"
	"golang.org/x/exp/slices"
)

func hexAddress(ptr unsafe.Pointer) string {
	return "0x" + strconv.FormatUint(uint64(uintptr(ptr)), 16)
}

// CalculateStatistics summarizes the pool's memory. AllocationBytes counts the slots each live
// allocation occupies, including the header room reserved for it when it is freed. Oversized
// allocations are reported separately and are not part of the block totals.
func (p *Pool[T]) CalculateStatistics() memutils.DetailedStatistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.calculateStatistics()
}

func (p *Pool[T]) calculateStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()

	stats.BlockCount = p.blocks.Count()
	stats.BlockBytes = p.blocks.TotalBytes()
	stats.AllocationCount = p.allocationCount
	stats.AllocationBytes = p.liveSlots * p.SlotSize()
	stats.StrandedBytes = p.strandedBytes

	for c := p.freeList.Front(); c != nil; c = p.layout.Next(c) {
		stats.AddUnusedRange(int(p.layout.SpanBytes(c)))
	}

	p.oversized.AddDetailedStatistics(&stats)

	return stats
}

// BuildStatsString returns a JSON document describing the pool. With detailed set, every block,
// free chunk and oversized allocation is listed as well.
func (p *Pool[T]) BuildStatsString(detailed bool) string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := p.calculateStatistics()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(p.flags.String())
	obj.Name("SlotSize").Int(p.SlotSize())
	obj.Name("BlockSize").Int(p.blockSize)
	obj.Name("SlotsPerBlock").Int(p.slotsPerBlock)
	obj.Name("Destroyed").Bool(p.destroyed)

	total := obj.Name("Total").Object()
	total.Name("BlockCount").Int(stats.BlockCount)
	total.Name("BlockBytes").Int(stats.BlockBytes)
	total.Name("AllocationCount").Int(stats.AllocationCount)
	total.Name("AllocationBytes").Int(stats.AllocationBytes)
	total.Name("StrandedBytes").Int(stats.StrandedBytes)
	total.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	total.Name("UnusedBytes").Int(stats.UnusedBytes)
	if stats.UnusedRangeCount > 0 {
		total.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		total.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	total.Name("OversizedCount").Int(stats.OversizedCount)
	total.Name("OversizedBytes").Int(stats.OversizedBytes)
	total.End()

	if detailed {
		p.blocks.PrintDetailedMap(&obj)
		p.printFreeChunks(&obj)
		p.oversized.PrintDetailedMap(&obj)
	}

	obj.End()

	return string(writer.Bytes())
}

func (p *Pool[T]) printFreeChunks(json *jwriter.ObjectState) {
	array := json.Name("FreeChunks").Array()
	defer array.End()

	for c := p.freeList.Front(); c != nil; c = p.layout.Next(c) {
		obj := array.Object()
		obj.Name("Address").String(hexAddress(unsafe.Pointer(c)))
		obj.Name("Slots").Int(p.layout.Size(c))
		obj.Name("Bytes").Int(int(p.layout.SpanBytes(c)))
		obj.End()
	}
}

// Validate checks the pool's internal bookkeeping: free list links, block ordering, containment and
// non-overlap of free chunks, and that free, live and stranded bytes add up to the reserved blocks.
func (p *Pool[T]) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.bootstrap.Pending() {
		return errors.New("bootstrap holds an address between operations")
	}

	err := p.freeList.Validate()
	if err != nil {
		return err
	}

	err = p.blocks.Validate()
	if err != nil {
		return err
	}

	err = p.oversized.Validate()
	if err != nil {
		return err
	}

	type span struct {
		start, end uintptr
	}
	spans := make([]span, 0, p.freeList.Len())
	freeBytes := 0

	for c := p.freeList.Front(); c != nil; c = p.layout.Next(c) {
		start := uintptr(unsafe.Pointer(c))
		end := uintptr(p.layout.AddressAfter(c))

		if !p.blocks.Contains(unsafe.Pointer(c)) || !p.blocks.Contains(unsafe.Add(p.layout.AddressAfter(c), -1)) {
			return errors.Newf("free chunk %p of %d slots does not lie within the pool's blocks", c, p.layout.Size(c))
		}

		spans = append(spans, span{start: start, end: end})
		freeBytes += int(p.layout.SpanBytes(c))
	}

	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		default:
			return 0
		}
	})
	for i := 1; i < len(spans); i++ {
		if spans[i-1].end > spans[i].start {
			return errors.Newf("free chunks at 0x%x and 0x%x overlap", spans[i-1].start, spans[i].start)
		}
	}

	accounted := freeBytes + p.liveSlots*p.SlotSize() + p.strandedBytes
	if accounted != p.blocks.TotalBytes() {
		return errors.Newf("free (%d), live (%d) and stranded (%d) bytes do not add up to the %d bytes held in blocks",
			freeBytes, p.liveSlots*p.SlotSize(), p.strandedBytes, p.blocks.TotalBytes())
	}

	return nil
}

// CheckCorruption verifies the magic values written over the data area of every free chunk. It
// returns CorruptionDetectionDisabledError unless the debug_mem_utils build tag is present.
func (p *Pool[T]) CheckCorruption() error {
	p.logger.Debug("Pool::CheckCorruption")

	if !memutils.CorruptionDetection {
		return errors.WithStack(memutils.CorruptionDetectionDisabledError)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for c := p.freeList.Front(); c != nil; c = p.layout.Next(c) {
		if !memutils.ValidateMagicValue(p.layout.DataAddress(c), p.layout.DataBytes(c)) {
			return errors.Newf("free chunk %p of %d slots was written after it was freed", c, p.layout.Size(c))
		}
	}

	return nil
}
