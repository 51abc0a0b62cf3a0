package pool_test

import (
	"bytes"
	stderrors "errors"
	"io"
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/slotpool/memutils"
	"github.com/vkngwrapper/slotpool/memutils/chunk"
	"github.com/vkngwrapper/slotpool/pool"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPool[T any](t testing.TB, options pool.CreateOptions) *pool.Pool[T] {
	p, err := pool.New[T](testLogger(), options)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Destroy()
	})
	return p
}

func TestSlotSize(t *testing.T) {
	type threeBytes [3]byte
	type twelveBytes struct {
		A, B, C uint32
	}
	type sixteenBytes struct {
		A uint64
		B uint32
	}

	require.Equal(t, 8, pool.SlotSizeOf[threeBytes]())
	require.Equal(t, 8, pool.SlotSizeOf[uint64]())
	require.Equal(t, 16, pool.SlotSizeOf[twelveBytes]())
	require.Equal(t, 16, pool.SlotSizeOf[sixteenBytes]())
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := pool.New[uint64](testLogger(), pool.CreateOptions{BlockSize: 1000})
	require.ErrorIs(t, err, memutils.ConfigurationError)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	_, err = pool.New[uint64](testLogger(), pool.CreateOptions{BlockSize: -4096})
	require.ErrorIs(t, err, memutils.ConfigurationError)

	_, err = pool.New[uint64](testLogger(), pool.CreateOptions{BlockSize: 32})
	require.ErrorIs(t, err, memutils.ConfigurationError)
	require.ErrorIs(t, err, memutils.BlockTooSmallError)

	type withString struct {
		ID   int
		Name string
	}
	_, err = pool.New[withString](testLogger(), pool.CreateOptions{})
	require.ErrorIs(t, err, memutils.ConfigurationError)
	require.ErrorIs(t, err, memutils.PointerElementError)

	_, err = pool.New[*int](testLogger(), pool.CreateOptions{})
	require.ErrorIs(t, err, memutils.PointerElementError)
}

func TestConfigurationKindVisibleToStdlib(t *testing.T) {
	_, err := pool.New[uint64](testLogger(), pool.CreateOptions{BlockSize: 1000})
	require.True(t, stderrors.Is(err, memutils.ConfigurationError))
	require.True(t, stderrors.Is(err, memutils.PowerOfTwoError))
	require.True(t, errors.Is(err, memutils.ConfigurationError))
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.False(t, stderrors.Is(err, memutils.SystemAllocationError))
}

func TestWideSlotsFromDefaultAllocator(t *testing.T) {
	type wide struct {
		A, B, C uint64
	}

	p := newPool[wide](t, pool.CreateOptions{BlockSize: 4096})
	require.Equal(t, 24, p.SlotSize())
	require.Equal(t, 8, p.SlotAlignment())

	var ptrs []unsafe.Pointer
	for i := 0; i < 40; i++ {
		ptr, err := p.Allocate(i%4 + 1)
		require.NoError(t, err)
		require.Zero(t, uintptr(ptr)%unsafe.Alignof(wide{}))

		unsafe.Slice((*wide)(ptr), i%4+1)[i%4] = wide{A: uint64(i)}
		ptrs = append(ptrs, ptr)
	}
	require.NoError(t, p.Validate())

	for i, ptr := range ptrs {
		require.NoError(t, p.Deallocate(ptr, i%4+1))
	}
	require.NoError(t, p.Validate())
}

func TestNewDefaults(t *testing.T) {
	p, err := pool.New[uint64](nil, pool.CreateOptions{})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Destroy())
	}()

	require.Equal(t, pool.DefaultBlockSize, p.BlockSize())
	require.Equal(t, 8, p.SlotSize())
	require.Equal(t, pool.DefaultBlockSize/8-chunk.Padding, p.SlotsPerBlock())
	require.Equal(t, math.MaxInt/8, p.MaxSize())
	require.Equal(t, 0, p.BlockCount())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", pool.CreateFlags(0).String())
	require.Equal(t, "PoolCreateNoRecycle", pool.PoolCreateNoRecycle.String())
	require.Equal(t, "PoolCreateExternallySynchronized|PoolCreateNoRecycle",
		(pool.PoolCreateExternallySynchronized | pool.PoolCreateNoRecycle).String())
}

func TestAllocateRejectsInvalidCounts(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	_, err := p.Allocate(0)
	require.Error(t, err)

	_, err = p.Allocate(-3)
	require.Error(t, err)

	_, err = p.Allocate(math.MaxInt)
	require.ErrorIs(t, err, memutils.CapacityExceededError)

	require.Error(t, p.Deallocate(nil, 1))
	require.Equal(t, 0, p.BlockCount())
}

func TestFirstAllocationCarvesFromBlockTail(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	first, err := p.Allocate(2)
	require.NoError(t, err)
	second, err := p.Allocate(3)
	require.NoError(t, err)

	require.Equal(t, 1, p.BlockCount())
	require.Equal(t, 1, p.FreeChunkCount())

	// Each run is followed by room for the header it gets when freed
	require.Equal(t, first, unsafe.Add(second, (3+chunk.Padding)*8))

	stats := p.CalculateStatistics()
	require.Equal(t, 4096, stats.BlockBytes)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, (2+3+2*chunk.Padding)*8, stats.AllocationBytes)
	require.Equal(t, 4096-(2+3+2*chunk.Padding)*8, stats.UnusedBytes)
	require.NoError(t, p.Validate())
}

func TestFirstFitSkipsSmallerChunk(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	b, err := p.Allocate(10)
	require.NoError(t, err)
	a, err := p.Allocate(4)
	require.NoError(t, err)

	// Free list front to back: A(4), B(10), remainder of the block
	require.NoError(t, p.Deallocate(b, 10))
	require.NoError(t, p.Deallocate(a, 4))
	require.Equal(t, 3, p.FreeChunkCount())

	ptr, err := p.Allocate(5)
	require.NoError(t, err)

	// Carved from B's tail: B keeps 10-5-Padding slots
	require.Equal(t, unsafe.Add(b, (10-5-chunk.Padding+chunk.Padding)*8), ptr)
	require.Equal(t, 3, p.FreeChunkCount())
	require.Equal(t, 1, p.BlockCount())
	require.NoError(t, p.Validate())

	require.NoError(t, p.Deallocate(ptr, 5))
	require.NoError(t, p.Validate())
}

func TestRecycleMergesAdjacentChunks(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	first, err := p.Allocate(2)
	require.NoError(t, err)
	second, err := p.Allocate(3)
	require.NoError(t, err)
	separator, err := p.Allocate(1)
	require.NoError(t, err)

	require.NoError(t, p.Deallocate(first, 2))
	require.NoError(t, p.Deallocate(second, 3))
	require.Equal(t, 3, p.FreeChunkCount())

	requests, releases := p.BootstrapCounters()

	require.NoError(t, p.Recycle())
	require.Equal(t, 2, p.FreeChunkCount())
	require.NoError(t, p.Validate())

	// second absorbed first: 3 + 2 + Padding slots of data, plus its own header
	stats := p.CalculateStatistics()
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, (3+2+chunk.Padding+chunk.Padding)*8, stats.UnusedRangeSizeMin)

	newRequests, newReleases := p.BootstrapCounters()
	require.Equal(t, requests, newRequests)
	require.Equal(t, releases+1, newReleases)

	require.NoError(t, p.Deallocate(separator, 1))
	require.NoError(t, p.Recycle())
	require.Equal(t, 1, p.FreeChunkCount())

	stats = p.CalculateStatistics()
	require.Equal(t, 4096, stats.UnusedRangeSizeMax)
	require.Equal(t, 0, stats.AllocationCount)
	require.NoError(t, p.Validate())
}

func TestMissTriggersRecycleBeforeGrowing(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	var ptrs []unsafe.Pointer
	for i := 0; i < 128; i++ {
		ptr, err := p.Allocate(1)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	require.Equal(t, 1, p.BlockCount())
	require.Equal(t, 0, p.FreeChunkCount())

	for _, ptr := range ptrs {
		require.NoError(t, p.Deallocate(ptr, 1))
	}
	require.Equal(t, 128, p.FreeChunkCount())

	// No single-slot chunk can hold 200 slots, but the whole block can once coalesced
	ptr, err := p.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, 1, p.BlockCount())
	require.NoError(t, p.Validate())
	require.NoError(t, p.Deallocate(ptr, 200))
}

func TestNoRecycleGrowsInstead(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096, Flags: pool.PoolCreateNoRecycle})

	var ptrs []unsafe.Pointer
	for i := 0; i < 128; i++ {
		ptr, err := p.Allocate(1)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		require.NoError(t, p.Deallocate(ptr, 1))
	}

	ptr, err := p.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, 2, p.BlockCount())
	require.Equal(t, 129, p.FreeChunkCount())
	require.NoError(t, p.Deallocate(ptr, 200))

	// Blocks that happen to be neighbours in memory may coalesce as well
	require.NoError(t, p.Recycle())
	require.LessOrEqual(t, p.FreeChunkCount(), 2)
	require.Equal(t, 2*4096, p.CalculateStatistics().UnusedBytes)
	require.NoError(t, p.Validate())
}

func TestOversizedFallback(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	small, err := p.Allocate(1)
	require.NoError(t, err)
	requests, releases := p.BootstrapCounters()

	// Larger than a block, and larger than the chunk a block can hold
	for _, count := range []int{600, p.SlotsPerBlock() + 1} {
		ptr, err := p.Allocate(count)
		require.NoError(t, err)

		elements := unsafe.Slice((*uint64)(ptr), count)
		elements[0] = 1
		elements[count-1] = 2

		require.Equal(t, 1, p.BlockCount())
		require.Equal(t, 1, p.FreeChunkCount())

		stats := p.CalculateStatistics()
		require.Equal(t, 1, stats.OversizedCount)
		require.Equal(t, count*8, stats.OversizedBytes)
		require.Equal(t, 1, stats.AllocationCount)

		require.NoError(t, p.Deallocate(ptr, count))
		require.Equal(t, 0, p.CalculateStatistics().OversizedCount)
	}

	newRequests, newReleases := p.BootstrapCounters()
	require.Equal(t, requests, newRequests)
	require.Equal(t, releases, newReleases)

	require.ErrorIs(t, p.Deallocate(small, 600), memutils.UnknownAllocationError)
	require.NoError(t, p.Deallocate(small, 1))
	require.NoError(t, p.Validate())
}

func TestSixHundredSingleAllocations(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	const count = 600
	ptrs := make([]unsafe.Pointer, 0, count)
	for i := 0; i < count; i++ {
		ptr, err := p.Allocate(1)
		require.NoError(t, err)
		*(*uint64)(ptr) = uint64(i)
		ptrs = append(ptrs, ptr)
	}

	// Every single-slot allocation occupies its slot plus header room
	perAllocation := (1 + chunk.Padding) * p.SlotSize()
	expectedBlocks := (count*perAllocation + p.BlockSize() - 1) / p.BlockSize()
	require.Equal(t, 5, expectedBlocks)
	require.Equal(t, expectedBlocks, p.BlockCount())
	require.NoError(t, p.Validate())

	for i := count - 1; i >= 0; i-- {
		require.Equal(t, uint64(i), *(*uint64)(ptrs[i]))
		require.NoError(t, p.Deallocate(ptrs[i], 1))
	}
	require.NoError(t, p.Validate())

	for i := 0; i < count; i++ {
		_, err := p.Allocate(1)
		require.NoError(t, err)
	}
	require.Equal(t, expectedBlocks, p.BlockCount())
	require.NoError(t, p.Validate())
}

func TestWholeChunkHandoutStrandsSlots(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	big, err := p.Allocate(5)
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(big, 5))

	before := p.CalculateStatistics()

	// A 5-slot chunk cannot keep a header after giving up 3 slots, so it is handed out whole
	ptr, err := p.Allocate(3)
	require.NoError(t, err)
	require.Equal(t, big, ptr)

	stats := p.CalculateStatistics()
	require.Equal(t, before.UnusedRangeCount-1, stats.UnusedRangeCount)
	require.Equal(t, 2*8, stats.StrandedBytes)
	require.NoError(t, p.Validate())

	require.NoError(t, p.Deallocate(ptr, 3))
	stats = p.CalculateStatistics()
	require.Equal(t, 2*8, stats.StrandedBytes)
	require.Equal(t, stats.BlockBytes, stats.UnusedBytes+stats.AllocationBytes+stats.StrandedBytes)
	require.NoError(t, p.Validate())
}

func TestBootstrapCountsInsertionsAndRemovals(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	// Block seed
	a, err := p.Allocate(2)
	require.NoError(t, err)
	requests, releases := p.BootstrapCounters()
	require.Equal(t, 1, requests)
	require.Equal(t, 0, releases)

	require.NoError(t, p.Deallocate(a, 2))
	requests, releases = p.BootstrapCounters()
	require.Equal(t, 2, requests)
	require.Equal(t, 0, releases)

	// Whole handout removes a chunk
	a, err = p.Allocate(1)
	require.NoError(t, err)
	requests, releases = p.BootstrapCounters()
	require.Equal(t, 2, requests)
	require.Equal(t, 1, releases)

	require.NoError(t, p.Deallocate(a, 1))
	require.NoError(t, p.Validate())
}

func TestNoOverlapBetweenLiveAllocations(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	type span struct {
		ptr   unsafe.Pointer
		count int
	}
	var spans []span
	for i := 1; i <= 40; i++ {
		count := i%7 + 1
		ptr, err := p.Allocate(count)
		require.NoError(t, err)

		elements := unsafe.Slice((*uint64)(ptr), count)
		for j := range elements {
			elements[j] = uint64(i)
		}
		spans = append(spans, span{ptr: ptr, count: count})
	}

	for i, s := range spans {
		for _, value := range unsafe.Slice((*uint64)(s.ptr), s.count) {
			require.Equal(t, uint64(i+1), value)
		}
	}

	for _, s := range spans {
		require.NoError(t, p.Deallocate(s.ptr, s.count))
	}
	require.NoError(t, p.Validate())
	require.Equal(t, 0, p.CalculateStatistics().AllocationCount)
}

func TestTypedHelpers(t *testing.T) {
	type vertex struct {
		X, Y, Z float32
		Color   uint32
	}

	p := newPool[vertex](t, pool.CreateOptions{BlockSize: 4096})

	v, err := p.New()
	require.NoError(t, err)
	require.Equal(t, vertex{}, *v)

	v.X = 1
	v.Color = 0xffffffff
	require.NoError(t, p.Delete(v))
	require.Error(t, p.Delete(nil))

	vertices, err := p.AllocateSlice(16)
	require.NoError(t, err)
	require.Len(t, vertices, 16)
	for i := range vertices {
		vertices[i] = vertex{X: float32(i)}
	}
	require.NoError(t, p.DeallocateSlice(vertices))
	require.Error(t, p.DeallocateSlice(nil))

	require.NoError(t, p.Validate())
}

func TestDestroy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p, err := pool.New[uint64](logger, pool.CreateOptions{BlockSize: 4096})
	require.NoError(t, err)

	_, err = p.Allocate(3)
	require.NoError(t, err)
	_, err = p.Allocate(1000)
	require.NoError(t, err)

	require.NoError(t, p.Destroy())
	require.Contains(t, buf.String(), "[UNRELEASED MEMORY] unfreed pooled allocations")
	require.Contains(t, buf.String(), "[UNRELEASED MEMORY] unfreed oversized allocation")

	require.Equal(t, 0, p.BlockCount())
	require.Equal(t, 0, p.FreeChunkCount())

	_, err = p.Allocate(1)
	require.ErrorIs(t, err, memutils.PoolDestroyedError)
	require.ErrorIs(t, p.Deallocate(unsafe.Pointer(&buf), 1), memutils.PoolDestroyedError)
	require.ErrorIs(t, p.Recycle(), memutils.PoolDestroyedError)
	require.ErrorIs(t, p.Destroy(), memutils.PoolDestroyedError)
}

func TestBuildStatsString(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	a, err := p.Allocate(4)
	require.NoError(t, err)
	_, err = p.Allocate(700)
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(a, 4))

	summary := p.BuildStatsString(false)
	require.Contains(t, summary, `"BlockSize":4096`)
	require.Contains(t, summary, `"BlockCount":1`)
	require.Contains(t, summary, `"OversizedCount":1`)
	require.NotContains(t, summary, `"FreeChunks"`)

	detailed := p.BuildStatsString(true)
	require.Contains(t, detailed, `"Blocks":[`)
	require.Contains(t, detailed, `"FreeChunks":[`)
	require.Contains(t, detailed, `"Oversized":[`)
	require.Contains(t, detailed, `"Slots":4`)
}

func TestCheckCorruption(t *testing.T) {
	p := newPool[uint64](t, pool.CreateOptions{BlockSize: 4096})

	ptr, err := p.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, p.Deallocate(ptr, 8))

	err = p.CheckCorruption()
	if !memutils.CorruptionDetection {
		require.ErrorIs(t, err, memutils.CorruptionDetectionDisabledError)
		return
	}
	require.NoError(t, err)

	// Write into the freed run's data area
	*(*uint64)(unsafe.Add(ptr, (chunk.Padding+2)*8)) = 42
	require.Error(t, p.CheckCorruption())
}
