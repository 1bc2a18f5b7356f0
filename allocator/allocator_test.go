package allocator

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAllocator() (*Allocator, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic))
	return New(Config{Logger: logger}), logs
}

func addressOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestStrategy_String_Parse(t *testing.T) {
	table := []struct {
		name     string
		strategy Strategy
		family   Family
	}{
		{name: "first", strategy: StrategyFirstFit, family: FamilySegregated},
		{name: "next", strategy: StrategyNextFit, family: FamilySegregated},
		{name: "best", strategy: StrategyBestFit, family: FamilySegregated},
		{name: "worst", strategy: StrategyWorstFit, family: FamilySegregated},
		{name: "buddy", strategy: StrategyBuddy, family: FamilyBuddy},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			assert.Equal(t, e.name, e.strategy.String())
			assert.Equal(t, e.family, e.strategy.Family())

			s, err := ParseStrategy(e.name)
			assert.NoError(t, err)
			assert.Equal(t, e.strategy, s)
		})
	}

	_, err := ParseStrategy("tlsf")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Strategy(9).String())
}

func TestAllocator_LazyRegions(t *testing.T) {
	a := New(Config{})

	assert.Nil(t, a.SegregatedBlocks())
	assert.Nil(t, a.BuddyBlocks())
	assert.Equal(t, Stats{Mode: StrategyFirstFit}, a.Stats())

	a.Buddy(10)
	assert.Nil(t, a.SegregatedBlocks())
	assert.NotNil(t, a.BuddyBlocks())
	assert.NoError(t, a.Validate())
}

func TestAllocator_Capacity(t *testing.T) {
	table := []struct {
		name        string
		strategy    Strategy
		size        int
		expectedCap int
	}{
		{name: "first-small", strategy: StrategyFirstFit, size: 100, expectedCap: 104},
		{name: "first-zero", strategy: StrategyFirstFit, size: 0, expectedCap: 8},
		{name: "first-unsplit-tail", strategy: StrategyFirstFit, size: 4030, expectedCap: 4064},
		{name: "next-small", strategy: StrategyNextFit, size: 1, expectedCap: 8},
		{name: "best-small", strategy: StrategyBestFit, size: 64, expectedCap: 64},
		{name: "worst-small", strategy: StrategyWorstFit, size: 65, expectedCap: 72},
		{name: "buddy-min", strategy: StrategyBuddy, size: 10, expectedCap: 16},
		{name: "buddy-order-2", strategy: StrategyBuddy, size: 100, expectedCap: 112},
		{name: "buddy-whole", strategy: StrategyBuddy, size: 4080, expectedCap: 4080},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			a := New(Config{})

			b, err := a.Allocate(e.strategy, e.size)
			assert.NoError(t, err)
			assert.Equal(t, e.size, len(b))
			assert.Equal(t, e.expectedCap, cap(b))
			assert.Equal(t, uintptr(0), addressOf(b)%Alignment)
			assert.Equal(t, e.strategy, a.Mode())

			fill(b)
			assert.NoError(t, a.Validate())
			assert.NoError(t, a.Release(b))
			assert.NoError(t, a.Validate())
		})
	}
}

func TestAllocator_Allocate_Errors(t *testing.T) {
	a := New(Config{})

	_, err := a.Allocate(StrategyBestFit, -1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.Equal(t, StrategyBestFit, a.Mode())

	_, err = a.Allocate(StrategyFirstFit, ArenaSize+1)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = a.Allocate(StrategyFirstFit, 4065)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = a.Allocate(StrategyBuddy, 4081)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, StrategyBuddy, a.Mode())

	_, err = a.Allocate(Strategy(7), 10)
	assert.Error(t, err)
	assert.Equal(t, StrategyBuddy, a.Mode())

	assert.Nil(t, a.WorstFit(5000))
	assert.Nil(t, a.NextFit(-3))
	assert.Equal(t, StrategyNextFit, a.Mode())
}

func TestAllocator_Mode_FollowsLastCall(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, StrategyFirstFit, a.Mode())

	a.BestFit(10)
	assert.Equal(t, StrategyBestFit, a.Mode())
	a.Buddy(10)
	assert.Equal(t, StrategyBuddy, a.Mode())
	a.WorstFit(10)
	assert.Equal(t, StrategyWorstFit, a.Mode())
	a.NextFit(10)
	assert.Equal(t, StrategyNextFit, a.Mode())
	a.FirstFit(10)
	assert.Equal(t, StrategyFirstFit, a.Mode())
}

func TestAllocator_FreeRoutesByRegion(t *testing.T) {
	a := New(Config{})

	x := a.FirstFit(100)
	y := a.Buddy(100)
	z := a.BestFit(200)
	assert.NotNil(t, x)
	assert.NotNil(t, y)
	assert.NotNil(t, z)

	// mode is best fit, the buddy block still goes back to its own region
	a.Free(y)
	assert.Equal(t, []BlockInfo{{Offset: 0, Size: 4096, Order: 7, Free: true}}, a.BuddyBlocks())

	a.Free(x)
	a.Free(z)
	assert.Equal(t, []BlockInfo{{Offset: 0, Size: 4064, Free: true}}, a.SegregatedBlocks())
	assert.NoError(t, a.Validate())
}

func TestAllocator_FirstFitAfterFreeReturnsSameAddress(t *testing.T) {
	a := New(Config{})

	x := a.FirstFit(100)
	addr := addressOf(x)
	a.Free(x)

	y := a.FirstFit(100)
	assert.Equal(t, addr, addressOf(y))
}

func TestAllocator_Release_Errors(t *testing.T) {
	a := New(Config{})

	assert.NoError(t, a.Release(nil))
	assert.ErrorIs(t, a.Release(make([]byte, 10)), ErrInvalidPointer)

	x := a.FirstFit(100)
	y := a.Buddy(100)

	assert.ErrorIs(t, a.Release(make([]byte, 10)), ErrInvalidPointer)
	assert.ErrorIs(t, a.Release([]byte{}), ErrInvalidPointer)
	assert.ErrorIs(t, a.Release(x[4:]), ErrInvalidPointer)
	assert.ErrorIs(t, a.Release(y[16:]), ErrInvalidPointer)

	assert.NoError(t, a.Release(x))
	assert.ErrorIs(t, a.Release(x), ErrDoubleFree)
	assert.NoError(t, a.Release(y))
	assert.ErrorIs(t, a.Release(y), ErrDoubleFree)
	assert.NoError(t, a.Validate())
}

func TestAllocator_Free_Logs(t *testing.T) {
	a, logs := newObservedAllocator()

	x := a.WorstFit(100)
	a.Free(x)
	assert.Equal(t, 0, logs.Len())

	a.Free(x)
	assert.Equal(t, 1, logs.FilterMessage("double free detected").Len())
	entry := logs.FilterMessage("double free detected").All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, addressOf(x), entry.ContextMap()["ptr"])

	a.Free(make([]byte, 3))
	assert.Equal(t, 1, logs.FilterMessage("free ignored").Len())
	assert.Equal(t, zapcore.DebugLevel, logs.FilterMessage("free ignored").All()[0].Level)

	a.Free(nil)
	assert.Equal(t, 2, logs.Len())
}

func TestAllocator_Stats(t *testing.T) {
	a := New(Config{})

	a.FirstFit(100)
	a.Buddy(10)

	assert.Equal(t, Stats{
		Mode: StrategyBuddy,

		SegregatedReserved:   true,
		SegregatedFreeBlocks: 1,
		SegregatedUsedBlocks: 1,
		SegregatedFreeBytes:  3928,

		BuddyReserved:   true,
		BuddyFreeBlocks: [buddyNumOrders]int{1, 1, 1, 1, 1, 1, 1, 0},
		BuddyFreeBytes:  4096 - 32,
	}, a.Stats())

	a.BestFit(8)
	assert.Equal(t, 1, a.Stats().IndexNodes)
}

func TestAllocator_RegionUnavailable(t *testing.T) {
	original := reserveRegion
	defer func() { reserveRegion = original }()

	reserveRegion = func(size int) (*Region, error) {
		return nil, errors.New("mmap refused")
	}

	a, logs := newObservedAllocator()

	_, err := a.Allocate(StrategyBuddy, 10)
	assert.True(t, errors.Is(err, ErrRegionUnavailable))
	assert.Contains(t, err.Error(), "reserve buddy region")

	assert.Panics(t, func() {
		a.FirstFit(10)
	})
	assert.Equal(t, 1, logs.FilterMessage("allocator unusable").Len())
	assert.Equal(t, zapcore.FatalLevel, logs.All()[0].Level)

	assert.Nil(t, a.SegregatedBlocks())
	assert.ErrorIs(t, a.Release(make([]byte, 1)), ErrInvalidPointer)
}

func TestAllocator_Validate_ReportsBothRegions(t *testing.T) {
	a := New(Config{})

	a.FirstFit(10)
	a.Buddy(10)
	assert.NoError(t, a.Validate())

	a.buddy.header(0).magic = 0
	err := a.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "buddy: buddy block at offset 0 has magic 0")

	a.segregated.header(0).magic = 0
	err = a.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "segregated")
	assert.Contains(t, fmt.Sprintf("%+v", err), "buddy block at offset 0")
}
