package allocator

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Strategy selects how a block is chosen for an allocation.
type Strategy int

const (
	// StrategyFirstFit ...
	StrategyFirstFit Strategy = iota
	// StrategyNextFit ...
	StrategyNextFit
	// StrategyBestFit ...
	StrategyBestFit
	// StrategyWorstFit ...
	StrategyWorstFit
	// StrategyBuddy ...
	StrategyBuddy
)

var strategyNames = [...]string{
	StrategyFirstFit: "first",
	StrategyNextFit:  "next",
	StrategyBestFit:  "best",
	StrategyWorstFit: "worst",
	StrategyBuddy:    "buddy",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "unknown"
	}
	return strategyNames[s]
}

// ParseStrategy ...
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return 0, errors.Newf("allocator: unknown strategy %q", name)
}

// Family groups strategies sharing one region.
type Family int

const (
	// FamilySegregated is the region shared by first, next, best and worst fit.
	FamilySegregated Family = iota
	// FamilyBuddy is the power of two region.
	FamilyBuddy
)

// Family ...
func (s Strategy) Family() Family {
	if s == StrategyBuddy {
		return FamilyBuddy
	}
	return FamilySegregated
}

// ErrRegionUnavailable marks errors from reserving a backing region.
var ErrRegionUnavailable = errors.New("allocator: backing region unavailable")

// Config ...
type Config struct {
	Logger *zap.Logger
}

// BlockInfo describes one block of a region.
type BlockInfo struct {
	Offset uint32
	Size   uint32 // payload bytes for segregated blocks, whole block for buddy blocks
	Order  uint32 // buddy blocks only
	Free   bool
}

// Stats ...
type Stats struct {
	Mode Strategy

	SegregatedReserved   bool
	SegregatedFreeBlocks int
	SegregatedUsedBlocks int
	SegregatedFreeBytes  uint32
	IndexNodes           int

	BuddyReserved   bool
	BuddyFreeBlocks [buddyNumOrders]int
	BuddyFreeBytes  uint32
}

// Allocator owns one region per strategy family, each reserved on first use.
// Frees are routed by which region holds the pointer. Not safe for concurrent use.
type Allocator struct {
	logger *zap.Logger

	segregated *Segregated
	buddy      *Buddy

	mode Strategy
}

// New ...
func New(conf Config) *Allocator {
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		logger: logger,
		mode:   StrategyFirstFit,
	}
}

func reserve(family string) (*Region, error) {
	region, err := reserveRegion(ArenaSize)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "reserve %s region", family), ErrRegionUnavailable)
	}
	return region, nil
}

func (a *Allocator) segregatedFamily() (*Segregated, error) {
	if a.segregated == nil {
		region, err := reserve("segregated")
		if err != nil {
			return nil, err
		}
		a.segregated = NewSegregated(region, a.logger)
	}
	return a.segregated, nil
}

func (a *Allocator) buddyFamily() (*Buddy, error) {
	if a.buddy == nil {
		region, err := reserve("buddy")
		if err != nil {
			return nil, err
		}
		a.buddy = NewBuddy(region)
	}
	return a.buddy, nil
}

// SetLogger replaces the logger, nil means no logging.
func (a *Allocator) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a.logger = logger
	if a.segregated != nil {
		a.segregated.logger = logger
	}
}

// Mode returns the strategy of the most recent allocation.
func (a *Allocator) Mode() Strategy {
	return a.mode
}

// Allocate returns a slice of length size, with the usable block payload as
// capacity. It fails with ErrOutOfMemory when no block fits.
func (a *Allocator) Allocate(s Strategy, size int) ([]byte, error) {
	if s < StrategyFirstFit || s > StrategyBuddy {
		return nil, errors.Newf("allocator: unknown strategy %d", s)
	}
	a.mode = s
	if size < 0 {
		return nil, ErrInvalidSize
	}

	if s == StrategyBuddy {
		b, err := a.buddyFamily()
		if err != nil {
			return nil, err
		}
		if size > ArenaSize {
			return nil, ErrOutOfMemory
		}
		payload, ok := b.Allocate(uint32(size))
		if !ok {
			return nil, ErrOutOfMemory
		}
		return b.Bytes(payload, uint32(size)), nil
	}

	seg, err := a.segregatedFamily()
	if err != nil {
		return nil, err
	}
	if size > ArenaSize {
		return nil, ErrOutOfMemory
	}

	var payload uint32
	var ok bool
	switch s {
	case StrategyFirstFit:
		payload, ok = seg.FirstFit(uint32(size))
	case StrategyNextFit:
		payload, ok = seg.NextFit(uint32(size))
	case StrategyBestFit:
		payload, ok = seg.BestFit(uint32(size))
	case StrategyWorstFit:
		payload, ok = seg.WorstFit(uint32(size))
	}
	if !ok {
		return nil, ErrOutOfMemory
	}
	return seg.Bytes(payload, uint32(size)), nil
}

// allocateOrFatal treats a missing backing region as unrecoverable.
func (a *Allocator) allocateOrFatal(s Strategy, size int) []byte {
	b, err := a.Allocate(s, size)
	if err == nil {
		return b
	}
	if errors.Is(err, ErrRegionUnavailable) {
		a.logger.Fatal("allocator unusable", zap.Stringer("strategy", s), zap.Error(err))
	}
	return nil
}

// FirstFit returns nil when no block fits.
func (a *Allocator) FirstFit(size int) []byte {
	return a.allocateOrFatal(StrategyFirstFit, size)
}

// NextFit returns nil when no block fits.
func (a *Allocator) NextFit(size int) []byte {
	return a.allocateOrFatal(StrategyNextFit, size)
}

// BestFit returns nil when no block fits.
func (a *Allocator) BestFit(size int) []byte {
	return a.allocateOrFatal(StrategyBestFit, size)
}

// WorstFit returns nil when no block fits.
func (a *Allocator) WorstFit(size int) []byte {
	return a.allocateOrFatal(StrategyWorstFit, size)
}

// Buddy returns nil when no block fits.
func (a *Allocator) Buddy(size int) []byte {
	return a.allocateOrFatal(StrategyBuddy, size)
}

// Release frees b, returning why nothing happened when the pointer is not a
// live block. A nil slice is a no-op.
func (a *Allocator) Release(b []byte) error {
	p := unsafe.Pointer(unsafe.SliceData(b))
	if p == nil {
		return nil
	}

	if a.buddy != nil {
		if off, ok := a.buddy.Region().Contains(p); ok {
			return a.buddy.Deallocate(off)
		}
	}
	if a.segregated != nil {
		if off, ok := a.segregated.Region().Contains(p); ok {
			return a.segregated.Free(off)
		}
	}
	return ErrInvalidPointer
}

// Free releases b. Double frees are logged, invalid pointers are ignored.
func (a *Allocator) Free(b []byte) {
	err := a.Release(b)
	switch {
	case err == nil:
	case errors.Is(err, ErrDoubleFree):
		a.logger.Warn("double free detected", zap.Uintptr("ptr", uintptr(unsafe.Pointer(unsafe.SliceData(b)))))
	default:
		a.logger.Debug("free ignored", zap.Uintptr("ptr", uintptr(unsafe.Pointer(unsafe.SliceData(b)))), zap.Error(err))
	}
}

// SegregatedBlocks returns nil before the segregated region is reserved.
func (a *Allocator) SegregatedBlocks() []BlockInfo {
	if a.segregated == nil {
		return nil
	}
	return a.segregated.Blocks()
}

// BuddyBlocks returns nil before the buddy region is reserved.
func (a *Allocator) BuddyBlocks() []BlockInfo {
	if a.buddy == nil {
		return nil
	}
	return a.buddy.Blocks()
}

// Stats ...
func (a *Allocator) Stats() Stats {
	st := Stats{Mode: a.mode}

	if a.segregated != nil {
		st.SegregatedReserved = true
		for _, blk := range a.segregated.Blocks() {
			if blk.Free {
				st.SegregatedFreeBlocks++
				st.SegregatedFreeBytes += blk.Size
			} else {
				st.SegregatedUsedBlocks++
			}
		}
		st.IndexNodes = a.segregated.index.len()
	}

	if a.buddy != nil {
		st.BuddyReserved = true
		for _, blk := range a.buddy.Blocks() {
			if blk.Free {
				st.BuddyFreeBlocks[blk.Order]++
				st.BuddyFreeBytes += blk.Size
			}
		}
	}
	return st
}

// Validate checks the invariants of every reserved region.
func (a *Allocator) Validate() error {
	var result error
	if a.segregated != nil {
		if err := a.segregated.Validate(); err != nil {
			result = errors.CombineErrors(result, errors.Wrap(err, "segregated"))
		}
	}
	if a.buddy != nil {
		if err := a.buddy.Validate(); err != nil {
			result = errors.CombineErrors(result, errors.Wrap(err, "buddy"))
		}
	}
	return result
}
