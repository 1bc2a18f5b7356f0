package allocator

import "math"

const (
	// ArenaSize is the size of the backing region reserved for each strategy family.
	ArenaSize = 4096

	// Alignment every payload size is rounded up to.
	Alignment = 8

	// Magic is stamped into every block header.
	Magic uint32 = 0xCAFEBABE

	// MinSplitRemainder is the smallest payload a block carved off by a split may have.
	MinSplitRemainder = 8

	// BuddyMinBlockSize is the size of an order 0 buddy block.
	BuddyMinBlockSize = 32

	// BuddyMaxOrder is the order of a block spanning the whole buddy region.
	BuddyMaxOrder = 7

	// IndexPoolSize is the capacity of the size index node pool.
	IndexPoolSize = 256
)

const (
	nullPtr      uint32 = math.MaxUint32
	buddyNullPtr        = nullPtr

	buddyMinSizeLog = 5
	buddyNumOrders  = BuddyMaxOrder + 1
)
