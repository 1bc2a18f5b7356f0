package allocator

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Buddy splits a region into power of two blocks from BuddyMinBlockSize up to
// the whole region. Every block starts at a multiple of its own size.
type Buddy struct {
	region  *Region
	buckets [buddyNumOrders]uint32
	bitset  []uint64 // one bit per minimum block, set at free block starts
}

type buddyHeader struct {
	magic uint32
	order uint16
	free  uint16
	next  uint32
	prev  uint32
}

const buddyHeaderSize = uint32(unsafe.Sizeof(buddyHeader{}))

func blockSize(order uint32) uint32 {
	return BuddyMinBlockSize << order
}

// orderForSize returns the smallest order covering need, capped at BuddyMaxOrder.
func orderForSize(need uint32) uint32 {
	if need <= BuddyMinBlockSize {
		return 0
	}
	order := uint32(bits.Len32((need - 1) >> buddyMinSizeLog))
	if order > BuddyMaxOrder {
		return BuddyMaxOrder
	}
	return order
}

func makeBitSet(numBlocks uint32) []uint64 {
	if numBlocks <= 64 {
		return make([]uint64, 1)
	}
	return make([]uint64, (numBlocks+63)>>6)
}

// NewBuddy formats the region as one free block of BuddyMaxOrder.
func NewBuddy(region *Region) *Buddy {
	if region.size != blockSize(BuddyMaxOrder) {
		panic("buddy region size must be BuddyMinBlockSize << BuddyMaxOrder")
	}

	b := &Buddy{
		region: region,
		bitset: makeBitSet(region.size >> buddyMinSizeLog),
	}
	for i := range b.buckets {
		b.buckets[i] = buddyNullPtr
	}
	b.pushFree(0, BuddyMaxOrder)
	return b
}

func (b *Buddy) setBit(addr uint32) {
	index := addr >> buddyMinSizeLog
	pos := index & 0x3f
	mask := uint64(1 << pos)
	b.bitset[index>>6] |= mask
}

func (b *Buddy) clearBit(addr uint32) {
	index := addr >> buddyMinSizeLog
	pos := index & 0x3f
	mask := ^uint64(1 << pos)
	b.bitset[index>>6] &= mask
}

func (b *Buddy) isBitSet(addr uint32) bool {
	index := addr >> buddyMinSizeLog
	pos := index & 0x3f
	mask := uint64(1 << pos)
	return b.bitset[index>>6]&mask != 0
}

func (b *Buddy) header(addr uint32) *buddyHeader {
	return (*buddyHeader)(b.region.at(addr))
}

func (b *Buddy) pushFree(addr uint32, order uint32) {
	node := b.header(addr)
	root := &b.buckets[order]
	if *root != buddyNullPtr {
		b.header(*root).prev = addr
	}

	node.magic = Magic
	node.order = uint16(order)
	node.free = 1
	node.next = *root
	node.prev = buddyNullPtr
	*root = addr
	b.setBit(addr)
}

func (b *Buddy) removeFree(addr uint32) {
	node := b.header(addr)
	root := &b.buckets[node.order]
	if node.next != buddyNullPtr {
		b.header(node.next).prev = node.prev
	}

	if node.prev != buddyNullPtr {
		b.header(node.prev).next = node.next
	} else {
		*root = node.next
	}
	node.next = buddyNullPtr
	node.prev = buddyNullPtr
	b.clearBit(addr)
}

func (b *Buddy) contentOfList(order uint32) []uint32 {
	var result []uint32
	for addr := b.buckets[order]; addr != buddyNullPtr; addr = b.header(addr).next {
		result = append(result, addr)
	}
	return result
}

// Allocate returns the payload offset of a block holding size bytes after its header.
func (b *Buddy) Allocate(size uint32) (uint32, bool) {
	if size > b.region.size {
		return 0, false
	}
	need := alignUp(size) + buddyHeaderSize
	if need > b.region.size {
		return 0, false
	}
	order := orderForSize(need)

	emptyOrder := order
	for ; emptyOrder <= BuddyMaxOrder && b.buckets[emptyOrder] == buddyNullPtr; emptyOrder++ {
	}
	if emptyOrder > BuddyMaxOrder {
		return 0, false
	}

	addr := b.buckets[emptyOrder]
	b.removeFree(addr)

	for k := emptyOrder; k > order; {
		k--
		b.pushFree(addr+blockSize(k), k)
	}

	h := b.header(addr)
	h.magic = Magic
	h.order = uint16(order)
	h.free = 0
	return addr + buddyHeaderSize, true
}

// computeRootAndBuddyAddr returns the start of the pair's parent block and the buddy of addr.
func computeRootAndBuddyAddr(addr uint32, order uint32) (uint32, uint32) {
	size := blockSize(order)
	return addr &^ size, addr ^ size
}

func (b *Buddy) blockOf(payload uint32) (uint32, error) {
	if payload < buddyHeaderSize || payload > b.region.size {
		return 0, ErrInvalidPointer
	}
	addr := payload - buddyHeaderSize
	if !isAligned(addr, BuddyMinBlockSize) {
		return 0, ErrInvalidPointer
	}

	h := b.header(addr)
	if h.magic != Magic {
		return 0, ErrCorruptHeader
	}
	if uint32(h.order) > BuddyMaxOrder || !isAligned(addr, blockSize(uint32(h.order))) {
		return 0, errors.Wrapf(ErrCorruptHeader, "order %d at offset %d", h.order, addr)
	}
	return addr, nil
}

// Deallocate frees the block owning payload and merges it with free buddies
// as far up as possible.
func (b *Buddy) Deallocate(payload uint32) error {
	addr, err := b.blockOf(payload)
	if err != nil {
		return err
	}

	h := b.header(addr)
	if h.free != 0 {
		return ErrDoubleFree
	}
	h.free = 1

	order := uint32(h.order)
	for order < BuddyMaxOrder {
		rootAddr, buddyAddr := computeRootAndBuddyAddr(addr, order)
		if buddyAddr+buddyHeaderSize > b.region.size {
			break
		}
		if !b.isBitSet(buddyAddr) {
			break
		}

		buddy := b.header(buddyAddr)
		if buddy.magic != Magic || buddy.free == 0 || uint32(buddy.order) != order {
			break
		}

		b.removeFree(buddyAddr)
		addr = rootAddr
		order++
	}

	b.pushFree(addr, order)
	return nil
}

// Bytes exposes the payload at offset as a slice of length bytes whose
// capacity runs to the end of the block.
func (b *Buddy) Bytes(payload uint32, length uint32) []byte {
	h := b.header(payload - buddyHeaderSize)
	return b.region.slice(payload, length, blockSize(uint32(h.order))-buddyHeaderSize)
}

// Region ...
func (b *Buddy) Region() *Region {
	return b.region
}

// Blocks lists the current blocks in address order.
func (b *Buddy) Blocks() []BlockInfo {
	var result []BlockInfo
	for addr := uint32(0); addr < b.region.size; {
		h := b.header(addr)
		result = append(result, BlockInfo{
			Offset: addr,
			Size:   blockSize(uint32(h.order)),
			Order:  uint32(h.order),
			Free:   h.free != 0,
		})
		addr += blockSize(uint32(h.order))
	}
	return result
}

// Validate checks that blocks tile the region, sit at multiples of their size,
// and that the free lists and bitset agree with the headers.
func (b *Buddy) Validate() error {
	free := make(map[uint32]uint32)
	var total uint32
	for addr := uint32(0); addr < b.region.size; {
		h := b.header(addr)
		if h.magic != Magic {
			return errors.Newf("buddy block at offset %d has magic %#x", addr, h.magic)
		}
		order := uint32(h.order)
		if order > BuddyMaxOrder {
			return errors.Newf("buddy block at offset %d has order %d", addr, order)
		}
		if !isAligned(addr, blockSize(order)) {
			return errors.Newf("buddy block at offset %d is not aligned to %d", addr, blockSize(order))
		}
		if (h.free != 0) != b.isBitSet(addr) {
			return errors.Newf("buddy block at offset %d has free flag %d but bitset says %v", addr, h.free, b.isBitSet(addr))
		}
		if h.free != 0 {
			free[addr] = order
		}
		total += blockSize(order)
		addr += blockSize(order)
	}
	if total != b.region.size {
		return errors.Newf("buddy blocks add up to %d bytes, region size is %d", total, b.region.size)
	}

	listed := 0
	for order := uint32(0); order <= BuddyMaxOrder; order++ {
		prev := buddyNullPtr
		for addr := b.buckets[order]; addr != buddyNullPtr; addr = b.header(addr).next {
			got, ok := free[addr]
			if !ok {
				return errors.Newf("order %d list holds offset %d which is not a free block", order, addr)
			}
			if got != order {
				return errors.Newf("order %d list holds offset %d of order %d", order, addr, got)
			}
			if b.header(addr).prev != prev {
				return errors.Newf("order %d list entry %d links back to %d instead of %d", order, addr, b.header(addr).prev, prev)
			}
			prev = addr
			listed++
		}
	}
	if listed != len(free) {
		return errors.Newf("buddy lists hold %d entries, %d blocks are free", listed, len(free))
	}
	return nil
}
