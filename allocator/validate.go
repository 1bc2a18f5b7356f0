package allocator

import "github.com/cockroachdb/errors"

// Validate walks the physical chain, the free list and the size index and
// reports the first inconsistency found.
func (s *Segregated) Validate() error {
	if s.header(0).prevPhys != nullPtr {
		return errors.New("first block has a physical predecessor")
	}

	physFree := make(map[uint32]uint32)
	var total uint32
	prev := nullPtr
	prevFree := false
	for addr := uint32(0); addr != nullPtr; {
		h := s.header(addr)
		if h.magic != Magic {
			return errors.Newf("block at offset %d has magic %#x", addr, h.magic)
		}
		if h.prevPhys != prev {
			return errors.Newf("block at offset %d links back to %d instead of %d", addr, h.prevPhys, prev)
		}
		if !isAligned(addr+headerSize, Alignment) {
			return errors.Newf("payload of block at offset %d is not aligned", addr)
		}
		free := h.free != 0
		if free && prevFree {
			return errors.Newf("free block at offset %d was not merged with its free predecessor", addr)
		}
		if free {
			physFree[addr] = h.size
		}

		total += headerSize + h.size
		end := addr + headerSize + h.size
		if h.nextPhys != nullPtr && h.nextPhys != end {
			return errors.Newf("block at offset %d ends at %d but the next block starts at %d", addr, end, h.nextPhys)
		}
		if h.nextPhys == nullPtr && end != s.region.size {
			return errors.Newf("last block ends at %d, region size is %d", end, s.region.size)
		}

		prev = addr
		prevFree = free
		addr = h.nextPhys
	}
	if total != s.region.size {
		return errors.Newf("blocks add up to %d bytes, region size is %d", total, s.region.size)
	}

	listed := make(map[uint32]struct{})
	prevInList := nullPtr
	for addr := s.freeHead; addr != nullPtr; addr = s.header(addr).nextFree {
		if _, ok := physFree[addr]; !ok {
			return errors.Newf("free list holds offset %d which is not a free block", addr)
		}
		if _, ok := listed[addr]; ok {
			return errors.Newf("free list holds offset %d twice", addr)
		}
		if s.header(addr).prevFree != prevInList {
			return errors.Newf("free list entry %d links back to %d instead of %d", addr, s.header(addr).prevFree, prevInList)
		}
		listed[addr] = struct{}{}
		prevInList = addr
	}
	if len(listed) != len(physFree) {
		return errors.Newf("free list has %d entries, %d blocks are free", len(listed), len(physFree))
	}

	if s.cursor != nullPtr {
		if _, ok := listed[s.cursor]; !ok {
			return errors.Newf("next-fit cursor %d is not on the free list", s.cursor)
		}
	}

	if !s.indexed {
		if s.index.len() != 0 {
			return errors.Newf("size index holds %d nodes before being built", s.index.len())
		}
		return nil
	}
	return s.validateIndex(physFree)
}

func (s *Segregated) validateIndex(physFree map[uint32]uint32) error {
	if _, err := s.index.check(s.index.root); err != nil {
		return err
	}

	var walkErr error
	var last *indexNode
	count := 0
	s.index.walk(func(nd *indexNode) {
		if walkErr != nil {
			return
		}
		if last != nil && compareKey(nd.size, nd.addr, last) <= 0 {
			walkErr = errors.Newf("size index visits %d/%d after %d/%d", nd.size, nd.addr, last.size, last.addr)
			return
		}
		last = nd
		count++
		size, ok := physFree[nd.addr]
		if !ok {
			walkErr = errors.Newf("size index holds offset %d which is not a free block", nd.addr)
			return
		}
		if size != nd.size {
			walkErr = errors.Newf("size index records %d bytes for offset %d, block has %d", nd.size, nd.addr, size)
		}
	})
	if walkErr != nil {
		return walkErr
	}

	if count+s.unindexed < len(physFree) {
		return errors.Newf("size index has %d nodes for %d free blocks", count, len(physFree))
	}
	if count > len(physFree) {
		return errors.Newf("size index has %d nodes but only %d blocks are free", count, len(physFree))
	}
	return nil
}

// check returns the height of the subtree at n after verifying order and balance.
func (t *sizeIndex) check(n int32) (int32, error) {
	if n == nullNode {
		return 0, nil
	}
	nd := t.node(n)
	if nd.left != nullNode && compareKey(t.node(nd.left).size, t.node(nd.left).addr, nd) >= 0 {
		return 0, errors.Newf("size index node %d/%d has an out of order left child", nd.size, nd.addr)
	}
	if nd.right != nullNode && compareKey(t.node(nd.right).size, t.node(nd.right).addr, nd) <= 0 {
		return 0, errors.Newf("size index node %d/%d has an out of order right child", nd.size, nd.addr)
	}

	hl, err := t.check(nd.left)
	if err != nil {
		return 0, err
	}
	hr, err := t.check(nd.right)
	if err != nil {
		return 0, err
	}

	h := hl
	if hr > h {
		h = hr
	}
	h++
	if nd.height != h {
		return 0, errors.Newf("size index node %d/%d caches height %d, actual %d", nd.size, nd.addr, nd.height, h)
	}
	if d := hl - hr; d > 1 || d < -1 {
		return 0, errors.Newf("size index node %d/%d is unbalanced by %d", nd.size, nd.addr, d)
	}
	return h, nil
}
