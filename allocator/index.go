package allocator

// indexNode is keyed by (size, addr) so equal sized blocks still have a total order.
type indexNode struct {
	size   uint32
	addr   uint32
	left   int32
	right  int32
	height int32
}

// sizeIndex is an AVL tree of free blocks used by best-fit and worst-fit.
type sizeIndex struct {
	pool nodePool
	root int32
}

func (t *sizeIndex) init() {
	t.pool.init()
	t.root = nullNode
}

func (t *sizeIndex) node(n int32) *indexNode {
	return t.pool.get(n)
}

func (t *sizeIndex) len() int {
	return t.pool.used
}

func (t *sizeIndex) height(n int32) int32 {
	if n == nullNode {
		return 0
	}
	return t.node(n).height
}

func (t *sizeIndex) update(n int32) {
	nd := t.node(n)
	hl, hr := t.height(nd.left), t.height(nd.right)
	if hl > hr {
		nd.height = hl + 1
	} else {
		nd.height = hr + 1
	}
}

func compareKey(size uint32, addr uint32, nd *indexNode) int {
	switch {
	case size < nd.size:
		return -1
	case size > nd.size:
		return 1
	case addr < nd.addr:
		return -1
	case addr > nd.addr:
		return 1
	}
	return 0
}

func (t *sizeIndex) rotateRight(y int32) int32 {
	x := t.node(y).left
	t.node(y).left = t.node(x).right
	t.node(x).right = y
	t.update(y)
	t.update(x)
	return x
}

func (t *sizeIndex) rotateLeft(x int32) int32 {
	y := t.node(x).right
	t.node(x).right = t.node(y).left
	t.node(y).left = x
	t.update(x)
	t.update(y)
	return y
}

func (t *sizeIndex) rebalance(n int32) int32 {
	t.update(n)
	nd := t.node(n)

	bf := t.height(nd.left) - t.height(nd.right)
	if bf > 1 {
		l := t.node(nd.left)
		if t.height(l.left) < t.height(l.right) {
			nd.left = t.rotateLeft(nd.left)
		}
		return t.rotateRight(n)
	}
	if bf < -1 {
		r := t.node(nd.right)
		if t.height(r.right) < t.height(r.left) {
			nd.right = t.rotateRight(nd.right)
		}
		return t.rotateLeft(n)
	}
	return n
}

// insert adds (size, addr). Inserting an existing key is a no-op.
func (t *sizeIndex) insert(size uint32, addr uint32) error {
	root, err := t.insertAt(t.root, size, addr)
	t.root = root
	return err
}

func (t *sizeIndex) insertAt(n int32, size uint32, addr uint32) (int32, error) {
	if n == nullNode {
		newNode, ok := t.pool.allocate()
		if !ok {
			return nullNode, ErrIndexFull
		}
		nd := t.node(newNode)
		nd.size = size
		nd.addr = addr
		nd.left = nullNode
		nd.right = nullNode
		nd.height = 1
		return newNode, nil
	}

	nd := t.node(n)
	var err error
	switch c := compareKey(size, addr, nd); {
	case c < 0:
		nd.left, err = t.insertAt(nd.left, size, addr)
	case c > 0:
		nd.right, err = t.insertAt(nd.right, size, addr)
	default:
		return n, nil
	}
	if err != nil {
		return n, err
	}
	return t.rebalance(n), nil
}

// delete removes (size, addr), reporting whether the key was present.
func (t *sizeIndex) delete(size uint32, addr uint32) bool {
	root, found := t.deleteAt(t.root, size, addr)
	t.root = root
	return found
}

func (t *sizeIndex) deleteAt(n int32, size uint32, addr uint32) (int32, bool) {
	if n == nullNode {
		return nullNode, false
	}

	nd := t.node(n)
	found := true
	switch c := compareKey(size, addr, nd); {
	case c < 0:
		nd.left, found = t.deleteAt(nd.left, size, addr)
	case c > 0:
		nd.right, found = t.deleteAt(nd.right, size, addr)
	default:
		if nd.left == nullNode || nd.right == nullNode {
			child := nd.left
			if child == nullNode {
				child = nd.right
			}
			t.pool.deallocate(n)
			return child, true
		}
		successor := t.node(t.min(nd.right))
		nd.size = successor.size
		nd.addr = successor.addr
		nd.right, _ = t.deleteAt(nd.right, nd.size, nd.addr)
	}
	if !found {
		return n, false
	}
	return t.rebalance(n), true
}

func (t *sizeIndex) min(n int32) int32 {
	for t.node(n).left != nullNode {
		n = t.node(n).left
	}
	return n
}

// bestFit returns the smallest block of at least need bytes, lowest address first.
func (t *sizeIndex) bestFit(need uint32) (uint32, bool) {
	var result uint32
	found := false
	for n := t.root; n != nullNode; {
		nd := t.node(n)
		if nd.size >= need {
			result = nd.addr
			found = true
			n = nd.left
		} else {
			n = nd.right
		}
	}
	return result, found
}

// worstFit returns the largest block when it holds at least need bytes.
// Among equal largest sizes the highest address wins.
func (t *sizeIndex) worstFit(need uint32) (uint32, bool) {
	if t.root == nullNode {
		return 0, false
	}
	n := t.root
	for t.node(n).right != nullNode {
		n = t.node(n).right
	}
	nd := t.node(n)
	if nd.size < need {
		return 0, false
	}
	return nd.addr, true
}

// walk visits the keys in ascending order.
func (t *sizeIndex) walk(fn func(nd *indexNode)) {
	t.walkAt(t.root, fn)
}

func (t *sizeIndex) walkAt(n int32, fn func(nd *indexNode)) {
	if n == nullNode {
		return
	}
	nd := t.node(n)
	t.walkAt(nd.left, fn)
	fn(nd)
	t.walkAt(nd.right, fn)
}
