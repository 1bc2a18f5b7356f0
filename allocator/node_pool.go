package allocator

const nullNode int32 = -1

// nodePool hands out size index nodes from a fixed array. Released slots are
// chained through their right link and reused before untouched ones.
type nodePool struct {
	nodes    [IndexPoolSize]indexNode
	freeList int32
	used     int
}

func (p *nodePool) init() {
	for i := range p.nodes {
		n := &p.nodes[i]
		*n = indexNode{left: nullNode, right: int32(i + 1)}
		if i == IndexPoolSize-1 {
			n.right = nullNode
		}
	}
	p.freeList = 0
	p.used = 0
}

func (p *nodePool) contentOfList() []int32 {
	var result []int32
	for n := p.freeList; n != nullNode; n = p.nodes[n].right {
		result = append(result, n)
	}
	return result
}

func (p *nodePool) get(n int32) *indexNode {
	return &p.nodes[n]
}

func (p *nodePool) allocate() (int32, bool) {
	if p.freeList == nullNode {
		return nullNode, false
	}
	result := p.freeList
	p.freeList = p.nodes[result].right
	p.used++
	return result, true
}

func (p *nodePool) deallocate(n int32) {
	p.nodes[n] = indexNode{left: nullNode, right: p.freeList}
	p.freeList = n
	p.used--
}
