package mutable

import (
	"math"
	"sort"

	"github.com/iotaledger/statetrie.go/common"
)

// PrefixesMap tracks the key prefixes locked by open iterators. It is a
// small 256-way trie with reference counts in the terminal nodes, backed by
// a slab so that traversal and modification work on indices instead of
// pointers
type PrefixesMap struct {
	// index of the root in nodes; -1 iff the map is empty
	root  int
	nodes []prefixNode
	free  []int
}

type prefixNode struct {
	// reference count; 0 means no key terminates here
	count uint16
	// children ordered by increasing key byte
	children []prefixChild
}

type prefixChild struct {
	key   byte
	index int
}

func NewPrefixesMap() *PrefixesMap {
	return &PrefixesMap{root: -1}
}

func (m *PrefixesMap) IsEmpty() bool {
	return m.root < 0
}

func (m *PrefixesMap) alloc() int {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		m.nodes[idx] = prefixNode{}
		return idx
	}
	m.nodes = append(m.nodes, prefixNode{})
	return len(m.nodes) - 1
}

func (m *PrefixesMap) release(idx int) {
	m.free = append(m.free, idx)
}

// searchChild returns the position of key in the children of the node, and
// whether it was found
func searchChild(children []prefixChild, key byte) (int, bool) {
	pos := sort.Search(len(children), func(i int) bool {
		return children[i].key >= key
	})
	return pos, pos < len(children) && children[pos].key == key
}

// Insert adds the key to the map, incrementing its reference count. Fails
// with ErrTooManyIterators when the count would overflow
func (m *PrefixesMap) Insert(key []byte) error {
	if m.root < 0 {
		m.root = m.alloc()
	}
	nodeIdx := m.root
	for _, k := range key {
		pos, found := searchChild(m.nodes[nodeIdx].children, k)
		if found {
			nodeIdx = m.nodes[nodeIdx].children[pos].index
			continue
		}
		newIdx := m.alloc()
		children := m.nodes[nodeIdx].children
		children = append(children, prefixChild{})
		copy(children[pos+1:], children[pos:])
		children[pos] = prefixChild{key: k, index: newIdx}
		m.nodes[nodeIdx].children = children
		nodeIdx = newIdx
	}
	node := &m.nodes[nodeIdx]
	if node.count == math.MaxUint16 {
		return common.ErrTooManyIterators
	}
	node.count++
	return nil
}

// CheckHasNoPrefix returns ErrLockedArea when some key in the map is a
// prefix of the given key (including the key itself)
func (m *PrefixesMap) CheckHasNoPrefix(key []byte) error {
	if m.root < 0 {
		return nil
	}
	nodeIdx := m.root
	for _, k := range key {
		node := &m.nodes[nodeIdx]
		if node.count > 0 {
			return common.ErrLockedArea
		}
		pos, found := searchChild(node.children, k)
		if !found {
			return nil
		}
		nodeIdx = node.children[pos].index
	}
	if m.nodes[nodeIdx].count > 0 {
		return common.ErrLockedArea
	}
	return nil
}

// IsOrHasPrefix reports whether some key in the map is a prefix of the
// given key, or the given key is a prefix of some key in the map
func (m *PrefixesMap) IsOrHasPrefix(key []byte) bool {
	if m.root < 0 {
		return false
	}
	nodeIdx := m.root
	for _, k := range key {
		node := &m.nodes[nodeIdx]
		if node.count > 0 {
			return true
		}
		pos, found := searchChild(node.children, k)
		if !found {
			return false
		}
		nodeIdx = node.children[pos].index
	}
	// the walk ended at a live node: either a key terminates here, or the
	// subtree below holds keys extending the argument
	return true
}

// Delete decrements the reference count of the key, removing it and pruning
// empty branches when the count reaches zero. Reports whether the key was
// in the map
func (m *PrefixesMap) Delete(key []byte) bool {
	if m.root < 0 {
		return false
	}
	nodeIdx := m.root
	type step struct {
		node int
		pos  int
	}
	stack := make([]step, 0, len(key))
	for _, k := range key {
		pos, found := searchChild(m.nodes[nodeIdx].children, k)
		if !found {
			return false
		}
		stack = append(stack, step{node: nodeIdx, pos: pos})
		nodeIdx = m.nodes[nodeIdx].children[pos].index
	}
	node := &m.nodes[nodeIdx]
	if node.count == 0 {
		return false
	}
	if node.count > 1 {
		node.count--
		return true
	}
	node.count = 0
	if len(node.children) > 0 {
		return true
	}
	// unwind, removing empty nodes
	m.release(nodeIdx)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := &m.nodes[s.node]
		parent.children = append(parent.children[:s.pos], parent.children[s.pos+1:]...)
		if len(parent.children) > 0 || parent.count > 0 {
			return true
		}
		m.release(s.node)
	}
	// the unwind consumed the whole path: the map is empty again
	m.root = -1
	return true
}

// NumNodes returns the number of live slab nodes, for diagnostics
func (m *PrefixesMap) NumNodes() int {
	return len(m.nodes) - len(m.free)
}
