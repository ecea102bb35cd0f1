package mutable

import (
	"github.com/iotaledger/statetrie.go/common"
	"github.com/iotaledger/statetrie.go/immutable"
)

// Freeze converts the current generation into a frozen tree, computing node
// hashes bottom-up, and reports the commit costs to the collector. Borrowed
// subtrees are shared with the tree the trie was thawed from; owned nodes
// become fresh in-memory frozen nodes. Returns nil when the tree is empty.
//
// Freeze consumes the trie: the arenas are released and the trie must not
// be used afterwards
func (tr *MutableTrie) Freeze(ldr common.Loader, col common.Collector) (*immutable.RootNode, error) {
	if len(tr.generations) == 0 {
		return nil, nil
	}
	rootIdx := tr.generations[len(tr.generations)-1].root
	if rootIdx < 0 {
		return nil, nil
	}
	// collect the reachable owned nodes in preorder, so that processing the
	// list in reverse sees children before parents
	stack := []int{rootIdx}
	var reachable []int
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reachable = append(reachable, idx)
		if tr.nodes[idx].children.owned {
			for _, p := range tr.nodes[idx].children.pairs {
				stack = append(stack, p.index)
			}
		}
	}
	frozen := make(map[int]immutable.HashedNode)
	for i := len(reachable) - 1; i >= 0; i-- {
		idx := reachable[i]
		node := tr.nodes[idx]
		value := tr.freezeValue(node.value, col)
		var children []immutable.Child
		if node.children.owned {
			children = make([]immutable.Child, 0, len(node.children.pairs))
			for _, p := range node.children.pairs {
				hn, ok := frozen[p.index]
				common.Assert(ok, "freeze: child %d of node %d was not frozen", p.index, idx)
				delete(frozen, p.index)
				children = append(children, immutable.NewChild(p.key, common.NewLink(common.NewMemoryRef(hn))))
			}
		} else {
			children = node.children.borrowed
		}
		col.AddPath(node.stem.Len())
		col.AddChildren(len(children))
		frozenNode := immutable.NewNode(value, node.stem, children)
		hash, err := frozenNode.ComputeHash(ldr)
		if err != nil {
			return nil, err
		}
		frozen[idx] = common.NewHashed(hash, frozenNode)
	}
	common.Assert(len(frozen) == 1, "freeze: %d disconnected nodes left", len(frozen)-1)
	root := frozen[rootIdx]
	// the arenas are dead now
	*tr = MutableTrie{}
	return &immutable.RootNode{Hash: root.Hash, Node: root.Data}, nil
}

// freezeValue materializes the value of a node being frozen. A value still
// borrowed from the frozen tree is shared as-is; an owned value is taken
// out of the arena, hashed and reported to the collector
func (tr *MutableTrie) freezeValue(id EntryID, col common.Collector) *immutable.ValueLink {
	if id == NoEntry {
		return nil
	}
	e := tr.entries[id]
	switch e.kind {
	case entryReadOnly:
		if e.borrowed {
			return tr.borrowedValues[e.idx]
		}
	case entryMutable:
	default:
		return nil
	}
	value := tr.values[e.idx]
	tr.values[e.idx] = nil
	col.AddValue(value)
	return immutable.NewMemoryValue(common.HashData(value), value)
}
