package mutable

import (
	"github.com/iotaledger/statetrie.go/common"
	"github.com/iotaledger/statetrie.go/immutable"
)

// checkpoint records the arena lengths at the start of a generation. Items
// are only ever appended to the arenas, so going back to the previous
// generation is a truncation
type checkpoint struct {
	numNodes    int
	numValues   int
	numBorrowed int
	numEntries  int
}

// generation is one checkpointed version of the trie. It tracks the root of
// its version of the tree and the prefixes locked by iterators opened in it
type generation struct {
	// index of the root node in the node arena; -1 iff this version of the
	// tree is empty
	root          int
	checkpoint    checkpoint
	iteratorRoots *PrefixesMap
}

// MutableTrie is the working copy of a state trie. All nodes, values and
// entries live in flat arenas; older generations stay reachable through
// their checkpoints until they are popped
type MutableTrie struct {
	generations []generation
	// indirection table between caller-visible entry ids and values
	entries []entry
	// values owned by the working copy
	values [][]byte
	// values still shared with the frozen tree
	borrowedValues []*immutable.ValueLink
	// all nodes of all generations; newer generations append at the end
	nodes []mutableNode
}

// Empty creates a mutable trie with a single empty generation
func Empty() *MutableTrie {
	return &MutableTrie{
		generations: []generation{{root: -1, iteratorRoots: NewPrefixesMap()}},
	}
}

// Thaw builds a working copy on top of a frozen tree. Only the root node is
// thawed eagerly; subtrees stay borrowed from the frozen tree until a
// mutation reaches them
func Thaw(root *immutable.Node, gen uint32) *MutableTrie {
	tr := &MutableTrie{}
	tr.nodes = append(tr.nodes, tr.thawNode(root, gen))
	tr.generations = []generation{{root: 0, iteratorRoots: NewPrefixesMap()}}
	return tr
}

// thawNode registers the frozen node's value in the borrowed arena and
// keeps its child list borrowed
func (tr *MutableTrie) thawNode(n *immutable.Node, gen uint32) mutableNode {
	value := NoEntry
	if vl := n.Value(); vl != nil {
		bidx := len(tr.borrowedValues)
		tr.borrowedValues = append(tr.borrowedValues, vl)
		value = EntryID(len(tr.entries))
		tr.entries = append(tr.entries, entry{kind: entryReadOnly, borrowed: true, idx: bidx})
	}
	return mutableNode{
		generation: gen,
		value:      value,
		stem:       *n.Stem(),
		children:   borrowedChildren(n.Children()),
	}
}

// IsEmpty reports whether the current generation holds an empty tree
func (tr *MutableTrie) IsEmpty() bool {
	return len(tr.generations) > 0 && tr.generations[len(tr.generations)-1].root < 0
}

func (tr *MutableTrie) currentGeneration() *generation {
	common.Assert(len(tr.generations) > 0, "mutable trie has no generations")
	return &tr.generations[len(tr.generations)-1]
}

// invalidate leaves a node the traversal disconnected in a harmless state
func (tr *MutableTrie) invalidate(idx int) {
	tr.nodes[idx] = mutableNode{value: NoEntry}
}

// makeOwned guarantees the children of the node are an owned list of the
// node's own generation, so child links and stems may be modified. Borrowed
// children are thawed into fresh arena nodes; owned children of an older
// generation are migrated, preserving the older generation's view
func (tr *MutableTrie) makeOwned(ldr common.Loader, idx int) error {
	node := &tr.nodes[idx]
	gen := node.generation
	if node.children.owned && node.children.generation == gen {
		return nil
	}
	if !node.children.owned {
		borrowed := node.children.borrowed
		pairs := make([]keyIndexPair, 0, len(borrowed))
		for _, c := range borrowed {
			frozenChild, err := immutable.NodeFromLink(ldr, c.Link())
			if err != nil {
				return err
			}
			pairs = append(pairs, keyIndexPair{key: c.Key(), index: len(tr.nodes)})
			tr.nodes = append(tr.nodes, tr.thawNode(frozenChild, gen))
		}
		tr.nodes[idx].children = ownedChildren(gen, pairs)
		return nil
	}
	old := node.children.pairs
	pairs := make([]keyIndexPair, 0, len(old))
	for _, p := range old {
		migrated := tr.nodes[p.index].migrate(&tr.entries, gen)
		pairs = append(pairs, keyIndexPair{key: p.key, index: len(tr.nodes)})
		tr.nodes = append(tr.nodes, migrated)
	}
	tr.nodes[idx].children = ownedChildren(gen, pairs)
	return nil
}

// newMutableEntry allocates a value slot and a fresh mutable entry for it.
// The trie takes ownership of the value slice
func (tr *MutableTrie) newMutableEntry(value []byte) EntryID {
	vidx := len(tr.values)
	tr.values = append(tr.values, value)
	id := EntryID(len(tr.entries))
	tr.entries = append(tr.entries, entry{kind: entryMutable, idx: vidx})
	return id
}

// parentRef remembers where the traversal came from: the parent node and
// the position of the followed child in its owned child list
type parentRef struct {
	ok       bool
	node     int
	childPos int
}

// GetEntry walks the trie by key and returns the entry id stored at the
// key. The walk may thaw borrowed subtrees, loading them from the backing
// store
func (tr *MutableTrie) GetEntry(ldr common.Loader, key []byte) (EntryID, bool, error) {
	if len(tr.generations) == 0 {
		return NoEntry, false, nil
	}
	nodeIdx := tr.currentGeneration().root
	if nodeIdx < 0 {
		return NoEntry, false, nil
	}
	kpos := 0
	for {
		node := &tr.nodes[nodeIdx]
		res, keyStep, _, _ := common.FollowStem(key, &kpos, node.stem.Bytes())
		switch res {
		case common.FollowEqual:
			return node.value, node.value != NoEntry, nil
		case common.FollowStemIsPrefix:
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return NoEntry, false, err
			}
			children := &tr.nodes[nodeIdx].children
			pos, found := children.search(keyStep)
			if !found {
				return NoEntry, false, nil
			}
			nodeIdx = children.pairs[pos].index
		default:
			return NoEntry, false, nil
		}
	}
}

// Insert puts a value at the key. It returns the fresh entry id and, when
// the key already held a value, the prior entry id (the prior entry stays
// alive, it is merely detached from the tree). Fails with ErrLockedArea
// when the key is under an open iterator; in that case nothing is modified
func (tr *MutableTrie) Insert(ldr common.Loader, key, value []byte) (EntryID, EntryID, error) {
	g := tr.currentGeneration()
	if err := g.iteratorRoots.CheckHasNoPrefix(key); err != nil {
		return NoEntry, NoEntry, err
	}
	if g.root < 0 {
		// the tree is empty, the new root carries the whole key as stem
		gen := uint32(len(tr.generations) - 1)
		id := tr.newMutableEntry(value)
		g.root = len(tr.nodes)
		tr.nodes = append(tr.nodes, mutableNode{
			generation: gen,
			value:      id,
			stem:       common.NewStem(key),
			children:   ownedChildren(gen, nil),
		})
		return id, NoEntry, nil
	}
	nodeIdx := g.root
	gen := tr.nodes[nodeIdx].generation
	var parent parentRef
	kpos := 0
	for {
		keyStart := kpos
		node := &tr.nodes[nodeIdx]
		stemBytes := node.stem.Bytes()
		res, keyStep, stemStep, stemPos := common.FollowStem(key, &kpos, stemBytes)
		switch res {
		case common.FollowEqual:
			prior := node.value
			id := tr.newMutableEntry(value)
			tr.nodes[nodeIdx].value = id
			return id, prior, nil

		case common.FollowKeyIsPrefix:
			// split the node: a new outer node takes the consumed key as
			// stem and the value; the old node becomes its only child,
			// re-keyed at the first unconsumed stem byte
			id := tr.newMutableEntry(value)
			newNodeIdx := len(tr.nodes)
			tr.nodes[nodeIdx].stem = common.NewStem(stemBytes[stemPos+1:])
			tr.nodes = append(tr.nodes, mutableNode{
				generation: gen,
				value:      id,
				stem:       common.NewStem(key[keyStart:]),
				children:   ownedChildren(gen, []keyIndexPair{{key: stemStep, index: nodeIdx}}),
			})
			tr.rewire(parent, newNodeIdx, g)
			return id, NoEntry, nil

		case common.FollowStemIsPrefix:
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return NoEntry, NoEntry, err
			}
			children := &tr.nodes[nodeIdx].children
			pos, found := children.search(keyStep)
			if found {
				parent = parentRef{ok: true, node: nodeIdx, childPos: pos}
				nodeIdx = children.pairs[pos].index
				continue
			}
			// no branch at the key step: insert a fresh leaf at the sorted
			// position
			id := tr.newMutableEntry(value)
			leafIdx := len(tr.nodes)
			pairs := children.pairs
			pairs = append(pairs, keyIndexPair{})
			copy(pairs[pos+1:], pairs[pos:])
			pairs[pos] = keyIndexPair{key: keyStep, index: leafIdx}
			tr.nodes[nodeIdx].children.pairs = pairs
			tr.nodes = append(tr.nodes, mutableNode{
				generation: gen,
				value:      id,
				stem:       common.NewStem(key[kpos:]),
				children:   ownedChildren(gen, nil),
			})
			return id, NoEntry, nil

		default: // common.FollowDiff
			// fork: a new branching node carries the common prefix and
			// exactly two children, the shortened old node and a fresh leaf
			id := tr.newMutableEntry(value)
			leafIdx := len(tr.nodes)
			forkIdx := leafIdx + 1
			tr.nodes[nodeIdx].stem = common.NewStem(stemBytes[stemPos+1:])
			tr.nodes = append(tr.nodes, mutableNode{
				generation: gen,
				value:      id,
				stem:       common.NewStem(key[kpos:]),
				children:   ownedChildren(gen, nil),
			})
			var pairs []keyIndexPair
			if keyStep < stemStep {
				pairs = []keyIndexPair{{key: keyStep, index: leafIdx}, {key: stemStep, index: nodeIdx}}
			} else {
				pairs = []keyIndexPair{{key: stemStep, index: nodeIdx}, {key: keyStep, index: leafIdx}}
			}
			tr.nodes = append(tr.nodes, mutableNode{
				generation: gen,
				value:      NoEntry,
				stem:       common.NewStem(key[keyStart : kpos-1]),
				children:   ownedChildren(gen, pairs),
			})
			tr.rewire(parent, forkIdx, g)
			return id, NoEntry, nil
		}
	}
}

// rewire points the parent's followed child, or the generation root, at a
// replacement node
func (tr *MutableTrie) rewire(parent parentRef, newIdx int, g *generation) {
	if !parent.ok {
		g.root = newIdx
		return
	}
	children := &tr.nodes[parent.node].children
	common.Assert(children.owned, "rewire: parent children must be owned")
	children.pairs[parent.childPos].index = newIdx
}

// collapse merges the node at nodeIdx, which must have the single child
// left and no value, with that child: the child's stem becomes
// node.stem || child key || child.stem and the parent (or the root) is
// rewired to the child
func (tr *MutableTrie) collapse(nodeIdx int, child keyIndexPair, parent parentRef, g *generation) {
	node := tr.nodes[nodeIdx]
	tr.invalidate(nodeIdx)
	childNode := &tr.nodes[child.index]
	childNode.stem = node.stem.Extend(child.key, childNode.stem.Bytes())
	tr.rewire(parent, child.index, g)
}

// Delete removes the value at the key, invalidating every outstanding entry
// id for it, and restores path compression. Reports whether a value
// existed. Fails with ErrLockedArea when the key is under an open iterator
func (tr *MutableTrie) Delete(ldr common.Loader, key []byte) (bool, error) {
	if len(tr.generations) == 0 {
		return false, nil
	}
	g := tr.currentGeneration()
	if g.root < 0 {
		return false, nil
	}
	if err := g.iteratorRoots.CheckHasNoPrefix(key); err != nil {
		return false, err
	}
	var father, grandfather parentRef
	nodeIdx := g.root
	kpos := 0
	for {
		node := &tr.nodes[nodeIdx]
		res, keyStep, _, _ := common.FollowStem(key, &kpos, node.stem.Bytes())
		switch res {
		case common.FollowEqual:
			if node.value == NoEntry {
				return false, nil
			}
			// tombstone the entry so that other ids pointing at it are
			// invalidated, and release the owned value slot if there is one
			existing := tr.entries[node.value]
			tr.entries[node.value] = entry{kind: entryDeleted}
			if existing.kind == entryMutable {
				tr.values[existing.idx] = nil
			}
			node.value = NoEntry
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return false, err
			}
			children := tr.nodes[nodeIdx].children.pairs
			switch {
			case len(children) == 1:
				tr.collapse(nodeIdx, children[0], father, g)
			case len(children) == 0:
				if !father.ok {
					// the node was the root
					g.root = -1
				} else {
					if err := tr.makeOwned(ldr, father.node); err != nil {
						return false, err
					}
					fatherNode := &tr.nodes[father.node]
					fatherHasValue := fatherNode.value != NoEntry
					fatherNode.children.pairs = append(
						fatherNode.children.pairs[:father.childPos],
						fatherNode.children.pairs[father.childPos+1:]...)
					tr.invalidate(nodeIdx)
					// the father had either a value or at least two children,
					// otherwise it would have been path compressed already.
					// With one child left and no value it must be collapsed
					if !fatherHasValue && len(fatherNode.children.pairs) == 1 {
						tr.collapse(father.node, fatherNode.children.pairs[0], grandfather, g)
					}
				}
			}
			return existing.isAlive(), nil
		case common.FollowStemIsPrefix:
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return false, err
			}
			children := &tr.nodes[nodeIdx].children
			pos, found := children.search(keyStep)
			if !found {
				return false, nil
			}
			grandfather = father
			father = parentRef{ok: true, node: nodeIdx, childPos: pos}
			nodeIdx = children.pairs[pos].index
		default:
			return false, nil
		}
	}
}

// DeletePrefix removes the entire subtree whose keys extend the given key.
// Every traversed node charges 1 + its stem length to the counter; when the
// counter rejects, the operation aborts with the counter's error. Returns
// ErrLockedArea when the prefix overlaps an iterator lock in either
// direction. Reports whether anything was deleted
func (tr *MutableTrie) DeletePrefix(ldr common.Loader, key []byte, counter common.TraversalCounter) (bool, error) {
	if len(tr.generations) == 0 {
		return false, nil
	}
	g := tr.currentGeneration()
	if g.root < 0 {
		return false, nil
	}
	if g.iteratorRoots.IsOrHasPrefix(key) {
		return false, common.ErrLockedArea
	}
	var parent, grandparent parentRef
	nodeIdx := g.root
	kpos := 0
	for {
		node := &tr.nodes[nodeIdx]
		res, keyStep, _, _ := common.FollowStem(key, &kpos, node.stem.Bytes())
		switch res {
		case common.FollowStemIsPrefix:
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return false, err
			}
			children := &tr.nodes[nodeIdx].children
			pos, found := children.search(keyStep)
			if !found {
				return false, nil
			}
			grandparent = parent
			parent = parentRef{ok: true, node: nodeIdx, childPos: pos}
			nodeIdx = children.pairs[pos].index
		case common.FollowDiff:
			return false, nil
		default:
			// the subtree rooted here is to be removed: invalidate every
			// live entry in it, charging the counter per visited node
			stack := []int{nodeIdx}
			for len(stack) > 0 {
				idx := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				doomed := &tr.nodes[idx]
				if err := counter.Tick(uint64(doomed.stem.Len()) + 1); err != nil {
					return false, err
				}
				if doomed.value != NoEntry {
					tr.entries[doomed.value] = entry{kind: entryDeleted}
				}
				// borrowed children hold no entries; owned children of an
				// older generation are that generation's nodes, whose entries
				// belong to the older generation's view (entries of the
				// current generation only exist on migrated nodes), so
				// neither needs a visit
				if doomed.children.owned && doomed.children.generation == doomed.generation {
					for _, p := range doomed.children.pairs {
						stack = append(stack, p.index)
					}
				}
			}
			if !parent.ok {
				g.root = -1
				return true, nil
			}
			if err := tr.makeOwned(ldr, parent.node); err != nil {
				return false, err
			}
			parentNode := &tr.nodes[parent.node]
			parentHasValue := parentNode.value != NoEntry
			parentNode.children.pairs = append(
				parentNode.children.pairs[:parent.childPos],
				parentNode.children.pairs[parent.childPos+1:]...)
			if !parentHasValue && len(parentNode.children.pairs) == 1 {
				tr.collapse(parent.node, parentNode.children.pairs[0], grandparent, g)
			}
			return true, nil
		}
	}
}

// GetMut returns the value behind the entry id for in-place modification.
// The value is copied out of the shared storage on the first call; later
// calls return the same owned slice. Returns false when the entry has been
// deleted
func (tr *MutableTrie) GetMut(ldr common.Loader, id EntryID) ([]byte, bool, error) {
	e := tr.entries[id]
	switch e.kind {
	case entryReadOnly:
		var data []byte
		if e.borrowed {
			var err error
			tr.borrowedValues[e.idx].View(func(v *immutable.Value) {
				data, err = v.Data.Get(ldr, immutable.DecodeValue)
			})
			if err != nil {
				return nil, false, err
			}
			data = append([]byte(nil), data...)
		} else {
			data = append([]byte(nil), tr.values[e.idx]...)
		}
		vidx := len(tr.values)
		tr.values = append(tr.values, data)
		tr.entries[id] = entry{kind: entryMutable, idx: vidx}
		return data, true, nil
	case entryMutable:
		return tr.values[e.idx], true, nil
	default:
		return nil, false, nil
	}
}

// SetEntry replaces the value behind the entry id, avoiding the copy GetMut
// would make. The trie takes ownership of the slice. Returns false when the
// entry has been deleted
func (tr *MutableTrie) SetEntry(id EntryID, value []byte) bool {
	e := tr.entries[id]
	switch e.kind {
	case entryReadOnly:
		vidx := len(tr.values)
		tr.values = append(tr.values, value)
		tr.entries[id] = entry{kind: entryMutable, idx: vidx}
		return true
	case entryMutable:
		tr.values[e.idx] = value
		return true
	default:
		return false
	}
}

// WithEntry applies f to the value behind the entry id without modifying
// anything. A value that is only on disk is loaded transiently. Returns
// false when the entry has been deleted
func (tr *MutableTrie) WithEntry(ldr common.Loader, id EntryID, f func(value []byte)) (bool, error) {
	e := tr.entries[id]
	switch e.kind {
	case entryReadOnly:
		if e.borrowed {
			var err error
			tr.borrowedValues[e.idx].View(func(v *immutable.Value) {
				err = v.Data.UseValue(ldr, immutable.DecodeValue, func(data *[]byte) {
					f(*data)
				})
			})
			return err == nil, err
		}
		f(tr.values[e.idx])
		return true, nil
	case entryMutable:
		f(tr.values[e.idx])
		return true, nil
	default:
		return false, nil
	}
}

// NewGeneration snapshots the arena lengths and pushes a fresh generation
// whose root is a migrated shallow copy of the current root. Mutations in
// the new generation are invisible to the previous one
func (tr *MutableTrie) NewGeneration() {
	if len(tr.generations) == 0 {
		return
	}
	cp := checkpoint{
		numNodes:    len(tr.nodes),
		numValues:   len(tr.values),
		numBorrowed: len(tr.borrowedValues),
		numEntries:  len(tr.entries),
	}
	g := tr.currentGeneration()
	if g.root < 0 {
		tr.generations = append(tr.generations, generation{
			root: -1, checkpoint: cp, iteratorRoots: NewPrefixesMap(),
		})
		return
	}
	root := &tr.nodes[g.root]
	migrated := root.migrate(&tr.entries, root.generation+1)
	newRoot := len(tr.nodes)
	tr.nodes = append(tr.nodes, migrated)
	tr.generations = append(tr.generations, generation{
		root: newRoot, checkpoint: cp, iteratorRoots: NewPrefixesMap(),
	})
}

// PopGeneration discards the newest generation, truncating the arenas to
// its checkpoint. Entry ids issued in the popped generation become invalid
// and must not be used. Reports whether a generation was popped
func (tr *MutableTrie) PopGeneration() bool {
	if len(tr.generations) == 0 {
		return false
	}
	g := tr.generations[len(tr.generations)-1]
	tr.generations = tr.generations[:len(tr.generations)-1]
	tr.truncate(g.checkpoint)
	return true
}

// Normalize makes the generation with the given index the newest one,
// discarding everything that was added after it. Does nothing when the
// index is already the newest or does not exist
func (tr *MutableTrie) Normalize(root uint32) {
	newLen := int(root) + 1
	if newLen < len(tr.generations) {
		tr.truncate(tr.generations[newLen].checkpoint)
		tr.generations = tr.generations[:newLen]
	}
}

func (tr *MutableTrie) truncate(cp checkpoint) {
	tr.nodes = tr.nodes[:cp.numNodes]
	tr.values = tr.values[:cp.numValues]
	tr.borrowedValues = tr.borrowedValues[:cp.numBorrowed]
	tr.entries = tr.entries[:cp.numEntries]
}
