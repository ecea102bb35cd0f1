package mutable

import (
	"github.com/iotaledger/statetrie.go/common"
)

// Iterator walks the subtree under a fixed key prefix in depth-first
// preorder. While an iterator is open, the prefix it was created with is
// locked: structural writes under it fail with ErrLockedArea
type Iterator struct {
	// the prefix the iterator was created with, kept for unlocking
	root []byte
	// index of the node the iterator is anchored at
	currentNode int
	// key of the current position
	key []byte
	// next child to visit in the current node; -1 means the value of the
	// current node has not been yielded yet
	nextChild int
	// parents of the current node with their next child position and the
	// key length to truncate to on the way back up
	stack []iterFrame
}

type iterFrame struct {
	node      int
	nextChild int
	keyLen    int
}

// Key returns the key the iterator currently points at. The slice is only
// valid until the next call to Next
func (it *Iterator) Key() []byte {
	return it.key
}

// Root returns the prefix the iterator was created with
func (it *Iterator) Root() []byte {
	return it.root
}

// Iter locates the subtree whose keys start with the given prefix and
// returns an iterator over it, locking the prefix. Returns nil when no key
// starts with the prefix, and ErrTooManyIterators when the lock count of
// the prefix would overflow
func (tr *MutableTrie) Iter(ldr common.Loader, key []byte) (*Iterator, error) {
	if len(tr.generations) == 0 {
		return nil, nil
	}
	g := tr.currentGeneration()
	if g.root < 0 {
		return nil, nil
	}
	nodeIdx := g.root
	kpos := 0
	for {
		node := &tr.nodes[nodeIdx]
		stemBytes := node.stem.Bytes()
		res, keyStep, stemStep, stemPos := common.FollowStem(key, &kpos, stemBytes)
		switch res {
		case common.FollowEqual:
			if err := g.iteratorRoots.Insert(key); err != nil {
				return nil, err
			}
			return &Iterator{
				root:        append([]byte(nil), key...),
				currentNode: nodeIdx,
				key:         append([]byte(nil), key...),
				nextChild:   -1,
			}, nil
		case common.FollowKeyIsPrefix:
			// the subtree starts in the middle of this node's stem: the
			// current key is the prefix extended by the rest of the stem
			if err := g.iteratorRoots.Insert(key); err != nil {
				return nil, err
			}
			iterKey := make([]byte, 0, len(key)+1+len(stemBytes)-stemPos-1)
			iterKey = append(iterKey, key...)
			iterKey = append(iterKey, stemStep)
			iterKey = append(iterKey, stemBytes[stemPos+1:]...)
			return &Iterator{
				root:        append([]byte(nil), key...),
				currentNode: nodeIdx,
				key:         iterKey,
				nextChild:   -1,
			}, nil
		case common.FollowStemIsPrefix:
			if err := tr.makeOwned(ldr, nodeIdx); err != nil {
				return nil, err
			}
			children := &tr.nodes[nodeIdx].children
			pos, found := children.search(keyStep)
			if !found {
				return nil, nil
			}
			nodeIdx = children.pairs[pos].index
		default:
			return nil, nil
		}
	}
}

// Next advances the iterator and returns the next entry id in key order.
// Every descend charges 1 + the child's stem length, every ascend the
// truncated key length, to the counter. Returns false when the subtree is
// exhausted
func (tr *MutableTrie) Next(ldr common.Loader, it *Iterator, counter common.TraversalCounter) (EntryID, bool, error) {
	for {
		node := &tr.nodes[it.currentNode]
		if it.nextChild < 0 {
			it.nextChild = 0
			if node.value != NoEntry {
				return node.value, true, nil
			}
		}
		if it.nextChild < node.children.len() {
			it.stack = append(it.stack, iterFrame{
				node:      it.currentNode,
				nextChild: it.nextChild + 1,
				keyLen:    len(it.key),
			})
			visit := it.nextChild
			it.nextChild = -1
			if err := tr.makeOwned(ldr, it.currentNode); err != nil {
				return NoEntry, false, err
			}
			child := tr.nodes[it.currentNode].children.pairs[visit]
			it.currentNode = child.index
			stem := tr.nodes[child.index].stem.Bytes()
			if err := counter.Tick(1 + uint64(len(stem))); err != nil {
				return NoEntry, false, err
			}
			it.key = append(it.key, child.key)
			it.key = append(it.key, stem...)
		} else {
			if len(it.stack) == 0 {
				return NoEntry, false, nil
			}
			f := it.stack[len(it.stack)-1]
			it.stack = it.stack[:len(it.stack)-1]
			if err := counter.Tick(uint64(len(it.key) - f.keyLen)); err != nil {
				return NoEntry, false, err
			}
			it.key = it.key[:f.keyLen]
			it.currentNode = f.node
			it.nextChild = f.nextChild
		}
	}
}

// DeleteIter closes the iterator, releasing its prefix lock. Reports
// whether the lock was held
func (tr *MutableTrie) DeleteIter(it *Iterator) bool {
	if len(tr.generations) == 0 {
		return false
	}
	return tr.currentGeneration().iteratorRoots.Delete(it.root)
}
