// Package mutable implements the working copy of the state trie: an
// arena-based, generation-checkpointed tree thawed from a frozen root.
// Mutations are copy-on-write against both the frozen tree and older
// generations, so rollback is a truncation of the arenas
package mutable

import (
	"github.com/iotaledger/statetrie.go/common"
	"github.com/iotaledger/statetrie.go/immutable"
)

// EntryID is a stable caller-visible handle to a value position in the
// trie. Deleting the key invalidates all outstanding handles to it
type EntryID int

// NoEntry is the absent EntryID
const NoEntry = EntryID(-1)

type entryKind byte

const (
	// the entry points at a value that may be shared with the frozen tree
	// or an older generation and must not be modified in place
	entryReadOnly = entryKind(iota)
	// the entry owns its value slot in the current generation
	entryMutable
	// tombstone; invalidates every EntryID referring to this slot
	entryDeleted
)

// entry is one slot of the indirection table between entry ids and values
type entry struct {
	kind entryKind
	// read-only entries with borrowed set point into borrowedValues,
	// all others point into values
	borrowed bool
	idx      int
}

func (e entry) isAlive() bool {
	return e.kind != entryDeleted
}

// keyIndexPair is an owned child: a key byte and the index of the child
// node in the node arena
type keyIndexPair struct {
	key   byte
	index int
}

// childrenCow is the copy-on-write child list of a mutable node. A borrowed
// list is inherited from the frozen tree untouched; it is converted to an
// owned list of arena indices on the first mutation below the node. An
// owned list of an older generation is treated as read-only as well
type childrenCow struct {
	owned bool
	// generation of the owned list
	generation uint32
	// exactly one of the two is in use
	borrowed []immutable.Child
	pairs    []keyIndexPair
}

func borrowedChildren(children []immutable.Child) childrenCow {
	return childrenCow{borrowed: children}
}

func ownedChildren(generation uint32, pairs []keyIndexPair) childrenCow {
	return childrenCow{owned: true, generation: generation, pairs: pairs}
}

func (c *childrenCow) len() int {
	if c.owned {
		return len(c.pairs)
	}
	return len(c.borrowed)
}

// search finds the owned child with the given key byte
func (c *childrenCow) search(key byte) (int, bool) {
	common.Assert(c.owned, "search on borrowed children")
	lo, hi := 0, len(c.pairs)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.pairs[mid].key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(c.pairs) && c.pairs[lo].key == key {
		return lo, true
	}
	return lo, false
}

// mutableNode is a node of the working copy, held in the node arena
type mutableNode struct {
	generation uint32
	// pointer into the entry table, NoEntry when the node has no value
	value    EntryID
	stem     common.Stem
	children childrenCow
}

// migrate produces a shallow copy of the node for a newer generation. A
// mutable entry is duplicated as a read-only view of the same value slot,
// so the older generation keeps its data when the new one mutates
func (n *mutableNode) migrate(entries *[]entry, generation uint32) mutableNode {
	value := NoEntry
	if n.value != NoEntry {
		e := (*entries)[n.value]
		if e.kind == entryMutable {
			e = entry{kind: entryReadOnly, borrowed: false, idx: e.idx}
		}
		value = EntryID(len(*entries))
		*entries = append(*entries, e)
	}
	return mutableNode{
		generation: generation,
		value:      value,
		stem:       n.stem,
		children:   n.children,
	}
}
