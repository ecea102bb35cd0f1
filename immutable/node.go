// Package immutable implements the frozen form of the state trie: an
// immutable, reference-shared radix tree with SHA-256 node hashes, lazily
// loaded from a backing blob store.
package immutable

import (
	"crypto/sha256"

	"github.com/iotaledger/statetrie.go/common"
)

type (
	// Value is a hashed, possibly persisted value blob
	Value = common.Hashed[common.CachedRef[[]byte]]
	// ValueLink shares a value between nodes of different snapshots
	ValueLink = common.Link[Value]
	// HashedNode pairs a frozen node with its hash
	HashedNode = common.Hashed[*Node]
	// NodeRef is a possibly cached reference to a hashed node
	NodeRef = common.CachedRef[HashedNode]
	// ChildLink shares a subtree between trees
	ChildLink = common.Link[NodeRef]
)

// Node is a frozen trie node. Cloning is cheap: values and subtrees are
// shared through links. Invariants: children are sorted strictly ascending
// by key byte, and every non-root node has a value, at least two children,
// or both
type Node struct {
	value    *ValueLink // nil when the node carries no value
	stem     common.Stem
	children []Child
}

// Child is one branch of a node, labelled by a single key byte
type Child struct {
	key  byte
	link *ChildLink
}

func NewChild(key byte, link *ChildLink) Child {
	return Child{key: key, link: link}
}

func (c Child) Key() byte {
	return c.key
}

func (c Child) Link() *ChildLink {
	return c.link
}

func NewNode(value *ValueLink, stem common.Stem, children []Child) *Node {
	return &Node{value: value, stem: stem, children: children}
}

// NewMemoryValue wraps fresh value bytes together with their hash
func NewMemoryValue(hash common.Hash, data []byte) *ValueLink {
	return common.NewLink(common.NewHashed(hash, common.NewMemoryRef(data)))
}

func (n *Node) Value() *ValueLink {
	return n.value
}

func (n *Node) Stem() *common.Stem {
	return &n.stem
}

func (n *Node) Children() []Child {
	return n.children
}

// ValueHash returns the hash of the node's value, if there is one
func (n *Node) ValueHash() (ret common.Hash, ok bool) {
	if n.value == nil {
		return
	}
	n.value.View(func(v *Value) {
		ret = v.Hash
	})
	return ret, true
}

// RootNode is the hashed root of a frozen tree. The root hash commits to
// the entire tree
type RootNode struct {
	Hash common.Hash
	Node *Node
}

// hashedChild is a child key byte paired with the hash of its subtree
type hashedChild struct {
	key  byte
	hash common.Hash
}

// hashNodeParts is the canonical node hash:
//
//	H = SHA256(valueTag || valueHash? || stem ||
//	           SHA256(childCount_be16 || (childKey || childHash)...))
//
// This must stay byte-for-byte stable: it defines the root commitment
func hashNodeParts(valueHash *common.Hash, stem []byte, children []hashedChild) common.Hash {
	hasher := sha256.New()
	if valueHash != nil {
		hasher.Write([]byte{1})
		hasher.Write(valueHash[:])
	} else {
		hasher.Write([]byte{0})
	}
	hasher.Write(stem)
	childHasher := sha256.New()
	count := [2]byte{byte(len(children) >> 8), byte(len(children))}
	childHasher.Write(count[:])
	for i := range children {
		childHasher.Write([]byte{children[i].key})
		childHasher.Write(children[i].hash[:])
	}
	hasher.Write(childHasher.Sum(nil))
	var ret common.Hash
	copy(ret[:], hasher.Sum(nil))
	return ret
}

// ComputeHash computes the canonical hash of the node. Children that are
// only on disk are loaded transiently to obtain their stored hash
func (n *Node) ComputeHash(ldr common.Loader) (common.Hash, error) {
	var valueHash *common.Hash
	if n.value != nil {
		n.value.View(func(v *Value) {
			h := v.Hash
			valueHash = &h
		})
	}
	children := make([]hashedChild, len(n.children))
	for i := range n.children {
		h, err := childHash(ldr, n.children[i].link)
		if err != nil {
			return common.Hash{}, err
		}
		children[i] = hashedChild{key: n.children[i].key, hash: h}
	}
	return hashNodeParts(valueHash, n.stem.Bytes(), children), nil
}

// childHash is the pre-stored hash of the subtree behind the link
func childHash(ldr common.Loader, link *ChildLink) (common.Hash, error) {
	var hash common.Hash
	var err error
	link.View(func(r *NodeRef) {
		err = r.UseValue(ldr, DecodeNodeRecord, func(hn *HashedNode) {
			hash = hn.Hash
		})
	})
	return hash, err
}

// Lookup walks the frozen tree by key, loading children on demand, and
// returns the value link at the key, or nil when the key is not present
func (n *Node) Lookup(ldr common.Loader, key []byte) (*ValueLink, error) {
	cur := n
	kpos := 0
	for {
		res, keyStep, _, _ := common.FollowStem(key, &kpos, cur.stem.Bytes())
		switch res {
		case common.FollowEqual:
			return cur.value, nil
		case common.FollowStemIsPrefix:
			child, found := findChild(cur.children, keyStep)
			if !found {
				return nil, nil
			}
			next, err := NodeFromLink(ldr, child.link)
			if err != nil {
				return nil, err
			}
			cur = next
		default:
			return nil, nil
		}
	}
}

// findChild binary-searches the sorted child list
func findChild(children []Child, key byte) (Child, bool) {
	lo, hi := 0, len(children)
	for lo < hi {
		mid := (lo + hi) / 2
		if children[mid].key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(children) && children[lo].key == key {
		return children[lo], true
	}
	return Child{}, false
}

// IsStored reports whether the node's value and direct children all have a
// reference in the backing store
func (n *Node) IsStored() bool {
	stored := true
	if n.value != nil {
		n.value.View(func(v *Value) {
			if _, onlyMem := v.Data.MemoryOnly(); onlyMem {
				stored = false
			}
		})
	}
	for i := range n.children {
		n.children[i].link.View(func(r *NodeRef) {
			if _, onlyMem := r.MemoryOnly(); onlyMem {
				stored = false
			}
		})
	}
	return stored
}

// IsCached reports whether the entire tree is available in memory. Walks
// recursively, so it should only be used on small trees
func (n *Node) IsCached() bool {
	cached := true
	if n.value != nil {
		n.value.View(func(v *Value) {
			if _, ok := v.Data.InMemory(); !ok {
				cached = false
			}
		})
	}
	if !cached {
		return false
	}
	for i := range n.children {
		n.children[i].link.View(func(r *NodeRef) {
			hn, ok := r.InMemory()
			if !ok || !hn.Data.IsCached() {
				cached = false
			}
		})
		if !cached {
			return false
		}
	}
	return true
}
