package immutable

import (
	"io"

	"github.com/iotaledger/statetrie.go/common"
)

// Serialize writes the entire tree, including all values, into a single
// stream. In contrast to StoreUpdate this touches every node, loading the
// parts that are only on disk, and emits no references: the output is
// self-contained and is used to migrate a tree between backing stores.
//
// The layout is breadth-first. Each record holds the backward offset to its
// parent record, the node hash, the stem with the value tag, the value
// (hash, length, bytes) when present, the child count and the child key
// bytes. Children attach to parents by arrival order during deserialization
func (rt *RootNode) Serialize(ldr common.Loader, w io.Writer) error {
	type queued struct {
		node   HashedNode
		parent uint32
	}
	queue := []queued{{node: common.NewHashed(rt.Hash, rt.Node), parent: 0}}
	counter := uint32(0)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if err := common.WriteUint32(w, counter-item.parent); err != nil {
			return err
		}
		if err := item.node.Hash.Write(w); err != nil {
			return err
		}
		node := item.node.Data
		if err := writeStemAndValueTag(w, node.stem.Bytes(), node.value != nil); err != nil {
			return err
		}
		if _, err := w.Write(node.stem.Bytes()); err != nil {
			return err
		}
		if node.value != nil {
			var err error
			node.value.View(func(v *Value) {
				if err = v.Hash.Write(w); err != nil {
					return
				}
				var data []byte
				if data, err = v.Data.Get(ldr, DecodeValue); err != nil {
					return
				}
				err = common.WriteBytes32(w, data)
			})
			if err != nil {
				return err
			}
		}
		if err := common.WriteUint16(w, uint16(len(node.children))); err != nil {
			return err
		}
		parentIdx := counter
		for i := range node.children {
			if err := common.WriteByte(w, node.children[i].key); err != nil {
				return err
			}
			var err error
			node.children[i].link.View(func(r *NodeRef) {
				var hn HashedNode
				if hn, err = r.Get(ldr, DecodeNodeRecord); err != nil {
					return
				}
				queue = append(queue, queued{node: hn, parent: parentIdx})
			})
			if err != nil {
				return err
			}
		}
		counter++
	}
	return nil
}

// Deserialize reads a tree produced by Serialize. The resulting tree is
// fully in memory and not yet stored anywhere
func Deserialize(r io.Reader) (*RootNode, error) {
	var links []*ChildLink
	// key bytes of records still to read, in arrival order. The first
	// element is a placeholder for the root
	todo := []byte{0}
	for len(todo) > 0 {
		key := todo[0]
		todo = todo[1:]
		backOff, err := common.ReadUint32(r)
		if err != nil {
			return nil, common.ErrDecode
		}
		var hash common.Hash
		if err = hash.Read(r); err != nil {
			return nil, common.ErrDecode
		}
		stem, hasValue, err := readStemAndValueTag(r)
		if err != nil {
			return nil, common.ErrDecode
		}
		var value *ValueLink
		if hasValue {
			var valueHash common.Hash
			if err = valueHash.Read(r); err != nil {
				return nil, common.ErrDecode
			}
			data, err := common.ReadBytes32(r)
			if err != nil {
				return nil, common.ErrDecode
			}
			value = NewMemoryValue(valueHash, data)
		}
		numChildren, err := common.ReadUint16(r)
		if err != nil {
			return nil, common.ErrDecode
		}
		node := &Node{value: value, stem: stem}
		link := common.NewLink(common.NewMemoryRef(common.NewHashed(hash, node)))
		if backOff > 0 {
			if int(backOff) > len(links) {
				return nil, common.ErrDecode
			}
			parent := links[len(links)-int(backOff)]
			parent.Update(func(pr *NodeRef) {
				hn, _ := pr.InMemory()
				hn.Data.children = append(hn.Data.children, Child{key: key, link: link})
			})
		}
		for i := 0; i < int(numChildren); i++ {
			childKey, err := common.ReadByte(r)
			if err != nil {
				return nil, common.ErrDecode
			}
			todo = append(todo, childKey)
		}
		links = append(links, link)
	}
	if len(links) == 0 {
		return nil, common.ErrDecode
	}
	var root *RootNode
	links[0].View(func(r *NodeRef) {
		hn, _ := r.InMemory()
		root = &RootNode{Hash: hn.Hash, Node: hn.Data}
	})
	return root, nil
}
