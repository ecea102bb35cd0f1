package immutable

import (
	"bytes"
	"io"

	"github.com/iotaledger/statetrie.go/common"
)

// StoreUpdate persists every part of the tree that is not yet in the
// backing store and returns the standalone root record (hash followed by
// the node body with all child references resolved). Nodes that already
// have a reference are not touched; freshly stored nodes and values are
// promoted to the cached state. The root itself is written to the returned
// record only, it is not stored as a separate blob
func (rt *RootNode) StoreUpdate(st common.Storer) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(rt.Hash[:])
	if err := rt.Node.storeUpdate(st, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// storeUpdate traverses the tree with an explicit work stack, children
// before parents, so arbitrarily deep trees do not grow the call stack.
// Completed subtrees leave their reference on refStack; a parent consumes
// the references of its children when its own record is written
func (n *Node) storeUpdate(st common.Storer, w io.Writer) error {
	type frame struct {
		link         *ChildLink
		childrenDone bool
	}
	stack := make([]frame, 0, len(n.children))
	for i := len(n.children) - 1; i >= 0; i-- {
		stack = append(stack, frame{link: n.children[i].link})
	}
	refStack := make([]common.Reference, 0)
	var tmp bytes.Buffer
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var err error
		f.link.Update(func(r *NodeRef) {
			if ref, stored := r.StoredRef(); stored {
				refStack = append(refStack, ref)
				return
			}
			hn, _ := r.InMemory()
			if !f.childrenDone {
				stack = append(stack, frame{link: f.link, childrenDone: true})
				children := hn.Data.children
				for i := len(children) - 1; i >= 0; i-- {
					stack = append(stack, frame{link: children[i].link})
				}
				return
			}
			tmp.Reset()
			tmp.Write(hn.Hash[:])
			if err = writeNodeBody(&tmp, hn.Data, st, &refStack); err != nil {
				return
			}
			var ref common.Reference
			if ref, err = st.StoreRaw(tmp.Bytes()); err != nil {
				return
			}
			refStack = append(refStack, ref)
			r.CacheWith(ref)
		})
		if err != nil {
			return err
		}
	}
	tmp.Reset()
	if err := writeNodeBody(&tmp, n, st, &refStack); err != nil {
		return err
	}
	common.Assert(len(refStack) == 0, "storeUpdate: %d dangling child references", len(refStack))
	_, err := w.Write(tmp.Bytes())
	return err
}

// writeNodeBody encodes the node body, storing the value if it is not yet
// persisted. The child references are taken from the tail of refStack in
// child order and consumed
func writeNodeBody(w io.Writer, n *Node, st common.Storer, refStack *[]common.Reference) error {
	if err := writeStemAndValueTag(w, n.stem.Bytes(), n.value != nil); err != nil {
		return err
	}
	if _, err := w.Write(n.stem.Bytes()); err != nil {
		return err
	}
	if n.value != nil {
		var err error
		n.value.Update(func(v *Value) {
			if _, err = w.Write(v.Hash[:]); err != nil {
				return
			}
			err = v.Data.StoreAndCache(st, EncodeValue, w)
		})
		if err != nil {
			return err
		}
	}
	if err := common.WriteUint16(w, uint16(len(n.children))); err != nil {
		return err
	}
	common.Assert(len(*refStack) >= len(n.children), "writeNodeBody: missing child references")
	first := len(*refStack) - len(n.children)
	refs := (*refStack)[first:]
	for i := range n.children {
		if err := common.WriteByte(w, n.children[i].key); err != nil {
			return err
		}
		if err := refs[i].Write(w); err != nil {
			return err
		}
	}
	*refStack = (*refStack)[:first]
	return nil
}
