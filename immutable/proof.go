package immutable

import (
	"bytes"

	"golang.org/x/xerrors"

	"github.com/iotaledger/statetrie.go/common"
)

// Proof is a proof of inclusion of a key in a frozen tree. It is the path
// of node images from the root down to the node holding the value, with
// enough of each node reproduced to recompute the root hash
type Proof struct {
	Key  []byte
	Path []ProofElement
}

// ProofElement is the image of one node on the proof path
type ProofElement struct {
	Stem      []byte
	ValueHash *common.Hash
	Children  []ProofChild
	// index into Children of the branch the path follows; -1 in the
	// terminal element
	ChildIndex int
}

// ProofChild is a child key byte with the hash of its subtree
type ProofChild struct {
	Key  byte
	Hash common.Hash
}

// ProofOfKey builds the proof of inclusion for the given key. Returns nil
// when the key is not present: this implementation does not produce proofs
// of absence
func ProofOfKey(ldr common.Loader, rt *RootNode, key []byte) (*Proof, error) {
	ret := &Proof{Key: key}
	cur := rt.Node
	kpos := 0
	for {
		elem, err := proofElement(ldr, cur)
		if err != nil {
			return nil, err
		}
		res, keyStep, _, _ := common.FollowStem(key, &kpos, cur.Stem().Bytes())
		switch res {
		case common.FollowEqual:
			if elem.ValueHash == nil {
				return nil, nil
			}
			elem.ChildIndex = -1
			ret.Path = append(ret.Path, elem)
			return ret, nil
		case common.FollowStemIsPrefix:
			child, found := findChild(cur.children, keyStep)
			if !found {
				return nil, nil
			}
			for i := range elem.Children {
				if elem.Children[i].Key == keyStep {
					elem.ChildIndex = i
				}
			}
			ret.Path = append(ret.Path, elem)
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

func proofElement(ldr common.Loader, n *Node) (ProofElement, error) {
	elem := ProofElement{Stem: n.stem.Bytes()}
	if h, ok := n.ValueHash(); ok {
		elem.ValueHash = &h
	}
	for i := range n.children {
		h, err := childHash(ldr, n.children[i].link)
		if err != nil {
			return ProofElement{}, err
		}
		elem.Children = append(elem.Children, ProofChild{Key: n.children[i].key, Hash: h})
	}
	return elem, nil
}

// ValueHash is the hash of the proven value
func (p *Proof) ValueHash() common.Hash {
	last := p.Path[len(p.Path)-1]
	common.Assert(last.ValueHash != nil, "proof terminal must carry a value hash")
	return *last.ValueHash
}

// Validate recomputes the proof path bottom-up and checks it against the
// given root hash and the proof's key
func (p *Proof) Validate(root common.Hash) error {
	if len(p.Path) == 0 {
		return xerrors.New("empty proof")
	}
	last := p.Path[len(p.Path)-1]
	if last.ChildIndex != -1 || last.ValueHash == nil {
		return xerrors.New("malformed proof terminal")
	}
	// check that the stems and the followed child keys spell out the key
	var key []byte
	for i, elem := range p.Path {
		key = append(key, elem.Stem...)
		if i < len(p.Path)-1 {
			ci := elem.ChildIndex
			if ci < 0 || ci >= len(elem.Children) {
				return xerrors.New("proof element child index out of range")
			}
			key = append(key, elem.Children[ci].Key)
		}
	}
	if !bytes.Equal(key, p.Key) {
		return xerrors.New("proof path does not spell out the key")
	}
	// recompute hashes bottom-up
	below := hashProofElement(last)
	for i := len(p.Path) - 2; i >= 0; i-- {
		elem := p.Path[i]
		if !elem.Children[elem.ChildIndex].Hash.Equal(below) {
			return xerrors.New("proof hash chain is broken")
		}
		below = hashProofElement(elem)
	}
	if !below.Equal(root) {
		return xerrors.New("proof does not match the root hash")
	}
	return nil
}

func hashProofElement(elem ProofElement) common.Hash {
	children := make([]hashedChild, len(elem.Children))
	for i, c := range elem.Children {
		children[i] = hashedChild{key: c.Key, hash: c.Hash}
	}
	return hashNodeParts(elem.ValueHash, elem.Stem, children)
}
