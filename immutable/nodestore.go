package immutable

import (
	"bytes"
	"io"

	"github.com/iotaledger/statetrie.go/common"
)

// Persistent node record layout:
//
//	hash: 32 bytes (only when stored as a standalone record)
//	tag: 1 byte
//	  bit 7 = 1 iff the stem length does not fit into the low 6 bits
//	  bit 6 = 1 iff the node carries a value
//	  bits 5..0 = stem length, when bit 7 = 0
//	[stem length u32]  (only when bit 7 = 1)
//	stem bytes
//	[value hash 32 bytes, value reference]  (only when bit 6 = 1)
//	child count: u16
//	per child: key byte, child reference
//
// All multi-byte integers are big-endian.
const (
	tagLongStem = byte(0b1000_0000)
	tagHasValue = byte(0b0100_0000)

	// longest stem length encodable in the tag byte itself
	maxInlineStemLen = 63
)

func writeStemAndValueTag(w io.Writer, stem []byte, hasValue bool) error {
	var valueMask byte
	if hasValue {
		valueMask = tagHasValue
	}
	if len(stem) <= maxInlineStemLen {
		return common.WriteByte(w, byte(len(stem))|valueMask)
	}
	if err := common.WriteByte(w, tagLongStem|valueMask); err != nil {
		return err
	}
	return common.WriteUint32(w, uint32(len(stem)))
}

func readStemAndValueTag(r io.Reader) (common.Stem, bool, error) {
	tag, err := common.ReadByte(r)
	if err != nil {
		return common.Stem{}, false, err
	}
	var stemLen uint32
	if tag&tagLongStem == 0 {
		stemLen = uint32(tag & maxInlineStemLen)
	} else {
		if stemLen, err = common.ReadUint32(r); err != nil {
			return common.Stem{}, false, err
		}
	}
	stem := make([]byte, stemLen)
	if _, err = io.ReadFull(r, stem); err != nil {
		return common.Stem{}, false, err
	}
	return common.NewStem(stem), tag&tagHasValue != 0, nil
}

// DecodeValue is the record decoder for raw value blobs: the record is the
// value itself
func DecodeValue(data []byte) ([]byte, error) {
	return data, nil
}

// EncodeValue is the record encoder for raw value blobs
func EncodeValue(v *[]byte) []byte {
	return *v
}

// DecodeNodeRecord decodes a standalone node record (hash followed by the
// node body). Children and the value come out as disk references
func DecodeNodeRecord(data []byte) (HashedNode, error) {
	rdr := bytes.NewReader(data)
	var hash common.Hash
	if err := hash.Read(rdr); err != nil {
		return HashedNode{}, common.ErrDecode
	}
	node, err := readNodeBody(rdr)
	if err != nil {
		return HashedNode{}, err
	}
	if rdr.Len() != 0 {
		return HashedNode{}, common.ErrNotAllBytesConsumed
	}
	return common.NewHashed(hash, node), nil
}

func readNodeBody(rdr *bytes.Reader) (*Node, error) {
	stem, hasValue, err := readStemAndValueTag(rdr)
	if err != nil {
		return nil, common.ErrDecode
	}
	var value *ValueLink
	if hasValue {
		var valueHash common.Hash
		if err = valueHash.Read(rdr); err != nil {
			return nil, common.ErrDecode
		}
		ref, err := common.ReadReference(rdr)
		if err != nil {
			return nil, common.ErrDecode
		}
		value = common.NewLink(common.NewHashed(valueHash, common.NewDiskRef[[]byte](ref)))
	}
	numChildren, err := common.ReadUint16(rdr)
	if err != nil {
		return nil, common.ErrDecode
	}
	children := make([]Child, 0, numChildren)
	prevKey := -1
	for i := 0; i < int(numChildren); i++ {
		key, err := common.ReadByte(rdr)
		if err != nil {
			return nil, common.ErrDecode
		}
		if int(key) <= prevKey {
			// child keys must be unique and strictly ascending
			return nil, common.ErrDecode
		}
		prevKey = int(key)
		ref, err := common.ReadReference(rdr)
		if err != nil {
			return nil, common.ErrDecode
		}
		children = append(children, Child{
			key:  key,
			link: common.NewLink(common.NewDiskRef[HashedNode](ref)),
		})
	}
	return &Node{value: value, stem: stem, children: children}, nil
}

// ValueBytes reads the value behind a value link, loading it from the
// backing store if necessary. The load is transient
func ValueBytes(ldr common.Loader, vl *ValueLink) ([]byte, error) {
	var data []byte
	var err error
	vl.View(func(v *Value) {
		data, err = v.Data.Get(ldr, DecodeValue)
	})
	return data, err
}

// RootFromRecord reconstructs the root of a stored tree from its root
// record, the byte string StoreUpdate returned. The leading 32 bytes of the
// record are the root hash
func RootFromRecord(data []byte) (*RootNode, error) {
	hn, err := DecodeNodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &RootNode{Hash: hn.Hash, Node: hn.Data}, nil
}

// LoadNode loads and decodes a standalone node record
func LoadNode(ldr common.Loader, ref common.Reference) (HashedNode, error) {
	data, err := ldr.LoadRaw(ref)
	if err != nil {
		return HashedNode{}, err
	}
	return DecodeNodeRecord(data)
}

// NodeFromLink returns the frozen node behind a child link, loading it if
// necessary. The load is transient: it does not change the cache state
func NodeFromLink(ldr common.Loader, link *ChildLink) (*Node, error) {
	var node *Node
	var err error
	link.View(func(r *NodeRef) {
		err = r.UseValue(ldr, DecodeNodeRecord, func(hn *HashedNode) {
			node = hn.Data
		})
	})
	return node, err
}

// Cache walks the whole tree iteratively and promotes every node and value
// from disk-only to cached, so subsequent operations need no I/O
func (n *Node) Cache(ldr common.Loader) error {
	if n.value != nil {
		if err := cacheValue(ldr, n.value); err != nil {
			return err
		}
	}
	stack := make([]*ChildLink, 0, len(n.children))
	for i := range n.children {
		stack = append(stack, n.children[i].link)
	}
	for len(stack) > 0 {
		link := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var err error
		link.Update(func(r *NodeRef) {
			var hn *HashedNode
			if hn, err = r.LoadAndCache(ldr, DecodeNodeRecord); err != nil {
				return
			}
			node := hn.Data
			if node.value != nil {
				if err = cacheValue(ldr, node.value); err != nil {
					return
				}
			}
			for i := range node.children {
				stack = append(stack, node.children[i].link)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func cacheValue(ldr common.Loader, vl *ValueLink) error {
	var err error
	vl.Update(func(v *Value) {
		_, err = v.Data.LoadAndCache(ldr, DecodeValue)
	})
	return err
}
