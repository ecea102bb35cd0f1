package common

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashSize is the size of all hashes in the trie. The trie commits to nodes
// and values with SHA-256.
const HashSize = sha256.Size

// Hash is a SHA-256 digest of a node or of a value blob
type Hash [HashSize]byte

// HashData hashes an arbitrary blob of data
func HashData(data []byte) Hash {
	return sha256.Sum256(data)
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Equal(h1 Hash) bool {
	return h == h1
}

func (h Hash) Write(w io.Writer) error {
	_, err := w.Write(h[:])
	return err
}

func (h *Hash) Read(r io.Reader) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

// HashFromBytes interprets data as a hash. Returns ErrWrongHashSize if the
// length is wrong
func HashFromBytes(data []byte) (Hash, error) {
	var ret Hash
	if len(data) != HashSize {
		return ret, ErrWrongHashSize
	}
	copy(ret[:], data)
	return ret, nil
}

// Hashed pairs a value with its pre-computed hash so that the hash does not
// have to be re-computed when the value is part of a bigger structure
type Hashed[T any] struct {
	Hash Hash
	Data T
}

func NewHashed[T any](hash Hash, data T) Hashed[T] {
	return Hashed[T]{Hash: hash, Data: data}
}
