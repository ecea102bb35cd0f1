// Package hive_adaptor implements the trie backing store on top of the
// key/value interfaces of the `hive.go` repository.
package hive_adaptor

import (
	"bytes"
	"errors"
	"sync"

	"github.com/iotaledger/hive.go/core/kvstore"

	"github.com/iotaledger/statetrie.go/common"
)

// sub-prefixes of a blob store partition
const (
	// reference -> record
	partitionRecords = byte(0x00)
	// blake2b-160 content digest -> reference
	partitionIndex = byte(0x01)
	// the persisted reference sequence counter
	partitionMeta = byte(0x02)
)

// BlobStore maps a partition of a hive KVStore to the trie backing store.
// References are issued from a persisted sequence counter. A blake2b-160
// content index makes StoreRaw idempotent per byte sequence: storing the
// same blob again returns the previously issued reference
type BlobStore struct {
	kvs    kvstore.KVStore
	prefix []byte

	mu   sync.Mutex
	next uint64
}

// NewBlobStore creates a blob store over the partition of the hive KVStore
// selected by prefix, resuming the reference sequence where a previous
// instance left off
func NewBlobStore(kvs kvstore.KVStore, prefix []byte) (*BlobStore, error) {
	ret := &BlobStore{kvs: kvs, prefix: prefix}
	seq, err := kvs.Get(ret.metaKey())
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return ret, nil
	}
	if err != nil {
		return nil, err
	}
	rdr := bytes.NewReader(seq)
	if ret.next, err = common.ReadUint64(rdr); err != nil {
		return nil, common.ErrDecode
	}
	return ret, nil
}

func (s *BlobStore) recordKey(ref common.Reference) []byte {
	return common.Concat(s.prefix, partitionRecords, refBytes(ref))
}

func (s *BlobStore) indexKey(digest [20]byte) []byte {
	return common.Concat(s.prefix, partitionIndex, digest[:])
}

func (s *BlobStore) metaKey() []byte {
	return common.Concat(s.prefix, partitionMeta)
}

func refBytes(ref common.Reference) []byte {
	var buf bytes.Buffer
	common.AssertNoError(ref.Write(&buf))
	return buf.Bytes()
}

func seqBytes(next uint64) []byte {
	var buf bytes.Buffer
	common.AssertNoError(common.WriteUint64(&buf, next))
	return buf.Bytes()
}

func (s *BlobStore) LoadRaw(ref common.Reference) ([]byte, error) {
	data, err := s.kvs.Get(s.recordKey(ref))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, common.ErrNotFound
	}
	return data, err
}

func (s *BlobStore) StoreRaw(data []byte) (common.Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest := common.Blake2b160(data)
	existing, err := s.kvs.Get(s.indexKey(digest))
	if err == nil {
		return decodeRef(existing)
	}
	if !errors.Is(err, kvstore.ErrKeyNotFound) {
		return 0, err
	}
	ref := common.Reference(s.next)
	if err = s.kvs.Set(s.recordKey(ref), data); err != nil {
		return 0, err
	}
	if err = s.kvs.Set(s.indexKey(digest), refBytes(ref)); err != nil {
		return 0, err
	}
	s.next++
	if err = s.kvs.Set(s.metaKey(), seqBytes(s.next)); err != nil {
		return 0, err
	}
	return ref, nil
}

func decodeRef(data []byte) (common.Reference, error) {
	rdr := bytes.NewReader(data)
	ref, err := common.ReadReference(rdr)
	if err != nil || rdr.Len() != 0 {
		return 0, common.ErrDecode
	}
	return ref, nil
}

// Flush flushes the underlying KVStore
func (s *BlobStore) Flush() error {
	return s.kvs.Flush()
}

// BatchedBlobStore buffers stores in a hive batch and keeps the pending
// records readable until Commit flushes them as one atomic update.
// Dramatically improves the speed of store-update bursts
type BatchedBlobStore struct {
	store   *BlobStore
	batch   kvstore.BatchedMutations
	pending map[common.Reference][]byte
	index   map[[20]byte]common.Reference
}

// Batched starts a batch of stores on top of the blob store
func (s *BlobStore) Batched() (*BatchedBlobStore, error) {
	batch, err := s.kvs.Batched()
	if err != nil {
		return nil, err
	}
	return &BatchedBlobStore{
		store:   s,
		batch:   batch,
		pending: make(map[common.Reference][]byte),
		index:   make(map[[20]byte]common.Reference),
	}, nil
}

func (b *BatchedBlobStore) LoadRaw(ref common.Reference) ([]byte, error) {
	if data, ok := b.pending[ref]; ok {
		return data, nil
	}
	return b.store.LoadRaw(ref)
}

func (b *BatchedBlobStore) StoreRaw(data []byte) (common.Reference, error) {
	digest := common.Blake2b160(data)
	if ref, ok := b.index[digest]; ok {
		return ref, nil
	}
	existing, err := b.store.kvs.Get(b.store.indexKey(digest))
	if err == nil {
		return decodeRef(existing)
	}
	if !errors.Is(err, kvstore.ErrKeyNotFound) {
		return 0, err
	}
	b.store.mu.Lock()
	ref := common.Reference(b.store.next)
	b.store.next++
	b.store.mu.Unlock()
	if err = b.batch.Set(b.store.recordKey(ref), data); err != nil {
		return 0, err
	}
	if err = b.batch.Set(b.store.indexKey(digest), refBytes(ref)); err != nil {
		return 0, err
	}
	b.pending[ref] = data
	b.index[digest] = ref
	return ref, nil
}

// Commit commits the batch as one atomic update to the underlying kvstore
// and flushes it
func (b *BatchedBlobStore) Commit() error {
	b.store.mu.Lock()
	next := b.store.next
	b.store.mu.Unlock()
	if err := b.batch.Set(b.store.metaKey(), seqBytes(next)); err != nil {
		return err
	}
	if err := b.batch.Commit(); err != nil {
		return err
	}
	if err := b.store.kvs.Flush(); err != nil {
		return err
	}
	b.pending = make(map[common.Reference][]byte)
	b.index = make(map[[20]byte]common.Reference)
	return nil
}
