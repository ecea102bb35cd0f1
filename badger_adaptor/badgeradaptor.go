// Package badger_adaptor implements the trie backing store directly over a
// Badger database.
package badger_adaptor

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/iotaledger/statetrie.go/common"
)

var (
	// reference -> record
	recordPrefix = []byte{0x00}
	// blake2b-160 content digest -> reference
	indexPrefix = []byte{0x01}
	// the persisted reference sequence counter
	metaSequenceKey = []byte{0x02}
)

// DB is a trie backing store over a Badger database. References are issued
// from a persisted sequence counter; a blake2b-160 content index makes
// StoreRaw idempotent per byte sequence
type DB struct {
	db     *badger.DB
	closed atomic.Bool

	mu   sync.Mutex
	next uint64
}

// New wraps an open Badger database, resuming the reference sequence where
// a previous instance left off
func New(db *badger.DB) (*DB, error) {
	ret := &DB{db: db}
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaSequenceKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			next, err := common.ReadUint64(bytes.NewReader(val))
			if err != nil {
				return common.ErrDecode
			}
			ret.next = next
			return nil
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	return ret, nil
}

func (a *DB) Close() error {
	a.closed.Store(true)
	return a.db.Close()
}

func recordKey(ref common.Reference) []byte {
	var buf bytes.Buffer
	buf.Write(recordPrefix)
	common.AssertNoError(ref.Write(&buf))
	return buf.Bytes()
}

func indexKey(digest [20]byte) []byte {
	return common.Concat(indexPrefix, digest[:])
}

func (a *DB) LoadRaw(ref common.Reference) ([]byte, error) {
	if a.closed.Load() {
		return nil, common.ErrDBUnavailable
	}
	var ret []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(ref))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (a *DB) StoreRaw(data []byte) (common.Reference, error) {
	if a.closed.Load() {
		return 0, common.ErrDBUnavailable
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	digest := common.Blake2b160(data)
	var ret common.Reference
	allocated := false
	err := a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(digest))
		if err == nil {
			return item.Value(func(val []byte) error {
				rdr := bytes.NewReader(val)
				if ret, err = common.ReadReference(rdr); err != nil || rdr.Len() != 0 {
					return common.ErrDecode
				}
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		ret = common.Reference(a.next)
		allocated = true
		if err = txn.Set(recordKey(ret), data); err != nil {
			return err
		}
		var refBuf bytes.Buffer
		common.AssertNoError(ret.Write(&refBuf))
		if err = txn.Set(indexKey(digest), refBuf.Bytes()); err != nil {
			return err
		}
		var seqBuf bytes.Buffer
		common.AssertNoError(common.WriteUint64(&seqBuf, a.next+1))
		return txn.Set(metaSequenceKey, seqBuf.Bytes())
	})
	if err != nil {
		return 0, err
	}
	if allocated {
		a.next++
	}
	return ret, nil
}
