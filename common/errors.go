package common

import (
	"golang.org/x/xerrors"
)

var (
	// ErrLockedArea is returned by mutating trie operations when the key, or a
	// prefix of the key, is locked by an open iterator
	ErrLockedArea = xerrors.New("attempt to modify an iterator-locked area of the trie")

	// ErrTooManyIterators is returned when the reference count of a locked
	// prefix would overflow
	ErrTooManyIterators = xerrors.New("too many iterators open under the same prefix")

	// ErrNotAllBytesConsumed means some data remains in the buffer after
	// deserialization of a complete object
	ErrNotAllBytesConsumed = xerrors.New("serialization error: not all bytes were consumed")

	// ErrWrongHashSize wrong number of bytes for a Hash
	ErrWrongHashSize = xerrors.New("wrong hash size")

	// ErrDecode malformed node or value record in the backing store
	ErrDecode = xerrors.New("malformed record")

	// ErrNotFound no record under the given reference
	ErrNotFound = xerrors.New("record not found")

	// ErrDBUnavailable implementations of the backing store may return this
	// error when the underlying storage is closed or unavailable
	ErrDBUnavailable = xerrors.New("database is closed or unavailable")
)
