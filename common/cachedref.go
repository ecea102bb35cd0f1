package common

import (
	"io"
)

// Decoder reconstructs a value from its raw backing store record
type Decoder[T any] func(data []byte) (T, error)

// Encoder produces the raw backing store record of a value
type Encoder[T any] func(v *T) []byte

type refState byte

const (
	// only in the backing store
	stateDisk = refState(iota)
	// only in memory, not yet stored
	stateMemory
	// in memory and in the backing store
	stateCached
)

// CachedRef is a handle over a heavy value which can live on disk, in
// memory, or in both places. The state only ever moves forward:
// Memory -> Cached after the first store, Disk -> Cached after a caching
// load. Plain loads leave the state unchanged
type CachedRef[T any] struct {
	state refState
	ref   Reference
	value T
}

// NewMemoryRef wraps a fresh in-memory value
func NewMemoryRef[T any](value T) CachedRef[T] {
	return CachedRef[T]{state: stateMemory, value: value}
}

// NewDiskRef wraps a reference to a stored record
func NewDiskRef[T any](ref Reference) CachedRef[T] {
	return CachedRef[T]{state: stateDisk, ref: ref}
}

// StoredRef returns the backing store reference, if the value has one
func (c *CachedRef[T]) StoredRef() (Reference, bool) {
	if c.state == stateDisk || c.state == stateCached {
		return c.ref, true
	}
	return 0, false
}

// InMemory returns the value if it is available without I/O
func (c *CachedRef[T]) InMemory() (*T, bool) {
	if c.state == stateDisk {
		return nil, false
	}
	return &c.value, true
}

// MemoryOnly returns the value only when it has not been stored yet
func (c *CachedRef[T]) MemoryOnly() (*T, bool) {
	if c.state == stateMemory {
		return &c.value, true
	}
	return nil, false
}

// Get returns the value, loading it from the backing store if necessary.
// The state is left unchanged
func (c *CachedRef[T]) Get(ldr Loader, dec Decoder[T]) (T, error) {
	if c.state != stateDisk {
		return c.value, nil
	}
	data, err := ldr.LoadRaw(c.ref)
	if err != nil {
		var zero T
		return zero, err
	}
	return dec(data)
}

// UseValue applies f to the value. A disk-only value is loaded transiently
// and dropped afterwards
func (c *CachedRef[T]) UseValue(ldr Loader, dec Decoder[T], f func(v *T)) error {
	if c.state != stateDisk {
		f(&c.value)
		return nil
	}
	data, err := ldr.LoadRaw(c.ref)
	if err != nil {
		return err
	}
	v, err := dec(data)
	if err != nil {
		return err
	}
	f(&v)
	return nil
}

// LoadAndCache returns the value, promoting Disk -> Cached on first load
func (c *CachedRef[T]) LoadAndCache(ldr Loader, dec Decoder[T]) (*T, error) {
	if c.state != stateDisk {
		return &c.value, nil
	}
	data, err := ldr.LoadRaw(c.ref)
	if err != nil {
		return nil, err
	}
	v, err := dec(data)
	if err != nil {
		return nil, err
	}
	c.value = v
	c.state = stateCached
	return &c.value, nil
}

// StoreAndCache persists an in-memory value and writes the resulting
// reference to w. A value that already has a reference is not stored again,
// only its reference is written
func (c *CachedRef[T]) StoreAndCache(st Storer, enc Encoder[T], w io.Writer) error {
	if c.state == stateMemory {
		ref, err := st.StoreRaw(enc(&c.value))
		if err != nil {
			return err
		}
		c.ref = ref
		c.state = stateCached
	}
	return c.ref.Write(w)
}

// CacheWith marks an in-memory value as stored under the given reference.
// The caller is responsible for the reference actually holding the encoded
// value
func (c *CachedRef[T]) CacheWith(ref Reference) {
	if c.state == stateMemory {
		c.ref = ref
		c.state = stateCached
	}
}
