package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ref1, err := store.StoreRaw([]byte("one"))
	require.NoError(t, err)
	ref2, err := store.StoreRaw([]byte("two"))
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref2)

	data, err := store.LoadRaw(ref1)
	require.NoError(t, err)
	require.EqualValues(t, "one", data)

	// idempotent per byte sequence
	again, err := store.StoreRaw([]byte("one"))
	require.NoError(t, err)
	require.Equal(t, ref1, again)
	require.Equal(t, 2, store.NumRecords())

	_, err = store.LoadRaw(Reference(99))
	require.ErrorIs(t, err, ErrNotFound)
}

// countingLoader counts the loads that reach the underlying store
type countingLoader struct {
	inner Loader
	loads int
}

func (c *countingLoader) LoadRaw(ref Reference) ([]byte, error) {
	c.loads++
	return c.inner.LoadRaw(ref)
}

func TestCachingLoader(t *testing.T) {
	store := NewInMemoryStore()
	ref, err := store.StoreRaw([]byte("hot record"))
	require.NoError(t, err)

	counting := &countingLoader{inner: store}
	cached, err := NewCachingLoader(counting, 16)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		data, err := cached.LoadRaw(ref)
		require.NoError(t, err)
		require.EqualValues(t, "hot record", data)
	}
	require.Equal(t, 1, counting.loads)

	_, err = cached.LoadRaw(Reference(1000))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBigEndianHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint16(&buf, 0x1234))
	require.NoError(t, WriteUint32(&buf, 0xdeadbeef))
	require.NoError(t, WriteUint64(&buf, 0x0102030405060708))
	require.EqualValues(t, []byte{
		0x12, 0x34,
		0xde, 0xad, 0xbe, 0xef,
		1, 2, 3, 4, 5, 6, 7, 8,
	}, buf.Bytes())

	rdr := bytes.NewReader(buf.Bytes())
	v16, err := ReadUint16(rdr)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, v16)
	v32, err := ReadUint32(rdr)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, v32)
	v64, err := ReadUint64(rdr)
	require.NoError(t, err)
	require.EqualValues(t, uint64(0x0102030405060708), v64)

	buf.Reset()
	require.NoError(t, WriteBytes32(&buf, []byte("data")))
	rdr = bytes.NewReader(buf.Bytes())
	data, err := ReadBytes32(rdr)
	require.NoError(t, err)
	require.EqualValues(t, "data", data)
}
