package badger_adaptor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/statetrie.go/common"
	"github.com/iotaledger/statetrie.go/mutable"
)

func TestBadgerStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := New(MustCreateOrOpenBadgerDB(dir))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ref, err := db.StoreRaw([]byte("blob"))
	require.NoError(t, err)
	data, err := db.LoadRaw(ref)
	require.NoError(t, err)
	require.EqualValues(t, "blob", data)

	again, err := db.StoreRaw([]byte("blob"))
	require.NoError(t, err)
	require.Equal(t, ref, again)

	_, err = db.LoadRaw(common.Reference(777))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := New(MustCreateOrOpenBadgerDB(dir))
	require.NoError(t, err)
	ref1, err := db.StoreRaw([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := New(MustCreateOrOpenBadgerDB(dir))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	data, err := reopened.LoadRaw(ref1)
	require.NoError(t, err)
	require.EqualValues(t, "persisted", data)

	// the sequence resumes, references stay unique
	ref2, err := reopened.StoreRaw([]byte("fresh"))
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref2)
}

func TestBadgerStoreClosed(t *testing.T) {
	dir := t.TempDir()
	db, err := New(MustCreateOrOpenBadgerDB(dir))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.LoadRaw(common.Reference(0))
	require.ErrorIs(t, err, common.ErrDBUnavailable)
	_, err = db.StoreRaw([]byte("x"))
	require.ErrorIs(t, err, common.ErrDBUnavailable)
}

func TestTrieOverBadger(t *testing.T) {
	dir := t.TempDir()
	db, err := New(MustCreateOrOpenBadgerDB(dir))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tr := mutable.Empty()
	_, _, err = tr.Insert(db, []byte("k1"), []byte("v1"))
	require.NoError(t, err)
	_, _, err = tr.Insert(db, []byte("k2"), []byte("v2"))
	require.NoError(t, err)
	root, err := tr.Freeze(db, common.NopCollector{})
	require.NoError(t, err)
	record, err := root.StoreUpdate(db)
	require.NoError(t, err)
	require.NotEmpty(t, record)
}
