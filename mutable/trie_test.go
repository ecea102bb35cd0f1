package mutable_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/iotaledger/statetrie.go/common"
	"github.com/iotaledger/statetrie.go/immutable"
	"github.com/iotaledger/statetrie.go/mutable"
)

// budgetCounter rejects once the budget is exhausted
type budgetCounter struct {
	left uint64
}

var errOutOfBudget = xerrors.New("traversal budget exhausted")

func (c *budgetCounter) Tick(units uint64) error {
	if units > c.left {
		return errOutOfBudget
	}
	c.left -= units
	return nil
}

func mustInsert(t *testing.T, tr *mutable.MutableTrie, ldr common.Loader, key, value string) mutable.EntryID {
	id, _, err := tr.Insert(ldr, []byte(key), []byte(value))
	require.NoError(t, err)
	return id
}

func mustFreeze(t *testing.T, tr *mutable.MutableTrie, ldr common.Loader) *immutable.RootNode {
	root, err := tr.Freeze(ldr, common.NopCollector{})
	require.NoError(t, err)
	return root
}

// childNode resolves an in-memory child of a freshly frozen node
func childNode(t *testing.T, n *immutable.Node, key byte) *immutable.Node {
	for _, c := range n.Children() {
		if c.Key() == key {
			var ret *immutable.Node
			c.Link().View(func(r *immutable.NodeRef) {
				hn, ok := r.InMemory()
				require.True(t, ok)
				ret = hn.Data
			})
			return ret
		}
	}
	t.Fatalf("no child at %c", key)
	return nil
}

func TestInsertGetDelete(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()

	e0, prior, err := tr.Insert(store, []byte("ab"), []byte{1})
	require.NoError(t, err)
	require.Equal(t, mutable.NoEntry, prior)

	id, found, err := tr.GetEntry(store, []byte("ab"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, e0, id)

	ok, err := tr.WithEntry(store, e0, func(v []byte) {
		require.EqualValues(t, []byte{1}, v)
	})
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := tr.Delete(store, []byte("ab"))
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err = tr.GetEntry(store, []byte("ab"))
	require.NoError(t, err)
	require.False(t, found)
	require.True(t, tr.IsEmpty())

	root := mustFreeze(t, tr, store)
	require.Nil(t, root)
}

func TestSplitOnDiff(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "abc", "\x01")
	mustInsert(t, tr, store, "abd", "\x02")

	root := mustFreeze(t, tr, store)
	require.NotNil(t, root)
	require.EqualValues(t, []byte("ab"), root.Node.Stem().Bytes())
	require.Nil(t, root.Node.Value())
	require.Len(t, root.Node.Children(), 2)
	require.EqualValues(t, 'c', root.Node.Children()[0].Key())
	require.EqualValues(t, 'd', root.Node.Children()[1].Key())

	leafC := childNode(t, root.Node, 'c')
	require.Zero(t, leafC.Stem().Len())
	h, ok := leafC.ValueHash()
	require.True(t, ok)
	require.True(t, h.Equal(common.HashData([]byte{1})))

	leafD := childNode(t, root.Node, 'd')
	require.Zero(t, leafD.Stem().Len())
	h, ok = leafD.ValueHash()
	require.True(t, ok)
	require.True(t, h.Equal(common.HashData([]byte{2})))
}

func TestPathCompressionOnDelete(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "a", "\x01")
	mustInsert(t, tr, store, "ab", "\x02")
	mustInsert(t, tr, store, "abc", "\x03")

	deleted, err := tr.Delete(store, []byte("ab"))
	require.NoError(t, err)
	require.True(t, deleted)

	root := mustFreeze(t, tr, store)
	require.NotNil(t, root)
	require.EqualValues(t, []byte("a"), root.Node.Stem().Bytes())
	_, ok := root.Node.ValueHash()
	require.True(t, ok)
	require.Len(t, root.Node.Children(), 1)

	// the middle node collapsed into its child
	child := childNode(t, root.Node, 'b')
	require.EqualValues(t, []byte("c"), child.Stem().Bytes())
	h, ok := child.ValueHash()
	require.True(t, ok)
	require.True(t, h.Equal(common.HashData([]byte{3})))
	require.Empty(t, child.Children())
}

func TestIteratorLocksWrites(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "abc", "\x01")

	it, err := tr.Iter(store, []byte("ab"))
	require.NoError(t, err)
	require.NotNil(t, it)

	_, _, err = tr.Insert(store, []byte("abd"), []byte{2})
	require.ErrorIs(t, err, common.ErrLockedArea)
	_, err = tr.Delete(store, []byte("abc"))
	require.ErrorIs(t, err, common.ErrLockedArea)
	_, err = tr.DeletePrefix(store, []byte("a"), common.NopCounter{})
	require.ErrorIs(t, err, common.ErrLockedArea)

	require.True(t, tr.DeleteIter(it))

	_, _, err = tr.Insert(store, []byte("abd"), []byte{2})
	require.NoError(t, err)
}

func TestGenerationRollback(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "x", "\x01")

	tr.NewGeneration()
	mustInsert(t, tr, store, "y", "\x02")
	deleted, err := tr.Delete(store, []byte("x"))
	require.NoError(t, err)
	require.True(t, deleted)

	require.True(t, tr.PopGeneration())

	id, found, err := tr.GetEntry(store, []byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	ok, err := tr.WithEntry(store, id, func(v []byte) {
		require.EqualValues(t, []byte{1}, v)
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err = tr.GetEntry(store, []byte("y"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestGenerationIsolationByHash(t *testing.T) {
	store := common.NewInMemoryStore()
	build := func() *mutable.MutableTrie {
		tr := mutable.Empty()
		mustInsert(t, tr, store, "aaa", "1")
		mustInsert(t, tr, store, "aab", "2")
		mustInsert(t, tr, store, "b", "3")
		return tr
	}
	reference := mustFreeze(t, build(), store)

	tr := build()
	tr.NewGeneration()
	mustInsert(t, tr, store, "aac", "4")
	_, err := tr.Delete(store, []byte("b"))
	require.NoError(t, err)
	_, err = tr.DeletePrefix(store, []byte("aa"), common.NopCounter{})
	require.NoError(t, err)
	require.True(t, tr.PopGeneration())

	root := mustFreeze(t, tr, store)
	require.True(t, root.Hash.Equal(reference.Hash))
}

func TestDeletePrefixUnderCounter(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	for i := 0; i < 100; i++ {
		mustInsert(t, tr, store, fmt.Sprintf("p%02d", i), "v")
	}
	mustInsert(t, tr, store, "q", "stays")

	_, err := tr.DeletePrefix(store, []byte("p"), &budgetCounter{left: 50})
	require.ErrorIs(t, err, errOutOfBudget)

	// the subtree is still attached and the budget-free retry succeeds
	deleted, err := tr.DeletePrefix(store, []byte("p"), common.NopCounter{})
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err := tr.GetEntry(store, []byte("p17"))
	require.NoError(t, err)
	require.False(t, found)

	root := mustFreeze(t, tr, store)
	require.NotNil(t, root)
	require.EqualValues(t, []byte("q"), root.Node.Stem().Bytes())
}

func TestDeletePrefixWholeTree(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "pa", "1")
	mustInsert(t, tr, store, "pb", "2")

	deleted, err := tr.DeletePrefix(store, nil, common.NopCounter{})
	require.NoError(t, err)
	require.True(t, deleted)
	require.True(t, tr.IsEmpty())
	require.Nil(t, mustFreeze(t, tr, store))
}

func TestEntryInvalidation(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	id := mustInsert(t, tr, store, "k", "v")

	deleted, err := tr.Delete(store, []byte("k"))
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := tr.GetMut(store, id)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = tr.WithEntry(store, id, func([]byte) { t.Fatal("must not be called") })
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, tr.SetEntry(id, []byte("w")))
}

func TestInsertReturnsPriorEntry(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	first := mustInsert(t, tr, store, "k", "old")

	second, prior, err := tr.Insert(store, []byte("k"), []byte("new"))
	require.NoError(t, err)
	require.Equal(t, first, prior)
	require.NotEqual(t, first, second)

	// both handles stay alive, the old one sees the detached value
	ok, err := tr.WithEntry(store, prior, func(v []byte) {
		require.EqualValues(t, "old", v)
	})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tr.WithEntry(store, second, func(v []byte) {
		require.EqualValues(t, "new", v)
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetMutCopiesOnFirstWrite(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	id := mustInsert(t, tr, store, "k", "\x00\x00")
	root := mustFreeze(t, tr, store)

	// thaw: the value is borrowed from the frozen tree now
	tr = mutable.Thaw(root.Node, 0)
	id, found, err := tr.GetEntry(store, []byte("k"))
	require.NoError(t, err)
	require.True(t, found)

	v, ok, err := tr.GetMut(store, id)
	require.NoError(t, err)
	require.True(t, ok)
	v[0] = 0xff

	// the mutation is visible through the entry but not in the frozen tree
	_, err = tr.WithEntry(store, id, func(v []byte) {
		require.EqualValues(t, []byte{0xff, 0}, v)
	})
	require.NoError(t, err)
	vl, err := root.Node.Lookup(store, []byte("k"))
	require.NoError(t, err)
	require.NotNil(t, vl)
	vl.View(func(val *immutable.Value) {
		data, err := val.Data.Get(store, immutable.DecodeValue)
		require.NoError(t, err)
		require.EqualValues(t, []byte{0, 0}, data)
	})
}

func TestSetEntryAvoidsCopy(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	id := mustInsert(t, tr, store, "k", "a")
	require.True(t, tr.SetEntry(id, []byte("bbb")))
	_, err := tr.WithEntry(store, id, func(v []byte) {
		require.EqualValues(t, "bbb", v)
	})
	require.NoError(t, err)
}

func TestIterationOrderAndKeys(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	keys := []string{"p", "pa", "pab", "pb", "pba", "pz", "q", "a"}
	for i, k := range keys {
		mustInsert(t, tr, store, k, fmt.Sprintf("%d", i))
	}

	it, err := tr.Iter(store, []byte("p"))
	require.NoError(t, err)
	require.NotNil(t, it)

	var visited []string
	for {
		id, ok, err := tr.Next(store, it, common.NopCounter{})
		require.NoError(t, err)
		if !ok {
			break
		}
		visited = append(visited, string(it.Key()))
		_, err = tr.WithEntry(store, id, func([]byte) {})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"p", "pa", "pab", "pb", "pba", "pz"}, visited)
	require.True(t, tr.DeleteIter(it))
	require.False(t, tr.DeleteIter(it))
}

func TestIterNoMatchingSubtree(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "abc", "1")

	it, err := tr.Iter(store, []byte("ax"))
	require.NoError(t, err)
	require.Nil(t, it)

	// prefix ends inside the root stem: the iterator starts mid-stem
	it, err = tr.Iter(store, []byte("a"))
	require.NoError(t, err)
	require.NotNil(t, it)
	id, ok, err := tr.Next(store, it, common.NopCounter{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, mutable.NoEntry, id)
	require.EqualValues(t, []byte("abc"), it.Key())
	tr.DeleteIter(it)
}

func TestNextChargesCounter(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "aa", "1")
	mustInsert(t, tr, store, "ablongsuffix", "2")

	it, err := tr.Iter(store, []byte("a"))
	require.NoError(t, err)

	counter := &budgetCounter{left: 2}
	_, ok, err := tr.Next(store, it, counter)
	require.NoError(t, err)
	require.True(t, ok) // "aa": one step into the first child

	_, _, err = tr.Next(store, it, counter)
	require.ErrorIs(t, err, errOutOfBudget)
}

func TestNormalize(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "a", "1")
	reference := func() common.Hash {
		tmp := mutable.Empty()
		mustInsert(t, tmp, store, "a", "1")
		return mustFreeze(t, tmp, store).Hash
	}()

	tr.NewGeneration()
	mustInsert(t, tr, store, "b", "2")
	tr.NewGeneration()
	mustInsert(t, tr, store, "c", "3")

	tr.Normalize(0)
	root := mustFreeze(t, tr, store)
	require.True(t, root.Hash.Equal(reference))
}

func TestFreezeCollectsCosts(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	mustInsert(t, tr, store, "abc", "12345")
	mustInsert(t, tr, store, "abd", "6")

	var costs common.SizeCollector
	_, err := tr.Freeze(store, &costs)
	require.NoError(t, err)
	require.Equal(t, 2, costs.NumValues)
	require.Equal(t, 6, costs.ValueBytes)
	// stems: "ab" on the fork, empty on both leaves
	require.Equal(t, 2, costs.PathBytes)
	require.Equal(t, 2, costs.Children)
}

func TestThawLazyLoading(t *testing.T) {
	store := common.NewInMemoryStore()
	tr := mutable.Empty()
	for i := 0; i < 32; i++ {
		mustInsert(t, tr, store, fmt.Sprintf("key/%02d", i), fmt.Sprintf("value %d", i))
	}
	root := mustFreeze(t, tr, store)
	record, err := root.StoreUpdate(store)
	require.NoError(t, err)

	// a fresh process: only the root record is in memory, the rest loads
	// through the store on demand
	reloaded, err := immutable.RootFromRecord(record)
	require.NoError(t, err)
	tr = mutable.Thaw(reloaded.Node, 0)
	for i := 0; i < 32; i++ {
		id, found, err := tr.GetEntry(store, []byte(fmt.Sprintf("key/%02d", i)))
		require.NoError(t, err)
		require.True(t, found)
		want := fmt.Sprintf("value %d", i)
		_, err = tr.WithEntry(store, id, func(v []byte) {
			require.EqualValues(t, want, v)
		})
		require.NoError(t, err)
	}

	// an unchanged thaw freezes back to the same root hash
	root2 := mustFreeze(t, tr, store)
	require.True(t, root2.Hash.Equal(root.Hash))
}
