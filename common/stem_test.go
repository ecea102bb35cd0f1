package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStemRepresentation(t *testing.T) {
	for _, n := range []int{0, 1, 14, 15, 16, 100} {
		b := bytes.Repeat([]byte{0x5a}, n)
		s := NewStem(b)
		require.Equal(t, n, s.Len())
		require.EqualValues(t, b, s.Bytes())
		if n <= maxShortStem {
			require.Nil(t, s.long)
		} else {
			require.NotNil(t, s.long)
		}
	}
}

func TestStemCopiesInput(t *testing.T) {
	b := bytes.Repeat([]byte{1}, 20)
	s := NewStem(b)
	b[0] = 99
	require.EqualValues(t, 1, s.Bytes()[0])
}

func TestStemExtend(t *testing.T) {
	s := NewStem([]byte("abc"))
	e := s.Extend('x', []byte("def"))
	require.EqualValues(t, "abcxdef", e.Bytes())
	// the receiver is unchanged
	require.EqualValues(t, "abc", s.Bytes())

	// crossing the inline boundary promotes to the heap form
	s = NewStem(bytes.Repeat([]byte{7}, 14))
	e = s.Extend(8, nil)
	require.Equal(t, 15, e.Len())
	require.Nil(t, e.long)
	e = e.Extend(9, []byte{10})
	require.Equal(t, 17, e.Len())
	require.NotNil(t, e.long)
	require.EqualValues(t, append(append(bytes.Repeat([]byte{7}, 14), 8, 9), 10), e.Bytes())

	// long stems keep extending on the heap
	long := NewStem(bytes.Repeat([]byte{1}, 40))
	e = long.Extend(2, bytes.Repeat([]byte{3}, 5))
	require.Equal(t, 46, e.Len())
}

func TestFollowStem(t *testing.T) {
	run := func(key, stem string) (FollowResult, byte, byte, int, int) {
		kpos := 0
		res, ks, ss, sp := FollowStem([]byte(key), &kpos, []byte(stem))
		return res, ks, ss, sp, kpos
	}

	res, _, _, _, kpos := run("abc", "abc")
	require.Equal(t, FollowEqual, res)
	require.Equal(t, 3, kpos)

	res, _, ss, sp, kpos := run("ab", "abc")
	require.Equal(t, FollowKeyIsPrefix, res)
	require.EqualValues(t, 'c', ss)
	require.Equal(t, 2, sp)
	require.Equal(t, 2, kpos)

	res, ks, _, _, kpos := run("abc", "ab")
	require.Equal(t, FollowStemIsPrefix, res)
	require.EqualValues(t, 'c', ks)
	require.Equal(t, 3, kpos)

	res, ks, ss, sp, kpos = run("axc", "abc")
	require.Equal(t, FollowDiff, res)
	require.EqualValues(t, 'x', ks)
	require.EqualValues(t, 'b', ss)
	require.Equal(t, 1, sp)
	require.Equal(t, 2, kpos)

	res, _, _, _, _ = run("", "")
	require.Equal(t, FollowEqual, res)

	res, _, ss, _, _ = run("", "z")
	require.Equal(t, FollowKeyIsPrefix, res)
	require.EqualValues(t, 'z', ss)

	res, ks, _, _, _ = run("z", "")
	require.Equal(t, FollowStemIsPrefix, res)
	require.EqualValues(t, 'z', ks)
}

func TestFollowStemResumes(t *testing.T) {
	// the key cursor persists across nodes, the stem restarts
	key := []byte("abcdef")
	kpos := 0
	res, _, _, _ := FollowStem(key, &kpos, []byte("ab"))
	require.Equal(t, FollowStemIsPrefix, res)
	// 'c' consumed as the child step, continue under the child's stem
	res, _, _, _ = FollowStem(key, &kpos, []byte("def"))
	require.Equal(t, FollowEqual, res)
}
