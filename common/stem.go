package common

import (
	"bytes"
)

// maximum stem length stored inline, without a heap allocation
const maxShortStem = 15

// Stem is an immutable sequence of key bytes compressed into a trie node.
// Stems up to 15 bytes are stored inline in the value itself; longer stems
// are kept in a heap slice shared between copies. Contract state keys are
// short or share long prefixes that end at leaves, so the inline case
// dominates
type Stem struct {
	// short[0] is the length, short[1:1+len] the payload. Only valid while
	// long == nil
	short [maxShortStem + 1]byte
	long  []byte
}

// NewStem makes a stem out of a byte slice. The bytes are copied, the
// caller keeps ownership of the slice
func NewStem(b []byte) Stem {
	var ret Stem
	if len(b) <= maxShortStem {
		ret.short[0] = byte(len(b))
		copy(ret.short[1:], b)
	} else {
		long := make([]byte, len(b))
		copy(long, b)
		ret.long = long
	}
	return ret
}

// Bytes returns the stem payload. The returned slice must not be modified
func (s *Stem) Bytes() []byte {
	if s.long != nil {
		return s.long
	}
	return s.short[1 : 1+int(s.short[0])]
}

func (s *Stem) Len() int {
	if s.long != nil {
		return len(s.long)
	}
	return int(s.short[0])
}

func (s *Stem) Equal(s1 *Stem) bool {
	return bytes.Equal(s.Bytes(), s1.Bytes())
}

// Extend returns a new stem equal to s || mid || suffix, promoting to the
// heap representation when the result no longer fits inline
func (s *Stem) Extend(mid byte, suffix []byte) Stem {
	cur := s.Bytes()
	newLen := len(cur) + 1 + len(suffix)
	if newLen <= maxShortStem {
		var ret Stem
		ret.short[0] = byte(newLen)
		n := copy(ret.short[1:], cur)
		ret.short[1+n] = mid
		copy(ret.short[2+n:], suffix)
		return ret
	}
	long := make([]byte, 0, newLen)
	long = append(long, cur...)
	long = append(long, mid)
	long = append(long, suffix...)
	return Stem{long: long}
}

// FollowResult is the outcome of FollowStem
type FollowResult byte

const (
	// FollowEqual both key and stem were consumed simultaneously
	FollowEqual = FollowResult(iota)
	// FollowKeyIsPrefix the key ended first; the reported stem step is the
	// first unconsumed stem byte
	FollowKeyIsPrefix
	// FollowStemIsPrefix the stem ended first; the reported key step is the
	// first unconsumed key byte
	FollowStemIsPrefix
	// FollowDiff first mismatching pair of key and stem bytes
	FollowDiff
)

// FollowStem advances the key cursor *kpos and a fresh stem cursor in
// lockstep until one of them is exhausted or the bytes differ. It is the
// shared walking step of lookup, insert, delete and iteration.
//
// On return:
//   - FollowEqual: *kpos is at the end of the key;
//   - FollowKeyIsPrefix: stemStep is stem[stemPos], the remaining stem is
//     stem[stemPos+1:];
//   - FollowStemIsPrefix: keyStep is consumed, the remaining key starts at
//     *kpos;
//   - FollowDiff: both steps are consumed, stemStep is stem[stemPos].
func FollowStem(key []byte, kpos *int, stem []byte) (res FollowResult, keyStep, stemStep byte, stemPos int) {
	for i, s := range stem {
		if *kpos >= len(key) {
			return FollowKeyIsPrefix, 0, s, i
		}
		k := key[*kpos]
		*kpos++
		if k != s {
			return FollowDiff, k, s, i
		}
	}
	if *kpos < len(key) {
		k := key[*kpos]
		*kpos++
		return FollowStemIsPrefix, k, 0, len(stem)
	}
	return FollowEqual, 0, 0, len(stem)
}
