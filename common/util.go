package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"
)

// Assert simple assertion with message formatting. Used for internal
// invariants which, when violated, indicate a bug rather than a recoverable
// fault
func Assert(cond bool, format string, p ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, p...))
	}
}

func AssertNoError(err error) {
	Assert(err == nil, "error: %v", err)
}

// Concat concatenates bytes of byte-able objects
func Concat(par ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range par {
		switch p := p.(type) {
		case []byte:
			buf.Write(p)
		case byte:
			buf.WriteByte(p)
		case string:
			buf.Write([]byte(p))
		case interface{ Bytes() []byte }:
			buf.Write(p.Bytes())
		default:
			Assert(false, "Concat: unsupported type %T", p)
		}
	}
	return buf.Bytes()
}

// r/w utility functions.
// The persistent format uses big-endian encoding for all multi-byte integers

func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteByte(w io.Writer, val byte) error {
	_, err := w.Write([]byte{val})
	return err
}

func ReadUint16(r io.Reader) (uint16, error) {
	var tmp2 [2]byte
	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(tmp2[:]), nil
}

func WriteUint16(w io.Writer, val uint16) error {
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], val)
	_, err := w.Write(tmp2[:])
	return err
}

func ReadUint32(r io.Reader) (uint32, error) {
	var tmp4 [4]byte
	if _, err := io.ReadFull(r, tmp4[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp4[:]), nil
}

func WriteUint32(w io.Writer, val uint32) error {
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], val)
	_, err := w.Write(tmp4[:])
	return err
}

func ReadUint64(r io.Reader) (uint64, error) {
	var tmp8 [8]byte
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(tmp8[:]), nil
}

func WriteUint64(w io.Writer, val uint64) error {
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], val)
	_, err := w.Write(tmp8[:])
	return err
}

// ReadBytes32 reads a byte slice with a 4-byte big-endian length prefix
func ReadBytes32(r io.Reader) ([]byte, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	ret := make([]byte, length)
	if _, err = io.ReadFull(r, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// WriteBytes32 writes a byte slice with a 4-byte big-endian length prefix
func WriteBytes32(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		panic(fmt.Sprintf("WriteBytes32: too long data (%v)", len(data)))
	}
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Blake2b160 is used by backing store implementations to build content
// indexes of stored records. It is not part of the committed trie format
func Blake2b160(data []byte) (ret [20]byte) {
	hash, _ := blake2b.New(20, nil)
	if _, err := hash.Write(data); err != nil {
		panic(err)
	}
	copy(ret[:], hash.Sum(nil))
	return
}
