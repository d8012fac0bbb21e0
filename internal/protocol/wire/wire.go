// Package wire holds the 4-byte alignment primitives shared by the message codec.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Align is the boundary every encoded element is padded to.
const Align = 4

var (
	ErrMissingTerminator = errors.New("wire: missing string terminator")
	ErrBadPadding        = errors.New("wire: bad padding")
	ErrShortWord         = errors.New("wire: short 32-bit word")
	ErrShortBlob         = errors.New("wire: short blob")
	ErrNegativeLength    = errors.New("wire: negative blob length")
)

// PaddedLen returns n rounded up to the next multiple of Align.
func PaddedLen(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}

// StringLen is the encoded size of s: bytes, terminator, padding.
func StringLen(s string) int {
	return PaddedLen(len(s) + 1)
}

// BlobLen is the encoded size of b: length word, bytes, padding.
func BlobLen(b []byte) int {
	return 4 + PaddedLen(len(b))
}

// AppendString writes s followed by one NUL and zero padding to the next boundary.
func AppendString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	dst = append(dst, 0)
	return appendPad(dst)
}

// AppendBlob writes a big-endian length word, the raw bytes and zero padding.
func AppendBlob(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	dst = append(dst, b...)
	return appendPad(dst)
}

// AppendUint32 writes v big-endian.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

func appendPad(dst []byte) []byte {
	for len(dst)%Align != 0 {
		dst = append(dst, 0)
	}
	return dst
}

// ReadString reads a terminated, padded string starting at off.
// It returns the string bytes (without terminator) and the offset after the padding.
func ReadString(buf []byte, off int) ([]byte, int, error) {
	if off < 0 || off > len(buf) {
		return nil, off, ErrMissingTerminator
	}
	idx := bytes.IndexByte(buf[off:], 0)
	if idx < 0 {
		return nil, off, ErrMissingTerminator
	}
	raw := buf[off : off+idx]
	end := off + PaddedLen(idx+1)
	if end > len(buf) {
		return nil, off, ErrBadPadding
	}
	for _, c := range buf[off+idx+1 : end] {
		if c != 0 {
			return nil, off, ErrBadPadding
		}
	}
	return raw, end, nil
}

// ReadUint32 reads one big-endian word at off.
func ReadUint32(buf []byte, off int) (uint32, int, error) {
	if off < 0 || len(buf)-off < 4 {
		return 0, off, ErrShortWord
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), off + 4, nil
}

// ReadBlob reads a length-prefixed, padded blob at off. The returned slice is a copy.
func ReadBlob(buf []byte, off int) ([]byte, int, error) {
	n, next, err := ReadUint32(buf, off)
	if err != nil {
		return nil, off, err
	}
	size := int32(n)
	if size < 0 {
		return nil, off, ErrNegativeLength
	}
	if int64(len(buf)-next) < int64(size) {
		return nil, off, ErrShortBlob
	}
	val := make([]byte, size)
	copy(val, buf[next:next+int(size)])
	end := next + PaddedLen(int(size))
	if end > len(buf) {
		return nil, off, ErrBadPadding
	}
	for _, c := range buf[next+int(size) : end] {
		if c != 0 {
			return nil, off, ErrBadPadding
		}
	}
	return val, end, nil
}
