// Package kv implements the key/value record substrate: the wire formats
// for a record (framed and unframed), and a borrowed, buffer-lifetime-bound
// view over a packed record.
package kv

import "encoding/binary"

// HeaderSize is the length in bytes of the framed-record header
// (key_len:u32 || value_len:u32, native byte order).
const HeaderSize = 8

// byteOrder is the native byte order used for framed headers. TritonSort's
// original C++ header is a reinterpret-cast of two uint32_t fields in
// whatever order the host is running; we pin little-endian since that's
// the byte order of every platform this module targets.
var byteOrder = binary.LittleEndian

// Pair is a borrowed view of one record: a key and a value, both slices
// into a buffer's backing array. A Pair is only valid for as long as the
// buffer that produced it has not been returned to its pool.
type Pair struct {
	Key   []byte
	Value []byte
}

// WriteSize returns the number of bytes this pair occupies when appended
// in framed mode (header + key + value).
func (p Pair) WriteSize() int {
	return HeaderSize + len(p.Key) + len(p.Value)
}

// UnframedSize returns the number of bytes this pair occupies when
// appended in unframed mode (key + value, no header).
func (p Pair) UnframedSize() int {
	return len(p.Key) + len(p.Value)
}

// Equal reports whether two pairs have bitwise-identical key and value.
func (p Pair) Equal(o Pair) bool {
	return bytesEqual(p.Key, o.Key) && bytesEqual(p.Value, o.Value)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CompareKeys lexicographically compares two keys byte by byte, the
// comparator used everywhere the core needs "non-decreasing key order"
// (spec §8). Shorter keys that are a prefix of longer ones sort first.
func CompareKeys(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// PutHeader writes a framed-record header (key_len, value_len) into dst,
// which must be at least HeaderSize bytes.
func PutHeader(dst []byte, keyLen, valueLen uint32) {
	byteOrder.PutUint32(dst[0:4], keyLen)
	byteOrder.PutUint32(dst[4:8], valueLen)
}

// Header reads a framed-record header from src, which must be at least
// HeaderSize bytes.
func Header(src []byte) (keyLen, valueLen uint32) {
	return byteOrder.Uint32(src[0:4]), byteOrder.Uint32(src[4:8])
}

// AppendFramed appends the framed encoding of key/value (header, key,
// value) to dst and returns the extended slice.
func AppendFramed(dst, key, value []byte) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], uint32(len(key)), uint32(len(value)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, key...)
	dst = append(dst, value...)
	return dst
}

// DecodeFramed decodes one framed record starting at offset 0 of src,
// returning the borrowed Pair and the number of bytes consumed. It
// reports ok=false if src is too short to contain a full record,
// signaling either a split record (partial serialization, §4.2) or a
// short tail at stream end (a fatal condition per spec §7, for the
// caller to judge based on context).
func DecodeFramed(src []byte) (p Pair, n int, ok bool) {
	if len(src) < HeaderSize {
		return Pair{}, 0, false
	}
	keyLen, valueLen := Header(src)
	total := HeaderSize + int(keyLen) + int(valueLen)
	if len(src) < total {
		return Pair{}, 0, false
	}
	rest := src[HeaderSize:total]
	return Pair{Key: rest[:keyLen], Value: rest[keyLen:]}, total, true
}

// DecodeUnframed decodes one unframed record from src given fixed key and
// value lengths taken from job configuration (spec §3).
func DecodeUnframed(src []byte, keyLen, valueLen int) (p Pair, n int, ok bool) {
	total := keyLen + valueLen
	if len(src) < total {
		return Pair{}, 0, false
	}
	return Pair{Key: src[:keyLen], Value: src[keyLen:total]}, total, true
}
