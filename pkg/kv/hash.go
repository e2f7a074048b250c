package kv

import "hash/fnv"

// Hash64 computes the 64-bit FNV-1a hash of key, used by the hashed
// partition-function family (spec §4.3/§4.4) wherever the spec calls for
// `hash64(key)`. Grounded on the idiom in
// NyaliaLui-franz-go/pkg/kgo/partitioner.go (hash-then-mod key
// partitioning), adapted to Go's stdlib 64-bit hash since no pack
// dependency ships a bare keyed hash primitive.
func Hash64(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// PutHash64BE writes v as 8 big-endian bytes into dst, the fixed encoding
// spec §4.4 requires for hashed boundary-list search keys.
func PutHash64BE(dst []byte, v uint64) {
	dst[0] = byte(v >> 56)
	dst[1] = byte(v >> 48)
	dst[2] = byte(v >> 40)
	dst[3] = byte(v >> 32)
	dst[4] = byte(v >> 24)
	dst[5] = byte(v >> 16)
	dst[6] = byte(v >> 8)
	dst[7] = byte(v)
}

// Hash64BE returns the 8-byte big-endian encoding of Hash64(key).
func Hash64BE(key []byte) []byte {
	var b [8]byte
	PutHash64BE(b[:], Hash64(key))
	return b[:]
}
