// Package sample implements the phase-0 reservoir sampler and the
// KVPairWriter family (spec.md §4.3): the general KVPairWriter,
// FastKVPairWriter, and PartialKVPairWriter, their shared write-strategy
// table, and the reservoir-sampling writer used to build the boundary-list
// artifact that backs pkg/partition.KeyPartitioner.
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/common/{KVPairWriter,
// FastKVPairWriter,PartialKVPairWriter,ReservoirSamplingKVPairWriter}.{h,cc}.
// Per spec.md §9 ("Callback-heavy constructors"), the five to six
// boost::function callbacks each of those C++ writers took in its
// constructor collapse into one Host interface.
package sample

import (
	"encoding/binary"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
)

// Strategy is the write-strategy trait of spec.md §4.3: a choice of
// key/value transform applied while appending a record.
type Strategy interface {
	AltersKey() bool
	AltersValue() bool
	TransformKey(key []byte) []byte
	TransformValue(keyLen, valueLen int) []byte
}

// tupleSize is tuple_size(input_key_len, input_value_len) from spec.md
// §4.3's write-strategy table: the framed record's total wire size.
func tupleSize(keyLen, valueLen int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(kv.HeaderSize+keyLen+valueLen))
	return buf[:]
}

// DefaultStrategy writes the input key and value unchanged.
type DefaultStrategy struct{}

func (DefaultStrategy) AltersKey() bool                        { return false }
func (DefaultStrategy) AltersValue() bool                      { return false }
func (DefaultStrategy) TransformKey(key []byte) []byte         { return key }
func (DefaultStrategy) TransformValue(keyLen, valueLen int) []byte {
	panic("sample: DefaultStrategy.TransformValue should never be called; AltersValue is false")
}

// PhaseZeroStrategy writes the input key unchanged and replaces the value
// with the record's tuple_size, used by the phase-0 sampler to emit
// "key, tuple-size" records (spec.md §3/§4.3).
type PhaseZeroStrategy struct{}

func (PhaseZeroStrategy) AltersKey() bool                { return false }
func (PhaseZeroStrategy) AltersValue() bool              { return true }
func (PhaseZeroStrategy) TransformKey(key []byte) []byte { return key }
func (PhaseZeroStrategy) TransformValue(keyLen, valueLen int) []byte {
	return tupleSize(keyLen, valueLen)
}

// HashedPhaseZeroStrategy is PhaseZeroStrategy but also replaces the key
// with hash64(key) as an 8-byte big-endian string, for the hashed
// partition-function variant (spec.md §4.3).
type HashedPhaseZeroStrategy struct{}

func (HashedPhaseZeroStrategy) AltersKey() bool   { return true }
func (HashedPhaseZeroStrategy) AltersValue() bool { return true }
func (HashedPhaseZeroStrategy) TransformKey(key []byte) []byte {
	return kv.Hash64BE(key)
}
func (HashedPhaseZeroStrategy) TransformValue(keyLen, valueLen int) []byte {
	return tupleSize(keyLen, valueLen)
}
