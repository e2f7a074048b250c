package partition

import (
	"fmt"
	"math/rand"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
)

// BoundaryList is the order-preserving partition function: binary search of
// the KeyPartitioner's global list, then of the matching local list
// (spec.md §4.4).
type BoundaryList struct {
	KP *KeyPartitioner
}

func (f BoundaryList) GlobalPartition(key []byte) uint64 { return f.KP.GlobalPartition(key) }
func (f BoundaryList) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	return f.KP.LocalPartition(key, partitionGroup)
}
func (f BoundaryList) NumGlobalPartitions() uint64 { return f.KP.NumPartitionGroups }
func (f BoundaryList) HashesKeys() bool            { return false }
func (f BoundaryList) AcceptedByFilter(key []byte, filter Filter) bool {
	return acceptedByFilter(key, filter)
}

// HashedBoundaryList is BoundaryList but searches on hash64(key) as an
// 8-byte big-endian string rather than the raw key; not order-preserving
// (spec.md §4.4).
type HashedBoundaryList struct {
	KP *KeyPartitioner
}

func (f HashedBoundaryList) GlobalPartition(key []byte) uint64 {
	return f.KP.GlobalPartition(kv.Hash64BE(key))
}
func (f HashedBoundaryList) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	return f.KP.LocalPartition(kv.Hash64BE(key), partitionGroup)
}
func (f HashedBoundaryList) NumGlobalPartitions() uint64 { return f.KP.NumPartitionGroups }
func (f HashedBoundaryList) HashesKeys() bool            { return true }
func (f HashedBoundaryList) AcceptedByFilter(key []byte, filter Filter) bool {
	return acceptedByFilter(key, filter)
}

// Uniform assumes keys are independently uniform over their leading 24 bits
// (the standard sort-benchmark key shape) and needs no boundary list
// (spec.md §4.4).
type Uniform struct {
	NumGroups          uint64
	PartitionsPerGroup uint64
}

const uniformPrefixSpace = 1 << 24

func uniformPrefix(key []byte) uint32 {
	if len(key) < 3 {
		panic(fmt.Sprintf("partition: Uniform requires keys of at least 3 bytes, got %d", len(key)))
	}
	return uint32(key[0])<<16 | uint32(key[1])<<8 | uint32(key[2])
}

func (f Uniform) GlobalPartition(key []byte) uint64 {
	h := uniformPrefix(key)
	return uint64(h) * f.NumGroups / uniformPrefixSpace
}

func (f Uniform) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	h := uniformPrefix(key)
	return uint64(h) * f.PartitionsPerGroup / uniformPrefixSpace
}

func (f Uniform) NumGlobalPartitions() uint64 { return f.NumGroups }
func (f Uniform) HashesKeys() bool            { return false }
func (f Uniform) AcceptedByFilter(key []byte, filter Filter) bool {
	return acceptedByFilter(key, filter)
}

// SinglePartitionMerging always returns partition 0, used to force every
// record through a single-partition funnel (spec.md §4.4).
type SinglePartitionMerging struct{}

func (SinglePartitionMerging) GlobalPartition([]byte) uint64                 { return 0 }
func (SinglePartitionMerging) LocalPartition([]byte, uint64) uint64         { return 0 }
func (SinglePartitionMerging) NumGlobalPartitions() uint64                  { return 1 }
func (SinglePartitionMerging) HashesKeys() bool                             { return false }
func (SinglePartitionMerging) AcceptedByFilter(key []byte, filter Filter) bool {
	return acceptedByFilter(key, filter)
}

// RandomNode sends every record's global partition to a uniformly random
// node, with local partition always 0 (spec.md §4.4). Grounded on
// math/rand: no pack library ships a partition-shuffling PRNG, and the
// function needs nothing beyond a uniform source over [0, numNodes).
type RandomNode struct {
	NumNodes uint64
	Rand     *rand.Rand // nil uses the package-level source
}

func (f RandomNode) GlobalPartition([]byte) uint64 {
	if f.Rand != nil {
		return uint64(f.Rand.Int63n(int64(f.NumNodes)))
	}
	return uint64(rand.Int63n(int64(f.NumNodes)))
}
func (f RandomNode) LocalPartition([]byte, uint64) uint64 { return 0 }
func (f RandomNode) NumGlobalPartitions() uint64          { return f.NumNodes }
func (f RandomNode) HashesKeys() bool                     { return false }
func (f RandomNode) AcceptedByFilter(key []byte, filter Filter) bool {
	return acceptedByFilter(key, filter)
}
