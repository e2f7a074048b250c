// Package partition implements the key-space partitioner: the
// PartitionFunction trait (spec.md §3/§4.4) and the KeyPartitioner
// sampled-boundary-list structure it is usually built from (spec.md
// §4.5).
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/common/boundary/KeyPartitioner.h
// for the binary-search/boundary-list shape, generalized per spec.md's
// prose description of the construction algorithm (global list + one
// local list per partition group, built by walking the sampled boundary
// buffer and splitting it at the group-transition points).
package partition

import (
	"fmt"
	"sort"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
)

// Filter is a caller-supplied predicate a PartitionFunction consults via
// AcceptedByFilter; nil means "accept everything".
type Filter func(key []byte) bool

// Function is the PartitionFunction trait (spec.md §3).
type Function interface {
	GlobalPartition(key []byte) uint64
	LocalPartition(key []byte, partitionGroup uint64) uint64
	NumGlobalPartitions() uint64
	HashesKeys() bool
	AcceptedByFilter(key []byte, filter Filter) bool
}

func acceptedByFilter(key []byte, filter Filter) bool {
	if filter == nil {
		return true
	}
	return filter(key)
}

// upperBucket returns the lowest index i in [0, len(boundaries)] such that
// key <= boundaries[i] under compare, or len(boundaries) if key is greater
// than every boundary. This is exactly the "equality goes to the upper
// bucket, boundary 0 is an inclusive lower bound" rule of spec.md §4.2/§4.5:
// sort.Search finds the first index for which the predicate holds, and
// since boundaries is sorted ascending, that is the first index the key
// does not exceed.
//
// sort.Search is the stdlib's generic binary-search primitive; no pack
// library provides a boundary-list/ordered-search abstraction, so this is
// the same class of justified-stdlib use as container/heap in the merger:
// a thin, general algorithm rather than a domain concern.
func upperBucket(key []byte, boundaries [][]byte, compare func(a, b []byte) int) uint64 {
	i := sort.Search(len(boundaries), func(i int) bool {
		return compare(key, boundaries[i]) <= 0
	})
	return uint64(i)
}

// KeyPartitioner holds a global_key_list of G-1 boundary keys and, per
// partition group, a local_key_list of L-1 boundary keys (spec.md §4.2).
type KeyPartitioner struct {
	NumPartitionGroups uint64
	PartitionsPerGroup uint64
	NodeID             uint64

	GlobalKeyList [][]byte
	LocalKeyLists [][][]byte // len == NumPartitionGroups

	compare func(a, b []byte) int
}

// NewKeyPartitioner constructs a partitioner from already-split global and
// local key lists, comparing raw bytes lexicographically.
func NewKeyPartitioner(numGroups, partitionsPerGroup, nodeID uint64, globalKeyList [][]byte, localKeyLists [][][]byte) (*KeyPartitioner, error) {
	if uint64(len(localKeyLists)) != numGroups {
		return nil, fmt.Errorf("partition: expected %d local key lists, got %d", numGroups, len(localKeyLists))
	}
	return &KeyPartitioner{
		NumPartitionGroups: numGroups,
		PartitionsPerGroup: partitionsPerGroup,
		NodeID:             nodeID,
		GlobalKeyList:      globalKeyList,
		LocalKeyLists:      localKeyLists,
		compare:            kv.CompareKeys,
	}, nil
}

// NewHashedKeyPartitioner is like NewKeyPartitioner but compares search keys
// as 8-byte big-endian hash64 strings rather than raw bytes (backs
// HashedBoundaryList).
func NewHashedKeyPartitioner(numGroups, partitionsPerGroup, nodeID uint64, globalKeyList [][]byte, localKeyLists [][][]byte) (*KeyPartitioner, error) {
	kp, err := NewKeyPartitioner(numGroups, partitionsPerGroup, nodeID, globalKeyList, localKeyLists)
	if err != nil {
		return nil, err
	}
	kp.compare = kv.CompareKeys // boundaries are already hashed bytes; hashing of the query key happens in HashedBoundaryList
	return kp, nil
}

// FromBoundaryBuffer splits a flat, ascending sequence of G*L-1 boundary
// keys into a KeyPartitioner's global and local key lists (spec.md §4.5
// "Algorithm"). Boundaries are walked in order; the boundary at flat
// position i*PartitionsPerGroup-1 (for i = 1..NumPartitionGroups-1)
// separates two partition groups and becomes a global-list entry, and each
// maximal run between (or before/after) those transition points becomes one
// group's local_key_list, in group order.
func FromBoundaryBuffer(numGroups, partitionsPerGroup, nodeID uint64, boundaries [][]byte) (*KeyPartitioner, error) {
	want := numGroups*partitionsPerGroup - 1
	if uint64(len(boundaries)) != want {
		return nil, fmt.Errorf("partition: expected %d boundaries for G=%d L=%d, got %d", want, numGroups, partitionsPerGroup, len(boundaries))
	}

	globalPositions := make(map[uint64]bool, numGroups-1)
	for i := uint64(1); i < numGroups; i++ {
		globalPositions[i*partitionsPerGroup-1] = true
	}

	globalKeyList := make([][]byte, 0, numGroups-1)
	localKeyLists := make([][][]byte, 0, numGroups)
	run := make([][]byte, 0, partitionsPerGroup-1)
	for i, b := range boundaries {
		if globalPositions[uint64(i)] {
			globalKeyList = append(globalKeyList, b)
			localKeyLists = append(localKeyLists, run)
			run = make([][]byte, 0, partitionsPerGroup-1)
			continue
		}
		run = append(run, b)
	}
	localKeyLists = append(localKeyLists, run)

	return NewKeyPartitioner(numGroups, partitionsPerGroup, nodeID, globalKeyList, localKeyLists)
}

// GlobalPartition returns the lowest group index whose global boundary is
// >= key, or NumPartitionGroups-1 if key exceeds every boundary.
func (kp *KeyPartitioner) GlobalPartition(key []byte) uint64 {
	return upperBucket(key, kp.GlobalKeyList, kp.compare)
}

// LocalPartition returns, within partitionGroup, the lowest local index
// whose boundary is >= key, or PartitionsPerGroup-1 if key exceeds every
// local boundary in that group.
func (kp *KeyPartitioner) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	return upperBucket(key, kp.LocalKeyLists[partitionGroup], kp.compare)
}

// Equal reports whether kp and other have identical configuration and key
// lists, used to validate the write_to_file/from_file round trip (spec.md
// §8).
func (kp *KeyPartitioner) Equal(other *KeyPartitioner) bool {
	if kp.NumPartitionGroups != other.NumPartitionGroups || kp.PartitionsPerGroup != other.PartitionsPerGroup {
		return false
	}
	if !keyListEqual(kp.GlobalKeyList, other.GlobalKeyList) {
		return false
	}
	if len(kp.LocalKeyLists) != len(other.LocalKeyLists) {
		return false
	}
	for g := range kp.LocalKeyLists {
		if !keyListEqual(kp.LocalKeyLists[g], other.LocalKeyLists[g]) {
			return false
		}
	}
	return true
}

func keyListEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if kv.CompareKeys(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}
