package partition

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeKeyList writes count:u64 followed by count (len:u32, bytes) entries
// (spec.md §6 "Boundary-list file").
func writeKeyList(w io.Writer, keys [][]byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(k))); err != nil {
			return err
		}
		if _, err := w.Write(k); err != nil {
			return err
		}
	}
	return nil
}

func readKeyList(r io.Reader) ([][]byte, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	keys := make([][]byte, count)
	for i := range keys {
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		keys[i] = buf
	}
	return keys, nil
}

// WriteTo serializes the partitioner as the boundary-list file format of
// spec.md §6: header {num_groups:u64, partitions_per_group:u64}, then the
// global key list, then each group's local key list in group-id order.
func (kp *KeyPartitioner) WriteTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, kp.NumPartitionGroups); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, kp.PartitionsPerGroup); err != nil {
		return err
	}
	if err := writeKeyList(w, kp.GlobalKeyList); err != nil {
		return err
	}
	for g := uint64(0); g < kp.NumPartitionGroups; g++ {
		if err := writeKeyList(w, kp.LocalKeyLists[g]); err != nil {
			return err
		}
	}
	return nil
}

// ReadKeyPartitioner deserializes a boundary-list file produced by WriteTo,
// binding it to nodeID (the file format itself carries no node ID: it is an
// artifact shared across every node in the run).
func ReadKeyPartitioner(r io.Reader, nodeID uint64) (*KeyPartitioner, error) {
	var numGroups, partitionsPerGroup uint64
	if err := binary.Read(r, binary.LittleEndian, &numGroups); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &partitionsPerGroup); err != nil {
		return nil, err
	}
	globalKeyList, err := readKeyList(r)
	if err != nil {
		return nil, fmt.Errorf("partition: reading global key list: %w", err)
	}
	localKeyLists := make([][][]byte, numGroups)
	for g := uint64(0); g < numGroups; g++ {
		local, err := readKeyList(r)
		if err != nil {
			return nil, fmt.Errorf("partition: reading local key list for group %d: %w", g, err)
		}
		localKeyLists[g] = local
	}
	return NewKeyPartitioner(numGroups, partitionsPerGroup, nodeID, globalKeyList, localKeyLists)
}
