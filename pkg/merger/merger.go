// Package merger implements Merger: the k-way tournament-heap merge that
// turns every partition's set of on-disk sorted chunks into one
// globally-sorted KVPairBuffer stream (spec.md §4.8).
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/workers/merger/Merger.{h,cc}
// and the heap shape in
// .../mapreduce/common/boundary/{HeapEntry.h,HeapEntryPtrComparator.h}. The
// original's priority_queue leaves same-key ties in whatever order the
// heap happens to produce; spec.md §4.8 tightens this to "chunk id
// ascending" so duplicate keys retain a deterministic order, which the
// heap.Interface below implements directly via its Less method.
package merger

import (
	"container/heap"
	"context"
	"sort"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/chunk"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/grailbio/base/errors"
)

// ChunkSource block-fetches the next buffer queued for a given
// (partition, chunk) pair, addressed by the same
// `base_offset[partition_id] + chunk_id` queue id the merger work-queueing
// policy uses (spec.md §4.1 table; pkg/workqueue.NewMergerPolicy builds
// that same offset table from a ChunkCounter). Kept as a narrow interface
// here rather than a dependency on *workqueue.Policy directly, since a
// *buffer.Buffer does not implement workqueue.Unit's SizeBytes method —
// the same kind of collapsed, package-local port already used for
// sample.Host and job.Source.
type ChunkSource interface {
	Dequeue(ctx context.Context, queueID uint64) (*buffer.Buffer, error)
}

// entry is a HeapEntry: the current head record of one chunk, plus the
// chunk id carried as the tiebreaker key.
type entry struct {
	chunkID uint64
	pair    kv.Pair
}

// tupleHeap is the TupleHeap: a min-heap over entries ordered by key, with
// chunk id ascending breaking ties (spec.md §4.8 "Failure semantics").
type tupleHeap []*entry

func (h tupleHeap) Len() int { return len(h) }
func (h tupleHeap) Less(i, j int) bool {
	if c := kv.CompareKeys(h[i].pair.Key, h[j].pair.Key); c != 0 {
		return c < 0
	}
	return h[i].chunkID < h[j].chunkID
}
func (h tupleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *tupleHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *tupleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// partitionState is one partition's worth of Merger.h's per-partition
// tables (tupleTables/inputBufferTables/tupleHeaps/outputBuffers/
// completedChunks/offsetMap, collapsed into one struct per partition
// instead of five maps keyed by partition id).
type partitionState struct {
	partitionID uint64
	numChunks   uint64
	queueOffset uint64

	heap tupleHeap

	inputBuf    map[uint64]*buffer.Buffer
	iter        map[uint64]*buffer.Iterator
	bytesMerged map[uint64]uint64
	chunkSize   map[uint64]uint64

	completedChunks uint64
	output          *buffer.Buffer
}

// Merger is the k-way merge worker. One Merger instance services every
// partition recorded in Chunks; it is not sharded (unlike Mapper/Demux, a
// run has exactly one logical merger per ChunkMap, matching the original's
// single-worker-per-ChunkMap-scope shape — see spec.md §4.8 "Input: one
// queue per (partition_id, chunk_id) pair").
type Merger struct {
	Chunks *chunk.Map
	Source ChunkSource
	Host   sample.Host

	// BufferCapacity is the default output buffer size; an individual
	// buffer may be allocated larger to fit a single oversized record
	// (spec.md §4.8 "max(default, record_size)").
	BufferCapacity int
}

// Run performs the full merge: every partition registered in Chunks is
// read to completion and its globally-sorted records are emitted as a
// sequence of output buffers tagged with that partition's id. Run blocks
// until every partition has been fully merged or an error occurs.
func (m *Merger) Run(ctx context.Context) error {
	diskMap := m.Chunks.DiskMap()
	sizeMap := m.Chunks.SizeMap()

	partitionIDs := make([]uint64, 0, len(diskMap))
	for id := range diskMap {
		partitionIDs = append(partitionIDs, id)
	}
	sort.Slice(partitionIDs, func(i, j int) bool { return partitionIDs[i] < partitionIDs[j] })

	states := make(map[uint64]*partitionState, len(partitionIDs))
	order := make([]uint64, 0, len(partitionIDs))

	var jobID job.ID
	var haveJobID bool

	var queueOffset uint64
	for _, partitionID := range partitionIDs {
		numChunks := uint64(len(diskMap[partitionID]))
		st := &partitionState{
			partitionID: partitionID,
			numChunks:   numChunks,
			queueOffset: queueOffset,
			inputBuf:    make(map[uint64]*buffer.Buffer, numChunks),
			iter:        make(map[uint64]*buffer.Iterator, numChunks),
			bytesMerged: make(map[uint64]uint64, numChunks),
			chunkSize:   sizeMap[partitionID],
		}
		queueOffset += numChunks

		for chunkID := uint64(0); chunkID < numChunks; chunkID++ {
			buf, err := m.Source.Dequeue(ctx, st.queueOffset+chunkID)
			if err != nil {
				return err
			}
			if buf == nil {
				return errors.E(errors.Fatal, "merger: partition %d chunk %d produced no initial buffer", partitionID, chunkID)
			}
			if !haveJobID {
				jobID, haveJobID = job.ID(buf.JobID), true
			}

			it := buf.Iterate()
			pair, ok := it.Next()
			if !ok {
				return errors.E(errors.Fatal, "merger: partition %d chunk %d's first buffer contained no tuple", partitionID, chunkID)
			}
			st.inputBuf[chunkID] = buf
			st.iter[chunkID] = it
			heap.Push(&st.heap, &entry{chunkID: chunkID, pair: pair})
		}

		states[partitionID] = st
		order = append(order, partitionID)
	}

	// Main loop: round-robin over the still-active partitions, servicing
	// each until it either emits an output buffer or finishes entirely
	// (spec.md §4.8 "round-robin over partitions"), which bounds any one
	// partition's outstanding backlog to a single buffer.
	for len(order) > 0 {
		next := order[:0]
		for _, partitionID := range order {
			finished, err := m.servicePartition(ctx, jobID, states[partitionID])
			if err != nil {
				return err
			}
			if !finished {
				next = append(next, partitionID)
			}
		}
		order = next
	}
	return nil
}

// servicePartition drives st's heap until it either emits an output buffer
// (returning finished=false so the round-robin loop moves to the next
// partition) or exhausts every chunk (returning finished=true after
// flushing any pending output buffer). Mirrors Merger::run()'s inner
// `while (!serviceNextPartition)` loop.
func (m *Merger) servicePartition(ctx context.Context, jobID job.ID, st *partitionState) (finished bool, err error) {
	for {
		top := heap.Pop(&st.heap).(*entry)
		chunkID := top.chunkID
		pair := top.pair

		serviceNextPartition := false

		limit := 0
		if st.output != nil {
			limit = st.output.Capacity()
			if m.BufferCapacity > 0 && m.BufferCapacity < limit {
				limit = m.BufferCapacity
			}
		}
		if st.output != nil && pair.WriteSize()+st.output.Size() > limit {
			m.Host.EmitBuffer(st.output)
			st.output = nil
			serviceNextPartition = true
		}

		if st.output == nil {
			size := m.BufferCapacity
			if need := pair.WriteSize(); need > size {
				size = need
			}
			out, gerr := m.Host.GetBuffer(ctx, size)
			if gerr != nil {
				return false, gerr
			}
			out.JobID = uint64(jobID)
			out.LogicalDiskID = st.partitionID
			st.output = out
		}

		if aerr := st.output.Append(pair.Key, pair.Value); aerr != nil {
			return false, aerr
		}
		st.bytesMerged[chunkID] += uint64(pair.WriteSize())

		nextPair, ok := st.iter[chunkID].Next()
		if !ok {
			// This chunk's current buffer is exhausted.
			m.Host.PutBuffer(st.inputBuf[chunkID])
			st.inputBuf[chunkID] = nil

			if st.bytesMerged[chunkID] == st.chunkSize[chunkID] {
				st.completedChunks++
			} else {
				nextBuf, derr := m.Source.Dequeue(ctx, st.queueOffset+chunkID)
				if derr != nil {
					return false, derr
				}
				if nextBuf == nil {
					return false, errors.E(errors.Fatal, "merger: partition %d chunk %d ended before its recorded size was reached", st.partitionID, chunkID)
				}
				it := nextBuf.Iterate()
				p, gotNext := it.Next()
				if !gotNext {
					return false, errors.E(errors.Fatal, "merger: partition %d chunk %d's next buffer contained no tuple", st.partitionID, chunkID)
				}
				st.inputBuf[chunkID] = nextBuf
				st.iter[chunkID] = it
				nextPair, ok = p, true
			}
		}

		if ok {
			heap.Push(&st.heap, &entry{chunkID: chunkID, pair: nextPair})
		}

		if st.completedChunks == st.numChunks {
			if st.output != nil {
				m.Host.EmitBuffer(st.output)
				st.output = nil
			}
			return true, nil
		}

		if serviceNextPartition {
			return false, nil
		}
	}
}
