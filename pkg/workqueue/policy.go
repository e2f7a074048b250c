package workqueue

import (
	"context"
	"fmt"
	"sort"
)

// Policy routes work units among a fixed set of ThreadSafeQueues. Enqueue
// selects a destination queue via an EnqueueID hook; Dequeue/NonBlockingDequeue
// /BatchDequeue select a source queue via a DequeueID hook. This is a direct
// port of
// _examples/original_source/src/tritonsort/core/WorkQueueingPolicy.{h,cc}:
// the only limitation carried over from there is that queue selection must
// not depend on queue occupancy (round-robin-by-occupancy policies, i.e.
// FairDiskPolicy, are implemented as their own type in fairdisk.go rather than as an
// EnqueueID hook).
type Policy struct {
	queues []*ThreadSafeQueue

	// EnqueueID chooses the destination queue for a work unit. The default
	// (nil) always returns 0, matching WorkQueueingPolicy::getEnqueueID's
	// base implementation.
	EnqueueID func(workUnit Unit) uint64

	// DequeueID maps a caller-requested queue ID (typically a worker ID)
	// onto one of this policy's queues. The default (nil) is requested mod
	// numQueues, matching WorkQueueingPolicy::getDequeueID's base
	// implementation.
	DequeueID func(requestedQueueID uint64) uint64
}

// NewPolicy constructs a policy over numQueues empty queues.
func NewPolicy(numQueues uint64) *Policy {
	p := &Policy{queues: make([]*ThreadSafeQueue, numQueues)}
	for i := range p.queues {
		p.queues[i] = NewThreadSafeQueue()
	}
	return p
}

// NumQueues returns the number of queues this policy manages.
func (p *Policy) NumQueues() int { return len(p.queues) }

func (p *Policy) enqueueID(workUnit Unit) uint64 {
	if p.EnqueueID != nil {
		return p.EnqueueID(workUnit)
	}
	return 0
}

func (p *Policy) dequeueID(requestedQueueID uint64) uint64 {
	if p.DequeueID != nil {
		return p.DequeueID(requestedQueueID)
	}
	return requestedQueueID % uint64(len(p.queues))
}

// Enqueue routes a non-nil work unit to its destination queue. Use Teardown
// to signal end-of-stream; enqueuing a nil work unit here panics, matching
// the original's assertion that NULL must go through teardown.
func (p *Policy) Enqueue(workUnit Unit) {
	if workUnit == nil {
		panic("workqueue: cannot enqueue a nil work unit; call Teardown instead")
	}
	id := p.enqueueID(workUnit)
	p.queues[id].Push(workUnit)
}

// Dequeue blocks until a work unit is available on the queue addressed by
// requestedQueueID, or until ctx is done.
func (p *Policy) Dequeue(ctx context.Context, requestedQueueID uint64) (Unit, error) {
	id := p.dequeueID(requestedQueueID)
	return p.queues[id].BlockingPop(ctx)
}

// NonBlockingDequeue attempts an immediate dequeue. gotNewWork is false only
// when the addressed queue is empty and not yet terminal.
func (p *Policy) NonBlockingDequeue(requestedQueueID uint64) (workUnit Unit, gotNewWork bool) {
	id := p.dequeueID(requestedQueueID)
	return p.queues[id].Pop()
}

// BatchDequeue splices the entire contents of the addressed queue onto dest.
func (p *Policy) BatchDequeue(requestedQueueID uint64, dest *Queue) {
	id := p.dequeueID(requestedQueueID)
	p.queues[id].MoveWorkToQueue(dest)
}

// Teardown pushes the terminal sentinel to every queue so blocked dequeuers
// wake up and see end-of-stream.
func (p *Policy) Teardown() {
	for _, q := range p.queues {
		q.Push(nil)
	}
}

// --- spec.md §4.1 named specializations -----------------------------------

// Disker is satisfied by a work unit that carries a destination logical
// disk ID (a KVPairBuffer in spec terms).
type Disker interface {
	DiskID() uint64
}

// PartitionGrouper is satisfied by a work unit that carries a destination
// partition group.
type PartitionGrouper interface {
	PartitionGroup() (group uint64, ok bool)
}

// Noder is satisfied by a work unit that carries (or can be assigned) a
// destination node ID.
type Noder interface {
	NodeID() uint64
	SetNodeID(uint64)
}

// Streamer is satisfied by a work unit that carries a byte-stream ID (a raw
// ByteStreamBuffer in spec terms).
type Streamer interface {
	StreamID() uint64
}

// Chunker is satisfied by a work unit that carries a destination partition
// (logical disk) ID and a size, and that can be assigned a chunk ID once
// one is allocated.
type Chunker interface {
	Disker
	SizeBytes() uint64
	SetChunkID(uint64)
}

// MergeChunker is satisfied by a work unit that carries a partition ID and
// an already-assigned chunk ID (output of the chunking stage).
type MergeChunker interface {
	Disker
	ChunkID() uint64
}

// DiskRequester is satisfied by a read-request work unit addressed to a
// physical disk.
type DiskRequester interface {
	DiskID() uint64
}

// ChunkAllocator is the subset of pkg/chunk.Map needed by
// NewChunkingPolicy, kept as a local interface so workqueue never imports
// chunk (avoiding any import-cycle risk as the two packages evolve
// independently).
type ChunkAllocator interface {
	AddChunk(partitionID, sizeBytes uint64) (chunkID uint64)
	DiskID(partitionID, chunkID uint64) uint64
}

// ChunkCounter is the subset of pkg/chunk.Map needed by NewMergerPolicy to
// build its partition-id -> queue-offset table at construction time.
type ChunkCounter interface {
	// PartitionChunkCounts returns, for every partition that has at least
	// one chunk, the number of chunks allocated to it so far.
	PartitionChunkCounts() map[uint64]int
}

// NewDefaultPolicy returns the base round-robin-by-request policy used
// whenever a stage has no specialized routing need (spec.md §4.1 "default").
func NewDefaultPolicy(numQueues uint64) *Policy {
	return NewPolicy(numQueues)
}

// NewByteStreamPolicy routes raw byte-stream buffers to the converter
// indexed by streamID mod numConverters (spec.md §4.1 "byte-stream";
// grounded on ByteStreamWorkQueueingPolicy.cc).
func NewByteStreamPolicy(numConverters uint64) *Policy {
	p := NewPolicy(numConverters)
	p.EnqueueID = func(workUnit Unit) uint64 {
		s, ok := workUnit.(Streamer)
		if !ok {
			panic("workqueue: byte-stream policy requires a Streamer work unit")
		}
		return s.StreamID() % numConverters
	}
	return p
}

// NewNetworkDestinationPolicy routes buffers to the peer that owns their
// partition group, deriving and stamping the node ID from the partition
// group when one is present, else trusting an already-assigned node ID
// (spec.md §4.1 "network-destination"; grounded on
// NetworkDestinationWorkQueueingPolicy.cc).
func NewNetworkDestinationPolicy(partitionGroupsPerNode, numPeers uint64) *Policy {
	p := NewPolicy(numPeers)
	p.EnqueueID = func(workUnit Unit) uint64 {
		n, ok := workUnit.(Noder)
		if !ok {
			panic("workqueue: network-destination policy requires a Noder work unit")
		}
		pg, ok := workUnit.(PartitionGrouper)
		if ok {
			if group, has := pg.PartitionGroup(); has {
				nodeID := group / partitionGroupsPerNode
				n.SetNodeID(nodeID)
				return nodeID
			}
		}
		return n.NodeID()
	}
	return p
}

// NewPartitionGroupPolicy routes buffers to the local worker responsible
// for their partition group (spec.md §4.1 "partition-group"; grounded on
// PartitionGroupWorkQueueingPolicy.cc).
func NewPartitionGroupPolicy(partitionGroupsPerNode, numWorkers uint64) *Policy {
	p := NewPolicy(numWorkers)
	p.EnqueueID = func(workUnit Unit) uint64 {
		pg, ok := workUnit.(PartitionGrouper)
		if !ok {
			panic("workqueue: partition-group policy requires a PartitionGrouper work unit")
		}
		group, has := pg.PartitionGroup()
		if !has {
			panic("workqueue: partition-group policy requires a work unit with a partition group set")
		}
		return group % partitionGroupsPerNode
	}
	return p
}

// NewPhysicalDiskPolicy routes read requests to the reader responsible for
// their disk (spec.md §4.1 "physical-disk" / "read-request"; grounded on
// ReadRequestWorkQueueingPolicy.cc).
func NewPhysicalDiskPolicy(numReaders uint64) *Policy {
	p := NewPolicy(numReaders)
	p.EnqueueID = func(workUnit Unit) uint64 {
		r, ok := workUnit.(DiskRequester)
		if !ok {
			panic("workqueue: physical-disk policy requires a DiskRequester work unit")
		}
		return r.DiskID() % numReaders
	}
	return p
}

// NewChunkingPolicy allocates a chunk ID for each buffer via chunks, then
// routes it to the writer responsible for the chunk's assigned disk
// (spec.md §4.1 "chunking"; grounded on ChunkingWorkQueueingPolicy.cc).
func NewChunkingPolicy(numDisksPerWorker, numWorkers uint64, chunks ChunkAllocator) *Policy {
	p := NewPolicy(numWorkers)
	p.EnqueueID = func(workUnit Unit) uint64 {
		c, ok := workUnit.(Chunker)
		if !ok {
			panic("workqueue: chunking policy requires a Chunker work unit")
		}
		partitionID := c.DiskID()
		chunkID := chunks.AddChunk(partitionID, c.SizeBytes())
		c.SetChunkID(chunkID)
		diskID := chunks.DiskID(partitionID, chunkID)
		queueID := diskID / numDisksPerWorker
		if queueID >= numWorkers {
			panic(fmt.Sprintf("workqueue: computed queue %d from disk %d and disks-per-worker %d exceeds %d queues", queueID, diskID, numDisksPerWorker, numWorkers))
		}
		return queueID
	}
	return p
}

// NewMergerPolicy gives every (partition, chunk) pair reconstructed by the
// chunking stage its own queue, ordered so each partition's chunks occupy a
// contiguous queue range (spec.md §4.1 "merger"; grounded on
// MergerWorkQueueingPolicy.cc). totalNumChunks must equal the sum of
// counts.PartitionChunkCounts(), one queue per chunk overall.
func NewMergerPolicy(totalNumChunks uint64, counts ChunkCounter) *Policy {
	p := NewPolicy(totalNumChunks)

	perPartition := counts.PartitionChunkCounts()
	partitionIDs := make([]uint64, 0, len(perPartition))
	for id := range perPartition {
		partitionIDs = append(partitionIDs, id)
	}
	sort.Slice(partitionIDs, func(i, j int) bool { return partitionIDs[i] < partitionIDs[j] })

	offsetMap := make(map[uint64]uint64, len(partitionIDs))
	var offset uint64
	for _, id := range partitionIDs {
		offsetMap[id] = offset
		offset += uint64(perPartition[id])
	}

	p.EnqueueID = func(workUnit Unit) uint64 {
		m, ok := workUnit.(MergeChunker)
		if !ok {
			panic("workqueue: merger policy requires a MergeChunker work unit")
		}
		partitionID := m.DiskID()
		base, known := offsetMap[partitionID]
		if !known {
			panic(fmt.Sprintf("workqueue: merger policy saw unknown partition %d", partitionID))
		}
		queueID := base + m.ChunkID()
		if queueID >= totalNumChunks {
			panic(fmt.Sprintf("workqueue: computed queue %d from partition %d chunk %d exceeds %d queues", queueID, partitionID, m.ChunkID(), totalNumChunks))
		}
		return queueID
	}
	return p
}
