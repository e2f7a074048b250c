package workqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEnqueuesToQueueZero(t *testing.T) {
	p := NewDefaultPolicy(3)
	p.Enqueue(&fakeUnit{size: 1})
	require.Equal(t, 1, p.queues[0].Size())

	u, got := p.NonBlockingDequeue(0)
	require.True(t, got)
	require.NotNil(t, u)

	_, got = p.NonBlockingDequeue(1) // 1 mod 3 == 1, empty and not terminal
	require.False(t, got)
}

func TestByteStreamPolicyRoutesByStreamID(t *testing.T) {
	p := NewByteStreamPolicy(4)
	p.Enqueue(&fakeUnit{stream: 9}) // 9 % 4 == 1
	require.Equal(t, 1, p.queues[1].Size())
}

func TestNetworkDestinationPolicyDerivesNodeFromGroup(t *testing.T) {
	p := NewNetworkDestinationPolicy(2, 5)
	u := &fakeUnit{partition: 7, hasGroup: true} // nodeID = 7/2 = 3
	p.Enqueue(u)
	require.Equal(t, uint64(3), u.node)
	require.Equal(t, 1, p.queues[3].Size())
}

func TestNetworkDestinationPolicyFallsBackToNode(t *testing.T) {
	p := NewNetworkDestinationPolicy(2, 5)
	u := &fakeUnit{hasGroup: false, node: 4}
	p.Enqueue(u)
	require.Equal(t, 1, p.queues[4].Size())
}

func TestPartitionGroupPolicyRoutesByGroupModPerNode(t *testing.T) {
	p := NewPartitionGroupPolicy(3, 8)
	u := &fakeUnit{partition: 10, hasGroup: true} // 10 % 3 == 1
	p.Enqueue(u)
	require.Equal(t, 1, p.queues[1].Size())
}

func TestPhysicalDiskPolicyRoutesByDiskModReaders(t *testing.T) {
	p := NewPhysicalDiskPolicy(4)
	u := &fakeUnit{disk: 6} // 6 % 4 == 2
	p.Enqueue(u)
	require.Equal(t, 1, p.queues[2].Size())
}

type fakeChunkAllocator struct {
	nextChunkID map[uint64]uint64
	diskOf      func(partitionID, chunkID uint64) uint64
}

func (f *fakeChunkAllocator) AddChunk(partitionID, sizeBytes uint64) uint64 {
	id := f.nextChunkID[partitionID]
	f.nextChunkID[partitionID]++
	return id
}

func (f *fakeChunkAllocator) DiskID(partitionID, chunkID uint64) uint64 {
	return f.diskOf(partitionID, chunkID)
}

func TestChunkingPolicyAllocatesAndRoutesByDisk(t *testing.T) {
	alloc := &fakeChunkAllocator{
		nextChunkID: map[uint64]uint64{},
		diskOf:      func(partitionID, chunkID uint64) uint64 { return 5 },
	}
	p := NewChunkingPolicy(2, 4, alloc) // diskID 5 / 2 == 2
	u := &fakeUnit{disk: 0, size: 100}
	p.Enqueue(u)
	require.Equal(t, uint64(0), u.chunk)
	require.Equal(t, 1, p.queues[2].Size())
}

type fakeChunkCounter struct {
	counts map[uint64]int
}

func (f *fakeChunkCounter) PartitionChunkCounts() map[uint64]int { return f.counts }

func TestMergerPolicyBuildsContiguousOffsets(t *testing.T) {
	counts := &fakeChunkCounter{counts: map[uint64]int{0: 2, 1: 3}}
	p := NewMergerPolicy(5, counts) // partition 0 -> offset 0, partition 1 -> offset 2

	u0 := &fakeUnit{disk: 0, chunk: 1}
	p.Enqueue(u0)
	require.Equal(t, 1, p.queues[1].Size())

	u1 := &fakeUnit{disk: 1, chunk: 1}
	p.Enqueue(u1)
	require.Equal(t, 1, p.queues[3].Size())
}

func TestFairDiskPolicyRoundRobinsAcrossDisks(t *testing.T) {
	p := NewFairDiskPolicy(3)
	p.Enqueue(&fakeUnit{disk: 0})
	p.Enqueue(&fakeUnit{disk: 1})
	p.Enqueue(&fakeUnit{disk: 2})

	ctx := context.Background()
	u0, err := p.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), u0.(*fakeUnit).disk)

	u1, err := p.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), u1.(*fakeUnit).disk)

	u2, err := p.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), u2.(*fakeUnit).disk)
}

func TestFairDiskPolicyTeardownUnblocksDequeue(t *testing.T) {
	p := NewFairDiskPolicy(2)
	p.Teardown()
	u, err := p.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestPolicyTeardownDeliversNilToEveryQueue(t *testing.T) {
	p := NewDefaultPolicy(2)
	p.Teardown()
	u, err := p.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	require.Nil(t, u)
	u, err = p.Dequeue(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, u)
}
