package demux

import (
	"context"
	"testing"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	pool    *buffer.Pool
	emitted []*buffer.Buffer
}

func newFakeHost(capacity int) *fakeHost {
	return &fakeHost{pool: buffer.NewPool(capacity, 1, 0, buffer.Framed)}
}

func (h *fakeHost) EmitBuffer(b *buffer.Buffer) { h.emitted = append(h.emitted, b) }
func (h *fakeHost) GetBuffer(ctx context.Context, minCapacity int) (*buffer.Buffer, error) {
	return h.pool.Get(ctx, minCapacity)
}
func (h *fakeHost) PutBuffer(b *buffer.Buffer)                                 { h.pool.Put(b) }
func (h *fakeHost) LogSample(p kv.Pair)                                        {}
func (h *fakeHost) LogWriteStats(bytesOut, bytesIn, tuplesOut, tuplesIn uint64) {}

type fixedLayout struct {
	perGroup, perNode uint64
}

func (l fixedLayout) NumPartitionsPerGroup(jobID job.ID) uint64 { return l.perGroup }
func (l fixedLayout) NumPartitionsPerNode(jobID job.ID) uint64  { return l.perNode }

// threeBucketFunction splits a single byte key's value into one of three
// local partitions: [0,10) -> 0, [10,20) -> 1, [20,..) -> 2, within the
// single partition group this demux services.
type threeBucketFunction struct{}

func (threeBucketFunction) GlobalPartition(key []byte) uint64 { return 0 }
func (threeBucketFunction) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	switch {
	case key[0] < 10:
		return 0
	case key[0] < 20:
		return 1
	default:
		return 2
	}
}
func (threeBucketFunction) NumGlobalPartitions() uint64 { return 3 }
func (threeBucketFunction) HashesKeys() bool            { return false }
func (threeBucketFunction) AcceptedByFilter(key []byte, filter partition.Filter) bool {
	return true
}

func newTestBuffer(t *testing.T, jobID job.ID, partitionGroup uint64, pairs ...kv.Pair) *buffer.Buffer {
	t.Helper()
	b := buffer.New(4096, buffer.Framed)
	b.JobID = uint64(jobID)
	b.PartitionGroup = partitionGroup
	for _, p := range pairs {
		require.NoError(t, b.Append(p.Key, p.Value))
	}
	return b
}

func TestDemuxRoutesByLocalPartitionAndTagsOffset(t *testing.T) {
	host := newFakeHost(4096)
	partitions := partition.NewFunctionMap(func(jobID job.ID) (partition.Function, error) {
		return threeBucketFunction{}, nil
	})

	d := &Demux{
		ID:             0,
		NodeID:         0,
		NumDemuxes:     1,
		BufferCapacity: 4096,
		Host:           host,
		Partitions:     partitions,
		Layout:         fixedLayout{perGroup: 3, perNode: 3},
	}

	ctx := context.Background()
	buf := newTestBuffer(t, 1, 0,
		kv.Pair{Key: []byte{5}, Value: []byte("a")},
		kv.Pair{Key: []byte{15}, Value: []byte("b")},
		kv.Pair{Key: []byte{25}, Value: []byte("c")},
	)
	require.NoError(t, d.Run(ctx, buf))
	require.NoError(t, d.Teardown(ctx))

	// partitionOffset = perNode*nodeID + perGroup*id = 3*0 + 3*0 = 0, so
	// logical_disk_id should equal the raw local bucket index.
	seen := map[uint64]string{}
	for _, b := range host.emitted {
		it := b.Iterate()
		pair, ok := it.Next()
		require.True(t, ok)
		seen[b.LogicalDiskID] = string(pair.Value)
	}
	require.Equal(t, map[uint64]string{0: "a", 1: "b", 2: "c"}, seen)
}

func TestDemuxRejectsWrongPartitionGroup(t *testing.T) {
	host := newFakeHost(4096)
	partitions := partition.NewFunctionMap(func(jobID job.ID) (partition.Function, error) {
		return threeBucketFunction{}, nil
	})

	d := &Demux{
		ID:             1,
		NumDemuxes:     4,
		BufferCapacity: 4096,
		Host:           host,
		Partitions:     partitions,
		Layout:         fixedLayout{perGroup: 3, perNode: 3},
	}

	ctx := context.Background()
	buf := newTestBuffer(t, 1, 5, kv.Pair{Key: []byte{1}, Value: []byte("x")}) // 5 % 4 == 1, should be fine
	require.NoError(t, d.Run(ctx, buf))

	badBuf := newTestBuffer(t, 1, 6, kv.Pair{Key: []byte{1}, Value: []byte("y")}) // 6 % 4 == 2, not this demux
	err := d.Run(ctx, badBuf)
	require.Error(t, err)
}

func TestDemuxRejectsSecondJobID(t *testing.T) {
	host := newFakeHost(4096)
	partitions := partition.NewFunctionMap(func(jobID job.ID) (partition.Function, error) {
		return threeBucketFunction{}, nil
	})

	d := &Demux{
		ID:             0,
		NumDemuxes:     1,
		BufferCapacity: 4096,
		Host:           host,
		Partitions:     partitions,
		Layout:         fixedLayout{perGroup: 3, perNode: 3},
	}

	ctx := context.Background()
	require.NoError(t, d.Run(ctx, newTestBuffer(t, 1, 0, kv.Pair{Key: []byte{1}, Value: []byte("x")})))
	err := d.Run(ctx, newTestBuffer(t, 2, 0, kv.Pair{Key: []byte{1}, Value: []byte("y")}))
	require.Error(t, err)
}
