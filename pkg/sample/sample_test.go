package sample

import (
	"context"
	"testing"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	emitted []*buffer.Buffer
	pool    *buffer.Pool
	samples []kv.Pair
	stats   [][4]uint64
}

func newFakeHost(capacity int) *fakeHost {
	return &fakeHost{pool: buffer.NewPool(capacity, 1, 0, buffer.Framed)}
}

func (h *fakeHost) EmitBuffer(b *buffer.Buffer) { h.emitted = append(h.emitted, b) }
func (h *fakeHost) GetBuffer(ctx context.Context, minCapacity int) (*buffer.Buffer, error) {
	return h.pool.Get(ctx, minCapacity)
}
func (h *fakeHost) PutBuffer(b *buffer.Buffer) { h.pool.Put(b) }
func (h *fakeHost) LogSample(p kv.Pair)        { h.samples = append(h.samples, p) }
func (h *fakeHost) LogWriteStats(bytesOut, bytesIn, tuplesOut, tuplesIn uint64) {
	h.stats = append(h.stats, [4]uint64{bytesOut, bytesIn, tuplesOut, tuplesIn})
}

func TestReservoirWriterFreezesAtHalfBufferCapacity(t *testing.T) {
	host := newFakeHost(256)
	// Each ("x", "1")-shaped record is kv.HeaderSize+1+1 = 10 bytes; four of
	// them (40 bytes) are the first to cross half of this 64-byte buffer
	// (32 bytes), so the reservoir must freeze at exactly 4 slots rather
	// than some caller-guessed constant.
	w := NewReservoirWriter(host, DefaultStrategy{}, nil, 1, 64, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Write(ctx, []byte{byte('a' + i)}, []byte("1")))
	}
	require.Len(t, w.offsets, 4)
	require.Equal(t, uint64(4), w.maxSamples)

	// Every later tuple only ever replaces an existing slot from here on;
	// the reservoir itself never grows again.
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Write(ctx, []byte{byte('z' - i)}, []byte("1")))
	}
	require.Len(t, w.offsets, 4)

	require.NoError(t, w.FlushBuffers(ctx))
	require.Len(t, host.emitted, 1)
	require.Equal(t, uint64(14), host.emitted[0].Sample.TuplesIn)
	require.Equal(t, uint64(4), host.emitted[0].Sample.TuplesOut)
	// bytesOut is recomputed from the 4 kept slots, not accumulated across
	// every append-and-replace along the way.
	require.Equal(t, uint64(4*10), host.emitted[0].Sample.BytesOut)
}

func TestReservoirWriterPhaseZeroExampleShape(t *testing.T) {
	host := newFakeHost(4096)
	w := NewReservoirWriter(host, PhaseZeroStrategy{}, nil, 7, 4096, nil)
	ctx := context.Background()

	key := make([]byte, 10)
	for i := range key {
		key[i] = byte(i)
	}
	value := make([]byte, 300)
	require.NoError(t, w.Write(ctx, key, value))
	require.NoError(t, w.FlushBuffers(ctx))

	require.Len(t, host.emitted, 1)
	it := host.emitted[0].Iterate()
	pair, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, key, pair.Key) // PhaseZeroStrategy does not alter the key
	require.Len(t, pair.Value, 8)
	tupleSize := kv.HeaderSize + 10 + 300
	require.Equal(t, uint64(tupleSize), byteOrderUint64(pair.Value))
}

func byteOrderUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func TestFastKVPairWriterWritesEveryRecord(t *testing.T) {
	host := newFakeHost(256)
	w := NewFastKVPairWriter(host, 1, 256, partition.SinglePartitionMerging{})
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, []byte("k1"), []byte("v1")))
	require.NoError(t, w.Write(ctx, []byte("k2"), []byte("v2")))
	require.NoError(t, w.FlushBuffers(ctx))

	require.Len(t, host.emitted, 1)
	it := host.emitted[0].Iterate()
	_, ok := it.Next()
	require.True(t, ok)
	_, ok = it.Next()
	require.True(t, ok)
}

func TestKVPairWriterFilterDropsSilently(t *testing.T) {
	host := newFakeHost(256)
	filter := func(key, value []byte) bool { return string(key) != "drop-me" }
	w := NewKVPairWriter(host, 1, 256, partition.SinglePartitionMerging{}, nil, filter)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, []byte("drop-me"), []byte("x")))
	require.NoError(t, w.Write(ctx, []byte("keep-me"), []byte("y")))
	require.NoError(t, w.FlushBuffers(ctx))

	require.Len(t, host.emitted, 1)
	it := host.emitted[0].Iterate()
	pair, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "keep-me", string(pair.Key))
	_, ok = it.Next()
	require.False(t, ok)
}

func TestPartialKVPairWriterFillsAcrossBufferBoundary(t *testing.T) {
	host := newFakeHost(32) // small enough to force a split
	w := NewPartialKVPairWriter(host, 1, 32, partition.SinglePartitionMerging{})
	ctx := context.Background()

	value := make([]byte, 40)
	for i := range value {
		value[i] = byte(i)
	}
	require.NoError(t, w.Write(ctx, []byte("the-key"), value))
	require.NoError(t, w.FlushBuffers(ctx))

	// the record spans at least two buffers since it doesn't fit in one.
	require.GreaterOrEqual(t, len(host.emitted), 2)
	total := 0
	for _, b := range host.emitted {
		total += b.Size()
	}
	require.Equal(t, kv.HeaderSize+len("the-key")+len(value), total)
}
