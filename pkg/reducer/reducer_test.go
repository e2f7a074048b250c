package reducer

import (
	"context"
	"fmt"
	"testing"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
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

func newSourceBuffer(t *testing.T, jobID job.ID, partitionID uint64, pairs ...kv.Pair) *buffer.Buffer {
	t.Helper()
	b := buffer.New(4096, buffer.Framed)
	b.JobID = uint64(jobID)
	b.LogicalDiskID = partitionID
	for _, p := range pairs {
		require.NoError(t, b.Append(p.Key, p.Value))
	}
	return b
}

func collectValues(t *testing.T, bufs []*buffer.Buffer) map[string][]string {
	t.Helper()
	out := map[string][]string{}
	for _, b := range bufs {
		it := b.Iterate()
		for {
			pair, ok := it.Next()
			if !ok {
				break
			}
			out[string(pair.Key)] = append(out[string(pair.Key)], string(pair.Value))
		}
	}
	return out
}

func TestReducerAppliesIdentityReduceFunction(t *testing.T) {
	host := newFakeHost(4096)
	registry := job.NewFunctionRegistry[ReduceFunction]()
	registry.Register("identity", func() ReduceFunction { return IdentityReduceFunction{} })

	jobs := job.StaticSource{1: job.Info{JobID: 1, ReduceFunctionName: "identity"}}

	r := &Reducer{
		BufferCapacity:  4096,
		Host:            host,
		Jobs:            jobs,
		ReduceFunctions: registry,
	}

	buf := newSourceBuffer(t, 1, 7,
		kv.Pair{Key: []byte("A"), Value: []byte("V1")},
		kv.Pair{Key: []byte("A"), Value: []byte("V2")},
		kv.Pair{Key: []byte("B"), Value: []byte("W1")},
	)
	require.NoError(t, r.Run(context.Background(), buf))
	require.NoError(t, r.Teardown(context.Background()))

	got := collectValues(t, host.emitted)
	require.Equal(t, map[string][]string{"A": {"V1", "V2"}, "B": {"W1"}}, got)

	for _, b := range host.emitted {
		require.Equal(t, uint64(7), b.LogicalDiskID, "reducer output must be tagged with the input buffer's partition")
	}

	bytesIn, tuplesIn := r.Stats()
	require.Equal(t, uint64(buf.Size()), bytesIn)
	require.Equal(t, uint64(3), tuplesIn)
}

// sumValuesReduceFunction emits one record per key: the key, and the sum
// of its single-byte values as a decimal string (a minimal stand-in for
// the original's SumValuesReduceFunction).
type sumValuesReduceFunction struct{}

func (sumValuesReduceFunction) Configure() error { return nil }
func (sumValuesReduceFunction) Reduce(ctx context.Context, key []byte, values *ReduceKVPairIterator, writer sample.Writer) error {
	var sum int
	for {
		pair, ok, err := values.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sum += int(pair.Value[0])
	}
	return writer.Write(ctx, key, []byte(fmt.Sprintf("%d", sum)))
}

func TestReducerAppliesRegisteredReduceFunctionThatAggregates(t *testing.T) {
	host := newFakeHost(4096)
	registry := job.NewFunctionRegistry[ReduceFunction]()
	registry.Register("sum", func() ReduceFunction { return sumValuesReduceFunction{} })

	jobs := job.StaticSource{1: job.Info{JobID: 1, ReduceFunctionName: "sum"}}

	r := &Reducer{
		BufferCapacity:  4096,
		Host:            host,
		Jobs:            jobs,
		ReduceFunctions: registry,
	}

	buf := newSourceBuffer(t, 1, 0,
		kv.Pair{Key: []byte("A"), Value: []byte{3}},
		kv.Pair{Key: []byte("A"), Value: []byte{4}},
		kv.Pair{Key: []byte("B"), Value: []byte{10}},
	)
	require.NoError(t, r.Run(context.Background(), buf))

	got := collectValues(t, host.emitted)
	require.Equal(t, map[string][]string{"A": {"7"}, "B": {"10"}}, got)
}

func TestReducerRejectsSecondJobID(t *testing.T) {
	host := newFakeHost(4096)
	registry := job.NewFunctionRegistry[ReduceFunction]()
	registry.Register("identity", func() ReduceFunction { return IdentityReduceFunction{} })
	jobs := job.StaticSource{
		1: job.Info{JobID: 1, ReduceFunctionName: "identity"},
		2: job.Info{JobID: 2, ReduceFunctionName: "identity"},
	}

	r := &Reducer{BufferCapacity: 4096, Host: host, Jobs: jobs, ReduceFunctions: registry}

	require.NoError(t, r.Run(context.Background(), newSourceBuffer(t, 1, 0, kv.Pair{Key: []byte("A"), Value: []byte("x")})))
	err := r.Run(context.Background(), newSourceBuffer(t, 2, 0, kv.Pair{Key: []byte("A"), Value: []byte("y")}))
	require.Error(t, err)
}
