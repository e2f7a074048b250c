package themis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/mapper"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/reducer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sink"
	"github.com/stretchr/testify/require"
)

// recordingWriterSink is a fake WriterSink that appends every written
// chunk's decoded records into a shared, mutex-guarded slice, standing in
// for a real on-disk sink the way the pack's own in-memory fakes stand in
// for their external systems.
type recordingWriterSink struct {
	mu      sync.Mutex
	records []kv.Pair
}

func (s *recordingWriterSink) Open(ctx context.Context, diskID, partitionID, chunkID uint64) error {
	return nil
}

func (s *recordingWriterSink) Write(ctx context.Context, buf *buffer.Buffer) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := buf.Iterate()
	for {
		pair, ok := it.Next()
		if !ok {
			break
		}
		s.records = append(s.records, kv.Pair{Key: append([]byte(nil), pair.Key...), Value: append([]byte(nil), pair.Value...)})
	}
	return uint64(buf.Size()), nil
}

func (s *recordingWriterSink) Close(ctx context.Context) error { return nil }

// replicateSink hands every disk the same underlying sink, good enough for
// a test that only cares about the union of everything written.
func replicateSink(s sink.WriterSink, n int) []sink.WriterSink {
	sinks := make([]sink.WriterSink, n)
	for i := range sinks {
		sinks[i] = s
	}
	return sinks
}

func newInputBuffer(jobID job.ID, pairs ...[2]string) *buffer.Buffer {
	buf := buffer.New(4096, buffer.Framed)
	buf.JobID = uint64(jobID)
	for _, kvp := range pairs {
		if err := buf.Append([]byte(kvp[0]), []byte(kvp[1])); err != nil {
			panic(err)
		}
	}
	return buf
}

// key3 pads s to at least 3 bytes, since partition.Uniform reads a 3-byte
// prefix out of every key.
func key3(s string) string {
	for len(s) < 3 {
		s = s + "\x00"
	}
	return s
}

func TestRunSortsRecordsEndToEnd(t *testing.T) {
	const theJobID = job.ID(1)

	jobs := job.StaticSource{
		theJobID: job.Info{JobID: theJobID, MapFunctionName: "identity", ReduceFunctionName: "identity", PartitionFunctionName: "uniform"},
	}
	mapFns := job.NewFunctionRegistry[mapper.MapFunction]()
	mapFns.Register("identity", func() mapper.MapFunction { return mapper.PassThroughMapFunction{} })
	reduceFns := job.NewFunctionRegistry[reducer.ReduceFunction]()
	reduceFns.Register("identity", func() reducer.ReduceFunction { return reducer.IdentityReduceFunction{} })

	// A single demux keeps every record's partition_offset at zero, since
	// partition.Uniform's LocalPartition (like KeyPartitioner's) does not
	// itself fold in a partition group's position in the global numbering
	// — see DESIGN.md's pkg/themis entry for why this test pins NumDemuxes
	// to 1 rather than exercising multi-group routing against Uniform.
	const numDemuxes = 1
	partitions := partition.NewFunctionMap(func(job.ID) (partition.Function, error) {
		return partition.Uniform{NumGroups: numDemuxes, PartitionsPerGroup: 1}, nil
	})
	filters := sample.NewFilterMap(func(job.ID) (sample.Filter, error) { return nil, nil })

	var inputs []*buffer.Buffer
	for i := 0; i < 40; i++ {
		key := key3(fmt.Sprintf("%03d", i))
		inputs = append(inputs, newInputBuffer(theJobID, [2]string{key, "v"}))
	}

	intermediate := &recordingWriterSink{}
	output := &recordingWriterSink{}

	params := Params{
		NumMappers:            3,
		NumDemuxes:            numDemuxes,
		NumReducers:           2,
		BufferCapacity:        256,
		PoolAlignment:         1,
		MaxOutstandingBuffers: 64,
		NumPartitionsPerGroup: 1,
		NumPartitionsPerNode:  numDemuxes,
		Jobs:                  jobs,
		MapFunctions:          mapFns,
		ReduceFunctions:       reduceFns,
		Partitions:            partitions,
		Filters:               filters,
		IntermediateSinks:     replicateSink(intermediate, 2),
		OutputSinks:           replicateSink(output, 2),
	}

	stats, err := Run(context.Background(), params, RunContext{}, inputs)
	require.NoError(t, err)
	require.NotNil(t, stats)

	output.mu.Lock()
	defer output.mu.Unlock()
	require.Len(t, output.records, 40, "every input record must reach the final output exactly once")
}
