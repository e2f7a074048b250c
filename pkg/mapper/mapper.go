// Package mapper implements the phase-1 (and phase-0 shuffle/reservoir)
// Mapper worker of spec.md §2.4/§6: it applies a user MapFunction to every
// record of an incoming buffer and routes the output through one of the
// sample.Writer implementations.
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/workers/mapper/Mapper.{h,cc}.
// The five boost::bind callbacks the original wires to itself
// (emitBufferCallback, getBufferCallback, putBufferCallback,
// logSampleCallback, logWriteStatsCallback) are collapsed into the single
// sample.Host interface a Mapper holds in its Host field,
// matching spec.md §9's explicit "callback-heavy constructors" redesign
// note and the precedent already set in pkg/sample.
package mapper

import (
	"context"
	"fmt"
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// MapFunction is the MapFunction contract of spec.md §6: init(params) ->
// configure(buffer) -> map (once per record) -> teardown(writer).
type MapFunction interface {
	Init(params interface{}) error
	Configure(buf *buffer.Buffer) error
	Map(ctx context.Context, pair kv.Pair, writer sample.Writer) error
	Teardown(ctx context.Context, writer sample.Writer) error
}

// PassThroughMapFunction is the identity MapFunction used by phase-0
// shuffle and reservoir-sampling mappers, which must not apply any user
// transformation (Mapper.cc: "Phase zero shuffle and reservoir sampling
// mappers must use identity map function").
type PassThroughMapFunction struct{}

// Init implements MapFunction.
func (PassThroughMapFunction) Init(params interface{}) error { return nil }

// Configure implements MapFunction.
func (PassThroughMapFunction) Configure(buf *buffer.Buffer) error { return nil }

// Map implements MapFunction by writing the record through unchanged.
func (PassThroughMapFunction) Map(ctx context.Context, pair kv.Pair, writer sample.Writer) error {
	return writer.Write(ctx, pair.Key, pair.Value)
}

// Teardown implements MapFunction.
func (PassThroughMapFunction) Teardown(ctx context.Context, writer sample.Writer) error { return nil }

// Mapper is the Mapper worker: it binds to the job ID of its first input
// buffer, constructs the right MapFunction and Writer for that job, and
// thereafter applies them to every subsequent buffer (spec.md: "Currently
// Mappers only support using one map function at a time").
type Mapper struct {
	// InputTupleSampleRate makes the Mapper log one input tuple in every
	// InputTupleSampleRate tuples (the first, then every
	// InputTupleSampleRate-th after it) through Host.LogSample; 0 disables
	// input sampling. Output-side sampling is the constructed writer's
	// responsibility (sample.KVPairWriter logs every write through
	// Host.LogSample; FastKVPairWriter and ReservoirWriter do not).
	InputTupleSampleRate uint64
	// BufferCapacity sizes buffers the Mapper requests from Host.
	BufferCapacity int

	// Shuffle marks this as a phase-0 shuffle mapper: it uses
	// PassThroughMapFunction and partitions output by partition.RandomNode
	// rather than the job's own partition function.
	Shuffle bool
	// ReservoirSample marks this as a phase-0 reservoir-sampling mapper: it
	// uses PassThroughMapFunction and a sample.ReservoirWriter instead of a
	// KVPairWriter/FastKVPairWriter.
	ReservoirSample bool
	// NumNodes is the cluster size, used by Shuffle mappers'
	// partition.RandomNode.
	NumNodes uint64

	// Params is passed to MapFunction.Init verbatim; the core never
	// interprets it (spec.md §1: "configuration parsing... out of scope").
	Params interface{}

	Host         sample.Host
	Jobs         job.Source
	MapFunctions *job.FunctionRegistry[MapFunction]
	Partitions   *partition.FunctionMap
	Filters      *sample.FilterMap
	Strategy     sample.Strategy // nil => sample.DefaultStrategy

	bindOnce sync.Once
	bindErr  error
	jobID    job.ID
	mapFn    MapFunction
	writer   sample.Writer

	bytesIn, tuplesIn uint64
}

// bind resolves this Mapper's job the first time it sees a buffer,
// constructing its MapFunction and Writer. Every later call is a no-op
// that only validates the incoming buffer belongs to the same job
// (Mapper.cc's ASSERT(jobID == bufferJobID, ...)).
func (m *Mapper) bind(ctx context.Context, jobID job.ID) error {
	m.bindOnce.Do(func() {
		m.jobID = jobID
		m.bindErr = m.bindLocked(ctx, jobID)
	})
	if m.bindErr != nil {
		return m.bindErr
	}
	if jobID != m.jobID {
		return errors.E(errors.Fatal, "mapper: expected all buffers entering this mapper to have job id %d, got %d", m.jobID, jobID)
	}
	return nil
}

func (m *Mapper) bindLocked(ctx context.Context, jobID job.ID) error {
	info, err := m.Jobs.GetJobInfo(jobID)
	if err != nil {
		return err
	}

	if m.Shuffle || m.ReservoirSample {
		m.mapFn = PassThroughMapFunction{}
	} else {
		mapFn, err := m.MapFunctions.New(info.MapFunctionName)
		if err != nil {
			return err
		}
		m.mapFn = mapFn
	}
	if err := m.mapFn.Init(m.Params); err != nil {
		return err
	}

	switch {
	case m.ReservoirSample:
		strategy := m.Strategy
		if strategy == nil {
			// ReservoirWriter always consults a Strategy (unlike KVPairWriter,
			// which treats a nil Strategy as identity); default explicitly.
			strategy = sample.DefaultStrategy{}
		}
		m.writer = sample.NewReservoirWriter(m.Host, strategy, nil, uint64(jobID), m.BufferCapacity, nil)
		return nil

	default:
		partitionFn, err := m.Partitions.Get(jobID)
		if err != nil {
			return err
		}
		filter, err := m.Filters.Get(jobID)
		if err != nil {
			return err
		}

		if filter != nil {
			m.writer = sample.NewKVPairWriter(m.Host, uint64(jobID), m.BufferCapacity, partitionFn, m.Strategy, filter)
			return nil
		}

		if m.Shuffle {
			// A shuffle mapper scatters its output across nodes rather
			// than through the job's own partition function
			// (Mapper.cc: "new RandomNodePartitionFunction(numNodes)").
			partitionFn = partition.RandomNode{NumNodes: m.NumNodes}
		}
		m.writer = sample.NewFastKVPairWriter(m.Host, uint64(jobID), m.BufferCapacity, partitionFn)
		return nil
	}
}

// Run applies the Mapper to one input buffer: bind (on first call),
// configure the map function for this buffer's layout, then invoke map
// once per record.
func (m *Mapper) Run(ctx context.Context, buf *buffer.Buffer) error {
	if err := m.bind(ctx, job.ID(buf.JobID)); err != nil {
		return err
	}
	if err := m.mapFn.Configure(buf); err != nil {
		return err
	}

	m.bytesIn += uint64(buf.Size())

	it := buf.Iterate()
	for {
		pair, ok := it.Next()
		if !ok {
			break
		}
		if m.InputTupleSampleRate != 0 && m.tuplesIn%m.InputTupleSampleRate == 0 {
			m.Host.LogSample(pair)
		}
		if err := m.mapFn.Map(ctx, pair, m.writer); err != nil {
			return err
		}
		m.tuplesIn++
	}
	return nil
}

// Teardown flushes any partially-full output buffers and logs final
// statistics (Mapper.cc's teardown()).
func (m *Mapper) Teardown(ctx context.Context) error {
	if m.mapFn != nil && m.writer != nil {
		if err := m.mapFn.Teardown(ctx, m.writer); err != nil {
			return err
		}
	}
	if m.writer != nil {
		if err := m.writer.FlushBuffers(ctx); err != nil {
			return err
		}
	}
	log.Printf("mapper: job %d: tuples_in=%d bytes_in=%d", m.jobID, m.tuplesIn, m.bytesIn)
	return nil
}

// Stats returns the running bytes-in/tuples-in counters, for a caller that
// wants to surface them through themis.RunContext's status group.
func (m *Mapper) Stats() (bytesIn, tuplesIn uint64) {
	return m.bytesIn, m.tuplesIn
}

func (m *Mapper) String() string {
	return fmt.Sprintf("mapper(job=%d shuffle=%v reservoir=%v)", m.jobID, m.Shuffle, m.ReservoirSample)
}
