package themis

import (
	"context"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/chunk"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/demux"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/mapper"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/merger"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/reducer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sink"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/stage"
	themisstats "github.com/TritonNetworking/themis-tritonsort-sub002/pkg/stats"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/workqueue"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"golang.org/x/sync/errgroup"
)

// Params configures one run. The core never parses configuration
// (spec.md §1 non-goals); Params fields are plain Go values a caller
// resolves however it likes, mirroring exec.go's already-resolved
// Session parameters.
type Params struct {
	NumMappers  int
	NumDemuxes  int
	NumReducers int

	BufferCapacity        int
	PoolAlignment         int
	MaxOutstandingBuffers int

	InputTupleSampleRate uint64
	MapParams            interface{}

	// NumPartitionsPerGroup/NumPartitionsPerNode answer demux.Layout's
	// questions for this single-node run, where every partition group
	// lives on the one node (spec.md §4.6).
	NumPartitionsPerGroup uint64
	NumPartitionsPerNode  uint64

	Jobs            job.Source
	MapFunctions    *job.FunctionRegistry[mapper.MapFunction]
	ReduceFunctions *job.FunctionRegistry[reducer.ReduceFunction]
	Partitions      *partition.FunctionMap
	Filters         *sample.FilterMap

	// IntermediateSinks is one WriterSink per local disk that phase A's
	// chunking stage writes to (spec.md §4.7). OutputSinks is the
	// corresponding set phase B's final, globally-sorted output is
	// chunked and written to. A caller wanting retries or write-token
	// limiting wraps its sinks in sink.RetryingWriterSink/
	// sink.LimitedWriterSink before passing them in; Run has no opinion
	// on that (spec.md §7: "retries... are invisible to the core").
	IntermediateSinks []sink.WriterSink
	OutputSinks       []sink.WriterSink
}

// RunContext carries the optional, run-wide collaborators that sit beside
// Params without being part of it: a status group to post progress to,
// mirroring exec/eval.go's Eval(ctx, executor, inv, roots, group
// *status.Group) parameter.
type RunContext struct {
	Status *status.Group
}

func (rc RunContext) progress(format string, args ...interface{}) {
	if rc.Status != nil {
		rc.Status.Printf(format, args...)
	}
}

// statsReporter is implemented by every stage.Worker built so far
// (pkg/mapper.Mapper, pkg/reducer.Reducer) that keeps its own running
// bytes-in/tuples-in counters for its Teardown log line; Run folds those
// into the shared Registry once each worker pool has torn down.
type statsReporter interface {
	Stats() (bytesIn, tuplesIn uint64)
}

func foldStats(reg *themisstats.Registry, workers []stage.Worker) {
	for _, w := range workers {
		r, ok := w.(statsReporter)
		if !ok {
			continue
		}
		bytesIn, tuplesIn := r.Stats()
		reg.Add(themisstats.BytesIn, int64(bytesIn))
		reg.Add(themisstats.TuplesIn, int64(tuplesIn))
	}
}

// staticLayout answers demux.Layout for a fixed, single-node partition
// count, since Run does not (yet) support more than one node.
type staticLayout struct {
	partitionsPerGroup uint64
	partitionsPerNode  uint64
}

func (l staticLayout) NumPartitionsPerGroup(job.ID) uint64 { return l.partitionsPerGroup }
func (l staticLayout) NumPartitionsPerNode(job.ID) uint64  { return l.partitionsPerNode }

// groupTaggingHost tags every buffer a mapper emits with its own
// LogicalDiskID as PartitionGroup before forwarding it, so that
// workqueue.NewPartitionGroupPolicy can route to the right demux purely
// off PartitionGroup. A mapper's partition function (spec.md §4.4) only
// ever sets LogicalDiskID (the KVPairWriter/FastKVPairWriter "global
// partition" slot); for a mapper feeding a demux tier, that slot is
// already the coarse partition-group number (one partition group per
// demux, finer per-partition routing happens inside the demux itself via
// its own local partition formula), so re-tagging it here is exactly
// pkg/demux's offsettingHost / pkg/reducer's partitionTaggingHost idiom
// applied at this seam instead of a new buffer field.
type groupTaggingHost struct {
	sample.Host
}

func (h groupTaggingHost) EmitBuffer(buf *buffer.Buffer) {
	buf.PartitionGroup = buf.LogicalDiskID
	buf.HasPartitionGroup = true
	h.Host.EmitBuffer(buf)
}

// Run drives one full job end to end: phase A maps, shuffles, and writes
// every record into local-disk chunks; phase B merges those chunks back
// into global key order, reduces them, and writes the final sorted
// output. It returns the run's folded counters.
func Run(ctx context.Context, params Params, rc RunContext, inputs []*buffer.Buffer) (*themisstats.Registry, error) {
	if params.NumMappers <= 0 || params.NumDemuxes <= 0 || params.NumReducers <= 0 {
		return nil, errors.E(errors.Fatal, "themis: NumMappers, NumDemuxes, and NumReducers must all be positive")
	}
	if len(params.IntermediateSinks) == 0 || len(params.OutputSinks) == 0 {
		return nil, errors.E(errors.Fatal, "themis: at least one intermediate sink and one output sink are required")
	}

	stats := themisstats.NewRegistry()
	pool := buffer.NewPool(params.BufferCapacity, params.PoolAlignment, params.MaxOutstandingBuffers, buffer.Framed)

	chunks, chunked, err := runPhaseA(ctx, params, rc, pool, stats, inputs)
	if err != nil {
		return nil, err
	}
	rc.progress("themis: phase A complete: %d intermediate chunks written", chunked.count())

	if err := runPhaseB(ctx, params, rc, pool, stats, chunks, chunked); err != nil {
		return nil, err
	}
	rc.progress("themis: run complete")

	return stats, nil
}

func (c *chunkCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// runPhaseA maps every input buffer, shuffles its output into per-local-
// partition buffers via the demux tier, and writes each resulting chunk
// through an IntermediateSink, returning the finalized chunk.Map and the
// buffers written (retained in memory for phase B; spec.md's non-goal
// "on-disk file formats below WriterSink" puts read-back out of scope).
func runPhaseA(ctx context.Context, params Params, rc RunContext, pool *buffer.Pool, stats *themisstats.Registry, inputs []*buffer.Buffer) (*chunk.Map, *chunkCollector, error) {
	demuxPolicy := workqueue.NewPartitionGroupPolicy(uint64(params.NumDemuxes), uint64(params.NumDemuxes))
	mapperHost := groupTaggingHost{Host: &queueHost{Policy: demuxPolicy, Pool: pool, Stats: stats}}

	mappers := make([]stage.Worker, params.NumMappers)
	for i := range mappers {
		mappers[i] = &mapper.Mapper{
			InputTupleSampleRate: params.InputTupleSampleRate,
			BufferCapacity:       params.BufferCapacity,
			Params:               params.MapParams,
			Host:                 mapperHost,
			Jobs:                 params.Jobs,
			MapFunctions:         params.MapFunctions,
			Partitions:           params.Partitions,
			Filters:              params.Filters,
		}
	}

	inputPolicy := workqueue.NewPolicy(uint64(params.NumMappers))
	var nextMapper uint64
	inputPolicy.EnqueueID = func(workqueue.Unit) uint64 {
		id := nextMapper % uint64(params.NumMappers)
		nextMapper++
		return id
	}
	mapperRunner := &stage.Runner{Queue: inputPolicy, Workers: mappers}

	chunks := chunk.NewMap(uint64(len(params.IntermediateSinks)))
	chunkingPolicy := workqueue.NewChunkingPolicy(1, uint64(len(params.IntermediateSinks)), chunks)
	demuxHost := &queueHost{Policy: chunkingPolicy, Pool: pool, Stats: stats}

	layout := staticLayout{partitionsPerGroup: params.NumPartitionsPerGroup, partitionsPerNode: params.NumPartitionsPerNode}
	demuxes := make([]stage.Worker, params.NumDemuxes)
	for i := range demuxes {
		demuxes[i] = &demux.Demux{
			ID:             uint64(i),
			NumDemuxes:     uint64(params.NumDemuxes),
			BufferCapacity: params.BufferCapacity,
			Host:           demuxHost,
			Jobs:           params.Jobs,
			Partitions:     params.Partitions,
			Layout:         layout,
		}
	}
	demuxRunner := &stage.Runner{Queue: demuxPolicy, Workers: demuxes}

	collector := &chunkCollector{}
	writers := make([]stage.Worker, len(params.IntermediateSinks))
	for i, s := range params.IntermediateSinks {
		writers[i] = &chunkWriter{DiskID: uint64(i), Sink: s, Pool: pool, Stats: stats, Keep: collector}
	}
	writerRunner := &stage.Runner{Queue: chunkingPolicy, Workers: writers}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writerRunner.Run(gctx) })
	g.Go(func() error {
		if err := demuxRunner.Run(gctx); err != nil {
			return err
		}
		chunkingPolicy.Teardown()
		return nil
	})
	g.Go(func() error {
		for _, buf := range inputs {
			stage.Enqueue(inputPolicy, buf)
		}
		inputPolicy.Teardown()
		if err := mapperRunner.Run(gctx); err != nil {
			return err
		}
		demuxPolicy.Teardown()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	foldStats(stats, mappers)
	log.Printf("themis: phase A: %d mappers, %d demuxes, %d intermediate writers done", len(mappers), len(demuxes), len(writers))
	return chunks, collector, nil
}

// runPhaseB merges every chunk phase A wrote back into global key order,
// reduces each merged partition buffer, and writes the final output.
func runPhaseB(ctx context.Context, params Params, rc RunContext, pool *buffer.Pool, stats *themisstats.Registry, chunks *chunk.Map, chunked *chunkCollector) error {
	var totalChunks int
	for _, n := range chunks.PartitionChunkCounts() {
		totalChunks += n
	}
	if totalChunks == 0 {
		log.Printf("themis: phase B: no chunks to merge")
		return nil
	}

	mergePolicy := workqueue.NewMergerPolicy(uint64(totalChunks), chunks)
	for _, buf := range chunked.drain() {
		stage.Enqueue(mergePolicy, buf)
	}
	mergePolicy.Teardown()

	reducerPolicy := workqueue.NewPolicy(uint64(params.NumReducers))
	var nextReducer uint64
	reducerPolicy.EnqueueID = func(workqueue.Unit) uint64 {
		id := nextReducer % uint64(params.NumReducers)
		nextReducer++
		return id
	}
	mergerHost := &queueHost{Policy: reducerPolicy, Pool: pool, Stats: stats}

	m := &merger.Merger{
		Chunks:         chunks,
		Source:         stage.PolicyChunkSource{Policy: mergePolicy},
		Host:           mergerHost,
		BufferCapacity: params.BufferCapacity,
	}

	outputChunks := chunk.NewMap(uint64(len(params.OutputSinks)))
	outputChunkingPolicy := workqueue.NewChunkingPolicy(1, uint64(len(params.OutputSinks)), outputChunks)
	reducerHost := &queueHost{Policy: outputChunkingPolicy, Pool: pool, Stats: stats}

	reducers := make([]stage.Worker, params.NumReducers)
	for i := range reducers {
		reducers[i] = &reducer.Reducer{
			BufferCapacity:  params.BufferCapacity,
			Host:            reducerHost,
			Jobs:            params.Jobs,
			ReduceFunctions: params.ReduceFunctions,
		}
	}
	reducerRunner := &stage.Runner{Queue: reducerPolicy, Workers: reducers}

	outputWriters := make([]stage.Worker, len(params.OutputSinks))
	for i, s := range params.OutputSinks {
		outputWriters[i] = &chunkWriter{DiskID: uint64(i), Sink: s, Pool: pool, Stats: stats}
	}
	outputWriterRunner := &stage.Runner{Queue: outputChunkingPolicy, Workers: outputWriters}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return outputWriterRunner.Run(gctx) })
	g.Go(func() error {
		if err := reducerRunner.Run(gctx); err != nil {
			return err
		}
		outputChunkingPolicy.Teardown()
		return nil
	})
	g.Go(func() error {
		if err := m.Run(gctx); err != nil {
			return err
		}
		reducerPolicy.Teardown()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	foldStats(stats, reducers)
	log.Printf("themis: phase B: merged %d chunks across %d reducers, %d output writers done", totalChunks, len(reducers), len(outputWriters))
	return nil
}
