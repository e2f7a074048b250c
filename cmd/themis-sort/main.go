// Command themis-sort is the thin entry point wiring pkg/themis.Run to a
// command line: parse a handful of run-shape flags, build the minimal
// job.Source/FunctionRegistry/FunctionMap collaborators pkg/themis needs,
// read newline-delimited "key,value" input records from stdin, and write
// the globally-sorted result's records to one file per output disk. None
// of this is part of the sort engine itself (spec.md §1: "configuration
// parsing... out of scope" and no reader/writer-on-disk format is named),
// so it stays out of pkg/themis: this file is the only place in the repo
// that touches flag or os.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/mapper"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/reducer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sink"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/themis"
	"github.com/grailbio/base/log"
)

func main() {
	var (
		mappers         = flag.Int("mappers", 4, "number of mapper workers")
		demuxes         = flag.Int("demuxes", 2, "number of demux workers (partition groups on this node)")
		reducers        = flag.Int("reducers", 2, "number of reducer workers")
		bufferCapacity  = flag.Int("buffer-capacity", 4<<20, "buffer capacity in bytes")
		maxOutstanding  = flag.Int("max-outstanding-buffers", 256, "buffer pool capacity")
		numPartitions   = flag.Uint64("partitions", 2, "total local partitions, divided evenly across -demuxes")
		intermediateDir = flag.String("intermediate-dir", "", "directory to hold intermediate chunk files (one per disk)")
		outputDir       = flag.String("output-dir", "", "directory to hold final sorted output files (one per disk)")
		numDisks        = flag.Int("disks", 2, "number of local disks (= number of intermediate and output files)")
	)
	flag.Parse()

	if *intermediateDir == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "themis-sort: -intermediate-dir and -output-dir are required")
		os.Exit(2)
	}

	if err := run(runParams{
		mappers:         *mappers,
		demuxes:         *demuxes,
		reducers:        *reducers,
		bufferCapacity:  *bufferCapacity,
		maxOutstanding:  *maxOutstanding,
		numPartitions:   *numPartitions,
		intermediateDir: *intermediateDir,
		outputDir:       *outputDir,
		numDisks:        *numDisks,
	}); err != nil {
		log.Error.Printf("themis-sort: %v", err)
		os.Exit(1)
	}
}

type runParams struct {
	mappers, demuxes, reducers  int
	bufferCapacity, maxOutstanding int
	numPartitions               uint64
	intermediateDir, outputDir  string
	numDisks                    int
}

const theJobID = job.ID(1)

func run(p runParams) error {
	jobs := job.StaticSource{
		theJobID: job.Info{JobID: theJobID, MapFunctionName: "identity", ReduceFunctionName: "identity", PartitionFunctionName: "uniform"},
	}

	mapFns := job.NewFunctionRegistry[mapper.MapFunction]()
	mapFns.Register("identity", func() mapper.MapFunction { return mapper.PassThroughMapFunction{} })
	reduceFns := job.NewFunctionRegistry[reducer.ReduceFunction]()
	reduceFns.Register("identity", func() reducer.ReduceFunction { return reducer.IdentityReduceFunction{} })

	partitionsPerGroup := p.numPartitions / uint64(p.demuxes)
	if partitionsPerGroup == 0 {
		partitionsPerGroup = 1
	}
	partitions := partition.NewFunctionMap(func(job.ID) (partition.Function, error) {
		return partition.Uniform{NumGroups: uint64(p.demuxes), PartitionsPerGroup: partitionsPerGroup}, nil
	})
	filters := sample.NewFilterMap(func(job.ID) (sample.Filter, error) { return nil, nil })

	intermediateSinks, err := fileSinks(p.intermediateDir, p.numDisks)
	if err != nil {
		return err
	}
	outputSinks, err := fileSinks(p.outputDir, p.numDisks)
	if err != nil {
		return err
	}

	inputs, err := readInputs(os.Stdin, theJobID, p.bufferCapacity)
	if err != nil {
		return err
	}

	params := themis.Params{
		NumMappers:            p.mappers,
		NumDemuxes:            p.demuxes,
		NumReducers:           p.reducers,
		BufferCapacity:        p.bufferCapacity,
		PoolAlignment:         1,
		MaxOutstandingBuffers: p.maxOutstanding,
		NumPartitionsPerGroup: partitionsPerGroup,
		NumPartitionsPerNode:  p.numPartitions,
		Jobs:                  jobs,
		MapFunctions:          mapFns,
		ReduceFunctions:       reduceFns,
		Partitions:            partitions,
		Filters:               filters,
		IntermediateSinks:     intermediateSinks,
		OutputSinks:           outputSinks,
	}

	stats, err := themis.Run(context.Background(), params, themis.RunContext{}, inputs)
	if err != nil {
		return err
	}
	log.Printf("themis-sort: done: bytes_in=%d bytes_out=%d tuples_in=%d tuples_out=%d",
		stats.Int("bytes_in").Value(), stats.Int("bytes_out").Value(), stats.Int("tuples_in").Value(), stats.Int("tuples_out").Value())
	return nil
}

// readInputs packs stdin's "key,value" lines into buffers of at most
// bufferCapacity bytes each.
func readInputs(f *os.File, jobID job.ID, bufferCapacity int) ([]*buffer.Buffer, error) {
	var bufs []*buffer.Buffer
	cur := buffer.New(bufferCapacity, buffer.Framed)
	cur.JobID = uint64(jobID)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("themis-sort: malformed input line %q, want \"key,value\"", line)
		}
		if !cur.CanAppend(len(key) + len(value) + 16) {
			bufs = append(bufs, cur)
			cur = buffer.New(bufferCapacity, buffer.Framed)
			cur.JobID = uint64(jobID)
		}
		if err := cur.Append([]byte(key), []byte(value)); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if cur.Size() > 0 {
		bufs = append(bufs, cur)
	}
	return bufs, nil
}

// fileWriterSink is the minimal WriterSink this command needs to actually
// run: it appends each written chunk's raw packed bytes to one file per
// disk. The exact on-disk layout is explicitly out of scope for the
// engine (spec.md's "on-disk file formats below WriterSink" non-goal), so
// this format is whatever is simplest here, not a contract any other part
// of the repo depends on.
type fileWriterSink struct {
	f *os.File
}

func fileSinks(dir string, numDisks int) ([]sink.WriterSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sinks := make([]sink.WriterSink, numDisks)
	for i := 0; i < numDisks; i++ {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("disk-%d.chunks", i)))
		if err != nil {
			return nil, err
		}
		sinks[i] = sink.RetryingWriterSink{Sink: &fileWriterSink{f: f}}
	}
	return sinks, nil
}

func (s *fileWriterSink) Open(ctx context.Context, diskID, partitionID, chunkID uint64) error {
	_, err := fmt.Fprintf(s.f, "# partition %d chunk %d\n", partitionID, chunkID)
	return err
}

func (s *fileWriterSink) Write(ctx context.Context, buf *buffer.Buffer) (uint64, error) {
	n, err := s.f.Write(buf.Bytes())
	return uint64(n), err
}

func (s *fileWriterSink) Close(ctx context.Context) error {
	return s.f.Sync()
}
