// Package reducer implements the Reducer worker of spec.md §4.9: for each
// sorted partition buffer a merger hands it, it invokes a user
// ReduceFunction once per distinct key, driven by a ReduceKVPairIterator.
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/workers/reducer/ReduceKVPairIterator.{h,cc}
// and .../functions/reduce/{ReduceFunction.h,IdentityReduceFunction.cc};
// no Reducer.{h,cc} worker driver was retrieved, so the Run/Teardown shape
// below is carried over from pkg/mapper's already-established
// lazy-bind-then-drive pattern rather than transcribed from a C++ file.
package reducer

import (
	"context"
	"fmt"
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// ReduceFunction is the ReduceFunction contract of spec.md §4.9/§6: a
// per-buffer Configure hook plus Reduce, invoked once per distinct key
// with an iterator over that key's values.
type ReduceFunction interface {
	Configure() error
	Reduce(ctx context.Context, key []byte, values *ReduceKVPairIterator, writer sample.Writer) error
}

// IdentityReduceFunction re-emits every value unchanged, the reduce-side
// analogue of a pass-through map function (grounded on
// IdentityReduceFunction.cc's `while (iterator.next(kvPair)) writer.write(...)`).
type IdentityReduceFunction struct{}

// Configure implements ReduceFunction.
func (IdentityReduceFunction) Configure() error { return nil }

// Reduce implements ReduceFunction.
func (IdentityReduceFunction) Reduce(ctx context.Context, key []byte, values *ReduceKVPairIterator, writer sample.Writer) error {
	for {
		pair, ok, err := values.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := writer.Write(ctx, pair.Key, pair.Value); err != nil {
			return err
		}
	}
}

// partitionTaggingHost wraps a sample.Host so every buffer emitted while
// processing one incoming buffer is tagged with that buffer's own
// LogicalDiskID, the same small EmitBuffer-overriding decorator pkg/demux
// uses to apply partition_offset — duplicated here rather than exported
// from pkg/demux, since the two packages tag buffers for unrelated
// reasons and neither should import the other for a six-line adapter.
type partitionTaggingHost struct {
	sample.Host
	partitionID uint64
}

func (h partitionTaggingHost) EmitBuffer(b *buffer.Buffer) {
	b.LogicalDiskID = h.partitionID
	h.Host.EmitBuffer(b)
}

// Reducer is the Reducer worker: it binds to the job ID of its first
// input buffer, constructing the job's ReduceFunction once, then drives
// every subsequent buffer's key groups through it (spec.md §4.9
// "Driver").
type Reducer struct {
	BufferCapacity int

	Host            sample.Host
	Jobs            job.Source
	ReduceFunctions *job.FunctionRegistry[ReduceFunction]

	bindOnce sync.Once
	bindErr  error
	jobID    job.ID
	reduceFn ReduceFunction

	bytesIn, tuplesIn uint64
}

func (r *Reducer) bind(jobID job.ID) error {
	r.bindOnce.Do(func() {
		r.jobID = jobID
		r.bindErr = r.bindLocked(jobID)
	})
	if r.bindErr != nil {
		return r.bindErr
	}
	if jobID != r.jobID {
		return errors.E(errors.Fatal, "reducer: expected all buffers entering this reducer to have job id %d, got %d", r.jobID, jobID)
	}
	return nil
}

func (r *Reducer) bindLocked(jobID job.ID) error {
	info, err := r.Jobs.GetJobInfo(jobID)
	if err != nil {
		return err
	}
	fn, err := r.ReduceFunctions.New(info.ReduceFunctionName)
	if err != nil {
		return err
	}
	r.reduceFn = fn
	return nil
}

// Run reduces one buffer of already-sorted records: it drives
// StartNextKey -> Reduce -> repeat against a writer scoped to this single
// buffer, tagging every output with the input buffer's own partition, then
// flushes that writer (spec.md §4.9: "then flushes the writer").
//
// A single buffer is assumed to contain only whole key groups — spec.md
// §4.9 defines ReduceKVPairIterator over exactly "one KVPairBuffer" and
// never describes a key group spanning two buffers, so no cross-buffer
// stitching is attempted here.
func (r *Reducer) Run(ctx context.Context, buf *buffer.Buffer) error {
	if err := r.bind(job.ID(buf.JobID)); err != nil {
		return err
	}
	if err := r.reduceFn.Configure(); err != nil {
		return err
	}

	r.bytesIn += uint64(buf.Size())

	host := partitionTaggingHost{Host: r.Host, partitionID: buf.LogicalDiskID}
	writer := sample.NewPartialKVPairWriter(host, uint64(r.jobID), r.BufferCapacity, partition.SinglePartitionMerging{})

	it := NewReduceKVPairIterator(buf)
	for {
		key, ok := it.StartNextKey()
		if !ok {
			break
		}
		if err := r.reduceFn.Reduce(ctx, key, it, writer); err != nil {
			return err
		}
	}
	r.tuplesIn += uint64(it.TuplesSeen())

	return writer.FlushBuffers(ctx)
}

// Teardown logs final statistics; the writer is already flushed at the
// end of every Run call so there is nothing left to drain here.
func (r *Reducer) Teardown(ctx context.Context) error {
	log.Printf("reducer: job %d: tuples_in=%d bytes_in=%d", r.jobID, r.tuplesIn, r.bytesIn)
	return nil
}

// Stats returns the running bytes-in/tuples-in counters.
func (r *Reducer) Stats() (bytesIn, tuplesIn uint64) {
	return r.bytesIn, r.tuplesIn
}

func (r *Reducer) String() string {
	return fmt.Sprintf("reducer(job=%d)", r.jobID)
}
