// Package stage is the worker-stage runtime: it drives a pool of
// per-queue worker goroutines, each pulling buffers through a
// workqueue.Policy and feeding them to one Worker instance, generalizing
// _examples/psampaz-bigslice/exec/eval.go's task-graph evaluator and
// exec/bigmachine.go's goroutine-per-task/errgroup pattern into the
// fixed, queue-addressed worker pools spec.md §4 describes (N mappers, N
// demuxes, N reducers, each serviced by its own goroutine draining its
// own queue).
//
// workqueue.Policy and workqueue.Unit are typed around a caller-supplied
// SizeBytes() uint64 (and, for some policies, DiskID/ChunkID/NodeID/
// PartitionGroup/StreamID) method set, while every stage built so far
// (pkg/mapper, pkg/demux, pkg/reducer) is driven buffer-by-buffer via
// *buffer.Buffer directly. BufferUnit is the seam between the two: it
// wraps a *buffer.Buffer to satisfy workqueue.Unit and its routing
// interfaces, reusing the method-shadowing idiom pkg/demux's
// offsettingHost and pkg/reducer's partitionTaggingHost already use to
// layer new method names over an embedded value's same-named fields.
package stage

import (
	"context"
	"fmt"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/merger"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/workqueue"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// BufferUnit adapts a *buffer.Buffer to workqueue.Unit (and the optional
// Disker/Chunker/MergeChunker/Noder/PartitionGrouper/Streamer routing
// interfaces a Policy's EnqueueID/DequeueID hook may ask for) by exposing
// Buffer's routing fields under the method names those interfaces
// dispatch against. StreamID has no dedicated field on Buffer (raw
// byte-stream buffers were never given their own type in this port), so
// it is stood in for by LogicalDiskID; no policy built so far actually
// exercises a BufferUnit's StreamID.
type BufferUnit struct {
	*buffer.Buffer
}

// SizeBytes implements workqueue.Unit.
func (u BufferUnit) SizeBytes() uint64 { return uint64(u.Buffer.Size()) }

// DiskID implements workqueue.Disker.
func (u BufferUnit) DiskID() uint64 { return u.Buffer.LogicalDiskID }

// ChunkID implements workqueue.MergeChunker, shadowing Buffer's own
// ChunkID field.
func (u BufferUnit) ChunkID() uint64 { return u.Buffer.ChunkID }

// SetChunkID implements workqueue.Chunker.
func (u BufferUnit) SetChunkID(id uint64) { u.Buffer.ChunkID = id }

// NodeID implements workqueue.Noder, shadowing Buffer's own NodeID field.
func (u BufferUnit) NodeID() uint64 { return u.Buffer.NodeID }

// SetNodeID implements workqueue.Noder.
func (u BufferUnit) SetNodeID(id uint64) { u.Buffer.NodeID = id }

// PartitionGroup implements workqueue.PartitionGrouper, shadowing
// Buffer's own PartitionGroup field.
func (u BufferUnit) PartitionGroup() (group uint64, ok bool) {
	return u.Buffer.PartitionGroup, u.Buffer.HasPartitionGroup
}

// StreamID implements workqueue.Streamer.
func (u BufferUnit) StreamID() uint64 { return u.Buffer.LogicalDiskID }

// Enqueue wraps buf as a BufferUnit and routes it through policy.
func Enqueue(policy *workqueue.Policy, buf *buffer.Buffer) {
	policy.Enqueue(BufferUnit{buf})
}

// unwrap recovers the *buffer.Buffer a Policy handed back, or nil at
// end-of-stream.
func unwrap(unit workqueue.Unit) (*buffer.Buffer, error) {
	if unit == nil {
		return nil, nil
	}
	bu, ok := unit.(BufferUnit)
	if !ok {
		return nil, fmt.Errorf("stage: expected a stage.BufferUnit, got %T", unit)
	}
	return bu.Buffer, nil
}

// PolicyChunkSource adapts a *workqueue.Policy to merger.ChunkSource,
// letting a Merger pull its per-chunk queues directly from the same
// queueing policy every other stage enqueues through, rather than
// needing its own bespoke transport.
type PolicyChunkSource struct {
	Policy *workqueue.Policy
}

// Dequeue implements merger.ChunkSource.
func (s PolicyChunkSource) Dequeue(ctx context.Context, queueID uint64) (*buffer.Buffer, error) {
	unit, err := s.Policy.Dequeue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return unwrap(unit)
}

var _ merger.ChunkSource = PolicyChunkSource{}

// Worker is the shared shape of every buffer-at-a-time stage built so
// far (pkg/mapper.Mapper, pkg/demux.Demux, pkg/reducer.Reducer): bind
// lazily on first buffer, process each buffer handed to it, flush on
// Teardown.
type Worker interface {
	Run(ctx context.Context, buf *buffer.Buffer) error
	Teardown(ctx context.Context) error
}

// Dequeuer is the subset of *workqueue.Policy a Runner drains from, kept
// narrow so tests can fake it without a real Policy.
type Dequeuer interface {
	Dequeue(ctx context.Context, requestedQueueID uint64) (workqueue.Unit, error)
}

// Runner drives one goroutine per entry of Workers, each pulling from
// its own queue id (its index into Workers) until the queue's teardown
// sentinel (nil) arrives, then tearing that worker down. Modeled on
// exec/bigmachine.go's errgroup.WithContext/g.Go/g.Wait pattern: the
// first worker to return an error cancels ctx for the rest, and that
// error is what Run returns.
type Runner struct {
	Queue   Dequeuer
	Workers []Worker
}

// Run blocks until every worker has seen its queue's teardown sentinel,
// or until one worker (or the context) fails.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for id, w := range r.Workers {
		id, w := uint64(id), w
		g.Go(func() error { return r.runWorker(ctx, id, w) })
	}
	return g.Wait()
}

func (r *Runner) runWorker(ctx context.Context, id uint64, w Worker) error {
	for {
		unit, err := r.Queue.Dequeue(ctx, id)
		if err != nil {
			return err
		}
		buf, err := unwrap(unit)
		if err != nil {
			return err
		}
		if buf == nil {
			log.Printf("stage: worker %d: tearing down", id)
			return w.Teardown(ctx)
		}
		if err := w.Run(ctx, buf); err != nil {
			return fmt.Errorf("stage: worker %d: %w", id, err)
		}
	}
}
