package themis

import (
	"context"
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sink"
	themisstats "github.com/TritonNetworking/themis-tritonsort-sub002/pkg/stats"
	"github.com/grailbio/base/errors"
)

// chunkCollector retains every buffer a chunkWriter persists, keyed by
// nothing more than arrival order: the merge phase re-enqueues these
// buffers directly rather than reading them back from the sink (spec.md's
// non-goal "on-disk file formats below WriterSink" puts read-back out of
// scope, and a chunk is written as exactly one buffer in this port, so
// the in-memory copy already written is the same bytes a re-read would
// produce).
type chunkCollector struct {
	mu  sync.Mutex
	buf []*buffer.Buffer
}

func (c *chunkCollector) add(buf *buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, buf)
}

func (c *chunkCollector) drain() []*buffer.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}

// chunkWriter is the writer-stage worker driven by pkg/stage.Runner off a
// chunking (or merger-facing) queueing policy: each buffer it receives is
// exactly one whole chunk (spec.md §4.7 "Writer"), already carrying the
// partition id (LogicalDiskID) and chunk id a prior workqueue.ChunkingPolicy
// stamped onto it. chunkWriter owns one disk's worth of the run's
// WriterSinks.
//
// Keep is nil for the final-output writer stage (phase B's written
// buffers are never read back in-process) and non-nil for the
// intermediate writer stage, whose buffers the merge phase re-enqueues
// directly; when nil, the written buffer is returned to Pool instead.
type chunkWriter struct {
	DiskID uint64
	Sink   sink.WriterSink
	Pool   *buffer.Pool
	Stats  *themisstats.Registry
	Keep   *chunkCollector
}

// Run implements stage.Worker.
func (w *chunkWriter) Run(ctx context.Context, buf *buffer.Buffer) error {
	partitionID, chunkID := buf.LogicalDiskID, buf.ChunkID

	if err := w.Sink.Open(ctx, w.DiskID, partitionID, chunkID); err != nil {
		return errors.E(errors.NotExist, err, "themis: writer: open failed for partition %d chunk %d", partitionID, chunkID)
	}
	bytesWritten, err := w.Sink.Write(ctx, buf)
	if err != nil {
		return errors.E(errors.NotExist, err, "themis: writer: write failed for partition %d chunk %d", partitionID, chunkID)
	}
	if err := w.Sink.Close(ctx); err != nil {
		return errors.E(errors.NotExist, err, "themis: writer: close failed for partition %d chunk %d", partitionID, chunkID)
	}
	if bytesWritten != uint64(buf.Size()) {
		return errors.E(errors.Fatal, "themis: writer: sink reported %d bytes written for partition %d chunk %d, chunk map recorded %d at enqueue time", bytesWritten, partitionID, chunkID, buf.Size())
	}

	w.Stats.Add(themisstats.BytesOut, int64(bytesWritten))
	if w.Keep != nil {
		w.Keep.add(buf)
	} else {
		w.Pool.Put(buf)
	}
	return nil
}

// Teardown implements stage.Worker; chunkWriter keeps no state across
// buffers, so there is nothing left to flush.
func (w *chunkWriter) Teardown(ctx context.Context) error { return nil }
