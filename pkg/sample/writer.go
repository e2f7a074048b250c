package sample

import (
	"context"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/kv"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
)

// Writer is the shared KVPairWriter contract of spec.md §4.3:
// {write, setup_write/commit_write, flush_buffers}.
type Writer interface {
	Write(ctx context.Context, key, value []byte) error
	SetupWrite(ctx context.Context, key []byte, maxValueLen int) ([]byte, error)
	CommitWrite(valueLen int) error
	FlushBuffers(ctx context.Context) error
}

// perPartitionBuffers is the buffer-per-global-partition bookkeeping shared
// by KVPairWriter and FastKVPairWriter.
type perPartitionBuffers struct {
	host           Host
	jobID          uint64
	bufferCapacity int
	buffers        []*buffer.Buffer // len == partitionFn.NumGlobalPartitions()
	pendingDest    int
	havePending    bool
}

func newPerPartitionBuffers(host Host, jobID uint64, bufferCapacity int, numPartitions uint64) perPartitionBuffers {
	return perPartitionBuffers{
		host:           host,
		jobID:          jobID,
		bufferCapacity: bufferCapacity,
		buffers:        make([]*buffer.Buffer, numPartitions),
	}
}

// ensure returns the destination buffer for dest, emitting and replacing it
// with a fresh one (sized to fit at least minCapacity) if it's absent or
// too small.
func (p *perPartitionBuffers) ensure(ctx context.Context, dest uint64, minCapacity int) (*buffer.Buffer, error) {
	b := p.buffers[dest]
	if b != nil && b.Remaining() >= minCapacity {
		return b, nil
	}
	if b != nil {
		p.emit(dest)
	}
	capacity := p.bufferCapacity
	if minCapacity > capacity {
		capacity = minCapacity
	}
	fresh, err := p.host.GetBuffer(ctx, capacity)
	if err != nil {
		return nil, err
	}
	fresh.JobID = p.jobID
	fresh.LogicalDiskID = dest
	p.buffers[dest] = fresh
	return fresh, nil
}

func (p *perPartitionBuffers) emit(dest uint64) {
	b := p.buffers[dest]
	if b == nil {
		return
	}
	p.host.EmitBuffer(b)
	p.buffers[dest] = nil
}

func (p *perPartitionBuffers) flushAll() {
	for dest, b := range p.buffers {
		if b != nil {
			p.host.EmitBuffer(b)
			p.buffers[dest] = nil
		}
	}
}

// KVPairWriter is the general writer: it consults an optional Filter and
// Strategy, and routes every record through Partition.GlobalPartition
// (spec.md §4.3 "KVPairWriter (general)").
type KVPairWriter struct {
	perPartitionBuffers
	Partition partition.Function
	Strategy  Strategy // nil means identity (no transform)
	Filter    Filter   // nil means accept everything

	tuplesWritten, tuplesFiltered uint64
	bytesWritten                 uint64
}

// NewKVPairWriter constructs a general writer over numBuffers is implied by
// partitionFn.NumGlobalPartitions().
func NewKVPairWriter(host Host, jobID uint64, bufferCapacity int, partitionFn partition.Function, strategy Strategy, filter Filter) *KVPairWriter {
	return &KVPairWriter{
		perPartitionBuffers: newPerPartitionBuffers(host, jobID, bufferCapacity, partitionFn.NumGlobalPartitions()),
		Partition:           partitionFn,
		Strategy:            strategy,
		Filter:              filter,
	}
}

func (w *KVPairWriter) transform(key, value []byte) (outKey, outValue []byte) {
	if w.Strategy == nil {
		return key, value
	}
	outKey, outValue = key, value
	if w.Strategy.AltersKey() {
		outKey = w.Strategy.TransformKey(key)
	}
	if w.Strategy.AltersValue() {
		outValue = w.Strategy.TransformValue(len(key), len(value))
	}
	return outKey, outValue
}

// Write implements Writer.
func (w *KVPairWriter) Write(ctx context.Context, key, value []byte) error {
	if w.Filter != nil && !w.Filter(key, value) {
		w.tuplesFiltered++
		return nil
	}
	dest := w.Partition.GlobalPartition(key)
	outKey, outValue := w.transform(key, value)
	need := kv.HeaderSize + len(outKey) + len(outValue)

	b, err := w.ensure(ctx, dest, need)
	if err != nil {
		return err
	}
	if err := b.Append(outKey, outValue); err != nil {
		return err
	}
	w.tuplesWritten++
	w.bytesWritten += uint64(need)
	w.host.LogSample(kv.Pair{Key: outKey, Value: outValue})
	return nil
}

// SetupWrite implements Writer's two-phase path (used when a caller writes
// a transformed value in place rather than handing over a complete byte
// slice).
func (w *KVPairWriter) SetupWrite(ctx context.Context, key []byte, maxValueLen int) ([]byte, error) {
	dest := w.Partition.GlobalPartition(key)
	need := kv.HeaderSize + len(key) + maxValueLen
	b, err := w.ensure(ctx, dest, need)
	if err != nil {
		return nil, err
	}
	w.pendingDest = int(dest)
	w.havePending = true
	return b.SetupAppend(key, maxValueLen)
}

// CommitWrite implements Writer.
func (w *KVPairWriter) CommitWrite(valueLen int) error {
	if !w.havePending {
		panic("sample: CommitWrite with no pending SetupWrite")
	}
	w.havePending = false
	b := w.buffers[w.pendingDest]
	if err := b.CommitAppend(valueLen); err != nil {
		return err
	}
	w.tuplesWritten++
	w.bytesWritten += uint64(valueLen)
	return nil
}

// FlushBuffers implements Writer.
func (w *KVPairWriter) FlushBuffers(ctx context.Context) error {
	w.flushAll()
	w.host.LogWriteStats(w.bytesWritten, w.bytesWritten, w.tuplesWritten, w.tuplesWritten+w.tuplesFiltered)
	return nil
}

// FastKVPairWriter is KVPairWriter without a filter or write strategy: it
// writes every input record unchanged, for the hot path where neither
// transformation nor filtering is configured (spec.md §4.3).
type FastKVPairWriter struct {
	perPartitionBuffers
	Partition partition.Function

	tuplesWritten uint64
	bytesWritten  uint64
}

// NewFastKVPairWriter constructs a filterless, strategyless writer.
func NewFastKVPairWriter(host Host, jobID uint64, bufferCapacity int, partitionFn partition.Function) *FastKVPairWriter {
	return &FastKVPairWriter{
		perPartitionBuffers: newPerPartitionBuffers(host, jobID, bufferCapacity, partitionFn.NumGlobalPartitions()),
		Partition:           partitionFn,
	}
}

// Write implements Writer.
func (w *FastKVPairWriter) Write(ctx context.Context, key, value []byte) error {
	dest := w.Partition.GlobalPartition(key)
	need := kv.HeaderSize + len(key) + len(value)
	b, err := w.ensure(ctx, dest, need)
	if err != nil {
		return err
	}
	if err := b.Append(key, value); err != nil {
		return err
	}
	w.tuplesWritten++
	w.bytesWritten += uint64(need)
	return nil
}

// SetupWrite implements Writer.
func (w *FastKVPairWriter) SetupWrite(ctx context.Context, key []byte, maxValueLen int) ([]byte, error) {
	dest := w.Partition.GlobalPartition(key)
	need := kv.HeaderSize + len(key) + maxValueLen
	b, err := w.ensure(ctx, dest, need)
	if err != nil {
		return nil, err
	}
	w.pendingDest = int(dest)
	w.havePending = true
	return b.SetupAppend(key, maxValueLen)
}

// CommitWrite implements Writer.
func (w *FastKVPairWriter) CommitWrite(valueLen int) error {
	if !w.havePending {
		panic("sample: CommitWrite with no pending SetupWrite")
	}
	w.havePending = false
	b := w.buffers[w.pendingDest]
	if err := b.CommitAppend(valueLen); err != nil {
		return err
	}
	w.tuplesWritten++
	w.bytesWritten += uint64(valueLen)
	return nil
}

// FlushBuffers implements Writer.
func (w *FastKVPairWriter) FlushBuffers(ctx context.Context) error {
	w.flushAll()
	w.host.LogWriteStats(w.bytesWritten, w.bytesWritten, w.tuplesWritten, w.tuplesWritten)
	return nil
}
