// Package demux implements TupleDemux (spec.md §4.6): a worker pinned to
// one partition group that routes incoming shuffle buffers into
// per-local-partition output buffers, tagging each emitted buffer with
// its logical disk id.
//
// Grounded on
// _examples/original_source/src/tritonsort/mapreduce/workers/tupledemux/TupleDemux.cc.
// The original's minutesort "large partition" fast path (buffers for a
// partition big enough to bypass the usual flush-on-teardown discipline)
// is not part of spec.md's TupleDemux responsibility and is left out;
// everything spec.md §4.6 names (partition-group pinning, lazy binding,
// local-partition routing via the offset formula, offset-tagged
// emission, teardown flush) is implemented.
package demux

import (
	"context"
	"sync"

	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/buffer"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/job"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/partition"
	"github.com/TritonNetworking/themis-tritonsort-sub002/pkg/sample"
	"github.com/grailbio/base/errors"
)

// Layout answers the partition-count questions a demux needs to compute
// partition_offset (spec.md §4.6), mirroring the original's PartitionMap
// dependency (getNumPartitionsPerGroup/getNumPartitionsPerNode).
type Layout interface {
	NumPartitionsPerGroup(jobID job.ID) uint64
	NumPartitionsPerNode(jobID job.ID) uint64
}

// localPartitionFunction adapts a job's PartitionFunction into the
// 0-indexed "which local output slot" function a PartialKVPairWriter
// needs, implementing the spec.md §4.6 formula
// `local = partition_function.local_partition(key, partition_group) - partition_offset`
// as GlobalPartition so the writer's existing per-destination-buffer
// machinery can be reused unchanged (mirrors the original's
// writer->setPartitionFunction indirection).
type localPartitionFunction struct {
	pf                 partition.Function
	partitionGroup     uint64
	partitionsPerGroup uint64
	partitionOffset    uint64
}

func (l localPartitionFunction) GlobalPartition(key []byte) uint64 {
	return l.pf.LocalPartition(key, l.partitionGroup) - l.partitionOffset
}
func (l localPartitionFunction) LocalPartition(key []byte, partitionGroup uint64) uint64 {
	return 0
}
func (l localPartitionFunction) NumGlobalPartitions() uint64 { return l.partitionsPerGroup }
func (l localPartitionFunction) HashesKeys() bool            { return l.pf.HashesKeys() }
func (l localPartitionFunction) AcceptedByFilter(key []byte, filter partition.Filter) bool {
	return l.pf.AcceptedByFilter(key, filter)
}

// offsettingHost wraps a sample.Host so that every buffer it emits is
// tagged with logical_disk_id = local + partition_offset before reaching
// the real host, matching TupleDemux::emitBuffer's
// `buffer->setLogicalDiskID(partition + partitionOffset)`.
type offsettingHost struct {
	sample.Host
	partitionOffset uint64
}

func (h offsettingHost) EmitBuffer(b *buffer.Buffer) {
	b.LogicalDiskID += h.partitionOffset
	h.Host.EmitBuffer(b)
}

// Demux is TupleDemux: one worker servicing exactly one partition group.
type Demux struct {
	// ID is this demux's worker id among NumDemuxes siblings; it must equal
	// every incoming buffer's partition_group % NumDemuxes.
	ID         uint64
	NodeID     uint64
	NumDemuxes uint64

	BufferCapacity int

	Host       sample.Host
	Jobs       job.Source
	Partitions *partition.FunctionMap
	Layout     Layout

	bindOnce sync.Once
	bindErr  error

	jobID              job.ID
	partitionGroup     uint64
	partitionsPerGroup uint64
	partitionOffset    uint64
	writer             *sample.PartialKVPairWriter
}

func (d *Demux) bind(ctx context.Context, jobID job.ID, partitionGroup uint64) error {
	d.bindOnce.Do(func() {
		d.jobID = jobID
		d.partitionGroup = partitionGroup
		d.bindErr = d.bindLocked(jobID, partitionGroup)
	})
	if d.bindErr != nil {
		return d.bindErr
	}
	if jobID != d.jobID {
		return errors.E(errors.Fatal, "demux: expected all buffers to have job id %d, got %d", d.jobID, jobID)
	}
	return nil
}

func (d *Demux) bindLocked(jobID job.ID, partitionGroup uint64) error {
	d.partitionsPerGroup = d.Layout.NumPartitionsPerGroup(jobID)
	d.partitionOffset = d.Layout.NumPartitionsPerNode(jobID)*d.NodeID + d.partitionsPerGroup*d.ID

	partitionFn, err := d.Partitions.Get(jobID)
	if err != nil {
		return err
	}

	local := localPartitionFunction{
		pf:                 partitionFn,
		partitionGroup:     partitionGroup,
		partitionsPerGroup: d.partitionsPerGroup,
		partitionOffset:    d.partitionOffset,
	}
	host := offsettingHost{Host: d.Host, partitionOffset: d.partitionOffset}
	d.writer = sample.NewPartialKVPairWriter(host, uint64(jobID), d.BufferCapacity, local)
	return nil
}

// Run routes one incoming shuffle buffer's records into this demux's
// per-local-partition output buffers.
func (d *Demux) Run(ctx context.Context, buf *buffer.Buffer) error {
	partitionGroup := buf.PartitionGroup % d.NumDemuxes
	if partitionGroup != d.ID {
		return errors.E(errors.Fatal, "demux %d should only service partition group %d but got a buffer for group %d", d.ID, d.ID, partitionGroup)
	}

	if err := d.bind(ctx, job.ID(buf.JobID), partitionGroup); err != nil {
		return err
	}

	it := buf.Iterate()
	for {
		pair, ok := it.Next()
		if !ok {
			break
		}
		if err := d.writer.Write(ctx, pair.Key, pair.Value); err != nil {
			return err
		}
	}
	return nil
}

// Teardown flushes every nonzero output slot (spec.md §4.6: "On teardown,
// all nonzero slots are flushed").
func (d *Demux) Teardown(ctx context.Context) error {
	if d.writer == nil {
		return nil
	}
	return d.writer.FlushBuffers(ctx)
}
