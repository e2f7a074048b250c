package workqueue

import (
	"context"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// FairDiskPolicy is the one specialization that cannot be expressed as a
// Policy EnqueueID/DequeueID hook, because its queue selection depends on
// queue occupancy at dequeue time (spec.md §4.1 "fair-disk"; grounded on
// FairDiskWorkQueueingPolicy.h/.cc): work units are bucketed by disk at
// enqueue, same as any other policy, but dequeue ignores the caller's
// requested queue ID entirely and instead round-robins across the disk
// buckets so that a stage feeding several disk-writers (e.g. the reducer)
// drains every disk at an even rate regardless of which disks happen to
// have the most backlog.
type FairDiskPolicy struct {
	mu   sync.Mutex
	cond *ctxsync.Cond

	// DiskOf maps a work unit to a disk index in [0, numDisks). Defaults to
	// workUnit.(Disker).DiskID() % numDisks.
	DiskOf func(workUnit Unit) uint64

	numDisks     uint64
	queues       []Queue
	nextQueueID  uint64
	numWorkUnits uint64
	done         bool
}

// NewFairDiskPolicy constructs a fair-disk policy over numDisks buckets.
func NewFairDiskPolicy(numDisks uint64) *FairDiskPolicy {
	p := &FairDiskPolicy{numDisks: numDisks, queues: make([]Queue, numDisks)}
	p.cond = ctxsync.NewCond(&p.mu)
	return p
}

func (p *FairDiskPolicy) diskOf(workUnit Unit) uint64 {
	if p.DiskOf != nil {
		return p.DiskOf(workUnit)
	}
	d, ok := workUnit.(Disker)
	if !ok {
		panic("workqueue: fair-disk policy requires a Disker work unit or an explicit DiskOf hook")
	}
	return d.DiskID() % p.numDisks
}

// Enqueue buckets a work unit by disk.
func (p *FairDiskPolicy) Enqueue(workUnit Unit) {
	if workUnit == nil {
		panic("workqueue: cannot enqueue a nil work unit; call Teardown instead")
	}
	id := p.diskOf(workUnit)
	p.mu.Lock()
	p.queues[id].Push(workUnit)
	p.numWorkUnits++
	p.cond.Broadcast()
	p.mu.Unlock()
}

// getNextRoundRobinWorkUnit pops from the first non-empty bucket starting at
// nextQueueID, and leaves nextQueueID pointing just past it. Caller must
// hold p.mu and know p.numWorkUnits > 0.
func (p *FairDiskPolicy) getNextRoundRobinWorkUnit() Unit {
	for i := uint64(0); i < p.numDisks; i++ {
		idx := (p.nextQueueID + i) % p.numDisks
		if !p.queues[idx].Empty() {
			p.nextQueueID = (idx + 1) % p.numDisks
			p.numWorkUnits--
			return p.queues[idx].Pop()
		}
	}
	panic("workqueue: fair-disk policy numWorkUnits > 0 but all buckets empty")
}

// Dequeue ignores requestedQueueID and blocks for the next work unit in
// round-robin disk order, returning a nil Unit once every bucket has
// drained after Teardown.
func (p *FairDiskPolicy) Dequeue(ctx context.Context, requestedQueueID uint64) (Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numWorkUnits == 0 && !p.done {
		if err := p.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if p.numWorkUnits == 0 {
		return nil, nil
	}
	return p.getNextRoundRobinWorkUnit(), nil
}

// NonBlockingDequeue attempts an immediate round-robin dequeue.
func (p *FairDiskPolicy) NonBlockingDequeue(requestedQueueID uint64) (workUnit Unit, gotNewWork bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numWorkUnits > 0 {
		return p.getNextRoundRobinWorkUnit(), true
	}
	if p.done {
		return nil, true
	}
	return nil, false
}

// BatchDequeue drains every disk bucket, in round-robin order starting from
// nextQueueID, onto dest.
func (p *FairDiskPolicy) BatchDequeue(requestedQueueID uint64, dest *Queue) {
	p.mu.Lock()
	for i := uint64(0); i < p.numDisks; i++ {
		idx := (p.nextQueueID + i) % p.numDisks
		p.queues[idx].MoveWorkToQueue(dest)
	}
	p.numWorkUnits = 0
	if p.done {
		dest.Push(nil)
	}
	p.mu.Unlock()
}

// Teardown marks the policy done, waking any blocked dequeuer so it can
// observe drained buckets and return a nil work unit.
func (p *FairDiskPolicy) Teardown() {
	p.mu.Lock()
	p.done = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// NumQueues reports the number of disk buckets.
func (p *FairDiskPolicy) NumQueues() int { return int(p.numDisks) }
