// Package workqueue implements the worker-stage runtime's queueing
// primitives: a single-producer/single-consumer FIFO with whole-queue
// tail splice, a blocking thread-safe wrapper, and the routing policies that
// compose them into the specializations of spec.md §4.1.
//
// Grounded line-for-line on
// _examples/original_source/src/tritonsort/core/{WorkQueue,
// ThreadSafeWorkQueue,WorkQueueingPolicy}.{h,cc}, substituting Go
// channels-free condvar blocking (ctxsync.Cond) for pthread condvars.
package workqueue

// Unit is a typed work unit. Enqueuing a nil Unit is the terminal
// sentinel: "this queue will never receive additional work" (spec.md
// §4.1). Concrete stages define their own unit types (e.g. *buffer.Buffer)
// and type-assert on dequeue.
type Unit interface {
	// SizeBytes reports the unit's size for Queue's running byte total
	// (Queue.TotalBytes).
	SizeBytes() uint64
}

// Queue is a single-threaded FIFO of work units supporting a splice of
// its entire contents onto another queue. Not safe for concurrent use;
// ThreadSafeQueue wraps one with a mutex+condvar for that.
type Queue struct {
	items      []Unit
	noMoreWork bool
	totalBytes uint64
}

// Push appends a work unit, or (if workUnit is nil) marks the queue as
// never receiving more work.
func (q *Queue) Push(workUnit Unit) {
	if workUnit == nil {
		q.noMoreWork = true
		return
	}
	q.items = append(q.items, workUnit)
	q.totalBytes += workUnit.SizeBytes()
}

// Pop removes and returns the front work unit. Callers must check Empty
// first.
func (q *Queue) Pop() Unit {
	u := q.items[0]
	q.totalBytes -= u.SizeBytes()
	q.items = q.items[1:]
	return u
}

// Front returns the front work unit without removing it.
func (q *Queue) Front() Unit { return q.items[0] }

// Size returns the number of work units currently queued.
func (q *Queue) Size() int { return len(q.items) }

// TotalBytes returns the summed SizeBytes of all currently queued units.
func (q *Queue) TotalBytes() uint64 { return q.totalBytes }

// Empty reports whether the queue currently holds no work units.
func (q *Queue) Empty() bool { return len(q.items) == 0 }

// WillNotReceiveMoreWork reports whether a terminal sentinel has ever been
// pushed to this queue.
func (q *Queue) WillNotReceiveMoreWork() bool { return q.noMoreWork }

// MoveWorkToQueue appends this queue's entire contents onto dest (copying
// the unit references), propagates the terminal flag, and leaves this
// queue empty.
func (q *Queue) MoveWorkToQueue(dest *Queue) {
	dest.items = append(dest.items, q.items...)
	dest.noMoreWork = dest.noMoreWork || q.noMoreWork
	dest.totalBytes += q.totalBytes
	q.items = nil
	q.totalBytes = 0
}
