package workqueue

import (
	"context"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// ThreadSafeQueue wraps a Queue with a mutex and condition variable,
// grounded on
// _examples/original_source/src/tritonsort/core/ThreadSafeWorkQueue.{h,cc}.
// The pthread condvar there becomes a ctxsync.Cond here so every blocking
// wait point in this module (buffer pool acquire, queue dequeue) shares one
// context-cancellation story.
type ThreadSafeQueue struct {
	mu   sync.Mutex
	cond *ctxsync.Cond
	q    Queue
}

// NewThreadSafeQueue returns an empty, ready-to-use queue.
func NewThreadSafeQueue() *ThreadSafeQueue {
	tsq := &ThreadSafeQueue{}
	tsq.cond = ctxsync.NewCond(&tsq.mu)
	return tsq
}

// Push enqueues a work unit (or, for nil, marks the queue terminal) and
// wakes any blocked dequeuer.
func (tsq *ThreadSafeQueue) Push(workUnit Unit) {
	tsq.mu.Lock()
	tsq.q.Push(workUnit)
	tsq.cond.Broadcast()
	tsq.mu.Unlock()
}

// BlockingPop waits until the queue is non-empty or has been marked
// terminal, then returns the front work unit (nil once the queue has both
// drained and been marked terminal).
func (tsq *ThreadSafeQueue) BlockingPop(ctx context.Context) (Unit, error) {
	tsq.mu.Lock()
	defer tsq.mu.Unlock()
	for tsq.q.Empty() && !tsq.q.WillNotReceiveMoreWork() {
		if err := tsq.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if tsq.q.Empty() {
		return nil, nil
	}
	return tsq.q.Pop(), nil
}

// Pop performs a non-blocking dequeue attempt. It mirrors
// ThreadSafeWorkQueue::pop: gotNewWork is false only when the queue is
// empty and not yet marked terminal; once terminal and drained it reports
// gotNewWork=true with a nil work unit, matching WorkQueueingPolicy's
// nonBlockingDequeue promotion of "queue done" into a synthetic NULL
// delivery.
func (tsq *ThreadSafeQueue) Pop() (workUnit Unit, gotNewWork bool) {
	tsq.mu.Lock()
	defer tsq.mu.Unlock()
	if !tsq.q.Empty() {
		return tsq.q.Pop(), true
	}
	if tsq.q.WillNotReceiveMoreWork() {
		return nil, true
	}
	return nil, false
}

// MoveWorkToQueue atomically splices this queue's entire contents onto
// dest, preserving the terminal flag.
func (tsq *ThreadSafeQueue) MoveWorkToQueue(dest *Queue) {
	tsq.mu.Lock()
	tsq.q.MoveWorkToQueue(dest)
	tsq.cond.Broadcast()
	tsq.mu.Unlock()
}

// Size returns the number of work units currently queued.
func (tsq *ThreadSafeQueue) Size() int {
	tsq.mu.Lock()
	defer tsq.mu.Unlock()
	return tsq.q.Size()
}

// Empty reports whether the queue currently holds no work units.
func (tsq *ThreadSafeQueue) Empty() bool {
	tsq.mu.Lock()
	defer tsq.mu.Unlock()
	return tsq.q.Empty()
}
