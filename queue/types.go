// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

// QueueIndirect is the combined interface for handle queues, implemented
// by MPMCIndirect. dag.Pool's free list and executor's ready queue hold
// the concrete *MPMCIndirect rather than this interface.
//
// The interface intentionally excludes length because accurate counts in
// lock-free algorithms require expensive cross-core synchronization.
// Track counts in application logic when needed.
type QueueIndirect interface {
	ProducerIndirect
	ConsumerIndirect
	Cap() int
}

// ProducerIndirect enqueues uintptr handles (non-blocking).
type ProducerIndirect interface {
	// Enqueue adds a handle to the queue.
	// Returns ErrWouldBlock immediately if the queue is full.
	Enqueue(elem uintptr) error
}

// ConsumerIndirect dequeues uintptr handles (non-blocking).
type ConsumerIndirect interface {
	// Dequeue removes and returns a handle from the queue.
	// Returns (0, ErrWouldBlock) immediately if the queue is empty.
	Dequeue() (uintptr, error)
}

// Drainer signals that no more enqueues will occur.
//
// MPMCIndirect implements this interface; SPSC does not, since it has no
// threshold mechanism to bypass.
//
// executor.Executor calls Drain on its ready queue once a run enters
// RunDraining, so a worker draining the last nodes after shutdown is
// requested is not blocked by the livelock threshold waiting for arm
// activity that will never come again.
type Drainer interface {
	// Drain signals that no more enqueues will occur.
	// After Drain is called, Dequeue skips threshold checks, allowing
	// consumers to drain all remaining items without producer pressure.
	//
	// Drain is a hint — the caller must ensure no further Enqueue calls
	// will be made after calling Drain.
	Drain()
}
