// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue provides the two bounded, lock-free FIFO queues the
// runtime's hot paths are built on:
//
//   - [SPSC]: one producer, one consumer. Broker.Subscribe hands one of
//     these to every subscription — Publish is the sole enqueuer, the
//     subscriber's own drain loop is the sole dequeuer.
//   - [MPMCIndirect]: any number of producers and consumers, carrying
//     uintptr-sized handles. dag.Pool's free list packs a slot
//     index/generation pair into the handle; executor.Executor's ready
//     queue stores a raw NodeId. Both are fed and drained from every
//     worker goroutine in the pool.
//
// # Capacity
//
// Capacity rounds up to the next power of 2:
//
//	q := queue.NewMPMCIndirect(3)     // Actual capacity: 4
//	q := queue.NewSPSC[T](1000)       // Actual capacity: 1024
//
// Minimum capacity is 2. Both constructors panic if capacity < 2 —
// this is a caller configuration error, not a runtime condition.
//
// Length is intentionally not provided: accurate counts in lock-free
// algorithms require expensive cross-core synchronization. Callers that
// need occupancy track it themselves alongside the queue; the broker's
// back-pressure accounting needs none, it counts failed Enqueue calls.
//
// # Error Handling
//
// Both queues return [ErrWouldBlock] when an operation cannot proceed —
// full on Enqueue, empty on Dequeue. This is a control-flow signal, not
// a failure: callers retry with backoff rather than propagating it.
// ErrWouldBlock is sourced from [code.hybscloud.com/iox] for ecosystem
// consistency with the rest of the module.
//
//	backoff := iox.Backoff{}
//	for {
//	    if err := q.Enqueue(&item); err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    backoff.Wait()
//	}
//
// # Graceful Shutdown
//
// MPMCIndirect includes a livelock-prevention threshold that can cause
// Dequeue to return ErrWouldBlock even when items remain, if it hasn't
// seen recent producer activity. executor.Executor calls [Drainer.Drain]
// on its ready queue once a run transitions to RunDraining, so workers
// can empty what is left without waiting on arm activity that will
// never come again. SPSC has no such threshold and does not implement
// Drainer.
//
// # Thread Safety
//
// SPSC requires exactly one producer goroutine and one consumer
// goroutine; violating that causes data corruption, not just races.
// MPMCIndirect allows any number of producers and consumers
// concurrently.
//
// # Race Detection
//
// Go's race detector tracks explicit synchronization primitives but
// cannot observe the acquire-release orderings these queues rely on for
// correctness, so their concurrent tests are skipped under it via
// [RaceEnabled] rather than reported as false positives.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, and [code.hybscloud.com/spin] for CPU pause
// instructions during contended retries.
package queue
