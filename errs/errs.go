// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package errs collects the sentinel error values returned across the
// dataflow runtime. Hot-path operations (queue push/pop, publish) never
// allocate or unwind to report these; they are plain comparable values
// suitable for a direct == or errors.Is check, in the same spirit as
// [code.hybscloud.com/iox]'s ErrWouldBlock used throughout package queue.
package errs

import "errors"

var (
	// ErrPoolExhausted is returned by add_node when the node pool has no
	// free slots left.
	ErrPoolExhausted = errors.New("streamdag: node pool exhausted")

	// ErrQueueFull names a bounded queue push that cannot proceed. No
	// operation returns it: package queue reports a full queue with
	// queue.ErrWouldBlock, and the broker counts such a push in
	// PublishOutcome.Drops.
	ErrQueueFull = errors.New("streamdag: queue full")

	// ErrWouldBlock names a publish that cannot enqueue on a
	// BlockProducer=true subscription. Broker.Publish does not return it:
	// it retries that subscription itself until the deadline.
	ErrWouldBlock = errors.New("streamdag: would block")

	// ErrTimeout names the expiry of a deadline-bound blocking publish.
	// Broker.Publish does not return it: a subscription still full at the
	// deadline is listed in PublishOutcome.Blocked.
	ErrTimeout = errors.New("streamdag: timeout")

	// ErrUnknownNode is returned for a NodeId that is not live: never
	// allocated, already destroyed, or a stale (wrong-generation) handle.
	ErrUnknownNode = errors.New("streamdag: unknown node")

	// ErrUnknownDag is returned for a DagId that is not live.
	ErrUnknownDag = errors.New("streamdag: unknown dag")

	// ErrCycleDetected is returned by finalize when the node graph is
	// not acyclic.
	ErrCycleDetected = errors.New("streamdag: cycle detected")

	// ErrFanInExceeded is returned by connect when dst already has
	// max_fan_in incoming edges.
	ErrFanInExceeded = errors.New("streamdag: fan-in exceeded")

	// ErrFanOutExceeded is returned by connect when src already has
	// max_fan_out outgoing edges.
	ErrFanOutExceeded = errors.New("streamdag: fan-out exceeded")

	// ErrForbiddenWhileFinalized is returned by structural operations
	// (add_node, connect) attempted on a DAG that is not in Building state.
	ErrForbiddenWhileFinalized = errors.New("streamdag: forbidden after finalize")

	// ErrSchemaMismatch is returned by AddNodeFromKind when no factory is
	// registered for the requested unit kind. Connect does not compare
	// the message types of the ports it wires.
	ErrSchemaMismatch = errors.New("streamdag: schema mismatch")

	// ErrPayloadOverflow is returned when a caller tries to inline a
	// payload larger than the message's inline window.
	ErrPayloadOverflow = errors.New("streamdag: payload overflow")

	// ErrPoisoned names a node that returned Permanent and has been marked
	// poisoned. No operation returns it: the executor counts traffic for
	// such a node in the node's Errors counter and drops it.
	ErrPoisoned = errors.New("streamdag: node poisoned")

	// ErrCancelled names a DAG whose run_state has transitioned to
	// Cancelled. No operation returns it; the state is observed through
	// dag.Instance.RunState.
	ErrCancelled = errors.New("streamdag: cancelled")

	// ErrUnknownSession is returned for a SessionId that is not live:
	// never allocated, already destroyed, or a stale handle. Supplements
	// spec.md §7's error kind list for the session manager (C0), added
	// in the expanded spec.
	ErrUnknownSession = errors.New("streamdag: unknown session")

	// ErrNotRunning is returned by stop() for a DAG that reached
	// Finalized but was never started.
	ErrNotRunning = errors.New("streamdag: dag not running")

	// ErrInternal denotes a compile-time invariant violated at runtime
	// (size/alignment check, a finalized DAG rediscovered to be cyclic).
	// Surfacing this is always a bug.
	ErrInternal = errors.New("streamdag: internal invariant violated")
)
