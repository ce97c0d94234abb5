// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package unit defines the ProcessingUnit contract: the boundary the
// executor requires of every node behavior, whether a built-in kind
// (tick, batch, interpolation) or an externally supplied one.
//
// process() is called from a worker goroutine on the hot path and must
// not block or allocate: no I/O, no locks, no growing slices. A unit
// that needs scratch space should pre-size it in on_attach and reuse it
// across calls.
package unit

import (
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
)

// Kind enumerates the built-in unit categories. External units register
// under KindUser and carry their own sub-tag in Config.
type Kind uint8

const (
	KindTick Kind = iota
	KindBatch
	KindInterpolation
	KindData
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindBatch:
		return "batch"
	case KindInterpolation:
		return "interpolation"
	case KindData:
		return "data"
	default:
		return "user"
	}
}

// Status is the outcome of a single process() call.
type Status uint8

const (
	// Ok: the unit made progress; downstream readiness advances normally.
	Ok Status = iota
	// Transient: the executor re-queues the node once after a backoff.
	Transient
	// Permanent: the node is marked poisoned; its inputs are dropped and
	// counted, downstream nodes are starved deterministically.
	Permanent
	// Fatal: the owning DAG transitions to Cancelled.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// NumaHint carries the NUMA node a unit's state should prefer, as decided
// by the orchestrator's worker-pool placement. The runtime core treats
// NUMA binding as an external collaborator: this hint is passed through
// on_attach but never interpreted by the executor itself.
type NumaHint struct {
	Node int
}

// Metrics is a point-in-time snapshot a unit reports on request. The
// executor does not interpret these fields; it only relays them to
// callers via the orchestrator.
type Metrics struct {
	Dispatches uint64
	Errors     uint64
	LastLatencyNs int64
}

// Emitter receives the messages a process() call produces. Implementations
// are expected to be a thin adapter over a pre-sized slice so that process()
// itself performs no allocation.
type Emitter interface {
	Emit(message.Message)
}

// SliceEmitter is the default Emitter: an externally pre-allocated buffer
// that process() appends into, reused by the executor across dispatches.
type SliceEmitter struct {
	buf []message.Message
}

// NewSliceEmitter wraps buf, an externally pre-allocated scratch slice, for
// use as the output side of a process() call.
func NewSliceEmitter(buf []message.Message) *SliceEmitter {
	return &SliceEmitter{buf: buf[:0]}
}

// Emit appends msg. Capacity must have been pre-sized by the caller;
// growing past cap is a configuration error caught by tests, not a
// hot-path allocation the executor tolerates in production.
func (e *SliceEmitter) Emit(msg message.Message) {
	e.buf = append(e.buf, msg)
}

// Messages returns the messages collected since the last Reset.
func (e *SliceEmitter) Messages() []message.Message { return e.buf }

// Reset clears the buffer for the next dispatch, retaining capacity.
func (e *SliceEmitter) Reset() { e.buf = e.buf[:0] }

// ProcessingUnit is the capability every DAG node behavior must satisfy.
//
// This replaces the deep pure-virtual interface hierarchy of the source
// (IProcessingUnit / BaseProcessingUnit / per-kind subclasses) with a
// single flat contract: a closed set of built-in kinds plus one "user"
// arm, so a DAGNode can hold an opaque handle to this interface without
// growing a vtable per concrete type.
type ProcessingUnit interface {
	// Kind reports the unit's category for diagnostics and dispatch.
	Kind() Kind

	// InputSchema lists the message types expected on each input port,
	// in port order.
	InputSchema() []message.Type

	// OutputSchema lists the message types produced on each output port,
	// in port order.
	OutputSchema() []message.Type

	// OnAttach is called once when the unit is wired into node id on dag,
	// before the DAG starts running. Any scratch buffers the unit needs
	// during process() must be sized here.
	OnAttach(node ids.NodeId, dag ids.DagId, numa NumaHint)

	// Process consumes the messages delivered to the node since its last
	// dispatch and produces zero or more output messages via out.
	// Must be non-blocking and allocation-free.
	Process(in []message.Message, out Emitter) Status

	// OnDetach releases any resources acquired in OnAttach. Called once
	// during DAG teardown.
	OnDetach()

	// MetricsSnapshot returns the unit's current counters.
	MetricsSnapshot() Metrics
}

// Filler is implemented additionally by units registered under the
// synchronizer kind (KindInterpolation): the stream synchronizer never
// computes interpolated values itself, it only calls Fill on the unit
// configured for the stream's FillStrategy.
type Filler interface {
	// Fill produces the value for timestamp t given the tick immediately
	// before and after it on the same stream.
	Fill(prev, next Tick, t int64) Tick
}

// Tick is the minimal OHLC-less price observation the synchronizer and
// interpolation units exchange. It mirrors the inline fields a Message
// of TypeTick/TypeInterp carries in its payload window.
type Tick struct {
	Timestamp int64
	Price     float64
	Volume    float64
}
