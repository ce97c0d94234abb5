// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the orchestrator's recognized configuration
// options and a fluent builder to assemble them: sensible defaults,
// chained With* calls, validated once at Build time rather than
// scattered across call sites.
package config

import (
	"runtime"
	"time"

	"code.hybscloud.com/streamdag/ids"
)

// ExecutionMode selects how the executor decides a node is ready to run.
type ExecutionMode uint8

const (
	// Streaming makes a node ready on any single input arrival; the unit
	// itself decides whether it has enough inputs to produce output.
	Streaming ExecutionMode = iota
	// BarrierSynchronous makes a node ready only once every input has
	// delivered at least one new message since the node's last dispatch.
	BarrierSynchronous
	// Rate behaves like BarrierSynchronous but additionally enforces a
	// minimum wall-clock spacing between dispatches of the same node.
	Rate
)

func (m ExecutionMode) String() string {
	switch m {
	case Streaming:
		return "streaming"
	case BarrierSynchronous:
		return "barrier_synchronous"
	case Rate:
		return "rate"
	default:
		return "unknown"
	}
}

// LeaderMode selects how the stream synchronizer picks the leader stream.
type LeaderMode uint8

const (
	// FixedLeader pins the leader to a single configured StreamId.
	FixedLeader LeaderMode = iota
	// HighestRate elects whichever stream ticked most in a sliding window.
	HighestRate
	// LowestLag elects whichever stream's latest timestamp is closest to
	// wall-clock.
	LowestLag
)

func (m LeaderMode) String() string {
	switch m {
	case FixedLeader:
		return "fixed_leader"
	case HighestRate:
		return "highest_rate"
	case LowestLag:
		return "lowest_lag"
	default:
		return "unknown"
	}
}

// FillStrategy selects how a follower stream's gap is filled when it
// falls more than MaxLagNs behind the leader.
type FillStrategy uint8

const (
	// OldTick repeats the follower's last observed tick unchanged.
	OldTick FillStrategy = iota
	// Linear interpolates linearly between the ticks bracketing t.
	Linear
	// Cubic interpolates with a cubic kernel between bracketing ticks.
	Cubic
	// Hold repeats the follower's last observed tick exactly like
	// OldTick; both mark the follower as gapped when the fill applies.
	Hold
	// Drop suppresses the follower's contribution to the synchronized
	// event entirely rather than emitting a sentinel value.
	Drop
)

func (s FillStrategy) String() string {
	switch s {
	case OldTick:
		return "old_tick"
	case Linear:
		return "linear"
	case Cubic:
		return "cubic"
	case Hold:
		return "hold"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Config collects every recognized orchestrator option (section 6 of the
// design). Build() fills unset fields with defaults and validates bounds.
type Config struct {
	NodePoolCapacity int
	QueueCapacity    int
	MaxFanIn         int
	MaxFanOut        int
	WorkerCount      int
	NumaNodes        uint64

	ExecutionMode ExecutionMode
	LeaderMode    LeaderMode
	FillStrategy  FillStrategy

	BlockOnFull bool

	MaxLagNs       int64
	BufferWindowNs int64
	SyncFrequency  time.Duration

	// RateMinGap is the executor's Rate mode minimum wall-clock spacing
	// between two dispatches of the same node. Only consulted when
	// ExecutionMode is Rate.
	RateMinGap time.Duration

	MaxStreams        int
	FixedLeaderStream ids.StreamId

	// LeaderWindow is the sliding window HighestRate election uses to
	// compare streams' recent tick counts. spec.md leaves the exact
	// window length an open question; this runtime pins it at one
	// second by default, overridable here.
	LeaderWindow time.Duration

	// MaxSessions bounds the session manager's registry (C0), the same
	// way NodePoolCapacity bounds the node pool.
	MaxSessions int
}

// Builder assembles a Config through chained With* calls.
type Builder struct {
	cfg Config
}

// New returns a Builder seeded with the runtime's defaults.
func New() *Builder {
	return &Builder{cfg: Config{
		NodePoolCapacity: 100_000,
		QueueCapacity:    1024,
		MaxFanIn:         8,
		MaxFanOut:        8,
		WorkerCount:      runtime.NumCPU(),
		NumaNodes:        ^uint64(0),
		ExecutionMode:    Streaming,
		LeaderMode:       FixedLeader,
		FillStrategy:     OldTick,
		BlockOnFull:      false,
		MaxLagNs:         int64(10 * time.Millisecond),
		BufferWindowNs:   int64(time.Second),
		SyncFrequency:    time.Millisecond,
		RateMinGap:       time.Millisecond,
		MaxStreams:       64,
		LeaderWindow:     time.Second,
		MaxSessions:      1024,
	}}
}

func (b *Builder) WithNodePoolCapacity(n int) *Builder { b.cfg.NodePoolCapacity = n; return b }
func (b *Builder) WithQueueCapacity(n int) *Builder     { b.cfg.QueueCapacity = n; return b }
func (b *Builder) WithMaxFanIn(n int) *Builder          { b.cfg.MaxFanIn = n; return b }
func (b *Builder) WithMaxFanOut(n int) *Builder         { b.cfg.MaxFanOut = n; return b }
func (b *Builder) WithWorkerCount(n int) *Builder       { b.cfg.WorkerCount = n; return b }
func (b *Builder) WithNumaNodes(mask uint64) *Builder   { b.cfg.NumaNodes = mask; return b }
func (b *Builder) WithExecutionMode(m ExecutionMode) *Builder { b.cfg.ExecutionMode = m; return b }
func (b *Builder) WithLeaderMode(m LeaderMode) *Builder       { b.cfg.LeaderMode = m; return b }
func (b *Builder) WithFillStrategy(s FillStrategy) *Builder   { b.cfg.FillStrategy = s; return b }
func (b *Builder) WithBlockOnFull(v bool) *Builder            { b.cfg.BlockOnFull = v; return b }
func (b *Builder) WithMaxLagNs(n int64) *Builder              { b.cfg.MaxLagNs = n; return b }
func (b *Builder) WithBufferWindowNs(n int64) *Builder        { b.cfg.BufferWindowNs = n; return b }
func (b *Builder) WithSyncFrequency(d time.Duration) *Builder { b.cfg.SyncFrequency = d; return b }
func (b *Builder) WithRateMinGap(d time.Duration) *Builder    { b.cfg.RateMinGap = d; return b }
func (b *Builder) WithMaxStreams(n int) *Builder              { b.cfg.MaxStreams = n; return b }
func (b *Builder) WithFixedLeaderStream(s ids.StreamId) *Builder { b.cfg.FixedLeaderStream = s; return b }
func (b *Builder) WithLeaderWindow(d time.Duration) *Builder  { b.cfg.LeaderWindow = d; return b }
func (b *Builder) WithMaxSessions(n int) *Builder             { b.cfg.MaxSessions = n; return b }

// Build validates and returns the assembled Config. Panics on an
// out-of-range value, matching package queue's constructors, which panic
// on a capacity below 2 rather than deferring the error to first use.
func (b *Builder) Build() Config {
	c := b.cfg
	if c.NodePoolCapacity < 1 {
		panic("config: NodePoolCapacity must be >= 1")
	}
	if c.QueueCapacity < 2 {
		panic("config: QueueCapacity must be >= 2")
	}
	if c.MaxFanIn < 1 || c.MaxFanOut < 1 {
		panic("config: MaxFanIn/MaxFanOut must be >= 1")
	}
	if c.WorkerCount < 1 {
		panic("config: WorkerCount must be >= 1")
	}
	if c.MaxStreams < 1 {
		panic("config: MaxStreams must be >= 1")
	}
	if c.LeaderWindow <= 0 {
		panic("config: LeaderWindow must be > 0")
	}
	if c.MaxSessions < 1 {
		panic("config: MaxSessions must be >= 1")
	}
	return c
}
