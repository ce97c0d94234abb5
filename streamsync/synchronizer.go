// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamsync

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/unit"
)

// FollowerTick is one non-leader stream's contribution to a Event: its
// current or filled tick, and whether it required a gap fill.
type FollowerTick struct {
	Stream ids.StreamId
	Tick   unit.Tick
	Gap    bool
}

// Event is one synchronized-tick emission: the leader's tick plus every
// other live stream's tick (or fill) at the leader's timestamp. A
// stream configured with FillStrategy Drop is omitted from Followers
// entirely rather than appearing with a sentinel value.
type Event struct {
	Timestamp  int64
	Leader     ids.StreamId
	LeaderTick unit.Tick
	Followers  []FollowerTick
}

// Synchronizer aligns up to cfg.MaxStreams asynchronous streams onto a
// shared timeline (C6). It maintains per-stream State, elects a leader
// per cfg.LeaderMode on every tick, and emits a Event whenever the
// leader stream ticks.
type Synchronizer struct {
	cfg    config.Config
	filler unit.Filler

	mu      sync.Mutex
	streams []*State
	streamIDs []ids.StreamId
	byID    map[ids.StreamId]int

	window *slidingCounter

	// throttle debounces emission cadence: a leader tick inside
	// cfg.SyncFrequency of the previous emission does not produce a
	// second Event. This is go-catrate's Limiter used for its actual
	// designed purpose (rate limiting), unlike the hand-rolled count in
	// ratewindow.go.
	throttle *catrate.Limiter

	lastEmitted int64
}

// New returns a Synchronizer configured per cfg. filler may be nil, in
// which case Linear/Cubic fill requests fall back to repeating the
// follower's last tick (equivalent to OldTick) rather than panicking.
func New(cfg config.Config, filler unit.Filler) *Synchronizer {
	freq := cfg.SyncFrequency
	if freq <= 0 {
		freq = time.Nanosecond
	}
	window := cfg.LeaderWindow
	if window <= 0 {
		window = time.Second
	}
	return &Synchronizer{
		cfg:      cfg,
		filler:   filler,
		byID:     make(map[ids.StreamId]int, cfg.MaxStreams),
		window:   newSlidingCounter(cfg.MaxStreams, window),
		throttle: catrate.NewLimiter(map[time.Duration]int{freq: 1}),
	}
}

// RegisterStream allocates a new stream slot. Returns ErrPoolExhausted
// once cfg.MaxStreams slots are in use.
func (s *Synchronizer) RegisterStream() (ids.StreamId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) >= s.cfg.MaxStreams {
		return 0, errs.ErrPoolExhausted
	}
	idx := len(s.streams)
	id := ids.MakeStream(uint32(idx), 0)
	s.streams = append(s.streams, &State{Strategy: s.cfg.FillStrategy})
	s.streamIDs = append(s.streamIDs, id)
	s.byID[id] = idx
	return id, nil
}

// Streams returns every registered stream id, in registration order.
func (s *Synchronizer) Streams() []ids.StreamId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ids.StreamId, len(s.streamIDs))
	copy(out, s.streamIDs)
	return out
}

// State returns a copy of stream's current synchronizer state.
func (s *Synchronizer) State(stream ids.StreamId) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[stream]
	if !ok {
		return State{}, errs.ErrUnknownNode
	}
	return *s.streams[idx], nil
}

// OnTick records a new tick on stream and, if stream is currently
// elected leader, returns the Event it produces (assembled from every
// other stream's latest or filled tick). A non-leader tick returns a
// nil slice, nil error.
//
// Invariant: Event.Timestamp is strictly monotonically non-decreasing
// across calls, and never precedes any Follower tick included in the
// same event (spec.md §4.6, §8).
func (s *Synchronizer) OnTick(stream ids.StreamId, tick unit.Tick) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[stream]
	if !ok {
		return nil, errs.ErrUnknownNode
	}
	st := s.streams[idx]
	st.LastTick = tick
	st.Latest = tick.Timestamp
	s.window.record(idx, tick.Timestamp)

	leaderIdx := s.electLeader(tick.Timestamp)
	if leaderIdx != idx {
		return nil, nil
	}
	if tick.Timestamp < s.lastEmitted {
		// A leader tick older than the last emission would violate the
		// monotonic-timestamp invariant; drop rather than emit out of
		// order. Producers are expected to deliver per-stream ticks in
		// non-decreasing timestamp order (spec.md §5).
		return nil, nil
	}
	if _, allowed := s.throttle.Allow(leaderKey); !allowed {
		return nil, nil
	}

	for i, other := range s.streams {
		other.Leader = i == idx
	}
	st.Synchronized = true
	s.lastEmitted = tick.Timestamp

	ev := Event{Timestamp: tick.Timestamp, Leader: stream, LeaderTick: tick}
	for i, other := range s.streams {
		if i == idx {
			continue
		}
		ft := s.followerTick(other, tick.Timestamp)
		if ft == nil {
			continue
		}
		ft.Stream = s.streamIDs[i]
		ev.Followers = append(ev.Followers, *ft)
	}
	return []Event{ev}, nil
}

// leaderKey is the throttle's single rate-limiting category: emission
// cadence is a property of the synchronizer as a whole, not per-leader,
// since only one stream is ever leader at a time.
const leaderKey = "leader"

// followerTick assembles other's contribution to an emission at
// tLeader, applying the configured gap detection and fill strategy.
// Returns nil if the stream should be omitted (FillStrategy Drop on a
// gapped stream).
func (s *Synchronizer) followerTick(other *State, tLeader int64) *FollowerTick {
	gap := tLeader-other.Latest > s.cfg.MaxLagNs
	other.Gap = gap
	if !gap {
		return &FollowerTick{Tick: other.LastTick, Gap: false}
	}

	switch other.Strategy {
	case config.Drop:
		return nil
	case config.OldTick, config.Hold:
		return &FollowerTick{Tick: other.LastTick, Gap: true}
	default: // Linear, Cubic
		if s.filler == nil {
			return &FollowerTick{Tick: other.LastTick, Gap: true}
		}
		filled := s.filler.Fill(other.LastTick, other.LastTick, tLeader)
		return &FollowerTick{Tick: filled, Gap: true}
	}
}

// electLeader picks the current leader stream index per cfg.LeaderMode.
// now is the timestamp of the tick that triggered this election:
// HighestRate counts each stream's ticks in the window ending at now,
// while LowestLag compares each stream's latest timestamp against
// wall-clock time.
func (s *Synchronizer) electLeader(now int64) int {
	if len(s.streams) == 0 {
		return -1
	}
	switch s.cfg.LeaderMode {
	case config.FixedLeader:
		if idx, ok := s.byID[s.cfg.FixedLeaderStream]; ok {
			return idx
		}
		return 0
	case config.LowestLag:
		wall := time.Now().UnixNano()
		best := 0
		bestDiff := abs64(wall - s.streams[0].Latest)
		for i := 1; i < len(s.streams); i++ {
			diff := abs64(wall - s.streams[i].Latest)
			if diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		return best
	default: // HighestRate
		best := 0
		bestCount := s.window.count(0, now)
		for i := 1; i < len(s.streams); i++ {
			c := s.window.count(i, now)
			if c > bestCount {
				best, bestCount = i, c
			}
		}
		return best
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
