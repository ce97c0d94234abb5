// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamsync

import "time"

// rateRingSize bounds each stream's per-window tick history. Ticks
// arrive in non-decreasing timestamp order per stream, so a fixed ring
// scanned backward from the most recent entry finds the window boundary
// without growing, copying, or allocating on the hot OnTick path.
const rateRingSize = 256

// streamRing is a per-stream fixed-capacity ring of recent tick
// timestamps, used only by HighestRate leader election.
//
// [github.com/joeycumines/go-catrate] is wired into this package for
// its designed purpose (see throttle in synchronizer.go); its Limiter
// exposes only Allow, no per-category event count, so it cannot serve
// "which stream ticked most in the last window" directly. That count is
// hand-rolled here, in the same spirit as executor's Chase-Lev deque:
// no reference implementation in the pack covers this exact operation.
type streamRing struct {
	ts   [rateRingSize]int64
	head int
	len  int
}

func (r *streamRing) record(ts int64) {
	r.ts[r.head] = ts
	r.head = (r.head + 1) % rateRingSize
	if r.len < rateRingSize {
		r.len++
	}
}

// count returns how many recorded timestamps fall within window ending
// at now. Scans backward from the most recent entry and stops at the
// first one older than the cutoff, since entries are recorded in
// arrival (non-decreasing) order.
func (r *streamRing) count(window time.Duration, now int64) int {
	cutoff := now - int64(window)
	n := 0
	for i := 0; i < r.len; i++ {
		idx := (r.head - 1 - i + rateRingSize) % rateRingSize
		if r.ts[idx] < cutoff {
			break
		}
		n++
	}
	return n
}

// slidingCounter tracks one streamRing per registered stream slot.
type slidingCounter struct {
	window time.Duration
	rings  []streamRing
}

func newSlidingCounter(maxStreams int, window time.Duration) *slidingCounter {
	return &slidingCounter{window: window, rings: make([]streamRing, maxStreams)}
}

func (c *slidingCounter) record(idx int, ts int64) {
	if idx < 0 || idx >= len(c.rings) {
		return
	}
	c.rings[idx].record(ts)
}

func (c *slidingCounter) count(idx int, now int64) int {
	if idx < 0 || idx >= len(c.rings) {
		return 0
	}
	return c.rings[idx].count(c.window, now)
}
