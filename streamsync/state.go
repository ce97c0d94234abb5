// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package streamsync implements the leader-follower stream synchronizer
// (C6) and the stream multiplexer (C10) that feeds it: aligning N
// asynchronous streams onto a single timeline, gap detection, and
// delegation to a configured fill strategy.
//
// The synchronizer never computes interpolated values itself (spec.md
// §4.6): it delegates to a unit.Filler supplied at construction, the
// same way the original source kept Core_InterpolationProcessingUnit a
// separate translation unit from Core_StreamSynchronizer.
package streamsync

import (
	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/unit"
)

// State is a single stream's synchronizer-tracked state (C6). Target
// size is <=128 bytes per spec.md §3; unlike message.Message and
// dag.Node this is not asserted at compile time, since spec.md frames
// it as a target rather than a hard invariant.
type State struct {
	Latest       int64 // latest observed tick timestamp, ns
	LastBarTs    int64 // last completed bar timestamp, ns
	LastTick     unit.Tick
	LastBar      unit.Tick
	Strategy     config.FillStrategy
	Leader       bool
	Synchronized bool
	Gap          bool
}
