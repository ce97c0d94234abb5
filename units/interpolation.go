// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package units

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/unit"
)

// InterpolationUnit is the reference unit.Filler: the stream
// synchronizer (package streamsync) never computes a fill value itself,
// it calls Fill on a unit configured this way (spec.md §4.6). It also
// doubles as a plain relay ProcessingUnit so it can sit in a DAG like
// any other node (Core_InterpolationProcessingUnit's dual role).
type InterpolationUnit struct {
	node ids.NodeId
	dag  ids.DagId

	Strategy config.FillStrategy

	dispatches atomix.Uint64
	errors     atomix.Uint64
}

// NewInterpolationUnit returns an InterpolationUnit that fills gaps per
// strategy when used as the synchronizer's unit.Filler.
func NewInterpolationUnit(strategy config.FillStrategy) *InterpolationUnit {
	return &InterpolationUnit{Strategy: strategy}
}

func (u *InterpolationUnit) Kind() unit.Kind { return unit.KindInterpolation }

func (u *InterpolationUnit) InputSchema() []message.Type  { return []message.Type{message.TypeTick} }
func (u *InterpolationUnit) OutputSchema() []message.Type { return []message.Type{message.TypeInterp} }

func (u *InterpolationUnit) OnAttach(node ids.NodeId, dag ids.DagId, _ unit.NumaHint) {
	u.node = node
	u.dag = dag
}

func (u *InterpolationUnit) Process(in []message.Message, out unit.Emitter) unit.Status {
	for _, m := range in {
		if m.Type != message.TypeTick {
			continue
		}
		t := unit.DecodeTick(m)
		var msg message.Message
		msg.Type = message.TypeInterp
		msg.Source = u.node
		msg.Dest = m.Dest
		msg.Timestamp = t.Timestamp
		t.EncodeInto(&msg)
		out.Emit(msg)
	}
	u.dispatches.AddAcqRel(1)
	return unit.Ok
}

func (u *InterpolationUnit) OnDetach() {}

func (u *InterpolationUnit) MetricsSnapshot() unit.Metrics {
	return unit.Metrics{
		Dispatches: u.dispatches.LoadAcquire(),
		Errors:     u.errors.LoadAcquire(),
	}
}

// Fill implements unit.Filler for streamsync: produces the value at t
// bracketed by prev and next, per u.Strategy.
func (u *InterpolationUnit) Fill(prev, next unit.Tick, t int64) unit.Tick {
	switch u.Strategy {
	case config.Linear:
		return linearFill(prev, next, t)
	case config.Cubic:
		return cubicFill(prev, next, t)
	default: // Hold, OldTick, Drop: Drop is intercepted by the caller
		// before Fill is ever invoked (streamsync omits the stream
		// entirely), so reaching here for Drop is a caller bug, not a
		// condition this method needs to special-case.
		return prev
	}
}

func linearFill(prev, next unit.Tick, t int64) unit.Tick {
	if next.Timestamp == prev.Timestamp {
		return prev
	}
	frac := float64(t-prev.Timestamp) / float64(next.Timestamp-prev.Timestamp)
	return unit.Tick{
		Timestamp: t,
		Price:     prev.Price + (next.Price-prev.Price)*frac,
		Volume:    prev.Volume + (next.Volume-prev.Volume)*frac,
	}
}

// cubicFill applies a smoothstep-weighted blend between the two known
// ticks. The original's AVX2 cubic kernel (Core_AVX2Math.h) is an
// external collaborator outside this module's scope (spec.md §1); this
// is the plain float64 two-point equivalent.
func cubicFill(prev, next unit.Tick, t int64) unit.Tick {
	if next.Timestamp == prev.Timestamp {
		return prev
	}
	frac := float64(t-prev.Timestamp) / float64(next.Timestamp-prev.Timestamp)
	weight := frac * frac * (3 - 2*frac)
	return unit.Tick{
		Timestamp: t,
		Price:     prev.Price + (next.Price-prev.Price)*weight,
		Volume:    prev.Volume + (next.Volume-prev.Volume)*weight,
	}
}
