// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package units provides the reference unit.ProcessingUnit
// implementations for the built-in kinds spec.md §1 names as external
// collaborators (tick, batch, interpolation), grounded on
// original_source/Core_TickProcessingUnit.*,
// Core_BatchProcessingUnit.* and Core_InterpolationProcessingUnit.*.
//
// The original's AVX2 kernels (Core_AVX2Math.h) are explicitly out of
// this module's scope (spec.md §1): every numeric path here is plain
// float64 arithmetic.
package units

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/unit"
)

// TickUnit is the minimal conforming tick-processing node: it relays
// each inbound tick unchanged. Real per-market transforms are expected
// to be their own unit.ProcessingUnit, not a modification of this type;
// it exists to give the tick unit kind a usable default and a
// reference for InputSchema/OutputSchema/metrics wiring.
type TickUnit struct {
	node ids.NodeId
	dag  ids.DagId
	numa unit.NumaHint

	dispatches atomix.Uint64
	errors     atomix.Uint64
	lastNs     atomix.Uint64
}

// NewTickUnit returns an idle TickUnit; OnAttach finishes wiring it.
func NewTickUnit() *TickUnit { return &TickUnit{} }

func (u *TickUnit) Kind() unit.Kind { return unit.KindTick }

func (u *TickUnit) InputSchema() []message.Type  { return []message.Type{message.TypeTick} }
func (u *TickUnit) OutputSchema() []message.Type { return []message.Type{message.TypeTick} }

func (u *TickUnit) OnAttach(node ids.NodeId, dag ids.DagId, numa unit.NumaHint) {
	u.node = node
	u.dag = dag
	u.numa = numa
}

// Process relays every TypeTick message in in to out unchanged, silently
// discarding anything else (Connect does not compare port schemas, so
// other message types can arrive here).
func (u *TickUnit) Process(in []message.Message, out unit.Emitter) unit.Status {
	start := time.Now()
	for _, msg := range in {
		if msg.Type != message.TypeTick {
			continue
		}
		out.Emit(msg)
	}
	u.dispatches.AddAcqRel(1)
	u.lastNs.StoreRelease(uint64(time.Since(start).Nanoseconds()))
	return unit.Ok
}

func (u *TickUnit) OnDetach() {}

func (u *TickUnit) MetricsSnapshot() unit.Metrics {
	return unit.Metrics{
		Dispatches:    u.dispatches.LoadAcquire(),
		Errors:        u.errors.LoadAcquire(),
		LastLatencyNs: int64(u.lastNs.LoadAcquire()),
	}
}
