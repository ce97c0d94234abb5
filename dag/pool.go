// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/queue"
	"code.hybscloud.com/streamdag/unit"
)

// Pool is the pre-allocated, fixed-capacity slab of node records shared
// by every DAG instance in the runtime. Alloc takes a recycled slot from
// a versioned free list whenever one is available and otherwise the next
// never-used slot by atomic bump; the generation tag means a stale
// NodeId can never alias a slot that has been reused for something else.
//
// The free list is package queue's indirect MPMC queue: the enqueued
// uintptr packs the slot index in the low 32 bits and the slot's
// next-expected generation in the high 32 bits.
type Pool struct {
	slab        []Node
	generations []atomix.Uint64 // authoritative per-slot generation
	bump        atomix.Uint64
	free        *queue.MPMCIndirect
	capacity    uint64
}

// NewPool pre-allocates a slab of capacity node records.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		panic("dag: pool capacity must be >= 1")
	}
	return &Pool{
		slab:        make([]Node, capacity),
		generations: make([]atomix.Uint64, capacity),
		free:        queue.NewMPMCIndirect(nextPow2(capacity)),
		capacity:    uint64(capacity),
	}
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 2
	for p < n {
		p <<= 1
	}
	return p
}

func packSlot(index uint32, generation uint32) uintptr {
	return uintptr(generation)<<32 | uintptr(index)
}

func unpackSlot(v uintptr) (index uint32, generation uint32) {
	return uint32(v & 0xffffffff), uint32(v >> 32)
}

// Alloc reserves a node slot and returns its versioned NodeId.
// Returns ErrPoolExhausted once both the free list and the bump region
// are empty.
func (p *Pool) Alloc(dag ids.DagId, kind unit.Kind) (ids.NodeId, *Node, error) {
	if v, err := p.free.Dequeue(); err == nil {
		index, generation := unpackSlot(v)
		node := &p.slab[index]
		node.reset()
		node.ID = ids.Make(index, generation)
		node.Dag = dag
		node.Kind = kind
		return node.ID, node, nil
	}

	idx := p.bump.AddAcqRel(1) - 1
	if idx >= p.capacity {
		return 0, nil, errs.ErrPoolExhausted
	}
	node := &p.slab[idx]
	node.reset()
	node.ID = ids.Make(uint32(idx), 0)
	node.Dag = dag
	node.Kind = kind
	return node.ID, node, nil
}

// Free releases id's slot back to the pool, bumping its generation so
// any handle still referencing the old generation is rejected by Get.
// Returns ErrUnknownNode if id is already stale.
func (p *Pool) Free(id ids.NodeId) error {
	index := id.Index()
	if uint64(index) >= p.capacity {
		return errs.ErrUnknownNode
	}
	current := p.generations[index].LoadAcquire()
	if uint32(current) != id.Generation() {
		return errs.ErrUnknownNode
	}
	next := current + 1
	p.generations[index].StoreRelease(next)
	if err := p.free.Enqueue(packSlot(index, uint32(next))); err != nil {
		// Free list briefly full under extreme concurrent churn: the slot
		// is still marked free via the bumped generation, it is simply
		// not reachable for reuse until the list drains. Correctness
		// (no stale alias) holds either way; only reuse availability is
		// delayed.
		return nil
	}
	return nil
}

// Get resolves id to its live node, validating the generation tag.
// Returns ErrUnknownNode for a stale or out-of-range id.
func (p *Pool) Get(id ids.NodeId) (*Node, error) {
	index := id.Index()
	if uint64(index) >= p.capacity {
		return nil, errs.ErrUnknownNode
	}
	if uint32(p.generations[index].LoadAcquire()) != id.Generation() {
		return nil, errs.ErrUnknownNode
	}
	return &p.slab[index], nil
}

// Cap returns the pool's total slot capacity.
func (p *Pool) Cap() int { return int(p.capacity) }
