// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"sort"
	"sync"

	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/unit"
)

// Builder owns the pool of node slots and the registry of DAG instances
// built against it. Structural operations (CreateDag, AddNode, Connect,
// Finalize, Destroy) take a short, bucket-local critical section: only
// the one Instance being mutated is locked, never the whole registry,
// except to install or remove an Instance itself.
type Builder struct {
	pool *Pool

	maxFanIn  int
	maxFanOut int

	mu         sync.Mutex
	dags       []*Instance
	generation []uint64
}

// NewBuilder returns a Builder backed by a freshly allocated node pool.
func NewBuilder(nodePoolCapacity, maxDagInstances, maxFanIn, maxFanOut int) *Builder {
	if maxDagInstances < 1 {
		panic("dag: maxDagInstances must be >= 1")
	}
	return &Builder{
		pool:       NewPool(nodePoolCapacity),
		maxFanIn:   maxFanIn,
		maxFanOut:  maxFanOut,
		dags:       make([]*Instance, maxDagInstances),
		generation: make([]uint64, maxDagInstances),
	}
}

// Pool returns the builder's backing node pool, so the executor and
// broker can resolve NodeId handles to live *Node records.
func (b *Builder) Pool() *Pool { return b.pool }

// CreateDag allocates a new DAG instance in the Building state.
func (b *Builder) CreateDag() (ids.DagId, *Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, slot := range b.dags {
		if slot != nil {
			continue
		}
		gen := uint32(b.generation[i])
		id := ids.MakeDag(uint32(i), gen)
		inst := &Instance{ID: id, state: Building}
		b.dags[i] = inst
		return id, inst, nil
	}
	return 0, nil, errs.ErrPoolExhausted
}

// resolve looks up the live Instance for id, rejecting a stale generation.
func (b *Builder) resolve(id ids.DagId) (*Instance, error) {
	idx := id.Index()
	if int(idx) >= len(b.dags) {
		return nil, errs.ErrUnknownDag
	}
	inst := b.dags[idx]
	if inst == nil || inst.ID != id {
		return nil, errs.ErrUnknownDag
	}
	return inst, nil
}

// AddNode allocates a node of the given kind into dag, which must still
// be in the Building state.
func (b *Builder) AddNode(dag ids.DagId, kind unit.Kind, u unit.ProcessingUnit) (ids.NodeId, error) {
	b.mu.Lock()
	inst, err := b.resolve(dag)
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state != Building {
		return 0, errs.ErrForbiddenWhileFinalized
	}

	id, node, err := b.pool.Alloc(dag, kind)
	if err != nil {
		return 0, err
	}
	node.Unit = u
	inst.nodes = append(inst.nodes, id)
	return id, nil
}

// Connect wires a directed edge src -> dst within dag. Both nodes must
// already belong to dag; fan-in/fan-out caps are enforced here rather
// than at finalize so a caller finds out immediately.
func (b *Builder) Connect(dag ids.DagId, src, dst ids.NodeId) error {
	b.mu.Lock()
	inst, err := b.resolve(dag)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state != Building {
		return errs.ErrForbiddenWhileFinalized
	}

	srcNode, err := b.pool.Get(src)
	if err != nil {
		return err
	}
	dstNode, err := b.pool.Get(dst)
	if err != nil {
		return err
	}
	if srcNode.Dag != dag || dstNode.Dag != dag {
		return errs.ErrUnknownNode
	}
	if int(srcNode.OutputCount) >= b.maxFanOut || int(srcNode.OutputCount) >= MaxPorts {
		return errs.ErrFanOutExceeded
	}
	if int(dstNode.InputCount) >= b.maxFanIn || int(dstNode.InputCount) >= MaxPorts {
		return errs.ErrFanInExceeded
	}

	srcNode.Outputs[srcNode.OutputCount] = dst
	srcNode.OutputCount++
	sortNodeIds(srcNode.Outputs[:srcNode.OutputCount])

	dstNode.Inputs[dstNode.InputCount] = src
	dstNode.InputCount++
	sortNodeIds(dstNode.Inputs[:dstNode.InputCount])

	return nil
}

func sortNodeIds(s []ids.NodeId) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

// CycleError is the Finalize failure for a cyclic graph. It carries the
// first back-edge found by the DFS (ascending-NodeId iteration order, so
// the same graph always reports the same edge) and unwraps to
// errs.ErrCycleDetected for callers matching with errors.Is.
type CycleError struct {
	From, To ids.NodeId
}

func (e *CycleError) Error() string {
	return "streamdag: cycle detected, back-edge " + e.From.String() + " -> " + e.To.String()
}

func (e *CycleError) Unwrap() error { return errs.ErrCycleDetected }

// color marks an iterative DFS visitation state during cycle detection.
type color uint8

const (
	white color = iota
	grey
	black
)

// Finalize validates dag is acyclic, computes and caches its topological
// order and source-node set, and flips its state to Finalized. No
// structural mutation is accepted afterward.
//
// Cycle detection is an iterative depth-first search with an explicit
// stack (no recursion, so pathological chain depth cannot blow the
// goroutine stack): nodes are marked white/grey/black, and a grey node
// reached again is a back-edge. Candidate roots and each node's output
// edges are walked in ascending NodeId order so the first back-edge
// reported is reproducible across runs.
func (b *Builder) Finalize(dag ids.DagId) error {
	b.mu.Lock()
	inst, err := b.resolve(dag)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state != Building {
		return errs.ErrForbiddenWhileFinalized
	}

	nodes := make([]ids.NodeId, len(inst.nodes))
	copy(nodes, inst.nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	colors := make(map[ids.NodeId]color, len(nodes))
	for _, id := range nodes {
		colors[id] = white
	}

	type frame struct {
		id   ids.NodeId
		next int // index into sorted Outputs still to visit
	}

	for _, root := range nodes {
		if colors[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		colors[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node, gerr := b.pool.Get(top.id)
			if gerr != nil {
				return gerr
			}
			if top.next >= int(node.OutputCount) {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := node.Outputs[top.next]
			top.next++
			switch colors[next] {
			case white:
				colors[next] = grey
				stack = append(stack, frame{id: next})
			case grey:
				return &CycleError{From: top.id, To: next}
			case black:
				// already fully explored via another path, skip
			}
		}
	}

	order, err := kahnTopoSort(b.pool, nodes)
	if err != nil {
		return err
	}

	var sources []ids.NodeId
	for _, id := range nodes {
		node, gerr := b.pool.Get(id)
		if gerr != nil {
			return gerr
		}
		if node.InputCount == 0 {
			sources = append(sources, id)
		}
	}

	inst.topoOrder = order
	inst.sources = sources
	inst.state = Finalized
	return nil
}

// kahnTopoSort computes a topological order over nodes using Kahn's
// algorithm: repeatedly remove a zero-remaining-indegree node. The ready
// set is kept sorted and the smallest NodeId is always removed next, so
// the resulting order is deterministic and reproducible regardless of
// the order nodes were originally added in.
func kahnTopoSort(pool *Pool, nodes []ids.NodeId) ([]ids.NodeId, error) {
	indegree := make(map[ids.NodeId]int, len(nodes))
	for _, id := range nodes {
		node, err := pool.Get(id)
		if err != nil {
			return nil, err
		}
		indegree[id] = int(node.InputCount)
	}

	var ready []ids.NodeId
	for _, id := range nodes {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]ids.NodeId, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		node, err := pool.Get(id)
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(node.OutputCount); i++ {
			dst := node.Outputs[i]
			indegree[dst]--
			if indegree[dst] == 0 {
				pos := sort.Search(len(ready), func(k int) bool { return ready[k] >= dst })
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = dst
			}
		}
	}

	if len(order) != len(nodes) {
		// Every remaining positive-indegree node participates in a cycle
		// the DFS pass above should already have rejected; reaching this
		// means the two passes disagree, which is always a bug.
		return nil, errs.ErrInternal
	}
	return order, nil
}

// Destroy releases every node owned by dag back to the pool and removes
// the instance from the registry. Destroy is idempotent: destroying an
// already-destroyed or unknown DagId returns ErrUnknownDag rather than
// panicking, so a caller racing a duplicate stop/destroy sees a stable
// error instead of a crash.
func (b *Builder) Destroy(dag ids.DagId) error {
	b.mu.Lock()
	inst, err := b.resolve(dag)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	idx := dag.Index()
	b.dags[idx] = nil
	b.generation[idx]++
	b.mu.Unlock()

	inst.mu.Lock()
	nodes := inst.nodes
	inst.nodes = nil
	inst.state = Destroyed
	inst.mu.Unlock()

	for _, id := range nodes {
		if node, gerr := b.pool.Get(id); gerr == nil && node.Unit != nil {
			node.Unit.OnDetach()
		}
		_ = b.pool.Free(id)
	}
	return nil
}
