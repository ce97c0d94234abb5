// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package executor implements the readiness-driven, work-stealing DAG
// scheduler (C8): a shared ready queue primed from source nodes, a
// per-worker Chase-Lev deque, and the Streaming/BarrierSynchronous/Rate
// dispatch disciplines.
package executor

import (
	"sync"
	"time"

	"code.hybscloud.com/spin"
	"code.hybscloud.com/streamdag/broker"
	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/dag"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/numa"
	"code.hybscloud.com/streamdag/queue"
	"code.hybscloud.com/streamdag/unit"
)

// Route is what the executor needs to know about a node's wiring to the
// broker beyond what dag.Node already carries: which subscription feeds
// its input queue, and which topic each output port publishes to.
type Route struct {
	Input       ids.SubscriptionId
	OutputTopic [dag.MaxPorts]string
}

// Executor drives one DAG instance's nodes to readiness and dispatches
// them across a fixed pool of worker goroutines.
type Executor struct {
	pool   *dag.Pool
	broker *broker.Broker
	binder numa.Binder
	mode   config.ExecutionMode
	minGap time.Duration // Rate mode's minimum wall-clock spacing

	ready   *queue.MPMCIndirect
	deques  []*deque
	workers int

	routes   map[ids.NodeId]Route
	emitters map[ids.NodeId]*unit.SliceEmitter
	mu       sync.Mutex

	lastDispatch map[ids.NodeId]time.Time
	lastMu       sync.Mutex

	// armPending records a node that was signalled ready while already
	// in-flight, so the arm() that lost the in-flight CAS race is not
	// simply lost: releaseInFlight re-issues it once the node frees up.
	// Without this, a fast external publisher feeding a source node (or
	// a fast upstream feeding any node) could leave a message sitting in
	// its subscription queue with nothing left to re-dispatch it.
	armPending map[ids.NodeId]bool
	armMu      sync.Mutex

	wg sync.WaitGroup
}

// New returns an Executor bound to pool and broker, with workerCount
// worker goroutines and the given dispatch mode.
func New(pool *dag.Pool, br *broker.Broker, binder numa.Binder, mode config.ExecutionMode, workerCount int, minGap time.Duration) *Executor {
	if workerCount < 1 {
		workerCount = 1
	}
	deques := make([]*deque, workerCount)
	for i := range deques {
		deques[i] = newDeque(1024)
	}
	return &Executor{
		pool:         pool,
		broker:       br,
		binder:       binder,
		mode:         mode,
		minGap:       minGap,
		ready:        queue.NewMPMCIndirect(4096),
		deques:       deques,
		workers:      workerCount,
		routes:       make(map[ids.NodeId]Route),
		emitters:     make(map[ids.NodeId]*unit.SliceEmitter),
		lastDispatch: make(map[ids.NodeId]time.Time),
		armPending:   make(map[ids.NodeId]bool),
	}
}

// SetRoute records how node reads its input and where its output ports
// publish. Must be called for every node before Start.
func (e *Executor) SetRoute(node ids.NodeId, r Route) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes[node] = r
}

func (e *Executor) routeFor(node ids.NodeId) Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routes[node]
}

// Start primes inst's source nodes (fan-in = 0) onto the ready queue and
// launches the worker pool. Start returns once all workers have been
// spawned; workers run until inst's RunState reaches RunCancelled or
// the queue drains in RunDraining.
func (e *Executor) Start(inst *dag.Instance) {
	inst.SetRunState(dag.RunRunning)

	// Prime every node's pending-input counter to its fan-in before the
	// first wave; arm() re-establishes the same value on each re-arm.
	// Without this a barrier-mode join would underflow its counter on the
	// first upstream completion and never reach zero.
	for _, id := range inst.Nodes() {
		if node, err := e.pool.Get(id); err == nil {
			node.PendingInputs.StoreRelease(uint64(node.FanIn()))
		}
	}
	for _, src := range inst.Sources() {
		e.arm(src)
	}

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i, inst)
	}
}

// Wait blocks until every worker goroutine spawned by Start has exited.
func (e *Executor) Wait() { e.wg.Wait() }

// Arm signals that node has new work available outside the normal
// downstream-dispatch path: an external producer delivered a message to
// a source node's subscription. Safe to call at any time after Start.
func (e *Executor) Arm(id ids.NodeId) { e.arm(id) }

// arm resets node's pending-input counter to its fan-in and pushes it
// onto the shared ready queue.
func (e *Executor) arm(id ids.NodeId) {
	node, err := e.pool.Get(id)
	if err != nil {
		return
	}
	fanIn := uint64(node.FanIn())
	if fanIn == 0 {
		fanIn = 1 // a source node is always ready with zero awaited inputs
	}
	node.PendingInputs.StoreRelease(fanIn)
	_ = e.ready.Enqueue(uintptr(id))
}

// releaseInFlight clears node's in-flight flag and, if an arm() lost the
// CAS race against this dispatch, re-issues it now that the node is free.
func (e *Executor) releaseInFlight(id ids.NodeId) {
	node, err := e.pool.Get(id)
	if err == nil {
		node.InFlight.StoreRelease(0)
	}
	if e.takePendingRedispatch(id) {
		e.arm(id)
	}
}

func (e *Executor) markPendingRedispatch(id ids.NodeId) {
	e.armMu.Lock()
	e.armPending[id] = true
	e.armMu.Unlock()
}

func (e *Executor) takePendingRedispatch(id ids.NodeId) bool {
	e.armMu.Lock()
	defer e.armMu.Unlock()
	if e.armPending[id] {
		delete(e.armPending, id)
		return true
	}
	return false
}

func (e *Executor) workerLoop(workerIndex int, inst *dag.Instance) {
	defer e.wg.Done()

	if e.binder != nil {
		_ = e.binder.BindCurrentGoroutine(numa.WorkerNode(workerIndex, ^uint64(0)))
	}

	own := e.deques[workerIndex]
	sw := spin.Wait{}

	for {
		switch inst.RunState() {
		case dag.RunCancelled:
			return
		case dag.RunDraining:
			// No more nodes will be armed from outside; bypass the
			// ready queue's livelock threshold so the last items
			// already on it are not stranded behind it.
			e.ready.Drain()
			if id, ok := own.popBottom(); ok {
				e.dispatch(inst, id, workerIndex)
				continue
			}
			if v, err := e.ready.Dequeue(); err == nil {
				e.dispatch(inst, ids.NodeId(v), workerIndex)
				continue
			}
			return
		}

		if id, ok := own.popBottom(); ok {
			e.dispatch(inst, id, workerIndex)
			sw = spin.Wait{}
			continue
		}

		if v, err := e.ready.Dequeue(); err == nil {
			e.dispatch(inst, ids.NodeId(v), workerIndex)
			sw = spin.Wait{}
			continue
		}

		if id, ok := e.stealFrom(workerIndex); ok {
			e.dispatch(inst, id, workerIndex)
			sw = spin.Wait{}
			continue
		}

		sw.Once()
	}
}

func (e *Executor) stealFrom(self int) (ids.NodeId, bool) {
	for i, d := range e.deques {
		if i == self {
			continue
		}
		if id, ok := d.steal(); ok {
			return id, true
		}
	}
	return 0, false
}

// inputBatch is the size of the fixed per-dispatch scratch array a
// worker drains a node's subscription into, so a single dispatch never
// grows a slice mid-flight; at most inputBatch messages are drained per
// dispatch.
const inputBatch = 256

func (e *Executor) dispatch(inst *dag.Instance, id ids.NodeId, workerIndex int) {
	node, err := e.pool.Get(id)
	if err != nil {
		return
	}
	if !node.InFlight.CompareAndSwapAcqRel(0, 1) {
		// Already dispatched elsewhere: this arm's ready-queue token would
		// otherwise be lost. Record it so releaseInFlight re-issues the
		// arm once the in-flight dispatch finishes, instead of silently
		// stranding whatever message triggered it.
		e.markPendingRedispatch(id)
		return
	}
	defer e.releaseInFlight(id)

	if e.mode == config.Rate && !e.rateReady(id) {
		e.deques[workerIndex].pushBottom(id)
		return
	}

	route := e.routeFor(id)

	var inBuf [inputBatch]message.Message
	n := e.broker.Drain(route.Input, inBuf[:])

	if node.Poisoned.LoadAcquire() != 0 {
		// Traffic to a poisoned node is counted and dropped; the node
		// never runs again and its downstream starves deterministically.
		node.Errors.AddAcqRel(uint64(n))
		return
	}

	emitter := e.emitterFor(id)
	emitter.Reset()
	status := node.Unit.Process(inBuf[:n], emitter)

	node.Dispatches.AddAcqRel(1)

	switch status {
	case unit.Ok:
		node.Retries.StoreRelease(0)
		e.publishAndAdvance(node, route, emitter)
	case unit.Transient:
		node.Errors.AddAcqRel(1)
		if node.Retries.AddAcqRel(1) > maxTransientRetries {
			// A unit that keeps reporting Transient is treated as
			// Permanent rather than retried forever.
			node.Poisoned.StoreRelease(1)
			return
		}
		sw := spin.Wait{}
		sw.Once()
		e.deques[workerIndex].pushBottom(id)
	case unit.Permanent:
		node.Errors.AddAcqRel(1)
		node.Poisoned.StoreRelease(1)
		// Never re-armed; downstream starves deterministically because
		// this node never again reduces their pending_inputs.
	case unit.Fatal:
		node.Errors.AddAcqRel(1)
		inst.SetRunState(dag.RunCancelled)
	}
}

// maxTransientRetries bounds how many consecutive Transient statuses a
// node may report before it is poisoned like a Permanent failure.
const maxTransientRetries = 3

func (e *Executor) rateReady(id ids.NodeId) bool {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	now := time.Now()
	last, ok := e.lastDispatch[id]
	if ok && now.Sub(last) < e.minGap {
		return false
	}
	e.lastDispatch[id] = now
	return true
}

// emitterFor returns the per-node output scratch buffer, allocating it
// on first use. Allocation happens once per node, never on the hot
// Process() path afterward.
func (e *Executor) emitterFor(id ids.NodeId) *unit.SliceEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	em, ok := e.emitters[id]
	if !ok {
		em = unit.NewSliceEmitter(make([]message.Message, 0, inputBatch))
		e.emitters[id] = em
	}
	return em
}

// publishAndAdvance publishes a successful dispatch's output messages
// and advances every downstream node's readiness.
//
// In Streaming mode a downstream node is re-armed on every single input
// arrival (per spec.md's "the unit itself decides whether it has enough
// inputs"); in BarrierSynchronous and Rate it is re-armed only once
// every input edge has delivered since its last dispatch, i.e. when its
// pending-input counter reaches zero.
func (e *Executor) publishAndAdvance(node *dag.Node, route Route, emitter *unit.SliceEmitter) {
	fanOut := node.FanOut()
	for _, msg := range emitter.Messages() {
		if msg.Dest == message.BroadcastNode {
			// No specific downstream edge named: replicate to every
			// output port this node has, not just port 0.
			for i := 0; i < fanOut; i++ {
				e.broker.Publish(route.OutputTopic[i], msg, time.Time{})
			}
			continue
		}
		topic := route.OutputTopic[msg.DestPort]
		e.broker.Publish(topic, msg, time.Time{})
	}

	for i := 0; i < node.FanOut(); i++ {
		dst := node.Outputs[i]
		dstNode, err := e.pool.Get(dst)
		if err != nil {
			continue
		}
		remaining := dstNode.PendingInputs.AddAcqRel(^uint64(0)) // fetch_sub(1)

		switch e.mode {
		case config.Streaming:
			e.arm(dst)
		default: // BarrierSynchronous, Rate
			if remaining == 0 {
				e.arm(dst)
			}
		}
	}
}
