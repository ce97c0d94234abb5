// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/streamdag/ids"
)

// State is a DAG instance's lifecycle stage.
type State uint8

const (
	Building State = iota
	Finalized
	Running
	Drained
	Destroyed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Finalized:
		return "finalized"
	case Running:
		return "running"
	case Drained:
		return "drained"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// RunState is the cooperative cancellation flag the executor polls
// between dispatches. It is independent from State: a DAG can be
// Running (lifecycle) while its RunState moves Running -> Draining ->
// Cancelled in response to stop().
type RunState uint64

const (
	RunRunning RunState = iota
	RunDraining
	RunCancelled
)

// Instance is an immutable-after-finalize DAG topology: the set of owned
// node ids, their cached topological order, and the source-node set
// (nodes with fan-in zero). Structural mutation (add_node, connect) is
// only ever valid while State == Building; finalize snapshots the
// derived views and flips the instance read-only for the scheduler.
type Instance struct {
	ID ids.DagId

	mu    sync.Mutex
	state State

	nodes     []ids.NodeId
	topoOrder []ids.NodeId
	sources   []ids.NodeId

	runState atomix.Uint64
}

// State returns the instance's current lifecycle stage.
func (d *Instance) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Nodes returns a copy of the node ids owned by this instance, in
// creation order.
func (d *Instance) Nodes() []ids.NodeId {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.NodeId, len(d.nodes))
	copy(out, d.nodes)
	return out
}

// TopoOrder returns the cached topological order computed by finalize.
// Empty until the instance reaches Finalized.
func (d *Instance) TopoOrder() []ids.NodeId {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.NodeId, len(d.topoOrder))
	copy(out, d.topoOrder)
	return out
}

// Sources returns the fan-in-zero node set computed by finalize.
func (d *Instance) Sources() []ids.NodeId {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.NodeId, len(d.sources))
	copy(out, d.sources)
	return out
}

// MarkRunning advances the lifecycle stage Finalized -> Running at
// start(). A no-op from any other stage.
func (d *Instance) MarkRunning() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Finalized {
		d.state = Running
	}
}

// MarkDrained advances the lifecycle stage Running -> Drained once
// stop(Drain) has let every in-flight message finish. A no-op from any
// other stage.
func (d *Instance) MarkDrained() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Running {
		d.state = Drained
	}
}

// RunState reports the instance's cooperative cancellation state.
func (d *Instance) RunState() RunState {
	return RunState(d.runState.LoadAcquire())
}

// SetRunState transitions the instance's cancellation state. Used by
// the executor's start()/stop() and by a Fatal unit status.
func (d *Instance) SetRunState(s RunState) {
	d.runState.StoreRelease(uint64(s))
}
