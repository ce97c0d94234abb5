// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dag implements the DAG node pool and builder: the topology of
// typed nodes with validated acyclicity, ordered inputs/outputs, and a
// fixed-capacity backing slab (components C4/C5 of the design).
package dag

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/unit"
)

// MaxPorts is the compile-time bound on a node's inline input/output
// arrays. config.Config.MaxFanIn/MaxFanOut are runtime caps enforced at
// or below this ceiling; Node's size is fixed regardless of the
// configured cap so the pool's slab stride never changes at runtime.
const MaxPorts = 8

// Node is the fixed 256-byte (4 cache line) record backing one DAG
// node. Only the builder constructs and mutates topology fields; the
// executor mutates only the runtime counters below, and always through
// the atomix wrappers.
type Node struct {
	// identity
	ID   ids.NodeId
	Dag  ids.DagId
	Kind unit.Kind
	_    [7]byte

	// topology: ascending NodeId order within each array, per the
	// builder's deterministic tie-break for cycle detection/toposort.
	InputCount  uint8
	OutputCount uint8
	_           [6]byte
	Inputs      [MaxPorts]ids.NodeId
	Outputs     [MaxPorts]ids.NodeId

	// runtime counters, mutated only by the executor
	PendingInputs   atomix.Uint64
	CompletedInputs atomix.Uint64
	Dispatches      atomix.Uint64
	Errors          atomix.Uint64
	InFlight        atomix.Uint64 // 0 = idle, 1 = dispatched to a worker
	Poisoned        atomix.Uint64 // set once after a Permanent status, never cleared
	Retries         atomix.Uint64 // consecutive Transient statuses since the last Ok

	// Unit is the stable handle to the node's behavior object. It is set
	// once by the builder at add_node and never mutated afterward.
	Unit unit.ProcessingUnit

	_ [24]byte // reserved tail padding out to 256 bytes
}

const nodeSize = unsafe.Sizeof(Node{})

// compile-time assertion: Node must be exactly 4 cache lines (256 bytes).
var _ [256 - nodeSize]byte
var _ [nodeSize - 256]byte

// reset clears a node's mutable fields for reuse after a pool recycle.
// ID, Dag and Kind are overwritten by the caller immediately afterward.
func (n *Node) reset() {
	n.InputCount = 0
	n.OutputCount = 0
	n.Inputs = [MaxPorts]ids.NodeId{}
	n.Outputs = [MaxPorts]ids.NodeId{}
	n.PendingInputs.StoreRelaxed(0)
	n.CompletedInputs.StoreRelaxed(0)
	n.Dispatches.StoreRelaxed(0)
	n.Errors.StoreRelaxed(0)
	n.InFlight.StoreRelaxed(0)
	n.Poisoned.StoreRelaxed(0)
	n.Retries.StoreRelaxed(0)
	n.Unit = nil
}

// FanIn returns the node's current fan-in (number of wired input edges).
func (n *Node) FanIn() int { return int(n.InputCount) }

// FanOut returns the node's current fan-out (number of wired output edges).
func (n *Node) FanOut() int { return int(n.OutputCount) }
