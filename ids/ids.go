// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ids defines the opaque handle types shared across the dataflow
// runtime: nodes, DAGs, sessions, streams, subscriptions and message
// sequence numbers.
//
// Every handle packs a dense index in the low bits and a generation
// (version) tag in the high bits. The generation is bumped whenever a
// slot is recycled, so a caller holding a stale handle can never observe
// a slot that has been reused for something else: comparing the full
// 64-bit value is enough to detect staleness, no liveness tracking of
// the reference itself is required.
package ids

import "fmt"

// genBits is the width of the generation tag. 20 bits allows roughly one
// million reuses of a single slot before the generation wraps, which for
// the node pool sizes this runtime targets (tens of thousands of slots)
// is effectively unbounded for a single process lifetime.
const genBits = 20

const indexMask = uint64(1)<<(64-genBits) - 1

// NodeId is an opaque, versioned reference to a slot in a node pool.
type NodeId uint64

// DagId is an opaque, versioned reference to a DAG instance slot.
type DagId uint64

// SessionId is an opaque, versioned reference to a tenant session.
type SessionId uint64

// StreamId is an opaque, versioned reference to a synchronizer stream slot.
type StreamId uint64

// SubscriptionId is an opaque, versioned reference to a broker subscription.
type SubscriptionId uint64

// MessageSeq is a monotonic, per-producer message sequence number.
type MessageSeq uint64

// Nil is the zero value shared by every handle type. It is the same
// value as slot 0 generation 0, which the pools and registries hand out
// like any other slot, so Nil is not a "no handle" marker.
const Nil = 0

// Make packs an index and generation into a NodeId.
func Make(index uint32, generation uint32) NodeId {
	return NodeId(uint64(generation)<<(64-genBits) | uint64(index)&indexMask)
}

// Index returns the dense slot index encoded in id.
func (id NodeId) Index() uint32 {
	return uint32(uint64(id) & indexMask)
}

// Generation returns the version tag encoded in id.
func (id NodeId) Generation() uint32 {
	return uint32(uint64(id) >> (64 - genBits))
}

func (id NodeId) String() string {
	return fmt.Sprintf("Node#%d.%d", id.Index(), id.Generation())
}

// MakeDag packs an index and generation into a DagId.
func MakeDag(index uint32, generation uint32) DagId {
	return DagId(uint64(generation)<<(64-genBits) | uint64(index)&indexMask)
}

// Index returns the dense slot index encoded in id.
func (id DagId) Index() uint32 {
	return uint32(uint64(id) & indexMask)
}

// Generation returns the version tag encoded in id.
func (id DagId) Generation() uint32 {
	return uint32(uint64(id) >> (64 - genBits))
}

func (id DagId) String() string {
	return fmt.Sprintf("Dag#%d.%d", id.Index(), id.Generation())
}

// MakeStream packs an index and generation into a StreamId.
func MakeStream(index uint32, generation uint32) StreamId {
	return StreamId(uint64(generation)<<(64-genBits) | uint64(index)&indexMask)
}

// Index returns the dense slot index encoded in id.
func (id StreamId) Index() uint32 {
	return uint32(uint64(id) & indexMask)
}

// Generation returns the version tag encoded in id.
func (id StreamId) Generation() uint32 {
	return uint32(uint64(id) >> (64 - genBits))
}

func (id StreamId) String() string {
	return fmt.Sprintf("Stream#%d.%d", id.Index(), id.Generation())
}

// MakeSession packs an index and generation into a SessionId.
func MakeSession(index uint32, generation uint32) SessionId {
	return SessionId(uint64(generation)<<(64-genBits) | uint64(index)&indexMask)
}

// Index returns the dense slot index encoded in id.
func (id SessionId) Index() uint32 {
	return uint32(uint64(id) & indexMask)
}

// Generation returns the version tag encoded in id.
func (id SessionId) Generation() uint32 {
	return uint32(uint64(id) >> (64 - genBits))
}

func (id SessionId) String() string {
	return fmt.Sprintf("Session#%d.%d", id.Index(), id.Generation())
}
