// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package numa defines the placement hook the executor calls into when
// pinning a worker goroutine, without owning the actual pinning syscalls.
//
// True NUMA binding (cpuset/sched_setaffinity, first-touch page
// placement) is an external collaborator by design: the source tree's
// Core_NUMA.h/.cpp lives outside this spec's scope, and this package
// only fixes the interface the executor programs against. Callers that
// need real pinning supply a Binder; the default Binder is a no-op so
// the runtime behaves identically on platforms without NUMA topology.
package numa

// Binder pins the calling goroutine to the given NUMA node.
// Implementations must be safe to call from the worker goroutine itself.
type Binder interface {
	BindCurrentGoroutine(node int) error
}

// NoopBinder performs no pinning. It is the default when the
// orchestrator is not given an explicit Binder.
type NoopBinder struct{}

// BindCurrentGoroutine is a no-op; it always reports success.
func (NoopBinder) BindCurrentGoroutine(int) error { return nil }

// NodesFromMask expands a NumaNodes bitmask (as carried by config.Config)
// into a slice of node indices, ascending.
func NodesFromMask(mask uint64) []int {
	var nodes []int
	for i := 0; i < 64; i++ {
		if mask&(1<<uint(i)) != 0 {
			nodes = append(nodes, i)
		}
	}
	if len(nodes) == 0 {
		nodes = []int{0}
	}
	return nodes
}

// WorkerNode returns which NUMA node worker index i should prefer, given
// the configured node mask, by round-robining workers across nodes.
func WorkerNode(workerIndex int, mask uint64) int {
	nodes := NodesFromMask(mask)
	return nodes[workerIndex%len(nodes)]
}
