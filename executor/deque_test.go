// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"sync"
	"testing"

	"code.hybscloud.com/streamdag/ids"
)

func TestDequePushPopLIFO(t *testing.T) {
	d := newDeque(8)
	for i := 1; i <= 4; i++ {
		if !d.pushBottom(ids.NodeId(i)) {
			t.Fatalf("pushBottom(%d) failed", i)
		}
	}
	// popBottom is LIFO from the owner's perspective (stack discipline).
	for i := 4; i >= 1; i-- {
		id, ok := d.popBottom()
		if !ok || id != ids.NodeId(i) {
			t.Fatalf("popBottom: got (%v,%v), want (%d,true)", id, ok, i)
		}
	}
	if _, ok := d.popBottom(); ok {
		t.Fatal("popBottom on empty deque should fail")
	}
}

func TestDequePopOnFreshDequeReportsEmpty(t *testing.T) {
	d := newDeque(8)
	// bottom starts at 0, so the owner's speculative decrement wraps; the
	// signed empty check must still report empty rather than reading a
	// stale slot.
	for i := 0; i < 3; i++ {
		if id, ok := d.popBottom(); ok {
			t.Fatalf("popBottom on fresh deque returned (%v,true)", id)
		}
		if id, ok := d.steal(); ok {
			t.Fatalf("steal on fresh deque returned (%v,true)", id)
		}
	}
	if !d.pushBottom(ids.NodeId(7)) {
		t.Fatal("pushBottom after empty pops failed")
	}
	if id, ok := d.popBottom(); !ok || id != ids.NodeId(7) {
		t.Fatalf("popBottom: got (%v,%v), want (7,true)", id, ok)
	}
}

func TestDequeStealFromOwner(t *testing.T) {
	d := newDeque(8)
	for i := 1; i <= 4; i++ {
		d.pushBottom(ids.NodeId(i))
	}

	id, ok := d.steal()
	if !ok || id != ids.NodeId(1) {
		t.Fatalf("steal: got (%v,%v), want (1,true)", id, ok)
	}
}

func TestDequeConcurrentStealNeverDuplicates(t *testing.T) {
	d := newDeque(1024)
	const n = 500
	for i := 1; i <= n; i++ {
		d.pushBottom(ids.NodeId(i))
	}

	seen := make([]int32, n+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Only the owner calls popBottom; everyone else only steals, matching
	// the deque's documented single-owner discipline.
	owner := func() {
		defer wg.Done()
		for {
			id, ok := d.popBottom()
			if !ok {
				return
			}
			mu.Lock()
			seen[id]++
			mu.Unlock()
		}
	}
	thief := func() {
		defer wg.Done()
		for {
			id, ok := d.steal()
			if !ok {
				return
			}
			mu.Lock()
			seen[id]++
			mu.Unlock()
		}
	}

	wg.Add(4)
	go owner()
	for i := 0; i < 3; i++ {
		go thief()
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		if seen[i] != 1 {
			t.Fatalf("node %d observed %d times, want exactly 1", i, seen[i])
		}
	}
}
