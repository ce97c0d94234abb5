// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"code.hybscloud.com/streamdag/ids"
)

// deque is a Chase-Lev work-stealing deque of NodeIds. The owning
// worker pushes and pops from the bottom without contention; other
// workers steal from the top via CAS. No reference implementation for
// this exists anywhere in the example pack — it is hand-written here
// directly off the scheduler algorithm this package implements, in the
// same typed-atomic idiom (explicit memory-order suffixes, spin.Wait
// retry) package queue uses throughout.
type deque struct {
	top    atomix.Uint64
	bottom atomix.Uint64
	buf    []ids.NodeId
	mask   uint64
}

func newDeque(capacity int) *deque {
	n := 2
	for n < capacity {
		n <<= 1
	}
	return &deque{buf: make([]ids.NodeId, n), mask: uint64(n) - 1}
}

// pushBottom is only ever called by the deque's owning worker.
func (d *deque) pushBottom(id ids.NodeId) bool {
	b := d.bottom.LoadRelaxed()
	t := d.top.LoadAcquire()
	if b-t >= uint64(len(d.buf)) {
		return false // local deque full; caller falls back to the shared ready queue
	}
	d.buf[b&d.mask] = id
	d.bottom.StoreRelease(b + 1)
	return true
}

// popBottom is only ever called by the deque's owning worker.
func (d *deque) popBottom() (ids.NodeId, bool) {
	b := d.bottom.LoadRelaxed() - 1
	d.bottom.StoreRelease(b)
	t := d.top.LoadAcquire()

	// Signed comparison: on an empty deque the decrement wraps bottom
	// below top (0-1 as unsigned is the maximum value), so an unsigned
	// t > b here would read garbage instead of reporting empty.
	if int64(t) > int64(b) {
		// Deque was already empty; restore bottom.
		d.bottom.StoreRelease(b + 1)
		return 0, false
	}

	id := d.buf[b&d.mask]
	if t == b {
		// Last element: race with a thief against top.
		if !d.top.CompareAndSwapAcqRel(t, t+1) {
			d.bottom.StoreRelease(b + 1)
			return 0, false
		}
		d.bottom.StoreRelease(b + 1)
		return id, true
	}
	return id, true
}

// steal is called by any worker other than this deque's owner.
func (d *deque) steal() (ids.NodeId, bool) {
	sw := spin.Wait{}
	for {
		t := d.top.LoadAcquire()
		b := d.bottom.LoadAcquire()
		// Signed, for the same wrap hazard popBottom documents: the
		// owner's transient bottom decrement can place bottom below top.
		if int64(t) >= int64(b) {
			return 0, false
		}
		id := d.buf[t&d.mask]
		if d.top.CompareAndSwapAcqRel(t, t+1) {
			return id, true
		}
		sw.Once()
	}
}
