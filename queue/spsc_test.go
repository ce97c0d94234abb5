// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/streamdag/queue"
)

// TestSPSCBasic exercises the shape broker.Broker relies on: enqueue to
// capacity, ErrWouldBlock on a full queue, strict FIFO order, and
// ErrWouldBlock again once drained.
func TestSPSCBasic(t *testing.T) {
	type Msg struct{ Seq int }
	q := queue.NewSPSC[Msg](3)

	if q.Cap() != 4 {
		t.Fatalf("Cap: got %d, want 4 (rounded up from 3)", q.Cap())
	}

	for i := range 4 {
		m := Msg{Seq: i}
		if err := q.Enqueue(&m); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	overflow := Msg{Seq: 999}
	if err := q.Enqueue(&overflow); !errors.Is(err, queue.ErrWouldBlock) {
		t.Fatalf("Enqueue on full: got %v, want ErrWouldBlock", err)
	}

	for i := range 4 {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue(%d): %v", i, err)
		}
		if got.Seq != i {
			t.Fatalf("Dequeue(%d): got Seq=%d, want %d", i, got.Seq, i)
		}
	}

	if _, err := q.Dequeue(); !errors.Is(err, queue.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty: got %v, want ErrWouldBlock", err)
	}
}

// TestSPSCPanicsOnSmallCapacity matches broker.New's contract: capacities
// below 2 are a caller bug, not a runtime condition to report via error.
func TestSPSCPanicsOnSmallCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewSPSC(1) did not panic")
		}
	}()
	queue.NewSPSC[int](1)
}

// TestSPSCConcurrentProducerConsumer runs one goroutine enqueueing and
// one dequeueing, mirroring how Broker.Publish feeds a subscription
// queue while the subscriber's own drain loop empties it.
func TestSPSCConcurrentProducerConsumer(t *testing.T) {
	if queue.RaceEnabled {
		t.Skip("skipping concurrent test with race detector")
	}

	q := queue.NewSPSC[int](64)
	const count = 5000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for i := range count {
			v := i
			for q.Enqueue(&v) != nil {
				backoff.Wait()
			}
			backoff.Reset()
		}
	}()

	received := make([]int, 0, count)
	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for len(received) < count {
			v, err := q.Dequeue()
			if err != nil {
				backoff.Wait()
				continue
			}
			backoff.Reset()
			received = append(received, v)
		}
	}()

	wg.Wait()

	for i, v := range received {
		if v != i {
			t.Fatalf("received[%d] = %d, want %d (FIFO order must hold)", i, v, i)
		}
	}
}
