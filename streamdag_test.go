// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamdag_test

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	streamdag "code.hybscloud.com/streamdag"
	"code.hybscloud.com/streamdag/config"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/unit"
	"code.hybscloud.com/streamdag/units"
)

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

// relayUnit forwards every inbound message unchanged, counting how many
// times Process ran. Used for the interior nodes of a chain where the
// specific transform is irrelevant to the test.
type relayUnit struct {
	node ids.NodeId
	dag  ids.DagId
}

func (u *relayUnit) Kind() unit.Kind              { return unit.KindUser }
func (u *relayUnit) InputSchema() []message.Type  { return []message.Type{message.TypeTick} }
func (u *relayUnit) OutputSchema() []message.Type { return []message.Type{message.TypeTick} }
func (u *relayUnit) OnAttach(node ids.NodeId, dag ids.DagId, _ unit.NumaHint) {
	u.node, u.dag = node, dag
}
func (u *relayUnit) OnDetach() {}
func (u *relayUnit) MetricsSnapshot() unit.Metrics { return unit.Metrics{} }
func (u *relayUnit) Process(in []message.Message, out unit.Emitter) unit.Status {
	for _, m := range in {
		out.Emit(m)
	}
	return unit.Ok
}

// captureUnit is a sink: it never emits, only records every message it
// receives, guarded by a mutex since the executor may dispatch it from
// any worker goroutine.
type captureUnit struct {
	mu       sync.Mutex
	received []message.Message
}

func (u *captureUnit) Kind() unit.Kind              { return unit.KindUser }
func (u *captureUnit) InputSchema() []message.Type  { return []message.Type{message.TypeTick} }
func (u *captureUnit) OutputSchema() []message.Type { return nil }
func (u *captureUnit) OnAttach(ids.NodeId, ids.DagId, unit.NumaHint) {}
func (u *captureUnit) OnDetach()                                     {}
func (u *captureUnit) MetricsSnapshot() unit.Metrics                 { return unit.Metrics{} }
func (u *captureUnit) Process(in []message.Message, out unit.Emitter) unit.Status {
	u.mu.Lock()
	u.received = append(u.received, in...)
	u.mu.Unlock()
	return unit.Ok
}

func (u *captureUnit) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.received)
}

func waitForCount(t *testing.T, u *captureUnit, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if u.count() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", want, u.count())
}

// TestLinearChainDeliversEveryTick exercises the A -> B -> C pipeline in
// Streaming mode: every tick published to A's external input surfaces at
// C exactly once, in order. This is the scenario the executor's
// source-node re-arming path must get right: A has fan-in zero, so every
// one of the 1000 published ticks depends on Runtime.Publish re-arming A
// after its first dispatch, not just priming it once at Start.
func TestLinearChainDeliversEveryTick(t *testing.T) {
	cfg := config.New().
		WithNodePoolCapacity(16).
		WithQueueCapacity(4096).
		WithWorkerCount(4).
		WithExecutionMode(config.Streaming).
		Build()

	rt := streamdag.New(cfg, testLogger(), nil, nil)
	defer rt.Shutdown()

	sess, err := rt.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	d, err := rt.CreateDag(sess)
	if err != nil {
		t.Fatal(err)
	}

	a, err := rt.AddNode(sess, d, unit.KindTick, units.NewTickUnit())
	if err != nil {
		t.Fatal(err)
	}
	b, err := rt.AddNode(sess, d, unit.KindUser, &relayUnit{})
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureUnit{}
	c, err := rt.AddNode(sess, d, unit.KindUser, sink)
	if err != nil {
		t.Fatal(err)
	}

	if err := rt.Connect(sess, d, a, b); err != nil {
		t.Fatal(err)
	}
	if err := rt.Connect(sess, d, b, c); err != nil {
		t.Fatal(err)
	}
	if err := rt.Finalize(sess, d); err != nil {
		t.Fatal(err)
	}

	const topic = "test/linear/a-in"
	rt.Subscribe(topic, a)

	if err := rt.Start(sess, d); err != nil {
		t.Fatal(err)
	}

	const n = 1000
	for i := 0; i < n; i++ {
		var msg message.Message
		msg.Type = message.TypeTick
		msg.Seq = ids.MessageSeq(i + 1)
		msg.Timestamp = int64(i)
		rt.Publish(topic, msg)
	}

	waitForCount(t, sink, n, 5*time.Second)

	if got := sink.count(); got != n {
		t.Fatalf("C received %d messages, want %d", got, n)
	}

	sink.mu.Lock()
	for i, m := range sink.received {
		if m.Timestamp != int64(i) {
			t.Fatalf("message %d arrived out of order: timestamp %d, want %d", i, m.Timestamp, i)
		}
	}
	sink.mu.Unlock()

	if err := rt.Stop(sess, d, streamdag.Drain); err != nil {
		t.Fatal(err)
	}
}

// stampingRelay forwards every message with Source rewritten to its own
// NodeId, so a downstream join can tell which branch each copy travelled.
type stampingRelay struct {
	relayUnit
}

func (u *stampingRelay) Process(in []message.Message, out unit.Emitter) unit.Status {
	for _, m := range in {
		m.Source = u.node
		out.Emit(m)
	}
	return unit.Ok
}

// batchCaptureUnit records each Process invocation's input slice
// separately, so a test can assert on per-dispatch batches rather than
// the flattened stream.
type batchCaptureUnit struct {
	mu      sync.Mutex
	batches [][]message.Message
}

func (u *batchCaptureUnit) Kind() unit.Kind              { return unit.KindUser }
func (u *batchCaptureUnit) InputSchema() []message.Type  { return []message.Type{message.TypeTick} }
func (u *batchCaptureUnit) OutputSchema() []message.Type { return nil }
func (u *batchCaptureUnit) OnAttach(ids.NodeId, ids.DagId, unit.NumaHint) {}
func (u *batchCaptureUnit) OnDetach()                                     {}
func (u *batchCaptureUnit) MetricsSnapshot() unit.Metrics                 { return unit.Metrics{} }
func (u *batchCaptureUnit) Process(in []message.Message, out unit.Emitter) unit.Status {
	if len(in) == 0 {
		return unit.Ok
	}
	batch := make([]message.Message, len(in))
	copy(batch, in)
	u.mu.Lock()
	u.batches = append(u.batches, batch)
	u.mu.Unlock()
	return unit.Ok
}

func (u *batchCaptureUnit) total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, b := range u.batches {
		n += len(b)
	}
	return n
}

// TestDiamondBarrierSynchronous exercises A -> {B, C} -> D in
// BarrierSynchronous mode: D runs only once both branches have delivered,
// and every D dispatch observes one B-message and one C-message carrying
// the same source timestamp. Publishing is paced one tick at a time so
// each tick forms its own barrier wave.
func TestDiamondBarrierSynchronous(t *testing.T) {
	cfg := config.New().
		WithNodePoolCapacity(16).
		WithQueueCapacity(64).
		WithWorkerCount(4).
		WithExecutionMode(config.BarrierSynchronous).
		Build()

	rt := streamdag.New(cfg, testLogger(), nil, nil)
	defer rt.Shutdown()

	sess, err := rt.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	d, err := rt.CreateDag(sess)
	if err != nil {
		t.Fatal(err)
	}

	a, err := rt.AddNode(sess, d, unit.KindTick, units.NewTickUnit())
	if err != nil {
		t.Fatal(err)
	}
	bUnit, cUnit := &stampingRelay{}, &stampingRelay{}
	b, err := rt.AddNode(sess, d, unit.KindUser, bUnit)
	if err != nil {
		t.Fatal(err)
	}
	c, err := rt.AddNode(sess, d, unit.KindUser, cUnit)
	if err != nil {
		t.Fatal(err)
	}
	sink := &batchCaptureUnit{}
	dn, err := rt.AddNode(sess, d, unit.KindUser, sink)
	if err != nil {
		t.Fatal(err)
	}

	for _, edge := range [][2]ids.NodeId{{a, b}, {a, c}, {b, dn}, {c, dn}} {
		if err := rt.Connect(sess, d, edge[0], edge[1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.Finalize(sess, d); err != nil {
		t.Fatal(err)
	}

	const topic = "test/diamond/a-in"
	rt.Subscribe(topic, a)

	if err := rt.Start(sess, d); err != nil {
		t.Fatal(err)
	}

	const n = 10
	for i := 0; i < n; i++ {
		var msg message.Message
		msg.Type = message.TypeTick
		msg.Dest = message.BroadcastNode
		msg.Timestamp = int64(1000 + i)
		rt.Publish(topic, msg)

		// Wait the wave out before the next tick, so batches stay 1:1
		// with published ticks.
		deadline := time.Now().Add(2 * time.Second)
		for sink.total() < 2*(i+1) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	if got := sink.total(); got != 2*n {
		t.Fatalf("D received %d messages total, want %d", got, 2*n)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.batches) != n {
		t.Fatalf("D dispatched %d times, want %d", len(sink.batches), n)
	}
	for i, batch := range sink.batches {
		if len(batch) != 2 {
			t.Fatalf("dispatch %d observed %d messages, want one per branch", i, len(batch))
		}
		var sawB, sawC bool
		for _, m := range batch {
			switch m.Source {
			case b:
				sawB = true
			case c:
				sawC = true
			}
		}
		if !sawB || !sawC {
			t.Fatalf("dispatch %d missing a branch: sawB=%v sawC=%v", i, sawB, sawC)
		}
		if batch[0].Timestamp != batch[1].Timestamp {
			t.Fatalf("dispatch %d timestamps diverge: %d vs %d", i, batch[0].Timestamp, batch[1].Timestamp)
		}
		if want := int64(1000 + i); batch[0].Timestamp != want {
			t.Fatalf("dispatch %d timestamp %d, want %d", i, batch[0].Timestamp, want)
		}
	}

	if err := rt.Stop(sess, d, streamdag.Drain); err != nil {
		t.Fatal(err)
	}
}

// TestFinalizeRejectsCycleThroughRuntime exercises the builder's cycle
// rejection through the full orchestrator surface rather than the dag
// package directly.
func TestFinalizeRejectsCycleThroughRuntime(t *testing.T) {
	cfg := config.New().WithNodePoolCapacity(8).Build()
	rt := streamdag.New(cfg, testLogger(), nil, nil)
	defer rt.Shutdown()

	sess, _ := rt.CreateSession()
	d, _ := rt.CreateDag(sess)

	a, _ := rt.AddNode(sess, d, unit.KindUser, &relayUnit{})
	b, _ := rt.AddNode(sess, d, unit.KindUser, &relayUnit{})

	if err := rt.Connect(sess, d, a, b); err != nil {
		t.Fatal(err)
	}
	if err := rt.Connect(sess, d, b, a); err != nil {
		t.Fatal(err)
	}

	if err := rt.Finalize(sess, d); !errors.Is(err, errs.ErrCycleDetected) {
		t.Fatalf("Finalize on a 2-cycle: got %v, want ErrCycleDetected", err)
	}
}

// TestPoolExhaustionSurfacesThroughAddNode confirms the node pool's fixed
// capacity is enforced end to end, not just at the dag package's own
// Pool.Alloc.
func TestPoolExhaustionSurfacesThroughAddNode(t *testing.T) {
	cfg := config.New().WithNodePoolCapacity(2).Build()
	rt := streamdag.New(cfg, testLogger(), nil, nil)
	defer rt.Shutdown()

	sess, _ := rt.CreateSession()
	d, _ := rt.CreateDag(sess)

	if _, err := rt.AddNode(sess, d, unit.KindUser, &relayUnit{}); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.AddNode(sess, d, unit.KindUser, &relayUnit{}); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.AddNode(sess, d, unit.KindUser, &relayUnit{}); !errors.Is(err, errs.ErrPoolExhausted) {
		t.Fatalf("3rd AddNode on a 2-capacity pool: got %v, want ErrPoolExhausted", err)
	}
}

// TestCrossSessionConnectForbidden confirms the session manager's
// ownership check (C0) rejects an operation against a dag that belongs to
// a different session.
func TestCrossSessionConnectForbidden(t *testing.T) {
	cfg := config.New().WithNodePoolCapacity(8).Build()
	rt := streamdag.New(cfg, testLogger(), nil, nil)
	defer rt.Shutdown()

	owner, _ := rt.CreateSession()
	intruder, _ := rt.CreateSession()
	d, _ := rt.CreateDag(owner)

	if _, err := rt.AddNode(intruder, d, unit.KindUser, &relayUnit{}); !errors.Is(err, errs.ErrUnknownDag) {
		t.Fatalf("AddNode from a non-owning session: got %v, want ErrUnknownDag", err)
	}
}
