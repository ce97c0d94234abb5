// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package broker

import (
	"testing"
	"time"

	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New(8)
	sub := b.Subscribe("ticks", ids.Make(1, 0), false)

	var msg message.Message
	msg.Seq = ids.MessageSeq(42)
	_ = b.Publish("ticks", msg, time.Time{})

	dst := make([]message.Message, 1)
	n := b.Drain(sub, dst)
	if n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
	if dst[0].Seq != 42 {
		t.Fatalf("expected seq 42, got %d", dst[0].Seq)
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	b := New(16)
	sub := b.Subscribe("ticks", ids.Make(1, 0), false)

	for i := 0; i < 10; i++ {
		var msg message.Message
		msg.Seq = ids.MessageSeq(i)
		b.Publish("ticks", msg, time.Time{})
	}

	dst := make([]message.Message, 10)
	n := b.Drain(sub, dst)
	if n != 10 {
		t.Fatalf("expected 10 messages, got %d", n)
	}
	for i, m := range dst {
		if m.Seq != ids.MessageSeq(i) {
			t.Fatalf("delivery reordered at %d: got seq %d", i, m.Seq)
		}
	}
}

func TestBackPressureDropsAndCounts(t *testing.T) {
	b := New(8) // rounds to 8
	sub := b.Subscribe("ticks", ids.Make(1, 0), false)

	var delivered, drops int
	for i := 0; i < 100; i++ {
		var msg message.Message
		out := b.Publish("ticks", msg, time.Time{})
		delivered += out.Delivered
		drops += out.Drops
	}

	if delivered != 8 {
		t.Fatalf("expected 8 delivered, got %d", delivered)
	}
	if drops != 92 {
		t.Fatalf("expected 92 drops, got %d", drops)
	}
	if b.Drops(sub) != 92 {
		t.Fatalf("expected subscription drop counter 92, got %d", b.Drops(sub))
	}
}

func TestBlockingPublishTimesOutWhenSaturated(t *testing.T) {
	b := New(8)
	sub := b.Subscribe("ticks", ids.Make(1, 0), true)

	var msg message.Message
	for i := 0; i < 8; i++ {
		out := b.Publish("ticks", msg, time.Time{})
		if out.Delivered != 1 {
			t.Fatalf("fill publish %d: delivered %d, want 1", i, out.Delivered)
		}
	}

	out := b.Publish("ticks", msg, time.Now().Add(20*time.Millisecond))
	if out.Delivered != 0 || out.Drops != 0 {
		t.Fatalf("saturated blocking publish: delivered=%d drops=%d, want neither", out.Delivered, out.Drops)
	}
	if len(out.Blocked) != 1 || out.Blocked[0] != sub {
		t.Fatalf("expected the subscription reported in Blocked, got %v", out.Blocked)
	}
}

func TestBlockingPublishSucceedsOnceConsumerDrains(t *testing.T) {
	b := New(8)
	sub := b.Subscribe("ticks", ids.Make(1, 0), true)

	var msg message.Message
	for i := 0; i < 8; i++ {
		b.Publish("ticks", msg, time.Time{})
	}

	// Drain one slot shortly after the publisher starts waiting.
	go func() {
		time.Sleep(10 * time.Millisecond)
		dst := make([]message.Message, 1)
		b.Drain(sub, dst)
	}()

	out := b.Publish("ticks", msg, time.Now().Add(2*time.Second))
	if out.Delivered != 1 || len(out.Blocked) != 0 {
		t.Fatalf("blocking publish after drain: delivered=%d blocked=%v, want 1 and none", out.Delivered, out.Blocked)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(8)
	sub := b.Subscribe("ticks", ids.Make(1, 0), false)
	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg message.Message
	out := b.Publish("ticks", msg, time.Time{})
	if out.Delivered != 0 {
		t.Fatalf("expected no delivery to a tombstoned subscription, got %d", out.Delivered)
	}

	if err := b.Unsubscribe(sub); err == nil {
		t.Fatal("expected error unsubscribing an already-tombstoned subscription")
	}
}

func TestMultipleTopicsIndependent(t *testing.T) {
	b := New(8)
	ticks := b.Subscribe("ticks", ids.Make(1, 0), false)
	bars := b.Subscribe("bars", ids.Make(2, 0), false)

	var msg message.Message
	msg.Seq = ids.MessageSeq(1)
	b.Publish("ticks", msg, time.Time{})

	dst := make([]message.Message, 1)
	if n := b.Drain(bars, dst); n != 0 {
		t.Fatalf("expected no cross-topic delivery, got %d", n)
	}
	if n := b.Drain(ticks, dst); n != 1 {
		t.Fatalf("expected delivery on the published topic, got %d", n)
	}
}
