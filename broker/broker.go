// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker implements the zero-copy, lock-free pub/sub fabric
// (C7): topic-to-subscription routing, per-subscription SPSC delivery
// queues, and back-pressure accounting.
package broker

import (
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/message"
	"code.hybscloud.com/streamdag/queue"
)

// subscription is a single (topic, node) delivery channel.
type subscription struct {
	id           ids.SubscriptionId
	topic        string
	node         ids.NodeId
	q            *queue.SPSC[message.Message]
	blockOnFull  bool
	drops        uint64 // accessed only by the publisher goroutine calling Publish
	tombstoned   bool
}

// PublishOutcome summarizes the result of one Publish call across every
// subscriber of the topic at the time of the call.
type PublishOutcome struct {
	Delivered int
	Drops     int
	// Blocked lists the subscriptions that returned WouldBlock or
	// Timeout rather than accepting or dropping the message.
	Blocked []ids.SubscriptionId
}

// Broker routes Messages from topics to per-subscription queues.
// Structural mutation (Subscribe/Unsubscribe) takes a short lock on the
// topic's subscriber list; Publish itself never blocks on that lock
// for longer than a slice copy.
type Broker struct {
	queueCapacity int

	mu   sync.Mutex
	subs map[string][]*subscription // topic -> subscriber snapshot, copy-on-write
	byID map[ids.SubscriptionId]*subscription

	nextSlot uint64
	gen      []uint64
}

// New returns a Broker whose per-subscription queues have the given
// capacity (rounded up to a power of two by package queue).
func New(queueCapacity int) *Broker {
	return &Broker{
		queueCapacity: queueCapacity,
		subs:          make(map[string][]*subscription),
		byID:          make(map[ids.SubscriptionId]*subscription),
	}
}

// Subscribe attaches a per-subscription SPSC queue for node on topic.
func (b *Broker) Subscribe(topic string, node ids.NodeId, blockOnFull bool) ids.SubscriptionId {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := b.nextSlot
	b.nextSlot++
	for uint64(len(b.gen)) <= slot {
		b.gen = append(b.gen, 0)
	}
	// Index in the low bits, generation in the top 20 bits, the same
	// packing package ids uses for every other handle.
	id := ids.SubscriptionId(b.gen[slot]<<44 | slot)

	sub := &subscription{
		id:          id,
		topic:       topic,
		node:        node,
		q:           queue.NewSPSC[message.Message](b.queueCapacity),
		blockOnFull: blockOnFull,
	}
	b.byID[id] = sub

	// Copy-on-write: Publish's reader sees either the old or the new
	// slice, never a torn one, without taking a lock itself.
	old := b.subs[topic]
	next := make([]*subscription, len(old), len(old)+1)
	copy(next, old)
	b.subs[topic] = append(next, sub)

	return id
}

// Unsubscribe tombstones id and removes it from the topic's delivery
// list in the same call; Publish skips tombstoned entries it still
// observes in a snapshot taken before the removal.
func (b *Broker) Unsubscribe(id ids.SubscriptionId) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok || sub.tombstoned {
		return errs.ErrUnknownNode
	}
	sub.tombstoned = true
	delete(b.byID, id)

	old := b.subs[sub.topic]
	next := make([]*subscription, 0, len(old))
	for _, s := range old {
		if s != sub {
			next = append(next, s)
		}
	}
	b.subs[sub.topic] = next
	return nil
}

// Publish fans msg out to every live subscriber of topic. Delivery to
// each subscriber's queue is lock-free; the subscriber list itself is
// read from a copy-on-write snapshot taken under a brief lock.
//
// A subscription with blockOnFull=false drops the message on a full
// queue and is counted in Drops. A subscription with blockOnFull=true
// retries with iox's cooperative backoff until deadline (zero meaning
// no deadline); on expiry it is counted in Blocked rather than Drops.
func (b *Broker) Publish(topic string, msg message.Message, deadline time.Time) PublishOutcome {
	b.mu.Lock()
	snapshot := b.subs[topic]
	b.mu.Unlock()

	var out PublishOutcome
	for _, sub := range snapshot {
		if sub.tombstoned {
			continue
		}
		if err := sub.q.Enqueue(&msg); err == nil {
			out.Delivered++
			continue
		}
		if !sub.blockOnFull {
			sub.drops++
			out.Drops++
			continue
		}
		if !b.retryBlocking(sub, &msg, deadline) {
			out.Blocked = append(out.Blocked, sub.id)
		} else {
			out.Delivered++
		}
	}
	return out
}

// retryBlocking cooperatively retries Enqueue until it succeeds or
// deadline passes (a zero deadline means retry forever).
func (b *Broker) retryBlocking(sub *subscription, msg *message.Message, deadline time.Time) bool {
	var backoff iox.Backoff
	for {
		if err := sub.q.Enqueue(msg); err == nil {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		backoff.Wait()
	}
}

// Drain pops up to max pending messages queued for subscription id into
// dst, returning the number copied. Used by the executor to pull a
// node's pending input messages.
func (b *Broker) Drain(id ids.SubscriptionId, dst []message.Message) int {
	b.mu.Lock()
	sub, ok := b.byID[id]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	n := 0
	for n < len(dst) {
		m, err := sub.q.Dequeue()
		if err != nil {
			break
		}
		dst[n] = m
		n++
	}
	return n
}

// Drops returns the cumulative drop count for subscription id.
func (b *Broker) Drops(id ids.SubscriptionId) uint64 {
	b.mu.Lock()
	sub, ok := b.byID[id]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return sub.drops
}
