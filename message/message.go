// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package message defines the fixed-size, cache-line-aligned datum that
// carries a typed payload between DAG nodes.
//
// Messages are value-typed and copied across the broker boundary: there is
// no shared mutable state between a producing node and its subscribers.
// An oversized payload is carried instead by an arena handle (offset plus
// generation) that stays valid only until the producing node emits its
// next message of the same type; a consumer that needs the bytes longer
// than that must copy them out before returning from process().
package message

import (
	"unsafe"

	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
)

// Type enumerates the payload kinds carried by a Message.
type Type uint8

const (
	// TypeTick carries a single-instrument price/volume observation.
	TypeTick Type = iota
	// TypeBar carries a completed OHLC-style bar.
	TypeBar
	// TypeControl carries scheduler/lifecycle signaling, never user data.
	TypeControl
	// TypeBatch carries a reference to a batch of upstream messages.
	TypeBatch
	// TypeSync carries a stream-synchronizer aligned-tick event.
	TypeSync
	// TypeInterp carries an interpolated (filled) tick.
	TypeInterp
	// TypeUser0 is the first of the user-extension type tags.
	TypeUser0
)

// UserType returns the n-th user-extension type tag (TypeUser0, +1, +2...).
func UserType(n uint8) Type { return TypeUser0 + Type(n) }

func (t Type) String() string {
	switch {
	case t == TypeTick:
		return "tick"
	case t == TypeBar:
		return "bar"
	case t == TypeControl:
		return "control"
	case t == TypeBatch:
		return "batch"
	case t == TypeSync:
		return "sync"
	case t == TypeInterp:
		return "interp"
	case t >= TypeUser0:
		return "user"
	default:
		return "unknown"
	}
}

// BroadcastNode is the destination sentinel meaning "every subscriber of
// the topic", as opposed to a specific downstream port.
const BroadcastNode ids.NodeId = ids.NodeId(^uint64(0))

// payloadWindow is the width, in bytes, of the inline payload area.
//
// The data model in section 3 targets a ~40-byte inline window over a
// 32-bit handle header; this implementation instead uses the 64-bit
// versioned NodeId/DagId handles from package ids for Source and Dest,
// which leaves a smaller 24-byte window. Shrinking the payload window
// rather than the handle width was a deliberate choice: a narrower
// handle reintroduces exactly the stale-reference hazard the versioned
// id scheme exists to close off.
const payloadWindow = 24

// Message is a fixed-size, cache-line-aligned datum passed by value
// between processing units. Its size is asserted at compile time (below)
// and by TestMessageSize, its alignment by TestMessageAlignment; no field
// crosses the 64-byte line.
type Message struct {
	Type      Type          // payload kind
	DestPort  uint8         // sender's output edge index (ascending Outputs order); unused for BroadcastNode
	_         [6]byte       // pad Type/DestPort out to an 8-byte boundary
	Source    ids.NodeId    // producing node
	Dest      ids.NodeId    // destination node, or BroadcastNode
	Seq       ids.MessageSeq// monotonic per-producer sequence number
	Timestamp int64         // wall or tick time, nanoseconds
	Payload   [payloadWindow]byte
}

const messageSize = unsafe.Sizeof(Message{})

// compile-time assertion: Message must fit in exactly one cache line.
// A size mismatch makes one of these array lengths negative, which is a
// compile error rather than a runtime surprise.
var _ [64 - messageSize]byte
var _ [messageSize - 64]byte

// ArenaHandle references an oversized payload owned by the producing
// node's arena: Offset locates the slab entry, Generation detects stale
// handles once the node has moved on to its next emission.
type ArenaHandle struct {
	Offset     uint32
	Generation uint32
}

// PutArenaHandle encodes h into the message's inline payload window.
func (m *Message) PutArenaHandle(h ArenaHandle) {
	*(*ArenaHandle)(unsafe.Pointer(&m.Payload[0])) = h
}

// ArenaHandle decodes an ArenaHandle previously stored by PutArenaHandle.
func (m *Message) ArenaHandle() ArenaHandle {
	return *(*ArenaHandle)(unsafe.Pointer(&m.Payload[0]))
}

// PutInline copies b into the message's inline payload window.
// Returns ErrPayloadOverflow if b does not fit.
func (m *Message) PutInline(b []byte) error {
	if len(b) > len(m.Payload) {
		return errs.ErrPayloadOverflow
	}
	m.Payload = [payloadWindow]byte{}
	copy(m.Payload[:], b)
	return nil
}

// InlineCap returns the number of bytes available in the inline payload
// window, i.e. the largest value PutInline will accept.
func InlineCap() int { return payloadWindow }
