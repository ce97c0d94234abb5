// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package unit

import (
	"unsafe"

	"code.hybscloud.com/streamdag/message"
)

// tickSize must equal message's inline payload window: int64 + float64 +
// float64 is 24 bytes, exactly message.InlineCap(). A Tick round-trips
// through a Message's inline window with no arena indirection.
const tickSize = unsafe.Sizeof(Tick{})

var _ [24 - tickSize]byte
var _ [tickSize - 24]byte

// EncodeInto writes t directly into msg's inline payload window.
func (t Tick) EncodeInto(msg *message.Message) {
	*(*Tick)(unsafe.Pointer(&msg.Payload[0])) = t
}

// DecodeTick reads the Tick encoded in msg's inline payload window.
func DecodeTick(msg message.Message) Tick {
	return *(*Tick)(unsafe.Pointer(&msg.Payload[0]))
}
