// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streamsync

import (
	"sync"

	"code.hybscloud.com/streamdag/ids"
)

// Multiplexer routes raw input stream identities (whatever a producer
// uses to name a feed: a symbol, a socket, a partition key) to
// Synchronizer stream slots, so callers never allocate StreamIds by
// hand (C10). The read path is lock-free on a hit; a miss takes mu to
// register a new slot, in the same copy-on-write-adjacent style as
// broker's topic table — both are low-frequency registries guarding a
// hot lock-free path.
type Multiplexer struct {
	sync   *Synchronizer
	mu     sync.Mutex
	routes sync.Map // string -> ids.StreamId
}

// NewMultiplexer returns a Multiplexer that allocates stream slots from s.
func NewMultiplexer(s *Synchronizer) *Multiplexer {
	return &Multiplexer{sync: s}
}

// Route returns the StreamId assigned to rawStreamKey, allocating one on
// first sight. Returns ErrPoolExhausted if the backing Synchronizer has
// no free stream slots left.
func (m *Multiplexer) Route(rawStreamKey string) (ids.StreamId, error) {
	if v, ok := m.routes.Load(rawStreamKey); ok {
		return v.(ids.StreamId), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.routes.Load(rawStreamKey); ok {
		return v.(ids.StreamId), nil
	}
	id, err := m.sync.RegisterStream()
	if err != nil {
		return 0, err
	}
	m.routes.Store(rawStreamKey, id)
	return id, nil
}
