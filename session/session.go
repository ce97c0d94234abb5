// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session implements the session manager (C0, supplemented):
// the registry owning which DagIds belong to which SessionId, enforcing
// that a session only ever sees its own DAGs.
//
// Grounded on original_source/Core_Session.h ("Each session represents
// ONE active trading session") and Core_SessionManager.h ("Manages
// lifecycle of ... concurrent trading sessions"), re-architected per
// spec.md §9's note on global singletons: Manager is an explicit handle
// owned by the orchestrator, never a package-level singleton.
package session

import (
	"sync"

	"code.hybscloud.com/streamdag/dag"
	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
)

// record is one session's owned-DAG set.
type record struct {
	dags []ids.DagId
}

// Manager allocates SessionIds from a fixed-capacity slab (the same
// versioned-slot discipline as dag.Pool and dag.Builder's DAG registry)
// and tracks each session's owned DAGs.
type Manager struct {
	builder *dag.Builder

	mu         sync.Mutex
	sessions   []*record
	generation []uint64
}

// NewManager returns a Manager bound to builder, with room for
// maxSessions concurrent sessions.
func NewManager(builder *dag.Builder, maxSessions int) *Manager {
	if maxSessions < 1 {
		panic("session: maxSessions must be >= 1")
	}
	return &Manager{
		builder:    builder,
		sessions:   make([]*record, maxSessions),
		generation: make([]uint64, maxSessions),
	}
}

// CreateSession allocates a new session slot. Returns ErrPoolExhausted
// once every slot is in use.
func (m *Manager) CreateSession() (ids.SessionId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, slot := range m.sessions {
		if slot != nil {
			continue
		}
		id := ids.MakeSession(uint32(i), uint32(m.generation[i]))
		m.sessions[i] = &record{}
		return id, nil
	}
	return 0, errs.ErrPoolExhausted
}

// resolve looks up the live record for id, rejecting a stale generation.
func (m *Manager) resolve(id ids.SessionId) (*record, error) {
	idx := id.Index()
	if int(idx) >= len(m.sessions) {
		return nil, errs.ErrUnknownSession
	}
	rec := m.sessions[idx]
	if rec == nil || m.generation[idx] != uint64(id.Generation()) {
		return nil, errs.ErrUnknownSession
	}
	return rec, nil
}

// AttachDag records that dagID belongs to session. The orchestrator
// calls this immediately after create_dag so a caller can never address
// a DAG through the wrong session: cross-session sharing is forbidden
// by construction (spec.md §3), this is the component that enforces it.
func (m *Manager) AttachDag(session ids.SessionId, dagID ids.DagId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.resolve(session)
	if err != nil {
		return err
	}
	rec.dags = append(rec.dags, dagID)
	return nil
}

// Dags returns a copy of the DagIds owned by session.
func (m *Manager) Dags(session ids.SessionId) ([]ids.DagId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.resolve(session)
	if err != nil {
		return nil, err
	}
	out := make([]ids.DagId, len(rec.dags))
	copy(out, rec.dags)
	return out, nil
}

// Owns reports whether session owns dagID, the check the orchestrator
// makes before honoring any per-DAG call against a caller-supplied
// SessionId.
func (m *Manager) Owns(session ids.SessionId, dagID ids.DagId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.resolve(session)
	if err != nil {
		return false
	}
	for _, d := range rec.dags {
		if d == dagID {
			return true
		}
	}
	return false
}

// DestroySession destroys every DAG session owns (via dag.Builder's
// Destroy) and releases the session slot. Already-destroyed or unknown
// sessions return ErrUnknownSession rather than panicking.
func (m *Manager) DestroySession(session ids.SessionId) error {
	m.mu.Lock()
	rec, err := m.resolve(session)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	idx := session.Index()
	m.sessions[idx] = nil
	m.generation[idx]++
	dags := rec.dags
	m.mu.Unlock()

	for _, d := range dags {
		_ = m.builder.Destroy(d)
	}
	return nil
}
