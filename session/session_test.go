// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"testing"

	"code.hybscloud.com/streamdag/dag"
	"code.hybscloud.com/streamdag/errs"
)

func TestCreateSessionAllocatesDistinctIds(t *testing.T) {
	m := NewManager(dag.NewBuilder(8, 8, 4, 4), 2)

	a, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two CreateSession calls returned the same id %v", a)
	}

	if _, err := m.CreateSession(); !errors.Is(err, errs.ErrPoolExhausted) {
		t.Fatalf("3rd CreateSession on maxSessions=2: got %v, want ErrPoolExhausted", err)
	}
}

func TestAttachDagAndOwns(t *testing.T) {
	b := dag.NewBuilder(8, 8, 4, 4)
	m := NewManager(b, 4)

	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	other, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}

	d, _, err := b.CreateDag()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AttachDag(sess, d); err != nil {
		t.Fatal(err)
	}

	if !m.Owns(sess, d) {
		t.Fatal("Owns(sess, d) = false after AttachDag(sess, d)")
	}
	if m.Owns(other, d) {
		t.Fatal("Owns(other, d) = true, want false: d belongs to sess")
	}

	dags, err := m.Dags(sess)
	if err != nil {
		t.Fatal(err)
	}
	if len(dags) != 1 || dags[0] != d {
		t.Fatalf("Dags(sess) = %v, want [%v]", dags, d)
	}
}

func TestAttachDagUnknownSession(t *testing.T) {
	b := dag.NewBuilder(8, 8, 4, 4)
	m := NewManager(b, 2)

	d, _, err := b.CreateDag()
	if err != nil {
		t.Fatal(err)
	}

	if err := m.AttachDag(9999, d); !errors.Is(err, errs.ErrUnknownSession) {
		t.Fatalf("AttachDag on an unknown session: got %v, want ErrUnknownSession", err)
	}
}

// TestDestroySessionDestroysOwnedDagsAndFreesSlot confirms DestroySession
// tears down every DAG the session owned (via Builder.Destroy) and frees
// the session slot for reuse, bumping its generation so a caller still
// holding the old SessionId is rejected afterward.
func TestDestroySessionDestroysOwnedDagsAndFreesSlot(t *testing.T) {
	b := dag.NewBuilder(8, 8, 4, 4)
	m := NewManager(b, 1)

	sess, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	d, _, err := b.CreateDag()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AttachDag(sess, d); err != nil {
		t.Fatal(err)
	}

	if err := m.DestroySession(sess); err != nil {
		t.Fatal(err)
	}

	// DestroySession called through to Builder.Destroy for the owned dag,
	// which frees its Instance slot: a second Destroy sees it as already
	// gone rather than still Finalized/Building.
	if err := b.Destroy(d); !errors.Is(err, errs.ErrUnknownDag) {
		t.Fatalf("Destroy on a dag DestroySession already tore down: got %v, want ErrUnknownDag", err)
	}

	if m.Owns(sess, d) {
		t.Fatal("Owns(sess, d) = true after DestroySession")
	}
	if _, err := m.Dags(sess); !errors.Is(err, errs.ErrUnknownSession) {
		t.Fatalf("Dags(sess) after DestroySession: got %v, want ErrUnknownSession", err)
	}

	if err := m.DestroySession(sess); !errors.Is(err, errs.ErrUnknownSession) {
		t.Fatalf("second DestroySession on the same id: got %v, want ErrUnknownSession", err)
	}
}

func TestCreateSessionReusesFreedSlotWithBumpedGeneration(t *testing.T) {
	m := NewManager(dag.NewBuilder(8, 8, 4, 4), 1)

	first, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DestroySession(first); err != nil {
		t.Fatal(err)
	}

	second, err := m.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	if first.Index() != second.Index() {
		t.Fatalf("expected the freed slot to be reused: first.Index()=%d second.Index()=%d", first.Index(), second.Index())
	}
	if first == second {
		t.Fatal("reused slot handed out the same SessionId: generation should have bumped")
	}
	if m.Owns(first, 0) {
		t.Fatal("stale SessionId from before the slot was recycled should never resolve")
	}
}
