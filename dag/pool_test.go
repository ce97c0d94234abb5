// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dag

import (
	"errors"
	"testing"
	"unsafe"

	"code.hybscloud.com/streamdag/errs"
	"code.hybscloud.com/streamdag/ids"
	"code.hybscloud.com/streamdag/unit"
)

func TestNodeSize(t *testing.T) {
	if got := unsafe.Sizeof(Node{}); got != 256 {
		t.Fatalf("Node size = %d, want 256", got)
	}
}

func TestPoolAllocExhaustion(t *testing.T) {
	p := NewPool(2)
	if _, _, err := p.Alloc(1, unit.KindTick); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Alloc(1, unit.KindTick); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Alloc(1, unit.KindTick); !errors.Is(err, errs.ErrPoolExhausted) {
		t.Fatalf("3rd Alloc on cap-2 pool: got %v, want ErrPoolExhausted", err)
	}
}

func TestFreeBumpsGenerationAndRejectsStaleHandle(t *testing.T) {
	p := NewPool(4)
	id, _, err := p.Alloc(1, unit.KindTick)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.Get(id); !errors.Is(err, errs.ErrUnknownNode) {
		t.Fatalf("Get on a freed handle: got %v, want ErrUnknownNode", err)
	}

	id2, _, err := p.Alloc(1, unit.KindTick)
	if err != nil {
		t.Fatal(err)
	}
	if id2.Index() != id.Index() {
		t.Fatalf("expected reuse of the same slot index, got %d want %d", id2.Index(), id.Index())
	}
	if id2.Generation() == id.Generation() {
		t.Fatal("expected the reused slot's generation to differ from the stale handle's")
	}

	if _, err := p.Get(id2); err != nil {
		t.Fatalf("Get on the fresh handle: %v", err)
	}
	if err := p.Free(ids.Make(999, 0)); !errors.Is(err, errs.ErrUnknownNode) {
		t.Fatalf("Free on an out-of-range handle: got %v, want ErrUnknownNode", err)
	}
}
