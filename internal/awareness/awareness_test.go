package awareness

import (
	"testing"

	"github.com/hollowgrove/yroom/internal/wire"
)

func TestSnapshotRoundTripsThroughApply(t *testing.T) {
	src := New(wire.V1)
	src.states[100] = State{Data: []byte(`{"cursor":3}`), Clock: 1}
	src.states[200] = State{Data: []byte(`{"cursor":9}`), Clock: 1}

	dst := New(wire.V1)
	added, updated, removed, err := dst.Apply(src.Snapshot())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals, got %v", removed)
	}
	if len(added)+len(updated) != 2 {
		t.Fatalf("expected 2 entries observed, got added=%v updated=%v", added, updated)
	}
	if dst.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", dst.Len())
	}
	got, ok := dst.Get(100)
	if !ok || string(got.Data) != `{"cursor":3}` {
		t.Fatalf("Get(100) = %+v, %v", got, ok)
	}
}

func TestApplyHigherClockWins(t *testing.T) {
	r := New(wire.V2)
	r.states[1] = State{Data: []byte("old"), Clock: 1}

	w := wire.NewWriter(wire.V2)
	w.WriteUint(1)
	encodeEntry(w, 1, State{Data: []byte("new"), Clock: 2})

	added, updated, removed, err := r.Apply(w.Bytes())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(added) != 0 || len(removed) != 0 || len(updated) != 1 {
		t.Fatalf("added=%v updated=%v removed=%v", added, updated, removed)
	}
	if string(r.states[1].Data) != "new" {
		t.Fatalf("state not updated: %+v", r.states[1])
	}
}

func TestApplyStaleClockIsIgnored(t *testing.T) {
	r := New(wire.V1)
	r.states[1] = State{Data: []byte("current"), Clock: 5}

	w := wire.NewWriter(wire.V1)
	w.WriteUint(1)
	encodeEntry(w, 1, State{Data: []byte("stale"), Clock: 2})

	_, updated, _, err := r.Apply(w.Bytes())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("a stale clock must not win: updated=%v", updated)
	}
	if string(r.states[1].Data) != "current" {
		t.Fatalf("state clobbered by stale update: %+v", r.states[1])
	}
}

func TestRemoveTombstonesAndIsCarriedBySnapshot(t *testing.T) {
	r := New(wire.V1)
	r.states[42] = State{Data: []byte("present"), Clock: 1}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	r.Remove(42)
	if r.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", r.Len())
	}

	peer := New(wire.V1)
	peer.states[42] = State{Data: []byte("present"), Clock: 1}
	added, updated, removed, err := peer.Apply(r.Snapshot())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(added) != 0 || len(updated) != 0 || len(removed) != 1 || removed[0] != 42 {
		t.Fatalf("expected removal of 42, got added=%v updated=%v removed=%v", added, updated, removed)
	}
}

func TestApplyUnknownTombstoneIsNoOp(t *testing.T) {
	r := New(wire.V1)
	w := wire.NewWriter(wire.V1)
	w.WriteUint(1)
	encodeEntry(w, 7, State{Data: nil, Clock: 1})

	added, updated, removed, err := r.Apply(w.Bytes())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(added)+len(updated)+len(removed) != 0 {
		t.Fatalf("tombstoning an unknown client should be a no-op: added=%v updated=%v removed=%v", added, updated, removed)
	}
	if _, ok := r.Get(7); ok {
		t.Fatal("unknown client should not have been registered by a tombstone")
	}
}
