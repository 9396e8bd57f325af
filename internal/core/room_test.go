package core

import (
	"reflect"
	"testing"
)

func TestRoomsJoinIsIdempotent(t *testing.T) {
	r := NewRooms()

	if !r.Join("c1", "conv") {
		t.Fatalf("first join should change membership")
	}
	if r.Join("c1", "conv") {
		t.Fatalf("second join should be a no-op")
	}
	if got := r.Members("conv"); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestRoomsLeaveAndCleanup(t *testing.T) {
	r := NewRooms()

	if r.Leave("c1", "conv") {
		t.Fatalf("leaving a room never joined should be a no-op")
	}

	r.Join("c1", "conv")
	r.Join("c2", "conv")
	r.Leave("c1", "conv")

	if got := r.Members("conv"); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Fatalf("unexpected members %v", got)
	}

	r.Leave("c2", "conv")
	if r.Len() != 0 {
		t.Fatalf("empty room should be dropped, got %d rooms", r.Len())
	}
}

func TestRoomsMembersKeepJoinOrder(t *testing.T) {
	r := NewRooms()
	for _, c := range []string{"c3", "c1", "c2"} {
		r.Join(c, "conv")
	}

	got := r.Members("conv")
	if !reflect.DeepEqual(got, []string{"c3", "c1", "c2"}) {
		t.Fatalf("unexpected order %v", got)
	}

	// Members returns a copy.
	got[0] = "mutated"
	if r.Members("conv")[0] != "c3" {
		t.Fatalf("Members leaked internal slice")
	}
}

func TestRoomsLeaveAll(t *testing.T) {
	r := NewRooms()
	r.Join("c1", "a")
	r.Join("c1", "b")
	r.Join("c2", "b")

	left := r.LeaveAll("c1")
	if len(left) != 2 {
		t.Fatalf("expected 2 rooms left, got %v", left)
	}
	if r.IsMember("c1", "a") || r.IsMember("c1", "b") || r.RoomsOf("c1") != 0 {
		t.Fatalf("c1 still has memberships")
	}
	if !r.IsMember("c2", "b") {
		t.Fatalf("c2 membership lost")
	}
	if r.Len() != 1 {
		t.Fatalf("expected one room left, got %d", r.Len())
	}
}
