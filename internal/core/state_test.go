package core

import (
	"reflect"
	"sort"
	"testing"
)

func TestAnnounceBroadcastsStatusAndSnapshot(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-bob", "bob")

	s.Connect("c-alice")
	ds := s.Apply("c-alice", &Command{Kind: CommandAnnounce, UserID: "alice", Username: "alice"})

	// Status goes to every live connection, the announcer included.
	for _, conn := range []string{"c-alice", "c-bob"} {
		evs := deliveriesTo(ds, conn)
		if len(evs) == 0 || evs[0].Kind != EventUserStatus || evs[0].UserID != "alice" || evs[0].Status != StatusOnline {
			t.Fatalf("%s: unexpected deliveries %+v", conn, evs)
		}
	}

	evs := deliveriesTo(ds, "c-alice")
	if len(evs) != 2 || evs[1].Kind != EventPresenceSnapshot {
		t.Fatalf("expected snapshot for announcer, got %+v", evs)
	}
	if !reflect.DeepEqual(evs[1].Users, []string{"alice", "bob"}) {
		t.Fatalf("unexpected snapshot %v", evs[1].Users)
	}
	if got := deliveriesTo(ds, "c-bob"); len(got) != 1 {
		t.Fatalf("bob should only get the status change, got %+v", got)
	}
	if s.StateOf("c-alice") != StateIdentified {
		t.Fatalf("expected identified, got %v", s.StateOf("c-alice"))
	}
}

func TestAnnounceRequiresUserID(t *testing.T) {
	s := NewState(Policy{}, nil)
	s.Connect("c1")

	ds := s.Apply("c1", &Command{Kind: CommandAnnounce})
	evs := deliveriesTo(ds, "c1")
	if len(evs) != 1 || evs[0].Error == nil || evs[0].Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", evs)
	}
	if s.StateOf("c1") != StateAnonymous {
		t.Fatalf("connection should stay anonymous")
	}
}

func TestAnnounceDifferentIdentityReleasesPrevious(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c1", "alice")

	ds := s.Apply("c1", &Command{Kind: CommandAnnounce, UserID: "bob"})
	evs := deliveriesTo(ds, "c1")
	if len(evs) < 2 || evs[0].Status != StatusOffline || evs[0].UserID != "alice" {
		t.Fatalf("expected alice offline first, got %+v", evs)
	}
	if evs[1].Status != StatusOnline || evs[1].UserID != "bob" {
		t.Fatalf("expected bob online next, got %+v", evs[1])
	}
	if s.Presence().IsOnline("alice") {
		t.Fatalf("alice still online")
	}
}

func TestStaleDisconnectKeepsPresence(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c1", "alice")
	identified(s, "c2", "alice")
	identified(s, "c-bob", "bob")

	if ds := s.Disconnect("c1"); len(ds) != 0 {
		t.Fatalf("stale disconnect must not broadcast, got %+v", ds)
	}
	if conn, _ := s.Presence().ConnectionOf("alice"); conn != "c2" {
		t.Fatalf("expected c2 on record, got %q", conn)
	}

	ds := s.Disconnect("c2")
	evs := deliveriesTo(ds, "c-bob")
	if len(evs) != 1 || evs[0].Status != StatusOffline || evs[0].UserID != "alice" {
		t.Fatalf("expected alice offline to bob, got %+v", evs)
	}
	if s.StateOf("c2") != StateTerminated {
		t.Fatalf("expected terminated state")
	}
}

func TestDisconnectAnonymousIsSilent(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-bob", "bob")
	s.Connect("c-anon")
	s.Apply("c-anon", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})

	if ds := s.Disconnect("c-anon"); len(ds) != 0 {
		t.Fatalf("anonymous disconnect broadcast %+v", ds)
	}
	if s.Rooms().Len() != 0 {
		t.Fatalf("rooms not cleaned up")
	}
	if ds := s.Disconnect("c-anon"); ds != nil {
		t.Fatalf("second disconnect should be a no-op")
	}
}

func TestRelayReachesRoomMembersOnly(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-alice", "alice")
	identified(s, "c-bob", "bob")
	identified(s, "c-carol", "carol")

	s.Apply("c-alice", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})
	s.Apply("c-bob", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})
	s.Apply("c-carol", &Command{Kind: CommandJoinConversation, ConversationID: "other"})

	msg := &Message{ID: "m1", ConversationID: "conv", SenderID: "alice", Content: "hi bob"}
	ds := s.Apply("c-alice", &Command{Kind: CommandSendMessage, ConversationID: "conv", Message: msg})

	if len(ds) != 1 {
		t.Fatalf("expected one delivery, got %d", len(ds))
	}
	to := append([]string(nil), ds[0].To...)
	sort.Strings(to)
	if !reflect.DeepEqual(to, []string{"c-alice", "c-bob"}) {
		t.Fatalf("unexpected recipients %v", to)
	}
	if ds[0].Event.Kind != EventMessageReceive || ds[0].Event.Message != msg {
		t.Fatalf("unexpected event %+v", ds[0].Event)
	}
}

func TestRelayToEmptyRoom(t *testing.T) {
	s := NewState(Policy{}, nil)
	if ds := s.Relay("nobody-here", &Message{ID: "m1"}); len(ds) != 0 {
		t.Fatalf("expected no deliveries, got %+v", ds)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-alice", "alice")
	identified(s, "c-bob", "bob")
	s.Apply("c-alice", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})
	s.Apply("c-bob", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})

	ds := s.Apply("c-alice", &Command{Kind: CommandTypingStart, ConversationID: "conv", Username: "Alice"})
	if len(deliveriesTo(ds, "c-alice")) != 0 {
		t.Fatalf("sender received own typing indicator")
	}
	evs := deliveriesTo(ds, "c-bob")
	if len(evs) != 1 || !evs[0].IsTyping || evs[0].UserID != "alice" || evs[0].Username != "Alice" {
		t.Fatalf("unexpected typing start %+v", evs)
	}

	ds = s.Apply("c-alice", &Command{Kind: CommandTypingStop, ConversationID: "conv", Username: "Alice"})
	evs = deliveriesTo(ds, "c-bob")
	if len(evs) != 1 || evs[0].IsTyping || evs[0].Username != "" {
		t.Fatalf("unexpected typing stop %+v", evs)
	}
}

func TestTypingStopWithoutStartIsRelayed(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-alice", "alice")
	identified(s, "c-bob", "bob")
	s.Apply("c-bob", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})

	ds := s.Apply("c-alice", &Command{Kind: CommandTypingStop, ConversationID: "conv"})
	if evs := deliveriesTo(ds, "c-bob"); len(evs) != 1 {
		t.Fatalf("expected stop relayed, got %+v", evs)
	}
}

func TestMarkReadExcludesOrigin(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c-alice", "alice")
	identified(s, "c-bob", "bob")
	s.Apply("c-alice", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})
	s.Apply("c-bob", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})

	ds := s.Apply("c-bob", &Command{Kind: CommandMarkRead, ConversationID: "conv", MessageID: "m1"})
	if len(deliveriesTo(ds, "c-bob")) != 0 {
		t.Fatalf("reader received own receipt")
	}
	evs := deliveriesTo(ds, "c-alice")
	if len(evs) != 1 || evs[0].Kind != EventMessageRead || evs[0].UserID != "bob" || evs[0].MessageID != "m1" {
		t.Fatalf("unexpected receipt %+v", evs)
	}

	// Receipts recorded outside a connection reach everyone.
	ds = s.MarkRead("", "conv", "m1", "bob")
	if len(ds) != 1 || len(ds[0].To) != 2 {
		t.Fatalf("expected both members, got %+v", ds)
	}
}

func TestRequireIdentityPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "open", policy: Policy{}, wantErr: false},
		{name: "strict", policy: Policy{RequireIdentity: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(tt.policy, nil)
			s.Connect("c1")

			ds := s.Apply("c1", &Command{Kind: CommandJoinConversation, ConversationID: "conv"})
			evs := deliveriesTo(ds, "c1")
			gotErr := len(evs) == 1 && evs[0].Error != nil && evs[0].Error.Code == ErrCodeUnidentified
			if gotErr != tt.wantErr {
				t.Fatalf("wantErr=%v, deliveries %+v", tt.wantErr, ds)
			}
			if s.Rooms().IsMember("c1", "conv") == tt.wantErr {
				t.Fatalf("membership does not match policy")
			}
		})
	}
}

func TestCommandValidation(t *testing.T) {
	s := NewState(Policy{}, nil)
	identified(s, "c1", "alice")

	cmds := []*Command{
		{Kind: CommandJoinConversation},
		{Kind: CommandLeaveConversation},
		{Kind: CommandSendMessage, ConversationID: "conv"},
		{Kind: CommandSendMessage, Message: &Message{ID: "m1"}},
		{Kind: CommandTypingStart},
		{Kind: CommandMarkRead, ConversationID: "conv"},
	}
	for _, cmd := range cmds {
		ds := s.Apply("c1", cmd)
		evs := deliveriesTo(ds, "c1")
		if len(evs) != 1 || evs[0].Error == nil || evs[0].Error.Code != ErrCodeBadRequest {
			t.Fatalf("%v: expected bad_request, got %+v", cmd.Kind, evs)
		}
	}
}

func TestCommandsFromUnknownConnectionAreDropped(t *testing.T) {
	s := NewState(Policy{}, nil)
	if ds := s.Apply("ghost", &Command{Kind: CommandAnnounce, UserID: "alice"}); ds != nil {
		t.Fatalf("expected nil, got %+v", ds)
	}
	if s.Presence().IsOnline("alice") {
		t.Fatalf("ghost connection changed presence")
	}
}
