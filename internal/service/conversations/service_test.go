package conversations

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.NewMigrated(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func mustUser(t *testing.T, st store.UserStore, name string) *store.User {
	t.Helper()

	u, err := st.CreateUser(context.Background(), name, "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func TestOpen(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")

	if _, _, err := svc.Open(ctx, alice.ID, alice.ID); !errors.Is(err, ErrCannotMessageSelf) {
		t.Fatalf("expected ErrCannotMessageSelf, got %v", err)
	}
	if _, _, err := svc.Open(ctx, alice.ID, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, _, err := svc.Open(ctx, alice.ID, ""); !errors.Is(err, ErrMissingParticipantID) {
		t.Fatalf("expected ErrMissingParticipantID, got %v", err)
	}

	conv, created, err := svc.Open(ctx, alice.ID, bob.ID)
	if err != nil || !created {
		t.Fatalf("open: created=%v err=%v", created, err)
	}
	again, created, err := svc.Open(ctx, bob.ID, alice.ID)
	if err != nil || created || again.ID != conv.ID {
		t.Fatalf("expected same conversation, got %v created=%v err=%v", again, created, err)
	}
}

func TestGetAndCheckParticipant(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	mallory := mustUser(t, st, "mallory")

	conv, _, err := svc.Open(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.Get(ctx, conv.ID, bob.ID); err != nil {
		t.Fatalf("bob should see the conversation: %v", err)
	}
	if _, err := svc.Get(ctx, conv.ID, mallory.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := svc.Get(ctx, "missing", bob.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	if err := svc.CheckParticipant(ctx, conv.ID, alice.ID); err != nil {
		t.Fatalf("alice should be a participant: %v", err)
	}
	if err := svc.CheckParticipant(ctx, conv.ID, mallory.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSearchUsersExcludesCaller(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	mustUser(t, st, "alina")

	users, err := svc.SearchUsers(ctx, "ALI", alice.ID)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alina" {
		t.Fatalf("unexpected results %+v", users)
	}
}
