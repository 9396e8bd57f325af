package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/vovakirdan/dmchat-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestSignupSigninAndMe(t *testing.T) {
	env := newTestEnv(t, nil)

	_, alice := env.signup(t, "alice")
	if alice.ID == "" || alice.Username != "alice" {
		t.Fatalf("unexpected user: %+v", alice)
	}

	resp := env.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Username: "alice", Password: "password123"})
	expectStatus(t, resp, http.StatusConflict)

	resp = env.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Username: "al", Password: "password123"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/auth/signin", "", CredentialsRequest{Username: "alice", Password: "wrong-password"})
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = env.do(t, http.MethodPost, "/api/auth/signin", "", CredentialsRequest{Username: "alice", Password: "password123"})
	expectStatus(t, resp, http.StatusOK)
	var out AuthResponse
	decodeBody(t, resp, &out)
	if out.Token == "" || out.User.ID != alice.ID {
		t.Fatalf("unexpected signin response: %+v", out)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != out.Token || !cookie.HttpOnly {
		t.Fatalf("expected http-only token cookie, got %+v", cookie)
	}

	// The cookie alone authenticates.
	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/auth/me", nil)
	req.AddCookie(cookie)
	meResp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	defer meResp.Body.Close()
	expectStatus(t, meResp, http.StatusOK)
	var me UserResponse
	decodeBody(t, meResp, &me)
	if me.ID != alice.ID {
		t.Fatalf("unexpected me: %+v", me)
	}

	resp = env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp = env.do(t, http.MethodGet, "/api/auth/me", "not-a-token", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	env := newTestEnv(t, nil)

	token, _ := env.signup(t, "alice")
	env.signup(t, "alina")
	env.signup(t, "bob")

	resp := env.do(t, http.MethodGet, "/api/users/search?query=al", token, nil)
	expectStatus(t, resp, http.StatusOK)
	var users []UserResponse
	decodeBody(t, resp, &users)
	if len(users) != 1 || users[0].Username != "alina" {
		t.Fatalf("unexpected search result: %+v", users)
	}

	resp = env.do(t, http.MethodGet, "/api/users/search?query=a", token, nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	aliceToken, alice := env.signup(t, "alice")
	bobToken, bob := env.signup(t, "bob")
	carolToken, _ := env.signup(t, "carol")

	resp := env.do(t, http.MethodPost, "/api/conversations", aliceToken, OpenConversationRequest{ParticipantID: bob.ID})
	expectStatus(t, resp, http.StatusCreated)
	var conv ConversationResponse
	decodeBody(t, resp, &conv)
	if len(conv.Participants) != 2 {
		t.Fatalf("expected two participants, got %+v", conv.Participants)
	}

	// Opening from the other side finds the same conversation.
	resp = env.do(t, http.MethodPost, "/api/conversations", bobToken, OpenConversationRequest{ParticipantID: alice.ID})
	expectStatus(t, resp, http.StatusOK)
	var again ConversationResponse
	decodeBody(t, resp, &again)
	if again.ID != conv.ID {
		t.Fatalf("expected conversation %s, got %s", conv.ID, again.ID)
	}

	resp = env.do(t, http.MethodPost, "/api/conversations", aliceToken, OpenConversationRequest{ParticipantID: alice.ID})
	expectStatus(t, resp, http.StatusBadRequest)
	resp = env.do(t, http.MethodPost, "/api/conversations", aliceToken, OpenConversationRequest{ParticipantID: "nobody"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{ConversationID: conv.ID, Content: "hello"})
	expectStatus(t, resp, http.StatusCreated)
	var sent proto.MessageData
	decodeBody(t, resp, &sent)
	if sent.Content != "hello" || sent.Kind != "text" || sent.Status != "sent" {
		t.Fatalf("unexpected sent message: %+v", sent)
	}

	resp = env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{ConversationID: conv.ID, Content: "   "})
	expectStatus(t, resp, http.StatusBadRequest)
	resp = env.do(t, http.MethodPost, "/api/messages", carolToken, SendMessageRequest{ConversationID: conv.ID, Content: "hi"})
	expectStatus(t, resp, http.StatusForbidden)

	resp = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages/"+sent.ID+"/read", bobToken, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", bobToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var history []proto.MessageData
	decodeBody(t, resp, &history)
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if len(history[0].ReadBy) != 1 || history[0].ReadBy[0] != bob.ID {
		t.Fatalf("expected bob in readBy, got %v", history[0].ReadBy)
	}

	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", carolToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages?limit=zero", bobToken, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = env.do(t, http.MethodGet, "/api/conversations", bobToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var list []ConversationResponse
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].LastMessage == nil || list[0].LastMessage.Content != "hello" {
		t.Fatalf("unexpected conversation list: %+v", list)
	}
}

func TestRESTSendIsRelayedAndReadIsBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)

	aliceToken, _ := env.signup(t, "alice")
	bobToken, bob := env.signup(t, "bob")
	conv := env.openConversation(t, aliceToken, bob.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connB := env.dial(t, ctx, bobToken)
	announce(t, ctx, connB, bob.ID)
	send(t, ctx, connB, proto.TypeJoinConversation, proto.ConversationRef{ConversationID: conv.ID})
	env.waitMembers(t, conv.ID, 1)

	resp := env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{ConversationID: conv.ID, Content: "over rest"})
	expectStatus(t, resp, http.StatusCreated)
	var sent proto.MessageData
	decodeBody(t, resp, &sent)

	got := unmarshal[proto.MessageData](t, expectFrame(t, ctx, connB, proto.TypeMessageReceive))
	if got.ID != sent.ID || got.Content != "over rest" || got.SenderName != "alice" {
		t.Fatalf("unexpected relayed message: %+v", got)
	}

	// A REST read receipt has no originating connection, so the reader's own
	// socket sees it too.
	resp = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages/"+sent.ID+"/read", bobToken, nil)
	expectStatus(t, resp, http.StatusOK)
	read := unmarshal[proto.ReadUpdateData](t, expectFrame(t, ctx, connB, proto.TypeMessageReadUpdate))
	if read.MessageID != sent.ID || read.UserID != bob.ID {
		t.Fatalf("unexpected read update: %+v", read)
	}
}

func TestAttachmentsDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	token, _ := env.signup(t, "alice")
	resp := env.do(t, http.MethodPost, "/api/attachments/presign", token, PresignRequest{
		ConversationID: "c1",
		ContentType:    "image/png",
		Size:           10,
	})
	expectStatus(t, resp, http.StatusServiceUnavailable)
}
