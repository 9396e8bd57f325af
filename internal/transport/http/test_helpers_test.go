package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/attachments"
	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/seal"
	"github.com/vovakirdan/dmchat-server/internal/service/conversations"
	"github.com/vovakirdan/dmchat-server/internal/service/messages"
	"github.com/vovakirdan/dmchat-server/internal/store/sqlite"
)

const testMessageKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	auth  *auth.Service
	store *sqlite.SQLiteStore
	cfg   config.Config
}

// newTestEnv starts a full server over an in-memory SQLite store.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.MessageKey = testMessageKey
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewMigrated(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	codec, err := seal.NewFromHex(cfg.MessageKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      time.Hour,
	})

	hub := core.NewHub(core.Policy{RequireIdentity: cfg.Policy.RequireIdentity}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	handler := NewHandler(Deps{
		Hub:           hub,
		Auth:          authService,
		Conversations: conversations.New(st),
		Messages:      messages.New(st, codec, int(cfg.MaxMessageBytes), nil),
		Attachments:   attachments.New(nil, 0, 0),
		Ping:          st.Ping,
	}, &cfg, &logger)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, auth: authService, store: st, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, raw)
	}
}

// signup registers a user over REST and returns the token and user.
func (e *testEnv) signup(t *testing.T, username string) (string, UserResponse) {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Username: username, Password: "password123"})
	expectStatus(t, resp, http.StatusCreated)

	var out AuthResponse
	decodeBody(t, resp, &out)
	return out.Token, out.User
}

// openConversation creates the direct conversation between token's user and other.
func (e *testEnv) openConversation(t *testing.T, token, otherID string) ConversationResponse {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/conversations", token, OpenConversationRequest{ParticipantID: otherID})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		expectStatus(t, resp, http.StatusCreated)
	}
	var out ConversationResponse
	decodeBody(t, resp, &out)
	return out
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// waitMembers polls the hub until the conversation room has n connections.
func (e *testEnv) waitMembers(t *testing.T, conversationID string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		members, err := e.hub.RoomMembers(context.Background(), conversationID)
		if err != nil {
			t.Fatalf("room members: %v", err)
		}
		if len(members) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", conversationID, n)
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func expectFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) frame {
	t.Helper()

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read %s: %v", typ, err)
	}
	if f.Type != typ {
		t.Fatalf("expected %s, got %s (data=%s error=%+v)", typ, f.Type, f.Data, f.Error)
	}
	return f
}

func expectError(t *testing.T, ctx context.Context, conn *websocket.Conn, code string) {
	t.Helper()

	f := expectFrame(t, ctx, conn, proto.TypeError)
	if f.Error == nil || f.Error.Code != code {
		t.Fatalf("expected error %s, got %+v", code, f.Error)
	}
}

func unmarshal[T any](t *testing.T, f frame) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", f.Type, err)
	}
	return v
}

// announce sends user:online and consumes the caller's own status and snapshot.
func announce(t *testing.T, ctx context.Context, conn *websocket.Conn, userID string) proto.PresenceSnapshotData {
	t.Helper()

	send(t, ctx, conn, proto.TypeUserOnline, proto.OnlineData{UserID: userID})
	status := unmarshal[proto.UserStatusData](t, expectFrame(t, ctx, conn, proto.TypeUserStatus))
	if status.UserID != userID || status.Status != string(core.StatusOnline) {
		t.Fatalf("unexpected own status: %+v", status)
	}
	return unmarshal[proto.PresenceSnapshotData](t, expectFrame(t, ctx, conn, proto.TypePresenceSnapshot))
}
