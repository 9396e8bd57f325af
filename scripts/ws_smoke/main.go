package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/dmchat-server/internal/proto"
)

// ws_smoke signs up two throwaway users, opens a conversation between them and
// checks that a message sent by one arrives on the other's socket.
func main() {
	if err := run(); err != nil {
		log.Printf("smoke failed: %v", err)
		os.Exit(1)
	}
}

type account struct {
	ID       string
	Username string
	Token    string
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	alice, err := signup(ctx, *base, "smoke-a-"+uuid.NewString()[:8])
	if err != nil {
		return err
	}
	bob, err := signup(ctx, *base, "smoke-b-"+uuid.NewString()[:8])
	if err != nil {
		return err
	}

	var conv struct {
		ID string `json:"id"`
	}
	if err := postJSON(ctx, *base+"/api/conversations", alice.Token, map[string]string{"participantId": bob.ID}, &conv); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	aliceConn, err := connect(ctx, *base, alice, conv.ID)
	if err != nil {
		return err
	}
	defer aliceConn.Close(websocket.StatusNormalClosure, "done")

	bobConn, err := connect(ctx, *base, bob, conv.ID)
	if err != nil {
		return err
	}
	defer bobConn.Close(websocket.StatusNormalClosure, "done")

	// Give the hub a moment to process both joins before sending.
	time.Sleep(200 * time.Millisecond)

	if err := send(ctx, aliceConn, proto.TypeMessageSend, proto.SendData{ConversationID: conv.ID, Content: "hi bob"}); err != nil {
		return err
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, bobConn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if f.Type == proto.TypeError && f.Error != nil {
			return fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Msg)
		}
		if f.Type != proto.TypeMessageReceive {
			continue
		}
		var msg proto.MessageData
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		if msg.Content != "hi bob" || msg.SenderID != alice.ID {
			return fmt.Errorf("unexpected message: %+v", msg)
		}
		fmt.Printf("ok: %s received %q from %s (message %s)\n", bob.Username, msg.Content, alice.Username, msg.ID)
		return nil
	}
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func signup(ctx context.Context, base, username string) (account, error) {
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	body := map[string]string{"username": username, "password": "smoke-password"}
	if err := postJSON(ctx, base+"/api/auth/signup", "", body, &resp); err != nil {
		return account{}, fmt.Errorf("signup %s: %w", username, err)
	}
	return account{ID: resp.User.ID, Username: resp.User.Username, Token: resp.Token}, nil
}

func postJSON(ctx context.Context, target, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func connect(ctx context.Context, base string, acc account, conversationID string) (*websocket.Conn, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {acc.Token}}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", acc.Username, err)
	}
	if err := send(ctx, conn, proto.TypeUserOnline, proto.OnlineData{UserID: acc.ID, Token: acc.Token, Protocol: proto.ProtocolVersion}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	if err := send(ctx, conn, proto.TypeJoinConversation, proto.ConversationRef{ConversationID: conversationID}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	return conn, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
