package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/dmchat-server/internal/clientbox"
	"github.com/vovakirdan/dmchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "JWT from /api/auth/signin")
	userID := flag.String("user-id", "", "user id to announce (taken from the token when empty)")
	conversation := flag.String("conversation", "", "conversation id to join")
	passphrase := flag.String("passphrase", "", "shared passphrase; when set, message bodies are end-to-end sealed")
	flag.Parse()

	if *conversation == "" {
		return errors.New("-conversation is required")
	}

	var box *clientbox.Box
	if *passphrase != "" {
		b, err := clientbox.New(*passphrase, *conversation)
		if err != nil {
			return fmt.Errorf("clientbox: %w", err)
		}
		box = b
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	target := *addr
	if *token != "" {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parse addr: %w", err)
		}
		q := u.Query()
		q.Set("token", *token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.TypeUserOnline, proto.OnlineData{
		UserID:   *userID,
		Token:    *token,
		Protocol: proto.ProtocolVersion,
	}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.TypeJoinConversation, proto.ConversationRef{ConversationID: *conversation}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s in conversation %s\n", *addr, *conversation)
	if box != nil {
		fmt.Println("Messages are sealed with the shared passphrase.")
	}
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, box)
	}()

	writeLoop(ctx, conn, *conversation, box)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn, box *clientbox.Box) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.TypeMessageReceive:
			var msg proto.MessageData
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			text := msg.Content
			if box != nil {
				opened, err := box.Open(text)
				if err != nil {
					opened = "[unable to decrypt]"
				}
				text = opened
			}
			name := msg.SenderName
			if name == "" {
				name = msg.SenderID
			}
			fmt.Printf("%s %s: %s\n", msg.CreatedAt.Format("15:04:05"), name, text)
		case proto.TypeTypingUpdate:
			var evt proto.TypingUpdateData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				continue
			}
			if evt.IsTyping {
				fmt.Printf("%s is typing...\n", evt.Username)
			}
		case proto.TypeUserStatus:
			var evt proto.UserStatusData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				continue
			}
			fmt.Printf("* %s is %s\n", evt.UserID, evt.Status)
		case proto.TypeError:
			if f.Error != nil {
				fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
			}
		default:
			fmt.Printf("%s %s\n", f.Type, f.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, conversationID string, box *clientbox.Box) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if box != nil {
				sealed, err := box.Seal(text)
				if err != nil {
					log.Printf("seal: %v", err)
					return
				}
				text = sealed
			}

			if err := send(ctx, conn, proto.TypeMessageSend, proto.SendData{ConversationID: conversationID, Content: text}); err != nil {
				log.Printf("%v", err)
				return
			}
			if err := send(ctx, conn, proto.TypeTypingStop, proto.TypingData{ConversationID: conversationID}); err != nil {
				log.Printf("%v", err)
				return
			}
		}
	}
}
