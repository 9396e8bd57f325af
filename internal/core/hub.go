package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("hub stopped")

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opCommand
	opRelay
	opMarkRead
	opQuery
)

type op struct {
	kind           opKind
	client         *Client
	cmd            *Command
	conversationID string
	messageID      string
	userID         string
	message        *Message
	query          func(*State)
	done           chan struct{}
}

// Hub is the single owner of the realtime state. Every registration, command,
// relay and query goes through one inbox and is applied in arrival order, so
// presence, rooms and fan-out never race each other.
type Hub struct {
	inbox   chan op
	stopped chan struct{}
	clients map[string]*Client
	state   *State
	log     zerolog.Logger
}

// NewHub constructs a hub. Run must be started before clients are registered.
// A nil logger disables logging.
func NewHub(policy Policy, logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "hub").Logger()
	}
	return &Hub{
		inbox:   make(chan op, 256),
		stopped: make(chan struct{}),
		clients: make(map[string]*Client),
		state:   NewState(policy, &l),
		log:     l,
	}
}

// Run processes hub operations until ctx is cancelled. On return every
// registered client is terminated and its Events channel closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-h.inbox:
			h.handle(o)
		}
	}
}

func (h *Hub) handle(o op) {
	if o.done != nil {
		defer close(o.done)
	}

	switch o.kind {
	case opRegister:
		if existing, exists := h.clients[o.client.ID]; exists {
			if existing == o.client {
				return
			}
			h.log.Warn().Str("conn_id", o.client.ID).Msg("duplicate client id, closing new client")
			h.terminate(o.client)
			return
		}
		h.clients[o.client.ID] = o.client
		h.state.Connect(o.client.ID)
		h.log.Debug().Str("conn_id", o.client.ID).Int("connections", len(h.clients)).Msg("client registered")
	case opUnregister:
		if current, ok := h.clients[o.client.ID]; !ok || current != o.client {
			return
		}
		delete(h.clients, o.client.ID)
		h.terminate(o.client)
		h.deliver(h.state.Disconnect(o.client.ID))
		h.log.Debug().Str("conn_id", o.client.ID).Int("connections", len(h.clients)).Msg("client unregistered")
	case opCommand:
		if current, ok := h.clients[o.client.ID]; !ok || current != o.client {
			return
		}
		h.deliver(h.state.Apply(o.client.ID, o.cmd))
	case opRelay:
		h.deliver(h.state.Relay(o.conversationID, o.message))
	case opMarkRead:
		h.deliver(h.state.MarkRead("", o.conversationID, o.messageID, o.userID))
	case opQuery:
		o.query(h.state)
	}
}

// deliver pushes events without blocking. A recipient whose buffer is full
// misses the event; the hub never waits on a slow consumer.
func (h *Hub) deliver(deliveries []Delivery) {
	for _, d := range deliveries {
		for _, connID := range d.To {
			c, ok := h.clients[connID]
			if !ok {
				continue
			}
			select {
			case c.Events <- d.Event:
			default:
				h.log.Warn().
					Str("conn_id", connID).
					Str("event", d.Event.Kind.String()).
					Msg("client event buffer full, dropping event")
			}
		}
	}
}

func (h *Hub) terminate(c *Client) {
	c.terminate()
}

func (h *Hub) shutdown() {
	close(h.stopped)
	for id, c := range h.clients {
		h.terminate(c)
		delete(h.clients, id)
	}
	// Registrations that raced with shutdown are still owned by the hub.
	for {
		select {
		case o := <-h.inbox:
			if o.kind == opRegister {
				h.terminate(o.client)
			}
			if o.done != nil {
				close(o.done)
			}
		default:
			h.log.Info().Msg("hub stopped")
			return
		}
	}
}

func (h *Hub) submit(ctx context.Context, o op) error {
	select {
	case <-h.stopped:
		return ErrHubStopped
	default:
	}
	select {
	case h.inbox <- o:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call submits o and waits until the hub has applied it.
func (h *Hub) call(ctx context.Context, o op) error {
	o.done = make(chan struct{})
	if err := h.submit(ctx, o); err != nil {
		return err
	}
	select {
	case <-o.done:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient adds a connection in the anonymous state and starts forwarding
// its commands. It returns once the hub has recorded the client. If the hub has
// stopped, or stops before the registration is applied, the client is terminated.
func (h *Hub) RegisterClient(c *Client) {
	if err := h.call(context.Background(), op{kind: opRegister, client: c}); err != nil {
		h.terminate(c)
		return
	}
	go h.pump(c)
}

// UnregisterClient tears the connection down. Calling it more than once, or for
// a client the hub no longer tracks, is a no-op.
func (h *Hub) UnregisterClient(c *Client) {
	_ = h.submit(context.Background(), op{kind: opUnregister, client: c})
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if h.submit(context.Background(), op{kind: opCommand, client: c, cmd: cmd}) != nil {
				return
			}
		case <-c.closed:
			return
		case <-h.stopped:
			return
		}
	}
}

// Relay delivers a persisted message to every connection joined to the
// conversation. It returns once the hub has dispatched it.
func (h *Hub) Relay(ctx context.Context, conversationID string, msg *Message) error {
	if msg == nil {
		return errors.New("relay: nil message")
	}
	return h.call(ctx, op{kind: opRelay, conversationID: conversationID, message: msg})
}

// MarkRead delivers a read receipt recorded outside any connection to the
// conversation's room.
func (h *Hub) MarkRead(ctx context.Context, conversationID, messageID, readerID string) error {
	return h.call(ctx, op{kind: opMarkRead, conversationID: conversationID, messageID: messageID, userID: readerID})
}

// IsOnline reports whether userID currently has a connection on record.
func (h *Hub) IsOnline(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := h.call(ctx, op{kind: opQuery, query: func(s *State) {
		online = s.Presence().IsOnline(userID)
	}})
	return online, err
}

// OnlineUsers returns the online user ids in sorted order.
func (h *Hub) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := h.call(ctx, op{kind: opQuery, query: func(s *State) {
		users = s.Presence().Online()
	}})
	return users, err
}

// RoomMembers returns the connections joined to a conversation, in join order.
func (h *Hub) RoomMembers(ctx context.Context, conversationID string) ([]string, error) {
	var members []string
	err := h.call(ctx, op{kind: opQuery, query: func(s *State) {
		members = s.Rooms().Members(conversationID)
	}})
	return members, err
}

// Stats returns the number of live connections and online users.
func (h *Hub) Stats(ctx context.Context) (connections, online int, err error) {
	err = h.call(ctx, op{kind: opQuery, query: func(s *State) {
		connections = s.Connections()
		online = s.Presence().Len()
	}})
	return connections, online, err
}
