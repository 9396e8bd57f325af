package core

import (
	"context"
	"sync"
)

// ClientState is where a connection is in its lifecycle.
type ClientState int

const (
	// StateAnonymous is a live connection that has not announced a user yet.
	StateAnonymous ClientState = iota
	// StateIdentified is a live connection bound to a user identity.
	StateIdentified
	// StateTerminated is a connection the hub has torn down.
	StateTerminated
)

func (s ClientState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Client is one live connection as seen by the core layer.
// Commands flow in through Commands; the hub pushes events into Events and
// closes it when the connection is terminated.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		closed:   make(chan struct{}),
	}
}

// Send queues a command for the hub. It returns false once the client has been
// terminated or ctx is done, so callers never block on a dead connection.
func (c *Client) Send(ctx context.Context, cmd *Command) bool {
	select {
	case c.Commands <- cmd:
		return true
	case <-c.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// terminate closes the client's channels. Safe to call more than once.
func (c *Client) terminate() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.Events)
	})
}

// Done is closed when the hub terminates the client.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}
