package net

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/board"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

const welcomeWait = 5 * time.Second

// Client is a joiner's connection to a session relay. It implements the
// hub's transport: broadcasts carry this participant's events to everyone,
// addressed sends answer snapshot requests, and the inbox delivers whatever
// the relay routes here. The inbox closes when the connection dies.
type Client struct {
	conn    *websocket.Conn
	id      board.AuthorID
	session string
	inbox   chan wire.Message
	done    chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

// Dial connects to a relay and completes the welcome handshake. addr is
// either host:port or a full ws:// URL.
func Dial(ctx context.Context, addr string) (*Client, error) {
	url := addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url + "/ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	// The relay speaks first: one welcome frame naming us.
	conn.SetReadDeadline(time.Now().Add(welcomeWait))
	var hello wire.Message
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("welcome from %s: %w", url, err)
	}
	if hello.Type != wire.TypeWelcome || hello.To == 0 {
		conn.Close()
		return nil, fmt.Errorf("welcome from %s: unexpected %q frame", url, hello.Type)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		id:      board.AuthorID(hello.To),
		session: hello.Session,
		inbox:   make(chan wire.Message, 256),
		done:    make(chan struct{}),
	}
	log.Printf("[client] joined session %s as author %d", c.session, c.id)
	go c.readLoop()
	return c, nil
}

// AuthorID returns the id the relay assigned to this participant.
func (c *Client) AuthorID() board.AuthorID { return c.id }

// Session returns the session id from the welcome.
func (c *Client) Session() string { return c.session }

// Broadcast sends a frame to every other participant.
func (c *Client) Broadcast(msg wire.Message) error {
	return c.write(msg)
}

// SendTo addresses a frame to one participant; the relay routes it.
func (c *Client) SendTo(to board.AuthorID, msg wire.Message) error {
	msg.To = uint32(to)
	return c.write(msg)
}

// Inbox returns the inbound frame stream. Closed on disconnect.
func (c *Client) Inbox() <-chan wire.Message { return c.inbox }

// Close tears the connection down and releases the read loop even when it
// is parked on a full inbox. The loop then closes the inbox, which stops
// the hub.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(msg wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			log.Printf("[client] session %s: connection lost: %v", c.session, err)
			c.Close()
			return
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}
