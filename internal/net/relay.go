// Package net carries session traffic between participants: a websocket
// relay hosted by one peer, the dialing client side, and LAN discovery so
// joiners can find a session without typing addresses.
package net

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/board"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// HostID is the author id reserved for the hosting participant. Joiners are
// numbered upward from it as they connect.
const HostID = 1

// writeWait bounds a single frame write. A connection that cannot take a
// frame within it is dead and gets dropped, which also releases anyone
// waiting for room in its queue.
const writeWait = 10 * time.Second

// ErrPeerGone reports an addressed frame whose target has disconnected.
var ErrPeerGone = errors.New("relay: peer gone")

// Relay is the host side of a session: it accepts websocket joiners, hands
// each an author id, and moves frames between them. Broadcast frames fan out
// to everyone except their origin and may be shed under queue pressure (live
// traffic heals through resync). Addressed frames carry snapshot streams,
// which are only useful complete and in order, so they are never shed: the
// sender waits for queue room or learns the peer is gone.
// The relay also serves as the host hub's transport.
type Relay struct {
	session string
	nextID  uint32
	frames  uint64

	mu    sync.RWMutex
	peers map[uint32]*peer

	inbox    chan wire.Message
	upgrader websocket.Upgrader
}

type peer struct {
	id   uint32
	conn *websocket.Conn
	send chan wire.Message
	done chan struct{}
	once sync.Once
}

// NewRelay creates a relay for one session id.
func NewRelay(session string) *Relay {
	return &Relay{
		session: session,
		nextID:  HostID,
		peers:   make(map[uint32]*peer),
		inbox:   make(chan wire.Message, 256),
		upgrader: websocket.Upgrader{
			// LAN tool, no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Session returns the session id joiners are welcomed with.
func (r *Relay) Session() string { return r.session }

// Attach registers the relay's routes.
func (r *Relay) Attach(router *mux.Router) {
	router.HandleFunc("/ws", r.handleWS)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
}

// PeerCount reports how many joiners are connected.
func (r *Relay) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// FramesRelayed reports how many inbound frames the relay has routed since
// it started.
func (r *Relay) FramesRelayed() uint64 { return atomic.LoadUint64(&r.frames) }

// Broadcast sends one of the host's own frames to every joiner.
func (r *Relay) Broadcast(msg wire.Message) error {
	r.sendAll(msg, 0)
	return nil
}

// SendTo sends a frame to one joiner, waiting for room in its queue. A
// vanished target is an error so that a snapshot stream aborts instead of
// sending the rest into the void.
func (r *Relay) SendTo(to board.AuthorID, msg wire.Message) error {
	r.mu.RLock()
	p := r.peers[uint32(to)]
	r.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("sendto %d: %w", to, ErrPeerGone)
	}
	if err := r.deliver(p, msg); err != nil {
		return fmt.Errorf("sendto %d: %w", to, err)
	}
	return nil
}

// Inbox returns the stream of frames addressed to the host.
func (r *Relay) Inbox() <-chan wire.Message { return r.inbox }

// Close disconnects every joiner.
func (r *Relay) Close() {
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()
	for _, p := range peers {
		r.drop(p, "session closed")
	}
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("[relay] upgrade from %s: %v", req.RemoteAddr, err)
		return
	}
	p := &peer{
		id:   atomic.AddUint32(&r.nextID, 1),
		conn: conn,
		send: make(chan wire.Message, 64),
		done: make(chan struct{}),
	}
	// Welcome goes into the queue before the pump starts, so it is always
	// the first frame a joiner sees.
	p.send <- wire.Message{Type: wire.TypeWelcome, To: p.id, Session: r.session}

	r.mu.Lock()
	r.peers[p.id] = p
	total := len(r.peers)
	r.mu.Unlock()
	log.Printf("[relay] peer %d connected from %s (%d total)", p.id, conn.RemoteAddr(), total)

	go r.writePump(p)
	r.readPump(p)
}

func (r *Relay) writePump(p *peer) {
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(msg); err != nil {
				r.drop(p, err.Error())
				return
			}
		case <-p.done:
			return
		}
	}
}

func (r *Relay) readPump(p *peer) {
	for {
		var msg wire.Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			r.drop(p, err.Error())
			return
		}
		// Stamp the true sender so no one can impersonate another author.
		// Bulk frames are exempt: snapshot state keeps the original
		// author so the receiver rebuilds the right keys.
		if !msg.Bulk {
			msg.From = p.id
		}
		r.route(p, msg)
	}
}

// route moves one inbound frame on: addressed frames to their target,
// broadcast frames to the host plus every other joiner.
func (r *Relay) route(origin *peer, msg wire.Message) {
	atomic.AddUint64(&r.frames, 1)
	if msg.To == HostID {
		r.toHost(origin, msg)
		return
	}
	if msg.To != 0 {
		r.mu.RLock()
		target := r.peers[msg.To]
		r.mu.RUnlock()
		if target == nil {
			log.Printf("[relay] route to %d: peer gone, dropping %s", msg.To, msg.Type)
			return
		}
		if err := r.deliver(target, msg); err != nil {
			log.Printf("[relay] route to %d: %v", msg.To, err)
		}
		return
	}
	r.toHost(origin, msg)
	r.sendAll(msg, origin.id)
}

func (r *Relay) sendAll(msg wire.Message, except uint32) {
	r.mu.RLock()
	targets := make([]*peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != except {
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()
	for _, p := range targets {
		r.enqueue(p, msg)
	}
}

// enqueue hands a fan-out frame to a peer's pump without ever blocking the
// caller. A full queue means a slow peer; dropping is safe because the
// protocol self-heals through resync.
func (r *Relay) enqueue(p *peer, msg wire.Message) {
	select {
	case p.send <- msg:
	case <-p.done:
	default:
		log.Printf("[relay] peer %d send queue full, dropping %s", p.id, msg.Type)
	}
}

// deliver blocks until the peer's pump takes the frame or the peer drops.
// The pump drains at connection speed and dies on the write deadline, so
// the wait is bounded by a dead connection's teardown.
func (r *Relay) deliver(p *peer, msg wire.Message) error {
	select {
	case p.send <- msg:
		return nil
	case <-p.done:
		return ErrPeerGone
	}
}

// toHost hands a frame to the hosting participant's inbox. Frames addressed
// to the host wait for room, like any other addressed traffic; broadcast
// copies are shed when the host falls behind, like any other fan-out. A
// vanished origin releases the wait.
func (r *Relay) toHost(origin *peer, msg wire.Message) {
	if msg.To == HostID {
		select {
		case r.inbox <- msg:
		case <-origin.done:
		}
		return
	}
	select {
	case r.inbox <- msg:
	default:
		log.Printf("[relay] host inbox full, dropping %s", msg.Type)
	}
}

func (r *Relay) drop(p *peer, reason string) {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
		r.mu.Lock()
		delete(r.peers, p.id)
		left := len(r.peers)
		r.mu.Unlock()
		log.Printf("[relay] peer %d disconnected (%d left): %s", p.id, left, reason)
	})
}
