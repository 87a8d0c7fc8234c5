// Package hub runs one participant's processing loop: local drawing in,
// transport frames out, remote frames through the board, all on a single
// serialized queue so the reconciliation state never sees two writers.
package hub

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/board"
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// Transport carries envelopes between participants. At-least-once and
// unordered is all the hub assumes: frames may arrive zero, one, or many
// times, in any order. The inbox channel closes when the link is gone.
type Transport interface {
	Broadcast(msg wire.Message) error
	SendTo(to board.AuthorID, msg wire.Message) error
	Inbox() <-chan wire.Message
}

// ErrTransportClosed reports that the inbox closed underneath the loop.
var ErrTransportClosed = errors.New("hub: transport closed")

const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultTickEvery     = 25 * time.Millisecond
	DefaultChunkBytes    = 240
	DefaultResyncTimeout = 15 * time.Second
)

// Options tune the loop. Zero values pick the defaults.
type Options struct {
	// FlushInterval bounds how long captured points may sit in the
	// outbound batch before they are forced onto the wire.
	FlushInterval time.Duration
	// TickEvery is the wall-clock poll period driving gap timeouts and
	// the periodic flush.
	TickEvery time.Duration
	// ChunkBytes caps the point payload of one frame, for both live
	// batches and snapshot chunks.
	ChunkBytes int
	// ResyncTimeout bounds how long a snapshot request or an in-flight
	// snapshot stream may sit with no progress before the hub abandons
	// it and asks again.
	ResyncTimeout time.Duration
	// Board configures the reconciliation engine.
	Board board.Options
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.TickEvery <= 0 {
		o.TickEvery = DefaultTickEvery
	}
	if o.ChunkBytes < wire.PointBytes {
		o.ChunkBytes = DefaultChunkBytes
	}
	if o.ResyncTimeout <= 0 {
		o.ResyncTimeout = DefaultResyncTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Hub owns one participant's board and its side of the transport. All state
// is confined to the Run loop; the exported methods hand work to it through
// the command queue and are safe to call from any goroutine.
type Hub struct {
	self      board.AuthorID
	authority bool
	b         *board.Board
	tr        Transport
	opts      Options
	cmds      chan func()
	stopped   chan struct{}

	seq     uint64 // per-author sequence counter, every event kind consumes one
	nextObj uint32 // stroke and label ids, one counter for both

	drawing   bool
	curStroke uint32
	batch     []wire.Point
	batchCap  int
	lastFlush time.Time

	// syncSince is the last sign of life from a pending resync: set when
	// one is requested and on every snapshot frame, cleared when the
	// stream completes. Zero when no resync is pending.
	syncSince time.Time
}

// New wires a participant together. The consumer and transport are fixed for
// the hub's lifetime; authority marks this participant as the one answering
// snapshot requests.
func New(self board.AuthorID, authority bool, consumer board.RenderConsumer, tr Transport, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		self:      self,
		authority: authority,
		b:         board.New(consumer, opts.Board),
		tr:        tr,
		opts:      opts,
		cmds:      make(chan func(), 64),
		stopped:   make(chan struct{}),
		batchCap:  opts.ChunkBytes / wire.PointBytes,
	}
}

// AuthorID returns this participant's id.
func (h *Hub) AuthorID() board.AuthorID { return h.self }

// Run drives the loop until the context is canceled or the transport drops.
// Exactly one Run per hub.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)
	ticker := time.NewTicker(h.opts.TickEvery)
	defer ticker.Stop()
	inbox := h.tr.Inbox()
	for {
		select {
		case <-ctx.Done():
			h.flushPoints()
			return nil
		case msg, ok := <-inbox:
			if !ok {
				return ErrTransportClosed
			}
			h.handleInbound(msg)
		case f := <-h.cmds:
			f()
		case now := <-ticker.C:
			h.tick(now)
		}
	}
}

// do hands work to the loop. Reports false once the loop has stopped, so
// callers blocked on a reply never hang on a dead hub.
func (h *Hub) do(f func()) bool {
	select {
	case h.cmds <- f:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) now() time.Time { return h.opts.Clock() }

func (h *Hub) tick(now time.Time) {
	if !h.syncSince.IsZero() && now.Sub(h.syncSince) >= h.opts.ResyncTimeout {
		if h.b.InBulk() {
			log.Printf("[hub] resync stalled, starting over")
			h.b.ExitBulk()
		} else {
			log.Printf("[hub] resync unanswered, asking again")
		}
		h.requestResync()
	}
	h.b.TickGaps(now)
	if now.Sub(h.lastFlush) >= h.opts.FlushInterval {
		h.flushPoints()
		h.lastFlush = now
	}
}

func (h *Hub) nextSeq() uint64 {
	h.seq++
	return h.seq
}

// emit applies one of our own events locally and broadcasts it. The
// transport never echoes frames back, so the local apply is the only way our
// own history advances.
func (h *Hub) emit(msg wire.Message) {
	h.b.ApplyLocal(msg)
	if err := h.tr.Broadcast(msg); err != nil {
		log.Printf("[hub] broadcast %s: %v", msg.Type, err)
	}
}

// flushPoints drains the outbound point batch into one frame.
func (h *Hub) flushPoints() {
	if !h.drawing || len(h.batch) == 0 {
		return
	}
	h.emit(wire.Message{
		Type:   wire.TypePoints,
		From:   uint32(h.self),
		Seq:    h.nextSeq(),
		Stroke: h.curStroke,
		Data:   wire.EncodePoints(h.batch, 0, len(h.batch)),
	})
	h.batch = h.batch[:0]
}

func (h *Hub) handleInbound(msg wire.Message) {
	switch msg.Type {
	case wire.TypeSyncReq:
		if h.authority && board.AuthorID(msg.From) != h.self {
			h.answerSync(board.AuthorID(msg.From))
		}
	case wire.TypeSyncBeg:
		if board.AuthorID(msg.To) == h.self {
			log.Printf("[hub] resync from author %d started", msg.From)
			// The rebuild replaces the state an open stroke was drawing
			// into; its unsent points go with it.
			h.batch = h.batch[:0]
			h.drawing = false
			h.b.EnterBulk()
			h.syncSince = h.now()
		}
	case wire.TypeSyncEnd:
		// An end without an open bracket is a stale stream; ignoring it
		// keeps the retry clock armed for the answer still owed.
		if board.AuthorID(msg.To) == h.self && h.b.InBulk() {
			h.b.ExitBulk()
			h.syncSince = time.Time{}
			log.Printf("[hub] resync done: %d strokes, %d labels", h.b.History().NumStrokes(), h.b.History().NumLabels())
		}
	default:
		if msg.Bulk {
			if board.AuthorID(msg.To) == h.self && h.b.InBulk() {
				h.b.ApplyBulk(msg)
				h.syncSince = h.now()
			}
			return
		}
		if !msg.Live() || board.AuthorID(msg.From) == h.self {
			return
		}
		h.b.ApplyLive(msg, h.now())
	}
}

// answerSync streams a snapshot to one requester: start marker, labels and
// strokes from history, end marker. Send failures are logged and the stream
// abandoned; the requester asks again when its resync deadline expires.
func (h *Hub) answerSync(to board.AuthorID) {
	log.Printf("[hub] answering resync for author %d (%d strokes, %d labels)",
		to, h.b.History().NumStrokes(), h.b.History().NumLabels())
	if err := h.tr.SendTo(to, wire.Message{Type: wire.TypeSyncBeg, From: uint32(h.self), To: uint32(to)}); err != nil {
		log.Printf("[hub] resync start to %d: %v", to, err)
		return
	}
	err := h.b.EmitSnapshot(to, h.opts.ChunkBytes, func(m wire.Message) error {
		return h.tr.SendTo(to, m)
	})
	if err != nil {
		log.Printf("[hub] resync stream to %d: %v", to, err)
	}
	// Close the bracket even after a mid-stream error so the requester is
	// not left muted; it can always request again.
	if err := h.tr.SendTo(to, wire.Message{Type: wire.TypeSyncEnd, From: uint32(h.self), To: uint32(to)}); err != nil {
		log.Printf("[hub] resync end to %d: %v", to, err)
	}
}

func (h *Hub) muted(op string) bool {
	if h.b.InBulk() {
		log.Printf("[hub] %s ignored during resync", op)
		return true
	}
	return false
}

func (h *Hub) beginStroke(style board.Style) {
	if h.muted("begin") {
		return
	}
	if h.drawing {
		h.endStroke()
	}
	h.nextObj++
	h.curStroke = h.nextObj
	h.drawing = true
	h.emit(wire.Message{
		Type:   wire.TypeBegin,
		From:   uint32(h.self),
		Seq:    h.nextSeq(),
		Stroke: h.curStroke,
		Color:  wire.PackColor(style.Color),
		Width:  style.Width,
	})
}

func (h *Hub) addPoint(p wire.Point) {
	if !h.drawing || h.b.InBulk() {
		return
	}
	h.batch = append(h.batch, p)
	if len(h.batch) >= h.batchCap {
		h.flushPoints()
	}
}

func (h *Hub) endStroke() {
	if !h.drawing || h.muted("end") {
		return
	}
	h.flushPoints()
	h.emit(wire.Message{
		Type:   wire.TypeEnd,
		From:   uint32(h.self),
		Seq:    h.nextSeq(),
		Stroke: h.curStroke,
	})
	h.drawing = false
}

func (h *Hub) addLabel(pos wire.Point, text string) {
	if h.muted("label") {
		return
	}
	h.flushPoints()
	h.nextObj++
	h.emit(wire.Message{
		Type:   wire.TypeLabel,
		From:   uint32(h.self),
		Seq:    h.nextSeq(),
		Stroke: h.nextObj,
		Data:   wire.EncodePoints([]wire.Point{pos}, 0, 1),
		Text:   text,
	})
}

func (h *Hub) clear() {
	if h.muted("clear") {
		return
	}
	h.batch = h.batch[:0]
	h.drawing = false
	h.emit(wire.Message{
		Type: wire.TypeClear,
		From: uint32(h.self),
		Seq:  h.nextSeq(),
	})
}

func (h *Hub) requestResync() {
	h.syncSince = h.now()
	if err := h.tr.Broadcast(wire.Message{Type: wire.TypeSyncReq, From: uint32(h.self)}); err != nil {
		log.Printf("[hub] resync request: %v", err)
	}
}

// BeginStroke starts a new local stroke with the given pen style. An open
// stroke is ended first.
func (h *Hub) BeginStroke(style board.Style) { h.do(func() { h.beginStroke(style) }) }

// AddPoint extends the open local stroke. Points batch up and flush on the
// periodic timer, at the frame budget, or at the next boundary event.
func (h *Hub) AddPoint(p wire.Point) { h.do(func() { h.addPoint(p) }) }

// EndStroke completes the open local stroke, flushing its tail first.
func (h *Hub) EndStroke() { h.do(func() { h.endStroke() }) }

// AddLabel places a text label at a position on the shared overlay.
func (h *Hub) AddLabel(pos wire.Point, text string) { h.do(func() { h.addLabel(pos, text) }) }

// Clear wipes the shared overlay for every participant.
func (h *Hub) Clear() { h.do(func() { h.clear() }) }

// RequestResync asks the session authority for a full snapshot. A request
// that goes unanswered, or a snapshot stream that stalls, is retried after
// the resync timeout until one completes.
func (h *Hub) RequestResync() { h.do(h.requestResync) }

// SetAuthority changes whether this participant answers snapshot requests.
func (h *Hub) SetAuthority(v bool) {
	h.do(func() {
		h.authority = v
		log.Printf("[hub] authority = %v", v)
	})
}

// Counts reports the stored history size. Blocks until the loop serves it;
// a stopped hub reports zero.
func (h *Hub) Counts() (strokes, labels int) {
	done := make(chan struct{})
	if !h.do(func() {
		strokes = h.b.History().NumStrokes()
		labels = h.b.History().NumLabels()
		close(done)
	}) {
		return 0, 0
	}
	select {
	case <-done:
	case <-h.stopped:
		return 0, 0
	}
	return strokes, labels
}

// RenderTo replays the stored history into a consumer, bracketed as a bulk
// batch. Blocks until the loop has run the replay; a stopped hub replays
// nothing.
func (h *Hub) RenderTo(c board.RenderConsumer) {
	done := make(chan struct{})
	if !h.do(func() {
		h.b.Replay(c)
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-h.stopped:
	}
}
