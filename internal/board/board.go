// Package board implements the event-ordering and replicated-history core of
// the shared sketch overlay. It turns per-author-numbered drawing events
// arriving in any order, any number of times, into one deterministic local
// state, and keeps a replayable history so a late joiner can be rebuilt from
// a snapshot.
package board

import (
	"log"
	"time"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// Board is one participant's reconciliation state. It is not safe for
// concurrent use: a single goroutine must drive it (the hub runs one loop
// per participant). Every piece of state here is disposable. EnterBulk
// throws it all away and a snapshot rebuilds it; that is the normal
// recovery path, not a special teardown.
type Board struct {
	consumer RenderConsumer
	opts     Options

	authors sessionQueues
	pending map[StrokeKey]*pendingStroke
	history *History

	bulk bool
	// epoch changes whenever the whole state is wiped (clear or snapshot).
	// Drain loops compare it around each apply so a ClearAll arriving
	// mid-drain stops them before they touch dead queues.
	epoch uint64
}

type sessionQueues map[AuthorID]*authorQueue

// New builds a board that feeds the given consumer. A nil consumer is
// replaced by Nop: events are still absorbed into history so state stays
// consistent, and the next snapshot replays everything.
func New(consumer RenderConsumer, opts Options) *Board {
	if consumer == nil {
		consumer = Nop()
	}
	return &Board{
		consumer: consumer,
		opts:     opts.withDefaults(),
		authors:  make(sessionQueues),
		pending:  make(map[StrokeKey]*pendingStroke),
		history:  newHistory(),
	}
}

// SetConsumer swaps the render consumer. Passing nil detaches rendering
// without losing history.
func (b *Board) SetConsumer(c RenderConsumer) {
	if c == nil {
		c = Nop()
	}
	b.consumer = c
}

// History exposes the replicated store for read-only inspection.
func (b *Board) History() *History { return b.history }

// InBulk reports whether a snapshot is currently being applied.
func (b *Board) InBulk() bool { return b.bulk }

func (b *Board) queue(author AuthorID) *authorQueue {
	q := b.authors[author]
	if q == nil {
		q = newAuthorQueue()
		b.authors[author] = q
	}
	return q
}

// ApplyLive feeds one event received from the transport through the
// per-author reorder buffer. now stamps gap observations; the caller polls
// TickGaps with the same clock. While a snapshot is in flight live traffic
// is dropped: interleaving it with bulk application would double-apply or
// corrupt order. The post-snapshot baseline rule resynchronizes the stream
// afterwards.
func (b *Board) ApplyLive(msg wire.Message, now time.Time) {
	if !msg.Live() || b.bulk {
		return
	}
	author := AuthorID(msg.From)
	q := b.queue(author)

	// Duplicate of something still buffered: drop.
	if q.has(msg.Seq) {
		return
	}

	// Full buffer: release the smallest entry out of order to bound memory.
	if q.len() >= b.opts.ReorderCap {
		if evicted, ok := q.evictSmallest(); ok {
			log.Printf("[board] author %d: reorder buffer full, applying seq %d early", author, evicted.Seq)
			epoch := b.epoch
			b.apply(evicted)
			if b.epoch != epoch {
				// The evicted event wiped the board; start this
				// author over with the incoming message.
				q = b.queue(author)
			}
		}
	}

	q.put(msg.Seq, msg)
	q.prime()

	applied, wiped := b.drain(q)
	if wiped {
		return
	}
	b.noteGap(q, applied, now)
}

// ApplyLocal applies one of this participant's own outgoing events. The
// transport never echoes a message back to its sender, so the sender mutates
// its history (and renderer) directly; local events are in order by
// construction and skip the reorder buffer.
func (b *Board) ApplyLocal(msg wire.Message) {
	if !msg.Live() || b.bulk {
		return
	}
	b.apply(msg)
}

// TickGaps polls every author's gap timer once. A gap that has persisted
// beyond the configured timeout is skipped: the cursor jumps to the smallest
// buffered sequence and draining resumes, so no stream stalls forever on one
// lost message.
func (b *Board) TickGaps(now time.Time) {
	for author, q := range b.authors {
		if q.len() == 0 || q.gapSince.IsZero() {
			continue
		}
		if now.Sub(q.gapSince) < b.opts.GapTimeout {
			continue
		}
		if !q.jump() {
			continue
		}
		log.Printf("[board] author %d: gap timeout, skipping to seq %d", author, q.expected)
		applied, wiped := b.drain(q)
		if wiped {
			// The whole session map was replaced mid-drain; the
			// range snapshot above is stale.
			return
		}
		b.noteGap(q, applied, now)
	}
}

// drain releases consecutive events starting at the cursor. Reports how many
// events were applied and whether an applied event wiped the board state.
func (b *Board) drain(q *authorQueue) (int, bool) {
	n := 0
	for {
		msg, ok := q.take()
		if !ok {
			return n, false
		}
		epoch := b.epoch
		b.apply(msg)
		n++
		if b.epoch != epoch {
			return n, true
		}
	}
}

// noteGap updates the gap timer after a drain attempt: progress (or a fresh
// hole) restarts the clock, an already-open gap keeps its original
// observation time, and an empty buffer closes the gap.
func (b *Board) noteGap(q *authorQueue, applied int, now time.Time) {
	if q.len() == 0 {
		q.gapSince = time.Time{}
		return
	}
	if applied > 0 || q.gapSince.IsZero() {
		q.gapSince = now
	}
}

// apply dispatches one already-ordered event into the pending reconciler,
// history, and renderer.
func (b *Board) apply(msg wire.Message) {
	author := AuthorID(msg.From)
	switch msg.Type {
	case wire.TypeBegin:
		style := Style{Color: wire.UnpackColor(msg.Color), Width: msg.Width}
		b.applyBegin(StrokeKey{Author: author, Stroke: msg.Stroke}, msg.Seq, style)
	case wire.TypePoints:
		b.applyPoints(StrokeKey{Author: author, Stroke: msg.Stroke}, msg.Seq, msg.Data)
	case wire.TypeEnd:
		b.applyEnd(StrokeKey{Author: author, Stroke: msg.Stroke}, msg.Seq)
	case wire.TypeLabel:
		b.applyLabel(LabelKey{Author: author, Label: msg.Stroke}, msg.Data, msg.Text)
	case wire.TypeClear:
		b.applyClear()
	}
}

func (b *Board) applyBegin(key StrokeKey, seq uint64, style Style) {
	if rec := b.history.stroke(key); rec != nil {
		if rec.closed {
			// A stale begin must not reopen a completed stroke.
			return
		}
		if !b.bulk && rec.stale(seq) {
			return
		}
		// Second begin for an open stroke: refresh the style, never the
		// point history. Possible when a gap skip released the original
		// begin late.
		rec.noteSeq(seq)
		rec.style = style
		b.consumer.BeginStroke(key, style)
		return
	}

	rec := b.history.addStroke(key, style)
	if b.bulk {
		// Snapshot frames reuse Seq as the record's watermark so stale
		// live redeliveries of already-replicated points get dropped.
		rec.baseSeq = seq
		rec.maxSeq = seq
	} else {
		rec.noteSeq(seq)
	}
	b.consumer.BeginStroke(key, style)

	pend := b.pending[key]
	if pend == nil {
		return
	}
	// Replay whatever arrived ahead of the begin, in arrival order.
	delete(b.pending, key)
	for s := range pend.seen {
		rec.noteSeq(s)
	}
	if len(pend.points) > 0 {
		rec.points = append(rec.points, pend.points...)
		b.consumer.AddPoints(key, pend.points)
	}
	if pend.ended {
		b.closeStroke(rec)
	}
}

func (b *Board) applyPoints(key StrokeKey, seq uint64, data []byte) {
	points := wire.DecodePoints(data)
	if len(points) == 0 {
		// Short or empty payload: nothing decodable, nothing fatal.
		return
	}
	if rec := b.history.stroke(key); rec != nil {
		if rec.closed {
			return
		}
		if !b.bulk && rec.stale(seq) {
			return
		}
		if !b.bulk {
			rec.noteSeq(seq)
		}
		rec.points = append(rec.points, points...)
		b.consumer.AddPoints(key, points)
		return
	}
	b.bufferPending(key, seq, points, false)
}

func (b *Board) applyEnd(key StrokeKey, seq uint64) {
	if rec := b.history.stroke(key); rec != nil {
		if rec.closed {
			return
		}
		if !b.bulk && rec.stale(seq) {
			return
		}
		if !b.bulk {
			rec.noteSeq(seq)
		}
		b.closeStroke(rec)
		return
	}
	b.bufferPending(key, seq, nil, true)
}

func (b *Board) closeStroke(rec *strokeRecord) {
	rec.closed = true
	rec.seen = nil // the closed flag carries dedup from here on
	b.consumer.EndStroke(rec.key)
}

// bufferPending records early stroke traffic for a key with no begin yet.
// No render, no history write: the stroke does not exist until begun.
func (b *Board) bufferPending(key StrokeKey, seq uint64, points []Point, ended bool) {
	pend := b.pending[key]
	if pend == nil {
		pend = &pendingStroke{}
		b.pending[key] = pend
	}
	if !b.bulk {
		if pend.stale(seq) {
			return
		}
		pend.noteSeq(seq)
	}
	pend.points = append(pend.points, points...)
	if ended {
		pend.ended = true
	}
}

func (b *Board) applyLabel(key LabelKey, data []byte, text string) {
	var pos Point
	if points := wire.DecodePoints(data); len(points) > 0 {
		pos = points[0]
	}
	if !b.history.addLabel(key, pos, text) {
		return // duplicate label key
	}
	b.consumer.AddLabel(key, pos, text)
}

// applyClear wipes everything a drawing could live in: history, every
// author's reorder buffer, all pending strokes, and the consumer's canvas.
// In-flight state refers to drawings that must cease to exist.
func (b *Board) applyClear() {
	b.history.clear()
	b.pending = make(map[StrokeKey]*pendingStroke)
	b.authors = make(sessionQueues)
	b.epoch++
	b.consumer.ClearAll()
}
