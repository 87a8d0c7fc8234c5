package board

import (
	"time"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// authorQueue reassembles one author's event stream. The transport may
// deliver events zero, one, or many times in any order; the queue releases
// them in sequence order, skipping holes only after a bounded wait.
//
// expected is only meaningful once primed. The first observed sequence
// number becomes the baseline; streams are never assumed to start at any
// fixed value, because an observer may join mid-stream.
type authorQueue struct {
	events   map[uint64]wire.Message
	expected uint64
	primed   bool
	gapSince time.Time // zero while no gap is open
}

func newAuthorQueue() *authorQueue {
	return &authorQueue{events: make(map[uint64]wire.Message)}
}

func (q *authorQueue) len() int { return len(q.events) }

func (q *authorQueue) has(seq uint64) bool {
	_, ok := q.events[seq]
	return ok
}

func (q *authorQueue) put(seq uint64, msg wire.Message) {
	q.events[seq] = msg
}

// smallest returns the lowest buffered sequence number. The buffer is tiny
// (capped per Options.ReorderCap) so a linear scan is fine.
func (q *authorQueue) smallest() (uint64, bool) {
	var min uint64
	found := false
	for seq := range q.events {
		if !found || seq < min {
			min = seq
			found = true
		}
	}
	return min, found
}

// evictSmallest removes and returns the lowest-sequence entry to make room.
// The caller applies it out of order: delivery already cost the network a
// round, so the eviction sacrifices ordering, not the event itself. When the
// cursor sat at or below the evicted entry it advances past it.
func (q *authorQueue) evictSmallest() (wire.Message, bool) {
	seq, ok := q.smallest()
	if !ok {
		return wire.Message{}, false
	}
	msg := q.events[seq]
	delete(q.events, seq)
	if q.primed && q.expected <= seq {
		q.expected = seq + 1
	}
	return msg, true
}

// prime initializes the cursor from the smallest buffered sequence if it has
// not been set yet.
func (q *authorQueue) prime() {
	if q.primed {
		return
	}
	if seq, ok := q.smallest(); ok {
		q.expected = seq
		q.primed = true
	}
}

// take pops the entry the cursor points at, if buffered, and advances.
func (q *authorQueue) take() (wire.Message, bool) {
	if !q.primed {
		return wire.Message{}, false
	}
	msg, ok := q.events[q.expected]
	if !ok {
		return wire.Message{}, false
	}
	delete(q.events, q.expected)
	q.expected++
	return msg, true
}

// jump force-moves the cursor to the smallest buffered sequence. Used when
// the gap timeout elapses so that one lost message never stalls the rest of
// an author's stream.
func (q *authorQueue) jump() bool {
	seq, ok := q.smallest()
	if !ok {
		return false
	}
	q.expected = seq
	q.primed = true
	return true
}
