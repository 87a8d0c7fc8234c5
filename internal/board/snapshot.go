package board

import (
	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// EnterBulk starts snapshot application: the consumer is told a bulk
// rebuild is coming, the entire local state is wiped, and live traffic is
// suppressed until ExitBulk. The snapshot that follows is the new truth.
func (b *Board) EnterBulk() {
	b.consumer.BeginBulk()
	b.applyClear()
	b.bulk = true
}

// ApplyBulk applies one snapshot frame. Frames arrive in the exact order
// the authority emitted them and each describes state, not an event, so
// they bypass the reorder buffer and the staleness gates.
func (b *Board) ApplyBulk(msg wire.Message) {
	if !b.bulk || !msg.Live() {
		return
	}
	b.apply(msg)
}

// ExitBulk ends snapshot application and re-admits live traffic.
func (b *Board) ExitBulk() {
	if !b.bulk {
		return
	}
	b.bulk = false
	b.consumer.EndBulk()
}

// EmitSnapshot streams this board's full history as a sequence of bulk
// frames addressed to one requester: labels first, then strokes, in
// storage order. Stroke points are split so no single frame's payload
// exceeds chunkBytes. Begin frames carry the record's sequence watermark
// so the receiver can discard stale redeliveries after the rebuild. emit is
// called once per frame; its first error aborts the stream.
func (b *Board) EmitSnapshot(to AuthorID, chunkBytes int, emit func(wire.Message) error) error {
	for _, lab := range b.history.labels {
		msg := wire.Message{
			Type:   wire.TypeLabel,
			From:   uint32(lab.key.Author),
			To:     uint32(to),
			Stroke: lab.key.Label,
			Data:   wire.EncodePoints([]wire.Point{lab.pos}, 0, 1),
			Text:   lab.text,
			Bulk:   true,
		}
		if err := emit(msg); err != nil {
			return err
		}
	}

	for _, key := range b.history.order {
		rec := b.history.strokes[key]
		begin := wire.Message{
			Type:   wire.TypeBegin,
			From:   uint32(key.Author),
			To:     uint32(to),
			Seq:    rec.maxSeq,
			Stroke: key.Stroke,
			Color:  wire.PackColor(rec.style.Color),
			Width:  rec.style.Width,
			Bulk:   true,
		}
		if err := emit(begin); err != nil {
			return err
		}
		for _, ch := range wire.ChunkPoints(len(rec.points), chunkBytes) {
			pts := wire.Message{
				Type:   wire.TypePoints,
				From:   uint32(key.Author),
				To:     uint32(to),
				Stroke: key.Stroke,
				Data:   wire.EncodePoints(rec.points, ch.Start, ch.Count),
				Bulk:   true,
			}
			if err := emit(pts); err != nil {
				return err
			}
		}
		if rec.closed {
			end := wire.Message{
				Type:   wire.TypeEnd,
				From:   uint32(key.Author),
				To:     uint32(to),
				Stroke: key.Stroke,
				Bulk:   true,
			}
			if err := emit(end); err != nil {
				return err
			}
		}
	}
	return nil
}

// Replay walks the stored history into a consumer inside a bulk bracket.
// Exports and freshly attached renderers use this to catch up without
// touching the wire.
func (b *Board) Replay(c RenderConsumer) {
	if c == nil {
		return
	}
	c.BeginBulk()
	for _, lab := range b.history.labels {
		c.AddLabel(lab.key, lab.pos, lab.text)
	}
	for _, key := range b.history.order {
		rec := b.history.strokes[key]
		c.BeginStroke(key, rec.style)
		if len(rec.points) > 0 {
			c.AddPoints(key, append([]Point(nil), rec.points...))
		}
		if rec.closed {
			c.EndStroke(key)
		}
	}
	c.EndBulk()
}
