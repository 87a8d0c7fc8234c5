package board

// strokeRecord is the mutable stored form of one stroke. Records are owned
// by the history map and mutated in place; nothing copies them out to write
// them back.
type strokeRecord struct {
	key    StrokeKey
	style  Style
	points []Point
	closed bool

	// Sequence bookkeeping keeps redelivered events idempotent. baseSeq is
	// the floor installed by a snapshot: anything at or below it was already
	// part of the replicated state. seen tracks live sequences applied while
	// the stroke is open and is released on close, when the closed flag
	// takes over.
	baseSeq uint64
	maxSeq  uint64
	seen    map[uint64]struct{}
}

func (r *strokeRecord) stale(seq uint64) bool {
	if seq <= r.baseSeq {
		return true
	}
	_, dup := r.seen[seq]
	return dup
}

func (r *strokeRecord) noteSeq(seq uint64) {
	if r.seen == nil {
		r.seen = make(map[uint64]struct{})
	}
	r.seen[seq] = struct{}{}
	if seq > r.maxSeq {
		r.maxSeq = seq
	}
}

type labelRecord struct {
	key  LabelKey
	pos  Point
	text string
}

// History is the append-only replicated log every participant maintains
// independently. Senders apply their own mutations here too, so stores
// converge once the same events have been delivered everywhere. It is the
// sole source for snapshot replication; live rendering never reads it back.
type History struct {
	strokes map[StrokeKey]*strokeRecord
	order   []StrokeKey
	labels  []labelRecord
	placed  map[LabelKey]struct{}
}

func newHistory() *History {
	return &History{
		strokes: make(map[StrokeKey]*strokeRecord),
		placed:  make(map[LabelKey]struct{}),
	}
}

// addStroke creates a record in storage order. The caller must have checked
// that the key is not present.
func (h *History) addStroke(key StrokeKey, style Style) *strokeRecord {
	rec := &strokeRecord{key: key, style: style}
	h.strokes[key] = rec
	h.order = append(h.order, key)
	return rec
}

func (h *History) stroke(key StrokeKey) *strokeRecord {
	return h.strokes[key]
}

// addLabel appends a label unless that key was already placed. Labels are
// append-only and only ClearAll removes them.
func (h *History) addLabel(key LabelKey, pos Point, text string) bool {
	if _, dup := h.placed[key]; dup {
		return false
	}
	h.labels = append(h.labels, labelRecord{key: key, pos: pos, text: text})
	h.placed[key] = struct{}{}
	return true
}

func (h *History) clear() {
	h.strokes = make(map[StrokeKey]*strokeRecord)
	h.order = nil
	h.labels = nil
	h.placed = make(map[LabelKey]struct{})
}

// NumStrokes reports how many stroke records are stored.
func (h *History) NumStrokes() int { return len(h.order) }

// NumLabels reports how many label records are stored.
func (h *History) NumLabels() int { return len(h.labels) }

// Strokes returns copies of all stroke records in storage order.
func (h *History) Strokes() []Stroke {
	out := make([]Stroke, 0, len(h.order))
	for _, key := range h.order {
		rec := h.strokes[key]
		pts := make([]Point, len(rec.points))
		copy(pts, rec.points)
		out = append(out, Stroke{Key: rec.key, Style: rec.style, Points: pts, Closed: rec.closed})
	}
	return out
}

// Labels returns copies of all label records in storage order.
func (h *History) Labels() []Label {
	out := make([]Label, 0, len(h.labels))
	for _, l := range h.labels {
		out = append(out, Label{Key: l.key, Pos: l.pos, Text: l.text})
	}
	return out
}
