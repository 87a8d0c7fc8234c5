package board

// pendingStroke buffers stroke traffic that arrived before its begin event.
// Gap skipping can release an author's events out of order relative to each
// other, so points and even the end may land first; they wait here and are
// replayed the moment the begin shows up. Destroyed when the stroke is
// confirmed or on ClearAll: a clear means the drawing it belonged to no
// longer exists, so a later begin starts from nothing.
type pendingStroke struct {
	points []Point
	ended  bool
	maxSeq uint64
	seen   map[uint64]struct{}
}

func (p *pendingStroke) stale(seq uint64) bool {
	_, dup := p.seen[seq]
	return dup
}

func (p *pendingStroke) noteSeq(seq uint64) {
	if p.seen == nil {
		p.seen = make(map[uint64]struct{})
	}
	p.seen[seq] = struct{}{}
	if seq > p.maxSeq {
		p.maxSeq = seq
	}
}
