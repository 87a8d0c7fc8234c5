package board

import (
	"image/color"
	"time"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

// Point is the normalized board coordinate shared with the wire codec.
type Point = wire.Point

// AuthorID names one participant. Every author numbers its own events with a
// private monotonic sequence, so ids from different authors never compete.
type AuthorID uint32

// StrokeKey uniquely names a stroke. The Stroke number comes from the
// author's own counter; two authors may reuse the same number without
// collision.
type StrokeKey struct {
	Author AuthorID
	Stroke uint32
}

// LabelKey uniquely names a label, mirroring StrokeKey. Labels draw their
// ids from the same per-author object counter as strokes.
type LabelKey struct {
	Author AuthorID
	Label  uint32
}

// Style is the pen state captured at stroke begin.
type Style struct {
	Color color.RGBA
	Width float32 // pixels
}

// Stroke is a read-only copy of one stored stroke record.
type Stroke struct {
	Key    StrokeKey
	Style  Style
	Points []Point
	Closed bool
}

// Label is a read-only copy of one stored label record.
type Label struct {
	Key  LabelKey
	Pos  Point
	Text string
}

// Options bound the reconciliation state. Zero values pick the defaults.
type Options struct {
	// ReorderCap is the per-author cap on buffered out-of-order events.
	// Exceeding it evicts the smallest-sequence entry, trading strict
	// order for bounded memory.
	ReorderCap int
	// GapTimeout is how long a missing sequence number may stall an
	// author's stream before it is skipped.
	GapTimeout time.Duration
}

const (
	DefaultReorderCap = 128
	DefaultGapTimeout = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ReorderCap <= 0 {
		o.ReorderCap = DefaultReorderCap
	}
	if o.GapTimeout <= 0 {
		o.GapTimeout = DefaultGapTimeout
	}
	return o
}
