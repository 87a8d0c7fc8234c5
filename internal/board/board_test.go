package board

import (
	"fmt"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kim-hyun-hee/Remote-Sync-Lab/internal/wire"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// pt builds a point that survives wire quantization exactly, so decoded
// values compare equal to the originals.
func pt(k uint16) wire.Point {
	return wire.Point{X: float32(k) / 65535, Y: float32(k) / 65535}
}

func beginMsg(author uint32, seq uint64, stroke uint32, c color.RGBA, width float32) wire.Message {
	return wire.Message{Type: wire.TypeBegin, From: author, Seq: seq, Stroke: stroke, Color: wire.PackColor(c), Width: width}
}

func pointsMsg(author uint32, seq uint64, stroke uint32, pts ...wire.Point) wire.Message {
	return wire.Message{Type: wire.TypePoints, From: author, Seq: seq, Stroke: stroke, Data: wire.EncodePoints(pts, 0, len(pts))}
}

func endMsg(author uint32, seq uint64, stroke uint32) wire.Message {
	return wire.Message{Type: wire.TypeEnd, From: author, Seq: seq, Stroke: stroke}
}

func labelMsg(author uint32, seq uint64, id uint32, pos wire.Point, text string) wire.Message {
	return wire.Message{Type: wire.TypeLabel, From: author, Seq: seq, Stroke: id, Data: wire.EncodePoints([]wire.Point{pos}, 0, 1), Text: text}
}

func clearMsg(author uint32, seq uint64) wire.Message {
	return wire.Message{Type: wire.TypeClear, From: author, Seq: seq}
}

// recConsumer records every render call: a compact op log for order
// assertions plus the flattened per-stroke point feed.
type recConsumer struct {
	ops    []string
	points map[StrokeKey][]Point
}

func newRecConsumer() *recConsumer {
	return &recConsumer{points: make(map[StrokeKey][]Point)}
}

func (r *recConsumer) BeginStroke(key StrokeKey, style Style) {
	r.ops = append(r.ops, fmt.Sprintf("begin %d/%d", key.Author, key.Stroke))
}

func (r *recConsumer) AddPoints(key StrokeKey, pts []Point) {
	r.ops = append(r.ops, fmt.Sprintf("points %d/%d n=%d", key.Author, key.Stroke, len(pts)))
	r.points[key] = append(r.points[key], pts...)
}

func (r *recConsumer) EndStroke(key StrokeKey) {
	r.ops = append(r.ops, fmt.Sprintf("end %d/%d", key.Author, key.Stroke))
}

func (r *recConsumer) AddLabel(key LabelKey, pos Point, text string) {
	r.ops = append(r.ops, fmt.Sprintf("label %d/%d %q", key.Author, key.Label, text))
}

func (r *recConsumer) ClearAll()  { r.ops = append(r.ops, "clear") }
func (r *recConsumer) BeginBulk() { r.ops = append(r.ops, "bulk+") }
func (r *recConsumer) EndBulk()   { r.ops = append(r.ops, "bulk-") }

func testBoard(t *testing.T, opts Options) (*Board, *recConsumer) {
	t.Helper()
	rec := newRecConsumer()
	return New(rec, opts), rec
}

var t0 = time.Unix(1000, 0)

func TestInOrderStroke(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 3), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(10), pt(20)), t0)
	b.ApplyLive(endMsg(1, 3, 7), t0)

	require.Equal(t, []string{"begin 1/7", "points 1/7 n=2", "end 1/7"}, rec.ops)

	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, StrokeKey{Author: 1, Stroke: 7}, strokes[0].Key)
	assert.Equal(t, red, strokes[0].Style.Color)
	assert.Equal(t, float32(3), strokes[0].Style.Width)
	assert.Equal(t, []Point{pt(10), pt(20)}, strokes[0].Points)
	assert.True(t, strokes[0].Closed)
}

func TestOutOfOrderPointsReleasedInSequence(t *testing.T) {
	// Begin(seq=1) applied, then seq=3 arrives before seq=2. The consumer
	// must see seq=2's payload before seq=3's.
	b, rec := testBoard(t, Options{})
	key := StrokeKey{Author: 1, Stroke: 7}

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 3, 7, pt(10), pt(20)), t0)
	require.Equal(t, []string{"begin 1/7"}, rec.ops, "seq 3 must wait for seq 2")

	b.ApplyLive(pointsMsg(1, 2, 7, pt(30)), t0)
	require.Equal(t, []string{
		"begin 1/7",
		"points 1/7 n=1",
		"points 1/7 n=2",
	}, rec.ops)
	assert.Equal(t, []Point{pt(30), pt(10), pt(20)}, rec.points[key])
}

func TestLateBeginFlushesPendingInArrivalOrder(t *testing.T) {
	// Points(seq=5) and End(seq=6) arrive before Begin(seq=4). The first
	// observed sequence becomes the baseline, so the begin sits below the
	// cursor until the gap timeout releases it; the consumer must then see
	// begin, points, end, in that order.
	b, rec := testBoard(t, Options{GapTimeout: 2 * time.Second})
	key := StrokeKey{Author: 1, Stroke: 9}

	b.ApplyLive(pointsMsg(1, 5, 9, pt(40)), t0)
	b.ApplyLive(endMsg(1, 6, 9), t0)
	require.Empty(t, rec.ops, "nothing may render before the begin")
	require.Equal(t, 0, b.History().NumStrokes())

	b.ApplyLive(beginMsg(1, 4, 9, blue, 1), t0.Add(100*time.Millisecond))
	require.Empty(t, rec.ops, "stale begin waits for the gap timeout")

	b.TickGaps(t0.Add(3 * time.Second))
	require.Equal(t, []string{"begin 1/9", "points 1/9 n=1", "end 1/9"}, rec.ops)
	assert.Equal(t, []Point{pt(40)}, rec.points[key])

	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.True(t, strokes[0].Closed)
	assert.Equal(t, blue, strokes[0].Style.Color)
}

func TestClearDropsPendingStrokes(t *testing.T) {
	// A clear arrives while buffered points wait for their begin. The begin
	// that finally shows up starts a fresh, empty stroke.
	b, rec := testBoard(t, Options{})

	b.ApplyLive(pointsMsg(2, 2, 5, pt(11), pt(12)), t0)
	b.ApplyLive(clearMsg(1, 1), t0)
	require.Equal(t, []string{"clear"}, rec.ops)

	b.ApplyLive(beginMsg(2, 1, 5, red, 2), t0)
	require.Equal(t, []string{"clear", "begin 2/5"}, rec.ops, "buffered points must not resurrect")

	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Empty(t, strokes[0].Points)
	assert.False(t, strokes[0].Closed)
}

func TestOrderConvergenceAcrossPermutations(t *testing.T) {
	// Any delivery permutation of a valid stroke sequence converges to the
	// send order once everything arrives, with no timeout involved, as long
	// as the stream's first event is observed first (it sets the baseline).
	a, bp, c := pt(1), pt(2), pt(3)
	rest := []wire.Message{
		pointsMsg(1, 2, 7, a),
		pointsMsg(1, 3, 7, bp),
		pointsMsg(1, 4, 7, c),
		endMsg(1, 5, 7),
	}
	key := StrokeKey{Author: 1, Stroke: 7}

	for _, perm := range permutations(len(rest)) {
		b, rec := testBoard(t, Options{})
		b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
		for _, i := range perm {
			b.ApplyLive(rest[i], t0)
		}

		require.Equal(t, []Point{a, bp, c}, rec.points[key], "permutation %v", perm)
		require.Equal(t, "end 1/7", rec.ops[len(rec.ops)-1], "permutation %v", perm)

		strokes := b.History().Strokes()
		require.Len(t, strokes, 1)
		require.Equal(t, []Point{a, bp, c}, strokes[0].Points, "permutation %v", perm)
		require.True(t, strokes[0].Closed)
	}
}

// permutations enumerates all orderings of [0..n).
func permutations(n int) [][]int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	var walk func(k int)
	walk = func(k int) {
		if k == n {
			out = append(out, append([]int(nil), idx...))
			return
		}
		for i := k; i < n; i++ {
			idx[k], idx[i] = idx[i], idx[k]
			walk(k + 1)
			idx[k], idx[i] = idx[i], idx[k]
		}
	}
	walk(0)
	return out
}

func TestGapSkipLiveness(t *testing.T) {
	// Seq 3 is lost forever. Later events stall only until the timeout,
	// then everything after the hole applies in order.
	b, rec := testBoard(t, Options{GapTimeout: 2 * time.Second})
	key := StrokeKey{Author: 1, Stroke: 7}

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(1)), t0)
	b.ApplyLive(pointsMsg(1, 4, 7, pt(2)), t0)
	b.ApplyLive(endMsg(1, 5, 7), t0.Add(50*time.Millisecond))

	b.TickGaps(t0.Add(1 * time.Second))
	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1"}, rec.ops, "gap must not skip early")

	b.TickGaps(t0.Add(2 * time.Second))
	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1", "points 1/7 n=1", "end 1/7"}, rec.ops)
	assert.Equal(t, []Point{pt(1), pt(2)}, rec.points[key])
	assert.True(t, b.History().Strokes()[0].Closed)
}

func TestGapTimerRestartsAfterPartialDrain(t *testing.T) {
	// Two holes: skipping the first must not also skip the second before
	// its own timeout elapses.
	b, rec := testBoard(t, Options{GapTimeout: 2 * time.Second})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 3, 7, pt(1)), t0) // hole at 2
	b.ApplyLive(pointsMsg(1, 5, 7, pt(2)), t0) // hole at 4

	b.TickGaps(t0.Add(2 * time.Second))
	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1"}, rec.ops, "only the first hole is skipped")

	b.TickGaps(t0.Add(3 * time.Second))
	require.Len(t, rec.ops, 2, "second hole still inside its timeout window")

	b.TickGaps(t0.Add(4 * time.Second))
	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1", "points 1/7 n=1"}, rec.ops)
}

func TestRedeliveredStreamIsIdempotent(t *testing.T) {
	// The transport may deliver everything twice. The second pass sits
	// below the cursor until the gap skip releases it, and every event is
	// then dropped against the stored record.
	b, rec := testBoard(t, Options{GapTimeout: time.Second})

	stream := []wire.Message{
		beginMsg(1, 1, 7, red, 2),
		pointsMsg(1, 2, 7, pt(10)),
		endMsg(1, 3, 7),
	}
	for _, m := range stream {
		b.ApplyLive(m, t0)
	}
	want := append([]string(nil), rec.ops...)

	for _, m := range stream {
		b.ApplyLive(m, t0.Add(time.Second))
	}
	b.TickGaps(t0.Add(5 * time.Second))

	assert.Equal(t, want, rec.ops, "redelivery must not render")
	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, []Point{pt(10)}, strokes[0].Points)
}

func TestDuplicateSeqDroppedWhileBuffered(t *testing.T) {
	// A duplicate of a still-buffered sequence is discarded outright; the
	// first-received payload wins.
	b, rec := testBoard(t, Options{})
	key := StrokeKey{Author: 1, Stroke: 7}

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 3, 7, pt(7)), t0)
	b.ApplyLive(pointsMsg(1, 3, 7, pt(9)), t0) // duplicate seq, different payload
	b.ApplyLive(pointsMsg(1, 2, 7, pt(5)), t0)

	require.Equal(t, []Point{pt(5), pt(7)}, rec.points[key])
}

func TestReorderCapEvictsSmallestButStillApplies(t *testing.T) {
	// With the buffer full, the smallest entry is applied out of order
	// instead of being thrown away, and the cursor advances past it.
	b, rec := testBoard(t, Options{ReorderCap: 2})
	key := StrokeKey{Author: 1, Stroke: 7}

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 3, 7, pt(1)), t0)
	b.ApplyLive(pointsMsg(1, 4, 7, pt(2)), t0)
	require.Equal(t, []string{"begin 1/7"}, rec.ops)

	// Third buffered entry overflows the cap of two: seq 3 is evicted,
	// applied, and the cursor jumps past it, draining 4 then 5.
	b.ApplyLive(pointsMsg(1, 5, 7, pt(3)), t0)
	require.Equal(t, []Point{pt(1), pt(2), pt(3)}, rec.points[key])
}

func TestSecondBeginRefreshesStyleOnly(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(10)), t0)
	b.ApplyLive(beginMsg(1, 3, 7, blue, 5), t0)

	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1", "begin 1/7"}, rec.ops)
	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, blue, strokes[0].Style.Color, "style refreshed")
	assert.Equal(t, float32(5), strokes[0].Style.Width)
	assert.Equal(t, []Point{pt(10)}, strokes[0].Points, "point history untouched")
}

func TestStaleBeginForCompletedStrokeIsNoOp(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLocal(beginMsg(1, 1, 7, red, 2))
	b.ApplyLocal(endMsg(1, 2, 7))
	b.ApplyLocal(beginMsg(1, 1, 7, blue, 9)) // redelivered stale begin

	require.Equal(t, []string{"begin 1/7", "end 1/7"}, rec.ops)
	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, red, strokes[0].Style.Color, "completed stroke never reopens")
}

func TestAuthorsAreIndependent(t *testing.T) {
	// Same stroke number, different authors: two records. Sequence spaces
	// never interact, and an author observed mid-stream baselines at its
	// first-seen sequence.
	b, rec := testBoard(t, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(beginMsg(2, 40, 7, blue, 1), t0)
	b.ApplyLive(pointsMsg(2, 41, 7, pt(3)), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(4)), t0)

	require.Equal(t, []string{"begin 1/7", "begin 2/7", "points 2/7 n=1", "points 1/7 n=1"}, rec.ops)
	require.Equal(t, 2, b.History().NumStrokes())
}

func TestLabelsDedupByCompositeKey(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLive(labelMsg(1, 1, 3, pt(100), "pump A"), t0)
	b.ApplyLive(labelMsg(2, 9, 3, pt(200), "valve"), t0)

	// Redelivered label: same author and id, dropped on the key.
	b.ApplyLocal(labelMsg(1, 1, 3, pt(100), "pump A"))

	require.Equal(t, []string{`label 1/3 "pump A"`, `label 2/3 "valve"`}, rec.ops)
	labels := b.History().Labels()
	require.Len(t, labels, 2)
	assert.Equal(t, pt(100), labels[0].Pos)
	assert.Equal(t, "pump A", labels[0].Text)
	assert.Equal(t, LabelKey{Author: 2, Label: 3}, labels[1].Key)
}

func TestClearWipesEverything(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(1)), t0)
	b.ApplyLive(labelMsg(1, 3, 8, pt(2), "note"), t0)
	b.ApplyLive(clearMsg(2, 50), t0)

	assert.Equal(t, 0, b.History().NumStrokes())
	assert.Equal(t, 0, b.History().NumLabels())
	assert.Equal(t, "clear", rec.ops[len(rec.ops)-1])

	// The same stroke key may be drawn again from scratch.
	b.ApplyLive(beginMsg(1, 4, 7, blue, 1), t0)
	strokes := b.History().Strokes()
	require.Len(t, strokes, 1)
	assert.Empty(t, strokes[0].Points)
	assert.Equal(t, blue, strokes[0].Style.Color)
}

func TestShortPointPayloadIgnored(t *testing.T) {
	b, rec := testBoard(t, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(wire.Message{Type: wire.TypePoints, From: 1, Seq: 2, Stroke: 7, Data: []byte{1, 2}}, t0)
	b.ApplyLive(wire.Message{Type: wire.TypePoints, From: 1, Seq: 3, Stroke: 7}, t0)

	require.Equal(t, []string{"begin 1/7"}, rec.ops, "undecodable payloads render nothing")
	assert.Empty(t, b.History().Strokes()[0].Points)
}

func TestNilConsumerStillBuildsHistory(t *testing.T) {
	// Events absorbed before a renderer is attached are not lost: history
	// stays the source of truth and a replay reproduces the full picture.
	b := New(nil, Options{})

	b.ApplyLive(beginMsg(1, 1, 7, red, 2), t0)
	b.ApplyLive(pointsMsg(1, 2, 7, pt(1), pt(2)), t0)
	b.ApplyLive(endMsg(1, 3, 7), t0)
	b.ApplyLive(labelMsg(1, 4, 8, pt(3), "late"), t0)

	require.Equal(t, 1, b.History().NumStrokes())
	require.Equal(t, 1, b.History().NumLabels())

	rec := newRecConsumer()
	b.Replay(rec)
	require.Equal(t, []string{
		"bulk+",
		`label 1/8 "late"`,
		"begin 1/7",
		"points 1/7 n=2",
		"end 1/7",
		"bulk-",
	}, rec.ops)
}

func TestLocalApplyBypassesReordering(t *testing.T) {
	// A sender's own events are in order by construction and take effect
	// immediately, without waiting in the reorder buffer.
	b, rec := testBoard(t, Options{})

	b.ApplyLocal(beginMsg(1, 10, 7, red, 2))
	b.ApplyLocal(pointsMsg(1, 11, 7, pt(1)))
	require.Equal(t, []string{"begin 1/7", "points 1/7 n=1"}, rec.ops)
}
