package wire

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointRoundTripBound(t *testing.T) {
	// Quantization error stays within one step per axis across the whole
	// unit square.
	rng := rand.New(rand.NewSource(42))
	pts := []Point{
		{X: 0, Y: 0},
		{X: 1, Y: 1},
		{X: 0.5, Y: 0.5},
		{X: 1.0 / 65535, Y: 65534.0 / 65535},
	}
	for i := 0; i < 200; i++ {
		pts = append(pts, Point{X: rng.Float32(), Y: rng.Float32()})
	}

	got := DecodePoints(EncodePoints(pts, 0, len(pts)))
	require.Len(t, got, len(pts))
	const bound = 1.0 / 65535
	for i, p := range pts {
		assert.InDelta(t, p.X, got[i].X, bound, "point %d x", i)
		assert.InDelta(t, p.Y, got[i].Y, bound, "point %d y", i)
	}
}

func TestEncodeClampsOutOfRange(t *testing.T) {
	got := DecodePoints(EncodePoints([]Point{
		{X: -0.5, Y: 1.5},
		{X: float32(math.Inf(-1)), Y: float32(math.Inf(1))},
	}, 0, 2))
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, float32(0), p.X)
		assert.Equal(t, float32(1), p.Y)
	}
}

func TestEncodeSubRange(t *testing.T) {
	pts := []Point{{X: 0.1}, {X: 0.2}, {X: 0.3}, {X: 0.4}}
	buf := EncodePoints(pts, 1, 2)
	require.Len(t, buf, 2*PointBytes)

	got := DecodePoints(buf)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.2, got[0].X, 1.0/65535)
	assert.InDelta(t, 0.3, got[1].X, 1.0/65535)
}

func TestDecodeIgnoresTrailingPartial(t *testing.T) {
	buf := EncodePoints([]Point{{X: 0.5, Y: 0.5}, {X: 0.25, Y: 0.75}}, 0, 2)
	for extra := 1; extra < PointBytes; extra++ {
		got := DecodePoints(append(append([]byte(nil), buf...), make([]byte, extra)...))
		assert.Len(t, got, 2, "trailing %d bytes must be ignored", extra)
	}

	assert.Nil(t, DecodePoints(nil))
	assert.Nil(t, DecodePoints([]byte{1, 2, 3}))
}

func TestLittleEndianLayout(t *testing.T) {
	// One full-range point: x=0 encodes as 0x0000, y=1 as 0xFFFF, each
	// low byte first.
	buf := EncodePoints([]Point{{X: 0, Y: 1}}, 0, 1)
	require.Equal(t, []byte{0x00, 0x00, 0xff, 0xff}, buf)
}

func TestChunkPointsRespectsBudget(t *testing.T) {
	cases := []struct {
		name     string
		total    int
		maxBytes int
		want     []Chunk
	}{
		{"even split", 8, 16, []Chunk{{0, 4}, {4, 4}}},
		{"remainder", 10, 16, []Chunk{{0, 4}, {4, 4}, {8, 2}}},
		{"single chunk", 3, 240, []Chunk{{0, 3}}},
		{"budget below one point", 3, 2, []Chunk{{0, 1}, {1, 1}, {2, 1}}},
		{"zero points", 0, 240, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ChunkPoints(tc.total, tc.maxBytes))
		})
	}
}
