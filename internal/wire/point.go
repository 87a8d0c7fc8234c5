package wire

import "math"

// Point is a normalized board coordinate. Both axes live in [0,1]; anything
// outside is clamped when encoded.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// PointBytes is the encoded size of one point on the wire: two little-endian
// 16-bit quantized coordinates.
const PointBytes = 4

const quantSteps = 65535 // per-axis quantization range, 0..65535

func quantize(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return quantSteps
	}
	return uint16(math.Round(float64(v) * quantSteps))
}

func dequantize(q uint16) float32 {
	return float32(q) / quantSteps
}

// EncodePoints packs count points starting at offset into count*4 bytes.
// Layout per point: x lo, x hi, y lo, y hi.
func EncodePoints(points []Point, offset, count int) []byte {
	buf := make([]byte, 0, count*PointBytes)
	for i := offset; i < offset+count; i++ {
		qx := quantize(points[i].X)
		qy := quantize(points[i].Y)
		buf = append(buf, byte(qx), byte(qx>>8), byte(qy), byte(qy>>8))
	}
	return buf
}

// DecodePoints unpacks as many whole points as the payload holds. Trailing
// partial bytes are ignored, never an error.
func DecodePoints(data []byte) []Point {
	n := len(data) / PointBytes
	if n == 0 {
		return nil
	}
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		off := i * PointBytes
		qx := uint16(data[off]) | uint16(data[off+1])<<8
		qy := uint16(data[off+2]) | uint16(data[off+3])<<8
		points[i] = Point{X: dequantize(qx), Y: dequantize(qy)}
	}
	return points
}

// Chunk is one slice of a point range: Count points starting at Start.
type Chunk struct {
	Start int
	Count int
}

// ChunkPoints partitions a range of total points into consecutive chunks
// whose encoded size stays within maxBytes. A budget below one point still
// yields one point per chunk so progress is always possible.
func ChunkPoints(total, maxBytes int) []Chunk {
	if total <= 0 {
		return nil
	}
	per := maxBytes / PointBytes
	if per < 1 {
		per = 1
	}
	chunks := make([]Chunk, 0, (total+per-1)/per)
	for start := 0; start < total; start += per {
		count := per
		if start+count > total {
			count = total - start
		}
		chunks = append(chunks, Chunk{Start: start, Count: count})
	}
	return chunks
}
