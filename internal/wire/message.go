package wire

import (
	"encoding/json"
	"image/color"
)

// Message types. Live drawing events carry a per-author sequence number;
// sync_* frames steer snapshot replication and are never sequenced.
const (
	TypeBegin   = "begin"   // start a stroke: Stroke, Color, Width
	TypePoints  = "points"  // extend a stroke: Stroke, Data (packed points)
	TypeEnd     = "end"     // finish a stroke: Stroke
	TypeLabel   = "label"   // place a label: Stroke (label id), Data (one packed point), Text
	TypeClear   = "clear"   // wipe the whole board
	TypeSyncReq = "sync_req" // ask the authority for a full snapshot
	TypeSyncBeg = "sync_begin"
	TypeSyncEnd = "sync_end"
	TypeWelcome = "welcome" // relay -> joiner: your author id (To) and Session
)

// Message is the single envelope every participant exchanges. The transport
// treats it as opaque; only From/To matter for routing. Broadcast frames
// leave To at zero.
type Message struct {
	Type    string  `json:"type"`
	From    uint32  `json:"from,omitempty"`
	To      uint32  `json:"to,omitempty"`
	Seq     uint64  `json:"seq,omitempty"`
	Stroke  uint32  `json:"stroke,omitempty"`
	Color   uint32  `json:"color,omitempty"`
	Width   float32 `json:"width,omitempty"`
	Data    []byte  `json:"data,omitempty"`
	Text    string  `json:"text,omitempty"`
	Bulk    bool    `json:"bulk,omitempty"`
	Session string  `json:"session,omitempty"`
}

// Live reports whether the message is a sequenced drawing event, as opposed
// to a sync or session control frame.
func (m Message) Live() bool {
	switch m.Type {
	case TypeBegin, TypePoints, TypeEnd, TypeLabel, TypeClear:
		return true
	}
	return false
}

// Marshal encodes the message for the transport.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes one transport frame.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// PackColor folds an RGBA color into the envelope's single color field.
func PackColor(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// UnpackColor is the inverse of PackColor.
func UnpackColor(v uint32) color.RGBA {
	return color.RGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}
}
