package types

import (
	"encoding/json"
	"time"
)

// Wire message types exchanged with sessions. Names match the browser client.
const (
	MessageTypePlacePixel  = "place_pixel"
	MessageTypeGetChunk    = "get_chunk"
	MessageTypePixelPlaced = "pixel_placed"
	MessageTypeCooldown    = "cooldown"
	MessageTypeChunk       = "chunk"
	MessageTypeHello       = "hello"
	MessageTypeError       = "error"
)

// Candidate is a placement request after transport decoding. Color is still
// the raw client string until validated.
type Candidate struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// Placement is an immutable accepted placement record.
// Seq is assigned by the placement log and defines acceptance order.
type Placement struct {
	Seq       int64  `json:"seq" db:"seq"`
	ID        string `json:"id" db:"id"`
	UserID    string `json:"userId" db:"user_id"`
	X         int    `json:"x" db:"x"`
	Y         int    `json:"y" db:"y"`
	Color     string `json:"color" db:"color"`
	Timestamp int64  `json:"t" db:"placed_at_ms"` // unix milliseconds
}

// Ban is a moderation record. A nil Until means the ban is permanent.
type Ban struct {
	UserID    string     `json:"userId" db:"user_id"`
	Until     *time.Time `json:"until,omitempty" db:"until_ms"`
	Reason    string     `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// ActiveAt reports whether the ban denies placements at now.
func (b *Ban) ActiveAt(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.Until == nil || b.Until.After(now)
}

// ClientMessage is the inbound session envelope. Coordinates stay as
// json.Number so non-integers can be told apart from integers.
type ClientMessage struct {
	Type  string      `json:"type"`
	X     json.Number `json:"x,omitempty"`
	Y     json.Number `json:"y,omitempty"`
	Color string      `json:"color,omitempty"`
	CX    json.Number `json:"cx,omitempty"`
	CY    json.Number `json:"cy,omitempty"`
}

// PixelPlacedEvent is broadcast to every connected session on acceptance.
type PixelPlacedEvent struct {
	Type   string `json:"type"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Color  string `json:"color"`
	UserID string `json:"userId"`
	T      int64  `json:"t"`
	Seq    int64  `json:"seq"`
}

// CooldownEvent tells the submitter how long to wait before placing again.
type CooldownEvent struct {
	Type        string `json:"type"`
	MsRemaining int64  `json:"msRemaining"`
}

// ErrorEvent is the generic failure notice. Message never carries internals.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HelloEvent is the first frame a session receives after the upgrade.
type HelloEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ChunkSize  int    `json:"chunkSize"`
	CooldownMs int64  `json:"cooldownMs"`
}

// Cell is one set cell inside a chunk snapshot.
type Cell struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// ChunkEvent carries the set cells of one CHUNK_SIZE square.
type ChunkEvent struct {
	Type  string `json:"type"`
	CX    int    `json:"cx"`
	CY    int    `json:"cy"`
	Cells []Cell `json:"cells"`
}

// NewPixelPlacedEvent builds the broadcast notice for an accepted placement.
func NewPixelPlacedEvent(p *Placement) *PixelPlacedEvent {
	return &PixelPlacedEvent{
		Type:   MessageTypePixelPlaced,
		X:      p.X,
		Y:      p.Y,
		Color:  p.Color,
		UserID: p.UserID,
		T:      p.Timestamp,
		Seq:    p.Seq,
	}
}

// NewCooldownEvent builds a cooldown notice.
func NewCooldownEvent(ms int64) *CooldownEvent {
	return &CooldownEvent{Type: MessageTypeCooldown, MsRemaining: ms}
}

// NewErrorEvent builds a generic failure notice.
func NewErrorEvent(message string) *ErrorEvent {
	return &ErrorEvent{Type: MessageTypeError, Message: message}
}

// Reservation is the result of a rate-limit test-and-set.
type Reservation struct {
	Allowed   bool
	Remaining time.Duration // wait left when not allowed
	Until     time.Time     // stored earliest-allowed time when allowed
}
