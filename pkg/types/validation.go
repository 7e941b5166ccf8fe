package types

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ColorMarker prefixes every canonical color.
const ColorMarker = "#"

var colorRegex = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// NormalizeColor validates a client color and returns its canonical form:
// leading marker, lowercase hex. Normalizing a canonical color returns it
// unchanged.
func NormalizeColor(color string) (string, error) {
	if !colorRegex.MatchString(color) {
		return "", ErrInvalidColor
	}
	return ColorMarker + strings.ToLower(strings.TrimPrefix(color, ColorMarker)), nil
}

// IsValidUserID accepts opaque identity-issued ids: 1-256 characters with no
// whitespace or control characters.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 256 {
		return false
	}
	for _, r := range userID {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ParseCoordinate converts a wire number to an int, rejecting fractions,
// exponents that produce fractions, and empty values.
func ParseCoordinate(n json.Number) (int, error) {
	if n == "" {
		return 0, ErrNonIntegerCoord
	}
	if v, err := strconv.ParseInt(string(n), 10, 32); err == nil {
		return int(v), nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int32(f)) {
		return 0, ErrNonIntegerCoord
	}
	return int(f), nil
}

// Grid describes the fixed geometry of the canvas.
type Grid struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	ChunkSize int `json:"chunkSize"`
}

// Validate checks the grid geometry.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || g.ChunkSize <= 0 {
		return ErrInvalidGridSize
	}
	return nil
}

// Contains reports whether (x, y) addresses a cell of the grid.
func (g Grid) Contains(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// ChunksX returns the number of chunk columns.
func (g Grid) ChunksX() int { return (g.Width + g.ChunkSize - 1) / g.ChunkSize }

// ChunksY returns the number of chunk rows.
func (g Grid) ChunksY() int { return (g.Height + g.ChunkSize - 1) / g.ChunkSize }

// ChunkOf returns the chunk indices holding (x, y).
func (g Grid) ChunkOf(x, y int) (cx, cy int) {
	return x / g.ChunkSize, y / g.ChunkSize
}

// ContainsChunk reports whether (cx, cy) addresses a chunk of the grid.
func (g Grid) ContainsChunk(cx, cy int) bool {
	return cx >= 0 && cx < g.ChunksX() && cy >= 0 && cy < g.ChunksY()
}

// ValidateCandidate checks bounds and color and returns the candidate with
// its color canonicalized.
func (g Grid) ValidateCandidate(c Candidate) (Candidate, error) {
	if !g.Contains(c.X, c.Y) {
		return Candidate{}, ErrOutOfBounds
	}
	color, err := NormalizeColor(c.Color)
	if err != nil {
		return Candidate{}, err
	}
	c.Color = color
	return c, nil
}

// Candidate decodes a place_pixel envelope into a Candidate.
func (m *ClientMessage) Candidate() (Candidate, error) {
	if m.Type != MessageTypePlacePixel {
		return Candidate{}, ErrInvalidMessageType
	}
	x, err := ParseCoordinate(m.X)
	if err != nil {
		return Candidate{}, err
	}
	y, err := ParseCoordinate(m.Y)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{X: x, Y: y, Color: m.Color}, nil
}

// Chunk decodes a get_chunk envelope into chunk indices.
func (m *ClientMessage) Chunk() (cx, cy int, err error) {
	if m.Type != MessageTypeGetChunk {
		return 0, 0, ErrInvalidMessageType
	}
	if cx, err = ParseCoordinate(m.CX); err != nil {
		return 0, 0, err
	}
	if cy, err = ParseCoordinate(m.CY); err != nil {
		return 0, 0, err
	}
	return cx, cy, nil
}
