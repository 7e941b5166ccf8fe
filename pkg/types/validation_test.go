package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"with marker", "#ff0000", "#ff0000", nil},
		{"without marker", "00ff00", "#00ff00", nil},
		{"uppercase folded", "#ABCdef", "#abcdef", nil},
		{"too short", "#fff", "", ErrInvalidColor},
		{"too long", "#ff00000", "", ErrInvalidColor},
		{"not hex", "#gg0000", "", ErrInvalidColor},
		{"double marker", "##ff0000", "", ErrInvalidColor},
		{"empty", "", "", ErrInvalidColor},
		{"css name", "red", "", ErrInvalidColor},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeColor(tc.input)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Normalizing an already-normalized color yields the same value as
// normalizing the bare hex digits.
func TestNormalizeColor_Idempotent(t *testing.T) {
	for _, raw := range []string{"a1b2c3", "FFFFFF", "000000", "#123abc"} {
		once, err := NormalizeColor(raw)
		require.NoError(t, err)
		twice, err := NormalizeColor(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, raw)
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		input   json.Number
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"-1", -1, false},
		{"1e2", 100, false},
		{"1.5", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.input), func(t *testing.T) {
			got, err := ParseCoordinate(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNonIntegerCoord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGrid_ValidateCandidate(t *testing.T) {
	g := Grid{Width: 10, Height: 10, ChunkSize: 4}

	c, err := g.ValidateCandidate(Candidate{X: 9, Y: 0, Color: "ABCDEF"})
	require.NoError(t, err)
	assert.Equal(t, "#abcdef", c.Color)

	_, err = g.ValidateCandidate(Candidate{X: 10, Y: 0, Color: "#abcdef"})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = g.ValidateCandidate(Candidate{X: 0, Y: -1, Color: "#abcdef"})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = g.ValidateCandidate(Candidate{X: 1, Y: 1, Color: "blue"})
	assert.ErrorIs(t, err, ErrInvalidColor)
}

func TestGrid_Chunks(t *testing.T) {
	g := Grid{Width: 10, Height: 7, ChunkSize: 4}
	assert.Equal(t, 3, g.ChunksX())
	assert.Equal(t, 2, g.ChunksY())

	cx, cy := g.ChunkOf(9, 4)
	assert.Equal(t, 2, cx)
	assert.Equal(t, 1, cy)

	assert.True(t, g.ContainsChunk(2, 1))
	assert.False(t, g.ContainsChunk(3, 0))
	assert.False(t, g.ContainsChunk(0, -1))

	assert.ErrorIs(t, Grid{Width: 1, Height: 1}.Validate(), ErrInvalidGridSize)
	assert.NoError(t, g.Validate())
}

func TestClientMessage_Decode(t *testing.T) {
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"place_pixel","x":3,"y":4,"color":"#00ff00"}`), &msg))
	c, err := msg.Candidate()
	require.NoError(t, err)
	assert.Equal(t, Candidate{X: 3, Y: 4, Color: "#00ff00"}, c)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"place_pixel","x":3.5,"y":4,"color":"#00ff00"}`), &msg))
	_, err = msg.Candidate()
	assert.ErrorIs(t, err, ErrNonIntegerCoord)

	var chunkMsg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"get_chunk","cx":1,"cy":2}`), &chunkMsg))
	cx, cy, err := chunkMsg.Chunk()
	require.NoError(t, err)
	assert.Equal(t, 1, cx)
	assert.Equal(t, 2, cy)

	_, err = chunkMsg.Candidate()
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("u1"))
	assert.True(t, IsValidUserID("dev_616c696365406578616d706c652e636f6d"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("has space"))
	assert.False(t, IsValidUserID("tab\tid"))
}

func TestBan_ActiveAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	var none *Ban
	assert.False(t, none.ActiveAt(now))
	assert.True(t, (&Ban{UserID: "u"}).ActiveAt(now), "permanent ban")
	assert.True(t, (&Ban{UserID: "u", Until: &future}).ActiveAt(now))
	assert.False(t, (&Ban{UserID: "u", Until: &past}).ActiveAt(now))
	assert.False(t, (&Ban{UserID: "u", Until: &now}).ActiveAt(now), "expiry equal to now is lifted")
}
