// Package grid holds the visible state of the canvas: the last accepted
// color per cell. It is a cache derived from the placement log and can be
// rebuilt from it at any time.
package grid

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// Store is the in-memory grid cache. Cells are grouped by chunk and each
// chunk has its own lock, so writers to different chunks never contend.
type Store struct {
	grid   types.Grid
	chunks []chunk
}

type chunk struct {
	mu    sync.RWMutex
	cells map[int]cell // local index (ly*chunkSize + lx) -> cell
}

type cell struct {
	rgb uint32
	seq int64
}

var _ interfaces.GridStore = (*Store)(nil)

// NewStore creates an empty cache for g.
func NewStore(g types.Grid) (*Store, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		grid:   g,
		chunks: make([]chunk, g.ChunksX()*g.ChunksY()),
	}, nil
}

// Grid returns the geometry the store was built for.
func (s *Store) Grid() types.Grid { return s.grid }

func (s *Store) locate(x, y int) (*chunk, int) {
	cx, cy := s.grid.ChunkOf(x, y)
	size := s.grid.ChunkSize
	local := (y-cy*size)*size + (x - cx*size)
	return &s.chunks[cy*s.grid.ChunksX()+cx], local
}

// Get implements interfaces.GridStore.
func (s *Store) Get(x, y int) (string, bool) {
	if !s.grid.Contains(x, y) {
		return "", false
	}
	c, local := s.locate(x, y)
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cells[local]
	if !ok {
		return "", false
	}
	return formatColor(v.rgb), true
}

// Seq returns the sequence number of the write currently visible at (x, y).
func (s *Store) Seq(x, y int) int64 {
	if !s.grid.Contains(x, y) {
		return 0
	}
	c, local := s.locate(x, y)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cells[local].seq
}

// Set implements interfaces.GridStore. The write is applied only when seq
// is newer than the cell's current seq; onApplied, if non-nil, runs while
// the cell's chunk is still locked so that notifications for one cell leave
// in the same order the cell changed.
func (s *Store) Set(x, y int, color string, seq int64, onApplied func()) bool {
	if !s.grid.Contains(x, y) {
		return false
	}
	rgb, err := parseColor(color)
	if err != nil {
		return false
	}
	c, local := s.locate(x, y)
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.cells[local]; ok && current.seq >= seq {
		return false
	}
	if c.cells == nil {
		c.cells = make(map[int]cell)
	}
	c.cells[local] = cell{rgb: rgb, seq: seq}
	if onApplied != nil {
		onApplied()
	}
	return true
}

// Apply writes a placement record.
func (s *Store) Apply(p *types.Placement) bool {
	return s.Set(p.X, p.Y, p.Color, p.Seq, nil)
}

// Chunk returns the set cells of chunk (cx, cy) in row-major order.
func (s *Store) Chunk(cx, cy int) ([]types.Cell, error) {
	if !s.grid.ContainsChunk(cx, cy) {
		return nil, fmt.Errorf("%w: chunk (%d,%d)", types.ErrOutOfBounds, cx, cy)
	}
	c := &s.chunks[cy*s.grid.ChunksX()+cx]
	size := s.grid.ChunkSize

	c.mu.RLock()
	locals := make([]int, 0, len(c.cells))
	for local := range c.cells {
		locals = append(locals, local)
	}
	sort.Ints(locals)
	cells := make([]types.Cell, 0, len(locals))
	for _, local := range locals {
		cells = append(cells, types.Cell{
			X:     cx*size + local%size,
			Y:     cy*size + local/size,
			Color: formatColor(c.cells[local].rgb),
		})
	}
	c.mu.RUnlock()

	return cells, nil
}

// Len returns the number of set cells.
func (s *Store) Len() int {
	n := 0
	for i := range s.chunks {
		c := &s.chunks[i]
		c.mu.RLock()
		n += len(c.cells)
		c.mu.RUnlock()
	}
	return n
}

// Reset clears every cell.
func (s *Store) Reset() {
	for i := range s.chunks {
		c := &s.chunks[i]
		c.mu.Lock()
		c.cells = nil
		c.mu.Unlock()
	}
}

// Rebuild clears the cache and replays records in order. Replaying the same
// records always yields the same cache.
func (s *Store) Rebuild(records []*types.Placement) int {
	s.Reset()
	applied := 0
	for _, p := range records {
		if s.Apply(p) {
			applied++
		}
	}
	return applied
}

// Load rebuilds the cache from the full placement log.
func (s *Store) Load(ctx context.Context, log interfaces.PlacementLog) (int, error) {
	records, err := log.ListPlacements(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list placements for grid rebuild: %w", err)
	}
	return s.Rebuild(records), nil
}

func parseColor(color string) (uint32, error) {
	if len(color) != 7 || color[:1] != types.ColorMarker {
		return 0, types.ErrInvalidColor
	}
	v, err := strconv.ParseUint(color[1:], 16, 32)
	if err != nil {
		return 0, types.ErrInvalidColor
	}
	return uint32(v), nil
}

func formatColor(rgb uint32) string {
	return fmt.Sprintf("#%06x", rgb)
}
