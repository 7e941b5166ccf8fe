// Package api serves the HTTP side of the grid: metadata, chunk snapshots,
// health, the admin side channel and the /ws session endpoint.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"pixelgrid/internal/hub"
	"pixelgrid/internal/pipeline"
	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// GridReader is the read side of the grid cache.
type GridReader interface {
	Grid() types.Grid
	Chunk(cx, cy int) ([]types.Cell, error)
	Len() int
}

// Accounts is the admin view of the credit ledger.
type Accounts interface {
	Balance(ctx context.Context, userID string) (int64, error)
	TopUp(ctx context.Context, userID string, n int64) (int64, error)
}

// HealthChecker reports backend reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

type PipelineStats interface {
	Stats() pipeline.Stats
}

type HubStats interface {
	GetStats() hub.Stats
}

// Deps are the components the server reads from. Sessions is mounted at
// /ws; AdminToken empty disables the admin routes.
type Deps struct {
	Grid       GridReader
	Accounts   Accounts
	Bans       interfaces.BanStore
	Log        interfaces.PlacementLog
	Health     HealthChecker
	Registry   Registry
	Pipeline   PipelineStats
	Hub        HubStats
	Sessions   http.Handler
	AdminToken string
	Clock      clockwork.Clock
}

// Server is the gin engine with every route installed.
type Server struct {
	deps    Deps
	engine  *gin.Engine
	started time.Time
	log     *logrus.Entry
}

// NewServer builds the engine and its routes.
func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		started: deps.Clock.Now(),
		log:     logrus.WithField("component", "api"),
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.log), cors())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthCheck)

	if s.deps.Sessions != nil {
		s.engine.GET("/ws", gin.WrapH(s.deps.Sessions))
	}

	api := s.engine.Group("/api")
	api.GET("/grid", s.gridInfo)
	api.GET("/grid/chunks/:cx/:cy", s.chunk)
	api.GET("/stats", s.stats)

	admin := api.Group("/admin", adminAuth(s.deps.AdminToken))
	admin.GET("/users/:userId/balance", s.balance)
	admin.POST("/users/:userId/credits", s.credit)
	admin.GET("/users/:userId/ban", s.getBan)
	admin.PUT("/users/:userId/ban", s.setBan)
	admin.DELETE("/users/:userId/ban", s.liftBan)
	admin.GET("/placements", s.placements)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

// GET /health
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	now := s.deps.Clock.Now()
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: now,
		Database:  "healthy",
		Uptime:    now.Sub(s.started).Truncate(time.Second).String(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.log.WithError(err).Warn("Health check failed")
			resp.Status = "unhealthy"
			resp.Database = "unavailable"
		}
	}
	if s.deps.Registry != nil {
		resp.Connections = s.deps.Registry.GetStats()
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

type gridResponse struct {
	types.Grid
	CooldownMs int64 `json:"cooldownMs,omitempty"`
	ChunksX    int   `json:"chunksX"`
	ChunksY    int   `json:"chunksY"`
	SetCells   int   `json:"setCells"`
}

// GET /api/grid
func (s *Server) gridInfo(c *gin.Context) {
	g := s.deps.Grid.Grid()
	resp := gridResponse{
		Grid:     g,
		ChunksX:  g.ChunksX(),
		ChunksY:  g.ChunksY(),
		SetCells: s.deps.Grid.Len(),
	}
	if cfg, ok := s.deps.Pipeline.(interface{ Config() pipeline.Config }); ok {
		resp.CooldownMs = cfg.Config().Cooldown.Milliseconds()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/grid/chunks/:cx/:cy
func (s *Server) chunk(c *gin.Context) {
	cx, errX := strconv.Atoi(c.Param("cx"))
	cy, errY := strconv.Atoi(c.Param("cy"))
	if errX != nil || errY != nil {
		sendError(c, http.StatusBadRequest, "chunk coordinates must be integers")
		return
	}

	cells, err := s.deps.Grid.Chunk(cx, cy)
	if err != nil {
		if errors.Is(err, types.ErrOutOfBounds) {
			sendError(c, http.StatusNotFound, "chunk outside the grid")
			return
		}
		s.log.WithError(err).Error("Failed to read chunk")
		sendError(c, http.StatusInternalServerError, "failed to read chunk")
		return
	}

	c.JSON(http.StatusOK, types.ChunkEvent{
		Type:  types.MessageTypeChunk,
		CX:    cx,
		CY:    cy,
		Cells: cells,
	})
}

type statsResponse struct {
	Pipeline    *pipeline.Stats `json:"pipeline,omitempty"`
	Hub         *hub.Stats      `json:"hub,omitempty"`
	Connections map[string]int  `json:"connections,omitempty"`
}

// GET /api/stats
func (s *Server) stats(c *gin.Context) {
	var resp statsResponse
	if s.deps.Pipeline != nil {
		st := s.deps.Pipeline.Stats()
		resp.Pipeline = &st
	}
	if s.deps.Hub != nil {
		st := s.deps.Hub.GetStats()
		resp.Hub = &st
	}
	if s.deps.Registry != nil {
		resp.Connections = s.deps.Registry.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}
