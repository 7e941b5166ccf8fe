package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pixelgrid/internal/pipeline"
	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// PlacementSubmitter runs one placement request. *pipeline.Pipeline
// satisfies it.
type PlacementSubmitter interface {
	Submit(ctx context.Context, sessionID, userID string, candidate types.Candidate) pipeline.Outcome
}

// ChunkReader serves grid snapshots. *grid.Store satisfies it.
type ChunkReader interface {
	Chunk(cx, cy int) ([]types.Cell, error)
}

// HandlerConfig holds session protocol settings.
type HandlerConfig struct {
	Grid           types.Grid
	Cooldown       time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	InboundRate    float64 // frames per second per session
	InboundBurst   int
	Connection     ConnectionOptions
	// AllowedOrigins lists origins allowed to open sessions. Empty means
	// same-origin only; "*" allows any origin.
	AllowedOrigins []string
}

// Handler upgrades verified requests to sessions and runs their read loop.
type Handler struct {
	cfg       HandlerConfig
	verifier  interfaces.IdentityVerifier
	registry  *Registry
	submitter PlacementSubmitter
	chunks    ChunkReader
	upgrader  websocket.Upgrader
	log       *logrus.Entry

	// mu orders session registration against Shutdown; active counts
	// handshakes and read loops, including any placement being processed.
	mu       sync.RWMutex
	draining bool
	active   sync.WaitGroup
}

// NewHandler creates a session handler.
func NewHandler(cfg HandlerConfig, verifier interfaces.IdentityVerifier, registry *Registry,
	submitter PlacementSubmitter, chunks ChunkReader) *Handler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Handler{
		cfg:       cfg,
		verifier:  verifier,
		registry:  registry,
		submitter: submitter,
		chunks:    chunks,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		log: logrus.WithField("component", "websocket"),
	}
}

// ServeHTTP verifies the handshake credential, upgrades the connection and
// hands it to the read loop. Unverified requests get 401 and no session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.begin() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			h.active.Done()
		}
	}()

	credential := credentialFromRequest(r)
	if credential == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		if errors.Is(err, interfaces.ErrUnverified) {
			h.log.WithError(err).Debug("Refusing unverified session")
			http.Error(w, "unverified credential", http.StatusUnauthorized)
			return
		}
		h.log.WithError(err).Warn("Identity verification unavailable")
		http.Error(w, "identity verification unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, uuid.New().String(), userID, h.cfg.Connection)
	if err := h.register(conn); err != nil {
		h.log.WithError(err).Warn("Failed to register session")
		_ = conn.Close()
		return
	}

	hello := &types.HelloEvent{
		Type:       types.MessageTypeHello,
		SessionID:  conn.SessionID(),
		UserID:     userID,
		Width:      h.cfg.Grid.Width,
		Height:     h.cfg.Grid.Height,
		ChunkSize:  h.cfg.Grid.ChunkSize,
		CooldownMs: h.cfg.Cooldown.Milliseconds(),
	}
	if err := conn.Send(hello); err != nil {
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	conn.log.Info("Session connected")
	handedOff = true
	go func() {
		defer h.active.Done()
		h.readLoop(conn)
	}()
}

func (h *Handler) begin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.draining {
		return false
	}
	h.active.Add(1)
	return true
}

// register refuses sessions once Shutdown has started, so every registered
// session is seen by its CloseAll.
func (h *Handler) register(conn *Connection) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.draining {
		return ErrShuttingDown
	}
	return h.registry.Register(conn)
}

// Shutdown refuses new sessions, closes the open ones and waits until every
// read loop has returned, which includes any placement still being
// processed. It returns ctx.Err() if ctx ends first.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	h.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// originChecker builds the upgrader's origin policy. A nil result makes
// gorilla fall back to its same-origin check. Requests without an Origin
// header come from non-browser clients and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// credentialFromRequest reads the token query parameter, falling back to a
// bearer Authorization header.
func credentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		conn.log.Info("Session disconnected")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if h.cfg.InboundRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.log.WithError(err).Debug("Read failed")
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			conn.log.Debug("Inbound frame over rate, dropped")
			continue
		}
		h.handleFrame(conn, data)
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are dropped
// without a reply.
func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var msg types.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.log.WithError(err).Debug("Dropping undecodable frame")
		return
	}

	switch msg.Type {
	case types.MessageTypePlacePixel:
		candidate, err := msg.Candidate()
		if err != nil {
			conn.log.WithError(err).Debug("Dropping malformed placement")
			return
		}
		h.submitter.Submit(conn.ctx, conn.SessionID(), conn.UserID(), candidate)

	case types.MessageTypeGetChunk:
		cx, cy, err := msg.Chunk()
		if err != nil {
			return
		}
		cells, err := h.chunks.Chunk(cx, cy)
		if err != nil {
			conn.log.WithError(err).Debug("Chunk request out of range")
			return
		}
		_ = conn.Send(&types.ChunkEvent{Type: types.MessageTypeChunk, CX: cx, CY: cy, Cells: cells})

	default:
		conn.log.WithField("type", msg.Type).Debug("Ignoring unknown frame type")
	}
}
