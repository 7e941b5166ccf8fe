package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"pixelgrid/internal/api"
	"pixelgrid/internal/credit"
	"pixelgrid/internal/database"
	"pixelgrid/internal/grid"
	"pixelgrid/internal/hub"
	"pixelgrid/internal/identity"
	"pixelgrid/internal/moderation"
	"pixelgrid/internal/pipeline"
	"pixelgrid/internal/ratelimit"
	"pixelgrid/internal/websocket"
	pkgdatabase "pixelgrid/pkg/database"
	"pixelgrid/pkg/types"
)

const (
	testCooldown   = 10 * time.Second
	testNudge      = 2 * time.Second
	testAdminToken = "integration-admin"
	quietPeriod    = 300 * time.Millisecond
)

var testGrid = types.Grid{Width: 100, Height: 100, ChunkSize: 32}

func init() {
	gin.SetMode(gin.TestMode)
}

// harness runs the full server stack over a SQLite file with a fake clock.
type harness struct {
	t        *testing.T
	dbPath   string
	store    *database.Manager
	grid     *grid.Store
	pipeline *pipeline.Pipeline
	registry *websocket.Registry
	hub      *hub.Hub
	clock    *clockwork.FakeClock
	server   *httptest.Server
	stopped  bool
}

func newHarness(t *testing.T, dbPath string) *harness {
	t.Helper()
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "pixelgrid.db")
	}

	store, err := database.NewManager(&pkgdatabase.Config{
		DatabasePath:    dbPath,
		MaxConnections:  4,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute,
		BusyTimeout:     5 * time.Second,
	})
	require.NoError(t, err)

	cells, err := grid.NewStore(testGrid)
	require.NoError(t, err)
	_, err = cells.Load(context.Background(), store)
	require.NoError(t, err)

	clk := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	registry := websocket.NewRegistry(0)
	broadcast := hub.NewHub(registry, 1024)
	require.NoError(t, broadcast.Start(context.Background()))

	ledger := credit.NewLedger(store)
	p, err := pipeline.New(pipeline.Config{
		Grid:        testGrid,
		Cooldown:    testCooldown,
		CreditNudge: testNudge,
	}, pipeline.Deps{
		Limiter:   ratelimit.NewMemoryLimiter(),
		Ledger:    ledger,
		Gate:      moderation.NewGate(store),
		Log:       store,
		Grid:      cells,
		Broadcast: broadcast,
		Clock:     clk,
	})
	require.NoError(t, err)

	sessions := websocket.NewHandler(websocket.HandlerConfig{
		Grid:           testGrid,
		Cooldown:       testCooldown,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 4096,
		Connection:     websocket.DefaultConnectionOptions(),
	}, identity.DevVerifier{}, registry, p, cells)

	server := httptest.NewServer(api.NewServer(api.Deps{
		Grid:       cells,
		Accounts:   ledger,
		Bans:       store,
		Log:        store,
		Health:     store,
		Registry:   registry,
		Pipeline:   p,
		Hub:        broadcast,
		Sessions:   sessions,
		AdminToken: testAdminToken,
		Clock:      clk,
	}))

	h := &harness{
		t:        t,
		dbPath:   dbPath,
		store:    store,
		grid:     cells,
		pipeline: p,
		registry: registry,
		hub:      broadcast,
		clock:    clk,
		server:   server,
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	h.registry.CloseAll()
	h.server.Close()
	_ = h.hub.Stop()
	_ = h.store.Close()
}

func (h *harness) credit(userID string, n int64) {
	h.t.Helper()
	_, err := h.store.CreditAmount(context.Background(), userID, n)
	require.NoError(h.t, err)
}

func (h *harness) adminRequest(method, path, body string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set(api.AdminTokenHeader, testAdminToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) wsURL(credential string) string {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if credential != "" {
		u += "?token=" + url.QueryEscape(credential)
	}
	return u
}

// client is one browser session. Frames are pumped into a channel so tests
// can wait for or assert the absence of a frame.
type client struct {
	t      *testing.T
	conn   *gorilla.Conn
	frames chan map[string]interface{}
	hello  map[string]interface{}
	userID string
}

func (h *harness) connect(email string) *client {
	h.t.Helper()
	conn, resp, err := gorilla.DefaultDialer.Dial(h.wsURL(email), nil)
	require.NoError(h.t, err)
	resp.Body.Close()

	c := &client{
		t:      h.t,
		conn:   conn,
		frames: make(chan map[string]interface{}, 64),
		userID: identity.DevUserID(email),
	}
	go c.pump()
	h.t.Cleanup(func() { conn.Close() })

	c.hello = c.next(types.MessageTypeHello)
	return c
}

func (c *client) pump() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]interface{}
		if json.Unmarshal(data, &frame) == nil {
			c.frames <- frame
		}
	}
}

func (c *client) send(v interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *client) place(x, y int, color string) {
	c.t.Helper()
	c.send(map[string]interface{}{"type": types.MessageTypePlacePixel, "x": x, "y": y, "color": color})
}

// next returns the next frame, which must have the given type.
func (c *client) next(frameType string) map[string]interface{} {
	c.t.Helper()
	select {
	case frame, ok := <-c.frames:
		require.True(c.t, ok, "connection closed while waiting for %s", frameType)
		require.Equal(c.t, frameType, frame["type"], "unexpected frame %v", frame)
		return frame
	case <-time.After(5 * time.Second):
		c.t.Fatalf("timed out waiting for %s", frameType)
		return nil
	}
}

// expect reads one frame of each given type in any order. Unicast notices
// and hub broadcasts travel different paths, so their relative order varies.
func (c *client) expect(frameTypes ...string) map[string]map[string]interface{} {
	c.t.Helper()
	want := make(map[string]bool, len(frameTypes))
	for _, ft := range frameTypes {
		want[ft] = true
	}
	got := make(map[string]map[string]interface{}, len(frameTypes))
	deadline := time.After(5 * time.Second)
	for len(got) < len(frameTypes) {
		select {
		case frame, ok := <-c.frames:
			require.True(c.t, ok, "connection closed while waiting for %v", frameTypes)
			ft, _ := frame["type"].(string)
			require.True(c.t, want[ft] && got[ft] == nil, "unexpected frame %v", frame)
			got[ft] = frame
		case <-deadline:
			c.t.Fatalf("timed out waiting for %v, got %v", frameTypes, got)
		}
	}
	return got
}

// accepted waits for the broadcast and the cooldown notice that follow the
// submitter's own accepted placement and returns the broadcast.
func (c *client) accepted() map[string]interface{} {
	c.t.Helper()
	return c.expect(types.MessageTypePixelPlaced, types.MessageTypeCooldown)[types.MessageTypePixelPlaced]
}

// quiet asserts no frame arrives for quietPeriod.
func (c *client) quiet() {
	c.t.Helper()
	select {
	case frame, ok := <-c.frames:
		if ok {
			c.t.Fatalf("expected no frame, got %v", frame)
		}
	case <-time.After(quietPeriod):
	}
}
