package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueOnly builds a Connection with no socket and no writer so the queue
// can be inspected directly.
func queueOnly(size int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		sessionID: "s",
		userID:    "u",
		writeCh:   make(chan []byte, size),
		ctx:       ctx,
		cancel:    cancel,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
}

func TestConnection_SendDropsOldestWhenFull(t *testing.T) {
	c := queueOnly(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, c.Send(map[string]int{"n": i}))
	}

	assert.Equal(t, int64(2), c.Dropped())
	require.Len(t, c.writeCh, 3)
	var got []string
	for len(c.writeCh) > 0 {
		got = append(got, string(<-c.writeCh))
	}
	assert.Equal(t, []string{`{"n":3}`, `{"n":4}`, `{"n":5}`}, got)
}

func TestConnection_SendPreEncoded(t *testing.T) {
	c := queueOnly(4)
	require.NoError(t, c.Send(json.RawMessage(`{"a":1}`)))
	require.NoError(t, c.Send([]byte(`{"b":2}`)))
	assert.Equal(t, `{"a":1}`, string(<-c.writeCh))
	assert.Equal(t, `{"b":2}`, string(<-c.writeCh))
}

func TestConnection_SendInvalidJSON(t *testing.T) {
	c := queueOnly(1)
	assert.ErrorIs(t, c.Send(make(chan int)), ErrInvalidJSON)
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := queueOnly(1)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send("x"), ErrConnectionClosed)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

// echoPair returns a server-side Connection and the client socket talking to it.
func echoPair(t *testing.T, opts ConnectionOptions) (*Connection, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConn := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn <- NewConnection(ws, "session-1", "user-1", opts)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := <-serverConn
	t.Cleanup(func() { _ = c.Close() })
	return c, client
}

func TestConnection_WritesInOrder(t *testing.T) {
	c, client := echoPair(t, DefaultConnectionOptions())
	assert.Equal(t, "session-1", c.SessionID())
	assert.Equal(t, "user-1", c.UserID())

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Send(map[string]int{"n": i}))
	}
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 10; i++ {
		var msg map[string]int
		require.NoError(t, client.ReadJSON(&msg))
		assert.Equal(t, i, msg["n"])
	}
}

func TestConnection_SendsPings(t *testing.T) {
	opts := DefaultConnectionOptions()
	opts.PingInterval = 20 * time.Millisecond
	_, client := echoPair(t, opts)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestConnection_ClosesWhenPeerGoesAway(t *testing.T) {
	c, client := echoPair(t, DefaultConnectionOptions())
	require.NoError(t, client.Close())

	// Writes eventually fail and the connection shuts itself down.
	deadline := time.After(5 * time.Second)
	for {
		_ = c.Send("ping")
		select {
		case <-c.Done():
			return
		case <-deadline:
			t.Fatal("connection did not close after peer went away")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
