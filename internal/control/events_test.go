package control

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/teamdrive/internal/bus"
)

func dialEvents(t *testing.T, srv *httptest.Server, rootID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if rootID != "" {
		url += "?root_id=" + rootID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsStreamDeliversPublished(t *testing.T) {
	s, _ := newServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleEvents))
	defer srv.Close()

	conn := dialEvents(t, srv, "")
	// Give the handler a beat to register its subscription.
	time.Sleep(50 * time.Millisecond)

	s.Events.Publish(bus.Event{Type: bus.EventNewQ4H, RootID: "r1", DialogID: "d1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev bus.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, bus.EventNewQ4H, ev.Type)
	assert.Equal(t, "d1", ev.DialogID)
	assert.False(t, ev.At.IsZero())
}

func TestEventsStreamFiltersByRoot(t *testing.T) {
	s, _ := newServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleEvents))
	defer srv.Close()

	conn := dialEvents(t, srv, "r1")
	time.Sleep(50 * time.Millisecond)

	s.Events.Publish(bus.Event{Type: bus.EventDebug, RootID: "other", DialogID: "dx"})
	s.Events.Publish(bus.Event{Type: bus.EventRunState, RootID: "r1", DialogID: "d1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev bus.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, bus.EventRunState, ev.Type, "other roots' events are filtered out")
}
