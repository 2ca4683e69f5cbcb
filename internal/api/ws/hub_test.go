package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/reserve/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHub_BroadcastsSightings(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	evt := &dto.WSEvent{Type: "sighting_created", SightingID: uuid.New(), UserID: uuid.New(), SpeciesName: "Procyon lotor"}
	require.NoError(t, hub.BroadcastSighting(context.Background(), evt))

	got := readEvent(t, conn)
	assert.Equal(t, evt.SightingID, got.SightingID)
	assert.Equal(t, "Procyon lotor", got.SpeciesName)
}

func TestHub_UserFilter(t *testing.T) {
	hub, url := startHub(t)
	mine := uuid.New()
	conn := dial(t, url+"?user_id="+mine.String())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.BroadcastSighting(context.Background(), &dto.WSEvent{Type: "sighting_created", UserID: uuid.New(), SpeciesName: "Vulpes vulpes"}))
	require.NoError(t, hub.BroadcastSighting(context.Background(), &dto.WSEvent{Type: "sighting_created", UserID: mine, SpeciesName: "Bufo bufo"}))

	got := readEvent(t, conn)
	assert.Equal(t, "Bufo bufo", got.SpeciesName)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
