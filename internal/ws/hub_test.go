package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	hub.AddClient(nil, ConnInfo{ConnID: "c1"})
	assert.Equal(t, 1, hub.Len())

	hub.RemoveClient(nil)
	assert.Equal(t, 0, hub.Len())
}

func TestHubBroadcastReachesClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zerolog.Nop())
	router := gin.New()
	router.GET("/ws", NewHandler(hub).Handle)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(models.SyncEvent{Type: models.EventMessagesChanged, ConversationID: "c1"})

	var got models.SyncEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventMessagesChanged, got.Type)
	assert.Equal(t, "c1", got.ConversationID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}
