package handler

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
	"go.uber.org/zap"

	"ticket-service/internal/model"
)

type feedMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialFeed(t *testing.T, origins []string) (*WebSocketHandler, *websocket.Conn) {
	t.Helper()

	ws := NewWebSocketHandler(origins, zap.NewNop())
	router := gin.New()
	ws.RegisterRoutes(router.Group("/ws"))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(ws.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/redemptions"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return ws.GetConnectionStats().TotalConnections == 1
	}, time.Second, 5*time.Millisecond)

	return ws, conn
}

func readFeed(t *testing.T, conn *websocket.Conn) *feedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg feedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func feedEvent(outcome model.RedemptionOutcome) *model.RedemptionEvent {
	return &model.RedemptionEvent{
		ID:         uuid.New(),
		ScanID:     uuid.New(),
		Code:       "TICKET_FEED01",
		Outcome:    outcome,
		Source:     model.SourceSerial,
		OccurredAt: time.Now(),
	}
}

func TestWebSocketHandler_BroadcastsEvents(t *testing.T) {
	ws, conn := dialFeed(t, nil)
	assert.Equal(t, "websocket", ws.Name())

	event := feedEvent(model.OutcomeRedeemed)
	require.NoError(t, ws.Send(context.Background(), event))

	msg := readFeed(t, conn)
	assert.Equal(t, "redemption", msg.Type)

	var got model.RedemptionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, event.ScanID, got.ScanID)
	assert.Equal(t, model.OutcomeRedeemed, got.Outcome)
}

func TestWebSocketHandler_SubscribeFiltersOutcomes(t *testing.T) {
	ws, conn := dialFeed(t, nil)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"outcomes": []string{"ALREADY_USED"}},
	}))
	assert.Equal(t, "subscription_confirmed", readFeed(t, conn).Type)

	require.NoError(t, ws.Send(context.Background(), feedEvent(model.OutcomeRedeemed)))
	require.NoError(t, ws.Send(context.Background(), feedEvent(model.OutcomeAlreadyUsed)))

	msg := readFeed(t, conn)
	var got model.RedemptionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, model.OutcomeAlreadyUsed, got.Outcome)
}

func TestWebSocketHandler_Ping(t *testing.T) {
	_, conn := dialFeed(t, nil)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFeed(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "error", readFeed(t, conn).Type)
}

func TestWebSocketHandler_CloseDisconnectsClients(t *testing.T) {
	ws, conn := dialFeed(t, nil)

	ws.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived), err)
}

func TestWebSocketHandler_RejectsUnknownOrigin(t *testing.T) {
	ws := NewWebSocketHandler([]string{"http://door.local"}, zap.NewNop())
	defer ws.Close()

	router := gin.New()
	ws.RegisterRoutes(router.Group("/ws"))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/redemptions"
	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
