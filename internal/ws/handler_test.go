package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-events/internal/auth"
	"social-events/internal/mocks"
	"social-events/internal/models"
)

type wsFixture struct {
	server    *httptest.Server
	validator *auth.JWTValidator
	chats     *mocks.ChatRepositoryMock
	messages  *mocks.MessageRepositoryMock
	gateway   *Gateway
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		validator: auth.NewJWTValidator("test-secret", ""),
		chats:     new(mocks.ChatRepositoryMock),
		messages:  new(mocks.MessageRepositoryMock),
	}
	f.gateway = NewGateway(NewRegistry(zerolog.Nop()), f.chats, f.messages, nil, GatewayConfig{StoreTimeout: time.Second}, zerolog.Nop())
	handler := NewHandler(f.gateway, f.validator, HandlerConfig{SendBuffer: 16, MaxFrameBytes: 4096}, zerolog.Nop())

	router := gin.New()
	router.GET("/ws", handler.Handle)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := f.validator.IssueToken(userID, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, eventType string, ref int64, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientEnvelope{Type: eventType, Ref: ref, Payload: raw}))
}

func readFrame(t *testing.T, conn *websocket.Conn) decoded {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return decodeFrame(t, raw)
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	f.chats.On("IsParticipant", mock.Anything, int64(1), mock.AnythingOfType("int64")).Return(true, nil)
	f.chats.On("IsParticipant", mock.Anything, int64(2), int64(1)).Return(false, nil)
	f.messages.On("CreateMessage", mock.Anything, int64(1), int64(1), mock.Anything, "hello").
		Return(models.Message{ID: 77, ChatID: 1, SenderID: 1, Body: "hello", CreatedAt: time.Now()}, nil)

	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	sendFrame(t, alice, EventJoinRoom, 1, RoomRequest{ChatID: 1})
	ack := readFrame(t, alice)
	assert.Equal(t, EventAck, ack.Type)
	assert.Contains(t, string(ack.Payload), `"joined":true`)

	sendFrame(t, alice, EventJoinRoom, 2, RoomRequest{ChatID: 2})
	denied := readFrame(t, alice)
	assert.Contains(t, string(denied.Payload), `"joined":false`)

	sendFrame(t, bob, EventJoinRoom, 1, RoomRequest{ChatID: 1})
	readFrame(t, bob)

	sendFrame(t, alice, EventSendMessage, 3, SendRequest{ChatID: 1, Text: "hello", ClientID: "opt-1"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, EventNewMessage, frame.Type)
		var evt models.NewMessageEvent
		require.NoError(t, json.Unmarshal(frame.Payload, &evt))
		assert.Equal(t, int64(77), evt.ID)
		assert.Equal(t, "opt-1", evt.ClientID)
	}
}

func TestReconnectRequiresRejoin(t *testing.T) {
	f := newWSFixture(t)
	f.chats.On("IsParticipant", mock.Anything, int64(1), int64(1)).Return(true, nil)

	first := f.dial(t, 1)
	sendFrame(t, first, EventJoinRoom, 1, RoomRequest{ChatID: 1})
	readFrame(t, first)
	require.Len(t, f.gateway.Registry().Members(1), 1)

	first.Close()
	require.Eventually(t, func() bool {
		return len(f.gateway.Registry().Members(1)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	second := f.dial(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.gateway.Registry().Members(1))

	sendFrame(t, second, EventJoinRoom, 2, RoomRequest{ChatID: 1})
	assert.Equal(t, EventAck, readFrame(t, second).Type)
	assert.Len(t, f.gateway.Registry().Members(1), 1)
}
