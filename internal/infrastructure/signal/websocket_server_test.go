package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tandem/internal/core/domain"
	"tandem/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type frame struct {
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

type testServer struct {
	t      *testing.T
	ws     *WebSocketServer
	coord  *services.Coordinator
	http   *httptest.Server
	wsBase string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	roster, err := domain.NewRoster(
		domain.Participant{Role: "M", DisplayName: "Muskan"},
		domain.Participant{Role: "V", DisplayName: "Vinay"},
	)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t).Sugar()
	coord := services.NewCoordinator(services.CoordinatorDeps{Roster: roster, Logger: logger})
	ws := NewWebSocketServer(coord, opts, logger)

	router := gin.New()
	router.GET("/ws", ws.Handler())
	srv := httptest.NewServer(router)

	ts := &testServer{
		t:      t,
		ws:     ws,
		coord:  coord,
		http:   srv,
		wsBase: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ws.Shutdown(ctx)
		srv.Close()
	})
	return ts
}

func (ts *testServer) dial(query string) *websocket.Conn {
	ts.t.Helper()
	url := ts.wsBase
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ts.t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	ts.t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType domain.MessageType, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": msgType, "payload": payload}))
}

func readUntil(t *testing.T, conn *websocket.Conn, want domain.MessageType) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", want)
		if f.Type == want {
			return f
		}
	}
}

func readPresenceUntil(t *testing.T, conn *websocket.Conn, done func(domain.PresenceMap) bool) domain.PresenceMap {
	t.Helper()
	for {
		f := readUntil(t, conn, domain.TypePresenceUpdate)
		var presence domain.PresenceMap
		require.NoError(t, json.Unmarshal(f.Payload, &presence))
		if done(presence) {
			return presence
		}
	}
}

func TestWebSocketServer_HelloAndPresence(t *testing.T) {
	ts := newTestServer(t, Options{})

	muskan := ts.dial("")
	hello := readUntil(t, muskan, domain.TypeHello)
	var hp domain.HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &hp))
	assert.NotEmpty(t, hp.ConnectionID)
	assert.Equal(t, []domain.Role{"M", "V"}, hp.Roles)
	assert.Equal(t, domain.StatusOffline, hp.Presence["M"])

	vinay := ts.dial("")
	readUntil(t, vinay, domain.TypeHello)

	send(t, vinay, domain.TypeAnnounceActive, map[string]string{"role": "V"})
	update := readUntil(t, muskan, domain.TypePresenceUpdate)
	var presence domain.PresenceMap
	require.NoError(t, json.Unmarshal(update.Payload, &presence))
	assert.True(t, presence.Online("V"))

	send(t, muskan, domain.TypeAnnounceActive, map[string]string{"role": "M"})
	partner := readUntil(t, vinay, domain.TypePartnerOnline)
	assert.Contains(t, string(partner.Payload), "Muskan is online")

	require.NoError(t, vinay.Close())
	presence = readPresenceUntil(t, muskan, func(p domain.PresenceMap) bool { return !p.Online("V") })
	assert.True(t, presence.Online("M"))
	assert.Eventually(t, func() bool { return ts.ws.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_RoomPlaybackRelay(t *testing.T) {
	ts := newTestServer(t, Options{})

	a := ts.dial("")
	b := ts.dial("")
	readUntil(t, a, domain.TypeHello)
	readUntil(t, b, domain.TypeHello)

	send(t, a, domain.TypeJoinRoom, map[string]string{"roomId": "den"})
	readUntil(t, a, domain.TypeRoomPresence)
	send(t, b, domain.TypeJoinRoom, map[string]string{"roomId": "den"})
	readUntil(t, b, domain.TypeRoomPresence)

	send(t, a, domain.TypePlay, map[string]interface{}{"roomId": "den", "position": 12.5})
	play := readUntil(t, b, domain.TypePlay)
	var ev domain.PlaybackEvent
	require.NoError(t, json.Unmarshal(play.Payload, &ev))
	require.NotNil(t, ev.Position)
	assert.Equal(t, 12.5, *ev.Position)
	assert.Equal(t, domain.RoomID("den"), ev.RoomID)
}

func TestWebSocketServer_ErrorFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t, Options{})

	conn := ts.dial("")
	readUntil(t, conn, domain.TypeHello)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)))
	errFrame := readUntil(t, conn, domain.TypeError)
	var ep domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Payload, &ep))
	assert.Equal(t, "UNKNOWN_EVENT", ep.Code)

	send(t, conn, domain.TypeAnnounceActive, map[string]string{"role": "M"})
	readUntil(t, conn, domain.TypePresenceUpdate)
}

func TestWebSocketServer_Auth(t *testing.T) {
	jwt := services.NewJWTService("secret", "tandem")
	ts := newTestServer(t, Options{Verifier: jwt})

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsBase, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	token, err := jwt.GenerateToken("vinay", "V", time.Minute)
	require.NoError(t, err)
	conn := ts.dial("token=" + token)
	readUntil(t, conn, domain.TypeHello)

	send(t, conn, domain.TypeAnnounceActive, map[string]string{"role": "M"})
	errFrame := readUntil(t, conn, domain.TypeError)
	assert.Contains(t, string(errFrame.Payload), "FORBIDDEN")

	send(t, conn, domain.TypeAnnounceActive, map[string]string{"role": "V"})
	readUntil(t, conn, domain.TypePresenceUpdate)
}

func TestWebSocketServer_MessageRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{MessagesPerSecond: 0.001, Burst: 1})

	conn := ts.dial("")
	readUntil(t, conn, domain.TypeHello)

	send(t, conn, domain.TypeAnnounceActive, map[string]string{"role": "M"})
	readUntil(t, conn, domain.TypePresenceUpdate)

	send(t, conn, domain.TypeAnnounceInactive, nil)
	errFrame := readUntil(t, conn, domain.TypeError)
	var ep domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Payload, &ep))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", ep.Code)
	assert.Equal(t, domain.TypeAnnounceInactive, ep.Type)

	assert.True(t, ts.coord.Snapshot().Presence.Online("M"), "limited message was not applied")
}

func TestWebSocketServer_ConnectionLimit(t *testing.T) {
	ts := newTestServer(t, Options{MaxConnections: 1})

	first := ts.dial("")
	readUntil(t, first, domain.TypeHello)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsBase, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool {
		conn, resp, err := websocket.DefaultDialer.Dial(ts.wsBase, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketServer_OversizedMessageClosesConnection(t *testing.T) {
	ts := newTestServer(t, Options{MaxMessageSize: 64})

	conn := ts.dial("")
	readUntil(t, conn, domain.TypeHello)

	big := `{"type":"joinRoom","payload":{"roomId":"` + strings.Repeat("r", 128) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return ts.ws.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketServer_ShutdownClosesClients(t *testing.T) {
	ts := newTestServer(t, Options{})

	conn := ts.dial("")
	readUntil(t, conn, domain.TypeHello)
	send(t, conn, domain.TypeAnnounceActive, map[string]string{"role": "M"})
	readUntil(t, conn, domain.TypePresenceUpdate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.ws.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, ts.ws.ConnectionCount())
	assert.False(t, ts.coord.Snapshot().Presence.Online("M"))

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsBase, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestCheckOrigin(t *testing.T) {
	s := NewWebSocketServer(nil, Options{AllowedOrigins: []string{"https://tandem.example"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, s.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://tandem.example")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))
}
