package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	"tandem/pkg/config"
	apperrors "tandem/pkg/errors"
	rlog "tandem/pkg/logger"
	"tandem/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int

	// Zero values disable the corresponding limit.
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	MaxConnections    int

	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string

	// Verifier authenticates the ?token= query parameter. Nil disables auth.
	Verifier ports.TokenVerifier
	Metrics  ports.CoordinatorMetrics
}

func DefaultOptions() Options {
	return Options{
		PingInterval:  30 * time.Second,
		PongTimeout:   60 * time.Second,
		WriteTimeout:  10 * time.Second,
		SendQueueSize: 256,
	}
}

// OptionsFromConfig maps the signal and websocket rate-limit sections onto Options.
func OptionsFromConfig(cfg *config.Config, verifier ports.TokenVerifier, metrics ports.CoordinatorMetrics) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		Metrics:        metrics,
	}
	if cfg.Auth.Enabled {
		opts.Verifier = verifier
	}
	if cfg.RateLimiting.Enabled {
		ws := cfg.RateLimiting.WebSocket
		opts.MaxMessageSize = ws.MaxMessageSizeBytes
		opts.MessagesPerSecond = ws.MessagesPerSecond
		opts.Burst = ws.Burst
		opts.MaxConnections = ws.MaxConcurrent
	}
	return opts
}

// WebSocketServer terminates client websockets and feeds their frames to the coordinator.
type WebSocketServer struct {
	coordinator ports.Coordinator
	opts        Options
	upgrader    websocket.Upgrader

	clients map[domain.ConnectionID]*client
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	slots chan struct{}

	logger *zap.SugaredLogger
}

func NewWebSocketServer(coordinator ports.Coordinator, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaults.SendQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &WebSocketServer{
		coordinator: coordinator,
		opts:        opts,
		clients:     make(map[domain.ConnectionID]*client),
		logger:      logger.Named("websocket"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if opts.MaxConnections > 0 {
		s.slots = make(chan struct{}, opts.MaxConnections)
	}
	return s
}

// Handler adapts HandleWebSocket to a gin route.
func (s *WebSocketServer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.HandleWebSocket(c.Writer, c.Request)
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		writeHTTPError(w, apperrors.NewServiceUnavailableError("server is shutting down"))
		return
	}

	if !s.acquireSlot() {
		s.logger.Warnw("connection refused, limit reached", "max_connections", s.opts.MaxConnections)
		writeHTTPError(w, apperrors.NewServiceUnavailableError("too many connections"))
		return
	}

	identity, err := s.authenticate(r)
	if err != nil {
		s.releaseSlot()
		s.logger.Infow("websocket authentication failed",
			"remote_addr", r.RemoteAddr,
			"token", utils.MaskToken(tokenFrom(r)),
			"error", err,
		)
		writeHTTPError(w, apperrors.NewUnauthorizedError(err.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseSlot()
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	id := domain.ConnectionID(utils.NewConnectionID())
	c := newClient(id, conn, s)

	if !s.register(c) {
		s.releaseSlot()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.opts.WriteTimeout))
		_ = conn.Close()
		return
	}

	ctx := rlog.WithConnectionID(context.Background(), string(id))
	s.logger.Infow("client connected", "connection_id", id, "remote_addr", r.RemoteAddr)
	s.coordinator.Connect(ctx, id, c, identity)

	go c.writePump()
	c.readPump(ctx)

	s.coordinator.Disconnect(ctx, id)
	s.unregister(id)
	c.close()
	s.releaseSlot()
	s.logger.Infow("client disconnected", "connection_id", id)
}

// Shutdown closes every client and waits for their handlers to finish.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) unregister(id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; ok {
		delete(s.clients, id)
		s.wg.Done()
	}
}

func (s *WebSocketServer) acquireSlot() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *WebSocketServer) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *WebSocketServer) authenticate(r *http.Request) (*domain.Identity, error) {
	if s.opts.Verifier == nil {
		return nil, nil
	}
	return s.opts.Verifier.Verify(tokenFrom(r))
}

// tokenFrom reads ?token= first, then the bearer header.
func tokenFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) newLimiter() *rate.Limiter {
	if s.opts.MessagesPerSecond <= 0 {
		return nil
	}
	burst := s.opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
}

func writeHTTPError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}
