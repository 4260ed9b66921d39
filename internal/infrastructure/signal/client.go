package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tandem/internal/core/domain"
	apperrors "tandem/pkg/errors"
	"tandem/pkg/tracing"
	"tandem/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// client is one websocket connection. It is the coordinator's outbox for
// that connection: Deliver never blocks, and a single writer goroutine owns
// all writes to the socket.
type client struct {
	id      domain.ConnectionID
	conn    *websocket.Conn
	server  *WebSocketServer
	limiter *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

func newClient(id domain.ConnectionID, conn *websocket.Conn, server *WebSocketServer) *client {
	return &client{
		id:      id,
		conn:    conn,
		server:  server,
		limiter: server.newLimiter(),
		send:    make(chan []byte, server.opts.SendQueueSize),
		done:    make(chan struct{}),
		logger:  server.logger.With("connection_id", id),
	}
}

// Deliver enqueues msg. It reports false when the queue is full or the client is closed.
func (c *client) Deliver(msg *domain.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorw("failed to encode outbound message", "type", msg.Type, "error", err)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warnw("send queue full, dropping message", "type", msg.Type)
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) readPump(ctx context.Context) {
	opts := c.server.opts
	if opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Infow("error reading message", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))

		c.handle(ctx, data)
	}
}

func (c *client) handle(ctx context.Context, data []byte) {
	env, err := domain.DecodeEnvelope(data)
	name := string(env.Type)
	if err != nil {
		name = "invalid"
		c.logger.Debugw("undecodable frame", "frame", utils.Preview(data, 128), "error", err)
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, name, string(c.id))
	defer span.End()

	if c.limiter != nil && !c.limiter.Allow() {
		appErr := apperrors.NewRateLimitError()
		tracing.RecordError(ctx, appErr)
		if c.server.opts.Metrics != nil {
			c.server.opts.Metrics.MessageRejected(env.Type, string(appErr.Code))
		}
		c.Deliver(&domain.Message{
			Type: domain.TypeError,
			Payload: domain.ErrorPayload{
				Code:    string(appErr.Code),
				Message: appErr.Message,
				Type:    env.Type,
			},
		})
		return
	}

	if err := c.server.coordinator.HandleMessage(ctx, c.id, data); err != nil {
		c.logger.Debugw("message rejected", "type", env.Type, "error", err)
	}
}

func (c *client) writePump() {
	opts := c.server.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Infow("error writing message", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("error sending ping", "error", err)
				c.close()
				return
			}

		case <-c.done:
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(opts.WriteTimeout))
			return
		}
	}
}

// drain flushes whatever is already queued before the socket closes.
func (c *client) drain() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
