package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tandem/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClosed        = errors.New("client closed")
	ErrUnexpectedMsg = errors.New("unexpected first message")
)

// Event is one inbound frame with its payload left undecoded.
type Event struct {
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// Decode unmarshals the payload of ev into a value of type T.
func Decode[T any](ev Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return v, nil
}

// ServerError is an error frame sent by the coordinator.
type ServerError struct {
	Code    string
	Message string
	Type    domain.MessageType
}

func (e *ServerError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Err returns the ServerError carried by an error frame, or nil for any other frame.
func (ev Event) Err() error {
	if ev.Type != domain.TypeError {
		return nil
	}
	p, err := Decode[domain.ErrorPayload](ev)
	if err != nil {
		return err
	}
	return &ServerError{Code: p.Code, Message: p.Message, Type: p.Type}
}

type Options struct {
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	EventBuffer      int
	Logger           *zap.SugaredLogger
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Client is a coordinator connection. Events are delivered in arrival order
// on Events until the connection ends; Send is safe for concurrent use.
type Client struct {
	conn   *websocket.Conn
	opts   Options
	hello  domain.HelloPayload
	events chan Event

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}

	errMu   sync.Mutex
	readErr error

	logger *zap.SugaredLogger
}

// Dial connects to the coordinator websocket at url and waits for the hello frame.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts.withDefaults()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var first Event
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if first.Type != domain.TypeHello {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMsg, first.Type)
	}
	hello, err := Decode[domain.HelloPayload](first)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		opts:     opts,
		hello:    hello,
		events:   make(chan Event, opts.EventBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		logger:   opts.Logger.Named("client").With("connection_id", hello.ConnectionID),
	}
	go c.readLoop()

	c.logger.Debugw("Connected", "roles", hello.Roles)
	return c, nil
}

// ID is the connection id the coordinator assigned.
func (c *Client) ID() domain.ConnectionID { return c.hello.ConnectionID }

// Hello returns the greeting received on connect.
func (c *Client) Hello() domain.HelloPayload { return c.hello }

// Events is closed once the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Err reports why the read loop stopped, if it has.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.events)

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
				c.logger.Debugw("Read loop stopped", "error", err)
			}
			return
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Send writes a single frame.
func (c *Client) Send(msgType domain.MessageType, payload interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(domain.Message{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// Close sends a close frame and waits for the read loop to finish.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
		c.writeMu.Unlock()

		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

// Next waits for the next event of type want, skipping others.
func (c *Client) Next(ctx context.Context, want domain.MessageType) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return Event{}, err
				}
				return Event{}, ErrClosed
			}
			if ev.Type == want {
				return ev, nil
			}
		}
	}
}

func (c *Client) AnnounceActive(role domain.Role) error {
	return c.Send(domain.TypeAnnounceActive, domain.AnnouncePayload{Role: role})
}

func (c *Client) AnnounceInactive() error {
	return c.Send(domain.TypeAnnounceInactive, nil)
}

func (c *Client) StartListening(item domain.MediaItemID) error {
	return c.Send(domain.TypeStartListening, domain.ListeningPayload{MediaItemID: item})
}

func (c *Client) StopListening(item domain.MediaItemID) error {
	return c.Send(domain.TypeStopListening, domain.ListeningPayload{MediaItemID: item})
}

// JoinRoom subscribes to the given signaling channels, or to all of them when none are named.
func (c *Client) JoinRoom(room domain.RoomID, channels ...domain.SignalChannel) error {
	return c.Send(domain.TypeJoinRoom, domain.JoinRoomPayload{RoomID: room, Channels: channels})
}

func (c *Client) LeaveRoom(room domain.RoomID) error {
	return c.Send(domain.TypeLeaveRoom, domain.RoomPayload{RoomID: room})
}

func (c *Client) Load(room domain.RoomID, item domain.MediaItemID) error {
	return c.Send(domain.TypeLoad, domain.LoadPayload{RoomID: room, MediaItemID: item})
}

func (c *Client) Play(room domain.RoomID, position float64) error {
	return c.Send(domain.TypePlay, domain.PositionPayload{RoomID: room, Position: &position})
}

func (c *Client) Pause(room domain.RoomID, position float64) error {
	return c.Send(domain.TypePause, domain.PositionPayload{RoomID: room, Position: &position})
}

func (c *Client) Seek(room domain.RoomID, position float64) error {
	return c.Send(domain.TypeSeek, domain.PositionPayload{RoomID: room, Position: &position})
}

func (c *Client) SetLoop(room domain.RoomID, looping bool) error {
	return c.Send(domain.TypeSetLoop, domain.LoopPayload{RoomID: room, IsLooping: &looping})
}

func (c *Client) RequestResync(room domain.RoomID) error {
	return c.Send(domain.TypeRequestResync, domain.RoomPayload{RoomID: room})
}

func (c *Client) ProvideResync(room domain.RoomID, target domain.ConnectionID, state domain.PlaybackState) error {
	return c.Send(domain.TypeProvideResync, domain.ProvideResyncPayload{
		RoomID:           room,
		TargetConnection: target,
		State:            &state,
	})
}

// Signal relays an opaque payload on channel. An empty target reaches every subscribed member.
func (c *Client) Signal(room domain.RoomID, channel domain.SignalChannel, kind domain.SignalKind, payload json.RawMessage, target domain.ConnectionID) error {
	return c.Send(domain.TypeSignal, domain.SignalPayload{
		RoomID:  room,
		Channel: channel,
		Kind:    kind,
		Payload: payload,
		Target:  target,
	})
}

func (c *Client) FocusChanged(room domain.RoomID, away bool) error {
	return c.Send(domain.TypeFocusChanged, domain.FocusPayload{RoomID: room, Away: &away})
}

func (c *Client) Conference(room domain.RoomID, kind domain.ConferenceKind, payload json.RawMessage) error {
	return c.Send(domain.TypeConference, domain.ConferencePayload{RoomID: room, Kind: kind, Payload: payload})
}

func (c *Client) RoleRequest(target domain.Role, topic string, payload json.RawMessage) error {
	return c.Send(domain.TypeRoleRequest, domain.RoleRequestPayload{TargetRole: target, Topic: topic, Payload: payload})
}
