package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	apperrors "tandem/pkg/errors"
	"tandem/pkg/tracing"
	"tandem/pkg/validation"

	"go.uber.org/zap"
)

type CoordinatorDeps struct {
	Roster   *domain.Roster
	Recorder ports.PlayRecorder
	Metrics  ports.CoordinatorMetrics
	Logger   *zap.SugaredLogger
}

type handlerFunc func(ctx context.Context, conn *Connection, payload json.RawMessage) error

// Coordinator owns all shared presence and synchronization state. Every
// inbound event runs to completion under a single lock, so components
// need no locking of their own and outbound sends for one event are
// enqueued in order.
type Coordinator struct {
	mu sync.Mutex

	roster     *domain.Roster
	registry   *Registry
	presence   *PresenceBroadcaster
	nowPlaying *NowPlayingAggregator
	rooms      *RoomDirectory
	playback   *PlaybackSync
	signaling  *SignalingRelay

	recorder ports.PlayRecorder
	metrics  ports.CoordinatorMetrics
	logger   *zap.SugaredLogger

	handlers map[domain.MessageType]handlerFunc
}

var _ ports.Coordinator = (*Coordinator)(nil)

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	logger := deps.Logger.Named("coordinator")

	registry := NewRegistry(deps.Metrics)
	rooms := NewRoomDirectory(registry)

	c := &Coordinator{
		roster:     deps.Roster,
		registry:   registry,
		presence:   NewPresenceBroadcaster(deps.Roster, registry, logger.Named("presence")),
		nowPlaying: NewNowPlayingAggregator(deps.Roster, registry),
		rooms:      rooms,
		playback:   NewPlaybackSync(rooms, deps.Metrics, logger.Named("playback")),
		signaling:  NewSignalingRelay(rooms, logger.Named("signaling")),
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	c.handlers = map[domain.MessageType]handlerFunc{
		domain.TypeAnnounceActive:   c.handleAnnounceActive,
		domain.TypeAnnounceInactive: c.handleAnnounceInactive,
		domain.TypeStartListening:   c.handleStartListening,
		domain.TypeStopListening:    c.handleStopListening,
		domain.TypeJoinRoom:         c.handleJoinRoom,
		domain.TypeLeaveRoom:        c.handleLeaveRoom,
		domain.TypeLoad:             c.handleLoad,
		domain.TypePlay:             c.handlePosition(domain.TypePlay),
		domain.TypePause:            c.handlePosition(domain.TypePause),
		domain.TypeSeek:             c.handlePosition(domain.TypeSeek),
		domain.TypeSetLoop:          c.handleSetLoop,
		domain.TypeRequestResync:    c.handleRequestResync,
		domain.TypeProvideResync:    c.handleProvideResync,
		domain.TypeSignal:           c.handleSignal,
		domain.TypeFocusChanged:     c.handleFocusChanged,
		domain.TypeConference:       c.handleConference,
		domain.TypeRoleRequest:      c.handleRoleRequest,
	}

	return c
}

// Connect registers a new connection and greets it with the current state.
func (c *Coordinator) Connect(ctx context.Context, id domain.ConnectionID, outbox ports.Outbox, identity *domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.registry.Get(id); !exists {
		c.metrics.ConnectionOpened()
	}
	c.registry.Register(id, outbox, identity)

	c.registry.Send(id, &domain.Message{
		Type: domain.TypeHello,
		Payload: domain.HelloPayload{
			ConnectionID: id,
			Roles:        c.roster.Roles(),
			Presence:     c.presence.Recompute(),
			NowPlaying:   c.nowPlaying.Snapshot(),
		},
	})
	c.logger.Debugw("Connection registered", "connection_id", id, "connections", c.registry.Len())
}

// HandleMessage decodes one inbound frame and dispatches it. A rejected
// message is answered with an error frame and also returned.
func (c *Coordinator) HandleMessage(ctx context.Context, id domain.ConnectionID, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(id)
	if !ok {
		c.logger.Debugw("Message from unknown connection ignored", "connection_id", id)
		return nil
	}

	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return c.reject(ctx, conn, "", apperrors.WrapError(err, apperrors.ErrCodeInvalidPayload,
			"malformed message envelope", http.StatusBadRequest))
	}
	c.metrics.MessageReceived(env.Type)

	handler, ok := c.handlers[env.Type]
	if !ok {
		return c.reject(ctx, conn, env.Type, apperrors.NewUnknownEventError(string(env.Type)))
	}
	if conn.Bound() {
		tracing.AddSpanAttributes(ctx, tracing.RoleKey.String(string(conn.Role())))
	}

	if err := handler(ctx, conn, env.Payload); err != nil {
		return c.reject(ctx, conn, env.Type, err)
	}
	c.updateGauges()
	return nil
}

// Disconnect unregisters id and reconciles presence, now-playing and rooms.
func (c *Coordinator) Disconnect(ctx context.Context, id domain.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registry.Get(id); !ok {
		return
	}

	before := c.presence.Recompute()
	left := c.rooms.LeaveAll(id)
	for _, roomID := range left {
		c.playback.Forget(id, roomID)
	}
	role, _ := c.registry.Unregister(id)
	c.metrics.ConnectionClosed()

	c.presence.Reconcile(before)
	c.purgeIfGone(role)
	for _, roomID := range left {
		c.announceDeparture(roomID, id, role)
	}
	c.updateGauges()

	c.logger.Infow("Connection closed", "connection_id", id, "role", role, "rooms_left", len(left))
}

// Snapshot returns the current presence and now-playing state.
func (c *Coordinator) Snapshot() ports.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ports.Snapshot{
		Presence:    c.presence.Recompute(),
		NowPlaying:  c.nowPlaying.Snapshot(),
		Connections: c.registry.Len(),
		Rooms:       c.rooms.Count(),
	}
}

func (c *Coordinator) reject(ctx context.Context, conn *Connection, msgType domain.MessageType, err error) error {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}

	c.metrics.MessageRejected(msgType, string(appErr.Code))
	tracing.RecordError(ctx, appErr)
	c.logger.Warnw("Message rejected",
		"connection_id", conn.ID,
		"type", msgType,
		"code", appErr.Code,
		"error", appErr.Message,
	)

	c.registry.Send(conn.ID, &domain.Message{
		Type: domain.TypeError,
		Payload: domain.ErrorPayload{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Type:    msgType,
		},
	})
	return appErr
}

func (c *Coordinator) updateGauges() {
	c.metrics.SetRolesOnline(len(c.registry.RolesOnline()))
	c.metrics.SetActiveRooms(c.rooms.Count())
}

// purgeIfGone drops role's now-playing entries once no connection is bound to it.
func (c *Coordinator) purgeIfGone(role domain.Role) {
	if role == "" || c.registry.HasRole(role) {
		return
	}
	if c.nowPlaying.OnDisconnect(role) {
		c.nowPlaying.Broadcast()
	}
}

func (c *Coordinator) announceDeparture(roomID domain.RoomID, id domain.ConnectionID, role domain.Role) {
	c.rooms.Broadcast(roomID, &domain.Message{
		Type:    domain.TypeMemberLeft,
		Payload: domain.MemberLeftPayload{RoomID: roomID, ConnectionID: id, Role: role},
	}, id)
	c.broadcastRoomPresence(roomID)
}

func (c *Coordinator) broadcastRoomPresence(roomID domain.RoomID) {
	c.rooms.Broadcast(roomID, &domain.Message{
		Type: domain.TypeRoomPresence,
		Payload: domain.RoomPresencePayload{
			RoomID: roomID,
			Roles:  c.rooms.RolesPresent(c.roster, roomID),
		},
	}, "")
}

func (c *Coordinator) refreshRoomPresence(conn *Connection) {
	for _, roomID := range c.rooms.RoomsOf(conn.ID) {
		c.broadcastRoomPresence(roomID)
	}
}

func (c *Coordinator) requireMember(conn *Connection, roomID domain.RoomID) error {
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		return apperrors.NewInvalidPayloadError(err.Error())
	}
	if !c.rooms.IsMember(conn.ID, roomID) {
		return apperrors.NewNotInRoomError(string(roomID))
	}
	return nil
}

func (c *Coordinator) requireRole(role domain.Role) error {
	if role == "" {
		return apperrors.NewInvalidPayloadError("role is required")
	}
	if !c.roster.Contains(role) {
		return apperrors.NewUnknownRoleError(string(role))
	}
	return nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, apperrors.NewInvalidPayloadError("payload is required")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperrors.WrapError(err, apperrors.ErrCodeInvalidPayload, "malformed payload", http.StatusBadRequest)
	}
	return v, nil
}

func invalid(err error) error {
	return apperrors.NewInvalidPayloadError(err.Error())
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened() {}
func (NopMetrics) ConnectionClosed() {}
func (NopMetrics) SetRolesOnline(int) {}
func (NopMetrics) SetActiveRooms(int) {}
func (NopMetrics) MessageReceived(domain.MessageType) {}
func (NopMetrics) MessageRejected(domain.MessageType, string) {}
func (NopMetrics) MessageDropped() {}
func (NopMetrics) ResyncAnswerDropped() {}

type nopRecorder struct{}

func (nopRecorder) Record(ports.PlayRecord) {}
