package services

import (
	"context"
	"encoding/json"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	apperrors "tandem/pkg/errors"
	"tandem/pkg/tracing"
	"tandem/pkg/validation"
)

func (c *Coordinator) handleAnnounceActive(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.AnnouncePayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireRole(p.Role); err != nil {
		return err
	}
	if !conn.Identity.Allows(p.Role) {
		return apperrors.NewForbiddenError("token does not permit announcing role " + string(p.Role))
	}

	before := c.presence.Recompute()
	previous, _ := c.registry.AnnounceActive(conn.ID, p.Role)
	c.presence.Reconcile(before)

	if previous != p.Role {
		c.purgeIfGone(previous)
		c.refreshRoomPresence(conn)
	}
	c.logger.Infow("Role announced active", "connection_id", conn.ID, "role", p.Role)
	return nil
}

// announceInactive unbinds whatever role the connection holds; a role in
// the payload is accepted and ignored.
func (c *Coordinator) handleAnnounceInactive(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	if len(raw) > 0 && string(raw) != "null" {
		if _, err := decodePayload[domain.AnnouncePayload](raw); err != nil {
			return err
		}
	}
	if !conn.Bound() {
		return nil
	}

	before := c.presence.Recompute()
	role, _ := c.registry.AnnounceInactive(conn.ID)
	c.presence.Reconcile(before)
	c.purgeIfGone(role)
	c.refreshRoomPresence(conn)

	c.logger.Infow("Role announced inactive", "connection_id", conn.ID, "role", role)
	return nil
}

func (c *Coordinator) handleStartListening(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.ListeningPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.ValidateMediaItemID(string(p.MediaItemID)); err != nil {
		return invalid(err)
	}
	if !conn.Bound() {
		c.logger.Debugw("startListening from unbound connection ignored", "connection_id", conn.ID)
		return nil
	}
	tracing.AddSpanAttributes(ctx, tracing.MediaItemKey.String(string(p.MediaItemID)))

	if c.nowPlaying.Start(p.MediaItemID, conn.Role()) {
		c.nowPlaying.Broadcast()
		c.recorder.Record(ports.PlayRecord{MediaItemID: p.MediaItemID, Role: conn.Role()})
	}
	return nil
}

func (c *Coordinator) handleStopListening(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.ListeningPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.ValidateMediaItemID(string(p.MediaItemID)); err != nil {
		return invalid(err)
	}
	if !conn.Bound() {
		c.logger.Debugw("stopListening from unbound connection ignored", "connection_id", conn.ID)
		return nil
	}

	if c.nowPlaying.Stop(p.MediaItemID, conn.Role()) {
		c.nowPlaying.Broadcast()
	}
	return nil
}

func (c *Coordinator) handleJoinRoom(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.JoinRoomPayload](raw)
	if err != nil {
		return err
	}
	if err := validation.ValidateRoomID(string(p.RoomID)); err != nil {
		return invalid(err)
	}
	for _, ch := range p.Channels {
		if !ch.Valid() {
			return apperrors.NewInvalidPayloadError("unknown channel " + string(ch))
		}
	}
	tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(p.RoomID)))

	if c.rooms.Join(conn.ID, p.RoomID, p.Channels) {
		c.broadcastRoomPresence(p.RoomID)
		c.logger.Infow("Joined room", "connection_id", conn.ID, "room_id", p.RoomID,
			"members", len(c.rooms.Members(p.RoomID)))
	}
	return nil
}

func (c *Coordinator) handleLeaveRoom(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.RoomPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}

	c.rooms.Leave(conn.ID, p.RoomID)
	c.playback.Forget(conn.ID, p.RoomID)
	c.announceDeparture(p.RoomID, conn.ID, conn.Role())
	c.logger.Infow("Left room", "connection_id", conn.ID, "room_id", p.RoomID)
	return nil
}

func (c *Coordinator) handleLoad(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.LoadPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if err := validation.ValidateMediaItemID(string(p.MediaItemID)); err != nil {
		return invalid(err)
	}

	c.playback.Relay(conn, domain.TypeLoad, domain.PlaybackEvent{RoomID: p.RoomID, MediaItemID: p.MediaItemID})
	return nil
}

func (c *Coordinator) handlePosition(msgType domain.MessageType) handlerFunc {
	return func(ctx context.Context, conn *Connection, raw json.RawMessage) error {
		p, err := decodePayload[domain.PositionPayload](raw)
		if err != nil {
			return err
		}
		if err := c.requireMember(conn, p.RoomID); err != nil {
			return err
		}
		if err := validation.ValidatePosition(p.Position); err != nil {
			return invalid(err)
		}

		c.playback.Relay(conn, msgType, domain.PlaybackEvent{RoomID: p.RoomID, Position: p.Position})
		return nil
	}
}

func (c *Coordinator) handleSetLoop(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.LoopPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if p.IsLooping == nil {
		return apperrors.NewInvalidPayloadError("isLooping is required")
	}

	c.playback.Relay(conn, domain.TypeSetLoop, domain.PlaybackEvent{RoomID: p.RoomID, IsLooping: p.IsLooping})
	return nil
}

func (c *Coordinator) handleRequestResync(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.RoomPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}

	if c.playback.RequestResync(conn, p.RoomID) == 0 {
		c.logger.Debugw("Resync requested in a room with no peers", "connection_id", conn.ID, "room_id", p.RoomID)
	}
	return nil
}

func (c *Coordinator) handleProvideResync(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.ProvideResyncPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if err := validation.ValidateConnectionID(string(p.TargetConnection)); err != nil {
		return invalid(err)
	}
	if p.State == nil {
		return apperrors.NewInvalidPayloadError("state is required")
	}
	if err := validation.ValidatePosition(&p.State.Position); err != nil {
		return invalid(err)
	}

	c.playback.ProvideResync(conn, p.RoomID, p.TargetConnection, *p.State)
	return nil
}

func (c *Coordinator) handleSignal(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.SignalPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if !p.Channel.Valid() {
		return apperrors.NewInvalidPayloadError("unknown channel " + string(p.Channel))
	}
	if !p.Kind.Valid() {
		return apperrors.NewInvalidPayloadError("unknown signal kind " + string(p.Kind))
	}
	if err := validation.ValidateOpaqueJSON(p.Payload, "payload", p.Kind != domain.SignalStop); err != nil {
		return invalid(err)
	}

	c.signaling.Relay(conn, p)
	return nil
}

func (c *Coordinator) handleFocusChanged(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.FocusPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if p.Away == nil {
		return apperrors.NewInvalidPayloadError("away is required")
	}

	c.signaling.Focus(conn, p.RoomID, *p.Away)
	return nil
}

func (c *Coordinator) handleConference(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.ConferencePayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireMember(conn, p.RoomID); err != nil {
		return err
	}
	if !p.Kind.Valid() {
		return apperrors.NewInvalidPayloadError("unknown conference kind " + string(p.Kind))
	}
	if err := validation.ValidateOpaqueJSON(p.Payload, "payload", false); err != nil {
		return invalid(err)
	}

	c.signaling.Conference(conn, p.RoomID, p.Kind, p.Payload)
	return nil
}

func (c *Coordinator) handleRoleRequest(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decodePayload[domain.RoleRequestPayload](raw)
	if err != nil {
		return err
	}
	if err := c.requireRole(p.TargetRole); err != nil {
		return err
	}
	if err := validation.ValidateTopic(p.Topic); err != nil {
		return invalid(err)
	}
	if err := validation.ValidateOpaqueJSON(p.Payload, "payload", false); err != nil {
		return invalid(err)
	}

	msg := &domain.Message{
		Type: domain.TypeRoleRequest,
		Payload: domain.RoleRequestEvent{
			Topic:    p.Topic,
			Payload:  p.Payload,
			From:     conn.ID,
			FromRole: conn.Role(),
		},
	}
	sent := 0
	for _, target := range c.registry.ConnectionsForRole(p.TargetRole) {
		if target.ID != conn.ID && c.registry.Send(target.ID, msg) {
			sent++
		}
	}
	if sent == 0 {
		c.logger.Debugw("Role request has no recipient", "target_role", p.TargetRole, "topic", p.Topic)
	}
	return nil
}
