package services

import (
	"tandem/internal/core/domain"
	"tandem/internal/core/ports"

	"go.uber.org/zap"
)

type resyncKey struct {
	room      domain.RoomID
	requester domain.ConnectionID
}

// PlaybackSync relays playback control between room members. It never
// stores or advances playback state. Resync answers are first-wins: a
// request arms a pending entry and the first answer addressed to that
// requester in that room is delivered, later ones are dropped.
type PlaybackSync struct {
	rooms   *RoomDirectory
	pending map[resyncKey]struct{}
	metrics ports.CoordinatorMetrics
	logger  *zap.SugaredLogger
}

func NewPlaybackSync(rooms *RoomDirectory, metrics ports.CoordinatorMetrics, logger *zap.SugaredLogger) *PlaybackSync {
	return &PlaybackSync{
		rooms:   rooms,
		pending: make(map[resyncKey]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Relay forwards a load, play, pause, seek or setLoop event to the room minus the sender.
func (p *PlaybackSync) Relay(from *Connection, msgType domain.MessageType, event domain.PlaybackEvent) int {
	event.From = from.ID
	event.FromRole = from.Role()
	return p.rooms.Broadcast(event.RoomID, &domain.Message{Type: msgType, Payload: event}, from.ID)
}

// RequestResync asks the other members of roomID for their state.
func (p *PlaybackSync) RequestResync(from *Connection, roomID domain.RoomID) int {
	p.pending[resyncKey{room: roomID, requester: from.ID}] = struct{}{}
	return p.rooms.Broadcast(roomID, &domain.Message{
		Type: domain.TypeRequestResync,
		Payload: domain.ResyncRequestEvent{
			RoomID:        roomID,
			Requester:     from.ID,
			RequesterRole: from.Role(),
		},
	}, from.ID)
}

// ProvideResync unicasts state to target if target is still waiting for an answer.
func (p *PlaybackSync) ProvideResync(from *Connection, roomID domain.RoomID, target domain.ConnectionID, state domain.PlaybackState) bool {
	key := resyncKey{room: roomID, requester: target}
	if _, waiting := p.pending[key]; !waiting {
		p.metrics.ResyncAnswerDropped()
		p.logger.Debugw("Resync answer dropped", "room_id", roomID, "target", target, "from", from.ID)
		return false
	}
	if !p.rooms.IsMember(target, roomID) {
		delete(p.pending, key)
		p.logger.Debugw("Resync target left the room", "room_id", roomID, "target", target)
		return false
	}

	delete(p.pending, key)
	return p.rooms.Unicast(target, &domain.Message{
		Type: domain.TypeProvideResync,
		Payload: domain.ResyncAnswerEvent{
			RoomID:   roomID,
			From:     from.ID,
			FromRole: from.Role(),
			State:    state,
		},
	})
}

// Forget clears the pending request of conn in roomID.
func (p *PlaybackSync) Forget(conn domain.ConnectionID, roomID domain.RoomID) {
	delete(p.pending, resyncKey{room: roomID, requester: conn})
}

func (p *PlaybackSync) Pending(conn domain.ConnectionID, roomID domain.RoomID) bool {
	_, ok := p.pending[resyncKey{room: roomID, requester: conn}]
	return ok
}
