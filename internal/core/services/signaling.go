package services

import (
	"encoding/json"

	"tandem/internal/core/domain"

	"go.uber.org/zap"
)

// SignalingRelay forwards opaque negotiation and invitation envelopes
// between room members. Payloads are never inspected.
type SignalingRelay struct {
	rooms  *RoomDirectory
	logger *zap.SugaredLogger
}

func NewSignalingRelay(rooms *RoomDirectory, logger *zap.SugaredLogger) *SignalingRelay {
	return &SignalingRelay{rooms: rooms, logger: logger}
}

// Relay delivers a signal to members subscribed to its channel. A non-empty
// target restricts delivery to that member.
func (s *SignalingRelay) Relay(from *Connection, sig domain.SignalPayload) int {
	msg := &domain.Message{
		Type: domain.TypeSignal,
		Payload: domain.SignalEvent{
			RoomID:   sig.RoomID,
			Channel:  sig.Channel,
			Kind:     sig.Kind,
			Payload:  sig.Payload,
			From:     from.ID,
			FromRole: from.Role(),
		},
	}

	if sig.Target != "" {
		if sig.Target == from.ID || !s.rooms.Subscribed(sig.Target, sig.RoomID, sig.Channel) {
			s.logger.Debugw("Signal target unavailable",
				"room_id", sig.RoomID, "channel", sig.Channel, "target", sig.Target)
			return 0
		}
		if s.rooms.Unicast(sig.Target, msg) {
			return 1
		}
		return 0
	}

	sent := s.rooms.broadcastWhere(sig.RoomID, msg, from.ID, func(_ domain.ConnectionID, m *membership) bool {
		return m.subscribed(sig.Channel)
	})
	if sent == 0 {
		s.logger.Debugw("Signal has no counterpart", "room_id", sig.RoomID, "channel", sig.Channel, "kind", sig.Kind)
	}
	return sent
}

// Conference relays a managed-conference invitation step to the room minus the sender.
func (s *SignalingRelay) Conference(from *Connection, roomID domain.RoomID, kind domain.ConferenceKind, payload json.RawMessage) int {
	return s.rooms.Broadcast(roomID, &domain.Message{
		Type: domain.TypeConference,
		Payload: domain.ConferenceEvent{
			RoomID:   roomID,
			Kind:     kind,
			Payload:  payload,
			From:     from.ID,
			FromRole: from.Role(),
		},
	}, from.ID)
}

// Focus tells the room that the sender's tab lost or regained focus.
func (s *SignalingRelay) Focus(from *Connection, roomID domain.RoomID, away bool) int {
	return s.rooms.Broadcast(roomID, &domain.Message{
		Type: domain.TypeFocusChanged,
		Payload: domain.FocusEvent{
			RoomID:   roomID,
			Away:     away,
			From:     from.ID,
			FromRole: from.Role(),
		},
	}, from.ID)
}
