package domain

import (
	"encoding/json"
	"errors"
)

// MessageType is the "type" field of every wire frame.
type MessageType string

const (
	// Server to client
	TypeHello          MessageType = "hello"
	TypePresenceUpdate MessageType = "presenceUpdate"
	TypeStatusChange   MessageType = "statusChange"
	TypePartnerOnline  MessageType = "partnerOnline"
	TypeNowPlaying     MessageType = "nowPlaying"
	TypeRoomPresence   MessageType = "roomPresence"
	TypeMemberLeft     MessageType = "memberLeft"
	TypeError          MessageType = "error"

	// Client to server
	TypeAnnounceActive   MessageType = "announceActive"
	TypeAnnounceInactive MessageType = "announceInactive"
	TypeStartListening   MessageType = "startListening"
	TypeStopListening    MessageType = "stopListening"
	TypeJoinRoom         MessageType = "joinRoom"
	TypeLeaveRoom        MessageType = "leaveRoom"

	// Relayed in both directions
	TypeLoad          MessageType = "load"
	TypePlay          MessageType = "play"
	TypePause         MessageType = "pause"
	TypeSeek          MessageType = "seek"
	TypeSetLoop       MessageType = "setLoop"
	TypeRequestResync MessageType = "requestResync"
	TypeProvideResync MessageType = "provideResync"
	TypeSignal        MessageType = "signal"
	TypeFocusChanged  MessageType = "focusChanged"
	TypeConference    MessageType = "conference"
	TypeRoleRequest   MessageType = "roleRequest"
)

// Message is an outbound frame.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Envelope is an inbound frame with its payload left undecoded.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrMissingType = errors.New("message type is required")

// DecodeEnvelope parses the outer frame only.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.Type == "" {
		return env, ErrMissingType
	}
	return env, nil
}

// Inbound payloads

type AnnouncePayload struct {
	Role Role `json:"role"`
}

// ListeningPayload also accepts a bare JSON string holding the media item id.
type ListeningPayload struct {
	MediaItemID MediaItemID `json:"mediaItemId"`
}

func (p *ListeningPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.MediaItemID = MediaItemID(id)
		return nil
	}
	type plain ListeningPayload
	return json.Unmarshal(data, (*plain)(p))
}

type JoinRoomPayload struct {
	RoomID   RoomID          `json:"roomId"`
	Channels []SignalChannel `json:"channels,omitempty"`
}

type RoomPayload struct {
	RoomID RoomID `json:"roomId"`
}

type LoadPayload struct {
	RoomID      RoomID      `json:"roomId"`
	MediaItemID MediaItemID `json:"mediaItemId"`
}

type PositionPayload struct {
	RoomID   RoomID   `json:"roomId"`
	Position *float64 `json:"position"`
}

type LoopPayload struct {
	RoomID    RoomID `json:"roomId"`
	IsLooping *bool  `json:"isLooping"`
}

type ProvideResyncPayload struct {
	RoomID           RoomID         `json:"roomId"`
	TargetConnection ConnectionID   `json:"targetConnection"`
	State            *PlaybackState `json:"state"`
}

type SignalPayload struct {
	RoomID  RoomID          `json:"roomId"`
	Channel SignalChannel   `json:"channel"`
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Target  ConnectionID    `json:"target,omitempty"`
}

type FocusPayload struct {
	RoomID RoomID `json:"roomId"`
	Away   *bool  `json:"away"`
}

type ConferencePayload struct {
	RoomID  RoomID          `json:"roomId"`
	Kind    ConferenceKind  `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RoleRequestPayload struct {
	TargetRole Role            `json:"targetRole"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Outbound payloads

type HelloPayload struct {
	ConnectionID ConnectionID `json:"connectionId"`
	Roles        []Role       `json:"roles"`
	Presence     PresenceMap  `json:"presence"`
	NowPlaying   NowPlaying   `json:"nowPlaying"`
}

type StatusChangePayload struct {
	Role   Role           `json:"role"`
	Status PresenceStatus `json:"status"`
}

type PartnerOnlinePayload struct {
	Role    Role   `json:"role"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type RoomPresencePayload struct {
	RoomID RoomID        `json:"roomId"`
	Roles  map[Role]bool `json:"roles"`
}

type MemberLeftPayload struct {
	RoomID       RoomID       `json:"roomId"`
	ConnectionID ConnectionID `json:"connectionId"`
	Role         Role         `json:"role,omitempty"`
}

// PlaybackEvent is the relayed form of load, play, pause, seek and setLoop.
type PlaybackEvent struct {
	RoomID      RoomID       `json:"roomId"`
	MediaItemID MediaItemID  `json:"mediaItemId,omitempty"`
	Position    *float64     `json:"position,omitempty"`
	IsLooping   *bool        `json:"isLooping,omitempty"`
	From        ConnectionID `json:"from"`
	FromRole    Role         `json:"fromRole,omitempty"`
}

type ResyncRequestEvent struct {
	RoomID        RoomID       `json:"roomId"`
	Requester     ConnectionID `json:"requester"`
	RequesterRole Role         `json:"requesterRole,omitempty"`
}

type ResyncAnswerEvent struct {
	RoomID   RoomID        `json:"roomId"`
	From     ConnectionID  `json:"from"`
	FromRole Role          `json:"fromRole,omitempty"`
	State    PlaybackState `json:"state"`
}

type SignalEvent struct {
	RoomID   RoomID          `json:"roomId"`
	Channel  SignalChannel   `json:"channel"`
	Kind     SignalKind      `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	From     ConnectionID    `json:"from"`
	FromRole Role            `json:"fromRole,omitempty"`
}

type FocusEvent struct {
	RoomID   RoomID       `json:"roomId"`
	Away     bool         `json:"away"`
	From     ConnectionID `json:"from"`
	FromRole Role         `json:"fromRole,omitempty"`
}

type ConferenceEvent struct {
	RoomID   RoomID          `json:"roomId"`
	Kind     ConferenceKind  `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	From     ConnectionID    `json:"from"`
	FromRole Role            `json:"fromRole,omitempty"`
}

type RoleRequestEvent struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	From     ConnectionID    `json:"from"`
	FromRole Role            `json:"fromRole,omitempty"`
}

type ErrorPayload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Type    MessageType `json:"type,omitempty"`
}
