package ports

import (
	"context"

	"tandem/internal/core/domain"
)

// TokenVerifier answers "who is this caller" for a bearer token.
type TokenVerifier interface {
	Verify(token string) (*domain.Identity, error)
}

// PlayRecorder receives play records. Record must not block the caller.
type PlayRecorder interface {
	Record(record PlayRecord)
}

// CoordinatorMetrics is the subset of instrumentation the coordinator reports.
type CoordinatorMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	SetRolesOnline(n int)
	SetActiveRooms(n int)
	MessageReceived(msgType domain.MessageType)
	MessageRejected(msgType domain.MessageType, code string)
	MessageDropped()
	ResyncAnswerDropped()
}

// Snapshot is a read-only view of coordinator state for the HTTP API.
type Snapshot struct {
	Presence    domain.PresenceMap `json:"presence"`
	NowPlaying  domain.NowPlaying  `json:"nowPlaying"`
	Connections int                `json:"connections"`
	Rooms       int                `json:"rooms"`
}

type Coordinator interface {
	Connect(ctx context.Context, id domain.ConnectionID, outbox Outbox, identity *domain.Identity)
	HandleMessage(ctx context.Context, id domain.ConnectionID, data []byte) error
	Disconnect(ctx context.Context, id domain.ConnectionID)
	Snapshot() Snapshot
}
