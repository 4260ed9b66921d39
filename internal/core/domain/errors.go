package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUnknownRole        = errors.New("unknown role")
	ErrRoleNotBound       = errors.New("connection has no bound role")
	ErrNotInRoom          = errors.New("connection is not a member of the room")
	ErrInvalidChannel     = errors.New("invalid signal channel")
	ErrInvalidSignalKind  = errors.New("invalid signal kind")
	ErrInvalidConference  = errors.New("invalid conference kind")
	ErrEmptyRoster        = errors.New("roster must contain at least one role")
	ErrDuplicateRole      = errors.New("duplicate role in roster")
	ErrInvalidTransition  = errors.New("invalid playback transition")
)
