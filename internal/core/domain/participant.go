package domain

import "fmt"

// ConnectionID identifies one live client connection. Assigned by the transport.
type ConnectionID string

// Role is a participant identity from the configured closed set.
type Role string

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceMap reports the status of every role in the roster.
type PresenceMap map[Role]PresenceStatus

// Online reports whether role is marked online.
func (p PresenceMap) Online(role Role) bool {
	return p[role] == StatusOnline
}

// Participant is one roster entry.
type Participant struct {
	Role        Role
	DisplayName string
}

// Roster is the ordered, closed set of roles known to the coordinator.
type Roster struct {
	participants []Participant
	index        map[Role]int
}

// NewRoster builds a roster preserving the given order.
func NewRoster(participants ...Participant) (*Roster, error) {
	if len(participants) == 0 {
		return nil, ErrEmptyRoster
	}

	r := &Roster{
		participants: make([]Participant, 0, len(participants)),
		index:        make(map[Role]int, len(participants)),
	}
	for _, p := range participants {
		if p.Role == "" {
			return nil, fmt.Errorf("%w: empty role", ErrUnknownRole)
		}
		if _, exists := r.index[p.Role]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, p.Role)
		}
		if p.DisplayName == "" {
			p.DisplayName = string(p.Role)
		}
		r.index[p.Role] = len(r.participants)
		r.participants = append(r.participants, p)
	}
	return r, nil
}

// Contains reports whether role belongs to the roster.
func (r *Roster) Contains(role Role) bool {
	_, ok := r.index[role]
	return ok
}

// Roles returns the roles in roster order.
func (r *Roster) Roles() []Role {
	roles := make([]Role, len(r.participants))
	for i, p := range r.participants {
		roles[i] = p.Role
	}
	return roles
}

// DisplayName returns the configured name for role, or the role itself.
func (r *Roster) DisplayName(role Role) string {
	if i, ok := r.index[role]; ok {
		return r.participants[i].DisplayName
	}
	return string(role)
}

// Order returns the roster position of role, or -1.
func (r *Roster) Order(role Role) int {
	if i, ok := r.index[role]; ok {
		return i
	}
	return -1
}

// Identity is what the token verifier asserts about a caller.
type Identity struct {
	Subject string
	// Role is empty when the token does not pin the caller to a role.
	Role Role
}

// Allows reports whether the identity may announce role.
func (i *Identity) Allows(role Role) bool {
	if i == nil || i.Role == "" {
		return true
	}
	return i.Role == role
}
