package services

import (
	"sort"
	"time"

	"tandem/internal/core/domain"
)

type membership struct {
	joinedAt time.Time
	channels map[domain.SignalChannel]struct{}
}

func (m *membership) subscribed(ch domain.SignalChannel) bool {
	_, ok := m.channels[ch]
	return ok
}

type room struct {
	id      domain.RoomID
	members map[domain.ConnectionID]*membership
}

// RoomDirectory holds room membership and channel subscriptions.
// Rooms exist only while they have members.
type RoomDirectory struct {
	registry *Registry
	rooms    map[domain.RoomID]*room
	now      func() time.Time
}

func NewRoomDirectory(registry *Registry) *RoomDirectory {
	return &RoomDirectory{
		registry: registry,
		rooms:    make(map[domain.RoomID]*room),
		now:      time.Now,
	}
}

// Join adds conn to roomID subscribed to channels (all channels when empty).
// A repeated join replaces the subscription and returns false.
func (d *RoomDirectory) Join(conn domain.ConnectionID, roomID domain.RoomID, channels []domain.SignalChannel) bool {
	if len(channels) == 0 {
		channels = domain.AllChannels
	}
	subs := make(map[domain.SignalChannel]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}

	r, ok := d.rooms[roomID]
	if !ok {
		r = &room{id: roomID, members: make(map[domain.ConnectionID]*membership)}
		d.rooms[roomID] = r
	}
	if m, exists := r.members[conn]; exists {
		m.channels = subs
		return false
	}
	r.members[conn] = &membership{joinedAt: d.now(), channels: subs}
	return true
}

// Leave removes conn from roomID and garbage-collects the room when empty.
func (d *RoomDirectory) Leave(conn domain.ConnectionID, roomID domain.RoomID) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	if _, member := r.members[conn]; !member {
		return false
	}
	delete(r.members, conn)
	if len(r.members) == 0 {
		delete(d.rooms, roomID)
	}
	return true
}

// LeaveAll removes conn from every room and returns the rooms it left, sorted.
func (d *RoomDirectory) LeaveAll(conn domain.ConnectionID) []domain.RoomID {
	var left []domain.RoomID
	for id, r := range d.rooms {
		if _, member := r.members[conn]; member {
			left = append(left, id)
		}
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	for _, id := range left {
		d.Leave(conn, id)
	}
	return left
}

func (d *RoomDirectory) IsMember(conn domain.ConnectionID, roomID domain.RoomID) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	_, member := r.members[conn]
	return member
}

// Subscribed reports whether conn is a member of roomID listening on ch.
func (d *RoomDirectory) Subscribed(conn domain.ConnectionID, roomID domain.RoomID, ch domain.SignalChannel) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	m, member := r.members[conn]
	return member && m.subscribed(ch)
}

// Members returns member ids of roomID in join order.
func (d *RoomDirectory) Members(roomID domain.RoomID) []domain.ConnectionID {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]domain.ConnectionID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.members[ids[i]], r.members[ids[j]]
		if a.joinedAt.Equal(b.joinedAt) {
			return ids[i] < ids[j]
		}
		return a.joinedAt.Before(b.joinedAt)
	})
	return ids
}

// RoomsOf returns the rooms conn belongs to, sorted.
func (d *RoomDirectory) RoomsOf(conn domain.ConnectionID) []domain.RoomID {
	var ids []domain.RoomID
	for id, r := range d.rooms {
		if _, member := r.members[conn]; member {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *RoomDirectory) Count() int {
	return len(d.rooms)
}

// Broadcast sends msg to every member of roomID except exclude.
func (d *RoomDirectory) Broadcast(roomID domain.RoomID, msg *domain.Message, exclude domain.ConnectionID) int {
	return d.broadcastWhere(roomID, msg, exclude, nil)
}

// broadcastWhere is Broadcast restricted to members accepted by keep.
func (d *RoomDirectory) broadcastWhere(roomID domain.RoomID, msg *domain.Message, exclude domain.ConnectionID, keep func(id domain.ConnectionID, m *membership) bool) int {
	r, ok := d.rooms[roomID]
	if !ok {
		return 0
	}
	sent := 0
	for _, id := range d.Members(roomID) {
		if id == exclude {
			continue
		}
		if keep != nil && !keep(id, r.members[id]) {
			continue
		}
		if d.registry.Send(id, msg) {
			sent++
		}
	}
	return sent
}

// Unicast sends msg to one connection.
func (d *RoomDirectory) Unicast(conn domain.ConnectionID, msg *domain.Message) bool {
	return d.registry.Send(conn, msg)
}

// RolesPresent reports, for every roster role, whether a member of roomID is bound to it.
func (d *RoomDirectory) RolesPresent(roster *domain.Roster, roomID domain.RoomID) map[domain.Role]bool {
	present := make(map[domain.Role]bool)
	for _, role := range roster.Roles() {
		present[role] = false
	}
	for _, id := range d.Members(roomID) {
		if conn, ok := d.registry.Get(id); ok && conn.Bound() {
			present[conn.Role()] = true
		}
	}
	return present
}
