package services

import (
	"sort"
	"time"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
)

// Connection is the registry's record of one live client.
type Connection struct {
	ID          domain.ConnectionID
	Identity    *domain.Identity
	ConnectedAt time.Time

	role   domain.Role
	outbox ports.Outbox
}

// Role returns the bound role, or "" when the connection has not announced.
func (c *Connection) Role() domain.Role {
	return c.role
}

func (c *Connection) Bound() bool {
	return c.role != ""
}

// Registry tracks live connections and their role bindings.
// Not safe for concurrent use; the Coordinator serializes access.
type Registry struct {
	connections map[domain.ConnectionID]*Connection
	metrics     ports.CoordinatorMetrics
	now         func() time.Time
}

func NewRegistry(metrics ports.CoordinatorMetrics) *Registry {
	return &Registry{
		connections: make(map[domain.ConnectionID]*Connection),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Register adds an unbound connection. Re-registering an id replaces its outbox and keeps the binding.
func (r *Registry) Register(id domain.ConnectionID, outbox ports.Outbox, identity *domain.Identity) *Connection {
	if conn, ok := r.connections[id]; ok {
		conn.outbox = outbox
		conn.Identity = identity
		return conn
	}
	conn := &Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: r.now(),
		outbox:      outbox,
	}
	r.connections[id] = conn
	return conn
}

// AnnounceActive binds role to id and returns the previous binding.
func (r *Registry) AnnounceActive(id domain.ConnectionID, role domain.Role) (previous domain.Role, ok bool) {
	conn, ok := r.connections[id]
	if !ok {
		return "", false
	}
	previous = conn.role
	conn.role = role
	return previous, true
}

// AnnounceInactive clears the binding and returns the role that was bound.
func (r *Registry) AnnounceInactive(id domain.ConnectionID) (domain.Role, bool) {
	conn, ok := r.connections[id]
	if !ok {
		return "", false
	}
	role := conn.role
	conn.role = ""
	return role, true
}

// Unregister removes id and returns the role it was bound to.
func (r *Registry) Unregister(id domain.ConnectionID) (domain.Role, bool) {
	conn, ok := r.connections[id]
	if !ok {
		return "", false
	}
	delete(r.connections, id)
	return conn.role, true
}

func (r *Registry) Get(id domain.ConnectionID) (*Connection, bool) {
	conn, ok := r.connections[id]
	return conn, ok
}

func (r *Registry) Len() int {
	return len(r.connections)
}

// RolesOnline returns the set of roles with at least one bound connection.
func (r *Registry) RolesOnline() map[domain.Role]struct{} {
	online := make(map[domain.Role]struct{})
	for _, conn := range r.connections {
		if conn.role != "" {
			online[conn.role] = struct{}{}
		}
	}
	return online
}

// HasRole reports whether any live connection is bound to role.
func (r *Registry) HasRole(role domain.Role) bool {
	for _, conn := range r.connections {
		if conn.role == role {
			return true
		}
	}
	return false
}

// ConnectionsForRole returns bound connections for role, oldest first.
func (r *Registry) ConnectionsForRole(role domain.Role) []*Connection {
	var out []*Connection
	for _, conn := range r.connections {
		if conn.role == role {
			out = append(out, conn)
		}
	}
	sortConnections(out)
	return out
}

// All returns every registered connection, oldest first.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	sortConnections(out)
	return out
}

// Send enqueues msg on one connection. Unknown ids are ignored.
func (r *Registry) Send(id domain.ConnectionID, msg *domain.Message) bool {
	conn, ok := r.connections[id]
	if !ok {
		return false
	}
	return r.deliver(conn, msg)
}

// Broadcast enqueues msg on every connection and returns how many accepted it.
func (r *Registry) Broadcast(msg *domain.Message) int {
	return r.BroadcastWhere(msg, nil)
}

// BroadcastWhere enqueues msg on every connection accepted by keep (nil keeps all).
func (r *Registry) BroadcastWhere(msg *domain.Message, keep func(*Connection) bool) int {
	sent := 0
	for _, conn := range r.All() {
		if keep != nil && !keep(conn) {
			continue
		}
		if r.deliver(conn, msg) {
			sent++
		}
	}
	return sent
}

func (r *Registry) deliver(conn *Connection, msg *domain.Message) bool {
	if conn.outbox == nil {
		return false
	}
	if !conn.outbox.Deliver(msg) {
		r.metrics.MessageDropped()
		return false
	}
	return true
}

func sortConnections(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
}
