package services

import (
	"sort"

	"tandem/internal/core/domain"
)

// NowPlayingAggregator tracks which roles are listening to which media items.
type NowPlayingAggregator struct {
	roster    *domain.Roster
	registry  *Registry
	listeners map[domain.MediaItemID]map[domain.Role]struct{}
}

func NewNowPlayingAggregator(roster *domain.Roster, registry *Registry) *NowPlayingAggregator {
	return &NowPlayingAggregator{
		roster:    roster,
		registry:  registry,
		listeners: make(map[domain.MediaItemID]map[domain.Role]struct{}),
	}
}

// Start adds role to item's listener set and reports whether the set changed.
func (n *NowPlayingAggregator) Start(item domain.MediaItemID, role domain.Role) bool {
	set, ok := n.listeners[item]
	if !ok {
		set = make(map[domain.Role]struct{})
		n.listeners[item] = set
	}
	if _, exists := set[role]; exists {
		return false
	}
	set[role] = struct{}{}
	return true
}

// Stop removes role from item's listener set, dropping the set once empty.
func (n *NowPlayingAggregator) Stop(item domain.MediaItemID, role domain.Role) bool {
	set, ok := n.listeners[item]
	if !ok {
		return false
	}
	if _, exists := set[role]; !exists {
		return false
	}
	delete(set, role)
	if len(set) == 0 {
		delete(n.listeners, item)
	}
	return true
}

// OnDisconnect removes role from every set.
func (n *NowPlayingAggregator) OnDisconnect(role domain.Role) bool {
	changed := false
	for item, set := range n.listeners {
		if _, ok := set[role]; !ok {
			continue
		}
		delete(set, role)
		changed = true
		if len(set) == 0 {
			delete(n.listeners, item)
		}
	}
	return changed
}

// Snapshot returns a copy with roles in roster order.
func (n *NowPlayingAggregator) Snapshot() domain.NowPlaying {
	snap := make(domain.NowPlaying, len(n.listeners))
	for item, set := range n.listeners {
		roles := make([]domain.Role, 0, len(set))
		for role := range set {
			roles = append(roles, role)
		}
		sort.Slice(roles, func(i, j int) bool {
			return n.roster.Order(roles[i]) < n.roster.Order(roles[j])
		})
		snap[item] = roles
	}
	return snap
}

func (n *NowPlayingAggregator) Broadcast() int {
	return n.registry.Broadcast(&domain.Message{Type: domain.TypeNowPlaying, Payload: n.Snapshot()})
}
