package services

import (
	"fmt"

	"tandem/internal/core/domain"

	"go.uber.org/zap"
)

// PresenceBroadcaster derives presence from registry bindings and pushes it to clients.
type PresenceBroadcaster struct {
	roster   *domain.Roster
	registry *Registry
	logger   *zap.SugaredLogger
}

func NewPresenceBroadcaster(roster *domain.Roster, registry *Registry, logger *zap.SugaredLogger) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		roster:   roster,
		registry: registry,
		logger:   logger,
	}
}

// Recompute returns the status of every roster role.
func (p *PresenceBroadcaster) Recompute() domain.PresenceMap {
	online := p.registry.RolesOnline()
	presence := make(domain.PresenceMap, len(online))
	for _, role := range p.roster.Roles() {
		if _, ok := online[role]; ok {
			presence[role] = domain.StatusOnline
		} else {
			presence[role] = domain.StatusOffline
		}
	}
	return presence
}

func (p *PresenceBroadcaster) BroadcastAll(presence domain.PresenceMap) int {
	return p.registry.Broadcast(&domain.Message{Type: domain.TypePresenceUpdate, Payload: presence})
}

// Reconcile broadcasts the current presence after a registry mutation.
// before is the map computed prior to the mutation. Roles whose status
// changed get a statusChange broadcast, and roles that came online get a
// partnerOnline notice sent to connections bound to other roles. Both
// follow the full presenceUpdate broadcast.
func (p *PresenceBroadcaster) Reconcile(before domain.PresenceMap) domain.PresenceMap {
	after := p.Recompute()
	p.BroadcastAll(after)

	for _, role := range p.roster.Roles() {
		if before[role] == after[role] {
			continue
		}
		p.registry.Broadcast(&domain.Message{
			Type:    domain.TypeStatusChange,
			Payload: domain.StatusChangePayload{Role: role, Status: after[role]},
		})
		if after.Online(role) {
			p.notifyPartners(role)
		}
	}
	return after
}

func (p *PresenceBroadcaster) notifyPartners(role domain.Role) {
	name := p.roster.DisplayName(role)
	msg := &domain.Message{
		Type: domain.TypePartnerOnline,
		Payload: domain.PartnerOnlinePayload{
			Role:    role,
			Name:    name,
			Message: fmt.Sprintf("%s is online", name),
		},
	}
	sent := p.registry.BroadcastWhere(msg, func(c *Connection) bool {
		return c.Bound() && c.Role() != role
	})
	p.logger.Debugw("Partner online notice sent", "role", role, "recipients", sent)
}
