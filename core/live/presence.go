package live

import (
	"time"

	"StepFM/model"
)

// Presence constants. Liveness is time-decayed rather than event-driven:
// transports can drop silently without a close frame, so a player is alive
// only as long as something was heard from them recently.
const (
	// StaleConnectionThreshold is how long a player may stay silent before the
	// prune sweep removes them.
	StaleConnectionThreshold = 120 * time.Second

	// PruneCheckInterval is how often the sweep runs.
	PruneCheckInterval = 60 * time.Second
)

// PresenceRegistry tracks which players are connected to one session. It is
// owned by the session actor and is not safe for concurrent use.
type PresenceRegistry struct {
	players map[string]*model.Player
	order   []string // registration order, kept stable for listings
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		players: make(map[string]*model.Player),
	}
}

// Register creates a presence entry or, when the player is already known,
// refreshes LastSeenAt and display metadata. ConnectedAt is never reused for
// a player that was previously pruned; they re-enter as a fresh registration.
func (r *PresenceRegistry) Register(playerID, name, color string, now time.Time) *model.Player {
	ms := now.UnixMilli()
	if p, ok := r.players[playerID]; ok {
		p.LastSeenAt = ms
		if name != "" {
			p.Name = name
		}
		if color != "" {
			p.Color = color
		}
		return p
	}

	p := &model.Player{
		PlayerID:    playerID,
		Name:        name,
		Color:       color,
		ConnectedAt: ms,
		LastSeenAt:  ms,
	}
	r.players[playerID] = p
	r.order = append(r.order, playerID)
	return p
}

// Touch refreshes LastSeenAt. Returns false for unknown players.
func (r *PresenceRegistry) Touch(playerID string, now time.Time) bool {
	p, ok := r.players[playerID]
	if !ok {
		return false
	}
	p.LastSeenAt = now.UnixMilli()
	return true
}

// Remove deletes a presence entry. Returns false for unknown players.
func (r *PresenceRegistry) Remove(playerID string) bool {
	if _, ok := r.players[playerID]; !ok {
		return false
	}
	delete(r.players, playerID)
	for i, id := range r.order {
		if id == playerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// PruneStale removes every player whose silence exceeds the threshold and
// returns their ids.
func (r *PresenceRegistry) PruneStale(now time.Time, threshold time.Duration) []string {
	cutoff := now.Add(-threshold).UnixMilli()
	var removed []string
	for _, id := range r.order {
		if p := r.players[id]; p != nil && p.LastSeenAt < cutoff {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		r.Remove(id)
	}
	return removed
}

// ListActive returns copies of all presence entries in registration order.
func (r *PresenceRegistry) ListActive() []model.Player {
	out := make([]model.Player, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.players[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Contains reports whether a player is registered.
func (r *PresenceRegistry) Contains(playerID string) bool {
	_, ok := r.players[playerID]
	return ok
}

// Len returns the number of registered players.
func (r *PresenceRegistry) Len() int {
	return len(r.players)
}
