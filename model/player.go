package model

// Player is a presence entry for one connected client. Display metadata is
// client-supplied and transient; it is not authoritative across reconnects.
type Player struct {
	PlayerID    string `json:"playerId"`
	Name        string `json:"name,omitempty"`
	Color       string `json:"color,omitempty"`
	ConnectedAt int64  `json:"connectedAt"` // server UnixMilli at registration
	LastSeenAt  int64  `json:"lastSeenAt"`  // server UnixMilli of last inbound message
}
