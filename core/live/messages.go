package live

import (
	"encoding/json"

	"StepFM/model"
)

// MessageType discriminates WebSocket envelopes. The protocol is symmetric:
// clients and server exchange the same envelope shape in both directions.
type MessageType string

const (
	// Clock synchronization
	MsgTypeClockSyncRequest  MessageType = "clock_sync_request"
	MsgTypeClockSyncResponse MessageType = "clock_sync_response"

	// Hash reconciliation
	MsgTypeStateHash       MessageType = "state_hash"
	MsgTypeStateHashMatch  MessageType = "state_hash_match"
	MsgTypeRequestSnapshot MessageType = "request_snapshot"
	MsgTypeSnapshot        MessageType = "snapshot"

	// State mutations (echoed to all other clients on success)
	MsgTypeStepToggle   MessageType = "step_toggle"
	MsgTypePlockSet     MessageType = "plock_set"
	MsgTypePlockClear   MessageType = "plock_clear"
	MsgTypeTrackAdd     MessageType = "track_add"
	MsgTypeTrackRemove  MessageType = "track_remove"
	MsgTypeTrackReorder MessageType = "track_reorder"
	MsgTypeTrackPropSet MessageType = "track_prop_set"
	MsgTypeTempoSet     MessageType = "tempo_set"
	MsgTypeSwingSet     MessageType = "swing_set"

	// Presence
	MsgTypePlayerJoin  MessageType = "player_join"
	MsgTypePlayerLeave MessageType = "player_leave"

	// Keepalive and errors
	MsgTypePing  MessageType = "ping"
	MsgTypePong  MessageType = "pong"
	MsgTypeError MessageType = "error"
)

// WSMessage is the wire envelope. An accepted mutation comes back to its own
// sender as the same envelope broadcast to everyone else; a client receiving
// a mutation whose playerId is its own must treat it as the acknowledgement
// of an already-applied local change (carrying the authoritative version),
// not as a change to apply again.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   uint64          `json:"version,omitempty"` // authoritative version after an accepted mutation
	Timestamp int64           `json:"timestamp"`
}

// ClockSyncData carries both directions of the clock exchange. The client
// computes rtt = localReceiveTime - clientTime and
// offset = serverTime - clientTime - rtt/2.
type ClockSyncData struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime,omitempty"`
}

// StateHashData carries a client's canonical state digest.
type StateHashData struct {
	Hash string `json:"hash"`
}

// SnapshotData is a full resync payload: complete authoritative state, the
// current player list, the receiving player's own id, and a server timestamp
// for clock alignment.
type SnapshotData struct {
	State             model.SessionState `json:"state"`
	Players           []model.Player     `json:"players"`
	PlayerID          string             `json:"playerId"`
	SnapshotTimestamp int64              `json:"snapshotTimestamp"`
}

// PlayerJoinData announces a newly registered player.
type PlayerJoinData struct {
	Player model.Player `json:"player"`
}

// PlayerLeaveData announces removed players. Reason is "disconnect" for clean
// closes and "stale" for prune-sweep removals.
type PlayerLeaveData struct {
	PlayerIDs []string `json:"playerIds"`
	Reason    string   `json:"reason"`
}

// ErrorData is sent to the offending client only, never broadcast.
type ErrorData struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}
