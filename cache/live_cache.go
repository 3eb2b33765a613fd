package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StepFM/db"
	"StepFM/model"

	"github.com/go-redis/redis/v8"
)

const (
	sessionPresenceKey = "session:%s:presence:%s" // String: heartbeat key (sessionID, playerID)
	sessionOnlineSet   = "session:%s:online"      // Set: player ids last known alive
	sessionSnapshotKey = "session:%s:snapshot"    // String: last serialized state
	sessionTTL         = 24 * time.Hour
	presenceTTL        = 150 * time.Second // heartbeat key expiry, a little over the stale threshold
)

// LiveCache mirrors live-session presence and the latest state snapshot into
// Redis. The in-memory actor stays authoritative; this mirror exists so HTTP
// and debug endpoints can answer without touching the actor, and so a restart
// can warm-start from the last snapshot.
type LiveCache struct {
	client *redis.Client
}

// NewLiveCache creates a live cache backed by the global Redis client.
func NewLiveCache() *LiveCache {
	return &LiveCache{client: db.RedisClient}
}

// ========== presence mirror ==========

// TouchPlayer refreshes the heartbeat key for a player.
func (c *LiveCache) TouchPlayer(ctx context.Context, sessionID, playerID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	presenceKey := fmt.Sprintf(sessionPresenceKey, sessionID, playerID)
	onlineKey := fmt.Sprintf(sessionOnlineSet, sessionID)

	pipe := c.client.Pipeline()
	pipe.Set(ctx, presenceKey, time.Now().UnixMilli(), presenceTTL)
	pipe.SAdd(ctx, onlineKey, playerID)
	pipe.Expire(ctx, onlineKey, sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemovePlayer removes a player's presence mirror.
func (c *LiveCache) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	presenceKey := fmt.Sprintf(sessionPresenceKey, sessionID, playerID)
	onlineKey := fmt.Sprintf(sessionOnlineSet, sessionID)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, presenceKey)
	pipe.SRem(ctx, onlineKey, playerID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActivePlayers returns the player ids whose heartbeat keys are still alive,
// pruning expired members from the online set as a side effect.
func (c *LiveCache) ActivePlayers(ctx context.Context, sessionID string) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	onlineKey := fmt.Sprintf(sessionOnlineSet, sessionID)
	members, err := c.client.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	active := make([]string, 0, len(members))
	expired := make([]interface{}, 0)

	for _, playerID := range members {
		presenceKey := fmt.Sprintf(sessionPresenceKey, sessionID, playerID)
		exists, err := c.client.Exists(ctx, presenceKey).Result()
		if err != nil {
			continue
		}
		if exists > 0 {
			active = append(active, playerID)
		} else {
			expired = append(expired, playerID)
		}
	}

	if len(expired) > 0 {
		c.client.SRem(ctx, onlineKey, expired...)
	}

	return active, nil
}

// ActivePlayerCount returns the number of players with live heartbeat keys.
func (c *LiveCache) ActivePlayerCount(ctx context.Context, sessionID string) (int64, error) {
	players, err := c.ActivePlayers(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return int64(len(players)), nil
}

// ========== snapshot mirror ==========

// SetSnapshot stores the latest authoritative state for a session.
func (c *LiveCache) SetSnapshot(ctx context.Context, sessionID string, state *model.SessionState) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf(sessionSnapshotKey, sessionID)
	return c.client.Set(ctx, key, data, sessionTTL).Err()
}

// GetSnapshot returns the cached state, or nil when absent.
func (c *LiveCache) GetSnapshot(ctx context.Context, sessionID string) (*model.SessionState, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	key := fmt.Sprintf(sessionSnapshotKey, sessionID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var state model.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ClearSession removes all mirrored keys for a session, including any
// still-live heartbeat keys.
func (c *LiveCache) ClearSession(ctx context.Context, sessionID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	onlineKey := fmt.Sprintf(sessionOnlineSet, sessionID)
	members, err := c.client.SMembers(ctx, onlineKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	keys := make([]string, 0, len(members)+2)
	for _, playerID := range members {
		keys = append(keys, fmt.Sprintf(sessionPresenceKey, sessionID, playerID))
	}
	keys = append(keys, onlineKey, fmt.Sprintf(sessionSnapshotKey, sessionID))
	return c.client.Del(ctx, keys...).Err()
}
