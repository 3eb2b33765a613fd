package live

import (
	"context"
	"fmt"
	"sync"

	"StepFM/logger"
	"StepFM/model"
	"StepFM/repository"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionMirror is the full Redis-side view of live sessions: the
// actor-facing write half (Mirror) plus the reads the HTTP layer uses to
// answer without going through an actor.
type SessionMirror interface {
	Mirror
	GetSnapshot(ctx context.Context, sessionID string) (*model.SessionState, error)
	ActivePlayerCount(ctx context.Context, sessionID string) (int64, error)
}

// LiveManager owns all session actors. Exactly one actor exists per live
// session id; actors are created on the first connection, hydrated from
// persisted storage, and drop out of the map when they evict themselves.
type LiveManager struct {
	mu     sync.Mutex
	actors map[string]*SessionActor

	repo   repository.SessionRepository
	mirror SessionMirror
	cfg    ActorConfig
}

// NewLiveManager creates the manager. mirror may be nil when Redis is not
// available.
func NewLiveManager(repo repository.SessionRepository, mirror SessionMirror, cfg ActorConfig) *LiveManager {
	return &LiveManager{
		actors: make(map[string]*SessionActor),
		repo:   repo,
		mirror: mirror,
		cfg:    cfg,
	}
}

// Connect attaches an upgraded WebSocket connection to a session. An empty
// playerID gets a freshly issued v4 UUID, returned to the client inside the
// initial snapshot for it to persist.
func (m *LiveManager) Connect(ctx context.Context, sessionID string, conn *websocket.Conn, playerID, name, color string) error {
	if playerID == "" {
		playerID = uuid.NewString()
	}

	// an actor can evict itself between lookup and Join; retry with a fresh one
	for attempt := 0; attempt < 3; attempt++ {
		actor, err := m.attach(ctx, sessionID)
		if err != nil {
			return err
		}

		client := NewClient(actor, conn, playerID, name, color)
		if actor.Join(client) {
			go client.WritePump()
			go client.ReadPump()

			logger.Info("websocket connection established",
				logger.String("session", sessionID),
				logger.String("player", playerID))
			return nil
		}

		m.drop(sessionID, actor)
	}

	return fmt.Errorf("session %s: actor unavailable", sessionID)
}

// attach returns the session's actor, creating and hydrating one if needed.
func (m *LiveManager) attach(ctx context.Context, sessionID string) (*SessionActor, error) {
	m.mu.Lock()
	if actor, ok := m.actors[sessionID]; ok {
		m.mu.Unlock()
		return actor, nil
	}
	m.mu.Unlock()

	state, err := m.hydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// lost the race to another connection
	if actor, ok := m.actors[sessionID]; ok {
		return actor, nil
	}

	deps := ActorDeps{
		Persister: m.repo,
		OnStopped: func(a *SessionActor, crashed bool) {
			m.drop(sessionID, a)
			if crashed {
				logger.Error("session actor terminated abnormally, will rehydrate on next connection",
					logger.String("session", sessionID))
			}
		},
	}
	if m.mirror != nil {
		deps.Mirror = m.mirror
	}

	actor := NewSessionActor(sessionID, *state, m.cfg, deps)
	m.actors[sessionID] = actor
	go actor.Run()

	logger.Info("session actor started",
		logger.String("session", sessionID),
		logger.Uint64("version", state.Version))
	return actor, nil
}

// hydrate loads session state, preferring the Redis snapshot mirror when it
// is ahead of the database copy (warm restart after a crash-eviction).
func (m *LiveManager) hydrate(ctx context.Context, sessionID string) (*model.SessionState, error) {
	session, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	state := session.State

	if m.mirror != nil {
		if cached, err := m.mirror.GetSnapshot(ctx, sessionID); err == nil && cached != nil {
			if cached.Version > state.Version {
				logger.Info("hydrating session from cache snapshot",
					logger.String("session", sessionID),
					logger.Uint64("cacheVersion", cached.Version),
					logger.Uint64("dbVersion", state.Version))
				state = *cached
			}
		}
	}

	return &state, nil
}

func (m *LiveManager) drop(sessionID string, actor *SessionActor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[sessionID] == actor {
		delete(m.actors, sessionID)
	}
}

// MirroredPlayerCount reports a session's online player count from the Redis
// mirror. It never touches the session's actor; without a mirror it reports
// zero.
func (m *LiveManager) MirroredPlayerCount(ctx context.Context, sessionID string) int64 {
	if m.mirror == nil {
		return 0
	}
	count, err := m.mirror.ActivePlayerCount(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to read mirrored player count",
			logger.ErrorField(err),
			logger.String("session", sessionID))
		return 0
	}
	return count
}

// IsLive reports whether a session currently has an actor.
func (m *LiveManager) IsLive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.actors[sessionID]
	return ok
}

// Introspect returns point-in-time views of every live session.
func (m *LiveManager) Introspect(ctx context.Context) []SessionInfo {
	m.mu.Lock()
	actors := make([]*SessionActor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(actors))
	for _, a := range actors {
		if info, err := a.Info(ctx); err == nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// InspectSession returns the view of one live session, or an error when the
// session has no actor.
func (m *LiveManager) InspectSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	m.mu.Lock()
	actor, ok := m.actors[sessionID]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, fmt.Errorf("session %s is not live", sessionID)
	}
	return actor.Info(ctx)
}

// Shutdown stops all actors; each persists its state on the way down.
func (m *LiveManager) Shutdown() {
	m.mu.Lock()
	actors := make([]*SessionActor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
}
