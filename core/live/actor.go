package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StepFM/logger"
	"StepFM/model"
)

// Mirror is the optional Redis-side presence/snapshot mirror. All mirror
// calls are fire-and-forget; the in-memory actor stays authoritative.
type Mirror interface {
	TouchPlayer(ctx context.Context, sessionID, playerID string) error
	RemovePlayer(ctx context.Context, sessionID, playerID string) error
	SetSnapshot(ctx context.Context, sessionID string, state *model.SessionState) error
	ClearSession(ctx context.Context, sessionID string) error
}

// Persister receives the final state on actor shutdown. Durability is a
// best-effort hand-off; retry policy belongs to the storage layer.
type Persister interface {
	SaveState(ctx context.Context, id string, state *model.SessionState) error
}

// ActorConfig tunes one session actor.
type ActorConfig struct {
	StepsPerTrack  int
	StaleThreshold time.Duration
	PruneInterval  time.Duration
	EvictGrace     time.Duration
}

// DefaultActorConfig returns the protocol's designed-for tunables.
func DefaultActorConfig() ActorConfig {
	return ActorConfig{
		StepsPerTrack:  model.DefaultStepsPerTrack,
		StaleThreshold: StaleConnectionThreshold,
		PruneInterval:  PruneCheckInterval,
		EvictGrace:     60 * time.Second,
	}
}

// ActorDeps are the actor's collaborators. Any of them may be nil.
type ActorDeps struct {
	Mirror    Mirror
	Persister Persister
	// OnStopped is invoked from the actor goroutine after Run returns, with
	// crashed=true when the actor died on an internal invariant violation.
	OnStopped func(a *SessionActor, crashed bool)
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evMessage
	evInfo
	evStop
)

type actorEvent struct {
	kind      eventKind
	client    *Client
	clean     bool
	msg       *WSMessage
	infoReply chan SessionInfo
}

// SessionInfo is a point-in-time view of one live session, for debug
// introspection.
type SessionInfo struct {
	SessionID   string         `json:"sessionId"`
	Version     uint64         `json:"version"`
	Hash        string         `json:"hash"`
	Connections int            `json:"connections"`
	Players     []model.Player `json:"players"`
}

// SessionActor exclusively owns one live session: its state store, its
// presence registry, and its set of connections. Everything that touches the
// session arrives through the mailbox and runs to completion before the next
// event, so there is no write-write race to resolve anywhere inside.
type SessionActor struct {
	sessionID string
	store     *Store
	presence  *PresenceRegistry
	clients   map[*Client]struct{}
	byPlayer  map[string]*Client

	mailbox chan actorEvent
	quit    chan struct{}

	cfg  ActorConfig
	deps ActorDeps
	now  func() time.Time

	emptySince time.Time
}

// NewSessionActor builds an actor around hydrated state. Run must be started
// by the caller.
func NewSessionActor(sessionID string, state model.SessionState, cfg ActorConfig, deps ActorDeps) *SessionActor {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = StaleConnectionThreshold
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = PruneCheckInterval
	}
	if cfg.EvictGrace <= 0 {
		cfg.EvictGrace = 60 * time.Second
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SessionActor{
		sessionID: sessionID,
		store:     NewStore(state, cfg.StepsPerTrack),
		presence:  NewPresenceRegistry(),
		clients:   make(map[*Client]struct{}),
		byPlayer:  make(map[string]*Client),
		mailbox:   make(chan actorEvent, 256),
		quit:      make(chan struct{}),
		cfg:       cfg,
		deps:      deps,
		now:       nowFn,
	}
}

// SessionID returns the session id this actor owns.
func (a *SessionActor) SessionID() string {
	return a.sessionID
}

// Run is the actor loop. A panic inside an event handler is the fatal-error
// path: the actor tears down without persisting its possibly-inconsistent
// state, and the manager recreates a fresh actor from the last durable
// snapshot on the next connection.
func (a *SessionActor) Run() {
	ticker := time.NewTicker(a.cfg.PruneInterval)
	crashed := false

	defer func() {
		if r := recover(); r != nil {
			crashed = true
			logger.Error("session actor crashed",
				logger.String("session", a.sessionID),
				logger.Any("panic", r))
		}
		ticker.Stop()
		close(a.quit)
		a.shutdown(crashed)
	}()

	for {
		select {
		case ev := <-a.mailbox:
			switch ev.kind {
			case evJoin:
				a.handleJoin(ev.client, a.now())
			case evLeave:
				a.handleLeave(ev.client, ev.clean, a.now())
			case evMessage:
				a.handleMessage(ev.client, ev.msg, a.now())
			case evInfo:
				ev.infoReply <- a.info()
			case evStop:
				return
			}

		case <-ticker.C:
			if evict := a.handleTick(a.now()); evict {
				return
			}
		}
	}
}

func (a *SessionActor) post(ev actorEvent) bool {
	select {
	case a.mailbox <- ev:
		return true
	case <-a.quit:
		return false
	}
}

// Join registers a connection with the actor. It returns false when the
// actor has already stopped and the caller must attach to a fresh one.
func (a *SessionActor) Join(c *Client) bool {
	return a.post(actorEvent{kind: evJoin, client: c})
}

// Leave detaches a connection. clean indicates a proper close handshake; an
// unclean close leaves the presence entry to the staleness sweep.
func (a *SessionActor) Leave(c *Client, clean bool) {
	a.post(actorEvent{kind: evLeave, client: c, clean: clean})
}

// Deliver hands an inbound envelope to the actor.
func (a *SessionActor) Deliver(c *Client, msg *WSMessage) {
	a.post(actorEvent{kind: evMessage, client: c, msg: msg})
}

// Stop shuts the actor down after in-flight events drain.
func (a *SessionActor) Stop() {
	a.post(actorEvent{kind: evStop})
}

// Info fetches a consistent snapshot of actor state for introspection.
func (a *SessionActor) Info(ctx context.Context) (SessionInfo, error) {
	reply := make(chan SessionInfo, 1)
	if !a.post(actorEvent{kind: evInfo, infoReply: reply}) {
		return SessionInfo{}, fmt.Errorf("session actor stopped")
	}
	select {
	case info := <-reply:
		return info, nil
	case <-a.quit:
		return SessionInfo{}, fmt.Errorf("session actor stopped")
	case <-ctx.Done():
		return SessionInfo{}, ctx.Err()
	}
}

// ========== event handlers (actor goroutine only) ==========

func (a *SessionActor) handleJoin(c *Client, now time.Time) {
	// one connection per player; a reconnect replaces the old transport
	if old, ok := a.byPlayer[c.PlayerID]; ok && old != c {
		a.dropClient(old)
	}

	a.clients[c] = struct{}{}
	a.byPlayer[c.PlayerID] = c
	a.emptySince = time.Time{}

	player := a.presence.Register(c.PlayerID, c.Name, c.Color, now)
	a.mirrorTouch(c.PlayerID)

	a.sendSnapshot(c, now)
	c.setState(StateOpen)

	a.broadcastData(MsgTypePlayerJoin, &PlayerJoinData{Player: *player}, c, now)

	logger.Info("player joined session",
		logger.String("session", a.sessionID),
		logger.String("player", c.PlayerID),
		logger.Int("connections", len(a.clients)))
}

func (a *SessionActor) handleLeave(c *Client, clean bool, now time.Time) {
	if _, ok := a.clients[c]; !ok {
		return
	}
	a.dropClient(c)

	if clean {
		a.presence.Remove(c.PlayerID)
		a.mirrorRemove(c.PlayerID)
		a.broadcastData(MsgTypePlayerLeave, &PlayerLeaveData{
			PlayerIDs: []string{c.PlayerID},
			Reason:    "disconnect",
		}, nil, now)
	}
	// unclean closes keep their presence entry; the prune sweep owns removal

	if len(a.clients) == 0 && a.emptySince.IsZero() {
		a.emptySince = now
	}

	logger.Info("player left session",
		logger.String("session", a.sessionID),
		logger.String("player", c.PlayerID),
		logger.Bool("clean", clean),
		logger.Int("connections", len(a.clients)))
}

func (a *SessionActor) handleMessage(c *Client, msg *WSMessage, now time.Time) {
	// every inbound message counts as liveness; a player pruned earlier
	// re-enters as a fresh registration
	if a.presence.Contains(c.PlayerID) {
		a.presence.Touch(c.PlayerID, now)
	} else {
		player := a.presence.Register(c.PlayerID, c.Name, c.Color, now)
		a.broadcastData(MsgTypePlayerJoin, &PlayerJoinData{Player: *player}, c, now)
	}
	a.mirrorTouch(c.PlayerID)

	switch {
	case msg.Type == MsgTypePing:
		c.send(&WSMessage{Type: MsgTypePong, SessionID: a.sessionID, Timestamp: now.UnixMilli()})

	case msg.Type == MsgTypeClockSyncRequest:
		resp, err := clockSyncResponse(a.sessionID, msg.Data, now)
		if err != nil {
			a.sendError(c, "bad_clock_sync", err, now)
			return
		}
		c.send(resp)

	case msg.Type == MsgTypeStateHash:
		a.handleStateHash(c, msg, now)

	case msg.Type == MsgTypeRequestSnapshot:
		a.sendSnapshot(c, now)

	case IsMutation(msg.Type):
		a.handleMutation(c, msg, now)

	default:
		a.sendError(c, "unknown_type",
			validationErrorf("type", "unknown message type %q", msg.Type), now)
	}
}

func (a *SessionActor) handleStateHash(c *Client, msg *WSMessage, now time.Time) {
	var d StateHashData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		a.sendError(c, "bad_state_hash",
			validationErrorf("data", "malformed state_hash payload"), now)
		return
	}

	if d.Hash == a.store.Hash() {
		c.send(&WSMessage{
			Type:      MsgTypeStateHashMatch,
			SessionID: a.sessionID,
			Timestamp: now.UnixMilli(),
		})
		return
	}

	// divergence: resync proactively rather than waiting for the client to ask
	logger.Warn("state hash divergence, sending snapshot",
		logger.String("session", a.sessionID),
		logger.String("player", c.PlayerID),
		logger.Uint64("version", a.store.Version()))
	a.sendSnapshot(c, now)
}

func (a *SessionActor) handleMutation(c *Client, msg *WSMessage, now time.Time) {
	result, err := a.store.Apply(msg.Type, msg.Data)
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			a.sendError(c, "validation", verr, now)
			logger.Debug("mutation rejected",
				logger.String("session", a.sessionID),
				logger.String("player", c.PlayerID),
				logger.String("type", string(msg.Type)),
				logger.ErrorField(verr))
			return
		}
		a.sendError(c, "internal", err, now)
		return
	}

	data, merr := json.Marshal(result.Data)
	if merr != nil {
		panic(fmt.Sprintf("unmarshalable mutation echo for %s: %v", result.Type, merr))
	}
	a.broadcast(&WSMessage{
		Type:      result.Type,
		SessionID: a.sessionID,
		PlayerID:  c.PlayerID,
		Data:      data,
		Version:   result.Version,
		Timestamp: now.UnixMilli(),
	}, c)

	// acknowledge to the sender with the authoritative version
	c.send(&WSMessage{
		Type:      result.Type,
		SessionID: a.sessionID,
		PlayerID:  c.PlayerID,
		Data:      data,
		Version:   result.Version,
		Timestamp: now.UnixMilli(),
	})

	a.mirrorSnapshot()
}

// handleTick runs the staleness sweep and decides eviction. Returning true
// terminates the actor.
func (a *SessionActor) handleTick(now time.Time) bool {
	// pruning is a presence decision, not a transport one: a connection that
	// is merely quiet stays attached and re-registers on its next message
	removed := a.presence.PruneStale(now, a.cfg.StaleThreshold)
	if len(removed) > 0 {
		for _, playerID := range removed {
			a.mirrorRemove(playerID)
		}
		a.broadcastData(MsgTypePlayerLeave, &PlayerLeaveData{
			PlayerIDs: removed,
			Reason:    "stale",
		}, nil, now)

		logger.Info("pruned stale players",
			logger.String("session", a.sessionID),
			logger.Int("count", len(removed)))
	}

	if len(a.clients) == 0 {
		if a.emptySince.IsZero() {
			a.emptySince = now
		}
		if now.Sub(a.emptySince) >= a.cfg.EvictGrace {
			logger.Info("evicting idle session",
				logger.String("session", a.sessionID),
				logger.Uint64("version", a.store.Version()))
			return true
		}
	}
	return false
}

func (a *SessionActor) info() SessionInfo {
	return SessionInfo{
		SessionID:   a.sessionID,
		Version:     a.store.Version(),
		Hash:        a.store.Hash(),
		Connections: len(a.clients),
		Players:     a.presence.ListActive(),
	}
}

// ========== internals (actor goroutine only) ==========

func (a *SessionActor) sendSnapshot(c *Client, now time.Time) {
	snap := SnapshotData{
		State:             a.store.Snapshot(),
		Players:           a.presence.ListActive(),
		PlayerID:          c.PlayerID,
		SnapshotTimestamp: now.UnixMilli(),
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		logger.Error("failed to marshal snapshot",
			logger.ErrorField(err),
			logger.String("session", a.sessionID))
		return
	}
	c.send(&WSMessage{
		Type:      MsgTypeSnapshot,
		SessionID: a.sessionID,
		PlayerID:  c.PlayerID,
		Data:      data,
		Version:   a.store.Version(),
		Timestamp: now.UnixMilli(),
	})
}

func (a *SessionActor) sendError(c *Client, code string, err error, now time.Time) {
	ed := ErrorData{Code: code, Message: err.Error()}
	if verr, ok := err.(*ValidationError); ok {
		ed.Field = verr.Field
	}
	data, _ := json.Marshal(&ed)
	c.send(&WSMessage{
		Type:      MsgTypeError,
		SessionID: a.sessionID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	})
}

func (a *SessionActor) broadcastData(msgType MessageType, payload interface{}, exclude *Client, now time.Time) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal broadcast payload",
			logger.ErrorField(err),
			logger.String("type", string(msgType)))
		return
	}
	a.broadcast(&WSMessage{
		Type:      msgType,
		SessionID: a.sessionID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}, exclude)
}

func (a *SessionActor) broadcast(msg *WSMessage, exclude *Client) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var slow []*Client
	for c := range a.clients {
		if c == exclude {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// send buffer full: treat like a dead transport and let the
			// prune sweep reclaim the presence entry
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		logger.Warn("dropping slow client",
			logger.String("session", a.sessionID),
			logger.String("player", c.PlayerID))
		a.dropClient(c)
	}
}

// dropClient removes the connection without touching presence.
func (a *SessionActor) dropClient(c *Client) {
	if _, ok := a.clients[c]; !ok {
		return
	}
	delete(a.clients, c)
	if a.byPlayer[c.PlayerID] == c {
		delete(a.byPlayer, c.PlayerID)
	}
	c.close()
	if len(a.clients) == 0 && a.emptySince.IsZero() {
		a.emptySince = a.now()
	}
}

func (a *SessionActor) closeAllClients() {
	for c := range a.clients {
		c.close()
	}
	a.clients = make(map[*Client]struct{})
	a.byPlayer = make(map[string]*Client)
}

// shutdown is the actor's final act. The state is persisted unless the actor
// crashed, in which case it may be inconsistent and must not overwrite the
// last durable copy. The Redis mirror is cleared once the state is durable,
// and also after a crash: a crashed actor's mirrored snapshot is suspect and
// must not win the next hydration. After a clean stop whose persist failed,
// the mirror snapshot is the only recent copy and stays for a warm restart.
func (a *SessionActor) shutdown(crashed bool) {
	a.closeAllClients()
	persisted := false
	if !crashed {
		persisted = a.persistState()
	}
	if crashed || persisted {
		a.mirrorClear()
	}
	if a.deps.OnStopped != nil {
		a.deps.OnStopped(a, crashed)
	}
}

func (a *SessionActor) persistState() bool {
	if a.deps.Persister == nil {
		return false
	}
	state := a.store.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.deps.Persister.SaveState(ctx, a.sessionID, &state); err != nil {
		logger.Warn("failed to persist session state on eviction",
			logger.ErrorField(err),
			logger.String("session", a.sessionID),
			logger.Uint64("version", state.Version))
		return false
	}
	return true
}

// mirrorClear runs synchronously: the next hydration must not see the keys it
// removes.
func (a *SessionActor) mirrorClear() {
	if a.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.deps.Mirror.ClearSession(ctx, a.sessionID); err != nil {
		logger.Warn("failed to clear session mirror",
			logger.ErrorField(err),
			logger.String("session", a.sessionID))
	}
}

// mirror writes run off the actor goroutine; Redis latency must not stall
// mutation processing.

func (a *SessionActor) mirrorTouch(playerID string) {
	if a.deps.Mirror == nil {
		return
	}
	sessionID := a.sessionID
	mirror := a.deps.Mirror
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mirror.TouchPlayer(ctx, sessionID, playerID); err != nil {
			logger.Warn("failed to mirror player presence",
				logger.ErrorField(err),
				logger.String("session", sessionID),
				logger.String("player", playerID))
		}
	}()
}

func (a *SessionActor) mirrorRemove(playerID string) {
	if a.deps.Mirror == nil {
		return
	}
	sessionID := a.sessionID
	mirror := a.deps.Mirror
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mirror.RemovePlayer(ctx, sessionID, playerID); err != nil {
			logger.Warn("failed to remove mirrored presence",
				logger.ErrorField(err),
				logger.String("session", sessionID),
				logger.String("player", playerID))
		}
	}()
}

func (a *SessionActor) mirrorSnapshot() {
	if a.deps.Mirror == nil {
		return
	}
	sessionID := a.sessionID
	mirror := a.deps.Mirror
	state := a.store.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mirror.SetSnapshot(ctx, sessionID, &state); err != nil {
			logger.Warn("failed to mirror state snapshot",
				logger.ErrorField(err),
				logger.String("session", sessionID))
		}
	}()
}
