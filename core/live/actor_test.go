package live

import (
	"encoding/json"
	"testing"
	"time"

	"StepFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T) *SessionActor {
	t.Helper()
	state := model.NewDefaultState()
	state.Tracks = model.TrackList{
		{ID: "kick", Name: "Kick", SampleID: "kick.wav", Volume: 0.8},
		{ID: "snare", Name: "Snare", SampleID: "snare.wav", Volume: 0.7},
	}
	return NewSessionActor("sess-1", state, ActorConfig{StepsPerTrack: 16}, ActorDeps{})
}

func joinPlayer(t *testing.T, a *SessionActor, playerID, name string, now time.Time) *Client {
	t.Helper()
	c := NewClient(a, nil, playerID, name, "#e44")
	a.handleJoin(c, now)
	return c
}

// recvMsg pops the next queued envelope; it fails the test if none is waiting.
func recvMsg(t *testing.T, c *Client) *WSMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	default:
		t.Fatal("expected a queued message, found none")
		return nil
	}
}

func decodeData(t *testing.T, msg *WSMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, v))
}

func drainClient(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func envelope(t *testing.T, typ MessageType, payload interface{}) *WSMessage {
	t.Helper()
	return &WSMessage{Type: typ, Data: mustJSON(t, payload)}
}

func TestJoinSendsSnapshot(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()

	c := joinPlayer(t, a, "alice", "Alice", t0)

	msg := recvMsg(t, c)
	assert.Equal(t, MsgTypeSnapshot, msg.Type)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, uint64(0), msg.Version)

	var snap SnapshotData
	decodeData(t, msg, &snap)
	assert.Equal(t, "alice", snap.PlayerID)
	assert.Equal(t, 120, snap.State.Tempo)
	require.Len(t, snap.State.Tracks, 2)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "alice", snap.Players[0].PlayerID)
	assert.Equal(t, t0.UnixMilli(), snap.SnapshotTimestamp)

	assert.True(t, a.presence.Contains("alice"))
	assert.Equal(t, StateOpen, c.State())
}

func TestJoinAnnouncedToOthersOnly(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()

	c1 := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(c1)

	c2 := joinPlayer(t, a, "bob", "Bob", t0)

	msg := recvMsg(t, c1)
	assert.Equal(t, MsgTypePlayerJoin, msg.Type)
	var join PlayerJoinData
	decodeData(t, msg, &join)
	assert.Equal(t, "bob", join.Player.PlayerID)
	assert.Equal(t, "Bob", join.Player.Name)

	// the joiner gets the snapshot and nothing else
	snap := recvMsg(t, c2)
	assert.Equal(t, MsgTypeSnapshot, snap.Type)
	assert.Empty(t, c2.Send)
}

func TestReconnectReplacesOldTransport(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()

	c1 := joinPlayer(t, a, "alice", "Alice", t0)
	c2 := joinPlayer(t, a, "alice", "Alice", t0.Add(time.Second))

	assert.True(t, isClosed(c1))
	assert.False(t, isClosed(c2))
	_, stillAttached := a.clients[c1]
	assert.False(t, stillAttached)
	assert.Same(t, c2, a.byPlayer["alice"])
	assert.Equal(t, 1, a.presence.Len())
}

func TestMutationBroadcastAndAck(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	c1 := joinPlayer(t, a, "alice", "Alice", t0)
	c2 := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(c1)
	drainClient(c2)

	a.handleMessage(c1, envelope(t, MsgTypeStepToggle, &StepToggleData{TrackID: "kick", Step: 4}), t0.Add(time.Second))

	for _, c := range []*Client{c2, c1} {
		msg := recvMsg(t, c)
		assert.Equal(t, MsgTypeStepToggle, msg.Type)
		assert.Equal(t, "alice", msg.PlayerID)
		assert.Equal(t, uint64(1), msg.Version)
		var d StepToggleData
		decodeData(t, msg, &d)
		assert.Equal(t, "kick", d.TrackID)
		assert.Equal(t, 4, d.Step)
	}

	assert.Equal(t, uint64(1), a.store.Version())
	assert.True(t, a.store.Snapshot().Tracks[0].Steps[4])
}

func TestRejectedMutationErrorsSenderOnly(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	c1 := joinPlayer(t, a, "alice", "Alice", t0)
	c2 := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(c1)
	drainClient(c2)

	a.handleMessage(c1, envelope(t, MsgTypeTempoSet, &TempoSetData{Tempo: 0}), t0.Add(time.Second))

	msg := recvMsg(t, c1)
	assert.Equal(t, MsgTypeError, msg.Type)
	var ed ErrorData
	decodeData(t, msg, &ed)
	assert.Equal(t, "validation", ed.Code)
	assert.Equal(t, "tempo", ed.Field)

	assert.Empty(t, c2.Send)
	assert.Equal(t, uint64(0), a.store.Version())
}

func TestStateHashMatch(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	c := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(c)

	a.handleMessage(c, envelope(t, MsgTypeStateHash, &StateHashData{Hash: a.store.Hash()}), t0.Add(time.Second))

	msg := recvMsg(t, c)
	assert.Equal(t, MsgTypeStateHashMatch, msg.Type)
	assert.Empty(t, c.Send)
}

func TestStateHashMismatchResyncs(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	c := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(c)

	a.handleMessage(c, envelope(t, MsgTypeStateHash, &StateHashData{Hash: "deadbeef"}), t0.Add(time.Second))

	msg := recvMsg(t, c)
	assert.Equal(t, MsgTypeSnapshot, msg.Type)

	var snap SnapshotData
	decodeData(t, msg, &snap)
	assert.Equal(t, a.store.Hash(), HashState(&snap.State))
}

func TestRequestSnapshot(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	c := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(c)

	a.handleMessage(c, &WSMessage{Type: MsgTypeRequestSnapshot}, t0.Add(time.Second))

	msg := recvMsg(t, c)
	assert.Equal(t, MsgTypeSnapshot, msg.Type)
	assert.Equal(t, a.store.Version(), msg.Version)
}

func TestInboundMessageRefreshesPresence(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Unix(1_700_000_000, 0)
	c := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(c)

	t1 := t0.Add(100 * time.Second)
	a.handleMessage(c, &WSMessage{Type: MsgTypePing}, t1)

	msg := recvMsg(t, c)
	assert.Equal(t, MsgTypePong, msg.Type)

	players := a.presence.ListActive()
	require.Len(t, players, 1)
	assert.Equal(t, t1.UnixMilli(), players[0].LastSeenAt)
}

func TestTickPrunesStalePresence(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Unix(1_700_000_000, 0)
	alice := joinPlayer(t, a, "alice", "Alice", t0)
	bob := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(alice)
	drainClient(bob)

	a.handleMessage(bob, &WSMessage{Type: MsgTypePing}, t0.Add(100*time.Second))
	drainClient(bob)

	evict := a.handleTick(t0.Add(121 * time.Second))
	assert.False(t, evict)

	assert.False(t, a.presence.Contains("alice"))
	assert.True(t, a.presence.Contains("bob"))

	msg := recvMsg(t, bob)
	assert.Equal(t, MsgTypePlayerLeave, msg.Type)
	var leave PlayerLeaveData
	decodeData(t, msg, &leave)
	assert.Equal(t, []string{"alice"}, leave.PlayerIDs)
	assert.Equal(t, "stale", leave.Reason)

	// the transport itself is untouched by the sweep
	assert.False(t, isClosed(alice))
	_, attached := a.clients[alice]
	assert.True(t, attached)
}

func TestPrunedPlayerReregistersOnNextMessage(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Unix(1_700_000_000, 0)
	alice := joinPlayer(t, a, "alice", "Alice", t0)
	bob := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(alice)
	drainClient(bob)

	a.handleMessage(bob, &WSMessage{Type: MsgTypePing}, t0.Add(100*time.Second))
	a.handleTick(t0.Add(121 * time.Second))
	drainClient(alice)
	drainClient(bob)

	t1 := t0.Add(130 * time.Second)
	a.handleMessage(alice, &WSMessage{Type: MsgTypePing}, t1)

	require.True(t, a.presence.Contains("alice"))
	players := a.presence.ListActive()
	require.Len(t, players, 2)

	msg := recvMsg(t, bob)
	assert.Equal(t, MsgTypePlayerJoin, msg.Type)
	var join PlayerJoinData
	decodeData(t, msg, &join)
	assert.Equal(t, "alice", join.Player.PlayerID)
}

func TestCleanLeaveRemovesPresence(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	alice := joinPlayer(t, a, "alice", "Alice", t0)
	bob := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(alice)
	drainClient(bob)

	a.handleLeave(alice, true, t0.Add(time.Second))

	assert.True(t, isClosed(alice))
	assert.False(t, a.presence.Contains("alice"))

	msg := recvMsg(t, bob)
	assert.Equal(t, MsgTypePlayerLeave, msg.Type)
	var leave PlayerLeaveData
	decodeData(t, msg, &leave)
	assert.Equal(t, []string{"alice"}, leave.PlayerIDs)
	assert.Equal(t, "disconnect", leave.Reason)
}

func TestUncleanLeaveDefersToSweep(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	alice := joinPlayer(t, a, "alice", "Alice", t0)
	bob := joinPlayer(t, a, "bob", "Bob", t0)
	drainClient(alice)
	drainClient(bob)

	a.handleLeave(alice, false, t0.Add(time.Second))

	assert.True(t, isClosed(alice))
	assert.True(t, a.presence.Contains("alice"))
	assert.Empty(t, bob.Send)
}

func TestEvictsAfterGracePeriod(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	cur := t0
	a := NewSessionActor("sess-1", model.NewDefaultState(),
		ActorConfig{StepsPerTrack: 16},
		ActorDeps{Now: func() time.Time { return cur }})

	alice := joinPlayer(t, a, "alice", "Alice", t0)
	drainClient(alice)

	cur = t0.Add(10 * time.Second)
	a.handleLeave(alice, true, cur)

	assert.False(t, a.handleTick(t0.Add(30*time.Second)))
	assert.True(t, a.handleTick(t0.Add(75*time.Second)))
}

func TestCrashTeardownSkipsPersistButClearsMirror(t *testing.T) {
	repo := &fakeSessionRepo{}
	mirror := &fakeMirror{}
	var stoppedCrashed bool
	a := NewSessionActor("sess-1", model.NewDefaultState(),
		ActorConfig{StepsPerTrack: 16},
		ActorDeps{
			Persister: repo,
			Mirror:    mirror,
			OnStopped: func(_ *SessionActor, crashed bool) { stoppedCrashed = crashed },
		})

	a.shutdown(true)

	assert.Empty(t, repo.savedStates())
	assert.Equal(t, []string{"sess-1"}, mirror.clearedSessions())
	assert.True(t, stoppedCrashed)
}

func TestCleanTeardownKeepsMirrorWhenPersistFails(t *testing.T) {
	repo := &fakeSessionRepo{saveErr: errSaveFailed}
	mirror := &fakeMirror{}
	a := NewSessionActor("sess-1", model.NewDefaultState(),
		ActorConfig{StepsPerTrack: 16},
		ActorDeps{Persister: repo, Mirror: mirror})

	a.shutdown(false)

	assert.Empty(t, repo.savedStates())
	assert.Empty(t, mirror.clearedSessions())
}

func TestInfoReflectsLiveState(t *testing.T) {
	a := newTestActor(t)
	t0 := time.Now()
	alice := joinPlayer(t, a, "alice", "Alice", t0)
	joinPlayer(t, a, "bob", "Bob", t0)

	a.handleMessage(alice, envelope(t, MsgTypeStepToggle, &StepToggleData{TrackID: "snare", Step: 0}), t0.Add(time.Second))

	info := a.info()
	assert.Equal(t, "sess-1", info.SessionID)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, a.store.Hash(), info.Hash)
	assert.Equal(t, 2, info.Connections)
	assert.Len(t, info.Players, 2)
}
