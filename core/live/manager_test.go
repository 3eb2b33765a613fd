package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"StepFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionRepo struct {
	mu      sync.Mutex
	session *model.Session
	saveErr error
	saved   []model.SessionState
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *model.Session) error { return nil }

func (r *fakeSessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.session.ID != id {
		return nil, nil
	}
	return r.session, nil
}

func (r *fakeSessionRepo) Update(ctx context.Context, session *model.Session) error { return nil }
func (r *fakeSessionRepo) Delete(ctx context.Context, id string) error              { return nil }

func (r *fakeSessionRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil && r.session.ID == id, nil
}

func (r *fakeSessionRepo) ListPublished(ctx context.Context, limit, offset int) ([]*model.Session, error) {
	return nil, nil
}

func (r *fakeSessionRepo) SaveState(ctx context.Context, id string, state *model.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, *state)
	return nil
}

func (r *fakeSessionRepo) savedStates() []model.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SessionState(nil), r.saved...)
}

func (r *fakeSessionRepo) Remix(ctx context.Context, id string, name, authorName string) (*model.Session, error) {
	return nil, errors.New("not supported")
}

func (r *fakeSessionRepo) Publish(ctx context.Context, id string) error { return nil }

type fakeMirror struct {
	mu       sync.Mutex
	snapshot *model.SessionState
	count    int64
	countErr error
	cleared  []string
}

func (m *fakeMirror) TouchPlayer(ctx context.Context, sessionID, playerID string) error { return nil }

func (m *fakeMirror) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	return nil
}

func (m *fakeMirror) SetSnapshot(ctx context.Context, sessionID string, state *model.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := state.Clone()
	m.snapshot = &clone
	return nil
}

func (m *fakeMirror) GetSnapshot(ctx context.Context, sessionID string) (*model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *fakeMirror) ActivePlayerCount(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, m.countErr
}

func (m *fakeMirror) ClearSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sessionID)
	return nil
}

func (m *fakeMirror) clearedSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cleared...)
}

func sessionFixture(id string, version uint64) *model.Session {
	state := model.NewDefaultState()
	state.Version = version
	return &model.Session{ID: id, Name: "Fixture", State: state}
}

var errSaveFailed = errors.New("save failed")

func TestHydratePrefersNewerMirrorSnapshot(t *testing.T) {
	repo := &fakeSessionRepo{session: sessionFixture("sess-1", 3)}
	cached := model.NewDefaultState()
	cached.Version = 5
	mirror := &fakeMirror{snapshot: &cached}

	m := NewLiveManager(repo, mirror, ActorConfig{StepsPerTrack: 16})

	state, err := m.hydrate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.Version)
}

func TestHydrateUsesDatabaseWhenMirrorStale(t *testing.T) {
	repo := &fakeSessionRepo{session: sessionFixture("sess-1", 3)}
	cached := model.NewDefaultState()
	cached.Version = 2
	mirror := &fakeMirror{snapshot: &cached}

	m := NewLiveManager(repo, mirror, ActorConfig{StepsPerTrack: 16})

	state, err := m.hydrate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), state.Version)
}

func TestHydrateUsesDatabaseWithoutMirror(t *testing.T) {
	repo := &fakeSessionRepo{session: sessionFixture("sess-1", 3)}
	m := NewLiveManager(repo, nil, ActorConfig{StepsPerTrack: 16})

	state, err := m.hydrate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), state.Version)
}

func TestHydrateUnknownSession(t *testing.T) {
	repo := &fakeSessionRepo{}
	m := NewLiveManager(repo, nil, ActorConfig{StepsPerTrack: 16})

	_, err := m.hydrate(context.Background(), "nope")
	require.Error(t, err)
}

func TestStoppedActorPersistsAndClearsMirror(t *testing.T) {
	repo := &fakeSessionRepo{session: sessionFixture("sess-1", 3)}
	mirror := &fakeMirror{}
	m := NewLiveManager(repo, mirror, ActorConfig{StepsPerTrack: 16})

	actor, err := m.attach(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, m.IsLive("sess-1"))

	actor.Stop()
	require.Eventually(t, func() bool { return !m.IsLive("sess-1") },
		2*time.Second, 10*time.Millisecond)

	saved := repo.savedStates()
	require.Len(t, saved, 1)
	assert.Equal(t, uint64(3), saved[0].Version)
	assert.Equal(t, []string{"sess-1"}, mirror.clearedSessions())
}

func TestMirroredPlayerCount(t *testing.T) {
	repo := &fakeSessionRepo{}
	mirror := &fakeMirror{count: 4}
	m := NewLiveManager(repo, mirror, ActorConfig{StepsPerTrack: 16})

	assert.Equal(t, int64(4), m.MirroredPlayerCount(context.Background(), "sess-1"))

	mirror.countErr = errors.New("redis down")
	assert.Equal(t, int64(0), m.MirroredPlayerCount(context.Background(), "sess-1"))

	noMirror := NewLiveManager(repo, nil, ActorConfig{StepsPerTrack: 16})
	assert.Equal(t, int64(0), noMirror.MirroredPlayerCount(context.Background(), "sess-1"))
}
