package live

import (
	"testing"

	"StepFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashFixture() model.SessionState {
	pitch := 5
	vol := 0.3
	return model.SessionState{
		Tracks: model.TrackList{
			{
				ID:       "kick",
				Name:     "Kick",
				SampleID: "kick.wav",
				Steps:    []bool{true, false, false, false, true, false, false, false, true, false, false, false, true, false, false, false},
				Volume:   0.8,
				Plocks: []*model.ParameterLock{
					nil, nil, nil, nil, {Pitch: &pitch, Volume: &vol},
					nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
				},
			},
			{
				ID:       "snare",
				Name:     "Snare",
				SampleID: "snare.wav",
				Steps:    make([]bool, 16),
				Volume:   0.7,
				Plocks:   make([]*model.ParameterLock, 16),
			},
		},
		Tempo:   128,
		Swing:   12.5,
		Version: 42,
	}
}

func TestHashDeterministic(t *testing.T) {
	a := hashFixture()
	b := hashFixture()

	// independently built but semantically identical states hash identically
	assert.Equal(t, HashState(&a), HashState(&b))
}

func TestHashCloneMatches(t *testing.T) {
	a := hashFixture()
	b := a.Clone()
	assert.Equal(t, HashState(&a), HashState(&b))
	assert.Equal(t, CanonicalBytes(&a), CanonicalBytes(&b))
}

func TestHashOrderSensitive(t *testing.T) {
	a := hashFixture()
	b := hashFixture()
	b.Tracks[0], b.Tracks[1] = b.Tracks[1], b.Tracks[0]

	assert.NotEqual(t, HashState(&a), HashState(&b), "track reordering must change the hash")
}

func TestHashSensitiveToEveryField(t *testing.T) {
	base := HashState(ptr(hashFixture()))

	mutations := map[string]func(s *model.SessionState){
		"version":   func(s *model.SessionState) { s.Version++ },
		"tempo":     func(s *model.SessionState) { s.Tempo = 129 },
		"swing":     func(s *model.SessionState) { s.Swing = 12.6 },
		"step":      func(s *model.SessionState) { s.Tracks[1].Steps[3] = true },
		"volume":    func(s *model.SessionState) { s.Tracks[0].Volume = 0.81 },
		"muted":     func(s *model.SessionState) { s.Tracks[0].Muted = true },
		"transpose": func(s *model.SessionState) { s.Tracks[0].Transpose = 1 },
		"name":      func(s *model.SessionState) { s.Tracks[0].Name = "Kick2" },
		"sample":    func(s *model.SessionState) { s.Tracks[0].SampleID = "kick2.wav" },
		"plock":     func(s *model.SessionState) { s.Tracks[0].Plocks[4] = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			s := hashFixture()
			mutate(&s)
			assert.NotEqual(t, base, HashState(&s))
		})
	}
}

func TestHashUnambiguousStrings(t *testing.T) {
	// length-prefixing must keep adjacent string fields from bleeding into
	// each other
	a := hashFixture()
	b := hashFixture()
	a.Tracks[0].Name = "KickX"
	a.Tracks[0].SampleID = "kick.wav"
	b.Tracks[0].Name = "Kick"
	b.Tracks[0].SampleID = "Xkick.wav"

	assert.NotEqual(t, HashState(&a), HashState(&b))
}

func TestStoreHashMatchesSnapshotHash(t *testing.T) {
	store := NewStore(hashFixture(), 16)
	snap := store.Snapshot()
	require.Equal(t, store.Hash(), HashState(&snap))
}

func ptr(s model.SessionState) *model.SessionState {
	return &s
}
