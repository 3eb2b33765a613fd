package live

import (
	"encoding/json"

	"StepFM/model"

	"github.com/google/uuid"
)

// Store is the authoritative, versioned session state for one live session.
// It is owned by exactly one SessionActor and is not safe for concurrent use;
// the actor's mailbox serializes all access.
type Store struct {
	stepsPerTrack int
	state         model.SessionState
}

// NewStore wraps persisted state. Track step sequences and plock slices are
// normalized to the canonical length so later index checks hold.
func NewStore(state model.SessionState, stepsPerTrack int) *Store {
	if stepsPerTrack <= 0 {
		stepsPerTrack = model.DefaultStepsPerTrack
	}
	s := &Store{stepsPerTrack: stepsPerTrack, state: state.Clone()}
	if s.state.Tracks == nil {
		s.state.Tracks = model.TrackList{}
	}
	for i := range s.state.Tracks {
		s.normalizeTrack(&s.state.Tracks[i])
	}
	if s.state.Tempo <= 0 {
		s.state.Tempo = 120
	}
	return s
}

func (s *Store) normalizeTrack(t *model.Track) {
	steps := make([]bool, s.stepsPerTrack)
	copy(steps, t.Steps)
	t.Steps = steps

	plocks := make([]*model.ParameterLock, s.stepsPerTrack)
	copy(plocks, t.Plocks)
	t.Plocks = plocks

	if t.Volume < 0 {
		t.Volume = 0
	}
	if t.Volume > 1 {
		t.Volume = 1
	}
}

// Version returns the current state version.
func (s *Store) Version() uint64 {
	return s.state.Version
}

// StepsPerTrack returns the canonical step sequence length.
func (s *Store) StepsPerTrack() int {
	return s.stepsPerTrack
}

// Snapshot returns a deep copy of the state. Callers never receive a
// reference into the authoritative store.
func (s *Store) Snapshot() model.SessionState {
	return s.state.Clone()
}

// Hash returns the canonical digest of the current state.
func (s *Store) Hash() string {
	return HashState(&s.state)
}

// Apply validates and applies one mutation. On success the version is
// incremented by exactly 1 and the normalized payload to broadcast is
// returned. On rejection the state and version are untouched and the error is
// a *ValidationError.
func (s *Store) Apply(msgType MessageType, data json.RawMessage) (*MutationResult, error) {
	var (
		echo interface{}
		err  error
	)

	switch msgType {
	case MsgTypeStepToggle:
		echo, err = s.applyStepToggle(data)
	case MsgTypePlockSet:
		echo, err = s.applyPlockSet(data)
	case MsgTypePlockClear:
		echo, err = s.applyPlockClear(data)
	case MsgTypeTrackAdd:
		echo, err = s.applyTrackAdd(data)
	case MsgTypeTrackRemove:
		echo, err = s.applyTrackRemove(data)
	case MsgTypeTrackReorder:
		echo, err = s.applyTrackReorder(data)
	case MsgTypeTrackPropSet:
		echo, err = s.applyTrackPropSet(data)
	case MsgTypeTempoSet:
		echo, err = s.applyTempoSet(data)
	case MsgTypeSwingSet:
		echo, err = s.applySwingSet(data)
	default:
		return nil, validationErrorf("type", "unknown mutation type %q", msgType)
	}

	if err != nil {
		return nil, err
	}

	s.state.Version++
	return &MutationResult{Type: msgType, Version: s.state.Version, Data: echo}, nil
}

// IsMutation reports whether a message type is a state mutation.
func IsMutation(msgType MessageType) bool {
	switch msgType {
	case MsgTypeStepToggle, MsgTypePlockSet, MsgTypePlockClear,
		MsgTypeTrackAdd, MsgTypeTrackRemove, MsgTypeTrackReorder,
		MsgTypeTrackPropSet, MsgTypeTempoSet, MsgTypeSwingSet:
		return true
	}
	return false
}

func (s *Store) track(trackID string) (*model.Track, error) {
	if trackID == "" {
		return nil, validationErrorf("trackId", "missing track id")
	}
	idx := s.state.TrackIndex(trackID)
	if idx < 0 {
		return nil, validationErrorf("trackId", "unknown track %q", trackID)
	}
	return &s.state.Tracks[idx], nil
}

func (s *Store) checkStep(step int) error {
	if step < 0 || step >= s.stepsPerTrack {
		return validationErrorf("step", "step %d out of bounds [0,%d)", step, s.stepsPerTrack)
	}
	return nil
}

func (s *Store) applyStepToggle(data json.RawMessage) (interface{}, error) {
	var d StepToggleData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed step_toggle payload")
	}
	track, err := s.track(d.TrackID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStep(d.Step); err != nil {
		return nil, err
	}
	track.Steps[d.Step] = !track.Steps[d.Step]
	return &d, nil
}

func (s *Store) applyPlockSet(data json.RawMessage) (interface{}, error) {
	var d PlockSetData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed plock_set payload")
	}
	track, err := s.track(d.TrackID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStep(d.Step); err != nil {
		return nil, err
	}
	if d.Pitch == nil && d.Volume == nil {
		return nil, validationErrorf("data", "plock_set carries neither pitch nor volume")
	}
	if d.Volume != nil && (*d.Volume < 0 || *d.Volume > 1) {
		return nil, validationErrorf("volume", "plock volume %v outside [0,1]", *d.Volume)
	}
	track.Plocks[d.Step] = &model.ParameterLock{Pitch: d.Pitch, Volume: d.Volume}
	return &d, nil
}

func (s *Store) applyPlockClear(data json.RawMessage) (interface{}, error) {
	var d PlockClearData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed plock_clear payload")
	}
	track, err := s.track(d.TrackID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStep(d.Step); err != nil {
		return nil, err
	}
	track.Plocks[d.Step] = nil
	return &d, nil
}

func (s *Store) applyTrackAdd(data json.RawMessage) (interface{}, error) {
	var d TrackAddData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed track_add payload")
	}
	t := d.Track
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if s.state.TrackIndex(t.ID) >= 0 {
		return nil, validationErrorf("track.id", "duplicate track id %q", t.ID)
	}
	if t.Volume < 0 || t.Volume > 1 {
		return nil, validationErrorf("track.volume", "volume %v outside [0,1]", t.Volume)
	}
	if len(t.Steps) > s.stepsPerTrack {
		return nil, validationErrorf("track.steps", "step sequence longer than %d", s.stepsPerTrack)
	}
	if len(t.Plocks) > s.stepsPerTrack {
		return nil, validationErrorf("track.plocks", "plock sequence longer than %d", s.stepsPerTrack)
	}
	for i, plock := range t.Plocks {
		if plock == nil {
			continue
		}
		if plock.Volume != nil && (*plock.Volume < 0 || *plock.Volume > 1) {
			return nil, validationErrorf("track.plocks", "plock volume %v at step %d outside [0,1]", *plock.Volume, i)
		}
	}
	s.normalizeTrack(&t)
	s.state.Tracks = append(s.state.Tracks, t)
	d.Track = t.Clone()
	return &d, nil
}

func (s *Store) applyTrackRemove(data json.RawMessage) (interface{}, error) {
	var d TrackRemoveData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed track_remove payload")
	}
	idx := s.state.TrackIndex(d.TrackID)
	if idx < 0 {
		return nil, validationErrorf("trackId", "unknown track %q", d.TrackID)
	}
	s.state.Tracks = append(s.state.Tracks[:idx], s.state.Tracks[idx+1:]...)
	return &d, nil
}

func (s *Store) applyTrackReorder(data json.RawMessage) (interface{}, error) {
	var d TrackReorderData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed track_reorder payload")
	}
	idx := s.state.TrackIndex(d.TrackID)
	if idx < 0 {
		return nil, validationErrorf("trackId", "unknown track %q", d.TrackID)
	}
	if d.ToIndex < 0 || d.ToIndex >= len(s.state.Tracks) {
		return nil, validationErrorf("toIndex", "index %d out of bounds [0,%d)", d.ToIndex, len(s.state.Tracks))
	}
	track := s.state.Tracks[idx]
	tracks := append(s.state.Tracks[:idx], s.state.Tracks[idx+1:]...)
	tracks = append(tracks, model.Track{})
	copy(tracks[d.ToIndex+1:], tracks[d.ToIndex:])
	tracks[d.ToIndex] = track
	s.state.Tracks = tracks
	return &d, nil
}

func (s *Store) applyTrackPropSet(data json.RawMessage) (interface{}, error) {
	var d TrackPropSetData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed track_prop_set payload")
	}
	track, err := s.track(d.TrackID)
	if err != nil {
		return nil, err
	}
	if d.Volume != nil && (*d.Volume < 0 || *d.Volume > 1) {
		return nil, validationErrorf("volume", "volume %v outside [0,1]", *d.Volume)
	}
	if d.Name != nil {
		track.Name = *d.Name
	}
	if d.SampleID != nil {
		track.SampleID = *d.SampleID
	}
	if d.Volume != nil {
		track.Volume = *d.Volume
	}
	if d.Muted != nil {
		track.Muted = *d.Muted
	}
	if d.Transpose != nil {
		track.Transpose = *d.Transpose
	}
	return &d, nil
}

func (s *Store) applyTempoSet(data json.RawMessage) (interface{}, error) {
	var d TempoSetData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed tempo_set payload")
	}
	if d.Tempo <= 0 {
		return nil, validationErrorf("tempo", "tempo %d must be positive", d.Tempo)
	}
	s.state.Tempo = d.Tempo
	return &d, nil
}

func (s *Store) applySwingSet(data json.RawMessage) (interface{}, error) {
	var d SwingSetData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, validationErrorf("data", "malformed swing_set payload")
	}
	if d.Swing < 0 || d.Swing > 100 {
		return nil, validationErrorf("swing", "swing %v outside [0,100]", d.Swing)
	}
	s.state.Swing = d.Swing
	return &d, nil
}
