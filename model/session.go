package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// DefaultStepsPerTrack is the canonical step sequence length shared by every
// track in a session.
const DefaultStepsPerTrack = 16

// ParameterLock is a per-step override of pitch and/or volume. A lock may exist
// at a step whether or not the step is active.
type ParameterLock struct {
	Pitch  *int     `json:"pitch,omitempty"`  // semitone delta
	Volume *float64 `json:"volume,omitempty"` // multiplier in [0,1]
}

// Track is one instrument lane with a fixed-length step sequence.
type Track struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	SampleID  string           `json:"sampleId"`
	Steps     []bool           `json:"steps"`
	Volume    float64          `json:"volume"` // [0,1]
	Muted     bool             `json:"muted"`
	Transpose int              `json:"transpose"` // semitones
	Plocks    []*ParameterLock `json:"plocks"`    // indexed by step, nil entry = no lock
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() Track {
	c := *t
	c.Steps = make([]bool, len(t.Steps))
	copy(c.Steps, t.Steps)
	c.Plocks = make([]*ParameterLock, len(t.Plocks))
	for i, pl := range t.Plocks {
		if pl == nil {
			continue
		}
		p := *pl
		if pl.Pitch != nil {
			v := *pl.Pitch
			p.Pitch = &v
		}
		if pl.Volume != nil {
			v := *pl.Volume
			p.Volume = &v
		}
		c.Plocks[i] = &p
	}
	return c
}

// TrackList is stored as a JSON column so GORM can scan it automatically.
type TrackList []Track

// Scan implements sql.Scanner.
func (l *TrackList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer.
func (l TrackList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// SessionState is the versioned musical content of one session. The copy held
// by the live actor is authoritative; connected clients only ever hold copies.
type SessionState struct {
	Tracks  TrackList `json:"tracks" gorm:"type:json"`
	Tempo   int       `json:"tempo" gorm:"default:120"`   // BPM, > 0
	Swing   float64   `json:"swing" gorm:"default:0"`     // [0,100]
	Version uint64    `json:"version" gorm:"default:0"`   // monotonic, bumped per accepted mutation
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() SessionState {
	c := *s
	c.Tracks = make(TrackList, len(s.Tracks))
	for i := range s.Tracks {
		c.Tracks[i] = s.Tracks[i].Clone()
	}
	return c
}

// TrackIndex returns the index of the track with the given id, or -1.
func (s *SessionState) TrackIndex(trackID string) int {
	for i := range s.Tracks {
		if s.Tracks[i].ID == trackID {
			return i
		}
	}
	return -1
}

// Session is the persisted session record.
type Session struct {
	ID          string       `json:"id" gorm:"primaryKey;size:36"`
	Name        string       `json:"name" gorm:"size:100;not null"`
	AuthorName  string       `json:"authorName" gorm:"size:100"`
	State       SessionState `json:"state" gorm:"embedded"`
	Published   bool         `json:"published" gorm:"default:false;index"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
	RemixOf     *string      `json:"remixOf,omitempty" gorm:"size:36;index"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// TableName sets the table name.
func (Session) TableName() string {
	return "sessions"
}

// NewDefaultState returns an empty session state with sensible defaults.
func NewDefaultState() SessionState {
	return SessionState{
		Tracks:  TrackList{},
		Tempo:   120,
		Swing:   0,
		Version: 0,
	}
}
