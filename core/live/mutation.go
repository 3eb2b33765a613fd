package live

import "StepFM/model"

// Mutation payloads. Pointer fields mean "leave unchanged" unless set.

// StepToggleData flips one step of one track.
type StepToggleData struct {
	TrackID string `json:"trackId"`
	Step    int    `json:"step"`
}

// PlockSetData attaches or replaces a parameter lock at a step. At least one
// of pitch/volume must be present.
type PlockSetData struct {
	TrackID string   `json:"trackId"`
	Step    int      `json:"step"`
	Pitch   *int     `json:"pitch,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// PlockClearData removes the parameter lock at a step.
type PlockClearData struct {
	TrackID string `json:"trackId"`
	Step    int    `json:"step"`
}

// TrackAddData appends a track. A missing id is assigned by the server; the
// step sequence is normalized to the canonical length.
type TrackAddData struct {
	Track model.Track `json:"track"`
}

// TrackRemoveData removes a track.
type TrackRemoveData struct {
	TrackID string `json:"trackId"`
}

// TrackReorderData moves a track to a new position.
type TrackReorderData struct {
	TrackID string `json:"trackId"`
	ToIndex int    `json:"toIndex"`
}

// TrackPropSetData updates track-level properties.
type TrackPropSetData struct {
	TrackID   string   `json:"trackId"`
	Name      *string  `json:"name,omitempty"`
	SampleID  *string  `json:"sampleId,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Muted     *bool    `json:"muted,omitempty"`
	Transpose *int     `json:"transpose,omitempty"`
}

// TempoSetData sets the session tempo.
type TempoSetData struct {
	Tempo int `json:"tempo"`
}

// SwingSetData sets the session swing.
type SwingSetData struct {
	Swing float64 `json:"swing"`
}

// MutationResult describes one accepted mutation: the version it produced and
// the normalized payload to echo to the other connected clients.
type MutationResult struct {
	Type    MessageType
	Version uint64
	Data    interface{}
}
