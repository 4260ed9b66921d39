package domain

// MediaItemID is an opaque media identifier.
type MediaItemID string

// NowPlaying maps each media item to the roles currently listening to it.
// Items with no listeners are never present.
type NowPlaying map[MediaItemID][]Role

// PlaybackState is the client-held playback snapshot carried inside resync answers.
// The coordinator relays it and never inspects it.
type PlaybackState struct {
	MediaItemID MediaItemID `json:"mediaItemId"`
	Position    float64     `json:"position"`
	IsPlaying   bool        `json:"isPlaying"`
	IsLooping   bool        `json:"isLooping"`
}

type PlaybackPhase string

const (
	PhaseIdle    PlaybackPhase = "idle"
	PhaseLoaded  PlaybackPhase = "loaded"
	PhasePlaying PlaybackPhase = "playing"
	PhasePaused  PlaybackPhase = "paused"
)

// Phase derives the phase of a state.
func (s PlaybackState) Phase() PlaybackPhase {
	switch {
	case s.MediaItemID == "":
		return PhaseIdle
	case s.IsPlaying:
		return PhasePlaying
	case s.Position > 0:
		return PhasePaused
	default:
		return PhaseLoaded
	}
}

// Load moves to Loaded from any phase. Loop mode survives a load.
func (s PlaybackState) Load(item MediaItemID) PlaybackState {
	return PlaybackState{MediaItemID: item, IsLooping: s.IsLooping}
}

// Play resumes at position. Requires a loaded item.
func (s PlaybackState) Play(position float64) (PlaybackState, error) {
	if s.MediaItemID == "" {
		return s, ErrInvalidTransition
	}
	s.Position = position
	s.IsPlaying = true
	return s, nil
}

// Pause stops at position. Requires a loaded item.
func (s PlaybackState) Pause(position float64) (PlaybackState, error) {
	if s.MediaItemID == "" {
		return s, ErrInvalidTransition
	}
	s.Position = position
	s.IsPlaying = false
	return s, nil
}

// Seek changes position and keeps the play/pause phase.
func (s PlaybackState) Seek(position float64) (PlaybackState, error) {
	if s.MediaItemID == "" {
		return s, ErrInvalidTransition
	}
	s.Position = position
	return s, nil
}

func (s PlaybackState) SetLoop(looping bool) PlaybackState {
	s.IsLooping = looping
	return s
}
