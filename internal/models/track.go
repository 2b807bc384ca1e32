package models

import "time"

// FinalizedTrack is one participant's completed capture interval. Tracks are
// per join-interval: a participant who leaves and rejoins the same session
// gets a new segment number, never an appended file.
type FinalizedTrack struct {
	SessionID   string    `json:"session_id"`
	Participant string    `json:"participant"`
	Segment     int       `json:"segment"`
	StartedAt   time.Time `json:"started_at"`
	StoppedAt   time.Time `json:"stopped_at"`
	Path        string    `json:"path"`  // local durable audio file
	Bytes       int64     `json:"bytes"` // audio bytes written
}

func (t *FinalizedTrack) Duration() time.Duration {
	return t.StoppedAt.Sub(t.StartedAt)
}
