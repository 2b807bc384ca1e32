package models

import "time"

type ArtifactKind string

const (
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactSummary    ArtifactKind = "summary"
	ArtifactTodolist   ArtifactKind = "todolist"
	ArtifactAudio      ArtifactKind = "audio"
	ArtifactNoAudio    ArtifactKind = "no_audio"
)

type DeliveryState string

// Delivery state only moves forward: pending -> delivered | locally_preserved | failed.
const (
	DeliveryPending          DeliveryState = "pending"
	DeliveryDelivered        DeliveryState = "delivered"
	DeliveryLocallyPreserved DeliveryState = "locally_preserved"
	DeliveryFailed           DeliveryState = "failed"
)

// Artifact is a derived output of a session: transcript, summary, action-item
// list, or a raw audio file reference. Content is either an in-memory payload
// or a local file path, never both empty.
type Artifact struct {
	ArtifactID  string       `json:"artifact_id"` // uuid v4
	SessionID   string       `json:"session_id"`
	Kind        ArtifactKind `json:"kind"`
	Name        string       `json:"name"` // destination object name
	ContentType string       `json:"content_type"`

	Payload   []byte `json:"-"`
	LocalPath string `json:"local_path,omitempty"`

	State     DeliveryState `json:"state"`
	RemoteRef string        `json:"remote_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TranscriptSegment is one recognized utterance attributed to a participant.
// Start is absolute wall-clock time (track start + recognition offset).
type TranscriptSegment struct {
	Participant string        `json:"participant"`
	TrackStart  time.Time     `json:"track_start"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
}
