package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionState string

const (
	StateActive     SessionState = "active"
	StateFinalizing SessionState = "finalizing"
	StateClosed     SessionState = "closed"
)

type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
)

// PresenceEvent is one join or leave observed on the meeting channel,
// kept in arrival order.
type PresenceEvent struct {
	Participant string       `bson:"participant" json:"participant"`
	Kind        PresenceKind `bson:"kind" json:"kind"`
	At          time.Time    `bson:"at" json:"at"`
}

type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4

	Initiator        string `bson:"initiator" json:"initiator"`
	TriggerChannelID string `bson:"trigger_channel_id" json:"trigger_channel_id"`
	MeetingChannelID string `bson:"meeting_channel_id" json:"meeting_channel_id"`
	ThreadID         string `bson:"thread_id,omitempty" json:"thread_id,omitempty"`

	State    SessionState `bson:"state" json:"state"`
	Language string       `bson:"language" json:"language"` // speech language hint

	StartedAt time.Time  `bson:"started_at" json:"started_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`

	Presence     []PresenceEvent `bson:"presence" json:"presence"`
	Participants []string        `bson:"participants" json:"participants"` // everyone who ever joined
}
