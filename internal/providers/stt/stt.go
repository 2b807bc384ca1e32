package stt

import (
	"context"
	"time"
)

// Segment is one recognized utterance with its offset from the start of the
// audio it came from.
type Segment struct {
	Offset     time.Duration
	Duration   time.Duration
	Text       string
	Confidence float64
}

type Provider interface {
	Transcribe(ctx context.Context, audio []byte, language string) ([]Segment, error)
	Close() error
}
