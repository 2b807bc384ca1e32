package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/utils"
)

// Recorder captures one continuous audio stream per participant. Frames are
// written through to a local durable file keyed by session, participant, and
// segment so a crash mid-meeting leaves recoverable partial audio.
type Recorder struct {
	dir string
	log *logrus.Entry

	// Now is the clock source; tests substitute a fake.
	Now func() time.Time

	mu     sync.Mutex
	active map[string]*TrackHandle // sessionID + "/" + participant
}

// TrackHandle is one active capture stream. Append-only while active,
// immutable once stopped.
type TrackHandle struct {
	sessionID   string
	participant string
	segment     int
	startedAt   time.Time
	path        string

	mu        sync.Mutex
	f         *os.File
	bytes     int64
	finalized *models.FinalizedTrack
}

func New(dir string, log *logrus.Entry) *Recorder {
	return &Recorder{
		dir:    dir,
		log:    log,
		Now:    time.Now,
		active: make(map[string]*TrackHandle),
	}
}

// Start opens a new capture stream for the participant. The segment number
// distinguishes rejoin intervals within the same session.
func (r *Recorder) Start(sessionID, participant string, segment int) (*TrackHandle, error) {
	const op = "Recorder.Start"

	if sessionID == "" || participant == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id and participant are required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionID + "/" + participant
	if _, ok := r.active[key]; ok {
		return nil, utils.E(utils.CodeConflict, op, "participant already has an active track", nil)
	}

	sessionDir := filepath.Join(r.dir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		return nil, utils.E(utils.CodeCapture, op, "failed to create session recording dir", err)
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%s_%03d.pcm", participant, segment))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, utils.E(utils.CodeCapture, op, "failed to open track file", err)
	}

	h := &TrackHandle{
		sessionID:   sessionID,
		participant: participant,
		segment:     segment,
		startedAt:   r.Now(),
		path:        path,
		f:           f,
	}
	r.active[key] = h

	r.log.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"participant": participant,
		"segment":     segment,
		"path":        path,
	}).Info("track started")
	return h, nil
}

// Write appends one decoded audio frame. A write error poisons only this
// track; siblings keep recording.
func (h *TrackHandle) Write(frame []byte) error {
	const op = "TrackHandle.Write"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finalized != nil {
		return utils.E(utils.CodeCapture, op, "track already finalized", nil)
	}
	n, err := h.f.Write(frame)
	h.bytes += int64(n)
	if err != nil {
		return utils.E(utils.CodeCapture, op, "failed to append audio frame", err)
	}
	return nil
}

func (h *TrackHandle) Participant() string { return h.participant }
func (h *TrackHandle) Segment() int        { return h.segment }

// Stop finalizes the track. Idempotent: a second call returns the identical
// FinalizedTrack with no duplicate storage writes.
func (r *Recorder) Stop(h *TrackHandle) (*models.FinalizedTrack, error) {
	const op = "Recorder.Stop"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finalized != nil {
		return h.finalized, nil
	}

	var closeErr error
	if err := h.f.Sync(); err != nil {
		closeErr = err
	}
	if err := h.f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	h.finalized = &models.FinalizedTrack{
		SessionID:   h.sessionID,
		Participant: h.participant,
		Segment:     h.segment,
		StartedAt:   h.startedAt,
		StoppedAt:   r.Now(),
		Path:        h.path,
		Bytes:       h.bytes,
	}

	r.mu.Lock()
	delete(r.active, h.sessionID+"/"+h.participant)
	r.mu.Unlock()

	if closeErr != nil {
		r.log.WithError(closeErr).WithFields(logrus.Fields{
			"session_id":  h.sessionID,
			"participant": h.participant,
		}).Warn("track close reported an error; partial audio kept")
	}
	r.log.WithFields(logrus.Fields{
		"session_id":  h.sessionID,
		"participant": h.participant,
		"segment":     h.segment,
		"bytes":       h.bytes,
	}).Info("track finalized")
	return h.finalized, nil
}

// ActiveCount reports streams still capturing, across all sessions.
func (r *Recorder) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
