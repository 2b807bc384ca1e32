package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetscribe/internal/events"
	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/notify"
	"github.com/yoockh/meetscribe/internal/pipeline"
	"github.com/yoockh/meetscribe/internal/platform"
	"github.com/yoockh/meetscribe/internal/recorder"
	"github.com/yoockh/meetscribe/internal/utils"
)

// Archiver persists a closed session record.
type Archiver interface {
	Archive(ctx context.Context, sess *models.Session) error
}

// Options tunes the machine's timing and naming behavior.
type Options struct {
	TriggerChannel     string        // channel name that starts a meeting
	CloseDelay         time.Duration // grace window after the last leave
	MaxSessionDuration time.Duration // hard cap before forced finalization
	RemoveChannelDelay time.Duration // wait before tearing the channel down
	SpeechLanguage     string
}

func (o *Options) fill() {
	if o.TriggerChannel == "" {
		o.TriggerChannel = "meeting-room"
	}
	if o.CloseDelay <= 0 {
		o.CloseDelay = 5 * time.Minute
	}
	if o.MaxSessionDuration <= 0 {
		o.MaxSessionDuration = 6 * time.Hour
	}
	if o.RemoveChannelDelay < 0 {
		o.RemoveChannelDelay = 0
	}
}

// live is one in-flight session with its capture state.
type live struct {
	sess      *models.Session
	tracks    map[string]*recorder.TrackHandle // participant -> active track
	finalized []*models.FinalizedTrack
	segments  map[string]int // participant -> last segment number
	present   map[string]bool

	closeTimer *time.Timer
	maxTimer   *time.Timer
	finalizing bool
}

// Machine owns the lifecycle of every live session: one per meeting channel,
// driven entirely by platform events and timers.
type Machine struct {
	opts      Options
	platform  platform.VoicePlatform
	rec       *recorder.Recorder
	pipe      *pipeline.Pipeline
	templates *notify.Templates
	events    events.Publisher
	archive   Archiver
	log       *logrus.Entry

	// Now, After, and SetupBackoff are swappable for tests.
	Now          func() time.Time
	After        func(d time.Duration, f func()) *time.Timer
	SetupBackoff func() backoff.BackOff

	mu        sync.Mutex
	byChannel map[string]*live

	wg sync.WaitGroup // outstanding finalization runs
}

func NewMachine(
	opts Options,
	vp platform.VoicePlatform,
	rec *recorder.Recorder,
	pipe *pipeline.Pipeline,
	templates *notify.Templates,
	publisher events.Publisher,
	archive Archiver,
	log *logrus.Entry,
) *Machine {
	opts.fill()
	return &Machine{
		opts:      opts,
		platform:  vp,
		rec:       rec,
		pipe:      pipe,
		templates: templates,
		events:    publisher,
		archive:   archive,
		log:       log,
		Now:   time.Now,
		After: time.AfterFunc,
		SetupBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxElapsedTime = 15 * time.Second
			return bo
		},
		byChannel: make(map[string]*live),
	}
}

// BindPlatform attaches the voice platform after construction. The machine and
// the platform client reference each other, so one side has to bind late.
func (m *Machine) BindPlatform(vp platform.VoicePlatform) {
	m.platform = vp
}

// HandleJoin reacts to a participant entering a voice channel. Entering the
// trigger channel starts a brand-new session; entering a live meeting channel
// joins it.
func (m *Machine) HandleJoin(channelID, channelName, participant string) {
	if channelName == m.opts.TriggerChannel {
		m.startSession(channelID, participant)
		return
	}

	m.mu.Lock()
	s, ok := m.byChannel[channelID]
	if !ok || s.finalizing || s.present[participant] {
		// Duplicate join events for a participant already in the channel are
		// dropped; the initiator's own move echoes back as one.
		m.mu.Unlock()
		return
	}
	m.joinLocked(s, participant)
	threadID := s.sess.ThreadID
	m.mu.Unlock()

	m.post(threadID, m.templates.Render(notify.KindJoin, map[string]string{"participant": participant}))
}

// startSession provisions a meeting channel, moves the initiator in, and opens
// the notification thread. Channel creation is retried with backoff; running
// out of attempts aborts this session only.
func (m *Machine) startSession(triggerChannelID, initiator string) {
	const op = "session.Machine.startSession"
	ctx := context.Background()
	now := m.Now().UTC()

	sess := &models.Session{
		SessionID:        uuid.NewString(),
		Initiator:        initiator,
		TriggerChannelID: triggerChannelID,
		State:            models.StateActive,
		Language:         m.opts.SpeechLanguage,
		StartedAt:        now,
	}
	log := m.log.WithField("session_id", sess.SessionID)

	channelName := "meeting-" + now.Format("20060102-150405")
	var channelID string
	err := backoff.Retry(func() error {
		var cerr error
		channelID, cerr = m.platform.CreateVoiceChannel(ctx, channelName)
		return cerr
	}, m.SetupBackoff())
	if err != nil {
		log.WithError(utils.E(utils.CodeChannelSetup, op, "meeting channel could not be created", err)).
			Error("session aborted")
		return
	}
	sess.MeetingChannelID = channelID

	if err := m.platform.MoveParticipant(ctx, initiator, channelID); err != nil {
		log.WithError(err).Error("initiator move failed; tearing channel down")
		_ = m.platform.RemoveVoiceChannel(ctx, channelID, "setup failed")
		return
	}

	content := m.templates.Render(notify.KindSessionStart, map[string]string{
		"initiator": initiator,
		"time":      now.Format("2006-01-02 15:04:05 MST"),
		"channel":   channelName,
	})
	threadID, err := m.platform.CreateThread(ctx, channelName, content)
	if err != nil {
		log.WithError(err).Warn("thread creation failed; continuing without notifications")
	}
	sess.ThreadID = threadID

	s := &live{
		sess:     sess,
		tracks:   make(map[string]*recorder.TrackHandle),
		segments: make(map[string]int),
		present:  make(map[string]bool),
	}

	m.mu.Lock()
	m.byChannel[channelID] = s
	m.joinLocked(s, initiator)
	s.maxTimer = m.After(m.opts.MaxSessionDuration, func() {
		m.finalizeChannel(channelID, "max duration reached")
	})
	m.mu.Unlock()

	log.WithField("channel_id", channelID).Info("session started")
	m.events.SessionEvent(ctx, sess.SessionID, "session_started", map[string]any{
		"initiator": initiator,
		"channel":   channelName,
	})
}

// joinLocked records presence and opens the participant's next track segment.
// Caller holds m.mu.
func (m *Machine) joinLocked(s *live, participant string) {
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}

	s.present[participant] = true
	s.sess.Presence = append(s.sess.Presence, models.PresenceEvent{
		Participant: participant, Kind: models.PresenceJoined, At: m.Now().UTC(),
	})
	if !contains(s.sess.Participants, participant) {
		s.sess.Participants = append(s.sess.Participants, participant)
	}

	s.segments[participant]++
	h, err := m.rec.Start(s.sess.SessionID, participant, s.segments[participant])
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"session_id":  s.sess.SessionID,
			"participant": participant,
		}).Error("track start failed; participant joins without capture")
		return
	}
	s.tracks[participant] = h
}

// HandleLeave finalizes the leaving participant's track. When the channel
// empties, closing is deferred by the grace window so stragglers can rejoin.
func (m *Machine) HandleLeave(channelID, participant string) {
	m.mu.Lock()
	s, ok := m.byChannel[channelID]
	if !ok || s.finalizing {
		m.mu.Unlock()
		return
	}

	delete(s.present, participant)
	s.sess.Presence = append(s.sess.Presence, models.PresenceEvent{
		Participant: participant, Kind: models.PresenceLeft, At: m.Now().UTC(),
	})

	if h, ok := s.tracks[participant]; ok {
		delete(s.tracks, participant)
		ft, err := m.rec.Stop(h)
		if err != nil {
			m.log.WithError(err).WithField("participant", participant).Error("track finalize failed")
		} else {
			s.finalized = append(s.finalized, ft)
		}
	}

	empty := len(s.present) == 0
	if empty && s.closeTimer == nil {
		s.closeTimer = m.After(m.opts.CloseDelay, func() {
			m.finalizeChannel(channelID, "channel empty")
		})
	}
	threadID := s.sess.ThreadID
	m.mu.Unlock()

	m.post(threadID, m.templates.Render(notify.KindLeave, map[string]string{"participant": participant}))
}

// HandleFrame appends one audio frame to the sender's active track. Frames for
// unknown channels or departed participants are dropped.
func (m *Machine) HandleFrame(channelID, participant string, frame []byte) {
	m.mu.Lock()
	s, ok := m.byChannel[channelID]
	if !ok {
		m.mu.Unlock()
		return
	}
	h := s.tracks[participant]
	m.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Write(frame); err != nil {
		m.log.WithError(err).WithField("participant", participant).Warn("frame dropped")
	}
}

// HandleEndCommand ends the meeting in the given channel immediately.
func (m *Machine) HandleEndCommand(channelID string) {
	m.finalizeChannel(channelID, "end command")
}

// EndAll finalizes every live session; used on shutdown.
func (m *Machine) EndAll(reason string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byChannel))
	for id := range m.byChannel {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.finalizeChannel(id, reason)
	}
	m.wg.Wait()
}

// ActiveSessions snapshots the live sessions for the ops surface.
func (m *Machine) ActiveSessions() []*models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Session, 0, len(m.byChannel))
	for _, s := range m.byChannel {
		cp := *s.sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// finalizeChannel transitions a session out of Active exactly once. All tracks
// are finalized before the pipeline runs; the session never reaches Closed
// with an open track.
func (m *Machine) finalizeChannel(channelID, reason string) {
	m.mu.Lock()
	s, ok := m.byChannel[channelID]
	if !ok || s.finalizing {
		m.mu.Unlock()
		return
	}
	s.finalizing = true
	s.sess.State = models.StateFinalizing
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}

	for participant, h := range s.tracks {
		delete(s.tracks, participant)
		ft, err := m.rec.Stop(h)
		if err != nil {
			m.log.WithError(err).WithField("participant", participant).Error("track finalize failed")
			continue
		}
		s.finalized = append(s.finalized, ft)
	}

	ended := m.Now().UTC()
	s.sess.EndedAt = &ended
	s.sess.DurationSeconds = int64(ended.Sub(s.sess.StartedAt).Seconds())

	delete(m.byChannel, channelID)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session_id": s.sess.SessionID,
		"reason":     reason,
		"tracks":     len(s.finalized),
	}).Info("session finalizing")
	m.events.SessionEvent(context.Background(), s.sess.SessionID, "session_finalizing",
		map[string]any{"reason": reason})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.finish(channelID, s)
	}()
}

// finish runs the artifact pipeline and closes the session record.
func (m *Machine) finish(channelID string, s *live) {
	ctx := context.Background()
	sess := s.sess
	log := m.log.WithField("session_id", sess.SessionID)

	m.post(sess.ThreadID, m.templates.Render(notify.KindGenerating, nil))

	poster := &threadPoster{platform: m.platform, threadID: sess.ThreadID}
	m.pipe.Run(ctx, sess, s.finalized, poster)

	sess.State = models.StateClosed
	m.post(sess.ThreadID, m.templates.Render(notify.KindEnded, map[string]string{
		"duration":     formatDuration(time.Duration(sess.DurationSeconds) * time.Second),
		"participants": strings.Join(sess.Participants, ", "),
	}))
	m.events.SessionEvent(ctx, sess.SessionID, "session_closed", map[string]any{
		"duration_seconds": sess.DurationSeconds,
	})
	m.events.SnapshotState(ctx, sess.SessionID, sess, 24*time.Hour)

	if m.archive != nil {
		if err := m.archive.Archive(ctx, sess); err != nil {
			log.WithError(err).Error("session archive failed")
		}
	}

	remove := func() {
		if err := m.platform.RemoveVoiceChannel(context.Background(), channelID, "meeting ended"); err != nil {
			log.WithError(err).Warn("channel removal failed")
		}
	}
	if m.opts.RemoveChannelDelay > 0 {
		m.After(m.opts.RemoveChannelDelay, remove)
	} else {
		remove()
	}

	log.Info("session closed")
}

func (m *Machine) post(threadID, content string) {
	if threadID == "" || content == "" {
		return
	}
	if err := m.platform.PostMessage(context.Background(), threadID, content); err != nil {
		m.log.WithError(err).Warn("notification post failed")
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	mnt := int((d % time.Hour) / time.Minute)
	sec := int((d % time.Minute) / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, mnt, sec)
	case mnt > 0:
		return fmt.Sprintf("%dm %ds", mnt, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// threadPoster binds the pipeline's posting needs to one session thread.
type threadPoster struct {
	platform platform.VoicePlatform
	threadID string
}

func (t *threadPoster) Post(ctx context.Context, content string) error {
	if t.threadID == "" {
		return nil
	}
	return t.platform.PostMessage(ctx, t.threadID, content)
}

func (t *threadPoster) PostArtifact(ctx context.Context, message, fileName string, content []byte) error {
	if t.threadID == "" {
		return nil
	}
	return t.platform.PostFile(ctx, t.threadID, message, fileName, content)
}
