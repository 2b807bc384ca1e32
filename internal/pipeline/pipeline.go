package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetscribe/internal/events"
	"github.com/yoockh/meetscribe/internal/gateway"
	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/notify"
	"github.com/yoockh/meetscribe/internal/providers/stt"
	"github.com/yoockh/meetscribe/internal/summary"
)

// Poster posts pipeline results to the session's notification surface.
type Poster interface {
	Post(ctx context.Context, content string) error
	PostArtifact(ctx context.Context, message, fileName string, content []byte) error
}

// Deliverer is the slice of the storage gateway the pipeline needs.
type Deliverer interface {
	UploadBatch(ctx context.Context, arts []*models.Artifact) []gateway.Result
}

// Ledger records delivery outcomes; nil-able.
type Ledger interface {
	Record(ctx context.Context, art *models.Artifact, reason string) error
}

// Output collects everything one pipeline run produced.
type Output struct {
	Title              string
	Transcript         string
	Summary            string
	Todolist           string
	FailedParticipants []string
	Artifacts          []*models.Artifact
	Results            []gateway.Result
}

// Pipeline turns a session's finalized tracks into delivered artifacts.
// Steps are strictly sequential per session; independent sessions run
// concurrently, sharing the upload semaphore.
type Pipeline struct {
	stt        stt.Provider
	summarizer summary.Service
	deliverer  Deliverer
	ledger     Ledger
	events     events.Publisher
	templates  *notify.Templates
	log        *logrus.Entry

	speechLanguage string
	uploadSem      chan struct{} // global bound on outstanding uploads
}

func New(
	sttProvider stt.Provider,
	summarizer summary.Service,
	deliverer Deliverer,
	ledger Ledger,
	publisher events.Publisher,
	templates *notify.Templates,
	speechLanguage string,
	uploadConcurrency int,
	log *logrus.Entry,
) *Pipeline {
	if uploadConcurrency <= 0 {
		uploadConcurrency = 4
	}
	return &Pipeline{
		stt:            sttProvider,
		summarizer:     summarizer,
		deliverer:      deliverer,
		ledger:         ledger,
		events:         publisher,
		templates:      templates,
		log:            log,
		speechLanguage: speechLanguage,
		uploadSem:      make(chan struct{}, uploadConcurrency),
	}
}

// Run processes one finalized session. No single collaborator failure aborts
// the run: partial results are always preferred over none.
func (p *Pipeline) Run(ctx context.Context, sess *models.Session, tracks []*models.FinalizedTrack, poster Poster) *Output {
	log := p.log.WithField("session_id", sess.SessionID)
	p.events.SessionEvent(ctx, sess.SessionID, "pipeline_started", map[string]any{"tracks": len(tracks)})

	out := &Output{}

	if !hasAudio(tracks) {
		log.Info("no audio captured; skipping transcription and summarization")
		out.Artifacts = append(out.Artifacts, p.noAudioArtifact(sess))
		p.deliver(ctx, sess, out, poster)
		_ = poster.Post(ctx, p.templates.Render(notify.KindNoAudio, nil))
		p.events.SessionEvent(ctx, sess.SessionID, "pipeline_done", map[string]any{"artifacts": len(out.Artifacts)})
		return out
	}

	segments := p.transcribeTracks(ctx, sess, tracks, out, poster)
	out.Transcript = MergeTranscript(segments)
	p.events.SessionEvent(ctx, sess.SessionID, "transcript_ready", map[string]any{"segments": len(segments)})

	p.summarize(ctx, sess, out, log)
	p.packageArtifacts(sess, out, tracks)
	p.deliver(ctx, sess, out, poster)
	p.post(ctx, out, poster)

	p.events.SessionEvent(ctx, sess.SessionID, "pipeline_done", map[string]any{"artifacts": len(out.Artifacts)})
	return out
}

func hasAudio(tracks []*models.FinalizedTrack) bool {
	for _, t := range tracks {
		if t.Bytes > 0 {
			return true
		}
	}
	return false
}

// transcribeTracks runs the transcription collaborator per track. One track's
// failure never blocks its siblings; the affected participant is reported.
func (p *Pipeline) transcribeTracks(ctx context.Context, sess *models.Session, tracks []*models.FinalizedTrack, out *Output, poster Poster) []models.TranscriptSegment {
	var segments []models.TranscriptSegment
	for _, t := range tracks {
		if t.Bytes == 0 {
			continue
		}
		audio, err := os.ReadFile(t.Path)
		if err != nil {
			p.reportTrackFailure(ctx, sess, t, err, out, poster)
			continue
		}
		segs, err := p.stt.Transcribe(ctx, audio, p.speechLanguage)
		if err != nil {
			p.reportTrackFailure(ctx, sess, t, err, out, poster)
			continue
		}
		for _, s := range segs {
			segments = append(segments, models.TranscriptSegment{
				Participant: t.Participant,
				TrackStart:  t.StartedAt,
				Start:       t.StartedAt.Add(s.Offset),
				Duration:    s.Duration,
				Text:        s.Text,
				Confidence:  s.Confidence,
			})
		}
	}
	return segments
}

func (p *Pipeline) reportTrackFailure(ctx context.Context, sess *models.Session, t *models.FinalizedTrack, err error, out *Output, poster Poster) {
	p.log.WithError(err).WithFields(logrus.Fields{
		"session_id":  sess.SessionID,
		"participant": t.Participant,
		"segment":     t.Segment,
	}).Error("track transcription failed")
	out.FailedParticipants = append(out.FailedParticipants, t.Participant)
	_ = poster.Post(ctx, p.templates.Render(notify.KindCaptureFailed,
		map[string]string{"participant": t.Participant}))
}

// MergeTranscript orders segments deterministically (time, then track start,
// then participant) and renders the timeline.
func MergeTranscript(segments []models.TranscriptSegment) string {
	sorted := make([]models.TranscriptSegment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.TrackStart.Equal(b.TrackStart) {
			return a.TrackStart.Before(b.TrackStart)
		}
		return a.Participant < b.Participant
	})

	var b strings.Builder
	for i, s := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] <%s>: %s", s.Start.UTC().Format("2006-01-02 15:04:05"), s.Participant, s.Text)
	}
	return b.String()
}

// summarize obtains summary, to-do list, and archive title. Each failure is
// isolated: a dead summarizer still leaves the transcript deliverable.
func (p *Pipeline) summarize(ctx context.Context, sess *models.Session, out *Output, log *logrus.Entry) {
	if out.Transcript == "" {
		return
	}

	var err error
	out.Summary, err = p.summarizer.Summarize(ctx, out.Transcript)
	if err != nil {
		log.WithError(err).Error("summary generation failed")
	}
	out.Todolist, err = p.summarizer.Todolist(ctx, out.Transcript)
	if err != nil {
		log.WithError(err).Error("to-do list generation failed")
	}
	out.Title, err = p.summarizer.Title(ctx, out.Transcript, sess.StartedAt)
	if err != nil {
		log.WithError(err).Error("title generation failed")
	}
	if out.Title == "" {
		out.Title = sess.StartedAt.UTC().Format("[20060102]") + " meeting-" + shortID(sess.SessionID)
	}
	p.events.SessionEvent(ctx, sess.SessionID, "summary_ready", map[string]any{
		"summary":  out.Summary != "",
		"todolist": out.Todolist != "",
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// packageArtifacts assembles the session's delivery set: the derived text
// documents plus the raw per-participant capture files.
func (p *Pipeline) packageArtifacts(sess *models.Session, out *Output, tracks []*models.FinalizedTrack) {
	folder := out.Title
	if folder == "" {
		folder = "meeting-" + shortID(sess.SessionID)
	}

	add := func(kind models.ArtifactKind, name, content string) {
		if content == "" {
			return
		}
		out.Artifacts = append(out.Artifacts, &models.Artifact{
			ArtifactID:  uuid.NewString(),
			SessionID:   sess.SessionID,
			Kind:        kind,
			Name:        folder + "/" + name,
			ContentType: "text/plain; charset=utf-8",
			Payload:     []byte(content),
			State:       models.DeliveryPending,
			CreatedAt:   time.Now().UTC(),
		})
	}

	add(models.ArtifactTranscript, "transcript.txt", out.Transcript)
	add(models.ArtifactSummary, "summary.txt", out.Summary)
	add(models.ArtifactTodolist, "todolist.txt", out.Todolist)

	// Raw audio goes along regardless of transcription outcome so a failed
	// track can still be transcribed again later.
	for _, t := range tracks {
		if t.Bytes == 0 {
			continue
		}
		out.Artifacts = append(out.Artifacts, &models.Artifact{
			ArtifactID:  uuid.NewString(),
			SessionID:   sess.SessionID,
			Kind:        models.ArtifactAudio,
			Name:        folder + "/audio/" + filepath.Base(t.Path),
			ContentType: "audio/L16",
			LocalPath:   t.Path,
			State:       models.DeliveryPending,
			CreatedAt:   time.Now().UTC(),
		})
	}
}

func (p *Pipeline) noAudioArtifact(sess *models.Session) *models.Artifact {
	note := "No audio was captured for session " + sess.SessionID + "; no transcript available."
	return &models.Artifact{
		ArtifactID:  uuid.NewString(),
		SessionID:   sess.SessionID,
		Kind:        models.ArtifactNoAudio,
		Name:        "meeting-" + shortID(sess.SessionID) + "/no-transcript.txt",
		ContentType: "text/plain; charset=utf-8",
		Payload:     []byte(note),
		State:       models.DeliveryPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// deliver hands artifacts to the gateway under the global upload bound and
// records each outcome in the ledger.
func (p *Pipeline) deliver(ctx context.Context, sess *models.Session, out *Output, poster Poster) {
	if len(out.Artifacts) == 0 {
		return
	}

	p.uploadSem <- struct{}{}
	out.Results = p.deliverer.UploadBatch(ctx, out.Artifacts)
	<-p.uploadSem

	for i, art := range out.Artifacts {
		res := out.Results[i]
		if p.ledger != nil {
			if err := p.ledger.Record(ctx, art, res.Reason); err != nil {
				p.log.WithError(err).WithField("artifact_id", art.ArtifactID).Warn("ledger record failed")
			}
		}
		if res.State == models.DeliveryLocallyPreserved {
			_ = poster.Post(ctx, p.templates.Render(notify.KindDeliveryFallback, map[string]string{
				"name": art.Name,
				"path": res.LocalRef,
			}))
		}
	}
}

// post sends each produced artifact to the notification surface with whatever
// content succeeded.
func (p *Pipeline) post(ctx context.Context, out *Output, poster Poster) {
	postOne := func(kind notify.Kind, fileName, content string) {
		if content == "" {
			return
		}
		msg := p.templates.Render(kind, nil)
		if err := poster.PostArtifact(ctx, msg, fileName, []byte(content)); err != nil {
			p.log.WithError(err).WithField("file", fileName).Warn("artifact post failed")
		}
	}
	postOne(notify.KindTranscript, "meeting_transcript.txt", out.Transcript)
	postOne(notify.KindSummary, "meeting_summary.txt", out.Summary)
	postOne(notify.KindTodolist, "meeting_todolist.txt", out.Todolist)
}
