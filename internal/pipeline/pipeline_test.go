package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/meetscribe/internal/events"
	"github.com/yoockh/meetscribe/internal/gateway"
	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/notify"
	"github.com/yoockh/meetscribe/internal/providers/stt"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeSTT struct {
	segments map[string][]stt.Segment // keyed by audio content
	err      error
	failOn   string // audio content that errors
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, language string) ([]stt.Segment, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.failOn != "" && string(audio) == f.failOn {
		return nil, errors.New("speech backend rejected audio")
	}
	return f.segments[string(audio)], nil
}

func (f *fakeSTT) Close() error { return nil }

type fakeSummarizer struct {
	summary, todolist, title string
	err                      error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	return f.summary, f.err
}

func (f *fakeSummarizer) Todolist(ctx context.Context, transcript string) (string, error) {
	return f.todolist, f.err
}

func (f *fakeSummarizer) Title(ctx context.Context, transcript string, meetingDate time.Time) (string, error) {
	return f.title, f.err
}

type fakeDeliverer struct {
	arts  []*models.Artifact
	state models.DeliveryState
}

func (f *fakeDeliverer) UploadBatch(ctx context.Context, arts []*models.Artifact) []gateway.Result {
	f.arts = append(f.arts, arts...)
	results := make([]gateway.Result, len(arts))
	for i := range arts {
		state := f.state
		if state == "" {
			state = models.DeliveryDelivered
		}
		results[i] = gateway.Result{State: state, RemoteRef: "gs://test/" + arts[i].Name, LocalRef: "backup/" + arts[i].ArtifactID}
	}
	return results
}

type fakePoster struct {
	messages []string
	files    []string
}

func (f *fakePoster) Post(ctx context.Context, content string) error {
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakePoster) PostArtifact(ctx context.Context, message, fileName string, content []byte) error {
	f.files = append(f.files, fileName)
	return nil
}

func writeTrack(t *testing.T, dir, name, content string, startedAt time.Time) *models.FinalizedTrack {
	t.Helper()
	path := filepath.Join(dir, name+".pcm")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &models.FinalizedTrack{
		SessionID:   "sess-1",
		Participant: name,
		Segment:     1,
		StartedAt:   startedAt,
		StoppedAt:   startedAt.Add(time.Minute),
		Path:        path,
		Bytes:       int64(len(content)),
	}
}

func newPipeline(t *testing.T, sttP stt.Provider, sum *fakeSummarizer, del *fakeDeliverer) *Pipeline {
	t.Helper()
	templates, err := notify.Load()
	require.NoError(t, err)
	return New(sttP, sum, del, nil, events.Nop{}, templates, "en-US", 2, testLog())
}

func session(start time.Time) *models.Session {
	return &models.Session{
		SessionID: "sess-1",
		State:     models.StateFinalizing,
		StartedAt: start,
	}
}

func TestMergeTranscriptOrdersByTimeThenTrack(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := models.TranscriptSegment{Participant: "p1", TrackStart: base, Start: base, Text: "first"}
	t2 := models.TranscriptSegment{Participant: "p2", TrackStart: base.Add(time.Second), Start: base, Text: "second"}
	t3 := models.TranscriptSegment{Participant: "p1", TrackStart: base, Start: base.Add(5 * time.Second), Text: "third"}

	// Arrival order must not matter.
	for _, in := range [][]models.TranscriptSegment{
		{t1, t2, t3},
		{t3, t2, t1},
		{t2, t3, t1},
	} {
		out := MergeTranscript(in)
		lines := strings.Split(out, "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "first")
		assert.Contains(t, lines[1], "second")
		assert.Contains(t, lines[2], "third")
	}
}

func TestMergeTranscriptLineFormat(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 7, 0, time.UTC)
	out := MergeTranscript([]models.TranscriptSegment{
		{Participant: "alice", TrackStart: at, Start: at, Text: "hello there"},
	})
	assert.Equal(t, "[2026-03-01 10:00:07] <alice>: hello there", out)
}

func TestRunProducesAndDeliversArtifacts(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracks := []*models.FinalizedTrack{
		writeTrack(t, dir, "alice", "audio-a", base),
		writeTrack(t, dir, "bob", "audio-b", base.Add(2*time.Second)),
	}

	sttP := &fakeSTT{segments: map[string][]stt.Segment{
		"audio-a": {{Offset: 0, Text: "hello"}},
		"audio-b": {{Offset: time.Second, Text: "hi"}},
	}}
	sum := &fakeSummarizer{summary: "we met", todolist: "- do things", title: "[20260301] Weekly Sync"}
	del := &fakeDeliverer{}
	p := newPipeline(t, sttP, sum, del)
	poster := &fakePoster{}

	out := p.Run(context.Background(), session(base), tracks, poster)

	assert.Contains(t, out.Transcript, "<alice>: hello")
	assert.Contains(t, out.Transcript, "<bob>: hi")
	assert.Equal(t, "we met", out.Summary)
	assert.Equal(t, "[20260301] Weekly Sync", out.Title)
	assert.Empty(t, out.FailedParticipants)

	require.Len(t, out.Artifacts, 5)
	kinds := []models.ArtifactKind{}
	for _, a := range out.Artifacts {
		kinds = append(kinds, a.Kind)
		assert.True(t, strings.HasPrefix(a.Name, "[20260301] Weekly Sync/"), a.Name)
	}
	assert.Equal(t, []models.ArtifactKind{
		models.ArtifactTranscript, models.ArtifactSummary, models.ArtifactTodolist,
		models.ArtifactAudio, models.ArtifactAudio,
	}, kinds)

	// Audio artifacts reference the capture files instead of carrying payload.
	audio := out.Artifacts[3:]
	assert.Equal(t, "[20260301] Weekly Sync/audio/alice.pcm", audio[0].Name)
	assert.Equal(t, "[20260301] Weekly Sync/audio/bob.pcm", audio[1].Name)
	for _, a := range audio {
		assert.Empty(t, a.Payload)
		assert.NotEmpty(t, a.LocalPath)
	}
	assert.Len(t, del.arts, 5)
	assert.Equal(t, []string{"meeting_transcript.txt", "meeting_summary.txt", "meeting_todolist.txt"}, poster.files)
}

func TestTrackFailureDoesNotBlockSiblings(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracks := []*models.FinalizedTrack{
		writeTrack(t, dir, "alice", "audio-a", base),
		writeTrack(t, dir, "bob", "audio-b", base),
	}

	sttP := &fakeSTT{
		segments: map[string][]stt.Segment{"audio-a": {{Text: "only survivor"}}},
		failOn:   "audio-b",
	}
	sum := &fakeSummarizer{summary: "s", todolist: "t", title: "[20260301] x"}
	del := &fakeDeliverer{}
	p := newPipeline(t, sttP, sum, del)
	poster := &fakePoster{}

	out := p.Run(context.Background(), session(base), tracks, poster)

	assert.Contains(t, out.Transcript, "only survivor")
	assert.Equal(t, []string{"bob"}, out.FailedParticipants)

	var reported bool
	for _, msg := range poster.messages {
		if strings.Contains(msg, "bob") {
			reported = true
		}
	}
	assert.True(t, reported, "failed participant must be reported to the thread")

	// The failed track's raw audio is still delivered for a later retry.
	var audioNames []string
	for _, a := range del.arts {
		if a.Kind == models.ArtifactAudio {
			audioNames = append(audioNames, a.Name)
		}
	}
	assert.Equal(t, []string{"[20260301] x/audio/alice.pcm", "[20260301] x/audio/bob.pcm"}, audioNames)
}

func TestSummarizerFailureStillDeliversTranscript(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracks := []*models.FinalizedTrack{writeTrack(t, dir, "alice", "audio-a", base)}

	sttP := &fakeSTT{segments: map[string][]stt.Segment{"audio-a": {{Text: "hello"}}}}
	sum := &fakeSummarizer{err: errors.New("model overloaded")}
	del := &fakeDeliverer{}
	p := newPipeline(t, sttP, sum, del)

	out := p.Run(context.Background(), session(base), tracks, &fakePoster{})

	assert.Contains(t, out.Transcript, "hello")
	assert.Empty(t, out.Summary)
	assert.Empty(t, out.Todolist)
	require.Len(t, out.Artifacts, 2)
	assert.Equal(t, models.ArtifactTranscript, out.Artifacts[0].Kind)
	assert.Equal(t, models.ArtifactAudio, out.Artifacts[1].Kind)
	// Fallback title keeps the date-prefixed naming scheme.
	assert.True(t, strings.HasPrefix(out.Title, "[20260301] "), out.Title)
}

func TestNoAudioShortCircuits(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	empty := writeTrack(t, dir, "alice", "", base)

	sttP := &fakeSTT{err: errors.New("must not be called")}
	del := &fakeDeliverer{}
	p := newPipeline(t, sttP, &fakeSummarizer{}, del)
	poster := &fakePoster{}

	out := p.Run(context.Background(), session(base), []*models.FinalizedTrack{empty}, poster)

	assert.Empty(t, out.Transcript)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, models.ArtifactNoAudio, out.Artifacts[0].Kind)
	require.NotEmpty(t, poster.messages)
	assert.Contains(t, poster.messages[len(poster.messages)-1], "No audio")
}

func TestLocallyPreservedTriggersFallbackNotice(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracks := []*models.FinalizedTrack{writeTrack(t, dir, "alice", "audio-a", base)}

	sttP := &fakeSTT{segments: map[string][]stt.Segment{"audio-a": {{Text: "hello"}}}}
	sum := &fakeSummarizer{title: "[20260301] x"}
	del := &fakeDeliverer{state: models.DeliveryLocallyPreserved}
	p := newPipeline(t, sttP, sum, del)
	poster := &fakePoster{}

	p.Run(context.Background(), session(base), tracks, poster)

	var noticed bool
	for _, msg := range poster.messages {
		if strings.Contains(msg, "kept locally") {
			noticed = true
		}
	}
	assert.True(t, noticed, "local preservation must be surfaced in the thread")
}
