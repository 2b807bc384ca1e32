package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/meetscribe/internal/utils"
)

type fakeProvider struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeProvider) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error)
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeProvider) Close() error { return nil }

func TestSummarizeIncludesTranscriptAndLanguage(t *testing.T) {
	p := &fakeProvider{reply: "Meeting Summary\nKeywords: testing"}
	s := NewService(p, "ja-JP")

	out, err := s.Summarize(context.Background(), "[10:00] <alice>: hello")
	require.NoError(t, err)
	assert.Equal(t, "Meeting Summary\nKeywords: testing", out)

	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "[10:00] <alice>: hello")
	assert.Contains(t, p.prompts[0], "meeting summary expert")
	assert.Contains(t, p.prompts[0], "ja-JP")
}

func TestTodolistWrapsProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("model overloaded")}
	s := NewService(p, "")

	_, err := s.Todolist(context.Background(), "transcript")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeSummarization))
}

func TestTitleKeepsDatePrefix(t *testing.T) {
	p := &fakeProvider{reply: "[20260301] Weekly Sync"}
	s := NewService(p, "en-US")

	title, err := s.Title(context.Background(), "transcript", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "[20260301] Weekly Sync", title)
}

func TestTitleAddsMissingDatePrefix(t *testing.T) {
	p := &fakeProvider{reply: "Weekly Sync"}
	s := NewService(p, "en-US")

	title, err := s.Title(context.Background(), "transcript", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "[20260301] Weekly Sync", title)
}

func TestTitleStripsFilesystemHostileCharacters(t *testing.T) {
	p := &fakeProvider{reply: `[20260301] Q1: Plans / "Review" <draft>?*`}
	s := NewService(p, "en-US")

	title, err := s.Title(context.Background(), "transcript", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "[20260301] Q1 Plans  Review draft", title)
	assert.False(t, strings.ContainsAny(title, `<>:"/\|?*`))
}
