package summary

import (
	"context"
	"strings"
	"time"

	"github.com/yoockh/meetscribe/internal/providers/llm"
	"github.com/yoockh/meetscribe/internal/utils"
)

const summaryPrompt = `
You are a meeting summary expert. Please create a summary of the meeting from the provided transcript.

The summary should include:
People, items, and topics mentioned in the meeting.
Discussion topics and content, highlighting the main points.
Decisions or options discussed and their outcomes.

You do not need to list:
Action items from the meeting.
Participant lists or detailed meeting information.

Format example:
-----
Meeting Summary
Keywords:
Discussion Topics and Summary:
Discussion Outcomes:
-----
`

const todolistPrompt = `
You are a task management expert. Please create a detailed To-Do List based on the provided meeting transcript.

The To-Do List should include:
Action items explicitly or implicitly mentioned during the meeting.
Responsible individuals or teams assigned to each task.
Deadlines or timelines if specified or inferable.
A brief description of the task to provide context.

Do not include:
Irrelevant or unrelated meeting details.
General discussions without specific action items.

Format example:
-----
Meeting To-Do List
1. Task Name: [Brief Description]
   - Responsible: [Individual/Team]
   - Deadline: [Specific Date/Timeline]

2. Task Name: [Brief Description]
   - Responsible: [Individual/Team]
   - Deadline: [Specific Date/Timeline]
-----
`

const titlePrompt = `
You are a meeting title expert. Please create a concise and descriptive title for the meeting based on the provided transcript.

The title should:
1. Be brief but informative (maximum 50 characters)
2. Capture the main purpose or key topic of the meeting
3. Be easy to understand and search for later
4. Not include special characters that might cause file system issues

Do not include:
- Participant names
- Detailed descriptions
- Technical jargon unless necessary

Format:
[YYYYMMDD] Brief Title
`

// Service drives the summarization collaborator: prose summary, action-item
// list, and an archive title, all in the configured output language.
type Service interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Todolist(ctx context.Context, transcript string) (string, error)
	Title(ctx context.Context, transcript string, meetingDate time.Time) (string, error)
}

type service struct {
	provider llm.Provider
	language string
}

func NewService(provider llm.Provider, outputLanguage string) Service {
	if outputLanguage == "" {
		outputLanguage = "en-US"
	}
	return &service{provider: provider, language: outputLanguage}
}

func (s *service) Summarize(ctx context.Context, transcript string) (string, error) {
	const op = "summary.Service.Summarize"

	out, err := s.run(ctx, transcript, summaryPrompt)
	if err != nil {
		return "", utils.E(utils.CodeSummarization, op, "failed to generate summary", err)
	}
	return out, nil
}

func (s *service) Todolist(ctx context.Context, transcript string) (string, error) {
	const op = "summary.Service.Todolist"

	out, err := s.run(ctx, transcript, todolistPrompt)
	if err != nil {
		return "", utils.E(utils.CodeSummarization, op, "failed to generate to-do list", err)
	}
	return out, nil
}

func (s *service) Title(ctx context.Context, transcript string, meetingDate time.Time) (string, error) {
	const op = "summary.Service.Title"

	datePrefix := meetingDate.Format("[20060102]")
	prompt := transcript + titlePrompt +
		"\nPlease generate a title in " + s.language + ". " +
		"Use this date format: " + datePrefix +
		"\nThe title should be a single line with no additional text."

	out, err := s.provider.Generate(ctx, prompt)
	if err != nil {
		return "", utils.E(utils.CodeSummarization, op, "failed to generate title", err)
	}

	title := strings.TrimSpace(out)
	if !strings.HasPrefix(title, datePrefix) {
		title = datePrefix + " " + title
	}
	return sanitizeTitle(title), nil
}

func (s *service) run(ctx context.Context, transcript, prompt string) (string, error) {
	full := transcript + prompt +
		"\nPlease present the result using the format " + s.language +
		" No additional commentary or text is needed."
	return s.provider.Generate(ctx, full)
}

// sanitizeTitle strips characters that break file systems and object names.
func sanitizeTitle(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return -1
		}
		return r
	}, title)
}
