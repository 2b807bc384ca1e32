package notify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yoockh/meetscribe/internal/utils"
)

type Kind string

const (
	KindSessionStart     Kind = "session_start"
	KindJoin             Kind = "join"
	KindLeave            Kind = "leave"
	KindEnded            Kind = "ended"
	KindGenerating       Kind = "generating"
	KindTranscript       Kind = "transcript"
	KindSummary          Kind = "summary"
	KindTodolist         Kind = "todolist"
	KindNoAudio          Kind = "no_audio"
	KindCaptureFailed    Kind = "capture_failed"
	KindDeliveryFallback Kind = "delivery_fallback"
)

// envVar maps each message kind to its override variable.
var envVar = map[Kind]string{
	KindSessionStart:     "MEETING_FORUM_CONTENT",
	KindJoin:             "MEETING_JOIN_MESSAGE",
	KindLeave:            "MEETING_LEAVE_MESSAGE",
	KindEnded:            "MEETING_ENDED_MESSAGE",
	KindGenerating:       "GENERATING_SUMMARY_MESSAGE",
	KindTranscript:       "TRANSCRIPT_MESSAGE",
	KindSummary:          "SUMMARY_MESSAGE",
	KindTodolist:         "TODOLIST_MESSAGE",
	KindNoAudio:          "NO_AUDIO_MESSAGE",
	KindCaptureFailed:    "CAPTURE_FAILED_MESSAGE",
	KindDeliveryFallback: "DELIVERY_FALLBACK_MESSAGE",
}

var defaults = map[Kind]string{
	KindSessionStart:     "**Initiator**: {initiator}\n**Start Time**: {time}\n**Channel**: {channel}\n\nParticipant {initiator} joined the meeting.",
	KindJoin:             "{participant} joined the meeting.",
	KindLeave:            "{participant} left the meeting.",
	KindEnded:            "### Meeting Ended\n**Duration**: {duration}\n**Participants**: {participants}\n",
	KindGenerating:       "Generating meeting summary...",
	KindTranscript:       "Meeting transcript:",
	KindSummary:          "Meeting summary:",
	KindTodolist:         "Meeting to-do list:",
	KindNoAudio:          "No audio was captured in this meeting, so no transcript is available.",
	KindCaptureFailed:    "Audio for {participant} could not be transcribed.",
	KindDeliveryFallback: "Upload unavailable; {name} kept locally at {path}.",
}

// allowed enumerates the valid placeholder names per kind. Anything else in a
// template is a configuration error, caught at load time rather than per use.
var allowed = map[Kind][]string{
	KindSessionStart:     {"initiator", "time", "channel"},
	KindJoin:             {"participant"},
	KindLeave:            {"participant"},
	KindEnded:            {"duration", "participants"},
	KindGenerating:       {},
	KindTranscript:       {},
	KindSummary:          {},
	KindTodolist:         {},
	KindNoAudio:          {},
	KindCaptureFailed:    {"participant"},
	KindDeliveryFallback: {"name", "path"},
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Templates is the validated message catalogue.
type Templates struct {
	byKind map[Kind]string
}

// Load reads template overrides from the environment, falling back to the
// defaults, and validates every placeholder against the allowed set.
func Load() (*Templates, error) {
	const op = "notify.Load"

	byKind := make(map[Kind]string, len(defaults))
	for kind, def := range defaults {
		tmpl := def
		if v := os.Getenv(envVar[kind]); v != "" {
			tmpl = v
		}
		if err := validate(kind, tmpl); err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op,
				fmt.Sprintf("invalid template for %q", kind), err)
		}
		byKind[kind] = tmpl
	}
	return &Templates{byKind: byKind}, nil
}

func validate(kind Kind, tmpl string) error {
	names := allowed[kind]
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		ok := false
		for _, n := range names {
			if m[1] == n {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unknown placeholder {%s}", m[1])
		}
	}
	return nil
}

// Render substitutes values into the template for the kind. Missing values
// render as empty strings; extra values are ignored.
func (t *Templates) Render(kind Kind, values map[string]string) string {
	tmpl, ok := t.byKind[kind]
	if !ok {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.Trim(m, "{}")
		return values[name]
	})
}
