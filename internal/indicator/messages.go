package indicator

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rbright/misty/internal/session"
)

type locale string

const (
	localeEnglish locale = "en"
)

const maxBodyRunes = 160

type messages struct {
	recording   string
	uploading   string
	polling     string
	done        string
	failed      string
	noReply     string
	attemptFmt  string
	unreachable string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording:   "Recording…",
			uploading:   "Uploading…",
			polling:     "Waiting for reply…",
			done:        "Reply ready",
			failed:      "Voice request failed",
			noReply:     "(no reply)",
			attemptFmt:  "attempt %d of %d",
			unreachable: "backend unreachable",
		}
	}
}

// pollingBody renders job phase and attempt progress, e.g.
// "Transcribing (attempt 3 of 60)".
func (m messages) pollingBody(state session.State, maxAttempts int) string {
	phase := strings.TrimSpace(state.JobPhase)
	if phase != "" {
		phase = strings.ToUpper(phase[:1]) + phase[1:]
	}
	if state.Attempt <= 0 {
		return phase
	}

	progress := fmt.Sprintf("%d", state.Attempt)
	if maxAttempts > 0 {
		progress = fmt.Sprintf(m.attemptFmt, state.Attempt, maxAttempts)
	}
	if phase == "" {
		return progress
	}
	return fmt.Sprintf("%s (%s)", phase, progress)
}

// failureBody explains a failed session in user terms.
func (m messages) failureBody(f *session.Failure) string {
	if f == nil {
		return ""
	}
	switch f.Reason {
	case session.ReasonDeviceUnavailable:
		return "Microphone unavailable"
	case session.ReasonSubmissionFailed:
		if f.HTTPStatus == 0 {
			return "Upload failed: " + m.unreachable
		}
		return fmt.Sprintf("Upload failed (HTTP %d)", f.HTTPStatus)
	case session.ReasonMalformedResponse:
		return "Backend sent an unreadable reply"
	case session.ReasonRemoteJobError:
		if f.Detail == "" {
			return "The job failed"
		}
		return truncate("The job failed: " + f.Detail)
	case session.ReasonTimeout:
		return "No reply in time, try again"
	default:
		return string(f.Reason)
	}
}

func (m messages) doneBody(state session.State) string {
	text := strings.TrimSpace(state.Response)
	if text == "" {
		text = strings.TrimSpace(state.Transcript)
	}
	if text == "" {
		return m.noReply
	}
	return truncate(text)
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxBodyRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBodyRunes-1]) + "…"
}
