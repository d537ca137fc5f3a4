package routine

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sentinel markers the companion model embeds in otherwise free-form
// assistant text. The start/end pair delimits a proposed routine; the
// duration tag confirms it.
const (
	RoutineStartTag   = "[ROUTINE_START]"
	RoutineEndTag     = "[ROUTINE_END]"
	DurationTagPrefix = "[DURATION: "
	DurationTagSuffix = " DAYS]"
)

var durationTagRe = regexp.MustCompile(`\[DURATION:\s*\d+\s*DAYS\]`)

// ErrBadDuration means a duration tag was present but its value did not
// parse to a positive integer; the user should be asked to re-confirm.
var ErrBadDuration = errors.New("routine: could not understand confirmed duration")

// Saver is the persistence gate as the extractor sees it.
type Saver interface {
	SaveConfirmed(ctx context.Context, callerID string, startDate time.Time, duration int, content string) (SaveResult, error)
}

// Extractor watches completed assistant messages for routine sentinels.
// It holds session-scoped state: the latest draft captured between the
// start/end tags and a guard that keeps at most one save in flight.
type Extractor struct {
	saver  Saver
	logger *log.Logger
	Now    func() time.Time

	mu       sync.Mutex
	draft    string
	hasDraft bool
	saving   bool
}

// NewExtractor builds an extractor bound to one chat session.
func NewExtractor(saver Saver, logger *log.Logger) *Extractor {
	return &Extractor{saver: saver, logger: logger, Now: time.Now}
}

// HasDraft reports whether an unsaved routine draft is being held.
func (e *Extractor) HasDraft() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasDraft
}

// HandleAssistantMessage processes one completed assistant message. It
// captures a new draft when both routine tags are present (overwriting
// any unsaved draft), and triggers the persistence gate when a valid
// duration tag arrives while a draft is held. The returned string is the
// message with the duration tag stripped; the start/end tags are left for
// display-time cleaning. The SaveResult is non-nil only when the gate ran.
func (e *Extractor) HandleAssistantMessage(ctx context.Context, callerID, content string) (string, *SaveResult, error) {
	e.captureDraft(content)

	duration, tagged := extractDuration(content)
	if !tagged {
		return content, nil, nil
	}
	display := strings.TrimSpace(durationTagRe.ReplaceAllString(content, ""))

	if duration < 1 {
		return display, nil, ErrBadDuration
	}

	e.mu.Lock()
	if !e.hasDraft {
		e.mu.Unlock()
		e.logf("duration tag without a routine draft; nothing to persist")
		return display, nil, nil
	}
	if e.saving {
		e.mu.Unlock()
		e.logf("save already in progress; ignoring duration tag")
		return display, nil, nil
	}
	e.saving = true
	draft := e.draft
	e.mu.Unlock()

	result, err := e.saver.SaveConfirmed(ctx, callerID, e.Now(), duration, draft)

	e.mu.Lock()
	e.saving = false
	if err == nil {
		// Clear the draft on success or confirmed already-exists; a
		// transient failure keeps it so the user can retry.
		e.draft = ""
		e.hasDraft = false
	}
	e.mu.Unlock()

	if err != nil {
		return display, nil, err
	}
	return display, &result, nil
}

// captureDraft implements Rule A: a message carrying both tags replaces
// the held draft, discarding any unsaved one.
func (e *Extractor) captureDraft(content string) {
	start := strings.Index(content, RoutineStartTag)
	end := strings.Index(content, RoutineEndTag)
	if start < 0 || end < 0 {
		return
	}
	start += len(RoutineStartTag)
	if start >= end {
		return
	}
	draft := strings.TrimSpace(content[start:end])
	e.mu.Lock()
	e.draft = draft
	e.hasDraft = true
	e.mu.Unlock()
	e.logf("captured routine draft (%d bytes)", len(draft))
}

// extractDuration implements Rule B's parse: the digits between the
// duration prefix and suffix. Returns tagged=false when no tag is
// present, and duration 0 when the tag is present but malformed.
func extractDuration(content string) (int, bool) {
	start := strings.Index(content, DurationTagPrefix)
	if start < 0 {
		return 0, false
	}
	rest := content[start+len(DurationTagPrefix):]
	end := strings.Index(rest, DurationTagSuffix)
	if end < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if err != nil {
		return 0, true
	}
	return n, true
}

func (e *Extractor) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
