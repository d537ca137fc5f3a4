package chat

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/lexcodex/mindwell/llm"
	"github.com/lexcodex/mindwell/routine"
)

// Reply is the processed outcome of one assistant turn.
type Reply struct {
	// Display is the assistant text with machine markers removed.
	Display string
	// Saved is non-nil when the turn confirmed a routine.
	Saved *routine.SaveResult
}

// Session is one user's companion conversation. It keeps the message
// history, feeds every assistant turn through the routine extractor,
// and cleans marker text before it reaches the user.
type Session struct {
	model     llm.Provider
	extractor *routine.Extractor
	callerID  string
	Options   *llm.Options
	Logger    *log.Logger

	mu      sync.Mutex
	history []llm.Message
}

// NewSession starts a conversation for the given caller. Confirmed
// routines flow through saver.
func NewSession(model llm.Provider, saver routine.Saver, callerID string, logger *log.Logger) *Session {
	return &Session{
		model:     model,
		extractor: routine.NewExtractor(saver, logger),
		callerID:  callerID,
		Logger:    logger,
		history: []llm.Message{
			{Role: "system", Content: llm.CompanionSystemPrompt},
		},
	}
}

// Send submits one user message and returns the processed assistant
// reply. A non-nil error with a populated Reply means the text is
// usable but the routine confirmation failed (for example a malformed
// duration tag).
func (s *Session) Send(ctx context.Context, userText string) (Reply, error) {
	messages := s.appendUser(userText)
	resp, err := s.model.Chat(ctx, messages, s.Options)
	if err != nil {
		return Reply{}, err
	}
	return s.finishTurn(ctx, resp.Text)
}

// Stream submits one user message and forwards raw reply chunks to
// onChunk as they arrive. Marker handling runs on the assembled reply
// once the stream closes, so the returned Reply is the authoritative
// display text.
func (s *Session) Stream(ctx context.Context, userText string, onChunk func(string)) (Reply, error) {
	messages := s.appendUser(userText)
	ch, err := s.model.ChatStream(ctx, messages, s.Options)
	if err != nil {
		return Reply{}, err
	}
	var b strings.Builder
	for chunk := range ch {
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	return s.finishTurn(ctx, b.String())
}

// HasDraft reports whether a proposed routine awaits confirmation.
func (s *Session) HasDraft() bool {
	return s.extractor.HasDraft()
}

// History returns a copy of the conversation so far, system prompt
// excluded. The analyzer consumes this.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, 0, len(s.history))
	for _, m := range s.history {
		if m.Role == "system" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Session) appendUser(userText string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Message{Role: "user", Content: userText})
	return append([]llm.Message(nil), s.history...)
}

func (s *Session) finishTurn(ctx context.Context, assistantText string) (Reply, error) {
	// The raw reply goes into history so the model keeps seeing its
	// own markers; only the user-facing copy is cleaned.
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "assistant", Content: assistantText})
	s.mu.Unlock()

	display, saved, err := s.extractor.HandleAssistantMessage(ctx, s.callerID, assistantText)
	reply := Reply{Display: StripRoutineMarkers(display), Saved: saved}
	if err != nil {
		s.logf("assistant turn processing: %v", err)
		return reply, err
	}
	if saved != nil {
		s.logf("routine outcome for caller %s: %s", s.callerID, outcomeName(saved.Outcome))
	}
	return reply, nil
}

func outcomeName(o routine.SaveOutcome) string {
	if o == routine.OutcomeAlreadyExists {
		return "already-exists"
	}
	return "created"
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Printf("[chat] "+format, args...)
}
