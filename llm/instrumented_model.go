package llm

import (
	"context"
	"log"
	"time"
)

// Provider is the language-model surface the chat layer consumes.
// *Client implements it; InstrumentedModel decorates it.
type Provider interface {
	Generate(ctx context.Context, prompt string, options *Options) (*Response, error)
	Chat(ctx context.Context, messages []Message, options *Options) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, options *Options) (<-chan string, error)
}

// InstrumentedModel wraps a Provider and logs prompts and responses.
type InstrumentedModel struct {
	Inner  Provider
	Logger *log.Logger
	Debug  bool
}

func NewInstrumentedModel(inner Provider, logger *log.Logger, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Logger: logger, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *Options) (*Response, error) {
	start := time.Now()
	m.logf("generate prompt (%d chars): %s", len(prompt), clip(prompt, m.previewLimit()))
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.logOutcome("generate", start, resp, err)
	return resp, err
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []Message, options *Options) (*Response, error) {
	start := time.Now()
	m.logf("chat with %d messages, last: %s", len(messages), clip(lastContent(messages), m.previewLimit()))
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.logOutcome("chat", start, resp, err)
	return resp, err
}

func (m *InstrumentedModel) ChatStream(ctx context.Context, messages []Message, options *Options) (<-chan string, error) {
	start := time.Now()
	m.logf("chat stream with %d messages, last: %s", len(messages), clip(lastContent(messages), m.previewLimit()))
	ch, err := m.Inner.ChatStream(ctx, messages, options)
	if err != nil {
		m.logf("chat stream failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
	} else {
		m.logf("chat stream opened after %s", time.Since(start).Round(time.Millisecond))
	}
	return ch, err
}

func (m *InstrumentedModel) logOutcome(kind string, start time.Time, resp *Response, err error) {
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		m.logf("%s failed after %s: %v", kind, elapsed, err)
		return
	}
	m.logf("%s done after %s, finish=%s, text: %s", kind, elapsed, resp.FinishReason, clip(resp.Text, m.previewLimit()))
}

func (m *InstrumentedModel) previewLimit() int {
	if m.Debug {
		return 8192
	}
	return 256
}

func (m *InstrumentedModel) logf(format string, args ...interface{}) {
	if m == nil || m.Logger == nil {
		return
	}
	m.Logger.Printf("[llm] "+format, args...)
}

func lastContent(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

func clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
