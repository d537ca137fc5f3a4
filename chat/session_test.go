package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mindwell/routine"
)

type fakeSaver struct {
	calls    int
	content  string
	duration int
	result   routine.SaveResult
	err      error
}

func (s *fakeSaver) SaveConfirmed(_ context.Context, callerID string, _ time.Time, duration int, content string) (routine.SaveResult, error) {
	s.calls++
	s.content = content
	s.duration = duration
	return s.result, s.err
}

const proposalReply = "Let's try this:\n[ROUTINE_START]\n**Day 1:**\n* Drink water\n[ROUTINE_END]\nHow many days would you like?"

func TestSessionCleansMarkersFromReply(t *testing.T) {
	model := &fakeModel{replies: []string{proposalReply}}
	s := NewSession(model, &fakeSaver{}, "caller-1", nil)

	reply, err := s.Send(context.Background(), "I feel anxious lately")
	require.NoError(t, err)
	assert.Nil(t, reply.Saved)
	assert.NotContains(t, reply.Display, "[ROUTINE_START]")
	assert.Contains(t, reply.Display, "* Drink water")
	assert.True(t, s.HasDraft())
}

func TestSessionConfirmationSavesRoutine(t *testing.T) {
	model := &fakeModel{replies: []string{
		proposalReply,
		"Excellent choice! I'll check in. [DURATION: 3 DAYS]",
	}}
	saver := &fakeSaver{result: routine.SaveResult{Outcome: routine.OutcomeCreated, RoutineID: "r1", TaskCount: 1}}
	s := NewSession(model, saver, "caller-1", nil)

	_, err := s.Send(context.Background(), "I feel anxious lately")
	require.NoError(t, err)

	reply, err := s.Send(context.Background(), "Three days please")
	require.NoError(t, err)
	require.NotNil(t, reply.Saved)
	assert.Equal(t, routine.OutcomeCreated, reply.Saved.Outcome)
	assert.Equal(t, 3, saver.duration)
	assert.Equal(t, "**Day 1:**\n* Drink water", saver.content)
	assert.NotContains(t, reply.Display, "[DURATION:", "tag never reaches the user")
	assert.False(t, s.HasDraft())
}

func TestSessionBadDurationSurfacesError(t *testing.T) {
	model := &fakeModel{replies: []string{
		proposalReply,
		"Sure. [DURATION: soon DAYS]",
	}}
	saver := &fakeSaver{}
	s := NewSession(model, saver, "caller-1", nil)

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	reply, err := s.Send(context.Background(), "soon?")
	assert.ErrorIs(t, err, routine.ErrBadDuration)
	assert.Equal(t, "Sure.", reply.Display, "reply text is still usable")
	assert.Zero(t, saver.calls)
	assert.True(t, s.HasDraft(), "draft survives for a re-confirmation")
}

func TestSessionStreamAssemblesReply(t *testing.T) {
	model := &fakeModel{replies: []string{proposalReply}}
	s := NewSession(model, &fakeSaver{}, "caller-1", nil)

	var streamed strings.Builder
	reply, err := s.Stream(context.Background(), "I feel anxious", func(chunk string) {
		streamed.WriteString(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, proposalReply, streamed.String(), "raw chunks reach the callback")
	assert.NotContains(t, reply.Display, "[ROUTINE_START]")
	assert.True(t, s.HasDraft())
}

func TestSessionHistoryExcludesSystemPrompt(t *testing.T) {
	model := &fakeModel{replies: []string{proposalReply}}
	s := NewSession(model, &fakeSaver{}, "caller-1", nil)

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Contains(t, history[1].Content, "[ROUTINE_START]", "history keeps raw markers for model context")
}
