package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maphy9/mind-flow/internal/assistant"
)

type mockCompleter struct {
	response string
	err      error
	got      []assistant.Message
}

func (m *mockCompleter) Complete(_ context.Context, messages []assistant.Message) (string, error) {
	m.got = messages
	return m.response, m.err
}

type recordingObserver struct {
	structured, plain int
}

func (r *recordingObserver) ObservePlanValidation(structured bool) {
	if structured {
		r.structured++
	} else {
		r.plain++
	}
}

func TestPlanner_StructuredReply(t *testing.T) {
	c := &mockCompleter{response: `{"message":"Try this","actions":[{"text":"Breathe","time":"in 5 minutes"}]}`}
	rec := &recordingObserver{}
	p := NewPlanner(c, rec)

	history := []assistant.Message{
		{Role: "system", Content: "old system"},
		{Role: "assistant", Content: Greeting},
	}
	reply, err := p.Reply(context.Background(), history, "I feel stressed")
	require.NoError(t, err)

	assert.True(t, reply.Structured)
	assert.Equal(t, "Try this", reply.Plan.Message)
	assert.Equal(t, []ActionItem{{Text: "Breathe", Time: "in 5 minutes"}}, reply.Plan.Actions)
	assert.Equal(t, 1, rec.structured)

	require.Len(t, c.got, 3)
	assert.Equal(t, assistant.Message{Role: "system", Content: SystemPrompt}, c.got[0])
	assert.Equal(t, assistant.Message{Role: "assistant", Content: Greeting}, c.got[1])
	assert.Equal(t, assistant.Message{Role: "user", Content: "I feel stressed"}, c.got[2])
}

func TestPlanner_PlainTextFallback(t *testing.T) {
	c := &mockCompleter{response: "  Just rest a little.  "}
	rec := &recordingObserver{}
	p := NewPlanner(c, rec)

	reply, err := p.Reply(context.Background(), nil, "hi")
	require.NoError(t, err)

	assert.False(t, reply.Structured)
	assert.Equal(t, "Just rest a little.", reply.Plan.Message)
	assert.Empty(t, reply.Plan.Actions)
	assert.Equal(t, 1, rec.plain)
}

func TestPlanner_EmptyCompletion(t *testing.T) {
	p := NewPlanner(&mockCompleter{response: ""}, nil)

	reply, err := p.Reply(context.Background(), nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, reply.Plan.Message)
}

func TestPlanner_CompletionError(t *testing.T) {
	p := NewPlanner(&mockCompleter{err: errors.New("boom")}, nil)

	_, err := p.Reply(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
