package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maphy9/mind-flow/internal/assistant"
)

const replyTimeout = 60 * time.Second

const fallbackReply = "Sorry, I couldn't generate a reply."

// Completer is the text-completion capability the Planner depends on.
type Completer interface {
	Complete(ctx context.Context, messages []assistant.Message) (string, error)
}

// ValidationRecorder observes validation outcomes. *metrics.Metrics implements it.
type ValidationRecorder interface {
	ObservePlanValidation(structured bool)
}

// Reply is one assistant turn. Structured is false when the completion did
// not contain a valid plan and Plan.Message carries the raw text instead.
type Reply struct {
	Plan       Plan
	Structured bool
	Raw        string
}

// Planner asks the assistant for a reply and extracts suggested actions.
type Planner struct {
	client   Completer
	recorder ValidationRecorder
	logger   *slog.Logger
}

// NewPlanner creates a Planner. recorder may be nil.
func NewPlanner(client Completer, recorder ValidationRecorder) *Planner {
	return &Planner{client: client, recorder: recorder, logger: slog.Default()}
}

// Reply sends the conversation plus text to the assistant. Completion errors
// are returned; an unparseable completion is not an error and degrades to a
// plain message without actions.
func (p *Planner) Reply(ctx context.Context, history []assistant.Message, text string) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	raw, err := p.client.Complete(ctx, BuildPrompt(history, text))
	if err != nil {
		return Reply{}, fmt.Errorf("assistant completion: %w", err)
	}
	raw = strings.TrimSpace(raw)

	pl, ok := Validate(raw)
	if p.recorder != nil {
		p.recorder.ObservePlanValidation(ok)
	}
	if !ok {
		p.logger.Warn("assistant reply is not a valid plan, using plain text", "length", len(raw))
		msg := raw
		if msg == "" {
			msg = fallbackReply
		}
		return Reply{Plan: Plan{Message: msg, Actions: []ActionItem{}}, Raw: raw}, nil
	}
	return Reply{Plan: pl, Structured: true, Raw: raw}, nil
}
