package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maphy9/mind-flow/internal/assistant"
	"github.com/maphy9/mind-flow/internal/plan"
	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/storage"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrActionNotFound  = errors.New("action not found")
	ErrEmptyMessage    = errors.New("message text is empty")
)

const (
	DefaultMaxSessions = 256
	persistTimeout     = 10 * time.Second
)

// Message is one conversation turn as presented to clients.
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Actions   []plan.ActionItem `json:"actions,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is the conversation persistence the service needs.
type Store interface {
	AppendMessage(ctx context.Context, m storage.ChatMessage) (storage.ChatMessage, error)
	ListMessages(ctx context.Context, userID string) ([]storage.ChatMessage, error)
	SaveSuggestion(ctx context.Context, s storage.Suggestion) error
	ListSuggestions(ctx context.Context, userID string) (map[string]storage.Suggestion, error)
	DeleteSuggestion(ctx context.Context, userID, messageID string) error
}

// Replier produces the assistant's next turn.
type Replier interface {
	Reply(ctx context.Context, history []assistant.Message, text string) (plan.Reply, error)
}

// ReminderScheduler turns a committed action into a reminder.
type ReminderScheduler interface {
	Schedule(ctx context.Context, userID, title, rawTime string) (reminder.Result, error)
}

// CommitFailure is an action that could not be turned into a reminder.
type CommitFailure struct {
	Action plan.ActionItem `json:"action"`
	Error  string          `json:"error"`
}

// CommitResult reports what a commit did.
type CommitResult struct {
	Scheduled    []reminder.Result `json:"scheduled"`
	Failures     []CommitFailure   `json:"failures,omitempty"`
	Remaining    []plan.ActionItem `json:"remaining"`
	Confirmation *Message          `json:"confirmation,omitempty"`
}

type session struct {
	mu       sync.Mutex
	messages []*Message
}

// checklists tracks one user's checklist writes. It outlives the cached
// session so a reloaded session cannot race writes started by an evicted one.
type checklists struct {
	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	// version counts checklist changes per message; written is the newest
	// version that reached the store.
	version map[string]uint64

	writeMu sync.Mutex
	written map[string]uint64
}

func newChecklists() *checklists {
	c := &checklists{version: make(map[string]uint64), written: make(map[string]uint64)}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// begin assigns the next version of messageID and marks a write in flight.
func (c *checklists) begin(messageID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version[messageID]++
	c.inflight++
	return c.version[messageID]
}

func (c *checklists) done() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// settle blocks until no write is in flight.
func (c *checklists) settle() {
	c.mu.Lock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

func (s *session) find(messageID string) *Message {
	for _, m := range s.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// Service keeps per-user conversations and syncs their checklists.
type Service struct {
	store     Store
	replier   Replier
	reminders ReminderScheduler
	logger    *slog.Logger

	loadMu   sync.Mutex
	sessions *lru.Cache[string, *session]
	pending  sync.WaitGroup

	checklistMu sync.Mutex
	checklists  map[string]*checklists
}

// NewService creates a Service caching up to maxSessions conversations.
func NewService(store Store, replier Replier, reminders ReminderScheduler, maxSessions int) (*Service, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	cache, err := lru.New[string, *session](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &Service{
		store:     store,
		replier:   replier,
		reminders: reminders,
		logger:     slog.Default(),
		sessions:   cache,
		checklists: make(map[string]*checklists),
	}, nil
}

// Wait blocks until background checklist writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) checklistsFor(userID string) *checklists {
	s.checklistMu.Lock()
	defer s.checklistMu.Unlock()
	c, ok := s.checklists[userID]
	if !ok {
		c = newChecklists()
		s.checklists[userID] = c
	}
	return c
}

func (s *Service) load(ctx context.Context, userID string) (*session, error) {
	if sess, ok := s.sessions.Get(userID); ok {
		return sess, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if sess, ok := s.sessions.Get(userID); ok {
		return sess, nil
	}

	// Writes from an evicted session must land before the documents are read.
	s.checklistsFor(userID).settle()

	stored, err := s.store.ListMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if len(stored) == 0 {
		greeting, err := s.store.AppendMessage(ctx, storage.ChatMessage{UserID: userID, Role: "assistant", Content: plan.Greeting})
		if err != nil {
			return nil, fmt.Errorf("seeding conversation: %w", err)
		}
		stored = append(stored, greeting)
	}
	suggestions, err := s.store.ListSuggestions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading suggestions: %w", err)
	}

	sess := &session{}
	for _, m := range stored {
		msg := &Message{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		if sg, ok := suggestions[m.ID]; ok {
			msg.Actions = sg.Actions
		}
		sess.messages = append(sess.messages, msg)
	}
	s.sessions.Add(userID, sess)
	return sess, nil
}

// History returns a copy of the user's conversation.
func (s *Service) History(ctx context.Context, userID string) ([]Message, error) {
	sess, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]Message, len(sess.messages))
	for i, m := range sess.messages {
		out[i] = copyMessage(m)
	}
	return out, nil
}

// Send records the user's text, asks the assistant and records its reply
// with any suggested actions.
func (s *Service) Send(ctx context.Context, userID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	sess, err := s.load(ctx, userID)
	if err != nil {
		return Message{}, err
	}

	sess.mu.Lock()
	history := make([]assistant.Message, 0, len(sess.messages))
	for _, m := range sess.messages {
		history = append(history, assistant.Message{Role: m.Role, Content: m.Content})
	}
	userMsg, err := s.store.AppendMessage(ctx, storage.ChatMessage{UserID: userID, Role: "user", Content: text})
	if err != nil {
		sess.mu.Unlock()
		return Message{}, fmt.Errorf("saving message: %w", err)
	}
	sess.messages = append(sess.messages, &Message{ID: userMsg.ID, Role: "user", Content: text, CreatedAt: userMsg.CreatedAt})
	sess.mu.Unlock()

	// The lock is not held across the completion so checklist toggles stay responsive.
	reply, err := s.replier.Reply(ctx, history, text)
	if err != nil {
		return Message{}, err
	}

	stored, err := s.store.AppendMessage(ctx, storage.ChatMessage{UserID: userID, Role: "assistant", Content: reply.Plan.Message})
	if err != nil {
		return Message{}, fmt.Errorf("saving reply: %w", err)
	}
	msg := &Message{ID: stored.ID, Role: "assistant", Content: stored.Content, CreatedAt: stored.CreatedAt}
	if len(reply.Plan.Actions) > 0 {
		msg.Actions = append([]plan.ActionItem(nil), reply.Plan.Actions...)
	}
	if len(msg.Actions) > 0 {
		if err := s.store.SaveSuggestion(ctx, storage.Suggestion{UserID: userID, MessageID: msg.ID, Actions: msg.Actions}); err != nil {
			s.logger.Warn("saving suggestions", "message_id", msg.ID, "error", err)
		}
	}

	sess.mu.Lock()
	sess.messages = append(sess.messages, msg)
	out := copyMessage(msg)
	sess.mu.Unlock()
	return out, nil
}

// ToggleAction flips the checked flag of one action. The in-memory state is
// updated immediately; the checklist document is written in the background
// and failures are only logged.
func (s *Service) ToggleAction(ctx context.Context, userID, messageID string, index int) (plan.ActionItem, error) {
	sess, err := s.load(ctx, userID)
	if err != nil {
		return plan.ActionItem{}, err
	}

	sess.mu.Lock()
	msg := sess.find(messageID)
	if msg == nil {
		sess.mu.Unlock()
		return plan.ActionItem{}, ErrMessageNotFound
	}
	if index < 0 || index >= len(msg.Actions) {
		sess.mu.Unlock()
		return plan.ActionItem{}, ErrActionNotFound
	}
	msg.Actions[index].Checked = !msg.Actions[index].Checked
	item := msg.Actions[index]
	snapshot := append([]plan.ActionItem(nil), msg.Actions...)
	cl := s.checklistsFor(userID)
	v := cl.begin(messageID)
	sess.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cl.done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		s.writeChecklist(wctx, cl, userID, messageID, v, snapshot)
	}()
	return item, nil
}

// writeChecklist stores version v of a message's actions unless a newer
// version was already written. An empty list deletes the document.
func (s *Service) writeChecklist(ctx context.Context, cl *checklists, userID, messageID string, v uint64, actions []plan.ActionItem) {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	if v <= cl.written[messageID] {
		return
	}

	var err error
	if len(actions) == 0 {
		err = s.store.DeleteSuggestion(ctx, userID, messageID)
	} else {
		err = s.store.SaveSuggestion(ctx, storage.Suggestion{UserID: userID, MessageID: messageID, Actions: actions})
	}
	if err != nil {
		s.logger.Warn("persisting checklist", "message_id", messageID, "version", v, "error", err)
		return
	}
	cl.written[messageID] = v
}

// Commit schedules a reminder for every checked action, one at a time, and
// removes all checked actions from the message. A failure on one action does
// not stop the others.
func (s *Service) Commit(ctx context.Context, userID, messageID string) (CommitResult, error) {
	sess, err := s.load(ctx, userID)
	if err != nil {
		return CommitResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	msg := sess.find(messageID)
	if msg == nil {
		return CommitResult{}, ErrMessageNotFound
	}

	var checked, remaining []plan.ActionItem
	for _, a := range msg.Actions {
		if a.Checked {
			checked = append(checked, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	if len(checked) == 0 {
		return CommitResult{Remaining: append([]plan.ActionItem{}, msg.Actions...)}, nil
	}

	result := CommitResult{Scheduled: []reminder.Result{}}
	for _, a := range checked {
		res, err := s.reminders.Schedule(ctx, userID, a.Text, a.Time)
		if err != nil {
			s.logger.Warn("scheduling action", "message_id", messageID, "text", a.Text, "error", err)
			result.Failures = append(result.Failures, CommitFailure{Action: a, Error: err.Error()})
			continue
		}
		result.Scheduled = append(result.Scheduled, res)
	}

	msg.Actions = remaining
	result.Remaining = append([]plan.ActionItem{}, remaining...)
	cl := s.checklistsFor(userID)
	s.writeChecklist(ctx, cl, userID, messageID, cl.begin(messageID), result.Remaining)
	cl.done()

	if n := len(result.Scheduled); n > 0 {
		content := fmt.Sprintf("Added %d reminder(s)", n)
		stored, err := s.store.AppendMessage(ctx, storage.ChatMessage{UserID: userID, Role: "assistant", Content: content})
		if err != nil {
			// The reminders exist; only the transcript line is lost.
			s.logger.Warn("saving confirmation", "message_id", messageID, "error", err)
			return result, nil
		}
		confirm := &Message{ID: stored.ID, Role: "assistant", Content: stored.Content, CreatedAt: stored.CreatedAt}
		sess.messages = append(sess.messages, confirm)
		c := copyMessage(confirm)
		result.Confirmation = &c
	}
	return result, nil
}

func copyMessage(m *Message) Message {
	out := *m
	if m.Actions != nil {
		out.Actions = append([]plan.ActionItem(nil), m.Actions...)
	}
	return out
}
