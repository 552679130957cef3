package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mwhitford/underwriter/internal/docs"
)

// Session owns the ordered message history and the attached document context
// for one analysis run. Providers are stateless per HTTP call, so the session
// replays the full history on every Ask; the attached documents ride on the
// first outbound message only and are never re-sent.
//
// A session is bound to exactly one client and is not safe for concurrent
// use: each Ask depends on the history accumulated by the previous one, so
// callers must issue Ask calls sequentially.
type Session struct {
	client   Client
	logger   *slog.Logger
	repairer *Repairer
	id       string
	history  []Message
	pending  []*docs.Document
	attached bool
}

// newSession creates an empty session bound to the given client.
func newSession(client Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	logger = logger.With("session_id", id, "provider", client.Provider())
	return &Session{
		id:       id,
		client:   client,
		logger:   logger,
		repairer: NewRepairer(logger),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Provider returns the bound provider's name.
func (s *Session) Provider() string { return s.client.Provider() }

// AttachDocuments sets the one-time document context. It fails with
// ErrAlreadyAttached if called twice, regardless of intervening Ask calls.
func (s *Session) AttachDocuments(documents ...*docs.Document) error {
	if s.attached {
		return ErrAlreadyAttached
	}
	if len(documents) == 0 {
		return fmt.Errorf("no documents given")
	}
	s.pending = documents
	s.attached = true
	s.logger.Debug("documents attached", "count", len(documents))
	return nil
}

// Ask appends a user message, sends the accumulated history to the provider,
// appends the assistant reply, and returns the reply text. On the first call
// after AttachDocuments the documents are included ahead of the prompt text;
// they are consumed by that call and never re-sent.
//
// Errors leave the history unchanged, so the caller may retry the same Ask.
func (s *Session) Ask(ctx context.Context, prompt string) (string, error) {
	parts := make([]Part, 0, len(s.pending)+1)
	for _, doc := range s.pending {
		parts = append(parts, DocumentPart(doc))
	}
	parts = append(parts, TextPart(prompt))
	msg := UserMessage(parts...)

	reply, err := s.client.Send(ctx, s.history, msg)
	if err != nil {
		return "", err
	}

	s.history = append(s.history, msg, AssistantMessage(reply.Text))
	s.pending = nil

	s.logger.Debug("turn complete",
		"turns", len(s.history)/2,
		"input_tokens", reply.InputTokens,
		"output_tokens", reply.OutputTokens,
		"stop_reason", reply.StopReason)

	return reply.Text, nil
}

// AskJSON issues Ask and passes the raw reply through response repair,
// returning syntactically valid JSON. Schema validation on top of it is the
// caller's job.
func (s *Session) AskJSON(ctx context.Context, prompt string) (string, error) {
	raw, err := s.Ask(ctx, prompt)
	if err != nil {
		return "", err
	}
	return s.repairer.Repair(ctx, raw, s)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}
