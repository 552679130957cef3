package llm

import (
	"context"
	"strings"
	"time"

	"github.com/mwhitford/underwriter/internal/docs"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of a message: text, or a document reference.
// Exactly one field is set.
type Part struct {
	Document *docs.Document
	Text     string
}

// TextPart creates a text message part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// DocumentPart creates a document message part.
func DocumentPart(doc *docs.Document) Part {
	return Part{Document: doc}
}

// Message is one turn in a conversation. Messages are immutable once
// appended to a session; their order is the literal conversation order
// replayed to the provider on every call.
type Message struct {
	Role  Role
	Parts []Part
}

// UserMessage creates a user message from the given parts.
func UserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// AssistantMessage creates an assistant message with a single text part.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Document == nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasDocuments reports whether any part carries a document reference.
func (m Message) HasDocuments() bool {
	for _, p := range m.Parts {
		if p.Document != nil {
			return true
		}
	}
	return false
}

// RawReply is the uninterpreted result of one provider call. Token counts are
// provider-reported when the wire protocol includes usage metadata, and
// locally estimated otherwise.
type RawReply struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Client is the uniform send contract every provider variant implements.
// Send replays the full history plus the new prompt, serialized into the
// provider's wire shape. Implementations acquire the shared rate limiter
// before the network call and record usage afterward.
type Client interface {
	Send(ctx context.Context, history []Message, prompt Message) (RawReply, error)
	Provider() string
}

// ProviderConfig describes one (provider, model tier) pair. Immutable once
// constructed.
type ProviderConfig struct {
	Provider     string
	Model        string
	MaxTokens    int
	ContextLimit int
	Temperature  float64
}

// ClientConfig carries everything a provider client constructor needs.
// BaseURL overrides the provider endpoint; tests point it at a local server.
type ClientConfig struct {
	Limiter  *RateLimiter
	Usage    *UsageTracker
	Provider ProviderConfig
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// defaultTimeout bounds a single provider call when the caller's context
// carries no deadline of its own.
const defaultTimeout = 120 * time.Second
