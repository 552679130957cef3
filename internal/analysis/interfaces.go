// Package analysis runs the statement-analysis operations: average daily
// balance, NSF activity, statement continuity, and the credit decision. It
// sits above the LLM core: prompts and schema validation live here, transport
// and JSON repair live below.
package analysis

import (
	"context"

	"github.com/mwhitford/underwriter/internal/docs"
)

// Conversation is the slice of the LLM session this package needs. It is
// satisfied by *llm.Session; tests substitute stubs.
type Conversation interface {
	AttachDocuments(documents ...*docs.Document) error
	AskJSON(ctx context.Context, prompt string) (string, error)
	ID() string
	Provider() string
}
