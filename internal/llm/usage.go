package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// UsageRecord captures the token accounting for one provider call.
type UsageRecord struct {
	Timestamp    time.Time
	Model        string
	Endpoint     string
	Label        string
	InputTokens  int
	OutputTokens int
}

// UsageTotals is an aggregate over usage records.
type UsageTotals struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// UsageSink receives each record as it is appended, for persistence.
type UsageSink interface {
	SaveRecord(record UsageRecord) error
}

// UsageTracker records token usage per call and maintains running totals
// keyed by model plus a grand total. It is shared across all sessions, safe
// for concurrent use, never blocks on I/O under its lock, and never fails.
type UsageTracker struct {
	byModel map[string]UsageTotals
	logger  *slog.Logger
	sink    UsageSink
	history []UsageRecord
	total   UsageTotals
	mu      sync.Mutex
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker(logger *slog.Logger) *UsageTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageTracker{
		byModel: make(map[string]UsageTotals),
		logger:  logger,
	}
}

// SetSink attaches a persistence sink. Sink failures are logged, never
// propagated; the in-memory ledger is authoritative.
func (t *UsageTracker) SetSink(sink UsageSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// Record appends a usage record and updates the running totals.
func (t *UsageTracker) Record(inputTokens, outputTokens int, model, endpoint, label string) {
	record := UsageRecord{
		Timestamp:    time.Now(),
		Model:        model,
		Endpoint:     endpoint,
		Label:        label,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}

	t.mu.Lock()
	t.history = append(t.history, record)

	totals := t.byModel[model]
	totals.InputTokens += inputTokens
	totals.OutputTokens += outputTokens
	totals.TotalTokens += inputTokens + outputTokens
	t.byModel[model] = totals

	t.total.InputTokens += inputTokens
	t.total.OutputTokens += outputTokens
	t.total.TotalTokens += inputTokens + outputTokens
	running := t.total.TotalTokens
	sink := t.sink
	t.mu.Unlock()

	t.logger.Info("API call usage",
		"endpoint", endpoint,
		"model", model,
		"label", label,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"running_total", running)

	if sink != nil {
		if err := sink.SaveRecord(record); err != nil {
			t.logger.Warn("failed to persist usage record", "error", err)
		}
	}
}

// Totals returns the aggregate for one model, or the grand total when model
// is empty.
func (t *UsageTracker) Totals(model string) UsageTotals {
	t.mu.Lock()
	defer t.mu.Unlock()
	if model == "" {
		return t.total
	}
	return t.byModel[model]
}

// Records returns a copy of the append-only history.
func (t *UsageTracker) Records() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UsageRecord, len(t.history))
	copy(out, t.history)
	return out
}

// labelKey is the context key for the calling-context label.
type labelKey struct{}

// WithLabel tags the context with the calling operation's name, so usage
// records can attribute token spend without any global state.
func WithLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, labelKey{}, label)
}

// CallLabel returns the context's calling-context label, or "unknown".
func CallLabel(ctx context.Context) string {
	if label, ok := ctx.Value(labelKey{}).(string); ok && label != "" {
		return label
	}
	return "unknown"
}

// EstimateTokens approximates the token count of text when the provider does
// not report usage. A blend of word and character counts tracks real
// tokenizers closely enough for rate-limit budgeting; it is intentionally
// conservative, not exact.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	return (words + chars/4) / 2
}

// estimateMessageTokens approximates the serialized size of a set of
// messages, counting inline document attachments at their encoded length.
func estimateMessageTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Document != nil {
				if p.Document.HasData() {
					// Base64 expands by 4/3; roughly 4 encoded chars per token.
					total += len(p.Document.Data) / 3
				} else {
					total += EstimateTokens(p.Document.Text)
				}
				continue
			}
			total += EstimateTokens(p.Text)
		}
	}
	return total
}
