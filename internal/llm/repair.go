package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// asker issues a follow-up prompt on an existing conversation. *Session
// satisfies it; tests substitute stubs.
type asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// continuationPrompt asks the provider to finish a truncated reply.
const continuationPrompt = "Your previous JSON response was truncated. Complete the JSON response, returning only the completed JSON."

// Repairer post-processes raw model replies that are expected to be JSON. It
// strips Markdown fences, bounds the reply to its outermost object, applies a
// bounded set of textual repairs, and drives at most one continuation request
// when the reply looks truncated. It guarantees syntactic validity only;
// schema validation belongs to callers.
type Repairer struct {
	logger *slog.Logger
}

// NewRepairer creates a repairer.
func NewRepairer(logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{logger: logger}
}

// Repair validates raw as JSON, repairing it if needed. The session is used
// for a single continuation request if the reply looks truncated; it may be
// nil, in which case no continuation is attempted. Repair is idempotent on
// its own output.
func (r *Repairer) Repair(ctx context.Context, raw string, session asker) (string, error) {
	return r.repair(ctx, raw, session, true)
}

func (r *Repairer) repair(ctx context.Context, raw string, session asker, allowContinuation bool) (string, error) {
	stripped := stripFences(raw)

	start := strings.Index(stripped, "{")
	if start < 0 {
		return "", &RepairError{Err: ErrNoStructuredOutput, Raw: raw}
	}

	// Truncation heuristic: unbalanced braces in the raw text prior to
	// bounding. A proxy only -- it can miss truncation and can false-positive
	// on brace-containing string values, so it is never treated as
	// authoritative; it just decides whether to spend the one continuation.
	truncated := strings.Count(raw, "{") != strings.Count(raw, "}")

	end := strings.LastIndex(stripped, "}")
	var candidate string
	if end > start {
		candidate = stripped[start : end+1]
	} else {
		// No closing brace at all; keep the tail so a continuation can
		// complete it.
		candidate = stripped[start:]
	}

	valid := json.Valid([]byte(candidate))
	if !valid {
		fixed := applyTextRepairs(candidate)
		if json.Valid([]byte(fixed)) {
			r.logger.Debug("repaired malformed JSON reply", "original_len", len(candidate), "repaired_len", len(fixed))
			candidate = fixed
			valid = true
		}
	}

	if valid && !truncated {
		return candidate, nil
	}

	if truncated && allowContinuation && session != nil {
		r.logger.Info("reply looks truncated, requesting continuation")
		continuation, err := session.Ask(ctx, continuationPrompt)
		if err != nil {
			return "", err
		}

		// A cooperative model returns the whole completed object; a literal
		// one returns just the missing tail.
		next := continuation
		if !strings.HasPrefix(strings.TrimSpace(stripFences(continuation)), "{") {
			next = raw + continuation
		}
		return r.repair(ctx, next, session, false)
	}

	if valid {
		// Brace parity says truncated but the JSON parses and the one
		// continuation is spent (or unavailable). Trust the parser.
		return candidate, nil
	}

	return "", &RepairError{Err: ErrUnrepairableOutput, Raw: raw}
}

// fenceRE matches an opening code fence with an optional language tag.
var fenceRE = regexp.MustCompile("^```[a-zA-Z]*\\s*")

// stripFences removes surrounding Markdown code-fence markers. Prose before
// the opening fence is dropped with it.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)

	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx:]
		rest = fenceRE.ReplaceAllString(rest, "")
		if end := strings.LastIndex(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return trimmed
}

// applyTextRepairs applies the bounded repair sequence: normalize embedded
// newlines, escape interior quotes, quote bare object keys, strip comments.
func applyTextRepairs(s string) string {
	s = normalizeNewlines(s)
	s = escapeInteriorQuotes(s)
	s = quoteBareKeys(s)
	s = stripComments(s)
	return s
}

// normalizeNewlines escapes literal control characters inside string values.
func normalizeNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteRune(r)
			case r == '\\':
				escaped = true
				b.WriteRune(r)
			case r == '"':
				inString = false
				b.WriteRune(r)
			case r == '\n':
				b.WriteString(`\n`)
			case r == '\r':
				// Dropped; \r\n collapses to \n.
			case r == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeInteriorQuotes escapes unescaped double quotes inside string values.
// A quote is treated as interior when the next non-space rune does not end a
// JSON value.
func escapeInteriorQuotes(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !inString {
			if r == '"' {
				inString = true
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case '\\':
			b.WriteRune(r)
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
		case '"':
			if quoteTerminates(runes, i+1) {
				inString = false
				b.WriteRune(r)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// quoteTerminates reports whether a quote at position i-1 plausibly closes a
// string value, judged by the next non-space rune.
func quoteTerminates(runes []rune, i int) bool {
	for ; i < len(runes); i++ {
		switch runes[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

// bareKeyRE matches an unquoted object key after { or ,.
var bareKeyRE = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

// quoteBareKeys wraps unquoted object keys in double quotes.
func quoteBareKeys(s string) string {
	return bareKeyRE.ReplaceAllString(s, `$1"$2":`)
}

// stripComments removes // line comments and /* */ block comments outside
// string values.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	inString := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			b.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			b.WriteRune(r)
		case r == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				b.WriteRune('\n')
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // Skip the closing '/'.
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
