package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAsker returns canned continuation replies and counts calls.
type scriptedAsker struct {
	replies []string
	calls   int
}

func (s *scriptedAsker) Ask(_ context.Context, _ string) (string, error) {
	if s.calls >= len(s.replies) {
		return "", errors.New("no more scripted replies")
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

func TestRepairer(t *testing.T) {
	r := NewRepairer(nil)
	ctx := context.Background()

	t.Run("fenced JSON is returned exactly", func(t *testing.T) {
		raw := "Here you go:\n```json\n{\"a\": 1, \"b\": 2}\n```"
		out, err := r.Repair(ctx, raw, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1, "b": 2}`, out)
	})

	t.Run("repair is idempotent", func(t *testing.T) {
		raw := "Some preamble\n```json\n{\"x\": [1, 2], \"y\": \"z\"}\n```\ntrailing notes"
		once, err := r.Repair(ctx, raw, nil)
		require.NoError(t, err)

		twice, err := r.Repair(ctx, once, nil)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("bounds to the outermost object", func(t *testing.T) {
		out, err := r.Repair(ctx, `The result is {"ok": true} as requested.`, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"ok": true}`, out)
	})

	t.Run("no structured output", func(t *testing.T) {
		_, err := r.Repair(ctx, "I cannot find any balances in these statements.", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoStructuredOutput)

		var repairErr *RepairError
		require.ErrorAs(t, err, &repairErr)
		assert.Contains(t, repairErr.Raw, "cannot find")
	})

	t.Run("bare keys are quoted", func(t *testing.T) {
		out, err := r.Repair(ctx, `{amount: 1200.50, count: 3}`, nil)
		require.NoError(t, err)
		assert.True(t, json.Valid([]byte(out)), "output must be valid JSON: %s", out)

		var parsed struct {
			Amount float64 `json:"amount"`
			Count  int     `json:"count"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.InDelta(t, 1200.50, parsed.Amount, 0.001)
		assert.Equal(t, 3, parsed.Count)
	})

	t.Run("comments are stripped", func(t *testing.T) {
		raw := "{\n  \"a\": 1, // per statement\n  /* running total */ \"b\": 2\n}"
		out, err := r.Repair(ctx, raw, nil)
		require.NoError(t, err)
		assert.True(t, json.Valid([]byte(out)), "output must be valid JSON: %s", out)
	})

	t.Run("embedded newlines are normalized", func(t *testing.T) {
		raw := "{\"note\": \"line one\nline two\"}"
		out, err := r.Repair(ctx, raw, nil)
		require.NoError(t, err)

		var parsed map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, "line one\nline two", parsed["note"])
	})

	t.Run("interior quotes are escaped", func(t *testing.T) {
		raw := `{"bank": "First "National" Bank"}`
		out, err := r.Repair(ctx, raw, nil)
		require.NoError(t, err)

		var parsed map[string]string
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, `First "National" Bank`, parsed["bank"])
	})

	t.Run("unrepairable output surfaces the raw text", func(t *testing.T) {
		raw := `{"a": }}}{{`
		_, err := r.Repair(ctx, raw, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnrepairableOutput)

		var repairErr *RepairError
		require.ErrorAs(t, err, &repairErr)
		assert.Equal(t, raw, repairErr.Raw)
	})

	t.Run("truncated reply triggers exactly one continuation", func(t *testing.T) {
		session := &scriptedAsker{replies: []string{`{"a": 1, "items": [1,2,3]}`}}

		out, err := r.Repair(ctx, `{"a": 1, "items": [1,2,3`, session)
		require.NoError(t, err)
		assert.Equal(t, 1, session.calls)
		assert.JSONEq(t, `{"a": 1, "items": [1,2,3]}`, out)
	})

	t.Run("tail-only continuation is appended", func(t *testing.T) {
		session := &scriptedAsker{replies: []string{"]}"}}

		out, err := r.Repair(ctx, `{"a": 1, "items": [1,2,3`, session)
		require.NoError(t, err)
		assert.Equal(t, 1, session.calls)
		assert.JSONEq(t, `{"a": 1, "items": [1,2,3]}`, out)
	})

	t.Run("never issues a second continuation", func(t *testing.T) {
		// Continuation is itself truncated; repair must fail rather than
		// recurse.
		session := &scriptedAsker{replies: []string{`{"a": 1, "items": [1,2,3,4`, `{"never": "asked"}`}}

		_, err := r.Repair(ctx, `{"a": 1, "items": [1,2,3`, session)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnrepairableOutput)
		assert.Equal(t, 1, session.calls)
	})

	t.Run("balanced but invalid without continuation budget", func(t *testing.T) {
		session := &scriptedAsker{replies: []string{`{"fixed": true}`}}

		out, err := r.Repair(ctx, "```json\n{\"a\": 1, \"nested\": {\"b\": 2}\n```", session)
		require.NoError(t, err)
		assert.Equal(t, 1, session.calls)
		assert.JSONEq(t, `{"fixed": true}`, out)
	})
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a": 1}`, `{"a": 1}`},
		{"plain fences", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"language tag", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"preamble before fence", "Sure!\n```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
		{"whitespace", "  {\"a\": 1}  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}
