// Package storage persists the token-usage ledger in SQLite so spend
// survives across runs. The in-memory tracker stays authoritative for the
// current process; this is the durable copy behind the usage command.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mwhitford/underwriter/internal/llm"
)

// timestampLayout is RFC 3339 with fixed-width nanoseconds so that stored
// timestamps compare correctly as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// UsageStore is a SQLite-backed usage ledger. It implements llm.UsageSink.
type UsageStore struct {
	db     *sql.DB
	dbPath string
}

// NewUsageStore opens (or creates) the ledger database at dbPath.
func NewUsageStore(dbPath string) (*UsageStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &UsageStore{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *UsageStore) Close() error {
	return s.db.Close()
}

// SaveRecord appends one usage record to the ledger.
func (s *UsageStore) SaveRecord(record llm.UsageRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_records (timestamp, model, endpoint, label, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.Timestamp.UTC().Format(timestampLayout),
		record.Model,
		record.Endpoint,
		record.Label,
		record.InputTokens,
		record.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

// TotalsByModel returns aggregate usage per model across the whole ledger.
func (s *UsageStore) TotalsByModel(ctx context.Context) (map[string]llm.UsageTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, SUM(input_tokens), SUM(output_tokens)
		FROM usage_records
		GROUP BY model
		ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string]llm.UsageTotals)
	for rows.Next() {
		var model string
		var in, out int
		if err := rows.Scan(&model, &in, &out); err != nil {
			return nil, fmt.Errorf("failed to scan usage totals: %w", err)
		}
		totals[model] = llm.UsageTotals{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage totals: %w", err)
	}
	return totals, nil
}

// TotalsByLabel returns aggregate usage per call label across the whole
// ledger, so spend can be traced back to the operation that incurred it.
func (s *UsageStore) TotalsByLabel(ctx context.Context) (map[string]llm.UsageTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, SUM(input_tokens), SUM(output_tokens)
		FROM usage_records
		GROUP BY label
		ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string]llm.UsageTotals)
	for rows.Next() {
		var label string
		var in, out int
		if err := rows.Scan(&label, &in, &out); err != nil {
			return nil, fmt.Errorf("failed to scan usage totals: %w", err)
		}
		totals[label] = llm.UsageTotals{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage totals: %w", err)
	}
	return totals, nil
}

// Records returns usage records newer than since, oldest first. A zero since
// returns everything.
func (s *UsageStore) Records(ctx context.Context, since time.Time) ([]llm.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, model, endpoint, label, input_tokens, output_tokens
		FROM usage_records
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC`,
		since.UTC().Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []llm.UsageRecord
	for rows.Next() {
		var ts string
		var record llm.UsageRecord
		if err := rows.Scan(&ts, &record.Model, &record.Endpoint, &record.Label, &record.InputTokens, &record.OutputTokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		record.Timestamp, err = time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse record timestamp %q: %w", ts, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage records: %w", err)
	}
	return records, nil
}
