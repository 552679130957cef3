package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mwhitford/underwriter/internal/analysis"
	"github.com/mwhitford/underwriter/internal/common"
	"github.com/mwhitford/underwriter/internal/docs"
	"github.com/mwhitford/underwriter/internal/llm"
	"github.com/mwhitford/underwriter/internal/model"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [statement files...]",
		Short: "Analyze bank statements and produce a credit report",
		Long: `Analyze attaches the given bank statements to a single LLM conversation
and runs the full operation sequence: average daily balance, NSF fees,
statement continuity, and the credit decision. The report is written as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().String("provider", "anthropic", "LLM provider (anthropic, google, openai)")
	cmd.Flags().String("tier", "analysis", "model tier (analysis, reasoning)")
	cmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().Int("max-retries", 3, "retry attempts per operation on transient failures")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	provider, _ := cmd.Flags().GetString("provider")
	tier, _ := cmd.Flags().GetString("tier")
	output, _ := cmd.Flags().GetString("output")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")

	documents, err := docs.LoadFiles(args)
	if err != nil {
		return fmt.Errorf("failed to load statements: %w", err)
	}
	slog.Info("Loaded statements", "count", len(documents))

	store, err := openUsageStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	factory, err := createFactory(store)
	if err != nil {
		return err
	}

	session, err := factory.Create(provider, llm.Tier(tier))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	analyzer := analysis.New(session, slog.Default())
	if err := analyzer.AttachStatements(documents...); err != nil {
		return err
	}

	report, err := runOperations(ctx, analyzer, session, maxRetries)
	if err != nil {
		return err
	}

	return writeReport(report, output)
}

// runOperations executes the four analysis operations in order, retrying
// each on transient failures. The session keeps its history across retries
// because a failed call never commits a turn.
func runOperations(ctx context.Context, analyzer *analysis.Analyzer, session *llm.Session, maxRetries int) (*model.Report, error) {
	report := &model.Report{
		StartedAt: time.Now(),
		Provider:  session.Provider(),
		SessionID: session.ID(),
	}

	steps := []struct {
		run  func(context.Context) error
		name string
	}{
		{name: "Average daily balance", run: func(ctx context.Context) error {
			result, err := analyzer.AverageDailyBalance(ctx)
			if err == nil {
				report.Balance = result
			}
			return err
		}},
		{name: "NSF fees", run: func(ctx context.Context) error {
			result, err := analyzer.CountNSFFees(ctx)
			if err == nil {
				report.NSF = result
			}
			return err
		}},
		{name: "Statement continuity", run: func(ctx context.Context) error {
			result, err := analyzer.CheckContinuity(ctx)
			if err == nil {
				report.Continuity = result
			}
			return err
		}},
		{name: "Credit decision", run: func(ctx context.Context) error {
			result, err := analyzer.Decide(ctx, report)
			if err == nil {
				report.Decision = result
			}
			return err
		}},
	}

	bar := newAnalysisBar(len(steps))
	retryOpts := common.RetryOptions{
		MaxAttempts:  maxRetries,
		InitialDelay: time.Second,
		ShouldRetry:  llm.IsRetryable,
	}

	for _, step := range steps {
		bar.Describe(fmt.Sprintf("[cyan]%s...[reset]", step.name))
		if err := common.WithRetry(ctx, func() error { return step.run(ctx) }, retryOpts); err != nil {
			return nil, fmt.Errorf("%s failed: %w", step.name, err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	report.CompletedAt = time.Now()
	return report, nil
}

func newAnalysisBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Analyzing statements...[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func writeReport(report *model.Report, output string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(output, data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	slog.Info("Report written", "path", output)
	return nil
}
