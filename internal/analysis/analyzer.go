package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mwhitford/underwriter/internal/docs"
	"github.com/mwhitford/underwriter/internal/llm"
	"github.com/mwhitford/underwriter/internal/model"
)

// Analyzer drives one analysis run over a single session. The documents are
// attached once; every operation is a further turn on the same conversation,
// so the provider sees the statements exactly once.
//
// Like the session it wraps, an Analyzer must not be used concurrently.
type Analyzer struct {
	session Conversation
	logger  *slog.Logger

	// Progress, when set, is called with the operation name before each step
	// of Run.
	Progress func(operation string)
}

// New creates an analyzer bound to a session.
func New(session Conversation, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		session: session,
		logger:  logger.With("session_id", session.ID()),
	}
}

// AttachStatements hands the statement documents to the underlying session.
func (a *Analyzer) AttachStatements(documents ...*docs.Document) error {
	return a.session.AttachDocuments(documents...)
}

// AverageDailyBalance extracts the average daily balance.
func (a *Analyzer) AverageDailyBalance(ctx context.Context) (*model.BalanceResult, error) {
	ctx = llm.WithLabel(ctx, "average_daily_balance")

	var result model.BalanceResult
	if err := a.askInto(ctx, balancePrompt, &result); err != nil {
		return nil, fmt.Errorf("average daily balance: %w", err)
	}
	a.logger.Info("average daily balance extracted", "amount", result.AverageDailyBalance)
	return &result, nil
}

// CountNSFFees extracts NSF fee activity.
func (a *Analyzer) CountNSFFees(ctx context.Context) (*model.NSFResult, error) {
	ctx = llm.WithLabel(ctx, "check_nsf")

	var result model.NSFResult
	if err := a.askInto(ctx, nsfPrompt, &result); err != nil {
		return nil, fmt.Errorf("NSF check: %w", err)
	}
	a.logger.Info("NSF check complete", "incidents", result.IncidentCount, "total_fees", result.TotalFees)
	return &result, nil
}

// CheckContinuity verifies the statement periods form an unbroken sequence.
func (a *Analyzer) CheckContinuity(ctx context.Context) (*model.ContinuityResult, error) {
	ctx = llm.WithLabel(ctx, "check_continuity")

	var result model.ContinuityResult
	if err := a.askInto(ctx, continuityPrompt, &result); err != nil {
		return nil, fmt.Errorf("continuity check: %w", err)
	}
	a.logger.Info("continuity check complete", "continuous", result.Continuous, "gaps", len(result.Gaps))
	return &result, nil
}

// Decide synthesizes a credit decision from the collected metrics.
func (a *Analyzer) Decide(ctx context.Context, report *model.Report) (*model.Decision, error) {
	ctx = llm.WithLabel(ctx, "credit_decision")

	var decision model.Decision
	prompt := fmt.Sprintf(decisionPromptFmt, formatMetrics(report))
	if err := a.askInto(ctx, prompt, &decision); err != nil {
		return nil, fmt.Errorf("credit decision: %w", err)
	}
	a.logger.Info("credit decision made",
		"approved", decision.Approved,
		"recommendation", decision.Recommendation,
		"confidence", decision.Confidence)
	return &decision, nil
}

// Run attaches the documents and executes the full operation sequence,
// returning a complete report. Operations are sequential by construction:
// each turn's prompt depends on the conversation so far.
func (a *Analyzer) Run(ctx context.Context, documents []*docs.Document) (*model.Report, error) {
	if err := a.AttachStatements(documents...); err != nil {
		return nil, err
	}

	report := &model.Report{
		StartedAt: time.Now(),
		Provider:  a.session.Provider(),
		SessionID: a.session.ID(),
	}

	a.step("average_daily_balance")
	balance, err := a.AverageDailyBalance(ctx)
	if err != nil {
		return nil, err
	}
	report.Balance = balance

	a.step("check_nsf")
	nsf, err := a.CountNSFFees(ctx)
	if err != nil {
		return nil, err
	}
	report.NSF = nsf

	a.step("check_continuity")
	continuity, err := a.CheckContinuity(ctx)
	if err != nil {
		return nil, err
	}
	report.Continuity = continuity

	a.step("credit_decision")
	decision, err := a.Decide(ctx, report)
	if err != nil {
		return nil, err
	}
	report.Decision = decision

	report.CompletedAt = time.Now()
	return report, nil
}

func (a *Analyzer) step(operation string) {
	if a.Progress != nil {
		a.Progress(operation)
	}
}

// validator lets askInto run each result's structural checks uniformly.
type validator interface {
	Validate() error
}

// askInto issues one JSON-repaired turn and decodes the reply strictly into
// out. Unknown fields are rejected so prompt/schema drift surfaces as an
// error instead of silently dropped data.
func (a *Analyzer) askInto(ctx context.Context, prompt string, out validator) error {
	reply, err := a.session.AskJSON(ctx, prompt)
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(strings.NewReader(reply))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("reply does not match expected schema: %w", err)
	}

	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid reply structure: %w", err)
	}
	return nil
}

// formatMetrics renders the collected metrics for the decision prompt.
func formatMetrics(report *model.Report) string {
	var b strings.Builder
	if report.Balance != nil {
		fmt.Fprintf(&b, "- average daily balance: %.2f\n", report.Balance.AverageDailyBalance)
	}
	if report.NSF != nil {
		fmt.Fprintf(&b, "- NSF incidents: %d totaling %.2f in fees\n", report.NSF.IncidentCount, report.NSF.TotalFees)
	}
	if report.Continuity != nil {
		fmt.Fprintf(&b, "- statements continuous: %t", report.Continuity.Continuous)
		if len(report.Continuity.Gaps) > 0 {
			fmt.Fprintf(&b, " (%d gaps)", len(report.Continuity.Gaps))
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "- no metrics extracted"
	}
	return strings.TrimRight(b.String(), "\n")
}
