// Package model defines the domain types produced by statement analysis.
package model

import (
	"fmt"
	"time"
)

// BalanceResult is the average-daily-balance extraction from a statement set.
type BalanceResult struct {
	Currency            string  `json:"currency,omitempty"`
	Explanation         string  `json:"explanation,omitempty"`
	AverageDailyBalance float64 `json:"average_daily_balance"`
}

// Validate checks structural plausibility. Financial meaning is not this
// layer's concern; only that required fields survived the model round trip.
func (r *BalanceResult) Validate() error {
	if r.AverageDailyBalance < 0 {
		return fmt.Errorf("average daily balance is negative: %f", r.AverageDailyBalance)
	}
	return nil
}

// NSFIncident is one non-sufficient-funds fee occurrence.
type NSFIncident struct {
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
}

// NSFResult aggregates non-sufficient-funds activity across statements.
type NSFResult struct {
	Incidents     []NSFIncident `json:"incidents"`
	TotalFees     float64       `json:"total_fees"`
	IncidentCount int           `json:"incident_count"`
}

// Validate checks structural plausibility of the NSF extraction.
func (r *NSFResult) Validate() error {
	if r.IncidentCount < 0 {
		return fmt.Errorf("incident count is negative: %d", r.IncidentCount)
	}
	if r.TotalFees < 0 {
		return fmt.Errorf("total fees is negative: %f", r.TotalFees)
	}
	if r.IncidentCount > 0 && len(r.Incidents) == 0 {
		return fmt.Errorf("incident count %d reported without incident detail", r.IncidentCount)
	}
	return nil
}

// PeriodGap is a missing span between two statement periods.
type PeriodGap struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ContinuityResult reports whether the statement periods form an unbroken
// sequence.
type ContinuityResult struct {
	Gaps       []PeriodGap `json:"gaps"`
	Continuous bool        `json:"continuous"`
}

// Validate checks structural plausibility of the continuity check.
func (r *ContinuityResult) Validate() error {
	if !r.Continuous && len(r.Gaps) == 0 {
		return fmt.Errorf("discontinuous statements reported without gap detail")
	}
	return nil
}

// Decision is the credit-decision synthesis across all extracted metrics.
type Decision struct {
	Recommendation string  `json:"recommendation"`
	Rationale      string  `json:"rationale"`
	Approved       bool    `json:"approved"`
	Confidence     float64 `json:"confidence"`
}

// Validate checks structural plausibility of the decision.
func (d *Decision) Validate() error {
	if d.Recommendation == "" {
		return fmt.Errorf("decision has no recommendation")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0, 1]", d.Confidence)
	}
	return nil
}

// Report bundles one full analysis run.
type Report struct {
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Provider    string            `json:"provider"`
	SessionID   string            `json:"session_id"`
	Balance     *BalanceResult    `json:"balance,omitempty"`
	NSF         *NSFResult        `json:"nsf,omitempty"`
	Continuity  *ContinuityResult `json:"continuity,omitempty"`
	Decision    *Decision         `json:"decision,omitempty"`
}
