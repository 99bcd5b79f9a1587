package entity

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeStatus is the terminal state of one symbol within a run.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusSkip    OutcomeStatus = "skip"
	StatusFailed  OutcomeStatus = "failed"
)

// RowError reports a single bar that could not be written.
type RowError struct {
	Symbol    string
	PriceDate time.Time
	Err       error
}

// ReconcileResult counts the effect of one reconcile call.
type ReconcileResult struct {
	Inserted int
	Updated  int
	Failed   []RowError
}

// Add merges r2 into r.
func (r *ReconcileResult) Add(r2 ReconcileResult) {
	r.Inserted += r2.Inserted
	r.Updated += r2.Updated
	r.Failed = append(r.Failed, r2.Failed...)
}

// SymbolOutcome is the per-symbol line of a run report.
type SymbolOutcome struct {
	Symbol         string        `json:"symbol"`
	Status         OutcomeStatus `json:"status"`
	Start          string        `json:"start,omitempty"`
	RowsFetched    int           `json:"rows_fetched"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	SkippedInvalid int           `json:"skipped_invalid"`
	FailedRows     int           `json:"failed_rows"`
	Error          string        `json:"error,omitempty"`
}

// RunReport summarizes one sync run.
type RunReport struct {
	RunID            uuid.UUID       `json:"run_id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Outcomes         []SymbolOutcome `json:"outcomes"`
	SucceededSymbols []string        `json:"succeeded_symbols"`
	FailedSymbols    []string        `json:"failed_symbols"`
	SkippedSymbols   []string        `json:"skipped_symbols"`
}

// Summarize rebuilds the succeeded/failed/skipped lists from Outcomes.
func (r *RunReport) Summarize() {
	r.SucceededSymbols = r.SucceededSymbols[:0]
	r.FailedSymbols = r.FailedSymbols[:0]
	r.SkippedSymbols = r.SkippedSymbols[:0]
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSuccess:
			r.SucceededSymbols = append(r.SucceededSymbols, o.Symbol)
		case StatusFailed:
			r.FailedSymbols = append(r.FailedSymbols, o.Symbol)
		case StatusSkip:
			r.SkippedSymbols = append(r.SkippedSymbols, o.Symbol)
		}
	}
}

// Partial reports whether some, but not all, symbols failed.
func (r RunReport) Partial() bool {
	return len(r.FailedSymbols) > 0 && len(r.FailedSymbols) < len(r.Outcomes)
}

// Outcome returns the outcome recorded for symbol.
func (r RunReport) Outcome(symbol string) (SymbolOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Symbol == symbol {
			return o, true
		}
	}
	return SymbolOutcome{}, false
}
