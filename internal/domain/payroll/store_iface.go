package payroll

import (
	"context"
	"time"
)

// Transition is a compare-and-swap of a run's status from From to To.
type Transition struct {
	RunID   string
	From    RunStatus
	To      RunStatus
	Action  Action
	ActorID string
	Role    Role
	Reason  string
	At      time.Time
}

type RunFilter struct {
	Entity string
	Status RunStatus
	Limit  int
	Offset int
}

// StoreAPI persists runs and payslips. Every write recomputes the run summary
// from the stored payslips in the same transaction. Writes guarded by an
// expected status return ErrStatusConflict when the run moved underneath them.
type StoreAPI interface {
	ActiveRunID(ctx context.Context, entity string, period time.Time) (string, error)
	// CreateDraft returns a *DuplicateRunError when an active run already holds the entity and period.
	CreateDraft(ctx context.Context, run PayrollRun, payslips []PaySlip) (PayrollRun, error)
	GetRun(ctx context.Context, runID string) (PayrollRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]PayrollRun, error)
	ListPayslips(ctx context.Context, runID string) ([]PaySlip, error)
	GetPayslip(ctx context.Context, runID, employeeID string) (PaySlip, error)
	TransitionRun(ctx context.Context, t Transition) (PayrollRun, error)
	ReplacePayslip(ctx context.Context, runID string, expected RunStatus, slip PaySlip) (PayrollRun, error)
	// MarkPayslipPaid returns the run and the number of payslips still pending.
	MarkPayslipPaid(ctx context.Context, runID, employeeID string, expected RunStatus) (PayrollRun, int, error)
}
