// Package payrolltest provides in-memory doubles for the payroll engine.
package payrolltest

import (
	"context"
	"sort"
	"sync"
	"time"

	"payrun/internal/domain/payroll"
)

// MemStore is a payroll.StoreAPI held in memory. One mutex serializes every
// write, which gives the same uniqueness and compare-and-swap guarantees as
// the postgres store.
type MemStore struct {
	mu       sync.Mutex
	runs     map[string]payroll.PayrollRun
	payslips map[string][]payroll.PaySlip
	journal  []payroll.TransitionEvent

	// BeforeCreate runs outside the lock just before a draft is inserted.
	BeforeCreate func(run payroll.PayrollRun)
	// AppendEvent runs under the lock for every status change. An error
	// leaves the run untouched, like a rolled back transaction.
	AppendEvent func(event payroll.TransitionEvent) error
}

var _ payroll.StoreAPI = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		runs:     map[string]payroll.PayrollRun{},
		payslips: map[string][]payroll.PaySlip{},
	}
}

func (m *MemStore) ActiveRunID(_ context.Context, entity string, period time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRunLocked(entity, period), nil
}

func (m *MemStore) activeRunLocked(entity string, period time.Time) string {
	period = payroll.NormalizePeriod(period)
	for id, run := range m.runs {
		if run.Entity == entity && run.PayrollPeriod.Equal(period) && run.Status.Active() {
			return id
		}
	}
	return ""
}

func (m *MemStore) CreateDraft(_ context.Context, run payroll.PayrollRun, payslips []payroll.PaySlip) (payroll.PayrollRun, error) {
	if m.BeforeCreate != nil {
		m.BeforeCreate(run)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run.PayrollPeriod = payroll.NormalizePeriod(run.PayrollPeriod)
	if existing := m.activeRunLocked(run.Entity, run.PayrollPeriod); existing != "" {
		return payroll.PayrollRun{}, &payroll.DuplicateRunError{Entity: run.Entity, Period: run.PayrollPeriod}
	}
	if run.SupersedesRunID != nil {
		for _, other := range m.runs {
			if other.SupersedesRunID != nil && *other.SupersedesRunID == *run.SupersedesRunID {
				return payroll.PayrollRun{}, &payroll.TransitionError{
					From:   payroll.StatusRejected,
					Action: payroll.ActionRegenerate,
					Role:   payroll.RoleSpecialist,
					Reason: "run " + *run.SupersedesRunID + " was already regenerated",
				}
			}
		}
	}
	run.Status = payroll.StatusDraft
	if event, ok := payroll.RegeneratedEvent(run); ok {
		if err := m.appendLocked(event); err != nil {
			return payroll.PayrollRun{}, err
		}
	}
	if run.Warnings == nil {
		run.Warnings = []payroll.RunWarning{}
	}
	stored := make([]payroll.PaySlip, len(payslips))
	for i, slip := range payslips {
		slip.PayrollRunID = run.ID
		slip.PaymentStatus = payroll.PaymentPending
		stored[i] = cloneSlip(slip)
	}
	m.payslips[run.ID] = stored
	m.runs[run.ID] = m.withSummaryLocked(run)
	return cloneRun(m.runs[run.ID]), nil
}

func (m *MemStore) GetRun(_ context.Context, runID string) (payroll.PayrollRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (m *MemStore) ListRuns(_ context.Context, filter payroll.RunFilter) ([]payroll.PayrollRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := []payroll.PayrollRun{}
	for _, run := range m.runs {
		if filter.Entity != "" && run.Entity != filter.Entity {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].PayrollPeriod.Equal(runs[j].PayrollPeriod) {
			return runs[i].PayrollPeriod.After(runs[j].PayrollPeriod)
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 {
		start := min(filter.Offset, len(runs))
		end := min(start+filter.Limit, len(runs))
		runs = runs[start:end]
	}
	return runs, nil
}

func (m *MemStore) ListPayslips(_ context.Context, runID string) ([]payroll.PaySlip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payroll.PaySlip, 0, len(m.payslips[runID]))
	for _, slip := range m.payslips[runID] {
		out = append(out, cloneSlip(slip))
	}
	return out, nil
}

func (m *MemStore) GetPayslip(_ context.Context, runID, employeeID string) (payroll.PaySlip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slip := range m.payslips[runID] {
		if slip.EmployeeID == employeeID {
			return cloneSlip(slip), nil
		}
	}
	return payroll.PaySlip{}, payroll.ErrPayslipNotFound
}

func (m *MemStore) TransitionRun(_ context.Context, t payroll.Transition) (payroll.PayrollRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[t.RunID]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	if run.Status != t.From {
		return payroll.PayrollRun{}, payroll.ErrStatusConflict
	}

	run.Status = t.To
	actor := t.ActorID
	at := t.At
	switch t.To {
	case payroll.StatusPendingFinanceApproval:
		if run.ManagerID == nil {
			run.ManagerID = &actor
		}
		if run.ManagerApprovalDate == nil {
			run.ManagerApprovalDate = &at
		}
	case payroll.StatusApproved:
		if run.FinanceApproverID == nil {
			run.FinanceApproverID = &actor
		}
		if run.FinanceApprovalDate == nil {
			run.FinanceApprovalDate = &at
		}
	case payroll.StatusRejected:
		reason := t.Reason
		run.RejectionReason = &reason
	case payroll.StatusDraft:
		run.RejectionReason = nil
	}
	if err := m.appendLocked(payroll.TransitionedEvent(t, run)); err != nil {
		return payroll.PayrollRun{}, err
	}
	m.runs[run.ID] = m.withSummaryLocked(run)
	return cloneRun(m.runs[run.ID]), nil
}

func (m *MemStore) appendLocked(event payroll.TransitionEvent) error {
	if m.AppendEvent != nil {
		if err := m.AppendEvent(event); err != nil {
			return err
		}
	}
	m.journal = append(m.journal, event)
	return nil
}

// Events returns the events journaled with committed status changes.
func (m *MemStore) Events() []payroll.TransitionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payroll.TransitionEvent{}, m.journal...)
}

func (m *MemStore) ReplacePayslip(_ context.Context, runID string, expected payroll.RunStatus, slip payroll.PaySlip) (payroll.PayrollRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.expectLocked(runID, expected)
	if err != nil {
		return payroll.PayrollRun{}, err
	}
	slips := m.payslips[runID]
	for i := range slips {
		if slips[i].EmployeeID == slip.EmployeeID {
			slip.ID = slips[i].ID
			slip.PayrollRunID = runID
			slip.PaymentStatus = slips[i].PaymentStatus
			slip.CreatedAt = slips[i].CreatedAt
			slips[i] = cloneSlip(slip)
			m.runs[runID] = m.withSummaryLocked(run)
			return cloneRun(m.runs[runID]), nil
		}
	}
	return payroll.PayrollRun{}, payroll.ErrPayslipNotFound
}

func (m *MemStore) MarkPayslipPaid(_ context.Context, runID, employeeID string, expected payroll.RunStatus) (payroll.PayrollRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.expectLocked(runID, expected)
	if err != nil {
		return payroll.PayrollRun{}, 0, err
	}
	found := false
	pending := 0
	slips := m.payslips[runID]
	for i := range slips {
		if slips[i].EmployeeID == employeeID {
			slips[i].PaymentStatus = payroll.PaymentPaid
			found = true
		}
		if slips[i].PaymentStatus != payroll.PaymentPaid {
			pending++
		}
	}
	if !found {
		return payroll.PayrollRun{}, 0, payroll.ErrPayslipNotFound
	}
	return cloneRun(run), pending, nil
}

// SetStatus forces a run into status, for arranging test fixtures.
func (m *MemStore) SetStatus(runID string, status payroll.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	run.Status = status
	m.runs[runID] = run
}

func (m *MemStore) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *MemStore) expectLocked(runID string, expected payroll.RunStatus) (payroll.PayrollRun, error) {
	run, ok := m.runs[runID]
	if !ok {
		return payroll.PayrollRun{}, payroll.ErrRunNotFound
	}
	if run.Status != expected {
		return payroll.PayrollRun{}, payroll.ErrStatusConflict
	}
	return run, nil
}

func (m *MemStore) withSummaryLocked(run payroll.PayrollRun) payroll.PayrollRun {
	run.ApplySummary(payroll.Summarize(m.payslips[run.ID]))
	return run
}

func cloneRun(run payroll.PayrollRun) payroll.PayrollRun {
	run.ManagerID = cloneString(run.ManagerID)
	run.FinanceApproverID = cloneString(run.FinanceApproverID)
	run.RejectionReason = cloneString(run.RejectionReason)
	run.SupersedesRunID = cloneString(run.SupersedesRunID)
	run.ManagerApprovalDate = cloneTime(run.ManagerApprovalDate)
	run.FinanceApprovalDate = cloneTime(run.FinanceApprovalDate)
	run.Warnings = append([]payroll.RunWarning{}, run.Warnings...)
	return run
}

func cloneSlip(slip payroll.PaySlip) payroll.PaySlip {
	slip.Earnings.Allowances = append([]payroll.EarningLine{}, slip.Earnings.Allowances...)
	slip.Earnings.Bonuses = append([]payroll.EarningLine{}, slip.Earnings.Bonuses...)
	slip.Earnings.Benefits = append([]payroll.EarningLine{}, slip.Earnings.Benefits...)
	slip.Earnings.Refunds = append([]payroll.EarningLine{}, slip.Earnings.Refunds...)
	slip.Deductions.Taxes = append([]payroll.TaxLine{}, slip.Deductions.Taxes...)
	slip.Deductions.Insurances = append([]payroll.InsuranceLine{}, slip.Deductions.Insurances...)
	slip.Deductions.Penalties.Penalties = append([]payroll.PenaltyLine{}, slip.Deductions.Penalties.Penalties...)
	slip.SetFlags(append([]payroll.ExceptionFlag{}, slip.ExceptionsFlags...))
	return slip
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}
