package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

type Service struct {
	store       StoreAPI
	employees   EmployeeDirectory
	resolver    *Resolver
	detector    *Detector
	log         *zap.Logger
	metrics     Recorder
	listeners   []TransitionListener
	concurrency int
	timeout     time.Duration
	threshold   decimal.Decimal
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithListener(listener TransitionListener) Option {
	return func(s *Service) {
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
	}
}

func WithMetrics(recorder Recorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithResolveTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.timeout = timeout }
}

func WithNetVarianceThreshold(threshold decimal.Decimal) Option {
	return func(s *Service) { s.threshold = threshold }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithDetector(detector *Detector) Option {
	return func(s *Service) { s.detector = detector }
}

func NewService(store StoreAPI, sources Sources, opts ...Option) *Service {
	s := &Service{
		store:       store,
		employees:   sources.Employees,
		log:         zap.NewNop(),
		metrics:     nopRecorder{},
		concurrency: DefaultConcurrency,
		threshold:   DefaultNetVarianceThreshold,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(sources, s.timeout, s.log.Named("resolver"))
	if s.detector == nil {
		s.detector = NewDetector(s.threshold)
	}
	return s
}

// GenerateDraft computes a payslip for every employee in scope and persists
// the run with its payslips in one step. Employees whose inputs cannot be
// resolved are skipped and reported on the run.
func (s *Service) GenerateDraft(ctx context.Context, actor Actor, entity string, period time.Time) (DraftResult, error) {
	if actor.Role != RoleSpecialist {
		s.metrics.TransitionRejected(ActionGenerate)
		return DraftResult{}, fmt.Errorf("%w: %s cannot generate a draft", ErrRoleNotAllowed, actor.Role)
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return DraftResult{}, ErrInvalidEntity
	}
	if period.IsZero() {
		return DraftResult{}, ErrInvalidPeriod
	}
	period = NormalizePeriod(period)

	if err := s.ensureSlotFree(ctx, entity, period); err != nil {
		return DraftResult{}, err
	}
	result, err := s.buildDraft(ctx, actor, entity, period, nil)
	if err != nil {
		return DraftResult{}, err
	}
	s.log.Info("payroll draft generated",
		zap.String("run_id", result.Run.ID),
		zap.String("entity", entity),
		zap.String("period", FormatPeriod(period)),
		zap.Int("employees", result.Run.EmployeeCount),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// Regenerate creates a new draft for the entity and period of a rejected run.
// The rejected run is kept unchanged as history.
func (s *Service) Regenerate(ctx context.Context, actor Actor, runID string) (DraftResult, error) {
	old, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return DraftResult{}, err
	}
	if _, err := Next(old.Status, ActionRegenerate, actor.Role); err != nil {
		s.metrics.TransitionRejected(ActionRegenerate)
		return DraftResult{}, withRunID(err, old.ID)
	}
	if err := s.ensureSlotFree(ctx, old.Entity, old.PayrollPeriod); err != nil {
		return DraftResult{}, err
	}
	supersedes := old.ID
	result, err := s.buildDraft(ctx, actor, old.Entity, old.PayrollPeriod, &supersedes)
	if err != nil {
		return DraftResult{}, err
	}
	s.metrics.Transitioned(ActionRegenerate)
	if event, ok := RegeneratedEvent(result.Run); ok {
		s.emit(ctx, event)
	}
	return result, nil
}

func (s *Service) ensureSlotFree(ctx context.Context, entity string, period time.Time) error {
	existing, err := s.store.ActiveRunID(ctx, entity, period)
	if err != nil {
		return err
	}
	if existing != "" {
		return &DuplicateRunError{Entity: entity, Period: period, ExistingRunID: existing}
	}
	return nil
}

type employeeOutcome struct {
	slip    *PaySlip
	warning *RunWarning
}

func (s *Service) buildDraft(ctx context.Context, actor Actor, entity string, period time.Time, supersedes *string) (DraftResult, error) {
	employeeIDs, err := s.employees.ListEmployeesInScope(ctx, entity)
	if err != nil {
		return DraftResult{}, fmt.Errorf("list employees in scope: %w", err)
	}

	outcomes := make([]employeeOutcome, len(employeeIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, employeeID := range employeeIDs {
		g.Go(func() error {
			slip, err := s.computeEmployee(gctx, employeeID, period)
			if err == nil {
				outcomes[i].slip = &slip
				return nil
			}
			if warning, ok := skipWarning(employeeID, err); ok {
				outcomes[i].warning = &warning
				return nil
			}
			return fmt.Errorf("employee %s: %w", employeeID, err)
		})
	}
	if err := g.Wait(); err != nil {
		return DraftResult{}, err
	}

	now := s.now().UTC()
	run := PayrollRun{
		ID:              s.newID(),
		Entity:          entity,
		PayrollPeriod:   period,
		Status:          StatusDraft,
		SpecialistID:    actor.UserID,
		CreatedAt:       now,
		SupersedesRunID: supersedes,
		Warnings:        []RunWarning{},
	}
	payslips := make([]PaySlip, 0, len(employeeIDs))
	for _, outcome := range outcomes {
		switch {
		case outcome.slip != nil:
			slip := *outcome.slip
			slip.ID = s.newID()
			slip.PayrollRunID = run.ID
			slip.CreatedAt = now
			payslips = append(payslips, slip)
		case outcome.warning != nil:
			run.Warnings = append(run.Warnings, *outcome.warning)
			s.log.Warn("employee skipped from payroll draft",
				zap.String("employee_id", outcome.warning.EmployeeID),
				zap.String("code", outcome.warning.Code),
				zap.String("reason", outcome.warning.Message),
			)
		}
	}
	run.ApplySummary(Summarize(payslips))

	saved, err := s.store.CreateDraft(ctx, run, payslips)
	if err != nil {
		return DraftResult{}, err
	}
	s.metrics.DraftGenerated(len(payslips), len(run.Warnings))
	return DraftResult{Run: saved, Skipped: run.Warnings}, nil
}

func skipWarning(employeeID string, err error) (RunWarning, bool) {
	switch {
	case errors.Is(err, ErrMissingEmployeeData):
		return RunWarning{EmployeeID: employeeID, Code: WarningMissingEmployeeData, Message: err.Error()}, true
	case errors.Is(err, ErrInvalidLine):
		return RunWarning{EmployeeID: employeeID, Code: WarningInvalidCompensation, Message: err.Error()}, true
	default:
		return RunWarning{}, false
	}
}

// computeEmployee runs resolve, compute and detect for one employee.
func (s *Service) computeEmployee(ctx context.Context, employeeID string, period time.Time) (PaySlip, error) {
	bundle, err := s.resolver.Resolve(ctx, employeeID, period)
	if err != nil {
		return PaySlip{}, err
	}
	if err := bundle.Validate(); err != nil {
		return PaySlip{}, err
	}
	slip := Compute(bundle)
	slip.SetFlags(s.detector.Detect(employeeID, bundle, slip))
	return slip, nil
}

func (s *Service) Publish(ctx context.Context, actor Actor, runID string) (PayrollRun, error) {
	return s.transition(ctx, actor, runID, ActionPublish, "")
}

func (s *Service) ManagerApprove(ctx context.Context, actor Actor, runID string) (PayrollRun, error) {
	return s.transition(ctx, actor, runID, ActionManagerApprove, "")
}

func (s *Service) FinanceApprove(ctx context.Context, actor Actor, runID string) (PayrollRun, error) {
	return s.transition(ctx, actor, runID, ActionFinanceApprove, "")
}

// Reject checks the reason before touching the run.
func (s *Service) Reject(ctx context.Context, actor Actor, runID, reason string) (PayrollRun, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.metrics.TransitionRejected(ActionReject)
		return PayrollRun{}, ErrRejectionReasonRequired
	}
	return s.transition(ctx, actor, runID, ActionReject, reason)
}

// Lock freezes an approved run once downstream processing is complete.
func (s *Service) Lock(ctx context.Context, actor Actor, runID string) (PayrollRun, error) {
	return s.transition(ctx, actor, runID, ActionLock, "")
}

func (s *Service) transition(ctx context.Context, actor Actor, runID string, action Action, reason string) (PayrollRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	to, err := Next(run.Status, action, actor.Role)
	if err != nil {
		s.metrics.TransitionRejected(action)
		return PayrollRun{}, withRunID(err, run.ID)
	}

	t := Transition{
		RunID:   run.ID,
		From:    run.Status,
		To:      to,
		Action:  action,
		ActorID: actor.UserID,
		Role:    actor.Role,
		Reason:  reason,
		At:      s.now().UTC(),
	}
	updated, err := s.store.TransitionRun(ctx, t)
	if errors.Is(err, ErrStatusConflict) {
		s.metrics.TransitionRejected(action)
		return PayrollRun{}, s.explainConflict(ctx, run.ID, action, actor.Role)
	}
	if err != nil {
		return PayrollRun{}, err
	}

	s.metrics.Transitioned(action)
	s.emit(ctx, TransitionedEvent(t, updated))
	return updated, nil
}

// explainConflict reloads a run that lost a compare-and-swap and reports why
// the action no longer applies.
func (s *Service) explainConflict(ctx context.Context, runID string, action Action, role Role) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if _, err := Next(current.Status, action, role); err != nil {
		return withRunID(err, runID)
	}
	return ErrStatusConflict
}

// RecalculatePayslip re-resolves one employee of a draft run and replaces the payslip.
func (s *Service) RecalculatePayslip(ctx context.Context, actor Actor, runID, employeeID string) (PaySlip, PayrollRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return PaySlip{}, PayrollRun{}, err
	}
	if err := editableIn(run, StatusDraft, ActionRecalculate, actor.Role); err != nil {
		s.metrics.TransitionRejected(ActionRecalculate)
		return PaySlip{}, PayrollRun{}, err
	}
	if actor.Role != RoleSpecialist {
		return PaySlip{}, PayrollRun{}, fmt.Errorf("%w: %s cannot recalculate payslips", ErrRoleNotAllowed, actor.Role)
	}
	existing, err := s.store.GetPayslip(ctx, run.ID, employeeID)
	if err != nil {
		return PaySlip{}, PayrollRun{}, err
	}

	slip, err := s.computeEmployee(ctx, employeeID, run.PayrollPeriod)
	if err != nil {
		return PaySlip{}, PayrollRun{}, err
	}
	slip.ID = existing.ID
	slip.PayrollRunID = run.ID
	slip.CreatedAt = existing.CreatedAt

	updated, err := s.store.ReplacePayslip(ctx, run.ID, StatusDraft, slip)
	if errors.Is(err, ErrStatusConflict) {
		return PaySlip{}, PayrollRun{}, s.explainEditConflict(ctx, run.ID, StatusDraft, ActionRecalculate, actor.Role)
	}
	if err != nil {
		return PaySlip{}, PayrollRun{}, err
	}
	s.log.Info("payslip recalculated",
		zap.String("run_id", run.ID),
		zap.String("employee_id", employeeID),
		zap.String("net_pay", slip.NetPay.StringFixed(moneyPlaces)),
	)
	return slip, updated, nil
}

// MarkPayslipPaid records the disbursement signal for one payslip. The run
// locks itself once every payslip is paid.
func (s *Service) MarkPayslipPaid(ctx context.Context, runID, employeeID string) (PayrollRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	if err := editableIn(run, StatusApproved, ActionMarkPaid, RoleSystem); err != nil {
		s.metrics.TransitionRejected(ActionMarkPaid)
		return PayrollRun{}, err
	}

	updated, pending, err := s.store.MarkPayslipPaid(ctx, run.ID, employeeID, StatusApproved)
	if errors.Is(err, ErrStatusConflict) {
		return PayrollRun{}, s.explainEditConflict(ctx, run.ID, StatusApproved, ActionMarkPaid, RoleSystem)
	}
	if err != nil {
		return PayrollRun{}, err
	}
	if pending > 0 {
		return updated, nil
	}

	locked, err := s.Lock(ctx, Actor{UserID: string(RoleSystem), Role: RoleSystem}, run.ID)
	if errors.Is(err, ErrRunLocked) {
		// a concurrent payment signal locked it first
		return s.store.GetRun(ctx, run.ID)
	}
	return locked, err
}

func (s *Service) explainEditConflict(ctx context.Context, runID string, want RunStatus, action Action, role Role) error {
	current, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := editableIn(current, want, action, role); err != nil {
		return err
	}
	return ErrStatusConflict
}

func editableIn(run PayrollRun, want RunStatus, action Action, role Role) error {
	if run.Status == StatusLocked {
		return &RunLockedError{RunID: run.ID, Action: action}
	}
	if run.Status != want {
		return &TransitionError{From: run.Status, Action: action, Role: role, Reason: fmt.Sprintf("payslips can only be changed while the run is %s", want)}
	}
	return nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (PayrollRun, error) {
	return s.store.GetRun(ctx, runID)
}

func (s *Service) GetRunEmployees(ctx context.Context, runID string) ([]PaySlip, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.ListPayslips(ctx, runID)
}

func (s *Service) GetPayslip(ctx context.Context, runID, employeeID string) (PaySlip, error) {
	return s.store.GetPayslip(ctx, runID, employeeID)
}

func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]PayrollRun, error) {
	return s.store.ListRuns(ctx, filter)
}

// emit notifies listeners of a committed change. The caller may already be
// gone, so listeners run on a context that is not cancelled with it.
func (s *Service) emit(ctx context.Context, event TransitionEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, listener := range s.listeners {
		if err := listener.RunTransitioned(ctx, event); err != nil {
			s.log.Error("transition listener failed",
				zap.String("run_id", event.RunID),
				zap.String("action", string(event.Action)),
				zap.Error(err),
			)
		}
	}
}

func withRunID(err error, runID string) error {
	var locked *RunLockedError
	if errors.As(err, &locked) && locked.RunID == "" {
		locked.RunID = runID
	}
	return err
}
