package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	activeRunIndex     = "payroll_runs_active_period_idx"
	supersedesRunIndex = "payroll_runs_supersedes_idx"
)

type Store struct {
	DB      *pgxpool.Pool
	Journal EventJournal
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// WithJournal makes every status change append its event inside the same
// transaction.
func (s *Store) WithJournal(journal EventJournal) *Store {
	s.Journal = journal
	return s
}

func (s *Store) appendEvent(ctx context.Context, tx pgx.Tx, event TransitionEvent) error {
	if s.Journal == nil {
		return nil
	}
	if err := s.Journal.Append(ctx, tx, event); err != nil {
		return fmt.Errorf("append transition event: %w", err)
	}
	return nil
}

func regeneratedTwice(run PayrollRun) error {
	return &TransitionError{
		From:   StatusRejected,
		Action: ActionRegenerate,
		Role:   RoleSpecialist,
		Reason: fmt.Sprintf("run %s was already regenerated", *run.SupersedesRunID),
	}
}

var _ StoreAPI = (*Store)(nil)

const runColumns = `
    SELECT id::text, entity, payroll_period, status, specialist_id, manager_id, finance_approver_id,
           created_at, manager_approval_date, finance_approval_date,
           employee_count, exception_count, total_net_pay::text,
           rejection_reason, supersedes_run_id::text, warnings_json
    FROM payroll_runs r`

const payslipColumns = `
    SELECT id::text, payroll_run_id::text, employee_id, earnings_json, deductions_json,
           total_gross::text, total_deductions::text, net_pay::text,
           exceptions_json, has_exceptions, payment_status, created_at
    FROM payslips`

// recomputeSummary is shared by every statement that touches a run so the
// counters always reflect the committed payslip set.
const recomputeSummary = `
           employee_count = (SELECT count(*) FROM payslips p WHERE p.payroll_run_id = r.id),
           exception_count = (SELECT COALESCE(sum(jsonb_array_length(p.exceptions_json)), 0) FROM payslips p WHERE p.payroll_run_id = r.id),
           total_net_pay = (SELECT COALESCE(sum(p.net_pay), 0) FROM payslips p WHERE p.payroll_run_id = r.id)`

func (s *Store) ActiveRunID(ctx context.Context, entity string, period time.Time) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    SELECT id::text FROM payroll_runs
    WHERE entity = $1 AND payroll_period = $2 AND status <> $3
    LIMIT 1
  `, entity, NormalizePeriod(period), string(StatusRejected)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateDraft(ctx context.Context, run PayrollRun, payslips []PaySlip) (PayrollRun, error) {
	warningsJSON, err := json.Marshal(nonNilWarnings(run.Warnings))
	if err != nil {
		return PayrollRun{}, err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
    INSERT INTO payroll_runs (id, entity, payroll_period, status, specialist_id, created_at, updated_at, supersedes_run_id, warnings_json)
    VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8)
  `, run.ID, run.Entity, NormalizePeriod(run.PayrollPeriod), string(StatusDraft), run.SpecialistID, run.CreatedAt, run.SupersedesRunID, warningsJSON)
	if err != nil {
		if isUniqueViolation(err, activeRunIndex) {
			return PayrollRun{}, &DuplicateRunError{Entity: run.Entity, Period: run.PayrollPeriod}
		}
		if isUniqueViolation(err, supersedesRunIndex) {
			return PayrollRun{}, regeneratedTwice(run)
		}
		return PayrollRun{}, fmt.Errorf("insert payroll run: %w", err)
	}

	if len(payslips) > 0 {
		batch := &pgx.Batch{}
		for i, slip := range payslips {
			args, err := payslipArgs(slip)
			if err != nil {
				return PayrollRun{}, err
			}
			batch.Queue(`
        INSERT INTO payslips (id, payroll_run_id, employee_id, position, earnings_json, deductions_json,
                              total_gross, total_deductions, net_pay, exceptions_json, has_exceptions,
                              payment_status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7::text::numeric,$8::text::numeric,$9::text::numeric,$10,$11,$12,$13,$13)
      `, slip.ID, run.ID, slip.EmployeeID, i, args.earnings, args.deductions,
				slip.TotalGrossSalary.String(), slip.TotalDeductions.String(), slip.NetPay.String(),
				args.exceptions, slip.HasExceptions, string(PaymentPending), slip.CreatedAt)
		}
		br := tx.SendBatch(ctx, batch)
		for range payslips {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return PayrollRun{}, fmt.Errorf("insert payslip: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return PayrollRun{}, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE payroll_runs r SET`+recomputeSummary+` WHERE r.id = $1`, run.ID); err != nil {
		return PayrollRun{}, fmt.Errorf("recompute summary: %w", err)
	}
	saved, err := getRun(ctx, tx, run.ID)
	if err != nil {
		return PayrollRun{}, err
	}
	if event, ok := RegeneratedEvent(saved); ok {
		if err := s.appendEvent(ctx, tx, event); err != nil {
			return PayrollRun{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, activeRunIndex) {
			return PayrollRun{}, &DuplicateRunError{Entity: run.Entity, Period: run.PayrollPeriod}
		}
		return PayrollRun{}, err
	}
	return saved, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (PayrollRun, error) {
	return getRun(ctx, s.DB, runID)
}

func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]PayrollRun, error) {
	var where []string
	var args []any
	if filter.Entity != "" {
		args = append(args, filter.Entity)
		where = append(where, "entity = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	query := runColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY payroll_period DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []PayrollRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) ListPayslips(ctx context.Context, runID string) ([]PaySlip, error) {
	rows, err := s.DB.Query(ctx, payslipColumns+`
    WHERE payroll_run_id = $1
    ORDER BY position, employee_id
  `, runID)
	if err != nil {
		if isInvalidText(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	defer rows.Close()

	slips := []PaySlip{}
	for rows.Next() {
		slip, err := scanPayslip(rows)
		if err != nil {
			return nil, err
		}
		slips = append(slips, slip)
	}
	return slips, rows.Err()
}

func (s *Store) GetPayslip(ctx context.Context, runID, employeeID string) (PaySlip, error) {
	slip, err := scanPayslip(s.DB.QueryRow(ctx, payslipColumns+`
    WHERE payroll_run_id = $1 AND employee_id = $2
  `, runID, employeeID))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return PaySlip{}, ErrPayslipNotFound
	}
	return slip, err
}

func (s *Store) TransitionRun(ctx context.Context, t Transition) (PayrollRun, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Approval dates and approver ids are written once; later transitions keep them.
	tag, err := tx.Exec(ctx, `
    UPDATE payroll_runs r SET
           status = $3::text,
           manager_id = CASE WHEN $3::text = 'pending_finance_approval' THEN COALESCE(r.manager_id, $4::text) ELSE r.manager_id END,
           manager_approval_date = CASE WHEN $3::text = 'pending_finance_approval' THEN COALESCE(r.manager_approval_date, $5::timestamptz) ELSE r.manager_approval_date END,
           finance_approver_id = CASE WHEN $3::text = 'approved' THEN COALESCE(r.finance_approver_id, $4::text) ELSE r.finance_approver_id END,
           finance_approval_date = CASE WHEN $3::text = 'approved' THEN COALESCE(r.finance_approval_date, $5::timestamptz) ELSE r.finance_approval_date END,
           rejection_reason = CASE WHEN $3::text = 'rejected' THEN $6::text WHEN $3::text = 'draft' THEN NULL ELSE r.rejection_reason END,
           updated_at = $5::timestamptz,`+recomputeSummary+`
    WHERE r.id = $1 AND r.status = $2
  `, t.RunID, string(t.From), string(t.To), t.ActorID, t.At, nullIfEmpty(t.Reason))
	if err != nil {
		if isInvalidText(err) {
			return PayrollRun{}, ErrRunNotFound
		}
		return PayrollRun{}, fmt.Errorf("transition payroll run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return PayrollRun{}, ErrStatusConflict
	}
	run, err := getRun(ctx, tx, t.RunID)
	if err != nil {
		return PayrollRun{}, err
	}
	if err := s.appendEvent(ctx, tx, TransitionedEvent(t, run)); err != nil {
		return PayrollRun{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return run, nil
}

func (s *Store) ReplacePayslip(ctx context.Context, runID string, expected RunStatus, slip PaySlip) (PayrollRun, error) {
	args, err := payslipArgs(slip)
	if err != nil {
		return PayrollRun{}, err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return PayrollRun{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockRunStatus(ctx, tx, runID, expected); err != nil {
		return PayrollRun{}, err
	}
	tag, err := tx.Exec(ctx, `
    UPDATE payslips SET earnings_json = $3, deductions_json = $4,
           total_gross = $5::text::numeric, total_deductions = $6::text::numeric, net_pay = $7::text::numeric,
           exceptions_json = $8, has_exceptions = $9, updated_at = now()
    WHERE payroll_run_id = $1 AND employee_id = $2
  `, runID, slip.EmployeeID, args.earnings, args.deductions,
		slip.TotalGrossSalary.String(), slip.TotalDeductions.String(), slip.NetPay.String(),
		args.exceptions, slip.HasExceptions)
	if err != nil {
		return PayrollRun{}, fmt.Errorf("replace payslip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return PayrollRun{}, ErrPayslipNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE payroll_runs r SET updated_at = now(),`+recomputeSummary+` WHERE r.id = $1`, runID); err != nil {
		return PayrollRun{}, fmt.Errorf("recompute summary: %w", err)
	}
	run, err := getRun(ctx, tx, runID)
	if err != nil {
		return PayrollRun{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, err
	}
	return run, nil
}

func (s *Store) MarkPayslipPaid(ctx context.Context, runID, employeeID string, expected RunStatus) (PayrollRun, int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return PayrollRun{}, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockRunStatus(ctx, tx, runID, expected); err != nil {
		return PayrollRun{}, 0, err
	}
	tag, err := tx.Exec(ctx, `
    UPDATE payslips SET payment_status = $3, updated_at = now()
    WHERE payroll_run_id = $1 AND employee_id = $2
  `, runID, employeeID, string(PaymentPaid))
	if err != nil {
		return PayrollRun{}, 0, fmt.Errorf("mark payslip paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return PayrollRun{}, 0, ErrPayslipNotFound
	}
	var pending int
	if err := tx.QueryRow(ctx, `
    SELECT count(*) FROM payslips WHERE payroll_run_id = $1 AND payment_status <> $2
  `, runID, string(PaymentPaid)).Scan(&pending); err != nil {
		return PayrollRun{}, 0, err
	}
	run, err := getRun(ctx, tx, runID)
	if err != nil {
		return PayrollRun{}, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PayrollRun{}, 0, err
	}
	return run, pending, nil
}

func lockRunStatus(ctx context.Context, tx pgx.Tx, runID string, expected RunStatus) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM payroll_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if RunStatus(status) != expected {
		return ErrStatusConflict
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRun(ctx context.Context, q rowQuerier, runID string) (PayrollRun, error) {
	run, err := scanRun(q.QueryRow(ctx, runColumns+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return PayrollRun{}, ErrRunNotFound
	}
	return run, err
}

func scanRun(row pgx.Row) (PayrollRun, error) {
	var run PayrollRun
	var status, total string
	var warningsJSON []byte
	if err := row.Scan(&run.ID, &run.Entity, &run.PayrollPeriod, &status, &run.SpecialistID, &run.ManagerID,
		&run.FinanceApproverID, &run.CreatedAt, &run.ManagerApprovalDate, &run.FinanceApprovalDate,
		&run.EmployeeCount, &run.ExceptionCount, &total, &run.RejectionReason, &run.SupersedesRunID, &warningsJSON); err != nil {
		return PayrollRun{}, err
	}
	parsed, err := ParseRunStatus(status)
	if err != nil {
		return PayrollRun{}, err
	}
	run.Status = parsed
	run.PayrollPeriod = NormalizePeriod(run.PayrollPeriod)
	if run.TotalNetPay, err = decimal.NewFromString(total); err != nil {
		return PayrollRun{}, fmt.Errorf("total net pay: %w", err)
	}
	run.Warnings = []RunWarning{}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &run.Warnings); err != nil {
			return PayrollRun{}, fmt.Errorf("run warnings: %w", err)
		}
	}
	return run, nil
}

func scanPayslip(row pgx.Row) (PaySlip, error) {
	var slip PaySlip
	var earningsJSON, deductionsJSON, exceptionsJSON []byte
	var gross, deductions, net, paymentStatus string
	if err := row.Scan(&slip.ID, &slip.PayrollRunID, &slip.EmployeeID, &earningsJSON, &deductionsJSON,
		&gross, &deductions, &net, &exceptionsJSON, &slip.HasExceptions, &paymentStatus, &slip.CreatedAt); err != nil {
		return PaySlip{}, err
	}
	if err := json.Unmarshal(earningsJSON, &slip.Earnings); err != nil {
		return PaySlip{}, fmt.Errorf("earnings: %w", err)
	}
	if err := json.Unmarshal(deductionsJSON, &slip.Deductions); err != nil {
		return PaySlip{}, fmt.Errorf("deductions: %w", err)
	}
	var flags []ExceptionFlag
	if err := json.Unmarshal(exceptionsJSON, &flags); err != nil {
		return PaySlip{}, fmt.Errorf("exceptions: %w", err)
	}
	slip.SetFlags(flags)
	slip.PaymentStatus = PaymentStatus(paymentStatus)

	var err error
	if slip.TotalGrossSalary, err = decimal.NewFromString(gross); err != nil {
		return PaySlip{}, err
	}
	if slip.TotalDeductions, err = decimal.NewFromString(deductions); err != nil {
		return PaySlip{}, err
	}
	if slip.NetPay, err = decimal.NewFromString(net); err != nil {
		return PaySlip{}, err
	}
	return slip, nil
}

type encodedPayslip struct {
	earnings   []byte
	deductions []byte
	exceptions []byte
}

func payslipArgs(slip PaySlip) (encodedPayslip, error) {
	var out encodedPayslip
	var err error
	if out.earnings, err = json.Marshal(slip.Earnings); err != nil {
		return out, err
	}
	if out.deductions, err = json.Marshal(slip.Deductions); err != nil {
		return out, err
	}
	flags := slip.ExceptionsFlags
	if flags == nil {
		flags = []ExceptionFlag{}
	}
	if out.exceptions, err = json.Marshal(flags); err != nil {
		return out, err
	}
	return out, nil
}

func nonNilWarnings(warnings []RunWarning) []RunWarning {
	if warnings == nil {
		return []RunWarning{}
	}
	return warnings
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// isInvalidText reports a malformed uuid literal, which callers treat as not found.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
