// Package directory reads the employee, compensation, leave and dispute
// tables that payroll consumes. It never writes to them.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payrun/internal/domain/payroll"
	cryptoutil "payrun/internal/platform/crypto"
	"payrun/internal/platform/querier"
)

const (
	EmployeeStatusActive = "active"
	LeaveStatusApproved  = "approved"

	KindAllowance = "allowance"
	KindBonus     = "bonus"
	KindBenefit   = "benefit"
	KindRefund    = "refund"
	KindTax       = "tax"
	KindInsurance = "insurance"
	KindPenalty   = "penalty"
)

type Store struct {
	DB     querier.Querier
	Crypto *cryptoutil.Service
}

func NewStore(db querier.Querier, crypto *cryptoutil.Service) *Store {
	return &Store{DB: db, Crypto: crypto}
}

var (
	_ payroll.EmployeeDirectory  = (*Store)(nil)
	_ payroll.CompensationSource = (*Store)(nil)
	_ payroll.LeaveSource        = (*Store)(nil)
	_ payroll.DisputeSource      = (*Store)(nil)
	_ payroll.PayHistory         = (*Store)(nil)
)

// Sources exposes the store as every collaborator the resolver needs.
func (s *Store) Sources() payroll.Sources {
	return payroll.Sources{Employees: s, Compensation: s, Leave: s, Disputes: s, History: s}
}

func (s *Store) GetEmployee(ctx context.Context, employeeID string) (payroll.Employee, error) {
	var employee payroll.Employee
	var salaryPlain *string
	var salaryEnc, bankEnc []byte
	var bankPlain string
	err := s.DB.QueryRow(ctx, `
    SELECT id, entity, base_salary::text, salary_enc, COALESCE(bank_account, ''), bank_account_enc
    FROM employees
    WHERE id = $1
  `, employeeID).Scan(&employee.ID, &employee.Entity, &salaryPlain, &salaryEnc, &bankPlain, &bankEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Employee{}, payroll.ErrEmployeeNotFound
	}
	if err != nil {
		return payroll.Employee{}, err
	}

	salary, err := s.salary(salaryPlain, salaryEnc)
	if err != nil {
		return payroll.Employee{}, &payroll.MissingEmployeeDataError{EmployeeID: employeeID, Reason: "base salary unreadable", Err: err}
	}
	if salary == nil {
		return payroll.Employee{}, &payroll.MissingEmployeeDataError{EmployeeID: employeeID, Reason: "no base salary on file"}
	}
	employee.BaseSalary = *salary

	bank := bankPlain
	if len(bankEnc) > 0 && s.Crypto != nil {
		decrypted, err := s.Crypto.DecryptString(bankEnc)
		if err != nil {
			employee.BankStatus = payroll.BankStatusInvalid
			return employee, nil
		}
		bank = decrypted
	}
	employee.BankStatus = ValidateBankAccount(bank)
	return employee, nil
}

func (s *Store) salary(plain *string, enc []byte) (*decimal.Decimal, error) {
	raw := ""
	switch {
	case len(enc) > 0 && s.Crypto != nil:
		decrypted, err := s.Crypto.DecryptString(enc)
		if err != nil {
			return nil, err
		}
		raw = decrypted
	case plain != nil:
		raw = *plain
	default:
		return nil, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (s *Store) ListEmployeesInScope(ctx context.Context, entity string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id FROM employees
    WHERE entity = $1 AND status = $2
    ORDER BY id
  `, entity, EmployeeStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCompensation returns recurring lines plus lines pinned to the period.
func (s *Store) GetCompensation(ctx context.Context, employeeID string, period time.Time) (payroll.Compensation, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT kind, name, COALESCE(amount, 0)::text, COALESCE(rate, 0)::text
    FROM compensation_lines
    WHERE employee_id = $1
      AND active = true
      AND (period IS NULL OR period = $2)
    ORDER BY kind, name
  `, employeeID, payroll.NormalizePeriod(period))
	if err != nil {
		return payroll.Compensation{}, err
	}
	defer rows.Close()

	var comp payroll.Compensation
	for rows.Next() {
		var kind, name, amountRaw, rateRaw string
		if err := rows.Scan(&kind, &name, &amountRaw, &rateRaw); err != nil {
			return payroll.Compensation{}, err
		}
		amount, err := decimal.NewFromString(amountRaw)
		if err != nil {
			return payroll.Compensation{}, fmt.Errorf("compensation %s amount: %w", name, err)
		}
		rate, err := decimal.NewFromString(rateRaw)
		if err != nil {
			return payroll.Compensation{}, fmt.Errorf("compensation %s rate: %w", name, err)
		}
		switch kind {
		case KindAllowance:
			comp.Allowances = append(comp.Allowances, payroll.EarningLine{Name: name, Amount: amount})
		case KindBonus:
			comp.Bonuses = append(comp.Bonuses, payroll.EarningLine{Name: name, Amount: amount})
		case KindBenefit:
			comp.Benefits = append(comp.Benefits, payroll.EarningLine{Name: name, Amount: amount})
		case KindRefund:
			comp.Refunds = append(comp.Refunds, payroll.EarningLine{Name: name, Amount: amount})
		case KindTax:
			comp.Taxes = append(comp.Taxes, payroll.TaxLine{Name: name, Rate: rate})
		case KindInsurance:
			comp.Insurances = append(comp.Insurances, payroll.InsuranceLine{Name: name, EmployeeRate: rate})
		case KindPenalty:
			comp.Penalties = append(comp.Penalties, payroll.PenaltyLine{Reason: name, Amount: amount})
		default:
			return payroll.Compensation{}, fmt.Errorf("%w: unknown kind %q", payroll.ErrInvalidLine, kind)
		}
	}
	return comp, rows.Err()
}

func (s *Store) GetUnpaidLeaveDays(ctx context.Context, employeeID string, period time.Time) (decimal.Decimal, error) {
	start := payroll.NormalizePeriod(period)
	end := payroll.PeriodEnd(period)
	rows, err := s.DB.Query(ctx, `
    SELECT start_date, end_date, start_half, end_half
    FROM leave_requests
    WHERE employee_id = $1
      AND status = $2
      AND is_paid = false
      AND start_date <= $3
      AND end_date >= $4
  `, employeeID, LeaveStatusApproved, end, start)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	var windows []LeaveWindow
	for rows.Next() {
		var window LeaveWindow
		if err := rows.Scan(&window.StartDate, &window.EndDate, &window.StartHalf, &window.EndHalf); err != nil {
			return decimal.Zero, err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	return UnpaidDaysInPeriod(windows, start, end), nil
}

func (s *Store) GetHREvents(ctx context.Context, employeeID string, period time.Time) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT DISTINCT event_type
    FROM hr_events
    WHERE employee_id = $1 AND effective_date BETWEEN $2 AND $3
    ORDER BY event_type
  `, employeeID, payroll.NormalizePeriod(period), payroll.PeriodEnd(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []string{}
	for rows.Next() {
		var event string
		if err := rows.Scan(&event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) HasUnresolvedDisputes(ctx context.Context, employeeID string, period time.Time) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
    SELECT EXISTS (
      SELECT 1 FROM disputes
      WHERE employee_id = $1
        AND status NOT IN ('resolved', 'closed')
        AND (period IS NULL OR period = $2)
    )
  `, employeeID, payroll.NormalizePeriod(period)).Scan(&exists)
	return exists, err
}

// PreviousNetPay reads the latest approved or locked payslip before the period.
func (s *Store) PreviousNetPay(ctx context.Context, employeeID string, before time.Time) (*decimal.Decimal, error) {
	var raw string
	err := s.DB.QueryRow(ctx, `
    SELECT p.net_pay::text
    FROM payslips p
    JOIN payroll_runs r ON r.id = p.payroll_run_id
    WHERE p.employee_id = $1
      AND r.status IN ('approved', 'locked')
      AND r.payroll_period < $2
    ORDER BY r.payroll_period DESC, r.created_at DESC
    LIMIT 1
  `, employeeID, payroll.NormalizePeriod(before)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	net, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &net, nil
}
