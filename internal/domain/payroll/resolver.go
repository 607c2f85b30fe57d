package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultResolveTimeout = 5 * time.Second

// Resolver gathers one employee's inputs for a period from the collaborators.
type Resolver struct {
	src     Sources
	timeout time.Duration
	log     *zap.Logger
}

func NewResolver(src Sources, timeout time.Duration, log *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{src: src, timeout: timeout, log: log}
}

// Resolve returns a *MissingEmployeeDataError when the employee is unknown or
// the lookup runs past the resolver timeout. An employee without variable pay
// gets an empty bundle.
func (r *Resolver) Resolve(ctx context.Context, employeeID string, period time.Time) (Bundle, error) {
	period = NormalizePeriod(period)
	resolveCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	bundle, err := r.resolve(resolveCtx, employeeID, period)
	if err == nil {
		return bundle, nil
	}
	if ctx.Err() != nil {
		return Bundle{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(resolveCtx.Err(), context.DeadlineExceeded) {
		return Bundle{}, &MissingEmployeeDataError{EmployeeID: employeeID, Reason: "lookup timed out", Err: err}
	}
	if errors.Is(err, ErrEmployeeNotFound) {
		return Bundle{}, &MissingEmployeeDataError{EmployeeID: employeeID, Reason: "employee record not found"}
	}
	return Bundle{}, err
}

func (r *Resolver) resolve(ctx context.Context, employeeID string, period time.Time) (Bundle, error) {
	employee, err := r.src.Employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return Bundle{}, fmt.Errorf("get employee: %w", err)
	}

	bundle := Bundle{
		EmployeeID:      employeeID,
		Period:          period,
		BaseSalary:      employee.BaseSalary,
		BankStatus:      employee.BankStatus,
		UnpaidLeaveDays: decimal.Zero,
		HREvents:        []string{},
	}

	if r.src.Compensation != nil {
		comp, err := r.src.Compensation.GetCompensation(ctx, employeeID, period)
		if err != nil {
			return Bundle{}, fmt.Errorf("get compensation: %w", err)
		}
		bundle.Allowances = comp.Allowances
		bundle.Bonuses = comp.Bonuses
		bundle.Benefits = comp.Benefits
		bundle.Refunds = comp.Refunds
		bundle.Taxes = comp.Taxes
		bundle.Insurances = comp.Insurances
		bundle.Penalties = comp.Penalties
	}

	if r.src.Leave != nil {
		days, err := r.src.Leave.GetUnpaidLeaveDays(ctx, employeeID, period)
		if err != nil {
			return Bundle{}, fmt.Errorf("get unpaid leave days: %w", err)
		}
		bundle.UnpaidLeaveDays = days
		events, err := r.src.Leave.GetHREvents(ctx, employeeID, period)
		if err != nil {
			return Bundle{}, fmt.Errorf("get hr events: %w", err)
		}
		if events != nil {
			bundle.HREvents = events
		}
	}

	if r.src.Disputes != nil {
		disputed, err := r.src.Disputes.HasUnresolvedDisputes(ctx, employeeID, period)
		if err != nil {
			return Bundle{}, fmt.Errorf("get disputes: %w", err)
		}
		bundle.HasUnresolvedDispute = disputed
	}

	if r.src.History != nil {
		previous, err := r.src.History.PreviousNetPay(ctx, employeeID, period)
		if err != nil {
			if ctx.Err() != nil {
				return Bundle{}, fmt.Errorf("previous net pay: %w", err)
			}
			r.log.Warn("previous net lookup failed", zap.String("employee_id", employeeID), zap.Error(err))
		} else {
			bundle.PreviousNetPay = previous
		}
	}

	if penalty, ok := UnpaidLeavePenalty(bundle.BaseSalary, bundle.UnpaidLeaveDays, period); ok && !bundle.HasPenalty(PenaltyReasonUnpaidLeave) {
		bundle.Penalties = append(bundle.Penalties, penalty)
	}
	return bundle, nil
}

// UnpaidLeavePenalty prorates base salary over the calendar days of the period.
func UnpaidLeavePenalty(baseSalary, unpaidDays decimal.Decimal, period time.Time) (PenaltyLine, bool) {
	if !baseSalary.IsPositive() || !unpaidDays.IsPositive() {
		return PenaltyLine{}, false
	}
	days := decimal.NewFromInt(int64(DaysInPeriod(period)))
	if unpaidDays.GreaterThan(days) {
		unpaidDays = days
	}
	amount := baseSalary.Div(days).Mul(unpaidDays).Round(moneyPlaces)
	if !amount.IsPositive() {
		return PenaltyLine{}, false
	}
	return PenaltyLine{Reason: PenaltyReasonUnpaidLeave, Amount: amount}, true
}
