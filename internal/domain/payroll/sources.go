package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Employee is the slice of the employee record payroll reads.
type Employee struct {
	ID         string
	Entity     string
	BaseSalary decimal.Decimal
	BankStatus BankStatus
}

// EmployeeDirectory returns ErrEmployeeNotFound for unknown ids.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)
	ListEmployeesInScope(ctx context.Context, entity string) ([]string, error)
}

// Compensation holds the variable pay and rate schedules for one period.
type Compensation struct {
	Allowances []EarningLine
	Bonuses    []EarningLine
	Benefits   []EarningLine
	Refunds    []EarningLine
	Taxes      []TaxLine
	Insurances []InsuranceLine
	Penalties  []PenaltyLine
}

type CompensationSource interface {
	GetCompensation(ctx context.Context, employeeID string, period time.Time) (Compensation, error)
}

type LeaveSource interface {
	GetUnpaidLeaveDays(ctx context.Context, employeeID string, period time.Time) (decimal.Decimal, error)
	GetHREvents(ctx context.Context, employeeID string, period time.Time) ([]string, error)
}

type DisputeSource interface {
	HasUnresolvedDisputes(ctx context.Context, employeeID string, period time.Time) (bool, error)
}

// PayHistory returns nil when the employee has no earlier approved payslip.
type PayHistory interface {
	PreviousNetPay(ctx context.Context, employeeID string, before time.Time) (*decimal.Decimal, error)
}

// Sources bundles the read-only collaborators. History is optional.
type Sources struct {
	Employees    EmployeeDirectory
	Compensation CompensationSource
	Leave        LeaveSource
	Disputes     DisputeSource
	History      PayHistory
}
