package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EarningLine is an additive earnings component (allowance, bonus, benefit or refund).
type EarningLine struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func (l EarningLine) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: earning name is required", ErrInvalidLine)
	}
	if l.Amount.IsNegative() {
		return fmt.Errorf("%w: earning %q amount must be >= 0", ErrInvalidLine, l.Name)
	}
	return nil
}

// TaxLine is a percentage of base salary, e.g. 7.5 means 7.5%.
type TaxLine struct {
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

func (l TaxLine) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: tax name is required", ErrInvalidLine)
	}
	if !rateInRange(l.Rate) {
		return fmt.Errorf("%w: tax %q rate must be within [0,100]", ErrInvalidLine, l.Name)
	}
	return nil
}

type InsuranceLine struct {
	Name         string          `json:"name"`
	EmployeeRate decimal.Decimal `json:"employeeRate"`
}

func (l InsuranceLine) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: insurance name is required", ErrInvalidLine)
	}
	if !rateInRange(l.EmployeeRate) {
		return fmt.Errorf("%w: insurance %q employee rate must be within [0,100]", ErrInvalidLine, l.Name)
	}
	return nil
}

// PenaltyLine is a flat, already resolved deduction.
type PenaltyLine struct {
	Reason string          `json:"reason"`
	Amount decimal.Decimal `json:"amount"`
}

func (l PenaltyLine) Validate() error {
	if strings.TrimSpace(l.Reason) == "" {
		return fmt.Errorf("%w: penalty reason is required", ErrInvalidLine)
	}
	if l.Amount.IsNegative() {
		return fmt.Errorf("%w: penalty %q amount must be >= 0", ErrInvalidLine, l.Reason)
	}
	return nil
}

func rateInRange(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

type Earnings struct {
	BaseSalary decimal.Decimal `json:"baseSalary"`
	Allowances []EarningLine   `json:"allowances"`
	Bonuses    []EarningLine   `json:"bonuses"`
	Benefits   []EarningLine   `json:"benefits"`
	Refunds    []EarningLine   `json:"refunds"`
}

type Penalties struct {
	Penalties []PenaltyLine `json:"penalties"`
}

type Deductions struct {
	Taxes      []TaxLine       `json:"taxes"`
	Insurances []InsuranceLine `json:"insurances"`
	Penalties  Penalties       `json:"penalties"`
}

type ExceptionFlag struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
	Severity Severity `json:"severity"`
}

type PaySlip struct {
	ID               string          `json:"payslipId"`
	PayrollRunID     string          `json:"payrollRunId"`
	EmployeeID       string          `json:"employeeId"`
	Earnings         Earnings        `json:"earningsDetails"`
	Deductions       Deductions      `json:"deductionsDetails"`
	TotalGrossSalary decimal.Decimal `json:"totalGrossSalary"`
	TotalDeductions  decimal.Decimal `json:"totalDeductions"`
	NetPay           decimal.Decimal `json:"netPay"`
	ExceptionsFlags  []ExceptionFlag `json:"exceptionsFlags"`
	HasExceptions    bool            `json:"hasExceptions"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// SetFlags replaces the exception flags and keeps HasExceptions in step.
func (p *PaySlip) SetFlags(flags []ExceptionFlag) {
	if flags == nil {
		flags = []ExceptionFlag{}
	}
	p.ExceptionsFlags = flags
	p.HasExceptions = len(flags) > 0
}

// RunWarning records an employee that was left out of a draft.
type RunWarning struct {
	EmployeeID string `json:"employeeId"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type PayrollRun struct {
	ID                  string          `json:"runId"`
	Entity              string          `json:"entity"`
	PayrollPeriod       time.Time       `json:"payrollPeriod"`
	Status              RunStatus       `json:"status"`
	SpecialistID        string          `json:"specialistId"`
	ManagerID           *string         `json:"managerId"`
	FinanceApproverID   *string         `json:"financeApproverId"`
	CreatedAt           time.Time       `json:"createdAt"`
	ManagerApprovalDate *time.Time      `json:"managerApprovalDate"`
	FinanceApprovalDate *time.Time      `json:"financeApprovalDate"`
	EmployeeCount       int             `json:"employeeCount"`
	ExceptionCount      int             `json:"exceptionCount"`
	TotalNetPay         decimal.Decimal `json:"totalNetPay"`
	RejectionReason     *string         `json:"rejectionReason"`
	SupersedesRunID     *string         `json:"supersedesRunId,omitempty"`
	Warnings            []RunWarning    `json:"warnings"`
}

// Summary is the backend-owned projection of a run's payslip set.
type Summary struct {
	EmployeeCount  int
	ExceptionCount int
	TotalNetPay    decimal.Decimal
}

func Summarize(payslips []PaySlip) Summary {
	summary := Summary{TotalNetPay: decimal.Zero}
	for _, slip := range payslips {
		summary.EmployeeCount++
		summary.ExceptionCount += len(slip.ExceptionsFlags)
		summary.TotalNetPay = summary.TotalNetPay.Add(slip.NetPay)
	}
	return summary
}

func (r *PayrollRun) ApplySummary(summary Summary) {
	r.EmployeeCount = summary.EmployeeCount
	r.ExceptionCount = summary.ExceptionCount
	r.TotalNetPay = summary.TotalNetPay
}

// Bundle is everything resolved for one employee and period.
type Bundle struct {
	EmployeeID           string           `json:"employeeId"`
	Period               time.Time        `json:"period"`
	BaseSalary           decimal.Decimal  `json:"baseSalary"`
	Allowances           []EarningLine    `json:"allowances"`
	Bonuses              []EarningLine    `json:"bonuses"`
	Benefits             []EarningLine    `json:"benefits"`
	Refunds              []EarningLine    `json:"refunds"`
	Taxes                []TaxLine        `json:"taxes"`
	Insurances           []InsuranceLine  `json:"insurances"`
	Penalties            []PenaltyLine    `json:"penalties"`
	UnpaidLeaveDays      decimal.Decimal  `json:"unpaidLeaveDays"`
	HREvents             []string         `json:"hrEvents"`
	BankStatus           BankStatus       `json:"bankStatus"`
	HasUnresolvedDispute bool             `json:"hasUnresolvedDispute"`
	PreviousNetPay       *decimal.Decimal `json:"previousNetPay,omitempty"`
}

// Validate checks every line item and the base salary.
func (b Bundle) Validate() error {
	if b.BaseSalary.IsNegative() {
		return fmt.Errorf("%w: base salary must be >= 0", ErrInvalidLine)
	}
	for _, group := range [][]EarningLine{b.Allowances, b.Bonuses, b.Benefits, b.Refunds} {
		for _, line := range group {
			if err := line.Validate(); err != nil {
				return err
			}
		}
	}
	for _, line := range b.Taxes {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	for _, line := range b.Insurances {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	for _, line := range b.Penalties {
		if err := line.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b Bundle) HasPenalty(reason string) bool {
	for _, line := range b.Penalties {
		if line.Reason == reason && line.Amount.IsPositive() {
			return true
		}
	}
	return false
}

func (b Bundle) HasEvent(event string) bool {
	for _, candidate := range b.HREvents {
		if candidate == event {
			return true
		}
	}
	return false
}

type DraftResult struct {
	Run     PayrollRun   `json:"run"`
	Skipped []RunWarning `json:"skipped"`
}

// Actor is the caller of an engine operation.
type Actor struct {
	UserID string
	Role   Role
}

// NormalizePeriod truncates t to the first of its month, UTC.
func NormalizePeriod(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParsePeriod accepts "YYYY-MM" or a "YYYY-MM-DD" date inside the month.
func ParsePeriod(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return NormalizePeriod(parsed), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, value)
}

// PeriodEnd is the last day of the normalized period.
func PeriodEnd(period time.Time) time.Time {
	return NormalizePeriod(period).AddDate(0, 1, -1)
}

func DaysInPeriod(period time.Time) int {
	return PeriodEnd(period).Day()
}

func FormatPeriod(period time.Time) string {
	return period.UTC().Format("2006-01")
}
