package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultNetVarianceThreshold flags a net pay that moved more than 50% against the previous period.
var DefaultNetVarianceThreshold = decimal.RequireFromString("0.5")

// Rule inspects one employee and returns any flags it raises.
type Rule func(employeeID string, b Bundle, p PaySlip) []ExceptionFlag

// Detector runs its rules in order; flag order is rule order.
type Detector struct {
	rules []Rule
}

func NewDetector(netVarianceThreshold decimal.Decimal) *Detector {
	if !netVarianceThreshold.IsPositive() {
		netVarianceThreshold = DefaultNetVarianceThreshold
	}
	return &Detector{rules: []Rule{
		bankDetailsRule,
		disputeRule,
		accrualRule,
		netDeltaRule(netVarianceThreshold),
		negativeNetRule,
	}}
}

// WithRules returns a detector that also runs extra after the built-in rules.
func (d *Detector) WithRules(extra ...Rule) *Detector {
	rules := append(append([]Rule{}, d.rules...), extra...)
	return &Detector{rules: rules}
}

func (d *Detector) Detect(employeeID string, b Bundle, p PaySlip) []ExceptionFlag {
	flags := []ExceptionFlag{}
	seen := map[string]bool{}
	for _, rule := range d.rules {
		for _, flag := range rule(employeeID, b, p) {
			if seen[flag.Code] {
				continue
			}
			seen[flag.Code] = true
			flags = append(flags, flag)
		}
	}
	return flags
}

func bankDetailsRule(_ string, b Bundle, _ PaySlip) []ExceptionFlag {
	switch b.BankStatus {
	case BankStatusMissing, "":
		return []ExceptionFlag{{Code: CodeMissingBankDetails, Message: "no bank destination on file", Field: "bankAccount", Severity: SeverityWarn}}
	case BankStatusInvalid:
		return []ExceptionFlag{{Code: CodeInvalidBankDetails, Message: "bank destination failed validation", Field: "bankAccount", Severity: SeverityWarn}}
	}
	return nil
}

func disputeRule(_ string, b Bundle, _ PaySlip) []ExceptionFlag {
	if !b.HasUnresolvedDispute {
		return nil
	}
	return []ExceptionFlag{{Code: CodeUnresolvedDispute, Message: "employee has an unresolved dispute for this period", Severity: SeverityWarn}}
}

// accrualRule catches HR events whose pay adjustment did not make it into the bundle.
func accrualRule(_ string, b Bundle, _ PaySlip) []ExceptionFlag {
	hasEvent := b.HasEvent(HREventUnpaidLeave)
	hasDays := b.UnpaidLeaveDays.IsPositive()
	hasDeduction := b.HasPenalty(PenaltyReasonUnpaidLeave)

	var msg string
	switch {
	case hasEvent && !hasDays:
		msg = "unpaid leave event without unpaid leave days"
	case hasDays && !hasEvent:
		msg = fmt.Sprintf("%s unpaid leave days without an unpaid leave event", b.UnpaidLeaveDays.String())
	case hasDays && b.BaseSalary.IsPositive() && !hasDeduction:
		msg = "unpaid leave days were not deducted"
	case b.HasEvent(HREventSuspension) && !hasDays:
		msg = "suspension event without unpaid days"
	default:
		return nil
	}
	return []ExceptionFlag{{Code: CodeHREventAccrualMismatch, Message: msg, Field: "hrEvents", Severity: SeverityWarn}}
}

func netDeltaRule(threshold decimal.Decimal) Rule {
	return func(_ string, b Bundle, p PaySlip) []ExceptionFlag {
		if b.PreviousNetPay == nil || !b.PreviousNetPay.IsPositive() {
			return nil
		}
		previous := *b.PreviousNetPay
		delta := p.NetPay.Sub(previous).Abs().Div(previous)
		if !delta.GreaterThan(threshold) {
			return nil
		}
		return []ExceptionFlag{{
			Code:     CodeUnusualNetDelta,
			Message:  fmt.Sprintf("net pay changed from %s to %s", previous.StringFixed(moneyPlaces), p.NetPay.StringFixed(moneyPlaces)),
			Field:    "netPay",
			Severity: SeverityWarn,
		}}
	}
}

func negativeNetRule(_ string, _ Bundle, p PaySlip) []ExceptionFlag {
	for _, flag := range p.ExceptionsFlags {
		if flag.Code == CodeNegativeNetPay {
			return []ExceptionFlag{flag}
		}
	}
	if p.NetPay.IsNegative() {
		return []ExceptionFlag{NegativeNetFlag(p.NetPay)}
	}
	return nil
}
