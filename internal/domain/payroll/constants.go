package payroll

import "fmt"

// RunStatus is the lifecycle state of a payroll run.
type RunStatus string

const (
	StatusDraft                  RunStatus = "draft"
	StatusUnderReview            RunStatus = "under_review"
	StatusPendingFinanceApproval RunStatus = "pending_finance_approval"
	StatusApproved               RunStatus = "approved"
	StatusRejected               RunStatus = "rejected"
	StatusLocked                 RunStatus = "locked"
)

var AllStatuses = []RunStatus{
	StatusDraft,
	StatusUnderReview,
	StatusPendingFinanceApproval,
	StatusApproved,
	StatusRejected,
	StatusLocked,
}

func ParseRunStatus(value string) (RunStatus, error) {
	status := RunStatus(value)
	if !status.Valid() {
		return "", fmt.Errorf("unknown payroll run status %q", value)
	}
	return status, nil
}

func (s RunStatus) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Active reports whether the run occupies its entity+period slot.
func (s RunStatus) Active() bool {
	return s != StatusRejected
}

// Role is the payroll role an actor holds for a transition.
type Role string

const (
	RoleSpecialist Role = "specialist"
	RoleManager    Role = "manager"
	RoleFinance    Role = "finance"
	RoleSystem     Role = "system"
)

func ParseRole(value string) (Role, error) {
	switch role := Role(value); role {
	case RoleSpecialist, RoleManager, RoleFinance, RoleSystem:
		return role, nil
	default:
		return "", fmt.Errorf("unknown payroll role %q", value)
	}
}

// Action is an operation requested against a run.
type Action string

const (
	ActionPublish        Action = "publish"
	ActionManagerApprove Action = "manager_approve"
	ActionFinanceApprove Action = "finance_approve"
	ActionReject         Action = "reject"
	ActionRegenerate     Action = "regenerate"
	ActionLock           Action = "lock"

	ActionGenerate    Action = "generate"
	ActionRecalculate Action = "recalculate"
	ActionMarkPaid    Action = "mark_paid"
)

// Severity grades an exception flag.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type BankStatus string

const (
	BankStatusValid   BankStatus = "valid"
	BankStatusMissing BankStatus = "missing"
	BankStatusInvalid BankStatus = "invalid"
)

const (
	CodeNegativeNetPay         = "NEGATIVE_NET_PAY"
	CodeMissingBankDetails     = "MISSING_BANK_DETAILS"
	CodeInvalidBankDetails     = "INVALID_BANK_DETAILS"
	CodeUnresolvedDispute      = "UNRESOLVED_DISPUTE"
	CodeHREventAccrualMismatch = "HR_EVENT_ACCRUAL_MISMATCH"
	CodeUnusualNetDelta        = "UNUSUAL_NET_DELTA"

	WarningMissingEmployeeData = "missing_employee_data"
	WarningInvalidCompensation = "invalid_compensation"

	HREventUnpaidLeave = "unpaid_leave"
	HREventSuspension  = "suspension"

	PenaltyReasonUnpaidLeave = "unpaid_leave"
)
