package payroll

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunNotFound             = errors.New("payroll run not found")
	ErrPayslipNotFound         = errors.New("payslip not found")
	ErrEmployeeNotFound        = errors.New("employee not found")
	ErrDuplicateRun            = errors.New("an active payroll run already exists for this entity and period")
	ErrInvalidTransition       = errors.New("invalid payroll run transition")
	ErrRunLocked               = errors.New("payroll run is locked")
	ErrMissingEmployeeData     = errors.New("missing employee data")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrInvalidLine             = errors.New("invalid compensation line")
	ErrInvalidPeriod           = errors.New("invalid payroll period")
	ErrInvalidEntity           = errors.New("entity is required")
	ErrStatusConflict          = errors.New("payroll run status changed concurrently")
	ErrRoleNotAllowed          = errors.New("role not allowed for this operation")
)

// MissingEmployeeDataError marks an employee whose inputs could not be resolved.
type MissingEmployeeDataError struct {
	EmployeeID string
	Reason     string
	Err        error
}

func (e *MissingEmployeeDataError) Error() string {
	msg := fmt.Sprintf("missing employee data for %s", e.EmployeeID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingEmployeeDataError) Is(target error) bool { return target == ErrMissingEmployeeData }

func (e *MissingEmployeeDataError) Unwrap() error { return e.Err }

type DuplicateRunError struct {
	Entity        string
	Period        time.Time
	ExistingRunID string
}

func (e *DuplicateRunError) Error() string {
	msg := fmt.Sprintf("payroll run for %s %s already exists", e.Entity, FormatPeriod(e.Period))
	if e.ExistingRunID != "" {
		msg += " (" + e.ExistingRunID + ")"
	}
	return msg
}

func (e *DuplicateRunError) Is(target error) bool { return target == ErrDuplicateRun }

// TransitionError reports an action attempted from the wrong status or by the wrong role.
type TransitionError struct {
	From   RunStatus
	Action Action
	Role   Role
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s run in status %s as %s: %s", e.Action, e.From, e.Role, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// RunLockedError satisfies both ErrRunLocked and ErrInvalidTransition.
type RunLockedError struct {
	RunID  string
	Action Action
}

func (e *RunLockedError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("cannot %s: payroll run is locked", e.Action)
	}
	return fmt.Sprintf("cannot %s run %s: payroll run is locked", e.Action, e.RunID)
}

func (e *RunLockedError) Is(target error) bool {
	return target == ErrRunLocked || target == ErrInvalidTransition
}
