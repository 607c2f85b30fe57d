package payrollhandler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"payrun/internal/domain/payroll"
	"payrun/internal/transport/http/api"
)

// writeServiceError maps engine errors onto status codes. RunLockedError also
// matches ErrInvalidTransition, so the locked case is checked first.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDFrom(r)

	var duplicate *payroll.DuplicateRunError
	var transition *payroll.TransitionError
	var missing *payroll.MissingEmployeeDataError
	switch {
	case errors.As(err, &duplicate):
		api.FailWithDetails(w, http.StatusConflict, "duplicate_run", err.Error(), map[string]any{
			"entity":        duplicate.Entity,
			"payrollPeriod": payroll.FormatPeriod(duplicate.Period),
			"existingRunId": duplicate.ExistingRunID,
		}, requestID)
	case errors.Is(err, payroll.ErrRunLocked):
		api.Fail(w, http.StatusLocked, "run_locked", err.Error(), requestID)
	case errors.As(err, &transition):
		api.FailWithDetails(w, http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from":   transition.From,
			"action": transition.Action,
			"role":   transition.Role,
			"reason": transition.Reason,
		}, requestID)
	case errors.Is(err, payroll.ErrStatusConflict):
		api.Fail(w, http.StatusConflict, "status_conflict", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRunNotFound):
		api.Fail(w, http.StatusNotFound, "run_not_found", err.Error(), requestID)
	case errors.Is(err, payroll.ErrPayslipNotFound):
		api.Fail(w, http.StatusNotFound, "payslip_not_found", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRoleNotAllowed):
		api.Fail(w, http.StatusForbidden, "forbidden", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRejectionReasonRequired):
		validationFailed(w, requestID, "reason", "is required")
	case errors.Is(err, payroll.ErrInvalidEntity):
		validationFailed(w, requestID, "entity", "is required")
	case errors.Is(err, payroll.ErrInvalidPeriod):
		validationFailed(w, requestID, "payrollPeriod", "must be a valid period in YYYY-MM format")
	case errors.As(err, &missing):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "missing_employee_data", err.Error(), map[string]any{
			"employeeId": missing.EmployeeID,
		}, requestID)
	case errors.Is(err, payroll.ErrInvalidLine):
		api.Fail(w, http.StatusUnprocessableEntity, "invalid_compensation", err.Error(), requestID)
	case errors.Is(err, context.DeadlineExceeded):
		api.Fail(w, http.StatusGatewayTimeout, "timeout", "payroll operation timed out", requestID)
	default:
		h.Logger.Error("payroll request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		api.Fail(w, http.StatusInternalServerError, "payroll_failed", "payroll operation failed", requestID)
	}
}
