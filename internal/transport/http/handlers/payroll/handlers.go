package payrollhandler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"payrun/internal/domain/audit"
	"payrun/internal/domain/payroll"
	"payrun/internal/transport/http/api"
	"payrun/internal/transport/http/middleware"
	"payrun/internal/transport/http/shared"
)

// AuditLog is the slice of the audit service the handlers use.
type AuditLog interface {
	Record(ctx context.Context, entry audit.Entry) error
	List(ctx context.Context, filter audit.Filter, includeDetails bool, limit, offset int) ([]audit.Event, error)
}

type Handler struct {
	Service    *payroll.Service
	Audit      AuditLog
	Logger     *zap.Logger
	Idempotent func(http.Handler) http.Handler
}

func NewHandler(service *payroll.Service, auditLog AuditLog, logger *zap.Logger, idempotent func(http.Handler) http.Handler) *Handler {
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{Service: service, Audit: auditLog, Logger: logger.Named("payroll.http"), Idempotent: idempotent}
}

type generateDraftPayload struct {
	Entity        string `json:"entity" validate:"required,max=64"`
	PayrollPeriod string `json:"payrollPeriod" validate:"required"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type draftResponse struct {
	PayrollRunID string               `json:"payrollRunId"`
	Run          runView              `json:"run"`
	Skipped      []payroll.RunWarning `json:"skipped"`
}

// runView adds the caller's next steps to a run.
type runView struct {
	payroll.PayrollRun
	Period         string           `json:"period"`
	NextRole       payroll.Role     `json:"nextRole,omitempty"`
	AllowedActions []payroll.Action `json:"allowedActions"`
}

type recalculateResponse struct {
	Payslip payroll.PaySlip `json:"payslip"`
	Run     runView         `json:"run"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll", func(r chi.Router) {
		r.Use(middleware.RequireActor)

		r.With(h.Idempotent).Post("/generate-draft", h.handleGenerateDraft)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{runID}", h.handleGetRun)
		r.Get("/runs/{runID}/employees", h.handleListEmployees)
		r.Get("/runs/{runID}/employees/{employeeID}", h.handleGetPayslip)
		r.Get("/runs/{runID}/history", h.handleHistory)

		r.Post("/runs/{runID}/publish", h.transitionHandler(payroll.ActionPublish))
		r.Post("/runs/{runID}/manager-approve", h.transitionHandler(payroll.ActionManagerApprove))
		r.Post("/runs/{runID}/finance-approve", h.transitionHandler(payroll.ActionFinanceApprove))
		r.Post("/runs/{runID}/reject", h.handleReject)
		r.Post("/runs/{runID}/lock", h.transitionHandler(payroll.ActionLock))
		r.With(h.Idempotent).Post("/runs/{runID}/regenerate", h.handleRegenerate)

		r.Post("/runs/{runID}/employees/{employeeID}/recalculate", h.handleRecalculate)
		r.With(middleware.RequireRole(payroll.RoleFinance)).Post("/runs/{runID}/employees/{employeeID}/paid", h.handleMarkPaid)
	})
}

func requestIDFrom(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

func validationFailed(w http.ResponseWriter, requestID, field, reason string) {
	shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: field, Reason: reason}})
}

func viewOf(run payroll.PayrollRun, role payroll.Role) runView {
	actions := payroll.AllowedActions(run.Status, role)
	if actions == nil {
		actions = []payroll.Action{}
	}
	return runView{
		PayrollRun:     run,
		Period:         payroll.FormatPeriod(run.PayrollPeriod),
		NextRole:       payroll.NextRole(run.Status),
		AllowedActions: actions,
	}
}

func (h *Handler) record(r *http.Request, actor payroll.Actor, action, runID string, before, after any) {
	if h.Audit == nil {
		return
	}
	entry := audit.Entry{
		ActorID:    actor.UserID,
		ActorRole:  string(actor.Role),
		Action:     action,
		EntityType: audit.EntityPayrollRun,
		EntityID:   runID,
		RequestID:  requestIDFrom(r),
		IP:         middleware.ClientIP(r),
		Before:     before,
		After:      after,
	}
	if err := h.Audit.Record(context.WithoutCancel(r.Context()), entry); err != nil {
		h.Logger.Warn("audit record failed", zap.String("action", action), zap.String("run_id", runID), zap.Error(err))
	}
}

type statusSnapshot struct {
	Status          payroll.RunStatus `json:"status"`
	RejectionReason *string           `json:"rejectionReason,omitempty"`
	EmployeeCount   int               `json:"employeeCount"`
	TotalNetPay     string            `json:"totalNetPay"`
}

func snapshot(run payroll.PayrollRun) statusSnapshot {
	return statusSnapshot{
		Status:          run.Status,
		RejectionReason: run.RejectionReason,
		EmployeeCount:   run.EmployeeCount,
		TotalNetPay:     run.TotalNetPay.StringFixed(2),
	}
}

func (h *Handler) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	requestID := requestIDFrom(r)

	var payload generateDraftPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	period, _ := v.Period("payrollPeriod", payload.PayrollPeriod)
	if v.Reject(w, requestID) {
		return
	}

	result, err := h.Service.GenerateDraft(r.Context(), actor, strings.TrimSpace(payload.Entity), period)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, actor, "payroll.run.generate", result.Run.ID, nil, snapshot(result.Run))
	api.Created(w, draftResponse{
		PayrollRunID: result.Run.ID,
		Run:          viewOf(result.Run, actor.Role),
		Skipped:      nonNilWarnings(result.Skipped),
	}, requestID)
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	runID := chi.URLParam(r, "runID")

	result, err := h.Service.Regenerate(r.Context(), actor, runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, actor, "payroll.run.regenerate", runID, nil, map[string]string{"newRunId": result.Run.ID})
	h.record(r, actor, "payroll.run.generate", result.Run.ID, nil, snapshot(result.Run))
	api.Created(w, draftResponse{
		PayrollRunID: result.Run.ID,
		Run:          viewOf(result.Run, actor.Role),
		Skipped:      nonNilWarnings(result.Skipped),
	}, requestIDFrom(r))
}

func nonNilWarnings(warnings []payroll.RunWarning) []payroll.RunWarning {
	if warnings == nil {
		return []payroll.RunWarning{}
	}
	return warnings
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	requestID := requestIDFrom(r)
	page := shared.ParsePagination(r, 50, 200)

	filter := payroll.RunFilter{
		Entity: strings.TrimSpace(r.URL.Query().Get("entity")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := payroll.ParseRunStatus(raw)
		if err != nil {
			validationFailed(w, requestID, "status", "must be a known run status")
			return
		}
		filter.Status = status
	}

	runs, err := h.Service.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewOf(run, actor.Role))
	}
	api.Success(w, views, requestID)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	run, err := h.Service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.Success(w, viewOf(run, actor.Role), requestIDFrom(r))
}

func (h *Handler) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	payslips, err := h.Service.GetRunEmployees(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if payslips == nil {
		payslips = []payroll.PaySlip{}
	}
	api.Success(w, payslips, requestIDFrom(r))
}

func (h *Handler) handleGetPayslip(w http.ResponseWriter, r *http.Request) {
	slip, err := h.Service.GetPayslip(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "employeeID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.Success(w, slip, requestIDFrom(r))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := h.Service.GetRun(r.Context(), runID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	events := []audit.Event{}
	if h.Audit != nil {
		page := shared.ParsePagination(r, 100, 500)
		listed, err := h.Audit.List(r.Context(), audit.Filter{EntityType: audit.EntityPayrollRun, EntityID: runID}, true, page.Limit, page.Offset)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		events = listed
	}
	api.Success(w, events, requestIDFrom(r))
}

func (h *Handler) transitionHandler(action payroll.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := middleware.GetActor(r.Context())
		runID := chi.URLParam(r, "runID")

		var (
			run payroll.PayrollRun
			err error
		)
		switch action {
		case payroll.ActionPublish:
			run, err = h.Service.Publish(r.Context(), actor, runID)
		case payroll.ActionManagerApprove:
			run, err = h.Service.ManagerApprove(r.Context(), actor, runID)
		case payroll.ActionFinanceApprove:
			run, err = h.Service.FinanceApprove(r.Context(), actor, runID)
		case payroll.ActionLock:
			run, err = h.Service.Lock(r.Context(), actor, runID)
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.record(r, actor, "payroll.run."+string(action), runID, nil, snapshot(run))
		api.Success(w, viewOf(run, actor.Role), requestIDFrom(r))
	}
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	requestID := requestIDFrom(r)
	runID := chi.URLParam(r, "runID")

	var payload rejectPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	payload.Reason = strings.TrimSpace(payload.Reason)
	v := shared.NewValidator()
	v.Struct(payload)
	if v.Reject(w, requestID) {
		return
	}

	run, err := h.Service.Reject(r.Context(), actor, runID, payload.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, actor, "payroll.run.reject", runID, nil, snapshot(run))
	api.Success(w, viewOf(run, actor.Role), requestID)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	runID := chi.URLParam(r, "runID")
	employeeID := chi.URLParam(r, "employeeID")

	before, err := h.Service.GetPayslip(r.Context(), runID, employeeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	slip, run, err := h.Service.RecalculatePayslip(r.Context(), actor, runID, employeeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, actor, "payroll.payslip.recalculate", runID,
		map[string]string{"employeeId": employeeID, "netPay": before.NetPay.StringFixed(2)},
		map[string]string{"employeeId": employeeID, "netPay": slip.NetPay.StringFixed(2)},
	)
	api.Success(w, recalculateResponse{Payslip: slip, Run: viewOf(run, actor.Role)}, requestIDFrom(r))
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	runID := chi.URLParam(r, "runID")
	employeeID := chi.URLParam(r, "employeeID")

	run, err := h.Service.MarkPayslipPaid(r.Context(), runID, employeeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.record(r, actor, "payroll.payslip.paid", runID, nil, map[string]any{"employeeId": employeeID, "runStatus": run.Status})
	api.Success(w, viewOf(run, actor.Role), requestIDFrom(r))
}
