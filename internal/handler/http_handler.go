package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/repository"
	"github.com/storeops/be-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	workflows   *service.WorkflowService
	matrices    *service.MatrixService
	delegations *repository.DelegationRepository
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(workflows *service.WorkflowService, matrices *service.MatrixService, delegations *repository.DelegationRepository, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflows:   workflows,
		matrices:    matrices,
		delegations: delegations,
		log:         log,
	}
}

// ── Workflow endpoints ────────────────────────────────────────────────────────

// InitiateWorkflow handles initiate workflow HTTP requests
func (h *HTTPHandler) InitiateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Module      string `json:"module"`
		EntityType  string `json:"entity_type"`
		EntityKind  string `json:"entity_kind"`
		EntityID    string `json:"entity_id"`
		InitiatedBy string `json:"initiated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := h.workflows.Initiate(r.Context(), &service.InitiateRequest{
		Module:      req.Module,
		EntityType:  req.EntityType,
		EntityKind:  client.EntityKind(req.EntityKind),
		EntityID:    req.EntityID,
		InitiatedBy: req.InitiatedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if wf == nil {
		writeJSON(w, http.StatusOK, map[string]any{"approval_required": false})
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// ProcessAction handles approval action HTTP requests. A refused action is
// not an error: it returns 422 with the full result so callers can show who
// is actually required to act.
func (h *HTTPHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.workflows.Process(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelWorkflow handles cancel workflow HTTP requests
func (h *HTTPHandler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		WorkflowID string `json:"workflow_id"`
		ActorID    string `json:"actor_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workflows.Cancel(r.Context(), req.WorkflowID, req.ActorID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// EscalateWorkflow handles escalate workflow HTTP requests
func (h *HTTPHandler) EscalateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		WorkflowID string `json:"workflow_id"`
		ActorID    string `json:"actor_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.workflows.Escalate(r.Context(), req.WorkflowID, req.ActorID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "escalated"})
}

// BulkProcess handles bulk approval HTTP requests
func (h *HTTPHandler) BulkProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		WorkflowIDs []string `json:"workflow_ids"`
		Action      string   `json:"action"`
		Reason      *string  `json:"reason,omitempty"`
		ActorID     string   `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.WorkflowIDs) == 0 {
		http.Error(w, "workflow_ids is required", http.StatusBadRequest)
		return
	}

	result := h.workflows.BulkProcess(r.Context(), req.WorkflowIDs, req.Action, req.Reason, req.ActorID)
	writeJSON(w, http.StatusOK, result)
}

// PendingApprovals handles pending approvals HTTP requests
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.workflows.PendingForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"steps": steps,
		"total": len(steps),
	})
}

// OverdueWorkflows handles overdue workflow HTTP requests
func (h *HTTPHandler) OverdueWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workflows, err := h.workflows.ListOverdue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"total":     len(workflows),
	})
}

// WorkflowSteps handles workflow step history HTTP requests
func (h *HTTPHandler) WorkflowSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workflowID := r.URL.Query().Get("id")
	if workflowID == "" {
		http.Error(w, "Workflow ID is required", http.StatusBadRequest)
		return
	}

	steps, err := h.workflows.WorkflowSteps(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// ── Matrix endpoints ──────────────────────────────────────────────────────────

// CreateMatrix handles create matrix HTTP requests
func (h *HTTPHandler) CreateMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m repository.ApprovalMatrix
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.matrices.Create(r.Context(), &m); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMatrix handles get matrix HTTP requests
func (h *HTTPHandler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Matrix ID is required", http.StatusBadRequest)
		return
	}

	m, err := h.matrices.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMatrices handles list matrices HTTP requests
func (h *HTTPHandler) ListMatrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	module := r.URL.Query().Get("module")
	activeOnly := r.URL.Query().Get("active") == "true"

	matrices, err := h.matrices.List(r.Context(), module, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matrices": matrices,
		"total":    len(matrices),
	})
}

// UpdateMatrix handles update matrix HTTP requests
func (h *HTTPHandler) UpdateMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m repository.ApprovalMatrix
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.matrices.Update(r.Context(), &m); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMatrix handles delete matrix HTTP requests
func (h *HTTPHandler) DeleteMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Matrix ID is required", http.StatusBadRequest)
		return
	}

	if err := h.matrices.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DuplicateMatrix handles duplicate matrix HTTP requests
func (h *HTTPHandler) DuplicateMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	dup, err := h.matrices.Duplicate(r.Context(), req.ID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// ToggleMatrix handles toggle matrix HTTP requests
func (h *HTTPHandler) ToggleMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	active, err := h.matrices.ToggleActive(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": active})
}

// MatrixStatistics handles matrix statistics HTTP requests
func (h *HTTPHandler) MatrixStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Matrix ID is required", http.StatusBadRequest)
		return
	}

	stats, err := h.matrices.Statistics(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── Delegation endpoints ──────────────────────────────────────────────────────

// CreateDelegation handles create standing delegation HTTP requests
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var d repository.ApprovalMatrixDelegation
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if d.ApprovalMatrixApproverID == "" || d.DelegateToUserID == "" {
		http.Error(w, "Approver slot ID and delegate user ID are required", http.StatusBadRequest)
		return
	}
	if !d.EndDate.After(d.StartDate) {
		http.Error(w, "End date must be after start date", http.StatusBadRequest)
		return
	}
	d.IsActive = true

	if err := h.delegations.Create(r.Context(), &d); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// DeactivateDelegation handles deactivate delegation HTTP requests
func (h *HTTPHandler) DeactivateDelegation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.delegations.Deactivate(r.Context(), req.ID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// DelegationTargets handles delegation target lookup HTTP requests. It
// returns the approver slots whose work is currently redirected to the user.
func (h *HTTPHandler) DelegationTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	sources, err := h.delegations.ActiveTargets(r.Context(), userID, time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegated_slots": sources})
}

// ── helpers ───────────────────────────────────────────────────────────────────

// writeError maps apperrors codes onto HTTP status codes.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.Code(err) {
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
