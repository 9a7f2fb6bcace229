package service

import (
	"context"
	"fmt"
	"time"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/repository"
)

// Actions accepted by Process.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionDelegate = "delegate"
	ActionSkip     = "skip"
)

// WorkflowService owns the entity approval workflow state machine:
// initiation, approve/reject/delegate/skip, completion, cancellation,
// escalation and bulk processing.
type WorkflowService struct {
	resolver    *MatrixResolver
	delegations *DelegationResolver
	deadlines   *DeadlineTracker

	matrixStore   MatrixStore
	workflowStore WorkflowStore
	stepStore     StepStore
	snapshots     client.SnapshotProvider
	authorizer    client.Authorizer
	notifier      Notifier

	now Clock
	log *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	resolver *MatrixResolver,
	delegations *DelegationResolver,
	deadlines *DeadlineTracker,
	matrixStore MatrixStore,
	workflowStore WorkflowStore,
	stepStore StepStore,
	snapshots client.SnapshotProvider,
	authorizer client.Authorizer,
	notifier Notifier,
	now Clock,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		resolver:      resolver,
		delegations:   delegations,
		deadlines:     deadlines,
		matrixStore:   matrixStore,
		workflowStore: workflowStore,
		stepStore:     stepStore,
		snapshots:     snapshots,
		authorizer:    authorizer,
		notifier:      notifier,
		now:           now,
		log:           log,
	}
}

// ── Initiation ────────────────────────────────────────────────────────────────

// InitiateRequest asks for an approval run over one business entity.
type InitiateRequest struct {
	Module      string            // e.g. store_orders
	EntityType  string            // matrix classification, e.g. regular, mass_order
	EntityKind  client.EntityKind // which domain object this is
	EntityID    string
	InitiatedBy string
}

// Initiate resolves the best-fit matrix and materialises a workflow with one
// step per (level, active approver). Returns (nil, nil) when no matrix
// matches — no approval is required and nothing is persisted.
func (s *WorkflowService) Initiate(ctx context.Context, req *InitiateRequest) (*repository.EntityApprovalWorkflow, error) {
	if !req.EntityKind.Valid() {
		return nil, apperrors.InvalidInput("entity_kind", "unknown entity kind: "+string(req.EntityKind))
	}

	existing, err := s.workflowStore.GetActiveForEntity(ctx, string(req.EntityKind), req.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("entity already has an active approval workflow")
	}

	snapshot, err := s.snapshots.Snapshot(ctx, req.EntityKind, req.EntityID)
	if err != nil {
		return nil, err
	}

	matrix, err := s.resolver.FindMatchingMatrix(ctx, req.Module, req.EntityType, snapshot)
	if err != nil {
		return nil, err
	}
	if matrix == nil {
		s.log.Info().
			Str("module", req.Module).
			Str("entity_type", req.EntityType).
			Str("entity_id", req.EntityID).
			Msg("No matching approval matrix; approval not required")
		return nil, nil
	}

	now := s.now()
	wf := &repository.EntityApprovalWorkflow{
		ApprovalMatrixID:      matrix.ID,
		EntityType:            string(req.EntityKind),
		EntityID:              req.EntityID,
		InitiatedByID:         req.InitiatedBy,
		TotalApprovalRequired: matrix.ApprovalLevels,
		CurrentApprovalLevel:  0,
		CurrentStatus:         repository.WorkflowStatusPending,
		InitiatedAt:           now,
	}

	steps := s.buildSteps(matrix, now)
	if missing := firstUncoveredLevel(steps, matrix.ApprovalLevels); missing > 0 {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"approval matrix %q has no eligible approver at level %d", matrix.Name, missing))
	}
	if err := s.workflowStore.Create(ctx, wf, steps); err != nil {
		return nil, err
	}

	// Level 1 becomes actionable immediately.
	if err := s.workflowStore.AdvanceLevel(ctx, wf.ID, 0); err != nil {
		return nil, err
	}
	wf.CurrentApprovalLevel = 1

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("matrix_id", matrix.ID).
		Str("entity_type", wf.EntityType).
		Str("entity_id", wf.EntityID).
		Int("total_levels", wf.TotalApprovalRequired).
		Msg("Approval workflow initiated")

	s.notifier.WorkflowInitiated(ctx, &client.WorkflowInitiatedEvent{
		WorkflowID:   wf.ID,
		EntityType:   wf.EntityType,
		EntityID:     wf.EntityID,
		InitiatedBy:  wf.InitiatedByID,
		TotalLevels:  wf.TotalApprovalRequired,
		CurrentLevel: wf.CurrentApprovalLevel,
		MatrixName:   matrix.Name,
	})

	return wf, nil
}

// buildSteps creates one step per (level, active approver slot). All levels
// are materialised eagerly; steps beyond the current level are simply not
// actionable until the level advances.
func (s *WorkflowService) buildSteps(matrix *repository.ApprovalMatrix, now time.Time) []*repository.ApprovalWorkflowStep {
	var steps []*repository.ApprovalWorkflowStep
	for _, approver := range matrix.Approvers {
		if !approverActive(approver, now) {
			continue
		}
		steps = append(steps, &repository.ApprovalWorkflowStep{
			ApprovalMatrixApproverID: approver.ID,
			ApprovalLevel:            approver.ApprovalLevel,
			ApproverUserID:           approver.UserID,
			Action:                   repository.StepActionPending,
			AssignedAt:               now,
			DeadlineAt:               s.deadlines.DeadlineFor(now, approver),
		})
	}
	return steps
}

// firstUncoveredLevel returns the lowest level in 1..levels that materialised
// no step, or 0 when every level is covered. A workflow with an empty level
// could never be approved or escalated past it.
func firstUncoveredLevel(steps []*repository.ApprovalWorkflowStep, levels int) int {
	covered := make(map[int]bool, levels)
	for _, step := range steps {
		covered[step.ApprovalLevel] = true
	}
	for level := 1; level <= levels; level++ {
		if !covered[level] {
			return level
		}
	}
	return 0
}

func approverActive(a *repository.ApprovalMatrixApprover, now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.EffectiveDate != nil && now.Before(*a.EffectiveDate) {
		return false
	}
	if a.ExpiryDate != nil && now.After(*a.ExpiryDate) {
		return false
	}
	return true
}

// ── Processing ────────────────────────────────────────────────────────────────

// ProcessRequest is one approval action by an explicit actor.
type ProcessRequest struct {
	WorkflowID string         `json:"workflow_id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"` // approve | reject | delegate | skip
	Reason     *string        `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	DelegateTo string         `json:"delegate_to,omitempty"` // required for delegate
}

// ProcessResult reports the outcome of a Process call. A rejected action is
// not an error: Accepted is false and Reason explains why, with enough
// context for the caller to present "not currently actionable".
type ProcessResult struct {
	Accepted           bool     `json:"accepted"`
	Reason             string   `json:"reason,omitempty"`
	WorkflowStatus     string   `json:"workflow_status"`
	RequiredLevel      int      `json:"required_level"`
	EffectiveApprovers []string `json:"effective_approvers,omitempty"`
	Completed          bool     `json:"completed"`
}

// Process applies one approval action. It fails closed: acting on an
// inactive or completed workflow, out of level order, or without holding the
// step yields Accepted=false and mutates nothing. Concurrency races surface
// as CONFLICT errors for the caller to retry.
func (s *WorkflowService) Process(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	wf, err := s.workflowStore.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if refused := s.refusal(wf); refused != nil {
		return refused, nil
	}

	pending, err := s.stepStore.PendingAtLevel(ctx, wf.ID, wf.CurrentApprovalLevel)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return s.refuse(wf, "no pending steps at the current level"), nil
	}

	step, err := s.actorStep(ctx, pending, req.ActorID)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionApprove:
		if step == nil {
			return s.refuseWithApprovers(ctx, wf, pending, "actor does not hold a pending step at the current level"), nil
		}
		return s.approve(ctx, wf, step, req)

	case ActionReject:
		if step == nil {
			return s.refuseWithApprovers(ctx, wf, pending, "actor does not hold a pending step at the current level"), nil
		}
		return s.reject(ctx, wf, step, req)

	case ActionDelegate:
		if step == nil {
			return s.refuseWithApprovers(ctx, wf, pending, "actor does not hold a pending step at the current level"), nil
		}
		return s.delegate(ctx, wf, step, req)

	case ActionSkip:
		return s.skip(ctx, wf, step, pending, req)

	default:
		return nil, apperrors.InvalidInput("action", "unknown action: "+req.Action)
	}
}

// refusal checks workflow-level preconditions; nil means actionable.
// Escalated workflows stay actionable at the advanced level.
func (s *WorkflowService) refusal(wf *repository.EntityApprovalWorkflow) *ProcessResult {
	if !wf.IsActive || wf.CompletedAt != nil {
		return s.refuse(wf, "workflow is no longer active")
	}
	if wf.CurrentStatus != repository.WorkflowStatusPending &&
		wf.CurrentStatus != repository.WorkflowStatusEscalated {
		return s.refuse(wf, fmt.Sprintf("workflow is not actionable in status %q", wf.CurrentStatus))
	}
	return nil
}

func (s *WorkflowService) refuse(wf *repository.EntityApprovalWorkflow, reason string) *ProcessResult {
	return &ProcessResult{
		Accepted:       false,
		Reason:         reason,
		WorkflowStatus: wf.CurrentStatus,
		RequiredLevel:  wf.CurrentApprovalLevel,
	}
}

func (s *WorkflowService) refuseWithApprovers(ctx context.Context, wf *repository.EntityApprovalWorkflow, pending []*repository.ApprovalWorkflowStep, reason string) *ProcessResult {
	res := s.refuse(wf, reason)
	for _, step := range pending {
		eff, err := s.delegations.EffectiveApprover(ctx, step)
		if err != nil {
			s.log.Warn().Err(err).
				Str("workflow_id", wf.ID).
				Str("step_id", step.ID).
				Msg("Could not resolve effective approver for refusal report")
			continue
		}
		res.EffectiveApprovers = append(res.EffectiveApprovers, eff)
	}
	return res
}

// actorStep finds the pending step the actor is entitled to act on, applying
// per-step and standing delegation. Returns (nil, nil) when none.
func (s *WorkflowService) actorStep(ctx context.Context, pending []*repository.ApprovalWorkflowStep, actorID string) (*repository.ApprovalWorkflowStep, error) {
	for _, step := range pending {
		effective, err := s.delegations.EffectiveApprover(ctx, step)
		if err != nil {
			return nil, err
		}
		if effective == actorID {
			return step, nil
		}
	}
	return nil, nil
}

// approve records the action and settles the level. TakeAction and
// settleLevel are separate statements: the step guard keeps at-most-one
// action per step and the AdvanceLevel guard blocks a double advance, so
// the loser of a parallel race keeps its recorded action and sees CONFLICT
// from the settle.
func (s *WorkflowService) approve(ctx context.Context, wf *repository.EntityApprovalWorkflow, step *repository.ApprovalWorkflowStep, req *ProcessRequest) (*ProcessResult, error) {
	now := s.now()
	if err := s.stepStore.TakeAction(ctx, step.ID, repository.StepActionApproved, req.Reason, req.Data, now); err != nil {
		return nil, err
	}

	matrix, err := s.matrixStore.GetByID(ctx, wf.ApprovalMatrixID)
	if err != nil {
		return nil, err
	}

	completed, err := s.settleLevel(ctx, wf, matrix)
	if err != nil {
		return nil, err
	}

	s.emitAction(ctx, wf, step, repository.StepActionApproved, req, completed)
	if completed {
		s.emitCompleted(ctx, wf.ID, repository.WorkflowStatusApproved, nil)
	}

	return &ProcessResult{
		Accepted:       true,
		WorkflowStatus: statusAfter(completed, repository.WorkflowStatusApproved, repository.WorkflowStatusPending),
		RequiredLevel:  wf.CurrentApprovalLevel,
		Completed:      completed,
	}, nil
}

// settleLevel advances or completes the workflow after a satisfying action at
// the current level. For a parallel level the first approval satisfies it and
// the remaining open steps are skipped; a sequential level waits for every
// approver.
func (s *WorkflowService) settleLevel(ctx context.Context, wf *repository.EntityApprovalWorkflow, matrix *repository.ApprovalMatrix) (completed bool, err error) {
	level := wf.CurrentApprovalLevel

	if matrix.ApprovalType == repository.ApprovalTypeParallel {
		if err := s.stepStore.SkipPendingAtLevel(ctx, wf.ID, level); err != nil {
			return false, err
		}
	} else {
		remaining, err := s.stepStore.PendingAtLevel(ctx, wf.ID, level)
		if err != nil {
			return false, err
		}
		if len(remaining) > 0 {
			// More approvers outstanding at this level.
			return false, nil
		}
	}

	if level >= wf.TotalApprovalRequired {
		if err := s.workflowStore.Complete(ctx, wf.ID, repository.WorkflowStatusApproved, nil, s.now()); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := s.workflowStore.AdvanceLevel(ctx, wf.ID, level); err != nil {
		return false, err
	}
	if wf.CurrentStatus == repository.WorkflowStatusEscalated {
		if err := s.workflowStore.ResumePending(ctx, wf.ID); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *WorkflowService) reject(ctx context.Context, wf *repository.EntityApprovalWorkflow, step *repository.ApprovalWorkflowStep, req *ProcessRequest) (*ProcessResult, error) {
	if req.Reason == nil || *req.Reason == "" {
		return nil, apperrors.InvalidInput("reason", "rejection reason is required")
	}

	now := s.now()
	if err := s.stepStore.TakeAction(ctx, step.ID, repository.StepActionRejected, req.Reason, req.Data, now); err != nil {
		return nil, err
	}
	if err := s.stepStore.SkipPending(ctx, wf.ID); err != nil {
		return nil, err
	}
	if err := s.workflowStore.Complete(ctx, wf.ID, repository.WorkflowStatusRejected, req.Reason, now); err != nil {
		return nil, err
	}

	s.emitAction(ctx, wf, step, repository.StepActionRejected, req, true)
	s.emitCompleted(ctx, wf.ID, repository.WorkflowStatusRejected, req.Reason)

	return &ProcessResult{
		Accepted:       true,
		WorkflowStatus: repository.WorkflowStatusRejected,
		RequiredLevel:  wf.CurrentApprovalLevel,
		Completed:      true,
	}, nil
}

func (s *WorkflowService) delegate(ctx context.Context, wf *repository.EntityApprovalWorkflow, step *repository.ApprovalWorkflowStep, req *ProcessRequest) (*ProcessResult, error) {
	if req.DelegateTo == "" {
		return nil, apperrors.InvalidInput("delegate_to", "delegate target is required")
	}

	matrix, err := s.matrixStore.GetByID(ctx, wf.ApprovalMatrixID)
	if err != nil {
		return nil, err
	}
	slot := findSlot(matrix, step.ApprovalMatrixApproverID)
	if slot == nil || !slot.CanDelegate {
		return s.refuse(wf, "approver slot does not allow delegation"), nil
	}

	if err := s.stepStore.SetDelegate(ctx, step.ID, req.DelegateTo, req.Reason, s.now()); err != nil {
		return nil, err
	}

	s.emitAction(ctx, wf, step, repository.StepActionDelegated, req, false)

	// The level does not advance; the delegate must approve or reject.
	return &ProcessResult{
		Accepted:       true,
		WorkflowStatus: wf.CurrentStatus,
		RequiredLevel:  wf.CurrentApprovalLevel,
	}, nil
}

// skip marks a step skipped without approval. It requires override authority;
// the target step is the actor's own when they hold one, otherwise the first
// open step at the current level.
func (s *WorkflowService) skip(ctx context.Context, wf *repository.EntityApprovalWorkflow, actorStep *repository.ApprovalWorkflowStep, pending []*repository.ApprovalWorkflowStep, req *ProcessRequest) (*ProcessResult, error) {
	allowed, err := s.authorizer.CanOverride(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return s.refuse(wf, "skip requires override authority"), nil
	}

	step := actorStep
	if step == nil {
		step = pending[0]
	}

	now := s.now()
	if err := s.stepStore.TakeAction(ctx, step.ID, repository.StepActionSkipped, req.Reason, req.Data, now); err != nil {
		return nil, err
	}

	matrix, err := s.matrixStore.GetByID(ctx, wf.ApprovalMatrixID)
	if err != nil {
		return nil, err
	}
	completed, err := s.settleLevel(ctx, wf, matrix)
	if err != nil {
		return nil, err
	}

	s.emitAction(ctx, wf, step, repository.StepActionSkipped, req, completed)
	if completed {
		s.emitCompleted(ctx, wf.ID, repository.WorkflowStatusApproved, nil)
	}

	return &ProcessResult{
		Accepted:       true,
		WorkflowStatus: statusAfter(completed, repository.WorkflowStatusApproved, wf.CurrentStatus),
		RequiredLevel:  wf.CurrentApprovalLevel,
		Completed:      completed,
	}, nil
}

// ── Cancellation & escalation ─────────────────────────────────────────────────

// Cancel closes an active workflow in any status, marking open steps
// inactive.
func (s *WorkflowService) Cancel(ctx context.Context, workflowID, actorID, reason string) error {
	wf, err := s.workflowStore.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if !wf.IsActive {
		return apperrors.Conflict("workflow is not active")
	}

	now := s.now()
	if err := s.stepStore.SkipPending(ctx, wf.ID); err != nil {
		return err
	}
	reasonPtr := &reason
	if err := s.workflowStore.Complete(ctx, wf.ID, repository.WorkflowStatusCancelled, reasonPtr, now); err != nil {
		return err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("cancelled_by", actorID).
		Msg("Approval workflow cancelled")

	s.emitCompleted(ctx, wf.ID, repository.WorkflowStatusCancelled, reasonPtr)
	return nil
}

// Escalate force-advances a stalled pending workflow past its overdue
// current level. Only pending (not already escalated) workflows with an
// overdue step at the current level, and a level to advance into, qualify.
func (s *WorkflowService) Escalate(ctx context.Context, workflowID, actorID, reason string) error {
	wf, err := s.workflowStore.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if !wf.IsActive || wf.CurrentStatus != repository.WorkflowStatusPending {
		return apperrors.Conflict("only pending workflows can be escalated")
	}
	if wf.EscalatedAt != nil {
		return apperrors.Conflict("workflow was already escalated")
	}
	if wf.CurrentApprovalLevel >= wf.TotalApprovalRequired {
		return apperrors.Conflict("no level to escalate into")
	}

	pending, err := s.stepStore.PendingAtLevel(ctx, wf.ID, wf.CurrentApprovalLevel)
	if err != nil {
		return err
	}
	overdue := false
	for _, step := range pending {
		if s.deadlines.IsOverdue(step) {
			overdue = true
			break
		}
	}
	if !overdue {
		return apperrors.Conflict("current level is not overdue")
	}

	// MarkEscalated advances the level, so capture it first; the bypassed
	// level is the one whose open steps leave the pending views for good.
	fromLevel := wf.CurrentApprovalLevel
	if err := s.workflowStore.MarkEscalated(ctx, wf.ID, reason, fromLevel, s.now()); err != nil {
		return err
	}
	if err := s.stepStore.SkipPendingAtLevel(ctx, wf.ID, fromLevel); err != nil {
		return err
	}

	s.log.Warn().
		Str("workflow_id", wf.ID).
		Int("from_level", fromLevel).
		Str("escalated_by", actorID).
		Str("reason", reason).
		Msg("Approval workflow escalated")

	return nil
}

// ── Bulk processing ───────────────────────────────────────────────────────────

// BulkResult reports counts for a bulk operation.
type BulkResult struct {
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Details   map[string]string `json:"details,omitempty"` // workflow id -> failure/skip reason
}

// BulkProcess applies one action to many workflows independently; one
// workflow's failure or refusal never blocks the others.
func (s *WorkflowService) BulkProcess(ctx context.Context, workflowIDs []string, action string, reason *string, actorID string) *BulkResult {
	result := &BulkResult{Details: make(map[string]string)}

	for _, id := range workflowIDs {
		result.Processed++

		res, err := s.Process(ctx, &ProcessRequest{
			WorkflowID: id,
			ActorID:    actorID,
			Action:     action,
			Reason:     reason,
		})
		switch {
		case err != nil:
			result.Failed++
			result.Details[id] = err.Error()
		case !res.Accepted:
			result.Failed++
			result.Details[id] = res.Reason
		default:
			result.Succeeded++
		}
	}

	s.log.Info().
		Str("action", action).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Bulk approval processing finished")

	return result
}

// ── Queries ───────────────────────────────────────────────────────────────────

// PendingForUser returns the steps currently awaiting action from a user,
// with delegation redirection applied.
func (s *WorkflowService) PendingForUser(ctx context.Context, userID string) ([]*repository.ApprovalWorkflowStep, error) {
	return s.stepStore.PendingForUser(ctx, userID, s.now())
}

// ListOverdue returns open workflows whose current level has an overdue step.
func (s *WorkflowService) ListOverdue(ctx context.Context) ([]*repository.EntityApprovalWorkflow, error) {
	return s.workflowStore.ListOverdue(ctx, s.now())
}

// WorkflowSteps returns the full step history of a workflow.
func (s *WorkflowService) WorkflowSteps(ctx context.Context, workflowID string) ([]*repository.ApprovalWorkflowStep, error) {
	return s.stepStore.GetByWorkflow(ctx, workflowID)
}

// ── Notifications ─────────────────────────────────────────────────────────────

func (s *WorkflowService) emitAction(ctx context.Context, wf *repository.EntityApprovalWorkflow, step *repository.ApprovalWorkflowStep, action string, req *ProcessRequest, completed bool) {
	evt := &client.ActionProcessedEvent{
		WorkflowID:        wf.ID,
		StepID:            step.ID,
		Action:            action,
		Reason:            req.Reason,
		ApprovalLevel:     step.ApprovalLevel,
		ApproverID:        step.ApproverUserID,
		DelegateID:        step.DelegatedToUserID,
		Deadline:          step.DeadlineAt,
		Overdue:           s.deadlines.IsOverdue(step),
		CompletedWorkflow: completed,
	}
	if action == repository.StepActionDelegated && req.DelegateTo != "" {
		evt.DelegateID = &req.DelegateTo
	}
	s.notifier.ActionProcessed(ctx, evt)
}

// emitCompleted re-reads the workflow and steps to assemble the completion
// summary. Failures only cost the notification, never the operation.
func (s *WorkflowService) emitCompleted(ctx context.Context, workflowID, finalStatus string, reason *string) {
	wf, err := s.workflowStore.GetByID(ctx, workflowID)
	if err != nil {
		s.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("Could not load workflow for completion event")
		return
	}
	steps, err := s.stepStore.GetByWorkflow(ctx, workflowID)
	if err != nil {
		s.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("Could not load steps for completion event")
		return
	}

	evt := &client.WorkflowCompletedEvent{
		WorkflowID:  workflowID,
		FinalStatus: finalStatus,
		Reason:      reason,
	}
	if wf.CompletedAt != nil {
		evt.DurationHours = wf.CompletedAt.Sub(wf.InitiatedAt).Hours()
	}
	for _, step := range steps {
		evt.Steps = append(evt.Steps, client.StepSummary{
			Level:         step.ApprovalLevel,
			Action:        step.Action,
			ApproverID:    step.ApproverUserID,
			DelegateID:    step.DelegatedToUserID,
			AssignedAt:    step.AssignedAt,
			ActionTakenAt: step.ActionTakenAt,
			Overdue:       step.DeadlineAt != nil && step.ActionTakenAt != nil && step.ActionTakenAt.After(*step.DeadlineAt),
		})
	}
	s.notifier.WorkflowCompleted(ctx, evt)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func findSlot(matrix *repository.ApprovalMatrix, slotID string) *repository.ApprovalMatrixApprover {
	for _, a := range matrix.Approvers {
		if a.ID == slotID {
			return a
		}
	}
	return nil
}

func statusAfter(completed bool, terminal, open string) string {
	if completed {
		return terminal
	}
	return open
}
