package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/database"
)

// StepRepository handles reads and updates on individual workflow steps.
// Step creation is handled by WorkflowRepository.Create (transactionally).
// Action-taking updates carry an `action = 'pending'` predicate so at most
// one action is ever recorded per step.
type StepRepository struct {
	db *database.DB
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db *database.DB) *StepRepository {
	return &StepRepository{db: db}
}

const stepColumns = `
	id, entity_approval_workflow_id, approval_matrix_approver_id,
	approval_level, approver_user_id, delegated_to_user_id,
	action, action_reason, action_data,
	assigned_at, action_taken_at, deadline_at, is_active,
	created_at, updated_at
`

// GetByWorkflow returns all steps of a workflow ordered by level.
func (r *StepRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*ApprovalWorkflowStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_workflow_steps
		WHERE entity_approval_workflow_id = $1
		ORDER BY approval_level ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get workflow steps")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// PendingAtLevel returns the still-pending active steps at one level.
func (r *StepRepository) PendingAtLevel(ctx context.Context, workflowID string, level int) ([]*ApprovalWorkflowStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_workflow_steps
		WHERE entity_approval_workflow_id = $1
		  AND approval_level = $2
		  AND action IN ('pending', 'delegated')
		  AND is_active = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID, level)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get pending steps")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// TakeAction records the outcome of an approval action on a step. The status
// guard means a second concurrent action on the same step matches zero rows.
// Delegated steps remain actionable by the delegate.
func (r *StepRepository) TakeAction(ctx context.Context, id, action string, reason *string, data map[string]any, now time.Time) error {
	dataJSON, err := marshalActionData(data)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_workflow_steps
		SET action          = $2::step_action,
		    action_reason   = $3,
		    action_data     = $4,
		    action_taken_at = $5,
		    updated_at      = NOW()
		WHERE id = $1
		  AND action IN ('pending', 'delegated')
		  AND is_active = TRUE
		RETURNING id
	`

	var returnedID string
	err = r.db.QueryRow(ctx, query, id, action, reason, dataJSON, now).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("step already acted on or inactive")
	}
	return err
}

// SetDelegate records an explicit per-step delegation. The step stays open:
// the delegate must subsequently approve or reject it.
func (r *StepRepository) SetDelegate(ctx context.Context, id, delegateUserID string, reason *string, now time.Time) error {
	query := `
		UPDATE approval_workflow_steps
		SET action               = 'delegated'::step_action,
		    delegated_to_user_id = $2,
		    action_reason        = $3,
		    action_taken_at      = $4,
		    updated_at           = NOW()
		WHERE id = $1
		  AND action = 'pending'
		  AND is_active = TRUE
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, delegateUserID, reason, now).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("step not pending or inactive")
	}
	return err
}

// SkipPending marks all still-open steps of a workflow skipped and inactive.
// Used on rejection and cancellation.
func (r *StepRepository) SkipPending(ctx context.Context, workflowID string) error {
	query := `
		UPDATE approval_workflow_steps
		SET action     = 'skipped'::step_action,
		    is_active  = FALSE,
		    updated_at = NOW()
		WHERE entity_approval_workflow_id = $1
		  AND action IN ('pending', 'delegated')
	`

	_, err := r.db.Exec(ctx, query, workflowID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to skip pending steps")
	}
	return nil
}

// SkipPendingAtLevel marks the remaining open steps at one level skipped.
// Used when a parallel level is satisfied by its first approval.
func (r *StepRepository) SkipPendingAtLevel(ctx context.Context, workflowID string, level int) error {
	query := `
		UPDATE approval_workflow_steps
		SET action     = 'skipped'::step_action,
		    is_active  = FALSE,
		    updated_at = NOW()
		WHERE entity_approval_workflow_id = $1
		  AND approval_level = $2
		  AND action IN ('pending', 'delegated')
	`

	_, err := r.db.Exec(ctx, query, workflowID, level)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to skip level steps")
	}
	return nil
}

// PendingForUser returns open steps at the current level of open workflows
// where the user is the effective approver: directly assigned with no
// redirection away, explicitly delegated to, or the target of a standing
// slot delegation. A redirected original approver does not see the step.
func (r *StepRepository) PendingForUser(ctx context.Context, userID string, now time.Time) ([]*ApprovalWorkflowStep, error) {
	query := `
		SELECT ` + prefixedStepColumns("s") + `
		FROM approval_workflow_steps s
		JOIN entity_approval_workflows w ON w.id = s.entity_approval_workflow_id
		LEFT JOIN approval_matrix_delegations d
		       ON d.approval_matrix_approver_id = s.approval_matrix_approver_id
		      AND d.is_active = TRUE
		      AND d.start_date <= $2
		      AND d.end_date >= $2
		WHERE w.is_active = TRUE
		  AND w.current_status IN ('pending', 'escalated')
		  AND s.approval_level = w.current_approval_level
		  AND s.action IN ('pending', 'delegated')
		  AND s.is_active = TRUE
		  AND (
		        s.delegated_to_user_id = $1
		     OR (s.delegated_to_user_id IS NULL AND d.delegate_to_user_id = $1)
		     OR (s.delegated_to_user_id IS NULL AND d.id IS NULL AND s.approver_user_id = $1)
		  )
		ORDER BY s.deadline_at ASC NULLS LAST, s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func prefixedStepColumns(alias string) string {
	return alias + `.id, ` + alias + `.entity_approval_workflow_id, ` + alias + `.approval_matrix_approver_id, ` +
		alias + `.approval_level, ` + alias + `.approver_user_id, ` + alias + `.delegated_to_user_id, ` +
		alias + `.action, ` + alias + `.action_reason, ` + alias + `.action_data, ` +
		alias + `.assigned_at, ` + alias + `.action_taken_at, ` + alias + `.deadline_at, ` + alias + `.is_active, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func (r *StepRepository) scanStep(row stepScanner) (*ApprovalWorkflowStep, error) {
	s := &ApprovalWorkflowStep{}
	var dataJSON []byte
	err := row.Scan(
		&s.ID,
		&s.EntityApprovalWorkflowID,
		&s.ApprovalMatrixApproverID,
		&s.ApprovalLevel,
		&s.ApproverUserID,
		&s.DelegatedToUserID,
		&s.Action,
		&s.ActionReason,
		&dataJSON,
		&s.AssignedAt,
		&s.ActionTakenAt,
		&s.DeadlineAt,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &s.ActionData); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal action data")
		}
	}
	return s, nil
}

func (r *StepRepository) scanRows(rows pgx.Rows) ([]*ApprovalWorkflowStep, error) {
	var steps []*ApprovalWorkflowStep
	for rows.Next() {
		s, err := r.scanStep(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan workflow step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}
