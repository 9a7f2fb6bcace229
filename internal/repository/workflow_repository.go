package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/database"
)

// WorkflowRepository manages workflow instances. Workflow + step creation is
// always done together in a single transaction, and every state transition
// is a conditional UPDATE so a lost concurrent race surfaces as a zero-row
// update (CONFLICT), never a silent double-apply.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `
	id, approval_matrix_id, entity_type, entity_id, initiated_by_id,
	total_approval_required, current_approval_level, current_status,
	initiated_at, completed_at, escalated_at,
	rejection_reason, escalation_reason, cancellation_reason,
	is_active, created_at, updated_at
`

// Create inserts a workflow and its initial steps in one transaction.
// The unique partial index on (entity_type, entity_id) WHERE is_active
// rejects a second active workflow for the same entity.
func (r *WorkflowRepository) Create(ctx context.Context, wf *EntityApprovalWorkflow, steps []*ApprovalWorkflowStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wfQuery := `
			INSERT INTO entity_approval_workflows
			    (approval_matrix_id, entity_type, entity_id, initiated_by_id,
			     total_approval_required, current_approval_level, current_status,
			     initiated_at, is_active)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7::workflow_status,
			        $8, TRUE)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, wfQuery,
			wf.ApprovalMatrixID,
			wf.EntityType,
			wf.EntityID,
			wf.InitiatedByID,
			wf.TotalApprovalRequired,
			wf.CurrentApprovalLevel,
			wf.CurrentStatus,
			wf.InitiatedAt,
		).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval workflow")
		}
		wf.IsActive = true

		stepQuery := `
			INSERT INTO approval_workflow_steps
			    (entity_approval_workflow_id, approval_matrix_approver_id,
			     approval_level, approver_user_id,
			     action, assigned_at, deadline_at, is_active)
			VALUES ($1, $2, $3, $4, $5::step_action, $6, $7, TRUE)
			RETURNING id, created_at, updated_at
		`

		for _, step := range steps {
			step.EntityApprovalWorkflowID = wf.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.EntityApprovalWorkflowID,
				step.ApprovalMatrixApproverID,
				step.ApprovalLevel,
				step.ApproverUserID,
				step.Action,
				step.AssignedAt,
				step.DeadlineAt,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create workflow step")
			}
			step.IsActive = true
		}
		return nil
	})
}

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*EntityApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM entity_approval_workflows WHERE id = $1`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	return wf, err
}

// GetActiveForEntity returns the active workflow bound to an entity, or nil.
func (r *WorkflowRepository) GetActiveForEntity(ctx context.Context, entityType, entityID string) (*EntityApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM entity_approval_workflows
		WHERE entity_type = $1
		  AND entity_id = $2
		  AND is_active = TRUE
		ORDER BY initiated_at DESC
		LIMIT 1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// AdvanceLevel moves the workflow from fromLevel to fromLevel+1. The guard on
// current_approval_level makes a concurrent double-advance impossible: the
// loser matches zero rows and gets a CONFLICT.
func (r *WorkflowRepository) AdvanceLevel(ctx context.Context, id string, fromLevel int) error {
	query := `
		UPDATE entity_approval_workflows
		SET current_approval_level = current_approval_level + 1,
		    updated_at             = NOW()
		WHERE id = $1
		  AND current_approval_level = $2
		  AND current_status IN ('pending', 'escalated')
		  AND is_active = TRUE
		RETURNING current_approval_level
	`

	var level int
	err := r.db.QueryRow(ctx, query, id, fromLevel).Scan(&level)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("workflow level already advanced or workflow not open")
	}
	return err
}

// Complete moves the workflow to a terminal status, stamping completed_at
// exactly once and clearing is_active. The reason lands in the status's own
// reason column.
func (r *WorkflowRepository) Complete(ctx context.Context, id, status string, reason *string, now time.Time) error {
	query := `
		UPDATE entity_approval_workflows
		SET current_status      = $2::workflow_status,
		    completed_at        = $3,
		    rejection_reason    = CASE WHEN $2 = 'rejected'  THEN $4 ELSE rejection_reason END,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
		    is_active           = FALSE,
		    updated_at          = NOW()
		WHERE id = $1
		  AND is_active = TRUE
		  AND completed_at IS NULL
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, now, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("workflow already completed or not active")
	}
	return err
}

// MarkEscalated records an escalation and advances past the stalled level in
// one guarded update.
func (r *WorkflowRepository) MarkEscalated(ctx context.Context, id, reason string, fromLevel int, now time.Time) error {
	query := `
		UPDATE entity_approval_workflows
		SET current_status         = 'escalated'::workflow_status,
		    escalated_at           = $3,
		    escalation_reason      = $4,
		    current_approval_level = current_approval_level + 1,
		    updated_at             = NOW()
		WHERE id = $1
		  AND current_approval_level = $2
		  AND current_status = 'pending'
		  AND is_active = TRUE
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, fromLevel, now, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("workflow is not pending at the expected level")
	}
	return err
}

// ResumePending returns an escalated workflow to pending once action resumes
// at the advanced level.
func (r *WorkflowRepository) ResumePending(ctx context.Context, id string) error {
	query := `
		UPDATE entity_approval_workflows
		SET current_status = 'pending'::workflow_status,
		    updated_at     = NOW()
		WHERE id = $1
		  AND current_status = 'escalated'
		  AND is_active = TRUE
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("workflow is not escalated")
	}
	return err
}

// ListOverdue returns open workflows that have at least one open active
// step at the current level whose deadline has passed. Delegated steps
// count: a stalled delegate keeps the workflow overdue.
func (r *WorkflowRepository) ListOverdue(ctx context.Context, now time.Time) ([]*EntityApprovalWorkflow, error) {
	query := `
		SELECT DISTINCT ` + prefixedWorkflowColumns("w") + `
		FROM entity_approval_workflows w
		JOIN approval_workflow_steps s ON s.entity_approval_workflow_id = w.id
		WHERE w.is_active = TRUE
		  AND w.current_status = 'pending'
		  AND s.approval_level = w.current_approval_level
		  AND s.action IN ('pending', 'delegated')
		  AND s.is_active = TRUE
		  AND s.deadline_at IS NOT NULL
		  AND s.deadline_at < $1
		ORDER BY w.initiated_at ASC
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list overdue workflows")
	}
	defer rows.Close()

	var workflows []*EntityApprovalWorkflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// prefixedWorkflowColumns qualifies the column list with a table alias.
func prefixedWorkflowColumns(alias string) string {
	return alias + `.id, ` + alias + `.approval_matrix_id, ` + alias + `.entity_type, ` + alias + `.entity_id, ` +
		alias + `.initiated_by_id, ` + alias + `.total_approval_required, ` + alias + `.current_approval_level, ` +
		alias + `.current_status, ` + alias + `.initiated_at, ` + alias + `.completed_at, ` + alias + `.escalated_at, ` +
		alias + `.rejection_reason, ` + alias + `.escalation_reason, ` + alias + `.cancellation_reason, ` +
		alias + `.is_active, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// ── scan helper ──────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*EntityApprovalWorkflow, error) {
	wf := &EntityApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.ApprovalMatrixID,
		&wf.EntityType,
		&wf.EntityID,
		&wf.InitiatedByID,
		&wf.TotalApprovalRequired,
		&wf.CurrentApprovalLevel,
		&wf.CurrentStatus,
		&wf.InitiatedAt,
		&wf.CompletedAt,
		&wf.EscalatedAt,
		&wf.RejectionReason,
		&wf.EscalationReason,
		&wf.CancellationReason,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// marshalActionData is shared with the steps repository.
func marshalActionData(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal action data")
	}
	return out, nil
}
