package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/database"
	"github.com/storeops/be-approvals/internal/rules"
)

// MatrixRepository handles approval matrices together with their rules and
// approver slots. Matrix + children are always written in one transaction.
type MatrixRepository struct {
	db *database.DB
}

// NewMatrixRepository creates a new MatrixRepository.
func NewMatrixRepository(db *database.DB) *MatrixRepository {
	return &MatrixRepository{db: db}
}

const matrixColumns = `
	id, module_name, entity_type, name, description,
	approval_levels, approval_type,
	basis_column, basis_operator, basis_value,
	minimum_amount, maximum_amount,
	is_active, effective_date, expiry_date, priority,
	created_at, updated_at, deleted_at
`

// Create inserts a matrix with its rules and approvers in one transaction.
func (r *MatrixRepository) Create(ctx context.Context, m *ApprovalMatrix) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		basisJSON, err := json.Marshal(m.BasisValue)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal basis value")
		}

		query := `
			INSERT INTO approval_matrices
			    (module_name, entity_type, name, description,
			     approval_levels, approval_type,
			     basis_column, basis_operator, basis_value,
			     minimum_amount, maximum_amount,
			     is_active, effective_date, expiry_date, priority)
			VALUES ($1, $2, $3, $4,
			        $5, $6::approval_type,
			        $7, $8, $9,
			        $10, $11,
			        $12, $13, $14, $15)
			RETURNING id, created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			m.ModuleName,
			m.EntityType,
			m.Name,
			m.Description,
			m.ApprovalLevels,
			m.ApprovalType,
			m.BasisColumn,
			string(m.BasisOperator),
			basisJSON,
			m.MinimumAmount,
			m.MaximumAmount,
			m.IsActive,
			m.EffectiveDate,
			m.ExpiryDate,
			m.Priority,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval matrix")
		}

		if err := r.insertRules(ctx, tx, m.ID, m.Rules); err != nil {
			return err
		}
		return r.insertApprovers(ctx, tx, m.ID, m.Approvers)
	})
}

func (r *MatrixRepository) insertRules(ctx context.Context, tx pgx.Tx, matrixID string, ruleRows []*ApprovalMatrixRule) error {
	query := `
		INSERT INTO approval_matrix_rules
		    (approval_matrix_id, condition_group, condition_logic,
		     condition_column, condition_operator, condition_value, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	for _, rule := range ruleRows {
		rule.ApprovalMatrixID = matrixID
		condJSON, err := json.Marshal(rule.ConditionValue)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal condition value")
		}
		err = tx.QueryRow(ctx, query,
			rule.ApprovalMatrixID,
			rule.ConditionGroup,
			rule.ConditionLogic,
			rule.ConditionColumn,
			string(rule.ConditionOperator),
			condJSON,
			rule.IsActive,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create matrix rule")
		}
	}
	return nil
}

func (r *MatrixRepository) insertApprovers(ctx context.Context, tx pgx.Tx, matrixID string, approvers []*ApprovalMatrixApprover) error {
	query := `
		INSERT INTO approval_matrix_approvers
		    (approval_matrix_id, user_id, approval_level,
		     is_primary, is_backup, can_delegate,
		     approval_limit_amount, approval_limit_percentage,
		     approval_deadline_hours, business_hours_only,
		     is_active, effective_date, expiry_date)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8,
		        $9, $10,
		        $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	for _, a := range approvers {
		a.ApprovalMatrixID = matrixID
		err := tx.QueryRow(ctx, query,
			a.ApprovalMatrixID,
			a.UserID,
			a.ApprovalLevel,
			a.IsPrimary,
			a.IsBackup,
			a.CanDelegate,
			a.ApprovalLimitAmount,
			a.ApprovalLimitPercentage,
			a.ApprovalDeadlineHours,
			a.BusinessHoursOnly,
			a.IsActive,
			a.EffectiveDate,
			a.ExpiryDate,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create matrix approver")
		}
	}
	return nil
}

// GetByID retrieves a matrix with its rules and approvers loaded.
func (r *MatrixRepository) GetByID(ctx context.Context, id string) (*ApprovalMatrix, error) {
	query := `SELECT ` + matrixColumns + ` FROM approval_matrices WHERE id = $1 AND deleted_at IS NULL`

	m, err := r.scanMatrix(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_matrix", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns matrices for a module (all modules when module is empty),
// optionally active only. Children are not loaded.
func (r *MatrixRepository) List(ctx context.Context, module string, activeOnly bool) ([]*ApprovalMatrix, error) {
	query := `SELECT ` + matrixColumns + ` FROM approval_matrices WHERE deleted_at IS NULL`
	args := []any{}
	if module != "" {
		query += ` AND module_name = $1`
		args = append(args, module)
	}
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY priority DESC, created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval matrices")
	}
	defer rows.Close()

	return r.scanMatrixRows(rows)
}

// ListCandidates returns active matrices for a (module, entity type) pair
// whose effective window contains now, highest priority first (most recent
// first within equal priority), with rules and approvers loaded.
// Configuration is re-read on every resolution so administrative edits take
// effect immediately.
func (r *MatrixRepository) ListCandidates(ctx context.Context, module, entityType string, now time.Time) ([]*ApprovalMatrix, error) {
	query := `
		SELECT ` + matrixColumns + `
		FROM approval_matrices
		WHERE deleted_at IS NULL
		  AND module_name = $1
		  AND entity_type = $2
		  AND is_active = TRUE
		  AND (effective_date IS NULL OR effective_date <= $3)
		  AND (expiry_date IS NULL OR expiry_date >= $3)
		ORDER BY priority DESC, created_at DESC
	`

	rows, err := r.db.Query(ctx, query, module, entityType, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list candidate matrices")
	}
	defer rows.Close()

	matrices, err := r.scanMatrixRows(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range matrices {
		if err := r.loadChildren(ctx, m); err != nil {
			return nil, err
		}
	}
	return matrices, nil
}

// Update rewrites a matrix and replaces its rules and approvers.
func (r *MatrixRepository) Update(ctx context.Context, m *ApprovalMatrix) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		basisJSON, err := json.Marshal(m.BasisValue)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal basis value")
		}

		query := `
			UPDATE approval_matrices
			SET module_name     = $2,
			    entity_type     = $3,
			    name            = $4,
			    description     = $5,
			    approval_levels = $6,
			    approval_type   = $7::approval_type,
			    basis_column    = $8,
			    basis_operator  = $9,
			    basis_value     = $10,
			    minimum_amount  = $11,
			    maximum_amount  = $12,
			    is_active       = $13,
			    effective_date  = $14,
			    expiry_date     = $15,
			    priority        = $16,
			    updated_at      = NOW()
			WHERE id = $1 AND deleted_at IS NULL
			RETURNING updated_at
		`

		err = tx.QueryRow(ctx, query,
			m.ID,
			m.ModuleName,
			m.EntityType,
			m.Name,
			m.Description,
			m.ApprovalLevels,
			m.ApprovalType,
			m.BasisColumn,
			string(m.BasisOperator),
			basisJSON,
			m.MinimumAmount,
			m.MaximumAmount,
			m.IsActive,
			m.EffectiveDate,
			m.ExpiryDate,
			m.Priority,
		).Scan(&m.UpdatedAt)
		if err == pgx.ErrNoRows {
			return apperrors.NotFound("approval_matrix", m.ID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update approval matrix")
		}

		// Replace children wholesale; workflow steps keep their own frozen copies.
		if _, err := tx.Exec(ctx, `DELETE FROM approval_matrix_rules WHERE approval_matrix_id = $1`, m.ID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear matrix rules")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM approval_matrix_approvers WHERE approval_matrix_id = $1`, m.ID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear matrix approvers")
		}
		if err := r.insertRules(ctx, tx, m.ID, m.Rules); err != nil {
			return err
		}
		return r.insertApprovers(ctx, tx, m.ID, m.Approvers)
	})
}

// ToggleActive flips the is_active flag and returns the new value.
func (r *MatrixRepository) ToggleActive(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE approval_matrices
		SET is_active  = NOT is_active,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING is_active
	`

	var active bool
	err := r.db.QueryRow(ctx, query, id).Scan(&active)
	if err == pgx.ErrNoRows {
		return false, apperrors.NotFound("approval_matrix", id)
	}
	return active, err
}

// ActiveWorkflowCount counts non-completed workflows referencing a matrix.
func (r *MatrixRepository) ActiveWorkflowCount(ctx context.Context, id string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM entity_approval_workflows
		WHERE approval_matrix_id = $1 AND is_active = TRUE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count workflows for matrix")
	}
	return count, nil
}

// SoftDelete marks a matrix deleted and deactivates it. Callers must first
// verify there are no active workflows referencing it.
func (r *MatrixRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE approval_matrices
		SET deleted_at = NOW(),
		    is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_matrix", id)
	}
	return err
}

// Statistics aggregates workflow outcomes for a matrix.
func (r *MatrixRepository) Statistics(ctx context.Context, id string) (*MatrixStatistics, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE current_status = 'pending'),
		       COUNT(*) FILTER (WHERE current_status = 'approved'),
		       COUNT(*) FILTER (WHERE current_status = 'rejected'),
		       COUNT(*) FILTER (WHERE current_status = 'cancelled'),
		       COUNT(*) FILTER (WHERE current_status = 'escalated'),
		       AVG(EXTRACT(EPOCH FROM (completed_at - initiated_at)) / 3600.0)
		FROM entity_approval_workflows
		WHERE approval_matrix_id = $1
	`

	stats := &MatrixStatistics{MatrixID: id}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&stats.TotalWorkflows,
		&stats.PendingWorkflows,
		&stats.ApprovedWorkflows,
		&stats.RejectedWorkflows,
		&stats.CancelledWorkflows,
		&stats.EscalatedWorkflows,
		&stats.AvgCompletionHours,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to compute matrix statistics")
	}
	return stats, nil
}

// ── children loading ─────────────────────────────────────────────────────────

func (r *MatrixRepository) loadChildren(ctx context.Context, m *ApprovalMatrix) error {
	ruleQuery := `
		SELECT id, approval_matrix_id, condition_group, condition_logic,
		       condition_column, condition_operator, condition_value, is_active,
		       created_at, updated_at
		FROM approval_matrix_rules
		WHERE approval_matrix_id = $1
		ORDER BY condition_group ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, ruleQuery, m.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load matrix rules")
	}
	defer rows.Close()

	m.Rules = nil
	for rows.Next() {
		rule := &ApprovalMatrixRule{}
		var op string
		var condJSON []byte
		err := rows.Scan(
			&rule.ID,
			&rule.ApprovalMatrixID,
			&rule.ConditionGroup,
			&rule.ConditionLogic,
			&rule.ConditionColumn,
			&op,
			&condJSON,
			&rule.IsActive,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan matrix rule")
		}
		rule.ConditionOperator = rules.Operator(op)
		if err := json.Unmarshal(condJSON, &rule.ConditionValue); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal condition value")
		}
		m.Rules = append(m.Rules, rule)
	}

	approverQuery := `
		SELECT id, approval_matrix_id, user_id, approval_level,
		       is_primary, is_backup, can_delegate,
		       approval_limit_amount, approval_limit_percentage,
		       approval_deadline_hours, business_hours_only,
		       is_active, effective_date, expiry_date,
		       created_at, updated_at
		FROM approval_matrix_approvers
		WHERE approval_matrix_id = $1
		ORDER BY approval_level ASC, is_primary DESC, created_at ASC
	`

	arows, err := r.db.Query(ctx, approverQuery, m.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load matrix approvers")
	}
	defer arows.Close()

	m.Approvers = nil
	for arows.Next() {
		a := &ApprovalMatrixApprover{}
		err := arows.Scan(
			&a.ID,
			&a.ApprovalMatrixID,
			&a.UserID,
			&a.ApprovalLevel,
			&a.IsPrimary,
			&a.IsBackup,
			&a.CanDelegate,
			&a.ApprovalLimitAmount,
			&a.ApprovalLimitPercentage,
			&a.ApprovalDeadlineHours,
			&a.BusinessHoursOnly,
			&a.IsActive,
			&a.EffectiveDate,
			&a.ExpiryDate,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan matrix approver")
		}
		m.Approvers = append(m.Approvers, a)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type matrixScanner interface {
	Scan(dest ...any) error
}

func (r *MatrixRepository) scanMatrix(row matrixScanner) (*ApprovalMatrix, error) {
	m := &ApprovalMatrix{}
	var op string
	var basisJSON []byte

	err := row.Scan(
		&m.ID,
		&m.ModuleName,
		&m.EntityType,
		&m.Name,
		&m.Description,
		&m.ApprovalLevels,
		&m.ApprovalType,
		&m.BasisColumn,
		&op,
		&basisJSON,
		&m.MinimumAmount,
		&m.MaximumAmount,
		&m.IsActive,
		&m.EffectiveDate,
		&m.ExpiryDate,
		&m.Priority,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	m.BasisOperator = rules.Operator(op)
	if err := json.Unmarshal(basisJSON, &m.BasisValue); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal basis value")
	}
	return m, nil
}

func (r *MatrixRepository) scanMatrixRows(rows pgx.Rows) ([]*ApprovalMatrix, error) {
	var matrices []*ApprovalMatrix
	for rows.Next() {
		m, err := r.scanMatrix(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval matrix")
		}
		matrices = append(matrices, m)
	}
	return matrices, nil
}
