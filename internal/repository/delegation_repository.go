package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/database"
)

// DelegationRepository handles standing approver delegations.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

const delegationColumns = `
	id, approval_matrix_approver_id,
	delegate_from_user_id, delegate_to_user_id,
	start_date, end_date, is_active, reason,
	created_at, updated_at
`

// Create inserts a delegation record.
func (r *DelegationRepository) Create(ctx context.Context, d *ApprovalMatrixDelegation) error {
	query := `
		INSERT INTO approval_matrix_delegations
		    (approval_matrix_approver_id,
		     delegate_from_user_id, delegate_to_user_id,
		     start_date, end_date, is_active, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		d.ApprovalMatrixApproverID,
		d.DelegateFromUserID,
		d.DelegateToUserID,
		d.StartDate,
		d.EndDate,
		d.IsActive,
		d.Reason,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// ActiveForSlot returns the active in-range delegation for an approver slot,
// or nil when none exists.
func (r *DelegationRepository) ActiveForSlot(ctx context.Context, matrixApproverID string, now time.Time) (*ApprovalMatrixDelegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM approval_matrix_delegations
		WHERE approval_matrix_approver_id = $1
		  AND is_active = TRUE
		  AND start_date <= $2
		  AND end_date >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	d, err := r.scanDelegation(r.db.QueryRow(ctx, query, matrixApproverID, now))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ActiveTargets returns the slot ids whose work is currently redirected to
// userID. Feeds the pending-approvals view for a delegate.
func (r *DelegationRepository) ActiveTargets(ctx context.Context, userID string, now time.Time) ([]string, error) {
	query := `
		SELECT approval_matrix_approver_id
		FROM approval_matrix_delegations
		WHERE delegate_to_user_id = $1
		  AND is_active = TRUE
		  AND start_date <= $2
		  AND end_date >= $2
	`

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list delegation targets")
	}
	defer rows.Close()

	var slotIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan delegation target")
		}
		slotIDs = append(slotIDs, id)
	}
	return slotIDs, nil
}

// Deactivate ends a delegation early.
func (r *DelegationRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_matrix_delegations
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("delegation", id)
	}
	return err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type delegationScanner interface {
	Scan(dest ...any) error
}

func (r *DelegationRepository) scanDelegation(row delegationScanner) (*ApprovalMatrixDelegation, error) {
	d := &ApprovalMatrixDelegation{}
	err := row.Scan(
		&d.ID,
		&d.ApprovalMatrixApproverID,
		&d.DelegateFromUserID,
		&d.DelegateToUserID,
		&d.StartDate,
		&d.EndDate,
		&d.IsActive,
		&d.Reason,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
