package service

import (
	"context"
	"fmt"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/repository"
	"github.com/storeops/be-approvals/internal/rules"
)

// MatrixService is the administrative surface over approval matrices.
// All configuration validation happens here, at save time — the resolver and
// evaluator assume well-formed matrices.
type MatrixService struct {
	matrixStore MatrixStore
	log         *logger.Logger
}

// NewMatrixService creates a new MatrixService.
func NewMatrixService(matrixStore MatrixStore, log *logger.Logger) *MatrixService {
	return &MatrixService{matrixStore: matrixStore, log: log}
}

// Create validates and persists a new matrix with its rules and approvers.
func (s *MatrixService) Create(ctx context.Context, m *repository.ApprovalMatrix) error {
	if err := s.validate(m); err != nil {
		return err
	}
	if err := s.matrixStore.Create(ctx, m); err != nil {
		return err
	}

	s.log.Info().
		Str("matrix_id", m.ID).
		Str("module", m.ModuleName).
		Str("entity_type", m.EntityType).
		Int("levels", m.ApprovalLevels).
		Msg("Approval matrix created")
	return nil
}

// Update validates and rewrites an existing matrix.
func (s *MatrixService) Update(ctx context.Context, m *repository.ApprovalMatrix) error {
	if m.ID == "" {
		return apperrors.InvalidInput("id", "matrix id is required")
	}
	if err := s.validate(m); err != nil {
		return err
	}
	return s.matrixStore.Update(ctx, m)
}

// Get returns a matrix with rules and approvers.
func (s *MatrixService) Get(ctx context.Context, id string) (*repository.ApprovalMatrix, error) {
	return s.matrixStore.GetByID(ctx, id)
}

// List returns matrices, optionally filtered by module and active state.
func (s *MatrixService) List(ctx context.Context, module string, activeOnly bool) ([]*repository.ApprovalMatrix, error) {
	return s.matrixStore.List(ctx, module, activeOnly)
}

// ToggleActive flips a matrix's active flag and returns the new value.
func (s *MatrixService) ToggleActive(ctx context.Context, id string) (bool, error) {
	active, err := s.matrixStore.ToggleActive(ctx, id)
	if err != nil {
		return false, err
	}
	s.log.Info().Str("matrix_id", id).Bool("is_active", active).Msg("Approval matrix toggled")
	return active, nil
}

// Delete soft-deletes a matrix. Deletion is rejected while active workflows
// still reference it.
func (s *MatrixService) Delete(ctx context.Context, id string) error {
	count, err := s.matrixStore.ActiveWorkflowCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.Conflict(fmt.Sprintf("matrix has %d active workflows and cannot be deleted", count))
	}
	return s.matrixStore.SoftDelete(ctx, id)
}

// Duplicate copies a matrix (rules and approvers included) under a new name,
// created inactive so an administrator can adjust it before enabling.
func (s *MatrixService) Duplicate(ctx context.Context, id, newName string) (*repository.ApprovalMatrix, error) {
	if newName == "" {
		return nil, apperrors.InvalidInput("name", "a name for the copy is required")
	}

	src, err := s.matrixStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	dup := &repository.ApprovalMatrix{
		ModuleName:     src.ModuleName,
		EntityType:     src.EntityType,
		Name:           newName,
		Description:    src.Description,
		ApprovalLevels: src.ApprovalLevels,
		ApprovalType:   src.ApprovalType,
		BasisColumn:    src.BasisColumn,
		BasisOperator:  src.BasisOperator,
		BasisValue:     src.BasisValue,
		MinimumAmount:  src.MinimumAmount,
		MaximumAmount:  src.MaximumAmount,
		IsActive:       false,
		EffectiveDate:  src.EffectiveDate,
		ExpiryDate:     src.ExpiryDate,
		Priority:       src.Priority,
	}
	for _, rule := range src.Rules {
		dup.Rules = append(dup.Rules, &repository.ApprovalMatrixRule{
			ConditionGroup:    rule.ConditionGroup,
			ConditionLogic:    rule.ConditionLogic,
			ConditionColumn:   rule.ConditionColumn,
			ConditionOperator: rule.ConditionOperator,
			ConditionValue:    rule.ConditionValue,
			IsActive:          rule.IsActive,
		})
	}
	for _, a := range src.Approvers {
		dup.Approvers = append(dup.Approvers, &repository.ApprovalMatrixApprover{
			UserID:                  a.UserID,
			ApprovalLevel:           a.ApprovalLevel,
			IsPrimary:               a.IsPrimary,
			IsBackup:                a.IsBackup,
			CanDelegate:             a.CanDelegate,
			ApprovalLimitAmount:     a.ApprovalLimitAmount,
			ApprovalLimitPercentage: a.ApprovalLimitPercentage,
			ApprovalDeadlineHours:   a.ApprovalDeadlineHours,
			BusinessHoursOnly:       a.BusinessHoursOnly,
			IsActive:                a.IsActive,
			EffectiveDate:           a.EffectiveDate,
			ExpiryDate:              a.ExpiryDate,
		})
	}

	if err := s.matrixStore.Create(ctx, dup); err != nil {
		return nil, err
	}
	return dup, nil
}

// Statistics aggregates workflow outcomes for a matrix.
func (s *MatrixService) Statistics(ctx context.Context, id string) (*repository.MatrixStatistics, error) {
	return s.matrixStore.Statistics(ctx, id)
}

// ── validation ────────────────────────────────────────────────────────────────

// validate enforces the configuration invariants the engine relies on:
// every level 1..approval_levels has at least one active approver and at
// least one primary, operator operand shapes fit, and bounds are sane.
func (s *MatrixService) validate(m *repository.ApprovalMatrix) error {
	if m.ModuleName == "" {
		return apperrors.InvalidInput("module_name", "module name is required")
	}
	if m.EntityType == "" {
		return apperrors.InvalidInput("entity_type", "entity type is required")
	}
	if m.Name == "" {
		return apperrors.InvalidInput("name", "matrix name is required")
	}
	if m.ApprovalLevels < 1 {
		return apperrors.InvalidInput("approval_levels", "at least one approval level is required")
	}
	if m.ApprovalType != repository.ApprovalTypeSequential && m.ApprovalType != repository.ApprovalTypeParallel {
		return apperrors.InvalidInput("approval_type", "approval type must be sequential or parallel")
	}
	if m.BasisColumn == "" {
		return apperrors.InvalidInput("basis_column", "basis column is required")
	}
	if err := rules.ValidateCondition(m.BasisOperator, m.BasisValue); err != nil {
		return err
	}
	if m.MinimumAmount != nil && m.MaximumAmount != nil && *m.MinimumAmount > *m.MaximumAmount {
		return apperrors.InvalidInput("minimum_amount", "minimum amount exceeds maximum amount")
	}
	if m.EffectiveDate != nil && m.ExpiryDate != nil && m.EffectiveDate.After(*m.ExpiryDate) {
		return apperrors.InvalidInput("effective_date", "effective date is after expiry date")
	}

	for i, rule := range m.Rules {
		if rule.ConditionLogic != "AND" && rule.ConditionLogic != "OR" {
			return apperrors.InvalidInput("condition_logic", fmt.Sprintf("rule %d: logic must be AND or OR", i+1))
		}
		if rule.ConditionColumn == "" {
			return apperrors.InvalidInput("condition_column", fmt.Sprintf("rule %d: condition column is required", i+1))
		}
		if err := rules.ValidateCondition(rule.ConditionOperator, rule.ConditionValue); err != nil {
			return err
		}
	}

	active := make(map[int]int)
	primary := make(map[int]int)
	for _, a := range m.Approvers {
		if a.UserID == "" {
			return apperrors.InvalidInput("user_id", "approver user id is required")
		}
		if a.ApprovalLevel < 1 || a.ApprovalLevel > m.ApprovalLevels {
			return apperrors.InvalidInput("approval_level",
				fmt.Sprintf("approver level %d is outside 1..%d", a.ApprovalLevel, m.ApprovalLevels))
		}
		if !a.IsActive {
			continue
		}
		active[a.ApprovalLevel]++
		if a.IsPrimary {
			primary[a.ApprovalLevel]++
		}
	}
	for level := 1; level <= m.ApprovalLevels; level++ {
		if active[level] == 0 {
			return apperrors.InvalidInput("approvers", fmt.Sprintf("level %d has no active approver", level))
		}
		if primary[level] == 0 {
			return apperrors.InvalidInput("approvers", fmt.Sprintf("level %d has no primary approver", level))
		}
	}
	return nil
}
