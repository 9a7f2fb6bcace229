package service

import (
	"context"

	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/repository"
	"github.com/storeops/be-approvals/internal/rules"
)

// MatrixResolver selects the single best-fit approval matrix for an entity
// snapshot. Returning (nil, nil) means no approval is required — that is a
// normal outcome, not an error.
type MatrixResolver struct {
	matrixStore MatrixStore
	now         Clock
	log         *logger.Logger
}

// NewMatrixResolver creates a new MatrixResolver.
func NewMatrixResolver(matrixStore MatrixStore, now Clock, log *logger.Logger) *MatrixResolver {
	return &MatrixResolver{matrixStore: matrixStore, now: now, log: log}
}

// FindMatchingMatrix evaluates candidate matrices for a (module, entity type)
// pair against the entity snapshot and returns the highest-priority match.
// Candidates come back from the store ordered priority DESC, created DESC, so
// the first match wins; two matrices with equal priority tie-break to the
// most recently created.
func (r *MatrixResolver) FindMatchingMatrix(ctx context.Context, module, entityType string, snapshot map[string]any) (*repository.ApprovalMatrix, error) {
	candidates, err := r.matrixStore.ListCandidates(ctx, module, entityType, r.now())
	if err != nil {
		return nil, err
	}

	for _, m := range candidates {
		if !r.matches(m, snapshot) {
			continue
		}
		r.log.Debug().
			Str("matrix_id", m.ID).
			Str("matrix_name", m.Name).
			Str("module", module).
			Int("priority", m.Priority).
			Msg("Matrix matched")
		return m, nil
	}
	return nil, nil
}

// matches applies the basis condition, the optional amount bounds and every
// rule group to the snapshot.
func (r *MatrixResolver) matches(m *repository.ApprovalMatrix, snapshot map[string]any) bool {
	basis := rules.Resolve(snapshot, m.BasisColumn)
	if !rules.Evaluate(basis, m.BasisOperator, m.BasisValue) {
		return false
	}

	if m.MinimumAmount != nil || m.MaximumAmount != nil {
		amount, ok := numericAmount(rules.Resolve(snapshot, "total_amount"))
		if !ok {
			return false
		}
		if m.MinimumAmount != nil && amount < *m.MinimumAmount {
			return false
		}
		if m.MaximumAmount != nil && amount > *m.MaximumAmount {
			return false
		}
	}

	return r.groupsSatisfied(m.Rules, snapshot)
}

// groupsSatisfied evaluates active rules grouped by condition_group. Within a
// group rules combine with the group's shared condition_logic; groups combine
// with AND. A matrix with no active rules matches on basis condition alone.
func (r *MatrixResolver) groupsSatisfied(ruleRows []*repository.ApprovalMatrixRule, snapshot map[string]any) bool {
	groups := make(map[int][]*repository.ApprovalMatrixRule)
	for _, rule := range ruleRows {
		if !rule.IsActive {
			continue
		}
		groups[rule.ConditionGroup] = append(groups[rule.ConditionGroup], rule)
	}

	for _, group := range groups {
		if !groupSatisfied(group, snapshot) {
			return false
		}
	}
	return true
}

func groupSatisfied(group []*repository.ApprovalMatrixRule, snapshot map[string]any) bool {
	anyTrue := false
	allTrue := true

	for _, rule := range group {
		value := rules.Resolve(snapshot, rule.ConditionColumn)
		ok := rules.Evaluate(value, rule.ConditionOperator, rule.ConditionValue)
		anyTrue = anyTrue || ok
		allTrue = allTrue && ok
	}

	if group[0].ConditionLogic == "OR" {
		return anyTrue
	}
	return allTrue
}

func numericAmount(v any) (float64, bool) {
	s := rules.NewScalar(v)
	if v == nil || !s.IsNum {
		return 0, false
	}
	return s.Num, true
}
