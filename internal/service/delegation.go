package service

import (
	"context"

	"github.com/storeops/be-approvals/internal/repository"
)

// DelegationResolver computes the effective approver for a workflow step.
// An explicit per-step delegate always wins; otherwise a standing slot
// delegation (active and in date range) redirects the work; otherwise the
// configured approver acts.
type DelegationResolver struct {
	delegationStore DelegationStore
	now             Clock
}

// NewDelegationResolver creates a new DelegationResolver.
func NewDelegationResolver(delegationStore DelegationStore, now Clock) *DelegationResolver {
	return &DelegationResolver{delegationStore: delegationStore, now: now}
}

// EffectiveApprover returns the user currently entitled to act on a step.
func (r *DelegationResolver) EffectiveApprover(ctx context.Context, step *repository.ApprovalWorkflowStep) (string, error) {
	if step.DelegatedToUserID != nil {
		return *step.DelegatedToUserID, nil
	}

	d, err := r.delegationStore.ActiveForSlot(ctx, step.ApprovalMatrixApproverID, r.now())
	if err != nil {
		return "", err
	}
	if d != nil {
		return d.DelegateToUserID, nil
	}
	return step.ApproverUserID, nil
}
