package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/repository"
	"github.com/storeops/be-approvals/internal/rules"
)

type engineHarness struct {
	svc      *WorkflowService
	store    *memStore
	notifier *recordingNotifier
	clock    *testClock
	snaps    *mapSnapshots
}

func newEngineHarness() *engineHarness {
	store := newMemStore()
	clock := newTestClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	snaps := &mapSnapshots{data: make(map[string]map[string]any)}
	log := logger.Nop()

	resolver := NewMatrixResolver(store, clock.Now, log)
	delegations := NewDelegationResolver(delegationStoreFake{store}, clock.Now)
	deadlines := NewDeadlineTracker(nil, clock.Now)

	svc := NewWorkflowService(
		resolver,
		delegations,
		deadlines,
		store,
		workflowStoreFake{store},
		stepStoreFake{store},
		snaps,
		client.NewStaticAuthorizer([]string{"admin-1"}),
		notifier,
		clock.Now,
		log,
	)
	return &engineHarness{svc: svc, store: store, notifier: notifier, clock: clock, snaps: snaps}
}

// seedMatrix installs a matrix with one approver per listed level set and
// registers a matching snapshot for the entity.
func (h *engineHarness) seedMatrix(t *testing.T, levels int, approvalType string, approversByLevel map[int][]string) *repository.ApprovalMatrix {
	t.Helper()

	m := &repository.ApprovalMatrix{
		ModuleName:     "store_orders",
		EntityType:     "regular",
		Name:           "test-matrix",
		ApprovalLevels: levels,
		ApprovalType:   approvalType,
		BasisColumn:    "status",
		BasisOperator:  rules.OpEquals,
		BasisValue:     rules.ScalarValue("for_approval"),
		IsActive:       true,
		Priority:       1,
	}
	for level, users := range approversByLevel {
		for i, userID := range users {
			m.Approvers = append(m.Approvers, &repository.ApprovalMatrixApprover{
				UserID:                userID,
				ApprovalLevel:         level,
				IsPrimary:             i == 0,
				CanDelegate:           true,
				ApprovalDeadlineHours: hoursPtr(24),
				IsActive:              true,
			})
		}
	}
	require.NoError(t, h.store.Create(context.Background(), m))
	return m
}

func (h *engineHarness) seedEntity(entityID string) {
	h.snaps.data["store_order/"+entityID] = map[string]any{
		"status":       "for_approval",
		"total_amount": 3000.0,
	}
}

func (h *engineHarness) initiate(t *testing.T, entityID string) *repository.EntityApprovalWorkflow {
	t.Helper()
	h.seedEntity(entityID)
	wf, err := h.svc.Initiate(context.Background(), &InitiateRequest{
		Module:      "store_orders",
		EntityType:  "regular",
		EntityKind:  client.EntityStoreOrder,
		EntityID:    entityID,
		InitiatedBy: "clerk-1",
	})
	require.NoError(t, err)
	require.NotNil(t, wf)
	return wf
}

func TestSingleLevelApproval(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})

	wf := h.initiate(t, "so-1")
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
	assert.Equal(t, 1, wf.CurrentApprovalLevel)
	assert.Equal(t, 1, wf.TotalApprovalRequired)
	require.Len(t, h.notifier.initiated, 1)

	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Completed)
	assert.Equal(t, repository.WorkflowStatusApproved, res.WorkflowStatus)

	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)
	require.NotNil(t, wf.CompletedAt)
	assert.False(t, wf.IsActive)

	require.Len(t, h.notifier.actions, 1)
	require.Len(t, h.notifier.completed, 1)
	assert.Equal(t, repository.WorkflowStatusApproved, h.notifier.completed[0].FinalStatus)
}

func TestNoMatchingMatrixMeansNoWorkflow(t *testing.T) {
	h := newEngineHarness()
	// No matrix seeded at all.
	h.seedEntity("so-1")
	wf, err := h.svc.Initiate(context.Background(), &InitiateRequest{
		Module:      "store_orders",
		EntityType:  "regular",
		EntityKind:  client.EntityStoreOrder,
		EntityID:    "so-1",
		InitiatedBy: "clerk-1",
	})
	require.NoError(t, err)
	assert.Nil(t, wf)
	assert.Empty(t, h.notifier.initiated)
}

func TestDuplicateActiveWorkflowRejected(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	h.initiate(t, "so-1")

	_, err := h.svc.Initiate(context.Background(), &InitiateRequest{
		Module:      "store_orders",
		EntityType:  "regular",
		EntityKind:  client.EntityStoreOrder,
		EntityID:    "so-1",
		InitiatedBy: "clerk-1",
	})
	require.Error(t, err)
}

func TestSequentialLevelsApproveInStrictOrder(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 3, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"}, 3: {"mgr-3"},
	})
	wf := h.initiate(t, "so-1")

	// Level 2 approver acting before level 1 resolves is refused.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 1, res.RequiredLevel)
	assert.Contains(t, res.EffectiveApprovers, "mgr-1")
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
	assert.Equal(t, 1, wf.CurrentApprovalLevel)

	// 1 → 2 → 3 in order.
	for i, actor := range []string{"mgr-1", "mgr-2", "mgr-3"} {
		res, err := h.svc.Process(context.Background(), &ProcessRequest{
			WorkflowID: wf.ID, ActorID: actor, Action: ActionApprove,
		})
		require.NoError(t, err)
		require.True(t, res.Accepted, "approver %d refused", i+1)
	}

	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)
	require.NotNil(t, wf.CompletedAt)
}

func TestSequentialLevelWaitsForAllApprovers(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1", "mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Completed)
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)

	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)
}

func TestParallelLevelFirstApprovalWins(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeParallel, map[int][]string{
		1: {"mgr-1", "mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Completed)
	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)

	// The other approver's step is skipped, not left pending.
	steps, err := h.svc.WorkflowSteps(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	var actions []string
	for _, s := range steps {
		actions = append(actions, s.Action)
	}
	assert.ElementsMatch(t, []string{repository.StepActionApproved, repository.StepActionSkipped}, actions)
}

func TestRejectionIsImmediateAndTerminal(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 3, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"}, 3: {"mgr-3"},
	})
	wf := h.initiate(t, "so-1")

	reason := "budget exceeded"
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionReject, Reason: &reason,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, repository.WorkflowStatusRejected, wf.CurrentStatus)
	require.NotNil(t, wf.CompletedAt)
	require.NotNil(t, wf.RejectionReason)
	assert.Equal(t, reason, *wf.RejectionReason)

	// Later-level approvers can no longer act.
	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	// All other steps were skipped.
	steps, err := h.svc.WorkflowSteps(context.Background(), wf.ID)
	require.NoError(t, err)
	for _, s := range steps {
		if s.ApproverUserID != "mgr-1" {
			assert.Equal(t, repository.StepActionSkipped, s.Action)
			assert.False(t, s.IsActive)
		}
	}
}

func TestRejectRequiresReason(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	wf := h.initiate(t, "so-1")

	_, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionReject,
	})
	require.Error(t, err)
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
}

func TestCancelClosesWorkflowAndSteps(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	require.NoError(t, h.svc.Cancel(context.Background(), wf.ID, "clerk-1", "order withdrawn"))

	assert.Equal(t, repository.WorkflowStatusCancelled, wf.CurrentStatus)
	require.NotNil(t, wf.CompletedAt)
	require.NotNil(t, wf.CancellationReason)

	// No step remains actionable.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	// Cancelling twice conflicts.
	require.Error(t, h.svc.Cancel(context.Background(), wf.ID, "clerk-1", "again"))

	require.Len(t, h.notifier.completed, 1)
	assert.Equal(t, repository.WorkflowStatusCancelled, h.notifier.completed[0].FinalStatus)
}

func TestDelegateThenDelegateApproves(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	wf := h.initiate(t, "so-1")

	reason := "on leave"
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionDelegate,
		Reason: &reason, DelegateTo: "mgr-9",
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	// Delegation does not advance the level.
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
	assert.Equal(t, 1, wf.CurrentApprovalLevel)

	// Original approver can no longer act; the delegate can.
	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-9", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Completed)

	steps, err := h.svc.WorkflowSteps(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.NotNil(t, steps[0].DelegatedToUserID)
	assert.Equal(t, "mgr-9", *steps[0].DelegatedToUserID)
}

func TestDelegateRequiresCanDelegate(t *testing.T) {
	h := newEngineHarness()
	m := h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	m.Approvers[0].CanDelegate = false
	wf := h.initiate(t, "so-1")

	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionDelegate, DelegateTo: "mgr-9",
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestStandingDelegationRedirectsPendingView(t *testing.T) {
	h := newEngineHarness()
	m := h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	wf := h.initiate(t, "so-1")

	now := h.clock.Now()
	h.store.delegations = append(h.store.delegations, &repository.ApprovalMatrixDelegation{
		ApprovalMatrixApproverID: m.Approvers[0].ID,
		DelegateFromUserID:       "mgr-1",
		DelegateToUserID:         "mgr-5",
		StartDate:                now.Add(-time.Hour),
		EndDate:                  now.Add(72 * time.Hour),
		IsActive:                 true,
	})

	// A's view is empty; B's contains the workflow.
	pendingA, err := h.svc.PendingForUser(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Empty(t, pendingA)

	pendingB, err := h.svc.PendingForUser(context.Background(), "mgr-5")
	require.NoError(t, err)
	require.Len(t, pendingB, 1)
	assert.Equal(t, wf.ID, pendingB[0].EntityApprovalWorkflowID)

	// The original approver is refused; the delegate approves.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-5", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)
}

func TestSkipRequiresOverrideAuthority(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	// Plain user cannot skip.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionSkip,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	// The override user skips level 1; level advances as an approval would.
	res, err = h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "admin-1", Action: ActionSkip,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, wf.CurrentApprovalLevel)
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
}

func TestEscalateOverdueWorkflow(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	// Not yet overdue: escalation refused.
	err := h.svc.Escalate(context.Background(), wf.ID, "admin-1", "stalled")
	require.Error(t, err)

	h.clock.Advance(25 * time.Hour)

	// Now overdue: reported by the overdue query and escalatable.
	overdue, err := h.svc.ListOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, wf.ID, overdue[0].ID)

	require.NoError(t, h.svc.Escalate(context.Background(), wf.ID, "admin-1", "stalled"))
	assert.Equal(t, repository.WorkflowStatusEscalated, wf.CurrentStatus)
	require.NotNil(t, wf.EscalatedAt)
	assert.Equal(t, 2, wf.CurrentApprovalLevel)

	// Only the bypassed level's step is skipped; the advanced level stays open.
	steps, err := h.svc.WorkflowSteps(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, s := range steps {
		switch s.ApprovalLevel {
		case 1:
			assert.Equal(t, repository.StepActionSkipped, s.Action)
			assert.False(t, s.IsActive)
		case 2:
			assert.Equal(t, repository.StepActionPending, s.Action)
			assert.True(t, s.IsActive)
		}
	}

	// Escalating twice is refused.
	require.Error(t, h.svc.Escalate(context.Background(), wf.ID, "admin-1", "again"))

	// Work continues at the advanced level and can terminate normally.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-2", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Completed)
	assert.Equal(t, repository.WorkflowStatusApproved, wf.CurrentStatus)
}

func TestEscalateFinalLevelRefused(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	wf := h.initiate(t, "so-1")

	h.clock.Advance(25 * time.Hour)
	require.Error(t, h.svc.Escalate(context.Background(), wf.ID, "admin-1", "stalled"))
}

func TestBulkProcessIndependent(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})

	var ids []string
	for _, entity := range []string{"so-1", "so-2", "so-3"} {
		wf := h.initiate(t, entity)
		ids = append(ids, wf.ID)
	}

	result := h.svc.BulkProcess(context.Background(), ids, ActionApprove, nil, "mgr-1")
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	// A second pass fails per item without blocking the batch.
	result = h.svc.BulkProcess(context.Background(), ids, ActionApprove, nil, "mgr-1")
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, result.Details, 3)
}

func TestPendingForUserOnlyCurrentLevel(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	h.initiate(t, "so-1")

	// Level 2 approver sees nothing until level 1 resolves.
	pending, err := h.svc.PendingForUser(context.Background(), "mgr-2")
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = h.svc.PendingForUser(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEscalatedWorkflowVisibleToNextApprover(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	h.clock.Advance(25 * time.Hour)
	require.NoError(t, h.svc.Escalate(context.Background(), wf.ID, "admin-1", "stalled"))
	require.Equal(t, repository.WorkflowStatusEscalated, wf.CurrentStatus)

	// The advanced level's approver sees the step despite the escalated status.
	pending, err := h.svc.PendingForUser(context.Background(), "mgr-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wf.ID, pending[0].EntityApprovalWorkflowID)
	assert.Equal(t, 2, pending[0].ApprovalLevel)

	// The bypassed approver does not.
	pending, err = h.svc.PendingForUser(context.Background(), "mgr-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInitiateRefusedWhenApproverWindowLapsed(t *testing.T) {
	h := newEngineHarness()
	m := h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	expired := h.clock.Now().Add(-time.Hour)
	for _, a := range m.Approvers {
		if a.ApprovalLevel == 2 {
			a.ExpiryDate = &expired
		}
	}

	h.seedEntity("so-1")
	_, err := h.svc.Initiate(context.Background(), &InitiateRequest{
		Module:      "store_orders",
		EntityType:  "regular",
		EntityKind:  client.EntityStoreOrder,
		EntityID:    "so-1",
		InitiatedBy: "clerk-1",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))

	// Nothing was persisted.
	existing, err := workflowStoreFake{h.store}.GetActiveForEntity(context.Background(), "store_order", "so-1")
	require.NoError(t, err)
	assert.Nil(t, existing)
	assert.Empty(t, h.notifier.initiated)
}

func TestOverdueDelegatedStepStillEscalatable(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 2, repository.ApprovalTypeSequential, map[int][]string{
		1: {"mgr-1"}, 2: {"mgr-2"},
	})
	wf := h.initiate(t, "so-1")

	reason := "on leave"
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "mgr-1", Action: ActionDelegate,
		Reason: &reason, DelegateTo: "mgr-9",
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	h.clock.Advance(25 * time.Hour)

	// A workflow stalled on its delegate is reported overdue and escalatable.
	overdue, err := h.svc.ListOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, wf.ID, overdue[0].ID)

	require.NoError(t, h.svc.Escalate(context.Background(), wf.ID, "admin-1", "delegate stalled"))
	assert.Equal(t, 2, wf.CurrentApprovalLevel)
}

// flakyDelegationStore fails lookups after the first call.
type flakyDelegationStore struct {
	inner delegationStoreFake
	calls int
}

func (f *flakyDelegationStore) ActiveForSlot(ctx context.Context, matrixApproverID string, now time.Time) (*repository.ApprovalMatrixDelegation, error) {
	f.calls++
	if f.calls > 1 {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "delegation lookup failed")
	}
	return f.inner.ActiveForSlot(ctx, matrixApproverID, now)
}

func TestRefusalSurvivesDelegationLookupFailure(t *testing.T) {
	h := newEngineHarness()
	h.seedMatrix(t, 1, repository.ApprovalTypeSequential, map[int][]string{1: {"mgr-1"}})
	wf := h.initiate(t, "so-1")

	h.svc.delegations = NewDelegationResolver(&flakyDelegationStore{inner: delegationStoreFake{h.store}}, h.clock.Now)

	// The stranger is refused; the broken approver lookup degrades the
	// report instead of turning the refusal into an error.
	res, err := h.svc.Process(context.Background(), &ProcessRequest{
		WorkflowID: wf.ID, ActorID: "stranger", Action: ActionApprove,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Empty(t, res.EffectiveApprovers)
	assert.Equal(t, repository.WorkflowStatusPending, wf.CurrentStatus)
}
