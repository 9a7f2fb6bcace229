package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storeops/be-approvals/internal/apperrors"
	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/repository"
)

// memStore is an in-memory implementation of the store interfaces that
// mirrors the repositories' conditional-update guards, so orchestrator
// behaviour under races and repeated actions matches production.
type memStore struct {
	mu sync.Mutex

	matrices    map[string]*repository.ApprovalMatrix
	workflows   map[string]*repository.EntityApprovalWorkflow
	steps       map[string]*repository.ApprovalWorkflowStep
	stepOrder   []string
	delegations []*repository.ApprovalMatrixDelegation

	seq int
}

func newMemStore() *memStore {
	return &memStore{
		matrices:  make(map[string]*repository.ApprovalMatrix),
		workflows: make(map[string]*repository.EntityApprovalWorkflow),
		steps:     make(map[string]*repository.ApprovalWorkflowStep),
	}
}

// nextTime produces strictly increasing creation timestamps so ordering
// tie-breaks are deterministic.
func (m *memStore) nextTime() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

// ── MatrixStore ───────────────────────────────────────────────────────────────

func (m *memStore) Create(ctx context.Context, matrix *repository.ApprovalMatrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matrix.ID = uuid.NewString()
	matrix.CreatedAt = m.nextTime()
	matrix.UpdatedAt = matrix.CreatedAt
	for _, r := range matrix.Rules {
		r.ID = uuid.NewString()
		r.ApprovalMatrixID = matrix.ID
	}
	for _, a := range matrix.Approvers {
		a.ID = uuid.NewString()
		a.ApprovalMatrixID = matrix.ID
	}
	m.matrices[matrix.ID] = matrix
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*repository.ApprovalMatrix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matrix, ok := m.matrices[id]
	if !ok || matrix.DeletedAt != nil {
		return nil, apperrors.NotFound("approval_matrix", id)
	}
	return matrix, nil
}

func (m *memStore) List(ctx context.Context, module string, activeOnly bool) ([]*repository.ApprovalMatrix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*repository.ApprovalMatrix
	for _, matrix := range m.matrices {
		if matrix.DeletedAt != nil {
			continue
		}
		if module != "" && matrix.ModuleName != module {
			continue
		}
		if activeOnly && !matrix.IsActive {
			continue
		}
		out = append(out, matrix)
	}
	sortMatrices(out)
	return out, nil
}

func (m *memStore) ListCandidates(ctx context.Context, module, entityType string, now time.Time) ([]*repository.ApprovalMatrix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*repository.ApprovalMatrix
	for _, matrix := range m.matrices {
		if matrix.DeletedAt != nil || !matrix.IsActive {
			continue
		}
		if matrix.ModuleName != module || matrix.EntityType != entityType {
			continue
		}
		if matrix.EffectiveDate != nil && now.Before(*matrix.EffectiveDate) {
			continue
		}
		if matrix.ExpiryDate != nil && now.After(*matrix.ExpiryDate) {
			continue
		}
		out = append(out, matrix)
	}
	sortMatrices(out)
	return out, nil
}

func sortMatrices(matrices []*repository.ApprovalMatrix) {
	sort.SliceStable(matrices, func(i, j int) bool {
		if matrices[i].Priority != matrices[j].Priority {
			return matrices[i].Priority > matrices[j].Priority
		}
		return matrices[i].CreatedAt.After(matrices[j].CreatedAt)
	})
}

func (m *memStore) Update(ctx context.Context, matrix *repository.ApprovalMatrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.matrices[matrix.ID]
	if !ok || existing.DeletedAt != nil {
		return apperrors.NotFound("approval_matrix", matrix.ID)
	}
	matrix.CreatedAt = existing.CreatedAt
	matrix.UpdatedAt = m.nextTime()
	m.matrices[matrix.ID] = matrix
	return nil
}

func (m *memStore) ToggleActive(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matrix, ok := m.matrices[id]
	if !ok || matrix.DeletedAt != nil {
		return false, apperrors.NotFound("approval_matrix", id)
	}
	matrix.IsActive = !matrix.IsActive
	return matrix.IsActive, nil
}

func (m *memStore) ActiveWorkflowCount(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, wf := range m.workflows {
		if wf.ApprovalMatrixID == id && wf.IsActive {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	matrix, ok := m.matrices[id]
	if !ok || matrix.DeletedAt != nil {
		return apperrors.NotFound("approval_matrix", id)
	}
	now := m.nextTime()
	matrix.DeletedAt = &now
	matrix.IsActive = false
	return nil
}

func (m *memStore) Statistics(ctx context.Context, id string) (*repository.MatrixStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &repository.MatrixStatistics{MatrixID: id}
	for _, wf := range m.workflows {
		if wf.ApprovalMatrixID != id {
			continue
		}
		stats.TotalWorkflows++
		switch wf.CurrentStatus {
		case repository.WorkflowStatusPending:
			stats.PendingWorkflows++
		case repository.WorkflowStatusApproved:
			stats.ApprovedWorkflows++
		case repository.WorkflowStatusRejected:
			stats.RejectedWorkflows++
		case repository.WorkflowStatusCancelled:
			stats.CancelledWorkflows++
		case repository.WorkflowStatusEscalated:
			stats.EscalatedWorkflows++
		}
	}
	return stats, nil
}

// ── WorkflowStore ─────────────────────────────────────────────────────────────

type workflowStoreFake struct{ *memStore }

func (m *memStore) CreateWorkflow(ctx context.Context, wf *repository.EntityApprovalWorkflow, steps []*repository.ApprovalWorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.workflows {
		if existing.EntityType == wf.EntityType && existing.EntityID == wf.EntityID && existing.IsActive {
			return apperrors.Conflict("entity already has an active workflow")
		}
	}

	wf.ID = uuid.NewString()
	wf.IsActive = true
	wf.CreatedAt = m.nextTime()
	wf.UpdatedAt = wf.CreatedAt
	m.workflows[wf.ID] = wf

	for _, step := range steps {
		step.ID = uuid.NewString()
		step.EntityApprovalWorkflowID = wf.ID
		step.IsActive = true
		step.CreatedAt = m.nextTime()
		step.UpdatedAt = step.CreatedAt
		m.steps[step.ID] = step
		m.stepOrder = append(m.stepOrder, step.ID)
	}
	return nil
}

func (f workflowStoreFake) Create(ctx context.Context, wf *repository.EntityApprovalWorkflow, steps []*repository.ApprovalWorkflowStep) error {
	return f.CreateWorkflow(ctx, wf, steps)
}

func (f workflowStoreFake) GetByID(ctx context.Context, id string) (*repository.EntityApprovalWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	return wf, nil
}

func (f workflowStoreFake) GetActiveForEntity(ctx context.Context, entityType, entityID string) (*repository.EntityApprovalWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, wf := range f.workflows {
		if wf.EntityType == entityType && wf.EntityID == entityID && wf.IsActive {
			return wf, nil
		}
	}
	return nil, nil
}

func (f workflowStoreFake) AdvanceLevel(ctx context.Context, id string, fromLevel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok || !wf.IsActive || wf.CurrentApprovalLevel != fromLevel {
		return apperrors.Conflict("workflow level already advanced or workflow not open")
	}
	if wf.CurrentStatus != repository.WorkflowStatusPending && wf.CurrentStatus != repository.WorkflowStatusEscalated {
		return apperrors.Conflict("workflow not open")
	}
	wf.CurrentApprovalLevel++
	return nil
}

func (f workflowStoreFake) Complete(ctx context.Context, id, status string, reason *string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok || !wf.IsActive || wf.CompletedAt != nil {
		return apperrors.Conflict("workflow already completed or not active")
	}
	wf.CurrentStatus = status
	wf.CompletedAt = &now
	wf.IsActive = false
	switch status {
	case repository.WorkflowStatusRejected:
		wf.RejectionReason = reason
	case repository.WorkflowStatusCancelled:
		wf.CancellationReason = reason
	}
	return nil
}

func (f workflowStoreFake) MarkEscalated(ctx context.Context, id, reason string, fromLevel int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok || !wf.IsActive || wf.CurrentStatus != repository.WorkflowStatusPending || wf.CurrentApprovalLevel != fromLevel {
		return apperrors.Conflict("workflow is not pending at the expected level")
	}
	wf.CurrentStatus = repository.WorkflowStatusEscalated
	wf.EscalatedAt = &now
	wf.EscalationReason = &reason
	wf.CurrentApprovalLevel++
	return nil
}

func (f workflowStoreFake) ResumePending(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wf, ok := f.workflows[id]
	if !ok || !wf.IsActive || wf.CurrentStatus != repository.WorkflowStatusEscalated {
		return apperrors.Conflict("workflow is not escalated")
	}
	wf.CurrentStatus = repository.WorkflowStatusPending
	return nil
}

func (f workflowStoreFake) ListOverdue(ctx context.Context, now time.Time) ([]*repository.EntityApprovalWorkflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*repository.EntityApprovalWorkflow
	for _, wf := range f.workflows {
		if !wf.IsActive || wf.CurrentStatus != repository.WorkflowStatusPending {
			continue
		}
		for _, id := range f.stepOrder {
			step := f.steps[id]
			if step.EntityApprovalWorkflowID != wf.ID || step.ApprovalLevel != wf.CurrentApprovalLevel {
				continue
			}
			if stepOpen(step) && step.IsActive &&
				step.DeadlineAt != nil && step.DeadlineAt.Before(now) {
				out = append(out, wf)
				break
			}
		}
	}
	return out, nil
}

// ── StepStore ─────────────────────────────────────────────────────────────────

type stepStoreFake struct{ *memStore }

func (f stepStoreFake) GetByWorkflow(ctx context.Context, workflowID string) ([]*repository.ApprovalWorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*repository.ApprovalWorkflowStep
	for _, id := range f.stepOrder {
		if f.steps[id].EntityApprovalWorkflowID == workflowID {
			out = append(out, f.steps[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ApprovalLevel < out[j].ApprovalLevel })
	return out, nil
}

func (f stepStoreFake) PendingAtLevel(ctx context.Context, workflowID string, level int) ([]*repository.ApprovalWorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*repository.ApprovalWorkflowStep
	for _, id := range f.stepOrder {
		step := f.steps[id]
		if step.EntityApprovalWorkflowID == workflowID && step.ApprovalLevel == level &&
			step.IsActive && stepOpen(step) {
			out = append(out, step)
		}
	}
	return out, nil
}

func stepOpen(step *repository.ApprovalWorkflowStep) bool {
	return step.Action == repository.StepActionPending || step.Action == repository.StepActionDelegated
}

func (f stepStoreFake) TakeAction(ctx context.Context, id, action string, reason *string, data map[string]any, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	step, ok := f.steps[id]
	if !ok || !step.IsActive || !stepOpen(step) {
		return apperrors.Conflict("step already acted on or inactive")
	}
	step.Action = action
	step.ActionReason = reason
	step.ActionData = data
	step.ActionTakenAt = &now
	return nil
}

func (f stepStoreFake) SetDelegate(ctx context.Context, id, delegateUserID string, reason *string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	step, ok := f.steps[id]
	if !ok || !step.IsActive || step.Action != repository.StepActionPending {
		return apperrors.Conflict("step not pending or inactive")
	}
	step.Action = repository.StepActionDelegated
	step.DelegatedToUserID = &delegateUserID
	step.ActionReason = reason
	step.ActionTakenAt = &now
	return nil
}

func (f stepStoreFake) SkipPending(ctx context.Context, workflowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.stepOrder {
		step := f.steps[id]
		if step.EntityApprovalWorkflowID == workflowID && stepOpen(step) {
			step.Action = repository.StepActionSkipped
			step.IsActive = false
		}
	}
	return nil
}

func (f stepStoreFake) SkipPendingAtLevel(ctx context.Context, workflowID string, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.stepOrder {
		step := f.steps[id]
		if step.EntityApprovalWorkflowID == workflowID && step.ApprovalLevel == level && stepOpen(step) {
			step.Action = repository.StepActionSkipped
			step.IsActive = false
		}
	}
	return nil
}

func (f stepStoreFake) PendingForUser(ctx context.Context, userID string, now time.Time) ([]*repository.ApprovalWorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*repository.ApprovalWorkflowStep
	for _, id := range f.stepOrder {
		step := f.steps[id]
		wf := f.workflows[step.EntityApprovalWorkflowID]
		if wf == nil || !wf.IsActive {
			continue
		}
		if wf.CurrentStatus != repository.WorkflowStatusPending && wf.CurrentStatus != repository.WorkflowStatusEscalated {
			continue
		}
		if step.ApprovalLevel != wf.CurrentApprovalLevel || !step.IsActive || !stepOpen(step) {
			continue
		}
		if f.effectiveLocked(step, now) == userID {
			out = append(out, step)
		}
	}
	return out, nil
}

func (m *memStore) effectiveLocked(step *repository.ApprovalWorkflowStep, now time.Time) string {
	if step.DelegatedToUserID != nil {
		return *step.DelegatedToUserID
	}
	for _, d := range m.delegations {
		if d.ApprovalMatrixApproverID == step.ApprovalMatrixApproverID && d.IsActive &&
			!now.Before(d.StartDate) && !now.After(d.EndDate) {
			return d.DelegateToUserID
		}
	}
	return step.ApproverUserID
}

// ── DelegationStore ───────────────────────────────────────────────────────────

type delegationStoreFake struct{ *memStore }

func (f delegationStoreFake) ActiveForSlot(ctx context.Context, matrixApproverID string, now time.Time) (*repository.ApprovalMatrixDelegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range f.delegations {
		if d.ApprovalMatrixApproverID == matrixApproverID && d.IsActive &&
			!now.Before(d.StartDate) && !now.After(d.EndDate) {
			return d, nil
		}
	}
	return nil, nil
}

// ── Notifier & snapshot fakes ─────────────────────────────────────────────────

type recordingNotifier struct {
	mu        sync.Mutex
	initiated []*client.WorkflowInitiatedEvent
	actions   []*client.ActionProcessedEvent
	completed []*client.WorkflowCompletedEvent
}

func (n *recordingNotifier) WorkflowInitiated(ctx context.Context, evt *client.WorkflowInitiatedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initiated = append(n.initiated, evt)
}

func (n *recordingNotifier) ActionProcessed(ctx context.Context, evt *client.ActionProcessedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, evt)
}

func (n *recordingNotifier) WorkflowCompleted(ctx context.Context, evt *client.WorkflowCompletedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, evt)
}

type mapSnapshots struct {
	data map[string]map[string]any
}

func (s *mapSnapshots) Snapshot(ctx context.Context, kind client.EntityKind, entityID string) (map[string]any, error) {
	snap, ok := s.data[string(kind)+"/"+entityID]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s/%s", kind, entityID)
	}
	return snap, nil
}

// testClock is a mutable clock shared by a test and the engine under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
