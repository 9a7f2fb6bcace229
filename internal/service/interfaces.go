package service

import (
	"context"
	"time"

	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/repository"
)

// Clock supplies the current time. Injected so deadline and window logic is
// testable.
type Clock func() time.Time

// MatrixStore is the matrix persistence surface the services consume.
// Implemented by repository.MatrixRepository.
type MatrixStore interface {
	Create(ctx context.Context, m *repository.ApprovalMatrix) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalMatrix, error)
	List(ctx context.Context, module string, activeOnly bool) ([]*repository.ApprovalMatrix, error)
	ListCandidates(ctx context.Context, module, entityType string, now time.Time) ([]*repository.ApprovalMatrix, error)
	Update(ctx context.Context, m *repository.ApprovalMatrix) error
	ToggleActive(ctx context.Context, id string) (bool, error)
	ActiveWorkflowCount(ctx context.Context, id string) (int, error)
	SoftDelete(ctx context.Context, id string) error
	Statistics(ctx context.Context, id string) (*repository.MatrixStatistics, error)
}

// WorkflowStore is the workflow persistence surface.
// Implemented by repository.WorkflowRepository.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.EntityApprovalWorkflow, steps []*repository.ApprovalWorkflowStep) error
	GetByID(ctx context.Context, id string) (*repository.EntityApprovalWorkflow, error)
	GetActiveForEntity(ctx context.Context, entityType, entityID string) (*repository.EntityApprovalWorkflow, error)
	AdvanceLevel(ctx context.Context, id string, fromLevel int) error
	Complete(ctx context.Context, id, status string, reason *string, now time.Time) error
	MarkEscalated(ctx context.Context, id, reason string, fromLevel int, now time.Time) error
	ResumePending(ctx context.Context, id string) error
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.EntityApprovalWorkflow, error)
}

// StepStore is the step persistence surface.
// Implemented by repository.StepRepository.
type StepStore interface {
	GetByWorkflow(ctx context.Context, workflowID string) ([]*repository.ApprovalWorkflowStep, error)
	PendingAtLevel(ctx context.Context, workflowID string, level int) ([]*repository.ApprovalWorkflowStep, error)
	TakeAction(ctx context.Context, id, action string, reason *string, data map[string]any, now time.Time) error
	SetDelegate(ctx context.Context, id, delegateUserID string, reason *string, now time.Time) error
	SkipPending(ctx context.Context, workflowID string) error
	SkipPendingAtLevel(ctx context.Context, workflowID string, level int) error
	PendingForUser(ctx context.Context, userID string, now time.Time) ([]*repository.ApprovalWorkflowStep, error)
}

// DelegationStore is the standing-delegation lookup surface.
// Implemented by repository.DelegationRepository.
type DelegationStore interface {
	ActiveForSlot(ctx context.Context, matrixApproverID string, now time.Time) (*repository.ApprovalMatrixDelegation, error)
}

// Notifier receives workflow lifecycle events. Implemented by
// client.NotificationPublisher; delivery is best-effort.
type Notifier interface {
	WorkflowInitiated(ctx context.Context, evt *client.WorkflowInitiatedEvent)
	ActionProcessed(ctx context.Context, evt *client.ActionProcessedEvent)
	WorkflowCompleted(ctx context.Context, evt *client.WorkflowCompletedEvent)
}
