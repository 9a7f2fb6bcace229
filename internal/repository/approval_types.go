package repository

import (
	"time"

	"github.com/storeops/be-approvals/internal/rules"
)

// ── Domain types for the approval matrix & workflow engine ───────────────────

// Matrix approval type: how the approvers within one level are combined.
const (
	ApprovalTypeSequential = "sequential"
	ApprovalTypeParallel   = "parallel"
)

// Workflow statuses. approved/rejected/cancelled are terminal; escalated is
// a visible non-terminal status (work continues at an advanced level).
const (
	WorkflowStatusPending   = "pending"
	WorkflowStatusApproved  = "approved"
	WorkflowStatusRejected  = "rejected"
	WorkflowStatusCancelled = "cancelled"
	WorkflowStatusEscalated = "escalated"
)

// Step actions.
const (
	StepActionPending   = "pending"
	StepActionApproved  = "approved"
	StepActionRejected  = "rejected"
	StepActionDelegated = "delegated"
	StepActionSkipped   = "skipped"
)

// ApprovalMatrix is a named approval policy for one (module, entity type)
// pair. Owns rules and approver slots.
type ApprovalMatrix struct {
	ID             string
	ModuleName     string // e.g. store_orders, wastages, intercompany_transfers
	EntityType     string // e.g. regular, mass_order
	Name           string
	Description    *string
	ApprovalLevels int
	ApprovalType   string // sequential | parallel
	BasisColumn    string
	BasisOperator  rules.Operator
	BasisValue     rules.Value
	MinimumAmount  *float64
	MaximumAmount  *float64
	IsActive       bool
	EffectiveDate  *time.Time // nil = unbounded
	ExpiryDate     *time.Time // nil = unbounded
	Priority       int        // higher wins
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time

	Rules     []*ApprovalMatrixRule
	Approvers []*ApprovalMatrixApprover
}

// ApprovalMatrixRule is one auxiliary boolean condition on a matrix. Rules
// sharing a condition_group combine with that group's condition_logic;
// groups combine with AND.
type ApprovalMatrixRule struct {
	ID                string
	ApprovalMatrixID  string
	ConditionGroup    int
	ConditionLogic    string // AND | OR
	ConditionColumn   string
	ConditionOperator rules.Operator
	ConditionValue    rules.Value
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ApprovalMatrixApprover is one approver slot at a given level of a matrix.
type ApprovalMatrixApprover struct {
	ID                      string
	ApprovalMatrixID        string
	UserID                  string
	ApprovalLevel           int
	IsPrimary               bool
	IsBackup                bool
	CanDelegate             bool
	ApprovalLimitAmount     *float64
	ApprovalLimitPercentage *float64
	ApprovalDeadlineHours   *int
	BusinessHoursOnly       bool
	IsActive                bool
	EffectiveDate           *time.Time
	ExpiryDate              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ApprovalMatrixDelegation is a time-bounded standing redirection of one
// approver slot's work to another user.
type ApprovalMatrixDelegation struct {
	ID                       string
	ApprovalMatrixApproverID string
	DelegateFromUserID       string
	DelegateToUserID         string
	StartDate                time.Time
	EndDate                  time.Time
	IsActive                 bool
	Reason                   *string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// EntityApprovalWorkflow is one approval run over a business entity. At most
// one active workflow may exist per (entity_type, entity_id).
type EntityApprovalWorkflow struct {
	ID                    string
	ApprovalMatrixID      string
	EntityType            string
	EntityID              string
	InitiatedByID         string
	TotalApprovalRequired int // frozen copy of matrix.approval_levels
	CurrentApprovalLevel  int // starts at 0, monotonically non-decreasing
	CurrentStatus         string
	InitiatedAt           time.Time
	CompletedAt           *time.Time // set exactly once, on terminal status
	EscalatedAt           *time.Time
	RejectionReason       *string
	EscalationReason      *string
	CancellationReason    *string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Terminal reports whether the workflow has reached a terminal status.
func (w *EntityApprovalWorkflow) Terminal() bool {
	switch w.CurrentStatus {
	case WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusCancelled:
		return true
	}
	return false
}

// ApprovalWorkflowStep is one (level, approver slot) unit of work.
type ApprovalWorkflowStep struct {
	ID                       string
	EntityApprovalWorkflowID string
	ApprovalMatrixApproverID string
	ApprovalLevel            int
	ApproverUserID           string
	DelegatedToUserID        *string
	Action                   string
	ActionReason             *string
	ActionData               map[string]any
	AssignedAt               time.Time
	ActionTakenAt            *time.Time // non-nil iff Action != pending
	DeadlineAt               *time.Time
	IsActive                 bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// MatrixStatistics summarises workflow outcomes for one matrix.
type MatrixStatistics struct {
	MatrixID           string
	TotalWorkflows     int
	PendingWorkflows   int
	ApprovedWorkflows  int
	RejectedWorkflows  int
	CancelledWorkflows int
	EscalatedWorkflows int
	AvgCompletionHours *float64
}
