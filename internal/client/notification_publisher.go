package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes workflow lifecycle events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: workflow_initiated, approval_action_processed, workflow_completed
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// WorkflowInitiatedEvent announces a newly created workflow.
type WorkflowInitiatedEvent struct {
	WorkflowID   string `json:"workflow_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	InitiatedBy  string `json:"initiated_by"`
	TotalLevels  int    `json:"total_levels"`
	CurrentLevel int    `json:"current_level"`
	MatrixName   string `json:"matrix_name"`
}

// ActionProcessedEvent announces one processed approval action.
type ActionProcessedEvent struct {
	WorkflowID        string     `json:"workflow_id"`
	StepID            string     `json:"step_id"`
	Action            string     `json:"action"`
	Reason            *string    `json:"reason,omitempty"`
	ApprovalLevel     int        `json:"approval_level"`
	ApproverID        string     `json:"approver_id"`
	ApproverName      string     `json:"approver_name,omitempty"`
	DelegateID        *string    `json:"delegate_id,omitempty"`
	DelegateName      string     `json:"delegate_name,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	Overdue           bool       `json:"overdue"`
	CompletedWorkflow bool       `json:"completed_workflow"`
}

// StepSummary is one row of the per-step history in a completion event.
type StepSummary struct {
	Level         int        `json:"level"`
	Action        string     `json:"action"`
	ApproverID    string     `json:"approver_id"`
	DelegateID    *string    `json:"delegate_id,omitempty"`
	AssignedAt    time.Time  `json:"assigned_at"`
	ActionTakenAt *time.Time `json:"action_taken_at,omitempty"`
	Overdue       bool       `json:"overdue"`
}

// WorkflowCompletedEvent announces a workflow reaching a terminal status.
type WorkflowCompletedEvent struct {
	WorkflowID    string        `json:"workflow_id"`
	FinalStatus   string        `json:"final_status"`
	DurationHours float64       `json:"duration_hours"`
	Steps         []StepSummary `json:"steps"`
	Reason        *string       `json:"reason,omitempty"`
}

// WorkflowInitiated publishes a workflow_initiated event.
func (p *NotificationPublisher) WorkflowInitiated(ctx context.Context, evt *WorkflowInitiatedEvent) {
	p.publish(ctx, "workflow_initiated", evt.WorkflowID, evt)
}

// ActionProcessed publishes an approval_action_processed event.
func (p *NotificationPublisher) ActionProcessed(ctx context.Context, evt *ActionProcessedEvent) {
	p.publish(ctx, "approval_action_processed", evt.WorkflowID, evt)
}

// WorkflowCompleted publishes a workflow_completed event.
func (p *NotificationPublisher) WorkflowCompleted(ctx context.Context, evt *WorkflowCompletedEvent) {
	p.publish(ctx, "workflow_completed", evt.WorkflowID, evt)
}

func (p *NotificationPublisher) publish(_ context.Context, eventType, workflowID string, payload any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("workflow_id", workflowID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", workflowID).
		Msg("notification: event published")
}
