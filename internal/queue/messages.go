package queue

import (
	"time"

	"github.com/google/uuid"
)

// DispatchMessage hands a claimed task to the dispatch worker. Delivery
// is at-least-once; the worker's CALL_TRIGGERED guard makes redelivery
// harmless.
type DispatchMessage struct {
	TaskID    uuid.UUID `json:"task_id"`
	LeadID    uuid.UUID `json:"lead_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Phone     string    `json:"phone"`
	Attempts  int       `json:"attempts"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// OutcomeMessage transports an outcome event from the ingest side to the
// feedback worker. It may describe a call that no task ever scheduled.
type OutcomeMessage struct {
	EventID             uuid.UUID      `json:"event_id"`
	LeadID              uuid.UUID      `json:"lead_id"`
	AgentID             uuid.UUID      `json:"agent_id"`
	Phone               string         `json:"phone"`
	DisconnectionReason string         `json:"disconnection_reason"`
	DurationMs          int64          `json:"duration_ms"`
	OccurredAt          time.Time      `json:"occurred_at"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// DiagnosticMessage flags a disconnection reason the classification table
// has not been taught about. The task was deleted fail-safe; operators use
// this stream to extend the table.
type DiagnosticMessage struct {
	TaskID              uuid.UUID `json:"task_id"`
	LeadID              uuid.UUID `json:"lead_id"`
	AgentID             uuid.UUID `json:"agent_id"`
	Phone               string    `json:"phone"`
	DisconnectionReason string    `json:"disconnection_reason"`
	OccurredAt          time.Time `json:"occurred_at"`
}
