package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/call-task-engine/internal/domain"
)

// OutcomeStore appends processed outcome history to Scylla, partitioned
// by agent and day bucket. The history is write-only from the engine's
// perspective; operators read it through their own tooling.
type OutcomeStore struct {
	session *gocql.Session
}

// NewOutcomeStore creates the store.
func NewOutcomeStore(session *gocql.Session) *OutcomeStore {
	return &OutcomeStore{session: session}
}

// Append inserts one history row.
func (s *OutcomeStore) Append(ctx context.Context, record domain.OutcomeRecord) error {
	bucket := bucketDate(record.OccurredAt)
	durationMs := int64(record.Duration / time.Millisecond)

	if err := s.session.Query(`INSERT INTO outcomes_by_agent (agent_id, bucket, event_id, task_id, lead_id, phone, disconnection_reason, verdict, disposition, duration_ms, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AgentID.String(), bucket, record.EventID.String(), record.TaskID.String(), record.LeadID.String(),
		record.Phone, record.DisconnectionReason, record.Verdict, record.Disposition, durationMs, record.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("outcome store: insert outcomes_by_agent: %w", err)
	}

	return nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
