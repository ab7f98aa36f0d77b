package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/domain"
	apperrors "github.com/acme/call-task-engine/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// TaskStore is the authoritative record of task state. Every mutation that
// competes with another actor is a guarded conditional write: zero rows
// affected means someone else already moved the task forward, and the
// caller treats that as a no-op, never an error.
type TaskStore interface {
	// Create inserts a task. External scheduling clients create tasks in
	// SCHEDULED with attempts zero.
	Create(ctx context.Context, task *domain.CallTask) error

	// Get fetches a task by id.
	Get(ctx context.Context, id uuid.UUID) (*domain.CallTask, error)

	// ClaimDue atomically selects up to limit tasks for the agent whose
	// next_call has passed and whose status is claimable, flipping each
	// to CALL_TRIGGERED in the same conditional update. Two racing
	// claimers can never both receive the same task.
	ClaimDue(ctx context.Context, agentID uuid.UUID, now time.Time, limit int) ([]domain.CallTask, error)

	// GuardTransition performs a compare-and-set on the task status.
	// Returns false when the current status does not match expected.
	GuardTransition(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus) (bool, error)

	// UpdateForRetry moves the task to RETRY with a new next_call and
	// attempt count, guarded on the expected current status.
	UpdateForRetry(ctx context.Context, id uuid.UUID, expected domain.TaskStatus, nextCall time.Time, attempts int) (bool, error)

	// DeleteIfStatus deletes the task only when its current status
	// matches expected. Deletion is the sole terminal transition.
	DeleteIfStatus(ctx context.Context, id uuid.UUID, expected domain.TaskStatus) (bool, error)

	// FindActiveByTriple locates the task awaiting an outcome for the
	// lead-agent-phone triple. ErrNotFound is an expected, frequent
	// result: manual and ad-hoc calls have no task.
	FindActiveByTriple(ctx context.Context, leadID, agentID uuid.UUID, phone string) (*domain.CallTask, error)

	// CountActive counts the agent's tasks currently in flight.
	CountActive(ctx context.Context, agentID uuid.UUID) (int, error)

	// AgentsWithDueTasks lists agents that have claimable work.
	AgentsWithDueTasks(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// DeleteStale removes in-flight tasks not touched since the cutoff
	// and returns their ids. This is the reaper's backstop for crashed
	// workers.
	DeleteStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// AgentPolicyStore is a read-only lookup of per-agent calling policy,
// owned by the CRM collaborator.
type AgentPolicyStore interface {
	Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentPolicy, error)
}

// OutcomeStore keeps the append-only history of processed outcomes.
type OutcomeStore interface {
	Append(ctx context.Context, record domain.OutcomeRecord) error
}
