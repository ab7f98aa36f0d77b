package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/repository"
)

const taskColumns = `id, lead_id, agent_id, phone, status, attempts, next_call, created_at, updated_at`

// TaskRepository persists call tasks in PostgreSQL. All competing
// mutations are single conditional statements guarded by the previous
// status value, never read-then-write.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs the repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *domain.CallTask) error {
	q := `INSERT INTO call_tasks (id, lead_id, agent_id, phone, status, attempts, next_call, created_at, updated_at)
		VALUES (:id, :lead_id, :agent_id, :phone, :status, :attempts, :next_call, :created_at, :updated_at)`

	params := map[string]any{
		"id":         task.ID,
		"lead_id":    task.LeadID,
		"agent_id":   task.AgentID,
		"phone":      task.Phone,
		"status":     task.Status,
		"attempts":   task.Attempts,
		"next_call":  task.NextCall,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("task repo: insert: %w", err)
	}
	return nil
}

// Get fetches a task by id.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallTask, error) {
	q := `SELECT ` + taskColumns + ` FROM call_tasks WHERE id = $1`

	var rec taskRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("task repo: get: %w", err)
	}

	task := rec.toDomain()
	return &task, nil
}

// ClaimDue atomically claims due tasks for the agent. The status filter
// appears both in the candidate subquery and in the update predicate, so
// when two schedulers race on the same row exactly one conditional update
// succeeds; SKIP LOCKED keeps the loser from blocking.
func (r *TaskRepository) ClaimDue(ctx context.Context, agentID uuid.UUID, now time.Time, limit int) ([]domain.CallTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	q := `UPDATE call_tasks SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM call_tasks
			WHERE agent_id = $3 AND status IN ($4, $5) AND next_call <= $6
			ORDER BY next_call ASC
			LIMIT $7
			FOR UPDATE SKIP LOCKED
		) AND status IN ($4, $5)
		RETURNING ` + taskColumns

	rows, err := r.db.QueryxContext(ctx, q,
		domain.TaskStatusCallTriggered, now.UTC(),
		agentID, domain.TaskStatusScheduled, domain.TaskStatusRetry, now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("task repo: claim due: %w", err)
	}
	defer rows.Close()

	var claimed []domain.CallTask
	for rows.Next() {
		var rec taskRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("task repo: claim scan: %w", err)
		}
		claimed = append(claimed, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task repo: claim rows: %w", err)
	}

	return claimed, nil
}

// GuardTransition compare-and-sets the task status. A zero-row result
// means another actor already moved the task and is reported as false.
func (r *TaskRepository) GuardTransition(ctx context.Context, id uuid.UUID, expected, next domain.TaskStatus) (bool, error) {
	if !domain.CanTransition(expected, next) {
		return false, fmt.Errorf("task repo: illegal transition %s -> %s", expected, next)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE call_tasks SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		next, time.Now().UTC(), id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("task repo: guard transition: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateForRetry moves the task to RETRY with the new schedule, guarded
// on the expected current status so duplicate outcomes cannot double-apply.
func (r *TaskRepository) UpdateForRetry(ctx context.Context, id uuid.UUID, expected domain.TaskStatus, nextCall time.Time, attempts int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_tasks SET status = $1, next_call = $2, attempts = $3, updated_at = $4 WHERE id = $5 AND status = $6`,
		domain.TaskStatusRetry, nextCall.UTC(), attempts, time.Now().UTC(), id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("task repo: update for retry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteIfStatus deletes the task when its status matches expected.
func (r *TaskRepository) DeleteIfStatus(ctx context.Context, id uuid.UUID, expected domain.TaskStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM call_tasks WHERE id = $1 AND status = $2`, id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("task repo: delete: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task repo: rows affected: %w", err)
	}
	return n > 0, nil
}

// FindActiveByTriple returns the most recent in-flight task matching the
// lead-agent-phone triple. The triple is a weak reference: multiple
// historical tasks may have shared it, and no match is a valid result.
func (r *TaskRepository) FindActiveByTriple(ctx context.Context, leadID, agentID uuid.UUID, phone string) (*domain.CallTask, error) {
	q := `SELECT ` + taskColumns + ` FROM call_tasks
		WHERE lead_id = $1 AND agent_id = $2 AND phone = $3 AND status IN ($4, $5)
		ORDER BY updated_at DESC
		LIMIT 1`

	var rec taskRecord
	err := r.db.QueryRowxContext(ctx, q, leadID, agentID, phone,
		domain.TaskStatusCallTriggered, domain.TaskStatusInProgress).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("task repo: find by triple: %w", err)
	}

	task := rec.toDomain()
	return &task, nil
}

// CountActive counts in-flight tasks for capacity checks.
func (r *TaskRepository) CountActive(ctx context.Context, agentID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM call_tasks WHERE agent_id = $1 AND status IN ($2, $3)`,
		agentID, domain.TaskStatusCallTriggered, domain.TaskStatusInProgress,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("task repo: count active: %w", err)
	}
	return count, nil
}

// AgentsWithDueTasks lists agents holding claimable work.
func (r *TaskRepository) AgentsWithDueTasks(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT DISTINCT agent_id FROM call_tasks WHERE status IN ($1, $2) AND next_call <= $3 LIMIT $4`,
		domain.TaskStatusScheduled, domain.TaskStatusRetry, now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("task repo: agents with due tasks: %w", err)
	}
	defer rows.Close()

	var agents []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("task repo: agent scan: %w", err)
		}
		agents = append(agents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task repo: agent rows: %w", err)
	}
	return agents, nil
}

// DeleteStale removes in-flight tasks untouched since the cutoff.
func (r *TaskRepository) DeleteStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryxContext(ctx,
		`DELETE FROM call_tasks WHERE status IN ($1, $2) AND updated_at < $3 RETURNING id`,
		domain.TaskStatusCallTriggered, domain.TaskStatusInProgress, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("task repo: delete stale: %w", err)
	}
	defer rows.Close()

	var reaped []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("task repo: stale scan: %w", err)
		}
		reaped = append(reaped, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task repo: stale rows: %w", err)
	}
	return reaped, nil
}

type taskRecord struct {
	ID        uuid.UUID `db:"id"`
	LeadID    uuid.UUID `db:"lead_id"`
	AgentID   uuid.UUID `db:"agent_id"`
	Phone     string    `db:"phone"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	NextCall  time.Time `db:"next_call"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r taskRecord) toDomain() domain.CallTask {
	return domain.CallTask{
		ID:        r.ID,
		LeadID:    r.LeadID,
		AgentID:   r.AgentID,
		Phone:     r.Phone,
		Status:    domain.TaskStatus(r.Status),
		Attempts:  r.Attempts,
		NextCall:  r.NextCall,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
