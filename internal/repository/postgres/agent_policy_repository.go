package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/repository"
)

// AgentPolicyRepository reads per-agent calling policy. The table is
// owned by the CRM collaborator; this engine never writes to it.
type AgentPolicyRepository struct {
	db *sqlx.DB
}

// NewAgentPolicyRepository constructs the repository.
func NewAgentPolicyRepository(db *sqlx.DB) *AgentPolicyRepository {
	return &AgentPolicyRepository{db: db}
}

// Get fetches the policy for an agent.
func (r *AgentPolicyRepository) Get(ctx context.Context, agentID uuid.UUID) (*domain.AgentPolicy, error) {
	q := `SELECT agent_id, retry_interval_ms, max_retries, workdays, call_from, call_to, time_zone, max_concurrent_calls
		FROM agent_policies WHERE agent_id = $1`

	var rec policyRecord
	if err := r.db.QueryRowxContext(ctx, q, agentID).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent policy repo: get: %w", err)
	}

	return rec.toDomain()
}

type policyRecord struct {
	AgentID            uuid.UUID `db:"agent_id"`
	RetryIntervalMs    int64     `db:"retry_interval_ms"`
	MaxRetries         int       `db:"max_retries"`
	Workdays           string    `db:"workdays"`
	CallFrom           string    `db:"call_from"`
	CallTo             string    `db:"call_to"`
	TimeZone           string    `db:"time_zone"`
	MaxConcurrentCalls int       `db:"max_concurrent_calls"`
}

func (r policyRecord) toDomain() (*domain.AgentPolicy, error) {
	workdays, err := parseWorkdays(r.Workdays)
	if err != nil {
		return nil, fmt.Errorf("agent policy repo: %w", err)
	}

	from, err := parseWallClock(r.CallFrom)
	if err != nil {
		return nil, fmt.Errorf("agent policy repo: call_from: %w", err)
	}
	to, err := parseWallClock(r.CallTo)
	if err != nil {
		return nil, fmt.Errorf("agent policy repo: call_to: %w", err)
	}

	return &domain.AgentPolicy{
		AgentID:            r.AgentID,
		RetryInterval:      time.Duration(r.RetryIntervalMs) * time.Millisecond,
		MaxRetries:         r.MaxRetries,
		Workdays:           workdays,
		CallFrom:           from,
		CallTo:             to,
		TimeZone:           r.TimeZone,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
	}, nil
}

// parseWorkdays decodes a comma separated list of weekday numbers
// (0=Sunday, per time.Weekday).
func parseWorkdays(raw string) ([]time.Weekday, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid workday %q", part)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

// parseWallClock decodes an HH:MM value onto the zero date.
func parseWallClock(raw string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
