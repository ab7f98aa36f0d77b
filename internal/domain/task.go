package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates lifecycle states of a call task. There is no
// terminal status: a finished task is deleted, not marked done.
type TaskStatus string

const (
	TaskStatusScheduled     TaskStatus = "scheduled"
	TaskStatusCallTriggered TaskStatus = "call_triggered"
	TaskStatusInProgress    TaskStatus = "in_progress"
	TaskStatusRetry         TaskStatus = "retry"
)

// legalTransitions captures every guarded transition the engine performs.
// Deletion is legal from any state and is not listed here.
var legalTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusScheduled:     {TaskStatusCallTriggered},
	TaskStatusRetry:         {TaskStatusCallTriggered},
	TaskStatusCallTriggered: {TaskStatusInProgress, TaskStatusRetry},
	TaskStatusInProgress:    {TaskStatusRetry},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Claimable reports whether the status makes a task eligible for claiming.
func (s TaskStatus) Claimable() bool {
	return s == TaskStatusScheduled || s == TaskStatusRetry
}

// InFlight reports whether the task is between claim and outcome, the
// states the reaper is allowed to scavenge.
func (s TaskStatus) InFlight() bool {
	return s == TaskStatusCallTriggered || s == TaskStatusInProgress
}

// CallTask is the unit of scheduled work: one pending or retrying call
// attempt for a lead-agent-phone triple. Lead, agent and phone are weak
// references used for outcome matching, not ownership.
type CallTask struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	AgentID   uuid.UUID
	Phone     string
	Status    TaskStatus
	Attempts  int
	NextCall  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentPolicy is the read-only per-agent configuration supplied by the
// CRM collaborator. CallFrom and CallTo carry only wall-clock time on the
// zero date.
type AgentPolicy struct {
	AgentID            uuid.UUID
	RetryInterval      time.Duration
	MaxRetries         int
	Workdays           []time.Weekday
	CallFrom           time.Time
	CallTo             time.Time
	TimeZone           string
	MaxConcurrentCalls int
}

// AllowsWeekday reports whether the weekday is one of the agent's workdays.
func (p AgentPolicy) AllowsWeekday(day time.Weekday) bool {
	for _, d := range p.Workdays {
		if d == day {
			return true
		}
	}
	return false
}

// Location resolves the policy time zone, defaulting to UTC when unset or
// unknown.
func (p AgentPolicy) Location() *time.Location {
	if p.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OutcomeEvent is the external report of how a dispatched call ended,
// correlated to a task by the lead-agent-phone triple. Events for triples
// with no matching task are expected (manual and ad-hoc calls).
type OutcomeEvent struct {
	EventID             uuid.UUID
	LeadID              uuid.UUID
	AgentID             uuid.UUID
	Phone               string
	DisconnectionReason string
	Duration            time.Duration
	OccurredAt          time.Time
	Metadata            map[string]any
}

// OutcomeRecord is the persisted history entry for a processed outcome,
// kept for operator visibility.
type OutcomeRecord struct {
	EventID             uuid.UUID
	AgentID             uuid.UUID
	LeadID              uuid.UUID
	TaskID              uuid.UUID
	Phone               string
	DisconnectionReason string
	Verdict             string
	Disposition         string
	Duration            time.Duration
	OccurredAt          time.Time
}
