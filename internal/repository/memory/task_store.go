// Package memory provides in-memory store implementations honoring the
// same guarded-transition contract as the PostgreSQL repositories. They
// back the package tests across the scheduler, workers and reaper.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/repository"
)

// TaskStore is a mutex-guarded map implementing repository.TaskStore.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]domain.CallTask
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]domain.CallTask)}
}

// Create inserts a task.
func (s *TaskStore) Create(_ context.Context, task *domain.CallTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return repository.ErrConflict
	}
	s.tasks[task.ID] = *task
	return nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(_ context.Context, id uuid.UUID) (*domain.CallTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &task, nil
}

// ClaimDue atomically flips due claimable tasks to CALL_TRIGGERED.
func (s *TaskStore) ClaimDue(_ context.Context, agentID uuid.UUID, now time.Time, limit int) ([]domain.CallTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.CallTask
	for _, task := range s.tasks {
		if task.AgentID == agentID && task.Status.Claimable() && !task.NextCall.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCall.Before(due[j].NextCall) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.CallTask, 0, len(due))
	for _, task := range due {
		task.Status = domain.TaskStatusCallTriggered
		task.UpdatedAt = now
		s.tasks[task.ID] = task
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// GuardTransition compare-and-sets the task status.
func (s *TaskStore) GuardTransition(_ context.Context, id uuid.UUID, expected, next domain.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != expected {
		return false, nil
	}
	task.Status = next
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	return true, nil
}

// UpdateForRetry moves the task to RETRY, guarded on the expected status.
func (s *TaskStore) UpdateForRetry(_ context.Context, id uuid.UUID, expected domain.TaskStatus, nextCall time.Time, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != expected {
		return false, nil
	}
	task.Status = domain.TaskStatusRetry
	task.NextCall = nextCall
	task.Attempts = attempts
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	return true, nil
}

// DeleteIfStatus deletes the task when the status matches.
func (s *TaskStore) DeleteIfStatus(_ context.Context, id uuid.UUID, expected domain.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != expected {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

// FindActiveByTriple returns the most recent in-flight match.
func (s *TaskStore) FindActiveByTriple(_ context.Context, leadID, agentID uuid.UUID, phone string) (*domain.CallTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *domain.CallTask
	for id := range s.tasks {
		task := s.tasks[id]
		if task.LeadID != leadID || task.AgentID != agentID || task.Phone != phone || !task.Status.InFlight() {
			continue
		}
		if found == nil || task.UpdatedAt.After(found.UpdatedAt) {
			copied := task
			found = &copied
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

// CountActive counts in-flight tasks for the agent.
func (s *TaskStore) CountActive(_ context.Context, agentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.AgentID == agentID && task.Status.InFlight() {
			count++
		}
	}
	return count, nil
}

// AgentsWithDueTasks lists agents holding claimable work.
func (s *TaskStore) AgentsWithDueTasks(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var agents []uuid.UUID
	for _, task := range s.tasks {
		if task.Status.Claimable() && !task.NextCall.After(now) && !seen[task.AgentID] {
			seen[task.AgentID] = true
			agents = append(agents, task.AgentID)
		}
	}
	if limit > 0 && len(agents) > limit {
		agents = agents[:limit]
	}
	return agents, nil
}

// DeleteStale removes in-flight tasks untouched since the cutoff.
func (s *TaskStore) DeleteStale(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []uuid.UUID
	for id, task := range s.tasks {
		if task.Status.InFlight() && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			reaped = append(reaped, id)
		}
	}
	return reaped, nil
}

// Len reports the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// PolicyStore is a static in-memory repository.AgentPolicyStore.
type PolicyStore struct {
	mu       sync.Mutex
	policies map[uuid.UUID]domain.AgentPolicy
}

// NewPolicyStore creates an empty policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[uuid.UUID]domain.AgentPolicy)}
}

// Put registers a policy.
func (s *PolicyStore) Put(policy domain.AgentPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.AgentID] = policy
}

// Get fetches the policy for an agent.
func (s *PolicyStore) Get(_ context.Context, agentID uuid.UUID) (*domain.AgentPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[agentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &policy, nil
}
