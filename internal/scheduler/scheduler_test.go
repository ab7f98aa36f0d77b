package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository/memory"
)

type publisherRecorder struct {
	mu       sync.Mutex
	messages []queue.DispatchMessage
	fail     bool
}

func (p *publisherRecorder) PublishDispatch(_ context.Context, msg queue.DispatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *publisherRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func testPolicy(agentID uuid.UUID, maxConcurrent int) domain.AgentPolicy {
	return domain.AgentPolicy{
		AgentID:       agentID,
		RetryInterval: 30 * time.Minute,
		MaxRetries:    3,
		Workdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		CallFrom:           time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC),
		CallTo:             time.Date(0, 1, 1, 23, 59, 0, 0, time.UTC),
		MaxConcurrentCalls: maxConcurrent,
	}
}

func seedTask(t *testing.T, store *memory.TaskStore, agentID uuid.UUID, status domain.TaskStatus, nextCall time.Time) *domain.CallTask {
	t.Helper()
	now := time.Now().UTC()
	task := &domain.CallTask{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		AgentID:   agentID,
		Phone:     "+15550004444",
		Status:    status,
		NextCall:  nextCall,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}
	return task
}

func TestTickClaimsAndPublishesDueTasks(t *testing.T) {
	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()
	publisher := &publisherRecorder{}

	agentID := uuid.New()
	policies.Put(testPolicy(agentID, 5))

	now := time.Now().UTC()
	due := seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))
	seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(time.Hour))

	s := New(store, policies, publisher, config.SchedulerConfig{MaxBatchSize: 10, AgentFetchLimit: 10}, zap.NewNop())
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if publisher.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", publisher.count())
	}
	if publisher.messages[0].TaskID != due.ID {
		t.Fatalf("dispatched wrong task %s", publisher.messages[0].TaskID)
	}

	claimed, err := store.Get(context.Background(), due.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if claimed.Status != domain.TaskStatusCallTriggered {
		t.Fatalf("claimed task status = %s, want call_triggered", claimed.Status)
	}
}

func TestTickHonorsAgentCapacity(t *testing.T) {
	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()
	publisher := &publisherRecorder{}

	agentID := uuid.New()
	policies.Put(testPolicy(agentID, 2))

	now := time.Now().UTC()
	// One call already in flight leaves room for exactly one claim.
	seedTask(t, store, agentID, domain.TaskStatusInProgress, now.Add(-time.Hour))
	seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-3*time.Minute))
	seedTask(t, store, agentID, domain.TaskStatusRetry, now.Add(-2*time.Minute))
	seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))

	s := New(store, policies, publisher, config.SchedulerConfig{MaxBatchSize: 10, AgentFetchLimit: 10}, zap.NewNop())
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if publisher.count() != 1 {
		t.Fatalf("expected capacity-bounded single dispatch, got %d", publisher.count())
	}
}

func TestTickSkipsAgentAtFullCapacity(t *testing.T) {
	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()
	publisher := &publisherRecorder{}

	agentID := uuid.New()
	policies.Put(testPolicy(agentID, 1))

	now := time.Now().UTC()
	seedTask(t, store, agentID, domain.TaskStatusInProgress, now.Add(-time.Hour))
	seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))

	s := New(store, policies, publisher, config.SchedulerConfig{MaxBatchSize: 10, AgentFetchLimit: 10}, zap.NewNop())
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if publisher.count() != 0 {
		t.Fatalf("expected no dispatch at full capacity, got %d", publisher.count())
	}
}

func TestPublishFailureRollsClaimBack(t *testing.T) {
	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()
	publisher := &publisherRecorder{fail: true}

	agentID := uuid.New()
	policies.Put(testPolicy(agentID, 5))

	now := time.Now().UTC()
	task := seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))

	s := New(store, policies, publisher, config.SchedulerConfig{MaxBatchSize: 10, AgentFetchLimit: 10}, zap.NewNop())
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusRetry {
		t.Fatalf("task status = %s, want retry after rollback", got.Status)
	}
}

func TestUnknownAgentPolicySkipsAgent(t *testing.T) {
	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()
	publisher := &publisherRecorder{}

	agentID := uuid.New()
	now := time.Now().UTC()
	task := seedTask(t, store, agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))

	s := New(store, policies, publisher, config.SchedulerConfig{MaxBatchSize: 10, AgentFetchLimit: 10}, zap.NewNop())
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if publisher.count() != 0 {
		t.Fatalf("expected no dispatch without a policy, got %d", publisher.count())
	}
	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusScheduled {
		t.Fatalf("task must stay claimable, got %s", got.Status)
	}
}
