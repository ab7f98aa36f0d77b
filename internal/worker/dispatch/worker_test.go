package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/classify"
	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository/memory"
	tasksvc "github.com/acme/call-task-engine/internal/service/task"
)

type fakeBridge struct {
	err   error
	calls int
}

func (b *fakeBridge) InitiateCall(_ context.Context, _ uuid.UUID, _ string) error {
	b.calls++
	return b.err
}

func setup(t *testing.T, bridgeErr error) (*Worker, *memory.TaskStore, *domain.CallTask, *fakeBridge) {
	t.Helper()

	store := memory.NewTaskStore()
	policies := memory.NewPolicyStore()

	agentID := uuid.New()
	policies.Put(domain.AgentPolicy{
		AgentID:       agentID,
		RetryInterval: 30 * time.Minute,
		MaxRetries:    3,
		Workdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		CallFrom: time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC),
		CallTo:   time.Date(0, 1, 1, 23, 59, 0, 0, time.UTC),
	})

	now := time.Now().UTC()
	task := &domain.CallTask{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		AgentID:   agentID,
		Phone:     "+15550005555",
		Status:    domain.TaskStatusCallTriggered,
		NextCall:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}

	svc := tasksvc.NewService(store, policies, nil, nil, classify.DefaultTable(), zap.NewNop())
	callBridge := &fakeBridge{err: bridgeErr}
	worker := New(nil, &config.Config{}, store, policies, svc, callBridge, nil, zap.NewNop())
	return worker, store, task, callBridge
}

func dispatchMessage(task *domain.CallTask) queue.DispatchMessage {
	return queue.DispatchMessage{
		TaskID:    task.ID,
		LeadID:    task.LeadID,
		AgentID:   task.AgentID,
		Phone:     task.Phone,
		Attempts:  task.Attempts,
		ClaimedAt: time.Now().UTC(),
	}
}

func TestProcessDispatchMovesTaskInProgress(t *testing.T) {
	worker, store, task, callBridge := setup(t, nil)

	if err := worker.processDispatch(context.Background(), dispatchMessage(task)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if callBridge.calls != 1 {
		t.Fatalf("expected one bridge call, got %d", callBridge.calls)
	}

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
}

func TestProcessDispatchInitiationFailureSchedulesRetry(t *testing.T) {
	worker, store, task, _ := setup(t, errors.New("telephony rejected"))

	before := time.Now().UTC()
	if err := worker.processDispatch(context.Background(), dispatchMessage(task)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusRetry {
		t.Fatalf("status = %s, want retry", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if !got.NextCall.After(before) {
		t.Fatalf("next_call %v not in the future", got.NextCall)
	}
}

func TestProcessDispatchInitiationFailureExhaustsBudget(t *testing.T) {
	worker, store, task, _ := setup(t, errors.New("telephony rejected"))

	// Budget is max_retries=3: an initiation failure at attempts=2 is
	// the third strike and deletes the task.
	exhausted := &domain.CallTask{
		ID:        uuid.New(),
		LeadID:    task.LeadID,
		AgentID:   task.AgentID,
		Phone:     task.Phone,
		Status:    domain.TaskStatusCallTriggered,
		Attempts:  2,
		NextCall:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.Create(context.Background(), exhausted); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := worker.processDispatch(context.Background(), dispatchMessage(exhausted)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := store.Get(context.Background(), exhausted.ID); err == nil {
		t.Fatalf("exhausted task should be deleted")
	}
}

func TestProcessDispatchGuardFailureIsNoop(t *testing.T) {
	worker, store, task, callBridge := setup(t, nil)

	// Another actor already moved the task forward.
	if ok, err := store.GuardTransition(context.Background(), task.ID, domain.TaskStatusCallTriggered, domain.TaskStatusInProgress); err != nil || !ok {
		t.Fatalf("seed guard failed: ok=%v err=%v", ok, err)
	}

	if err := worker.processDispatch(context.Background(), dispatchMessage(task)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if callBridge.calls != 0 {
		t.Fatalf("bridge must not be called after a lost guard, got %d calls", callBridge.calls)
	}
}
