package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/domain"
)

func newTask(agentID uuid.UUID, status domain.TaskStatus, nextCall time.Time) *domain.CallTask {
	now := time.Now().UTC()
	return &domain.CallTask{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		AgentID:   agentID,
		Phone:     "+15550001111",
		Status:    status,
		NextCall:  nextCall,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConcurrentClaimYieldsSingleWinner(t *testing.T) {
	store := NewTaskStore()
	agentID := uuid.New()
	now := time.Now().UTC()

	task := newTask(agentID, domain.TaskStatusScheduled, now.Add(-time.Minute))
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan int, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimDue(context.Background(), agentID, now, 10)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			results <- len(claimed)
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", total)
	}
}

func TestClaimDueSkipsFutureAndInFlight(t *testing.T) {
	store := NewTaskStore()
	agentID := uuid.New()
	now := time.Now().UTC()

	due := newTask(agentID, domain.TaskStatusRetry, now.Add(-time.Hour))
	future := newTask(agentID, domain.TaskStatusScheduled, now.Add(time.Hour))
	inFlight := newTask(agentID, domain.TaskStatusInProgress, now.Add(-time.Hour))
	for _, task := range []*domain.CallTask{due, future, inFlight} {
		if err := store.Create(context.Background(), task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := store.ClaimDue(context.Background(), agentID, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("expected only the due retry task to be claimed, got %v", claimed)
	}
	if claimed[0].Status != domain.TaskStatusCallTriggered {
		t.Fatalf("claimed task not flipped to call_triggered: %s", claimed[0].Status)
	}
}

func TestGuardTransitionRejectsStaleExpectation(t *testing.T) {
	store := NewTaskStore()
	agentID := uuid.New()
	task := newTask(agentID, domain.TaskStatusCallTriggered, time.Now().UTC())
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.GuardTransition(context.Background(), task.ID, domain.TaskStatusCallTriggered, domain.TaskStatusInProgress)
	if err != nil || !ok {
		t.Fatalf("first guard should succeed, got ok=%v err=%v", ok, err)
	}

	// A late duplicate hand-off observes the changed status and no-ops.
	ok, err = store.GuardTransition(context.Background(), task.ID, domain.TaskStatusCallTriggered, domain.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("second guard errored: %v", err)
	}
	if ok {
		t.Fatalf("second guard should have been a no-op")
	}
}

func TestFindActiveByTriplePrefersMostRecent(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()
	leadID, agentID := uuid.New(), uuid.New()
	phone := "+15550002222"

	older := newTask(agentID, domain.TaskStatusInProgress, time.Now().UTC())
	older.LeadID = leadID
	older.Phone = phone
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)

	newer := newTask(agentID, domain.TaskStatusInProgress, time.Now().UTC())
	newer.LeadID = leadID
	newer.Phone = phone

	for _, task := range []*domain.CallTask{older, newer} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	found, err := store.FindActiveByTriple(ctx, leadID, agentID, phone)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != newer.ID {
		t.Fatalf("expected most recent task, got %s", found.ID)
	}
}

func TestDeleteStaleOnlyTouchesInFlight(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()
	agentID := uuid.New()
	cutoff := time.Now().UTC().Add(-30 * time.Minute)

	staleInProgress := newTask(agentID, domain.TaskStatusInProgress, time.Now().UTC())
	staleInProgress.UpdatedAt = cutoff.Add(-time.Hour)
	staleRetry := newTask(agentID, domain.TaskStatusRetry, time.Now().UTC())
	staleRetry.UpdatedAt = cutoff.Add(-time.Hour)
	freshInProgress := newTask(agentID, domain.TaskStatusInProgress, time.Now().UTC())

	for _, task := range []*domain.CallTask{staleInProgress, staleRetry, freshInProgress} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	reaped, err := store.DeleteStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != staleInProgress.ID {
		t.Fatalf("expected only the stale in-flight task reaped, got %v", reaped)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 surviving tasks, got %d", store.Len())
	}
}
