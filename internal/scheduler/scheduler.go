package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository"
)

// Dispatcher pushes claimed tasks toward the dispatch workers.
type Dispatcher interface {
	PublishDispatch(ctx context.Context, msg queue.DispatchMessage) error
}

// Scheduler periodically claims due tasks, bounded by each agent's
// concurrent-call capacity, and hands them to the dispatch queue.
type Scheduler struct {
	store     repository.TaskStore
	policies  repository.AgentPolicyStore
	publisher Dispatcher
	cfg       config.SchedulerConfig
	logger    *zap.Logger
}

// New constructs a scheduler.
func New(store repository.TaskStore, policies repository.AgentPolicyStore, publisher Dispatcher, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, policies: policies, publisher: publisher, cfg: cfg, logger: logger}
}

// Run executes the claim loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	tracer := otel.Tracer("calltask.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := time.Now().UTC()
	agents, err := s.store.AgentsWithDueTasks(sctx, now, s.cfg.AgentFetchLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("agents.due", len(agents)))

	for _, agentID := range agents {
		actx, aspan := tracer.Start(sctx, "scheduler.agent", trace.WithAttributes(
			attribute.String("agent.id", agentID.String()),
		))
		s.claimForAgent(actx, agentID, now)
		aspan.End()
	}
	return nil
}

// claimForAgent claims up to the agent's remaining capacity and publishes
// each claimed task. Claim failures for one agent never stall the others.
func (s *Scheduler) claimForAgent(ctx context.Context, agentID uuid.UUID, now time.Time) {
	policy, err := s.policies.Get(ctx, agentID)
	if err != nil {
		s.logger.Warn("scheduler: agent policy lookup failed, skipping agent",
			zap.String("agent_id", agentID.String()), zap.Error(err))
		return
	}

	limit := s.cfg.MaxBatchSize
	if limit <= 0 {
		limit = 50
	}

	if policy.MaxConcurrentCalls > 0 {
		active, err := s.store.CountActive(ctx, agentID)
		if err != nil {
			s.logger.Error("scheduler: count active", zap.String("agent_id", agentID.String()), zap.Error(err))
			return
		}
		capacity := policy.MaxConcurrentCalls - active
		if capacity <= 0 {
			s.logger.Debug("scheduler: agent at capacity",
				zap.String("agent_id", agentID.String()), zap.Int("active", active))
			return
		}
		if capacity < limit {
			limit = capacity
		}
	}

	claimed, err := s.store.ClaimDue(ctx, agentID, now, limit)
	if err != nil {
		s.logger.Error("scheduler: claim due", zap.String("agent_id", agentID.String()), zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.Info("scheduler: claimed tasks",
		zap.String("agent_id", agentID.String()), zap.Int("count", len(claimed)))

	for _, task := range claimed {
		msg := queue.DispatchMessage{
			TaskID:    task.ID,
			LeadID:    task.LeadID,
			AgentID:   task.AgentID,
			Phone:     task.Phone,
			Attempts:  task.Attempts,
			ClaimedAt: now,
		}
		if err := s.publisher.PublishDispatch(ctx, msg); err != nil {
			s.logger.Error("scheduler: publish dispatch",
				zap.String("task_id", task.ID.String()), zap.Error(err))
			// Compensate so the claim does not strand the task; if the
			// guard also fails the reaper recovers it.
			if ok, gerr := s.store.GuardTransition(ctx, task.ID, domain.TaskStatusCallTriggered, domain.TaskStatusRetry); gerr != nil || !ok {
				s.logger.Warn("scheduler: claim rollback failed, reaper will recover",
					zap.String("task_id", task.ID.String()), zap.Error(gerr))
			}
		}
	}
}
