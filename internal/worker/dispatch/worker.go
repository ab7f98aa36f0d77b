package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/bridge"
	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository"
	"github.com/acme/call-task-engine/internal/service/concurrency"
	tasksvc "github.com/acme/call-task-engine/internal/service/task"
)

// Worker consumes claimed-task hand-offs and triggers the call bridge.
type Worker struct {
	kafka          *queue.Kafka
	cfg            *config.Config
	store          repository.TaskStore
	policies       repository.AgentPolicyStore
	tasks          *tasksvc.Service
	bridge         bridge.CallBridge
	limiter        *concurrency.Limiter
	requestTimeout time.Duration
	logger         *zap.Logger
}

// New creates a new dispatch worker.
func New(
	kafka *queue.Kafka,
	cfg *config.Config,
	store repository.TaskStore,
	policies repository.AgentPolicyStore,
	tasks *tasksvc.Service,
	callBridge bridge.CallBridge,
	limiter *concurrency.Limiter,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CallBridge.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		kafka:          kafka,
		cfg:            cfg,
		store:          store,
		policies:       policies,
		tasks:          tasks,
		bridge:         callBridge,
		limiter:        limiter,
		requestTimeout: timeout,
		logger:         logger,
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	reader := w.kafka.NewReader(w.cfg.Kafka.DispatchTopic, w.cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dispatch worker: fetch message", zap.Error(err))
			continue
		}

		var msg queue.DispatchMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			w.logger.Error("dispatch worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		if err := w.processDispatch(ctx, msg); err != nil {
			w.logger.Error("dispatch worker: process", zap.Error(err))
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			w.logger.Error("dispatch worker: commit", zap.Error(err))
		}
	}
}

// processDispatch re-verifies the claim, invokes the call bridge, and on
// synchronous initiation failure applies the same retry-with-increment
// policy as a user non-connection: a call that never left the ground
// failed for the same budget.
func (w *Worker) processDispatch(ctx context.Context, msg queue.DispatchMessage) error {
	tracer := otel.Tracer("calltask.dispatchworker")
	sctx, span := tracer.Start(ctx, "dispatch.call", trace.WithAttributes(
		attribute.String("task.id", msg.TaskID.String()),
		attribute.String("agent.id", msg.AgentID.String()),
		attribute.Int("attempts", msg.Attempts),
	))
	defer span.End()

	claimed, err := w.store.GuardTransition(sctx, msg.TaskID, domain.TaskStatusCallTriggered, domain.TaskStatusInProgress)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dispatch worker: guard: %w", err)
	}
	if !claimed {
		// Duplicate hand-off or a task already resolved elsewhere.
		w.logger.Debug("dispatch worker: task no longer claimable",
			zap.String("task_id", msg.TaskID.String()))
		return nil
	}

	release, err := w.waitForSlot(sctx, msg)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if release != nil {
		defer release()
	}

	callCtx, cancel := context.WithTimeout(sctx, w.requestTimeout)
	callErr := w.bridge.InitiateCall(callCtx, msg.AgentID, msg.Phone)
	cancel()

	if callErr == nil {
		// The call is on the wire; the feedback worker resolves the
		// task when the outcome event arrives.
		w.logger.Info("dispatch worker: call initiated",
			zap.String("task_id", msg.TaskID.String()),
			zap.String("phone", msg.Phone))
		return nil
	}

	span.RecordError(callErr)
	w.logger.Warn("dispatch worker: initiation failed",
		zap.String("task_id", msg.TaskID.String()), zap.Error(callErr))

	task, err := w.store.Get(sctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("dispatch worker: reload task: %w", err)
	}

	disposition, err := w.tasks.RetryWithIncrement(sctx, *task, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dispatch worker: apply initiation failure: %w", err)
	}
	span.SetAttributes(attribute.String("disposition", disposition))
	return nil
}

func (w *Worker) waitForSlot(ctx context.Context, msg queue.DispatchMessage) (func(), error) {
	if w.limiter == nil {
		return nil, nil
	}

	limit := 0
	if policy, err := w.policies.Get(ctx, msg.AgentID); err == nil {
		limit = policy.MaxConcurrentCalls
	}
	if limit <= 0 {
		return nil, nil
	}

	for {
		acquired, err := w.limiter.Acquire(ctx, msg.AgentID, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if acquired {
			release := func() {
				if err := w.limiter.Release(context.Background(), msg.AgentID); err != nil {
					w.logger.Warn("dispatch worker: release slot", zap.Error(err))
				}
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
