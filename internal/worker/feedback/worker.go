package feedback

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	tasksvc "github.com/acme/call-task-engine/internal/service/task"
)

// Worker consumes outcome events and feeds them to the lifecycle service.
// Delivery is at-least-once: a failed message is left uncommitted for
// redelivery, and the guarded transitions make redelivery a no-op once
// the task has moved on.
type Worker struct {
	kafka  *queue.Kafka
	cfg    *config.Config
	tasks  *tasksvc.Service
	logger *zap.Logger
}

// New creates a new feedback worker.
func New(kafka *queue.Kafka, cfg *config.Config, tasks *tasksvc.Service, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{kafka: kafka, cfg: cfg, tasks: tasks, logger: logger}
}

// Run processes outcome events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	groupID := w.cfg.Kafka.ConsumerGroupID + "-feedback"
	reader := w.kafka.NewReader(w.cfg.Kafka.OutcomeTopic, groupID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("feedback worker: fetch", zap.Error(err))
			continue
		}

		var outcome queue.OutcomeMessage
		if err := json.Unmarshal(msg.Value, &outcome); err != nil {
			w.logger.Error("feedback worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("calltask.feedbackworker")
		sctx, span := tracer.Start(ctx, "feedback.outcome", trace.WithAttributes(
			attribute.String("agent.id", outcome.AgentID.String()),
			attribute.String("reason", outcome.DisconnectionReason),
		))

		event := toDomain(outcome)
		if err := w.tasks.HandleOutcome(sctx, event); err != nil {
			span.RecordError(err)
			span.End()
			// Leave uncommitted so the transport redelivers. Permanent
			// failures fall through to the reaper.
			w.logger.Error("feedback worker: handle outcome", zap.Error(err))
			continue
		}
		span.End()

		if err := reader.CommitMessages(sctx, msg); err != nil {
			w.logger.Error("feedback worker: commit", zap.Error(err))
		}
	}
}

func toDomain(msg queue.OutcomeMessage) domain.OutcomeEvent {
	return domain.OutcomeEvent{
		EventID:             msg.EventID,
		LeadID:              msg.LeadID,
		AgentID:             msg.AgentID,
		Phone:               msg.Phone,
		DisconnectionReason: msg.DisconnectionReason,
		Duration:            time.Duration(msg.DurationMs) * time.Millisecond,
		OccurredAt:          msg.OccurredAt,
		Metadata:            msg.Metadata,
	}
}
