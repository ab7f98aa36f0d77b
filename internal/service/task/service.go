package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/callwindow"
	"github.com/acme/call-task-engine/internal/classify"
	"github.com/acme/call-task-engine/internal/domain"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository"
)

// DiagnosticSink receives signals about unclassified disconnection reasons.
type DiagnosticSink interface {
	PublishDiagnostic(ctx context.Context, msg queue.DiagnosticMessage) error
}

// Dispositions recorded in the outcome history.
const (
	DispositionDeleted    = "deleted"
	DispositionRetry      = "retry_scheduled"
	DispositionNoMatch    = "no_match"
	DispositionSuperseded = "superseded"
)

const verdictUnclassified = "unclassified"

// Service applies the retry policy to tasks. It is the single place where
// an outcome (asynchronous or inline dispatch failure) becomes a guarded
// task mutation, so the dispatcher and the feedback worker cannot drift
// apart in policy.
type Service struct {
	store       repository.TaskStore
	policies    repository.AgentPolicyStore
	outcomes    repository.OutcomeStore
	diagnostics DiagnosticSink
	table       classify.Table
	logger      *zap.Logger
}

// NewService builds the lifecycle service. outcomes and diagnostics may be
// nil when history or diagnostics are not wired (tests, trimmed deploys).
func NewService(
	store repository.TaskStore,
	policies repository.AgentPolicyStore,
	outcomes repository.OutcomeStore,
	diagnostics DiagnosticSink,
	table classify.Table,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		policies:    policies,
		outcomes:    outcomes,
		diagnostics: diagnostics,
		table:       table,
		logger:      logger,
	}
}

// HandleOutcome classifies an outcome event and applies it to the matching
// task as a single guarded mutation. Events with no matching task complete
// without side effects: manual and ad-hoc calls also report outcomes.
func (s *Service) HandleOutcome(ctx context.Context, event domain.OutcomeEvent) error {
	now := time.Now().UTC()

	matched, err := s.store.FindActiveByTriple(ctx, event.LeadID, event.AgentID, event.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("outcome without matching task",
			zap.String("phone", event.Phone),
			zap.String("reason", event.DisconnectionReason))
		s.record(ctx, event, nil, DispositionNoMatch, DispositionNoMatch)
		return nil
	}
	if err != nil {
		return fmt.Errorf("task service: match outcome: %w", err)
	}

	policy, known := s.table.Classify(event.DisconnectionReason)
	if !known {
		return s.applyUnclassified(ctx, event, matched)
	}

	var disposition string
	switch policy {
	case classify.Success:
		disposition, err = s.deleteTask(ctx, matched)
	case classify.RetryWithIncrement:
		disposition, err = s.RetryWithIncrement(ctx, *matched, now)
	case classify.RetryWithoutIncrement:
		disposition, err = s.retryWithoutIncrement(ctx, *matched, now)
	case classify.PermanentFailure:
		disposition, err = s.deleteTask(ctx, matched)
	}
	if err != nil {
		return err
	}

	s.record(ctx, event, matched, policy.String(), disposition)
	return nil
}

// RetryWithIncrement charges one attempt and either deletes the task on
// budget exhaustion or schedules the next window-respecting retry. The
// dispatcher invokes this directly when call initiation fails before the
// call ever left the ground.
func (s *Service) RetryWithIncrement(ctx context.Context, t domain.CallTask, now time.Time) (string, error) {
	agentPolicy, err := s.policies.Get(ctx, t.AgentID)
	if err != nil {
		return "", fmt.Errorf("task service: agent policy for %s: %w", t.AgentID, err)
	}

	attempts := t.Attempts + 1
	if attempts >= agentPolicy.MaxRetries {
		s.logger.Info("retry budget exhausted, deleting task",
			zap.String("task_id", t.ID.String()),
			zap.Int("attempts", attempts),
			zap.Int("max_retries", agentPolicy.MaxRetries))
		return s.deleteTask(ctx, &t)
	}

	nextCall, err := callwindow.Next(now, *agentPolicy)
	if err != nil {
		return "", fmt.Errorf("task service: compute next call for %s: %w", t.ID, err)
	}

	applied, err := s.store.UpdateForRetry(ctx, t.ID, domain.TaskStatusInProgress, nextCall, attempts)
	if err != nil {
		return "", fmt.Errorf("task service: schedule retry: %w", err)
	}
	if !applied {
		return DispositionSuperseded, nil
	}
	return DispositionRetry, nil
}

// retryWithoutIncrement reschedules after a technical fault. Attempts are
// untouched and the budget never applies: infrastructure hiccups must not
// lose a lead.
func (s *Service) retryWithoutIncrement(ctx context.Context, t domain.CallTask, now time.Time) (string, error) {
	agentPolicy, err := s.policies.Get(ctx, t.AgentID)
	if err != nil {
		return "", fmt.Errorf("task service: agent policy for %s: %w", t.AgentID, err)
	}

	nextCall, err := callwindow.Next(now, *agentPolicy)
	if err != nil {
		return "", fmt.Errorf("task service: compute next call for %s: %w", t.ID, err)
	}

	applied, err := s.store.UpdateForRetry(ctx, t.ID, domain.TaskStatusInProgress, nextCall, t.Attempts)
	if err != nil {
		return "", fmt.Errorf("task service: schedule retry: %w", err)
	}
	if !applied {
		return DispositionSuperseded, nil
	}
	return DispositionRetry, nil
}

// applyUnclassified is the fail-safe: delete rather than risk an infinite
// retry loop, and signal operators so the table can be extended.
func (s *Service) applyUnclassified(ctx context.Context, event domain.OutcomeEvent, t *domain.CallTask) error {
	s.logger.Warn("unclassified disconnection reason, deleting task",
		zap.String("task_id", t.ID.String()),
		zap.String("reason", event.DisconnectionReason))

	disposition, err := s.deleteTask(ctx, t)
	if err != nil {
		return err
	}

	if s.diagnostics != nil {
		msg := queue.DiagnosticMessage{
			TaskID:              t.ID,
			LeadID:              t.LeadID,
			AgentID:             t.AgentID,
			Phone:               t.Phone,
			DisconnectionReason: event.DisconnectionReason,
			OccurredAt:          event.OccurredAt,
		}
		if err := s.diagnostics.PublishDiagnostic(ctx, msg); err != nil {
			s.logger.Error("publish diagnostic", zap.Error(err))
		}
	}

	s.record(ctx, event, t, verdictUnclassified, disposition)
	return nil
}

func (s *Service) deleteTask(ctx context.Context, t *domain.CallTask) (string, error) {
	applied, err := s.store.DeleteIfStatus(ctx, t.ID, domain.TaskStatusInProgress)
	if err != nil {
		return "", fmt.Errorf("task service: delete task: %w", err)
	}
	if !applied {
		return DispositionSuperseded, nil
	}
	return DispositionDeleted, nil
}

// record appends to the outcome history. History is best-effort and never
// blocks policy application.
func (s *Service) record(ctx context.Context, event domain.OutcomeEvent, t *domain.CallTask, verdict, disposition string) {
	if s.outcomes == nil {
		return
	}

	rec := domain.OutcomeRecord{
		EventID:             event.EventID,
		AgentID:             event.AgentID,
		LeadID:              event.LeadID,
		Phone:               event.Phone,
		DisconnectionReason: event.DisconnectionReason,
		Verdict:             verdict,
		Disposition:         disposition,
		Duration:            event.Duration,
		OccurredAt:          event.OccurredAt,
	}
	if t != nil {
		rec.TaskID = t.ID
	}

	if err := s.outcomes.Append(ctx, rec); err != nil {
		s.logger.Warn("append outcome history", zap.Error(err))
	}
}
