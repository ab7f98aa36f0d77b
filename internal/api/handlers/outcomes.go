package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/queue"
)

type outcomeRequest struct {
	EventID             string         `json:"event_id,omitempty"`
	LeadID              string         `json:"lead_id"`
	AgentID             string         `json:"agent_id"`
	Phone               string         `json:"phone"`
	DisconnectionReason string         `json:"disconnection_reason"`
	DurationMs          int64          `json:"duration_ms"`
	OccurredAt          *time.Time     `json:"occurred_at,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// ingestOutcome validates a reported call outcome and hands it to the
// feedback topic. It never touches the task store; matching and retry
// policy are the feedback worker's job.
func (h *HandlerSet) ingestOutcome(ctx *fiber.Ctx) error {
	var req outcomeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid agent id")
	}
	if req.Phone == "" {
		return fiber.NewError(http.StatusBadRequest, "phone is required")
	}
	if req.DisconnectionReason == "" {
		return fiber.NewError(http.StatusBadRequest, "disconnection_reason is required")
	}

	eventID := uuid.New()
	if req.EventID != "" {
		eventID, err = uuid.Parse(req.EventID)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid event id")
		}
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	msg := queue.OutcomeMessage{
		EventID:             eventID,
		LeadID:              leadID,
		AgentID:             agentID,
		Phone:               req.Phone,
		DisconnectionReason: req.DisconnectionReason,
		DurationMs:          req.DurationMs,
		OccurredAt:          occurredAt,
		Metadata:            req.Metadata,
	}

	if err := h.outcomes.PublishOutcome(ctx.Context(), msg); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"event_id": eventID})
}
