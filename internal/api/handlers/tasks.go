package handlers

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/domain"
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

type createTaskRequest struct {
	LeadID   string     `json:"lead_id"`
	AgentID  string     `json:"agent_id"`
	Phone    string     `json:"phone"`
	NextCall *time.Time `json:"next_call,omitempty"`
}

type taskResponse struct {
	ID        uuid.UUID `json:"id"`
	LeadID    uuid.UUID `json:"lead_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	NextCall  time.Time `json:"next_call"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *HandlerSet) createTask(ctx *fiber.Ctx) error {
	var req createTaskRequest
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
	if !phonePattern.MatchString(req.Phone) {
		return fiber.NewError(http.StatusBadRequest, "phone must be E.164")
	}

	now := time.Now().UTC()
	nextCall := now
	if req.NextCall != nil {
		nextCall = req.NextCall.UTC()
	}

	task := &domain.CallTask{
		ID:        uuid.New(),
		LeadID:    leadID,
		AgentID:   agentID,
		Phone:     req.Phone,
		Status:    domain.TaskStatusScheduled,
		Attempts:  0,
		NextCall:  nextCall,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.tasks.Create(ctx.Context(), task); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toTaskResponse(task))
}

func (h *HandlerSet) getTask(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid task id")
	}

	task, err := h.tasks.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toTaskResponse(task))
}

func toTaskResponse(task *domain.CallTask) taskResponse {
	return taskResponse{
		ID:        task.ID,
		LeadID:    task.LeadID,
		AgentID:   task.AgentID,
		Phone:     task.Phone,
		Status:    string(task.Status),
		Attempts:  task.Attempts,
		NextCall:  task.NextCall,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
}
