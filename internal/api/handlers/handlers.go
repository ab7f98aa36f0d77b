package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository"
)

// OutcomeQueue publishes outcome events for the feedback worker.
type OutcomeQueue interface {
	PublishOutcome(ctx context.Context, msg queue.OutcomeMessage) error
}

// Pinger checks the liveness of a backing service.
type Pinger func(ctx context.Context) error

// Deps carries everything the HTTP handlers need.
type Deps struct {
	Tasks    repository.TaskStore
	Outcomes OutcomeQueue
	Health   map[string]Pinger
	Logger   *zap.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	tasks    repository.TaskStore
	outcomes OutcomeQueue
	health   map[string]Pinger
	logger   *zap.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Deps) *HandlerSet {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerSet{
		tasks:    deps.Tasks,
		outcomes: deps.Outcomes,
		health:   deps.Health,
		logger:   logger,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	tasks := v1.Group("/tasks")
	tasks.Post("/", h.createTask)
	tasks.Get("/:id", h.getTask)

	outcomes := v1.Group("/outcomes")
	outcomes.Post("/", h.ingestOutcome)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, ping := range h.health {
		if err := ping(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
