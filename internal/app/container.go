package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/call-task-engine/internal/bridge"
	bridgemock "github.com/acme/call-task-engine/internal/bridge/mock"
	"github.com/acme/call-task-engine/internal/classify"
	"github.com/acme/call-task-engine/internal/config"
	"github.com/acme/call-task-engine/internal/infra/db"
	"github.com/acme/call-task-engine/internal/infra/redis"
	"github.com/acme/call-task-engine/internal/queue"
	"github.com/acme/call-task-engine/internal/repository"
	pgrepo "github.com/acme/call-task-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/call-task-engine/internal/repository/scylla"
	"github.com/acme/call-task-engine/internal/service/concurrency"
	tasksvc "github.com/acme/call-task-engine/internal/service/task"
	"github.com/acme/call-task-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		services     *services
		limiters     *limiters
		bridges      *bridges
	}
}

type repositories struct {
	Tasks    repository.TaskStore
	Policies repository.AgentPolicyStore
	Outcomes repository.OutcomeStore
}

type publishers struct {
	Dispatch   *queue.DispatchPublisher
	Outcome    *queue.OutcomePublisher
	Diagnostic *queue.DiagnosticPublisher
}

type services struct {
	Tasks *tasksvc.Service
}

type limiters struct {
	Concurrency *concurrency.Limiter
}

type bridges struct {
	Call bridge.CallBridge
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Tasks:    pgrepo.NewTaskRepository(c.Postgres.DB()),
			Policies: pgrepo.NewAgentPolicyRepository(c.Postgres.DB()),
			Outcomes: scyllarepo.NewOutcomeStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Dispatch:   queue.NewDispatchPublisher(c.Kafka, c.Config.Kafka.DispatchTopic),
			Outcome:    queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
			Diagnostic: queue.NewDiagnosticPublisher(c.Kafka, c.Config.Kafka.DiagnosticTopic),
		}

		svcs := &services{
			Tasks: tasksvc.NewService(
				repos.Tasks,
				repos.Policies,
				repos.Outcomes,
				pubs.Diagnostic,
				classify.DefaultTable(),
				c.Logger.Named("tasks").Logger,
			),
		}

		lims := &limiters{
			Concurrency: concurrency.NewLimiter(c.Redis.Inner(), 0, c.Config.Scheduler.SlotTTL),
		}

		brs := &bridges{
			Call: bridgemock.NewProvider(c.Config.CallBridge),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = svcs
		c.components.limiters = lims
		c.components.bridges = brs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Bridges exposes call bridge providers.
func (c *Container) Bridges() *bridges {
	c.initComponents()
	return c.components.bridges
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Dispatch != nil {
			if err := p.Dispatch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dispatch publisher close: %w", err))
			}
		}
		if p.Outcome != nil {
			if err := p.Outcome.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
			}
		}
		if p.Diagnostic != nil {
			if err := p.Diagnostic.Close(); err != nil {
				errs = append(errs, fmt.Errorf("diagnostic publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.DispatchTopic, c.Config.Kafka.OutcomeTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 48, 1); err != nil {
		return err
	}

	if c.Config.Kafka.DiagnosticTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DiagnosticTopic}, 12, 1); err != nil {
			return err
		}
	}

	return nil
}
