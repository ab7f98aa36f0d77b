package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/call-task-engine/internal/api"
	"github.com/acme/call-task-engine/internal/api/handlers"
	"github.com/acme/call-task-engine/internal/app"
	"github.com/acme/call-task-engine/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-ingest")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Tasks:    container.Repositories().Tasks,
		Outcomes: container.Publishers().Outcome,
		Health: map[string]handlers.Pinger{
			"postgres": func(ctx context.Context) error {
				return container.Postgres.DB().PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return container.Redis.Inner().Ping(ctx).Err()
			},
			"scylla": func(ctx context.Context) error {
				return container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
			},
		},
		Logger: container.Logger.Named("api").Logger,
	})

	server := api.NewServer(container.Config.HTTP, handlerSet)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
