package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athenasql/athenasql/internal/agent"
	"github.com/athenasql/athenasql/internal/api"
	"github.com/athenasql/athenasql/internal/auth"
	"github.com/athenasql/athenasql/internal/chat/slackbot"
	"github.com/athenasql/athenasql/internal/config"
	"github.com/athenasql/athenasql/internal/conversation"
	"github.com/athenasql/athenasql/internal/export"
	"github.com/athenasql/athenasql/internal/maintenance"
	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query/sqlstore"
	"github.com/athenasql/athenasql/internal/storage"
	localstore "github.com/athenasql/athenasql/internal/storage/local"
	s3store "github.com/athenasql/athenasql/internal/storage/s3"
)

// deliveryGrace leaves room for the replies sent around a question cycle.
const deliveryGrace = 30 * time.Second

func main() {
	cfg, err := config.LoadFromEnv("athenasql-bot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	database, err := sqlstore.Open(context.Background(), sqlstore.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	objectStore, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	gateway, err := newGateway(cfg, database, logger)
	if err != nil {
		logger.Error("failed to initialize agent gateway", slog.Any("error", err))
		os.Exit(1)
	}

	exporter, err := export.New(export.Config{
		Format:  export.Format(cfg.Export.Format),
		Archive: objectStore,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialize exporter", slog.Any("error", err))
		os.Exit(1)
	}

	conversations := conversation.NewStore(nil)
	service := &conversation.Service{
		Store:    conversations,
		Gateway:  gateway,
		Executor: database,
		Exporter: exporter,
		Config: conversation.Config{
			Greeting:     cfg.Conversation.Greeting,
			Subject:      cfg.Conversation.Subject,
			CycleTimeout: cfg.Conversation.CycleTimeout,
		},
		Logger: logger,
	}
	maintenanceService := &maintenance.Service{
		Conversations: conversations,
		Exports:       objectStore,
		Config: maintenance.Config{
			SweepInterval:   cfg.Conversation.SweepInterval,
			IdleTTL:         cfg.Conversation.IdleTTL,
			ExportRetention: cfg.Export.Retention,
		},
		Logger: logger,
	}

	deps := api.Dependencies{
		Logger:        logger,
		Conversations: conversations,
		Answerer:      service,
		Maintenance:   maintenanceService,
		Schema:        database,
		Exports:       objectStore,
		AskTimeout:    cfg.Conversation.CycleTimeout,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(database.HealthCheck),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := maintenanceService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("conversation sweeper stopped", slog.Any("error", err))
		}
	}()

	var dispatcher *conversation.Dispatcher
	if cfg.Slack.Enabled {
		client, err := slackbot.New(slackbot.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			Debug:    cfg.Slack.Debug,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("failed to initialize slack client", slog.Any("error", err))
			os.Exit(1)
		}
		if err := client.Ping(ctx); err != nil {
			logger.Error("slack token check failed", slog.Any("error", err))
			os.Exit(1)
		}
		service.Delivery = slackbot.NewDelivery(client.API)
		dispatcher = conversation.NewDispatcher(service, conversation.DispatcherConfig{
			MaxInFlight:  cfg.Conversation.MaxInFlight,
			EventTimeout: cfg.Conversation.CycleTimeout + deliveryGrace,
		}, logger)
		listener := &slackbot.Listener{Client: client, Dispatcher: dispatcher, Logger: logger}
		go func() {
			logger.Info("starting slack listener")
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("slack listener failed", slog.Any("error", err))
				stop()
			}
		}()
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	exitCode := 0
	if dispatcher != nil {
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Error("event dispatcher did not drain", slog.Any("error", err))
			exitCode = 1
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		exitCode = 1
	}
	if exitCode != 0 {
		_ = database.Close()
		os.Exit(exitCode)
	}
}

func newObjectStore(cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "local":
		return localstore.New(cfg.LocalDir)
	case "s3":
		return s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Endpoint,
			Region:           cfg.Region,
			Bucket:           cfg.Bucket,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			UseSSL:           cfg.UseSSL,
			Prefix:           cfg.Prefix,
			AutoCreateBucket: cfg.AutoCreateBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported object store backend %q", cfg.Backend)
	}
}

func newGateway(cfg config.Config, database *sqlstore.Store, logger *slog.Logger) (agent.Gateway, error) {
	var schema agent.SchemaContext
	if cfg.Database.SchemaContext {
		schema = agent.SchemaContext{Dialect: string(database.Dialect()), Source: database, Logger: logger}
	} else {
		schema = agent.SchemaContext{Dialect: string(database.Dialect())}
	}

	var model agent.Gateway
	switch cfg.Agent.Provider {
	case "anthropic":
		gateway, err := agent.NewAnthropicGateway(agent.AnthropicConfig{
			BaseURL:     cfg.Agent.BaseURL,
			APIKey:      cfg.Agent.APIKey,
			Model:       cfg.Agent.Model,
			Temperature: cfg.Agent.Temperature,
			MaxTokens:   cfg.Agent.MaxTokens,
			Timeout:     cfg.Agent.Timeout,
			Schema:      schema,
		})
		if err != nil {
			return nil, err
		}
		model = gateway
	default:
		gateway, err := agent.NewOpenAIGateway(agent.OpenAIConfig{
			BaseURL:     cfg.Agent.BaseURL,
			APIKey:      cfg.Agent.APIKey,
			Model:       cfg.Agent.Model,
			Temperature: cfg.Agent.Temperature,
			Timeout:     cfg.Agent.Timeout,
			Schema:      schema,
		})
		if err != nil {
			return nil, err
		}
		model = gateway
	}

	logged := agent.Logged(model, cfg.Agent.Provider, logger, cfg.Agent.Verbose)
	return &agent.SQLAgent{Model: logged, Executor: database, Logger: logger}, nil
}
