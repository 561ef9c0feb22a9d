package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbchat/dbchat/internal/api"
	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/dialect"
	"github.com/dbchat/dbchat/internal/export"
	"github.com/dbchat/dbchat/internal/history"
	historypg "github.com/dbchat/dbchat/internal/history/postgres"
	"github.com/dbchat/dbchat/internal/maintenance"
	"github.com/dbchat/dbchat/internal/nl2sql"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/prompt"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/schema"
	"github.com/dbchat/dbchat/internal/session"
	"github.com/dbchat/dbchat/internal/storage"
	s3store "github.com/dbchat/dbchat/internal/storage/s3"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("dbchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	connectionStore, err := openConnectionStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to open connection store", slog.Any("error", err))
		os.Exit(1)
	}

	objectStore, err := openObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{
		api.CheckConnectionStore(connectionStore),
		api.CheckAIConfig(cfg),
	}
	if bucket, ok := objectStore.(*s3store.Store); ok {
		readiness = append(readiness, bucket.HealthCheck)
	}

	var historyStore history.Store = history.NewMemoryStore()
	switch cfg.History.Backend {
	case config.BackendObjectStore:
		historyStore, err = history.NewObjectStore(objectStore)
		if err != nil {
			logger.Error("failed to initialize history store", slog.Any("error", err))
			os.Exit(1)
		}
	case config.BackendPostgres:
		db, err := historypg.Open(context.Background(), historypg.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		pgStore := historypg.NewStore(db)
		historyStore = pgStore
		readiness = append(readiness, pgStore.HealthCheck)
	}

	opener := session.DriverOpener{DefaultDialect: cfg.Prompt.Dialect}
	exporter := export.NewExporter(objectStore)
	exporter.PresignExpiry = cfg.Export.PresignExpiry
	deps := api.Dependencies{
		Logger:            logger,
		Connections:       connectionStore,
		Introspector:      schema.NewIntrospector(opener, cfg.Prompt.Dialect, logger),
		Executor:          query.NewExecutor(opener, logger),
		History:           historyStore,
		Exporter:          exporter,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
	}

	if cfg.AI.APIKey != "" {
		completer, err := nl2sql.NewOpenAICompleter(nl2sql.OpenAIConfig{
			Provider:    cfg.AI.Provider,
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			APIVersion:  cfg.AI.APIVersion,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize chat backend", slog.Any("error", err))
			os.Exit(1)
		}
		options := prompt.Options{Dialect: dialect.MustLookup(cfg.Prompt.Dialect), RowLimit: cfg.Prompt.RowLimit}
		deps.Generator = nl2sql.NewGenerator(completer, options, completer.Model(), logger)
		deps.Relay = nl2sql.NewRelay(completer)
	} else {
		logger.Warn("no AI api key configured; generation and chat are disabled")
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", cfg.Prompt.Dialect),
			slog.String("connections_backend", cfg.Connections.Backend),
			slog.String("history_backend", cfg.History.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	retention := &maintenance.Service{
		ObjectStore: objectStore,
		Config: maintenance.Config{
			ExportTTL:         cfg.Export.TTL,
			RetentionInterval: cfg.Export.SweepInterval,
		},
		Logger: logger,
	}
	go func() { _ = retention.Run(ctx) }()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openConnectionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (connections.Store, error) {
	var store connections.Store = connections.NewMemoryStore()
	if cfg.Connections.Backend == config.BackendKeyring {
		ring, err := connections.OpenKeyringStore(connections.KeyringConfig{
			ServiceName:  cfg.Connections.KeyringService,
			Backend:      cfg.Connections.KeyringBackend,
			FileDir:      cfg.Connections.KeyringFileDir,
			FilePassword: cfg.Connections.KeyringPassword,
		})
		if err != nil {
			return nil, err
		}
		store = ring
	}
	if cfg.Connections.File == "" {
		return store, nil
	}
	seed, err := connections.LoadFile(cfg.Connections.File)
	if err != nil {
		return nil, err
	}
	added, err := connections.Seed(ctx, store, seed)
	if err != nil {
		return nil, err
	}
	logger.Info("seeded connections", slog.String("file", cfg.Connections.File), slog.Int("added", added))
	return store, nil
}

func openObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if cfg.ObjectStore.Backend != config.BackendS3 {
		return storage.NewMemoryStore(), nil
	}
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}
