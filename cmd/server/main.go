package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/adapter/ai/openai"
	"github.com/seu-repo/contavoz/internal/adapter/cache"
	"github.com/seu-repo/contavoz/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/contavoz/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/contavoz/internal/adapter/queue"
	"github.com/seu-repo/contavoz/internal/adapter/speech"
	"github.com/seu-repo/contavoz/internal/adapter/storage/postgres"
	"github.com/seu-repo/contavoz/internal/adapter/vault"
	wsAdapter "github.com/seu-repo/contavoz/internal/adapter/websocket"
	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
	"github.com/seu-repo/contavoz/internal/service/health"
	"github.com/seu-repo/contavoz/internal/service/recognition"
	"github.com/seu-repo/contavoz/internal/service/session"
	"github.com/seu-repo/contavoz/pkg/config"
)

const serviceName = "contavoz"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting ContaVoz",
		zap.String("service", serviceName),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	if cfg.Vault.Enabled {
		overlaySecrets(cfg, logger)
	}

	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(cfg.OpenTelemetry.ServiceName, cfg.OpenTelemetry.Jaeger.Endpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Redis when reachable, in-process cache otherwise. The cache only
	// holds learned-intent lookups, so losing it degrades latency, not
	// correctness.
	appCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-process cache", zap.Error(err))
		appCache = cache.NewLocalCache(time.Minute, logger)
	}
	defer appCache.Close()

	messageQueue, err := queue.New(cfg.Queue.Driver, cfg.Queue.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	transactionRepo := postgres.NewTransactionRepository(db, logger)
	learnedRepo := postgres.NewLearnedIntentRepository(db, logger)
	budgetRepo := postgres.NewBudgetRepository(db, logger)

	aiClient := openai.NewClient(cfg.OpenAI, logger)
	pipeline := recognition.NewPipeline(
		recognition.Config{
			LLMThreshold: cfg.Recognition.LLMThreshold,
			LearnedTTL:   cfg.Recognition.LearnedTTL,
		},
		learnedRepo,
		appCache,
		openai.NewRecognizer(aiClient, logger),
		logger,
	)
	decomposer := recognition.NewDecomposer(pipeline, nil, openai.NewDecomposer(aiClient, logger), logger)

	sessionCfg := session.Config{
		Timeout:            cfg.Session.Timeout,
		WaitingTimeout:     cfg.Session.WaitingTimeout,
		HistoryCapacity:    cfg.Session.HistoryCapacity,
		RecentWindow:       cfg.Session.RecentWindow,
		DuplicateThreshold: cfg.Session.DuplicateThreshold,
		MaxRetries:         cfg.Recovery.MaxRetries,
		BackoffBase:        cfg.Recovery.BackoffBase,
	}
	manager := session.NewManager(func(userID string, synth ports.Synthesizer) *session.Machine {
		return session.NewMachine(userID, sessionCfg, session.Deps{
			Pipeline:     pipeline,
			Decomposer:   decomposer,
			Transactions: transactionRepo,
			Budgets:      budgetRepo,
			Transcriber:  speech.NewStreamTranscriber(cfg.Speech, logger),
			Synthesizer:  synth,
			Search:       openai.NewSearchService(aiClient, transactionRepo, userID, logger),
			Queue:        messageQueue,
			Logger:       logger,
		})
	}, logger)

	healthService := health.NewService(cfg.App.Version, logger)
	healthService.RegisterChecker("database", health.DatabaseChecker(sqlDB))
	healthService.RegisterChecker("cache", health.CacheChecker(appCache))
	if pinger, ok := messageQueue.(health.Pinger); ok {
		healthService.RegisterChecker("queue", health.QueueChecker(pinger))
	}
	healthService.RegisterChecker("ai", health.BreakerChecker(aiClient))

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(middleware.NewCORS(cfg.HTTP))
	app.Use(middleware.CircuitBreaker(logger))

	health.NewFiberHandler(healthService).RegisterRoutes(app)

	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	v1 := app.Group("/api/v1", middleware.AuthRequired(cfg.JWT))

	sessionHandler := handlers.NewSessionHandler(manager, logger)
	v1.Get("/sessions", sessionHandler.List)
	v1.Get("/sessions/:id", sessionHandler.Get)
	v1.Get("/sessions/:id/history", sessionHandler.History)
	v1.Post("/sessions/:id/command", sessionHandler.Command)
	v1.Post("/sessions/:id/recover", sessionHandler.Recover)

	ledgerHandler := handlers.NewLedgerHandler(transactionRepo, budgetRepo, logger)
	v1.Get("/transactions", ledgerHandler.ListTransactions)
	v1.Get("/transactions/:id", ledgerHandler.GetTransaction)
	v1.Get("/budgets", ledgerHandler.ListBudgets)

	// The sockets authenticate during the upgrade request, so the machine
	// and the event firehose both know which user they belong to.
	app.Use("/ws", middleware.AuthRequired(cfg.JWT))

	streamHandler := wsAdapter.NewSessionStreamHandler(manager, cfg.Speech, logger)
	wsAdapter.SetupSessionRoutes(app, streamHandler)

	hub := wsAdapter.NewHub()
	go hub.Run()
	wsAdapter.SetupEventRoutes(app, hub)
	bridgeEvents(messageQueue, hub, logger)

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// overlaySecrets replaces config secrets with values from Vault. Missing
// secrets keep whatever the environment provided.
func overlaySecrets(cfg *config.Config, logger *zap.Logger) {
	sm, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
	if err != nil {
		logger.Warn("Vault unavailable, using environment secrets", zap.Error(err))
		return
	}

	if dsn, err := sm.GetDatabaseCredentials(); err == nil {
		cfg.Database.URL = dsn
	} else {
		logger.Warn("Vault database secret not loaded", zap.Error(err))
	}
	if key, err := sm.GetOpenAIAPIKey(); err == nil {
		cfg.OpenAI.APIKey = key
	} else {
		logger.Warn("Vault OpenAI secret not loaded", zap.Error(err))
	}
	if secret, err := sm.GetJWTSecret(); err == nil {
		cfg.JWT.Secret = secret
	} else {
		logger.Warn("Vault JWT secret not loaded", zap.Error(err))
	}
	if key, err := sm.GetSpeechAPIKey(); err == nil {
		cfg.Speech.APIKey = key
	} else {
		logger.Warn("Vault speech secret not loaded", zap.Error(err))
	}
}

// bridgeEvents fans the engine's queue events out to the monitoring
// websocket clients.
func bridgeEvents(mq queue.MessageQueue, hub *wsAdapter.Hub, logger *zap.Logger) {
	subjects := []string{
		queue.SubjectSessionStarted,
		queue.SubjectSessionStopped,
		queue.SubjectSessionTimeout,
		queue.SubjectSessionError,
		queue.SubjectTurnCompleted,
		queue.SubjectTransactionRecorded,
		queue.SubjectTransactionUpdated,
		queue.SubjectTransactionDeleted,
	}
	for _, subject := range subjects {
		if err := mq.Subscribe(subject, func(data []byte) error {
			hub.Broadcast(data)
			return nil
		}); err != nil {
			logger.Warn("Failed to subscribe to event subject",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	}
}
