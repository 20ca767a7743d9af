package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	engagehub "github.com/engagehub/backend"
	"github.com/engagehub/backend/internal/assignments"
	"github.com/engagehub/backend/internal/auth"
	"github.com/engagehub/backend/internal/config"
	"github.com/engagehub/backend/internal/dashboard"
	"github.com/engagehub/backend/internal/fraud"
	"github.com/engagehub/backend/internal/handlers"
	"github.com/engagehub/backend/internal/ledger"
	"github.com/engagehub/backend/internal/notify"
	"github.com/engagehub/backend/internal/orders"
	"github.com/engagehub/backend/internal/pool"
	"github.com/engagehub/backend/internal/registry"
	"github.com/engagehub/backend/internal/repository"
	"github.com/engagehub/backend/internal/router"
	"github.com/engagehub/backend/internal/scheduler"
	"github.com/engagehub/backend/internal/storage"
	"github.com/engagehub/backend/internal/verification"
	"github.com/engagehub/backend/internal/vision"
)

// arbiterStore joins the assignment and credit tables for the arbiter.
type arbiterStore struct {
	*repository.AssignmentRepo
	*repository.CreditRepo
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	migrations, err := fs.Sub(engagehub.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("Embedded migrations missing", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrations); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(dbPool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Notifications
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.KafkaEnabled() {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaEventsTopic})
		if err != nil {
			slog.Error("Failed to create Kafka notifier", "error", err)
			os.Exit(1)
		}
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		b, err := bot.New(cfg.TelegramBotToken, bot.WithSkipGetMe())
		if err != nil {
			slog.Error("Failed to create Telegram bot", "error", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, notify.NewTelegramNotifier(b, cfg.TelegramChatID, cfg.TelegramTopicID))
	}

	// Repositories
	assignmentRepo := repository.NewAssignmentRepo(dbPool)
	creditRepo := repository.NewCreditRepo(dbPool)
	fingerprintRepo := repository.NewFingerprintRepo(dbPool)
	poolRepo := repository.NewPoolRepo(dbPool)
	providerRepo := repository.NewProviderRepo(dbPool)

	// Scheduled callbacks: the River client is set after it is created (breaks init cycle)
	enqueuer := scheduler.NewEnqueuer()

	var suspender fraud.Suspender = fraud.NewLogSuspender(logger)
	if cfg.SuspensionWebhookURL != "" {
		suspender = fraud.NewWebhookSuspender(cfg.SuspensionWebhookURL, cfg.SuspensionWebhookToken)
	}
	fraudSvc := fraud.NewService(fingerprintRepo, suspender, notifiers, cfg.FraudSuspendThreshold, logger)

	ledgerSvc := ledger.NewService(creditRepo, logger)
	poolSvc := pool.NewService(poolRepo, providerRepo, notifiers, pool.Options{
		PayoutRatio: cfg.Payout(),
		EntryTTL:    cfg.PoolEntryTTL,
	}, logger)
	registrySvc := registry.NewService(providerRepo)

	deps := assignments.Deps{
		Store:        assignmentRepo,
		Fraud:        fraudSvc,
		Scheduler:    enqueuer,
		Notifier:     notifiers,
		ReviewWindow: cfg.ManualReviewWindow,
		Logger:       logger,
	}
	if cfg.ProofBucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.ProofBucket, cfg.ProofPrefix, cfg.ProofPublicURL)
		if err != nil {
			slog.Error("Failed to create S3 uploader", "error", err)
			os.Exit(1)
		}
		deps.Uploader = uploader
	} else {
		slog.Warn("PROOF_BUCKET not set; only pre-hosted proof URLs are accepted")
	}
	assignmentSvc := assignments.NewService(deps)

	analyzer, err := vision.NewClient(cfg.VisionBaseURL, cfg.VisionAPIKey, cfg.VisionModel)
	if err != nil {
		slog.Error("Failed to create vision client", "error", err)
		os.Exit(1)
	}
	arbiter := verification.NewArbiter(verification.Deps{
		Store:     arbiterStore{assignmentRepo, creditRepo},
		Ledger:    ledgerSvc,
		Analyzer:  analyzer,
		Scheduler: enqueuer,
		Notifier:  notifiers,
		Options: verification.Options{
			ReviewWindow:  cfg.ManualReviewWindow,
			ReverifyDelay: cfg.ReverifyDelay,
			MaxAttempts:   cfg.AIMaxAttempts,
			RetryBackoff:  cfg.AIRetryBackoff,
			RetryMax:      cfg.AIRetryMax,
		},
		Logger: logger,
	})

	// Workers and periodic sweeps
	workers := river.NewWorkers()
	scheduler.AddWorkers(workers, arbiter, poolSvc, cfg.SweepBatchSize, logger)

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: scheduler.PeriodicJobs(scheduler.Intervals{
			AIVerification: cfg.SweepAIInterval,
			Reverify:       cfg.SweepReverifyInterval,
			PoolExpiry:     cfg.SweepExpireInterval,
		}),
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	enqueuer.SetClient(riverClient)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	// Order intake
	validator, err := orders.NewValidator()
	if err != nil {
		slog.Error("Failed to compile order schema", "error", err)
		os.Exit(1)
	}
	intake := orders.NewIntake(validator, poolSvc, logger)
	if cfg.KafkaEnabled() {
		consumer, err := orders.NewConsumer(orders.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaOrdersTopic,
			GroupID: cfg.KafkaOrdersGroup,
		}, intake, logger)
		if err != nil {
			slog.Error("Failed to create order consumer", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Order consumer stopped", "error", err)
			}
		}()
	}

	// HTTP
	authSvc := auth.NewService(cfg.JWTSecret)
	apiRouter := router.New(dbPool, authSvc, router.Handlers{
		Pool:         &handlers.PoolHandler{Pool: poolSvc, Logger: logger},
		Assignments:  &handlers.AssignmentHandler{Assignments: assignmentSvc, Logger: logger},
		Verification: &handlers.VerificationHandler{Arbiter: arbiter, Logger: logger},
		Orders:       &handlers.OrderHandler{Intake: intake, Logger: logger},
		Dashboard:    dashboard.NewHandler(ledgerSvc, assignmentSvc, logger),
		Registry:     registry.NewHandler(registrySvc, logger),
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + strconv.Itoa(cfg.Port),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop failed", "error", err)
	}
}
