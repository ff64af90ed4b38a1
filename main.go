package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clearbook/intake-engine/pkg/config"
	"github.com/clearbook/intake-engine/pkg/database"
	"github.com/clearbook/intake-engine/pkg/logging"
	"github.com/clearbook/intake-engine/pkg/repositories"
	"github.com/clearbook/intake-engine/pkg/schema"
	"github.com/clearbook/intake-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("inbox", cfg.Intake.InboxDir),
		zap.Int("batch_size", cfg.Intake.BatchSize))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(cfg.Database.ConnectionString(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	var markers repositories.FileMarkerStore
	if redisClient != nil {
		markers = repositories.NewRedisMarkerStore(redisClient, cfg.Redis.MarkerTTL())
		logger.Info("Using Redis file marker store")
	} else {
		markers = repositories.NewMemoryMarkerStore()
		logger.Info("Redis not configured, using in-memory file marker store")
	}

	schemaRepo := repositories.NewSchemaRepository(db.Pool)
	recordRepo := repositories.NewRecordRepository(db.Pool)
	companyRepo := repositories.NewCompanyRepository(db.Pool)
	auditRepo := repositories.NewAuditRepository(db.Pool)
	historyRepo := repositories.NewHistoryRepository(db.Pool)

	snapshot := schema.NewSnapshot(schemaRepo)
	reconciler := schema.NewReconciler(schemaRepo, snapshot, logger)
	auditSvc := services.NewAuditService(auditRepo, cfg.Audit.Actor, cfg.Audit.RequireAtomic, logger)
	aggregateSvc := services.NewCompanyAggregateService(db, companyRepo, auditSvc, cfg.Audit.RequireAtomic, nil, logger)
	historySvc := services.NewHistoryService(historyRepo, logger)

	ingestSvc := services.NewFileIngestService(
		db, recordRepo, snapshot, reconciler, aggregateSvc, auditSvc, historySvc,
		cfg.Intake, cfg.Audit.RequireAtomic, logger)

	worker := services.NewIntakeWorker(ingestSvc, markers, cfg.Intake.QueueDepth, logger)
	go worker.Run(ctx)

	logger.Info("Intake engine started",
		zap.Duration("scan_interval", cfg.Intake.ScanInterval()))

	// Periodic inbox re-scan; the worker dedups via the marker store.
	ticker := time.NewTicker(cfg.Intake.ScanInterval())
	defer ticker.Stop()

	if err := worker.EnqueueDir(ctx, cfg.Intake.InboxDir); err != nil && ctx.Err() == nil {
		logger.Warn("Initial inbox scan failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, waiting for current run to finish")
			<-worker.Done()
			logger.Info("Intake engine stopped")
			return
		case <-ticker.C:
			if err := worker.EnqueueDir(ctx, cfg.Intake.InboxDir); err != nil && ctx.Err() == nil {
				logger.Warn("Inbox scan failed", zap.Error(err))
			}
		}
	}
}
