package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lk2023060901/drive-telemetry-backend/internal/conf"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/database"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/biz"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/data"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/models"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/probe"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize global logger
	if err := logger.InitGlobal(&config.Log); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize database
	db, err := database.New(&config.Database, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Initialize storage tree
	if err := storage.EnsureRoot(config.Storage.Root); err != nil {
		log.Fatal("storage root is not writable",
			zap.String("root", config.Storage.Root),
			zap.Error(err))
	}
	layout := storage.NewLayout(config.Storage.Root, config.Storage.BaseDriveURL, config.Storage.Salt)

	// Initialize worker pool
	pool, err := workerpool.New(&workerpool.Config{Workers: config.Worker.PoolWorkers}, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Shutdown()

	// Initialize repositories
	deviceRepo := data.NewDeviceRepo(db)
	driveRepo := data.NewDriveRepo(db)
	segmentRepo := data.NewSegmentRepo(db)

	// Initialize use cases
	decoder := rlog.NewDecoder(log)
	prober := probe.New(&probe.Config{
		Binary:  config.Worker.ProbeBinary,
		Timeout: config.Worker.ProbeTimeout,
	}, log)

	scanner := biz.NewScanUseCase(segmentRepo, layout, config.Worker.BatchSize, log)
	processor := biz.NewProcessUseCase(segmentRepo, decoder, prober, pool, log)
	aggregator := biz.NewAggregateUseCase(driveRepo, segmentRepo, layout, log)
	deviceStorage := biz.NewDeviceStorageUseCase(deviceRepo, layout, log)
	cleanup := biz.NewCleanupUseCase(deviceRepo, driveRepo, layout, biz.CleanupConfig{
		RetentionDays: config.Storage.RetentionDays,
		DeviceQuotaMB: config.Storage.DeviceQuotaMB,
	}, log)

	worker := biz.NewWorker(scanner, processor, aggregator, deviceStorage, cleanup, biz.WorkerConfig{
		CycleDelay:      config.Worker.CycleDelay,
		CleanupInterval: config.Worker.CleanupInterval,
		MaxUptime:       config.Worker.MaxUptime,
	}, log)

	// Run until signalled or the uptime ceiling fires
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = worker.Run(ctx)
	switch {
	case errors.Is(err, biz.ErrUptimeExceeded):
		// Planned exit; the supervisor restarts the process.
		log.Info("worker exiting for scheduled restart")
	case errors.Is(err, context.Canceled):
		log.Info("worker stopped by signal")
	case err != nil:
		log.Error("worker stopped with error", zap.Error(err))
		stop()
		log.Sync()
		os.Exit(1)
	}
}
