package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/id-verify/internal/config"
	"github.com/example/id-verify/internal/facecheck"
	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/pipeline"
	"github.com/example/id-verify/internal/repository"
	"github.com/example/id-verify/internal/storage"
	"github.com/example/id-verify/internal/vision"
	"github.com/example/id-verify/internal/worker"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	redisClient := initRedis(initCtx, cfg.Redis, logger)
	defer redisClient.Close()

	store := jobstore.New(redisClient, cfg.Redis.DequeueTimeout, logger)

	objectStore, err := storage.New(initCtx, storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build object storage client", zap.Error(err))
	}

	detector, err := facecheck.NewPigoDetector(facecheck.Config{
		CascadePath: cfg.Face.CascadePath,
		MinSize:     cfg.Face.MinSize,
		Quality:     float32(cfg.Face.Quality),
	}, logger)
	if err != nil {
		logger.Fatal("failed to load face detector", zap.Error(err))
	}

	extractor := vision.NewClient(vision.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		Timeout: cfg.Provider.Timeout,
	}, logger)

	pipe := pipeline.New(objectStore, detector, extractor, logger)

	var audit worker.Auditor
	if cfg.Audit.DSN != "" {
		audit = initAudit(initCtx, cfg.Audit.DSN, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		w := worker.New(store, pipe, audit, cfg.Worker.JobTimeout, cfg.Worker.IdleBackoff,
			logger.With(zap.Int("worker", i)))
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal("worker pool failed", zap.Error(err))
	}
	logger.Info("worker pool stopped")
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initAudit(ctx context.Context, dsn string, logger *zap.Logger) *repository.AuditRepository {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		logger.Fatal("failed to connect to audit database", zap.Error(err))
	}
	repo := repository.NewAuditRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("audit auto migrate failed", zap.Error(err))
	}
	return repo
}
