package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/id-verify/internal/config"
	"github.com/example/id-verify/internal/handlers"
	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/repository"
	"github.com/example/id-verify/internal/storage"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()
	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	redisClient := initRedis(ctx, cfg.Redis, logger)
	defer redisClient.Close()

	store := jobstore.New(redisClient, cfg.Redis.DequeueTimeout, logger)

	objectStore, err := storage.New(ctx, storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build object storage client", zap.Error(err))
	}

	var metrics handlers.MetricsSource
	if cfg.Audit.DSN != "" {
		metrics = initAudit(ctx, cfg.Audit.DSN, logger)
	}

	router := gin.Default()
	handlers.RegisterRoutes(router, store, objectStore, metrics, cfg.Storage.PresignExpiry, logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	logger.Info("intake API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
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

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
