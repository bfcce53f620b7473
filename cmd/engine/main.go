package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"settlement-engine/internal/config"
	"settlement-engine/internal/emitter"
	"settlement-engine/internal/executor"
	"settlement-engine/internal/handler"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/resolver"
	"settlement-engine/internal/scheduler"
	"settlement-engine/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()
	logrus.WithFields(logrus.Fields{
		"database": config.MaskURL(cfg.DatabaseURL),
		"redis":    config.MaskURL(cfg.RedisURL),
		"ledger":   cfg.LedgerPrimaryURL,
		"interval": cfg.CycleInterval,
		"batch":    cfg.MaxBatchSize,
	}).Info("settlement engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Fatal("invalid redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	db, err := store.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()
	obligations := store.NewPostgresStore(db)

	monitor := ledger.NewHealthMonitor(redisClient, cfg.LedgerPrimaryURL, cfg.LedgerFallbackURL, cfg.HealthCheckInterval)
	monitor.Start(ctx)
	settler := ledger.NewClient(cfg.LedgerPrimaryURL, cfg.LedgerFallbackURL, cfg.LedgerToken, cfg.LedgerTimeout, monitor)

	effects := emitter.New(obligations, redisClient, cfg.NotifyQueueSize)
	effects.Start(ctx, 2)

	exec := executor.New(obligations, settler, effects, cfg.DueLookahead, cfg.AutomationIdentity, cfg.AdminIdentities)
	res := resolver.New(obligations)
	sched := scheduler.New(res, exec, cfg.CycleInterval, cfg.DueLookahead, cfg.MaxBatchSize, cfg.AutomationIdentity)
	sched.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.NewAdminHandler(ctx, sched, cfg.APIKey).Register(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("failed to start admin server")
		}
	}()
	logrus.WithField("port", cfg.Port).Info("admin server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("admin server forced to shut down")
	}
	logrus.Info("settlement engine exited")
}
