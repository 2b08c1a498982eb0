package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/api"
	"stock-sync/internal/app"
	"stock-sync/internal/broker"
	"stock-sync/internal/util"
	"stock-sync/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stock sync service")

	engine, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Close()

	tp, err := util.InitTracer(util.TracerConfig{
		Endpoint:    cfg.Observ.JaegerEndpoint,
		Env:         cfg.Server.Env,
		InstanceID:  engine.InstanceID,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	if err := engine.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ctx := context.Background()
	if swept, err := engine.Sweeper.Sweep(ctx); err != nil {
		logger.Error("Startup sweep failed", zap.Error(err))
	} else if len(swept) > 0 {
		logger.Warn("Orphaned sessions failed at startup", zap.Strings("session_ids", swept))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if engine.Redis != nil {
		heartbeatWorker := worker.NewHeartbeatWorker(engine.Redis, engine.InstanceID, time.Minute)
		go func() {
			if err := heartbeatWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Heartbeat worker error", zap.Error(err))
			}
		}()
	}

	sweepWorker := worker.NewPeriodicWorker("sweeper", worker.SweepTicker{Sweeper: engine.Sweeper}, cfg.Sync.Watchdog/2)
	go func() {
		if err := sweepWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sweep worker error", zap.Error(err))
		}
	}()

	if cfg.Sync.SchedulerEnabled {
		schedulerWorker := worker.NewPeriodicWorker("scheduler", engine.Scheduler, cfg.Sync.SchedulerTick)
		go func() {
			if err := schedulerWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Scheduler worker error", zap.Error(err))
			}
		}()
	}

	var stockWorker *worker.StockChangeWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicStockChange, cfg.Kafka.ConsumerGroup)
		stockWorker = worker.NewStockChangeWorker(consumer, engine.Orchestrator)
		go func() {
			if err := stockWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Stock change worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	readiness := []api.Pinger{engine.Store}
	if engine.Redis != nil {
		readiness = append(readiness, engine.Redis)
	}

	router := gin.New()
	handler := api.NewHandler(engine.Orchestrator, cfg.Sync.HistoryLimit, readiness...)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if stockWorker != nil {
		stockWorker.Stop()
	}

	logger.Info("Server exited")
}
