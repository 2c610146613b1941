package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/api"
	"github.com/Boon40/PlantMore/internal/bioclip"
	"github.com/Boon40/PlantMore/internal/blob"
	"github.com/Boon40/PlantMore/internal/classify"
	"github.com/Boon40/PlantMore/internal/config"
	"github.com/Boon40/PlantMore/internal/db"
	"github.com/Boon40/PlantMore/internal/llm"
	"github.com/Boon40/PlantMore/internal/workers"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("shutting down due to error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DatabasePath))
		return err
	}
	defer database.Close()

	blobs, err := blob.New(cfg.UploadsDir)
	if err != nil {
		return err
	}

	classifier := bioclip.NewClient(cfg.BioclipURL, cfg.BioclipTimeout, cfg.BioclipHealthTimeout)
	orchestrator := classify.NewOrchestrator(classifier, database, logger, cfg.ClassifyQueueSize)

	llmService, err := llm.New(cfg.LLMBaseURL, cfg.LLMToken, cfg.LLMModel, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(database, blobs, orchestrator, llmService, logger, cfg.MaxUploadBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sigCh:
			logger.Info("shutting down due to signal", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if health := classifier.CheckHealth(ctx); !health.Available {
		logger.Warn("bioclip service unavailable at startup", zap.String("error", health.Error))
	}

	group := workers.Group{
		orchestrator,
		workers.NewHTTPServer(cfg.Addr, handler.Routes(), logger, cfg.ShutdownTimeout),
	}
	return group.Run(ctx)
}
