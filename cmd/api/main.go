package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/contract"
	"storyforge/internal/coordinator"
	"storyforge/internal/http/handlers"
	httpapi "storyforge/internal/http/httpapi"
	"storyforge/internal/infra"
	"storyforge/internal/lifecycle"
	"storyforge/internal/providers/gen"
	"storyforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	stories := repo.NewStoryRepository(runner)
	slots := repo.NewSlotStore(runner)
	quota := repo.NewQuotaStore(runner)
	idem := repo.NewIdempotencyLedger(runner)
	machine := lifecycle.NewMachine(stories, logger)
	generator := gen.NewSyntheticGenerator(fileStore, cfg.StorageBaseURL, logger)

	coord := coordinator.New(stories, slots, quota, idem, machine, generator, logger, coordinator.Config{
		LockTTL:            cfg.LockTTL,
		IdempotencyTTL:     cfg.IdempotencyTTL,
		GenerationAttempts: cfg.GenerationAttempts,
		GenerationBackoff:  cfg.GenerationBackoff,
		JoinPollInterval:   cfg.JoinPollInterval,
	})

	// A contract the transition tables reject fails the boot here, not in
	// the middle of a request.
	registry, err := contract.NewRegistry(handlers.DefaultOperations()...)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid operation contracts")
	}

	app := &handlers.App{
		Config:      cfg,
		Logger:      logger,
		Stories:     stories,
		Slots:       slots,
		Quota:       quota,
		Files:       fileStore,
		Coordinator: coord,
		Registry:    registry,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
