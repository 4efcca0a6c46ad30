// The worker is the reaper for stalled generations: it claims stories
// stuck in generating whose slot locks have expired (their original
// driver died mid-flight) and re-drives the coordinator over them. The
// fingerprint diff makes the re-drive cheap: finished slots are reused,
// only the interrupted ones regenerate.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/coordinator"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/lifecycle"
	"storyforge/internal/providers/gen"
	"storyforge/internal/storage"
)

var errNoStalledStory = errors.New("no stalled story")

type reaper struct {
	ctx     context.Context
	stories *repo.StoryRepositoryPG
	coord   *coordinator.Coordinator
	logger  infra.Logger
	poll    time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	stories := repo.NewStoryRepository(runner)
	machine := lifecycle.NewMachine(stories, logger)
	generator := gen.NewSyntheticGenerator(fileStore, cfg.StorageBaseURL, logger)

	coord := coordinator.New(
		stories,
		repo.NewSlotStore(runner),
		repo.NewQuotaStore(runner),
		repo.NewIdempotencyLedger(runner),
		machine,
		generator,
		logger,
		coordinator.Config{
			LockTTL:            cfg.LockTTL,
			IdempotencyTTL:     cfg.IdempotencyTTL,
			GenerationAttempts: cfg.GenerationAttempts,
			GenerationBackoff:  cfg.GenerationBackoff,
			JoinPollInterval:   cfg.JoinPollInterval,
		},
	)

	r := &reaper{
		ctx:     ctx,
		stories: stories,
		coord:   coord,
		logger:  logger,
		poll:    cfg.WorkerPollInterval,
	}
	if err := r.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (r *reaper) Run() error {
	r.logger.Info().Msg("worker: started")
	for {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		storyID, err := r.claimStalled()
		if err != nil {
			if !errors.Is(err, errNoStalledStory) {
				r.logger.Error().Err(err).Msg("worker: claim stalled story failed")
			}
			select {
			case <-r.ctx.Done():
				return r.ctx.Err()
			case <-time.After(r.poll):
			}
			continue
		}

		r.redrive(storyID)
	}
}

func (r *reaper) claimStalled() (uuid.UUID, error) {
	id, _, _, err := r.stories.ClaimStalled(r.ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.Nil, errNoStalledStory
		}
		return uuid.Nil, err
	}
	return id, nil
}

// redrive runs the full coordination over the stalled story. No quota
// contract is attached: the original request already holds or settled
// its reservation, and recovery must not charge the account twice.
func (r *reaper) redrive(storyID uuid.UUID) {
	r.logger.Info().Str("story_id", storyID.String()).Msg("worker: re-driving stalled story")
	result, err := r.coord.Handle(r.ctx, coordinator.Request{
		StoryID: storyID,
		Actor:   "reaper",
	})
	if err != nil {
		r.logger.Error().Err(err).Str("story_id", storyID.String()).Msg("worker: re-drive failed")
		return
	}
	r.logger.Info().
		Str("story_id", storyID.String()).
		Str("state", string(result.State)).
		Int64("version", result.Version).
		Msg("worker: re-drive finished")
}
