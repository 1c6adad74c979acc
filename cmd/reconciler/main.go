package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"thumbforge/internal/adapter/repo"
	"thumbforge/internal/identity"
	"thumbforge/internal/infra"
	"thumbforge/internal/pipeline"
	"thumbforge/internal/providers/replicate"
	"thumbforge/internal/storage"
)

const sweepBatchSize = 200

// The reconciler binary drives all background progress: it polls active jobs
// against the provider, expires stale ones, starts committed identity
// training runs, and applies finished training outcomes. All pending work
// lives in persisted rows, so any number of instances may run concurrently.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "reconciler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: db connection failed")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)
	predictions := repo.NewPredictionRepository(pool)
	identities := repo.NewIdentityRepository(pool)
	photos := repo.NewPhotoRepository(pool)

	provider := replicate.NewClient(replicate.Options{
		APIToken: cfg.ReplicateAPIToken,
		BaseURL:  cfg.ReplicateBaseURL,
		Logger:   &logger,
	})

	store, err := newObjectStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: failed to configure object storage")
	}

	reconciler := pipeline.NewReconciler(pipeline.ReconcilerOptions{
		Jobs:        jobs,
		Predictions: predictions,
		Provider:    provider,
		StaleAfter:  cfg.JobStaleAfter,
		Logger:      logger,
	})
	identitySvc := identity.NewService(identity.Options{
		Identities:     identities,
		Photos:         photos,
		Store:          store,
		Provider:       provider,
		TrainerVersion: cfg.TrainerModelVersion,
		Destination:    cfg.TrainingDestination,
		Logger:         logger,
	})

	logger.Info().Dur("interval", cfg.SweepInterval).Msg("reconciler: started")
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		runSweep(ctx, reconciler, identitySvc, logger)
		select {
		case <-ctx.Done():
			logger.Info().Msg("reconciler: stopped")
			return
		case <-ticker.C:
		}
	}
}

func runSweep(ctx context.Context, reconciler *pipeline.Reconciler, identitySvc *identity.Service, logger infra.Logger) {
	if err := reconciler.Sweep(ctx, sweepBatchSize); err != nil {
		logger.Error().Err(err).Msg("reconciler: job sweep failed")
	}
	if err := identitySvc.StartPending(ctx, sweepBatchSize); err != nil {
		logger.Error().Err(err).Msg("reconciler: start pending trainings failed")
	}
	if err := identitySvc.RefreshInFlight(ctx, sweepBatchSize); err != nil {
		logger.Error().Err(err).Msg("reconciler: refresh trainings failed")
	}
}

func newObjectStore(cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.UseSupabaseStorage() {
		return storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	}
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	return storage.NewFileStore(storagePath, cfg.StorageBaseURL)
}
