package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"thumbforge/internal/adapter/repo"
	"thumbforge/internal/http/handlers"
	httpapi "thumbforge/internal/http/httpapi"
	"thumbforge/internal/identity"
	"thumbforge/internal/infra"
	"thumbforge/internal/infra/geoip"
	"thumbforge/internal/pipeline"
	"thumbforge/internal/prompt"
	"thumbforge/internal/providers/llm"
	"thumbforge/internal/providers/replicate"
	"thumbforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
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

	// The LLM port is optional: without a key the composer runs in bypass
	// mode and serves the deterministic variant table.
	var generator prompt.VariantGenerator
	if cfg.OpenAIAPIKey != "" {
		gen, err := llm.NewOpenAIGenerator(llm.Options{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure llm client")
		}
		generator = gen
	} else {
		logger.Warn().Msg("openai api key missing, using deterministic prompt variants")
	}
	composer := prompt.NewComposer(generator, logger)

	store, err := newObjectStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	app := &handlers.App{
		Dispatcher: pipeline.NewDispatcher(pipeline.DispatcherOptions{
			Jobs:         jobs,
			Predictions:  predictions,
			Identities:   identities,
			Composer:     composer,
			Provider:     provider,
			DefaultModel: cfg.DefaultModelVersion,
			WebhookURL:   cfg.WebhookURL(),
			Logger:       logger,
		}),
		Variations: pipeline.NewVariationDispatcher(pipeline.VariationDispatcherOptions{
			Jobs:         jobs,
			Predictions:  predictions,
			Provider:     provider,
			DefaultModel: cfg.DefaultModelVersion,
			WebhookURL:   cfg.WebhookURL(),
			Logger:       logger,
		}),
		Reconciler: pipeline.NewReconciler(pipeline.ReconcilerOptions{
			Jobs:        jobs,
			Predictions: predictions,
			Provider:    provider,
			StaleAfter:  cfg.JobStaleAfter,
			Logger:      logger,
		}),
		Identity: identity.NewService(identity.Options{
			Identities:     identities,
			Photos:         photos,
			Store:          store,
			Provider:       provider,
			TrainerVersion: cfg.TrainerModelVersion,
			Destination:    cfg.TrainingDestination,
			Logger:         logger,
		}),
		Jobs:   jobs,
		Pool:   pool,
		Geo:    geo,
		Logger: logger,
	}

	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
