package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// PublicBaseURL is the externally reachable origin of the API; the
	// provider webhook callback URL is derived from it.
	PublicBaseURL string

	ReplicateAPIToken   string
	ReplicateBaseURL    string
	DefaultModelVersion string
	TrainerModelVersion string
	TrainingDestination string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	StoragePath        string
	StorageBaseURL     string

	GeoIPDBPath string

	SweepInterval time.Duration
	JobStaleAfter time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		ReplicateAPIToken:   os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:    getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		DefaultModelVersion: os.Getenv("DEFAULT_MODEL_VERSION"),
		TrainerModelVersion: os.Getenv("TRAINER_MODEL_VERSION"),
		TrainingDestination: os.Getenv("TRAINING_DESTINATION"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "identity-photos"),
		StoragePath:        getEnv("STORAGE_PATH", "./data/objects"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		SweepInterval: time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 30)),
		JobStaleAfter: time.Minute * time.Duration(getEnvInt("JOB_STALE_AFTER_MINUTES", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}

	if cfg.DefaultModelVersion == "" {
		return nil, fmt.Errorf("DEFAULT_MODEL_VERSION is required")
	}

	return cfg, nil
}

// WebhookURL returns the provider callback endpoint derived from the public
// base URL.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/v1/webhooks/replicate"
}

// UseSupabaseStorage reports whether object storage should go through
// Supabase rather than the local filesystem.
func (c *Config) UseSupabaseStorage() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
