// internal/config/config.go
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	custom_errors "small-projects-fetcher/internal/errors"
	"small-projects-fetcher/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Port              string        `mapstructure:"PORT"`
	DBURL             string        `mapstructure:"DB_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	GithubToken       string        `mapstructure:"GITHUB_TOKEN"`
	CronSecret        string        `mapstructure:"CRON_SECRET"`
	SearchStrategies  []string      `mapstructure:"SEARCH_STRATEGIES"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	UpdateExisting    bool          `mapstructure:"UPDATE_EXISTING"`
	EnrichContribs    bool          `mapstructure:"ENRICH_CONTRIBUTORS"`
	EnrichConcurrency int           `mapstructure:"ENRICH_CONCURRENCY"`
	CreateBatchSize   int           `mapstructure:"CREATE_BATCH_SIZE"`
	UpdateBatchSize   int           `mapstructure:"UPDATE_BATCH_SIZE"`
	BatchDelay        time.Duration `mapstructure:"BATCH_DELAY"`

	// Strategies is parsed from SearchStrategies at load time.
	Strategies []model.SearchStrategy `mapstructure:"-"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 5)
	viper.SetDefault("SEARCH_STRATEGIES", "100-300:updated:1,300-600:stars:1")
	viper.SetDefault("SYNC_INTERVAL", "6h")
	viper.SetDefault("UPDATE_EXISTING", true)
	viper.SetDefault("ENRICH_CONTRIBUTORS", true)
	viper.SetDefault("ENRICH_CONCURRENCY", 5)
	viper.SetDefault("CREATE_BATCH_SIZE", 50)
	viper.SetDefault("UPDATE_BATCH_SIZE", 10)
	viper.SetDefault("BATCH_DELAY", "500ms")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse strategy specs into typed strategies
	strategies, err := parseStrategies(cfg.SearchStrategies)
	if err != nil {
		return nil, err
	}
	cfg.Strategies = strategies

	// Validate required fields. GITHUB_TOKEN is deliberately not required:
	// an absent or placeholder token downgrades to unauthenticated requests.
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.CronSecret == "" {
		return nil, errors.New("CRON_SECRET is a required configuration field")
	}
	if cfg.CreateBatchSize <= 0 || cfg.UpdateBatchSize <= 0 {
		return nil, errors.New("CREATE_BATCH_SIZE and UPDATE_BATCH_SIZE must be positive")
	}
	if cfg.EnrichConcurrency <= 0 {
		return nil, errors.New("ENRICH_CONCURRENCY must be positive")
	}

	return &cfg, nil
}

// parseStrategies turns 'min-max:sort:pages' specs into search strategies.
func parseStrategies(specs []string) ([]model.SearchStrategy, error) {
	var strategies []model.SearchStrategy
	for _, raw := range specs {
		for _, spec := range strings.Split(raw, ",") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}

			parts := strings.Split(spec, ":")
			if len(parts) != 3 {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}

			stars := strings.SplitN(parts[0], "-", 2)
			if len(stars) != 2 {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}
			minStars, err := strconv.Atoi(stars[0])
			if err != nil {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}
			maxStars, err := strconv.Atoi(stars[1])
			if err != nil {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}
			pages, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}

			sort := parts[1]
			if minStars < 0 || maxStars < minStars || pages < 1 || sort == "" {
				return nil, &custom_errors.ErrInvalidStrategyFormat{Spec: spec}
			}

			strategies = append(strategies, model.SearchStrategy{
				MinStars: minStars,
				MaxStars: maxStars,
				Sort:     sort,
				Pages:    pages,
			})
		}
	}

	if len(strategies) == 0 {
		return nil, errors.New("SEARCH_STRATEGIES must contain at least one strategy")
	}
	return strategies, nil
}
