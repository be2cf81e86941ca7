package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"trading-decision-engine/internal/api"
	"trading-decision-engine/internal/broker"
	"trading-decision-engine/internal/database"
	"trading-decision-engine/internal/engine"
	"trading-decision-engine/internal/events"
	"trading-decision-engine/internal/logging"
	"trading-decision-engine/internal/models"
)

type Config struct {
	Engine engine.Config  `json:"engine"`
	Assets []models.Asset `json:"assets" validate:"required,min=1,dive"`

	// Optional YAML file of strategy profile and tier overrides
	ProfilesFile string `json:"profiles_file"`
	ActiveTier   string `json:"active_tier" default:"standard" validate:"oneof=conservative standard aggressive"`

	Paper    PaperConfig        `json:"paper"`
	Database DatabaseConfig     `json:"database"`
	Redis    RedisConfig        `json:"redis"`
	Server   api.ServerConfig   `json:"server"`
	Auth     AuthConfig         `json:"auth"`
	Kafka    events.KafkaConfig `json:"kafka"`
	Logging  logging.Config     `json:"logging"`
}

// PaperConfig describes the simulated brokers and the synthetic market
// they trade against
type PaperConfig struct {
	Accounts  []broker.PaperConfig              `json:"accounts" validate:"dive"`
	Synthetic map[string]broker.SyntheticConfig `json:"synthetic"`
	Seed      int64                             `json:"seed" default:"42"`
}

// DatabaseConfig switches persistence between PostgreSQL and memory
type DatabaseConfig struct {
	Enabled bool `json:"enabled"`
	database.Config
}

// RedisConfig holds Redis configuration for shared cooldowns
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address" default:"localhost:6379"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size" default:"10" validate:"gt=0"`
}

// AuthConfig holds bearer token settings for the API
type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	TokenTTLMinutes int    `json:"token_ttl_minutes" default:"720" validate:"gt=0"`
}

// TokenTTL returns the access token lifetime
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

var validate = validator.New()

// Load reads path (config.json when empty), fills defaults, applies
// environment overrides and validates the result. A missing file yields
// the built-in paper setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnvOrDefault("CONFIG_FILE", "config.json")
	}

	cfg, err := newDefaults()
	if err != nil {
		return nil, err
	}
	if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := fillDerived(cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() (*Config, error) {
	cfg := &Config{Engine: engine.DefaultConfig()}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return cfg, nil
}

// fillDerived defaults list elements decoded from the file and supplies
// the built-in assets and paper account when none are configured
func fillDerived(cfg *Config) error {
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets()
	}
	for i := range cfg.Assets {
		if err := defaults.Set(&cfg.Assets[i]); err != nil {
			return fmt.Errorf("asset %d defaults: %w", i, err)
		}
	}
	if len(cfg.Paper.Accounts) == 0 {
		cfg.Paper.Accounts = []broker.PaperConfig{{Name: "paper"}}
	}
	for i := range cfg.Paper.Accounts {
		if err := defaults.Set(&cfg.Paper.Accounts[i]); err != nil {
			return fmt.Errorf("paper account %d defaults: %w", i, err)
		}
	}
	if len(cfg.Paper.Synthetic) == 0 {
		cfg.Paper.Synthetic = DefaultSynthetic()
	}
	if len(cfg.Engine.TrendTimeframes) == 0 {
		cfg.Engine.TrendTimeframes = []string{"1d", "4h", "1h"}
	}
	return nil
}

// Validate checks struct tags and the cross-references between sections
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	accounts := make(map[string]bool, len(c.Paper.Accounts))
	for _, a := range c.Paper.Accounts {
		if accounts[a.Name] {
			return fmt.Errorf("duplicate paper account %q", a.Name)
		}
		accounts[a.Name] = true
	}
	for _, name := range c.Engine.Brokers {
		if !accounts[name] {
			return fmt.Errorf("engine broker %q has no account", name)
		}
	}

	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if seen[a.ID] {
			return fmt.Errorf("duplicate asset %q", a.ID)
		}
		seen[a.ID] = true
		if err := a.Validate(); err != nil {
			return err
		}
		listed := false
		for name := range a.Aliases {
			listed = listed || accounts[name]
		}
		if !listed {
			return fmt.Errorf("asset %s is not listed on any configured broker", a.ID)
		}
	}

	if c.Server.AuthEnabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth enabled: jwt_secret must be at least 16 bytes")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Secrets are expected from the environment rather than the file.
func applyEnvOverrides(cfg *Config) {
	cfg.ActiveTier = getEnvOrDefault("ACTIVE_TIER", cfg.ActiveTier)
	cfg.ProfilesFile = getEnvOrDefault("PROFILES_FILE", cfg.ProfilesFile)
	cfg.Engine.DryRun = getEnvBoolOrDefault("DRY_RUN", cfg.Engine.DryRun)

	cfg.Database.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.Server.ProductionMode)
	cfg.Server.AuthEnabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Server.AuthEnabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Kafka.Enabled = getEnvBoolOrDefault("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnvOrDefault("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
}

func loadFromFile(filename string, into *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := json.Unmarshal(file, into); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// DefaultAssets is the built-in commodity watchlist traded on the paper broker
func DefaultAssets() []models.Asset {
	return []models.Asset{
		{
			ID:           "GOLD",
			Category:     models.CategoryMetal,
			Aliases:      map[string][]string{"paper": {"XAUUSD"}},
			UnitValue:    100,
			TickSize:     0.01,
			TradingHours: models.TradingHours{Open: "00:00", Close: "23:59", Days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"}},
		},
		{
			ID:           "SILVER",
			Category:     models.CategoryMetal,
			Aliases:      map[string][]string{"paper": {"XAGUSD"}},
			UnitValue:    5000,
			TickSize:     0.001,
			TradingHours: models.TradingHours{Open: "00:00", Close: "23:59", Days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"}},
		},
		{
			ID:           "WTI",
			Category:     models.CategoryEnergy,
			Aliases:      map[string][]string{"paper": {"USOIL", "CL"}},
			UnitValue:    1000,
			TickSize:     0.01,
			TradingHours: models.TradingHours{Open: "00:00", Close: "23:59", Days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"}},
		},
	}
}

// DefaultSynthetic seeds the synthetic feed for DefaultAssets
func DefaultSynthetic() map[string]broker.SyntheticConfig {
	return map[string]broker.SyntheticConfig{
		"GOLD":   {BasePrice: 2350, Volatility: 0.004, Drift: 0.0002, Spread: 0.3},
		"SILVER": {BasePrice: 28.5, Volatility: 0.006, Spread: 0.03},
		"WTI":    {BasePrice: 78, Volatility: 0.007, Drift: -0.0001, Spread: 0.04},
	}
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	cfg, err := newDefaults()
	if err != nil {
		return err
	}
	if err := fillDerived(cfg); err != nil {
		return err
	}
	cfg.Engine.DryRun = true
	cfg.Engine.Brokers = []string{"paper"}
	cfg.ProfilesFile = "profiles.yaml"
	cfg.Kafka.Brokers = []string{"localhost:9092"}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
