package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Worker     WorkerConfig     `yaml:"worker"`
	DB         DatabaseConfig   `yaml:"db"`
	Logging    LoggingConfig    `yaml:"logging"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Assets     AssetsConfig     `yaml:"assets"`
	Risk       RiskConfig       `yaml:"risk"`
	Redis      RedisConfig      `yaml:"redis"`
}

type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`
}

type WorkerConfig struct {
	Count      int `yaml:"count"`
	BufferSize int `yaml:"buffer_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ClusteringConfig struct {
	MergeRadius   float64       `yaml:"merge_radius_m"`
	PartnerWindow time.Duration `yaml:"partner_window"`
	Serialize     bool          `yaml:"serialize"`
}

type AssetsConfig struct {
	MatchRadius float64       `yaml:"match_radius_m"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type RiskConfig struct {
	Interval time.Duration `yaml:"interval"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-" json:"-"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 20),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 100),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/grievances.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Clustering: ClusteringConfig{
			MergeRadius:   getEnvFloat("MERGE_RADIUS", 500),
			PartnerWindow: getEnvDuration("PARTNER_WINDOW", 30*24*time.Hour),
			Serialize:     getEnvBool("CLUSTER_SERIALIZE", false),
		},
		Assets: AssetsConfig{
			MatchRadius: getEnvFloat("ASSET_MATCH_RADIUS", 1000),
			CacheTTL:    getEnvDuration("ASSET_CACHE_TTL", 5*time.Minute),
		},
		Risk: RiskConfig{
			Interval: getEnvDuration("RISK_INTERVAL", 0),
			LeaseTTL: getEnvDuration("RISK_LEASE_TTL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return fmt.Errorf("rate limit must be at least 1 request per second")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Worker.BufferSize < 0 {
		return fmt.Errorf("worker buffer size must not be negative")
	}

	if c.Clustering.MergeRadius <= 0 {
		return fmt.Errorf("merge radius must be positive")
	}
	if c.Clustering.PartnerWindow <= 0 {
		return fmt.Errorf("partner window must be positive")
	}
	if c.Assets.MatchRadius <= 0 {
		return fmt.Errorf("asset match radius must be positive")
	}
	if c.Assets.CacheTTL < 0 {
		return fmt.Errorf("asset cache TTL must not be negative")
	}

	if c.Risk.Interval != 0 && c.Risk.Interval < time.Minute {
		return fmt.Errorf("risk interval must be 0 (disabled) or at least 1 minute")
	}
	if c.Risk.LeaseTTL < time.Second {
		return fmt.Errorf("risk lease TTL must be at least 1 second")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
