package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultAppEnv        = "development"
	defaultDBPath        = "./dev.db"
	defaultPort          = "8080"
	defaultTokenTTL      = 24 * time.Hour
	defaultExportDir     = "./exports"
	defaultExportWorkers = 2
	defaultCacheProvider = "memory"
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheSize     = 1024
	defaultLogLevel      = "info"
)

// Config holds application configuration sourced from the environment and an optional .env file.
type Config struct {
	AppEnv        string        `mapstructure:"app_env"`
	Port          string        `mapstructure:"port"`
	DBPath        string        `mapstructure:"db_path"`
	AutoMigrate   bool          `mapstructure:"auto_migrate"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
	TokenSecret   string        `mapstructure:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	ExportDir     string        `mapstructure:"export_dir"`
	ExportWorkers int           `mapstructure:"export_workers"`
	CacheProvider string        `mapstructure:"cache_provider"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
	RedisURL      string        `mapstructure:"redis_url"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	LogFile       string        `mapstructure:"log_file"`
}

var keys = []string{
	"app_env", "port", "db_path", "auto_migrate",
	"admin_email", "admin_password", "token_secret", "token_ttl",
	"export_dir", "export_workers",
	"cache_provider", "cache_ttl", "cache_size", "redis_url",
	"log_level", "log_format", "log_file",
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "" || env == "dev" || env == "development" || env == "local"
}

// Load reads configuration from ".env" in the working directory and the process environment.
func Load() (Config, []string, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path. It returns the loaded config and
// warnings about settings the service can run without but probably should not.
func LoadFrom(dotenvPath string) (Config, []string, error) {
	v := viper.New()
	setDefaults(v)

	// Best-effort: a missing file is fine, production should use real env injection.
	if err := readDotEnv(v, dotenvPath); err != nil {
		return Config{}, nil, err
	}

	v.AutomaticEnv()
	for _, key := range keys {
		// Unmarshal only sees env values for keys viper already knows about.
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.ExportWorkers <= 0 {
		cfg.ExportWorkers = defaultExportWorkers
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
		if cfg.IsDev() {
			cfg.LogFormat = "console"
		}
	}

	var warnings []string
	if cfg.AdminEmail == "" {
		warnings = append(warnings, "ADMIN_EMAIL is not set")
	}
	if cfg.AdminPassword == "" {
		warnings = append(warnings, "ADMIN_PASSWORD is not set")
	}
	if cfg.TokenSecret == "" {
		warnings = append(warnings, "TOKEN_SECRET is not set")
	}
	if cfg.CacheProvider == "redis" && cfg.RedisURL == "" {
		warnings = append(warnings, "CACHE_PROVIDER is redis but REDIS_URL is not set")
	}

	return cfg, warnings, nil
}

// LogWarnings reports the warnings returned by Load.
func LogWarnings(logger *zap.Logger, warnings []string) {
	for _, w := range warnings {
		logger.Warn("configuration warning", zap.String("detail", w))
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", defaultAppEnv)
	v.SetDefault("port", defaultPort)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("auto_migrate", true)
	v.SetDefault("token_ttl", defaultTokenTTL)
	v.SetDefault("export_dir", defaultExportDir)
	v.SetDefault("export_workers", defaultExportWorkers)
	v.SetDefault("cache_provider", defaultCacheProvider)
	v.SetDefault("cache_ttl", defaultCacheTTL)
	v.SetDefault("cache_size", defaultCacheSize)
	v.SetDefault("log_level", defaultLogLevel)
}
