package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Log       LogConfig
	Store     StoreConfig
	Export    ExportConfig
	Bootstrap BootstrapConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig locates the data directory and bounds lock waits.
type StoreConfig struct {
	DataDir     string
	LockTimeout time.Duration
}

// ExportConfig controls where roster exports are written, relative to the data directory.
type ExportConfig struct {
	Dir     string
	Workers int
}

// BootstrapConfig gates the unsalted demo seed accounts. Disabled unless explicitly enabled.
type BootstrapConfig struct {
	Enabled    bool
	AccountIDs []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Store = StoreConfig{
		DataDir:     v.GetString("DATA_DIR"),
		LockTimeout: parseDuration(v.GetString("LOCK_TIMEOUT"), 5*time.Second),
	}

	cfg.Export = ExportConfig{
		Dir:     v.GetString("EXPORT_DIR"),
		Workers: v.GetInt("EXPORT_WORKERS"),
	}

	cfg.Bootstrap = BootstrapConfig{
		Enabled:    v.GetBool("BOOTSTRAP_ACCOUNTS_ENABLED"),
		AccountIDs: splitAndTrim(v.GetString("BOOTSTRAP_ACCOUNT_IDS")),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("EXPORT_DIR", "exports")
	v.SetDefault("EXPORT_WORKERS", 4)

	v.SetDefault("BOOTSTRAP_ACCOUNTS_ENABLED", false)
	v.SetDefault("BOOTSTRAP_ACCOUNT_IDS", "admin001,teacher001,student001")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
