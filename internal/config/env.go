package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env is the process-level configuration read from the environment.
type Env struct {
	ConfigDir       string        `env:"MATCHIQ_CONFIG_DIR"`
	LogicVersion    string        `env:"MATCHIQ_LOGIC_VERSION"`
	DataDir         string        `env:"MATCHIQ_DATA_DIR"`
	DBDriver        string        `env:"MATCHIQ_DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL     string        `env:"MATCHIQ_DATABASE_URL"`
	RedisAddr       string        `env:"MATCHIQ_REDIS_ADDR"`
	HistoryCacheTTL time.Duration `env:"MATCHIQ_HISTORY_CACHE_TTL" envDefault:"5m"`
	LogLevel        string        `env:"MATCHIQ_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"MATCHIQ_LOG_FORMAT" envDefault:"json"`
}

// ParseEnv loads Env from the environment and fills path defaults.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if e.DataDir == "" {
		home, _ := os.UserHomeDir()
		e.DataDir = filepath.Join(home, ".matchiq")
	}
	switch e.DBDriver {
	case "sqlite", "postgres":
	default:
		return Env{}, fmt.Errorf("MATCHIQ_DB_DRIVER must be sqlite or postgres, got %q", e.DBDriver)
	}
	if e.DBDriver == "postgres" && e.DatabaseURL == "" {
		return Env{}, fmt.Errorf("MATCHIQ_DATABASE_URL is required when MATCHIQ_DB_DRIVER=postgres")
	}
	return e, nil
}

// LoadRegistry returns the registry from ConfigDir, or the builtin
// versions when no directory is configured.
func (e Env) LoadRegistry() (*Registry, error) {
	if e.ConfigDir == "" {
		return BuiltinRegistry()
	}
	return LoadDir(e.ConfigDir)
}
