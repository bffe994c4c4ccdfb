package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one vendor adapter.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config is the service configuration. A conduit.yaml file supplies the
// baseline; environment variables override it. Everything is read once
// at startup and never mutated mid-request.
type Config struct {
	Addr            string         `yaml:"addr"`
	DBPath          string         `yaml:"db_path"`
	WarehouseDSN    string         `yaml:"warehouse_dsn"`
	Workspace       string         `yaml:"workspace"`
	DefaultProvider string         `yaml:"default_provider"`
	MaxIterations   int            `yaml:"max_iterations"`
	TextBudget      int            `yaml:"text_budget"`
	OpenAI          ProviderConfig `yaml:"openai"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	Fallback        string         `yaml:"fallback"` // provider name chained after the default
}

// LoadConfig reads conduit.yaml (when present) and applies env overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Addr:            ":8080",
		DBPath:          "conduit.db",
		DefaultProvider: "openai",
		MaxIterations:   10,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg.Addr, "CONDUIT_ADDR")
	applyEnv(&cfg.DBPath, "CONDUIT_DB_PATH")
	applyEnv(&cfg.WarehouseDSN, "CONDUIT_WAREHOUSE_DSN")
	applyEnv(&cfg.Workspace, "CONDUIT_WORKSPACE")
	applyEnv(&cfg.DefaultProvider, "CONDUIT_DEFAULT_PROVIDER")
	applyEnvInt(&cfg.MaxIterations, "CONDUIT_MAX_ITERATIONS")
	applyEnvInt(&cfg.TextBudget, "CONDUIT_TEXT_BUDGET")
	applyEnv(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	applyEnv(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	applyEnv(&cfg.OpenAI.Model, "CONDUIT_OPENAI_MODEL")
	applyEnv(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	applyEnv(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	applyEnv(&cfg.Anthropic.Model, "CONDUIT_ANTHROPIC_MODEL")
	applyEnv(&cfg.Fallback, "CONDUIT_FALLBACK_PROVIDER")

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return cfg, nil
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// loadDotenv loads a .env file into the environment if it exists.
func loadDotenv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Don't override existing env vars.
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// warehouseConnectTimeout bounds the startup connection check.
const warehouseConnectTimeout = 10 * time.Second
