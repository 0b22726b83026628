package config

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that steer loading itself.
const (
	EnvPrefix  = "SONGRANK_"
	EnvConfig  = "SONGRANK_CONFIG"
	EnvEnvFile = "SONGRANK_ENV_FILE"
)

// Load builds a Config by layering, lowest precedence first:
//  1. defaults (New)
//  2. a .env file named by SONGRANK_ENV_FILE, which only fills unset vars
//  3. a YAML file named by SONGRANK_CONFIG
//  4. env vars with the SONGRANK_ prefix
func Load(_ context.Context) (*Config, error) {
	if path := os.Getenv(EnvEnvFile); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, loadErr("env file", err)
		}
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, loadErr("config file", err)
		}
	}

	// SONGRANK_QUEUE_SIZE -> queue_size. Keys are flat so underscores stay.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, loadErr("env", err)
	}

	cfg := New()
	// Decoding into a non-nil slice keeps trailing defaults.
	if k.Exists("points_per_place") {
		cfg.PointsPerPlace = nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, loadErr("unmarshal", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
