// Package config loads the engine's runtime configuration from the
// environment, optionally seeded from a .env file during local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the external interface contract.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Cache   CacheConfig
	Engine  EngineConfig
	Zoom    ZoomConfig
	Water   WaterLevelConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type StoreConfig struct {
	// SourceDir is the filesystem root for DEM .zst files.
	SourceDir string
	// PrecompressedDir is the filesystem root for the .u16[.br|.gz] pyramid.
	PrecompressedDir string
}

type CacheConfig struct {
	SourceCacheMax int
	PNGCacheMax    int
}

type EngineConfig struct {
	ConcurrencyCap int
	DeadlineMS     int
}

func (e EngineConfig) Deadline() time.Duration {
	return time.Duration(e.DeadlineMS) * time.Millisecond
}

type ZoomConfig struct {
	MaxZoom int
}

type WaterLevelConfig struct {
	MinM float64
	MaxM float64
}

// Load reads configuration from environment variables, falling back to
// spec-mandated defaults. It loads a .env file first if one is present in
// the working directory; a missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8080"),
		},
		Store: StoreConfig{
			SourceDir:        getEnv("SOURCE_DIR", "./data/source"),
			PrecompressedDir: getEnv("PRECOMPRESSED_DIR", "./data/precompressed"),
		},
	}

	var err error
	if cfg.Cache.SourceCacheMax, err = getEnvInt("SOURCE_CACHE_MAX", 64); err != nil {
		return nil, err
	}
	if cfg.Cache.PNGCacheMax, err = getEnvInt("PNG_CACHE_MAX", 1000); err != nil {
		return nil, err
	}
	if cfg.Engine.ConcurrencyCap, err = getEnvInt("CONCURRENCY_CAP", 32); err != nil {
		return nil, err
	}
	if cfg.Engine.DeadlineMS, err = getEnvInt("DEADLINE_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.Zoom.MaxZoom, err = getEnvInt("MAX_ZOOM", 11); err != nil {
		return nil, err
	}
	if cfg.Water.MinM, err = getEnvFloat("WATER_LEVEL_MIN_M", -10); err != nil {
		return nil, err
	}
	if cfg.Water.MaxM, err = getEnvFloat("WATER_LEVEL_MAX_M", 1000); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number: %w", key, v, err)
	}
	return f, nil
}
