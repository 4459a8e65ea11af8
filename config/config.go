// Package config resolves loader settings from defaults, an optional
// hujson config file, and IMGLOAD_* environment variables, in that order
// of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/tailscale/hujson"

	"github.com/meigma/imgload"
	"github.com/meigma/imgload/cache"
	"github.com/meigma/imgload/memcache"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = ".imgload.json"

// Config holds the tunable loader settings.
type Config struct {
	CacheDir           string `json:"cache_dir"             env:"IMGLOAD_CACHE_DIR"`
	ReserveCacheDir    string `json:"reserve_cache_dir"     env:"IMGLOAD_RESERVE_CACHE_DIR"`
	DiskCacheSize      int64  `json:"disk_cache_size"       env:"IMGLOAD_DISK_CACHE_SIZE"`
	DiskCacheFileCount int    `json:"disk_cache_file_count" env:"IMGLOAD_DISK_CACHE_FILE_COUNT"`
	MemoryCacheSize    int64  `json:"memory_cache_size"     env:"IMGLOAD_MEMORY_CACHE_SIZE"`
	UncachedWorkers    int    `json:"uncached_workers"      env:"IMGLOAD_UNCACHED_WORKERS"`
	CachedWorkers      int    `json:"cached_workers"        env:"IMGLOAD_CACHED_WORKERS"`
}

// Default returns the built-in settings. The cache directory defaults to
// <user cache dir>/imgload.
func Default() Config {
	cfg := Config{
		DiskCacheSize:   imgload.DefaultDiskCacheSize,
		MemoryCacheSize: imgload.DefaultMemCacheSize,
		UncachedWorkers: imgload.DefaultUncachedWorkers,
		CachedWorkers:   imgload.DefaultCachedWorkers,
	}
	if base, err := os.UserCacheDir(); err == nil {
		cfg.CacheDir = filepath.Join(base, "imgload")
	}
	return cfg
}

// Load resolves settings: defaults, then the config file at path (skipped
// when empty or absent), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// FromEnv resolves settings from defaults and the environment only.
func FromEnv() (Config, error) {
	return Load("")
}

// applyFile overlays the hujson config file at path onto cfg. A missing
// file is not an error.
func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := json.Unmarshal(std, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoaderOptions renders the settings as imgload.New options.
func (c Config) LoaderOptions() []imgload.Option {
	opts := []imgload.Option{
		imgload.WithMemoryCache(memcache.NewLRU(c.MemoryCacheSize)),
		imgload.WithWorkers(c.UncachedWorkers, c.CachedWorkers),
	}
	if c.CacheDir != "" {
		opts = append(opts, func(l *imgload.Loader) error {
			dc, err := c.OpenDiskCache()
			if err != nil {
				return err
			}
			return imgload.WithDiskCache(dc)(l)
		})
	}
	return opts
}

// OpenDiskCache opens the configured bounded disk cache.
func (c Config) OpenDiskCache() (cache.DiskCache, error) {
	var opts []cache.LRUOption
	if c.ReserveCacheDir != "" {
		opts = append(opts, cache.WithReserveDir(c.ReserveCacheDir))
	}
	return cache.NewLRU(c.CacheDir, c.DiskCacheSize, c.DiskCacheFileCount, opts...)
}
