// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and KPISYNC_* environment variables on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// UpstreamBaseURL is the CRM/payments API root.
	UpstreamBaseURL string `koanf:"upstream_base_url"`
	// UpstreamVersion is sent as the Version header.
	UpstreamVersion string `koanf:"upstream_version"`

	RequestTimeoutMS int `koanf:"request_timeout_ms"`
	MaxRetries       int `koanf:"max_retries"`
	BackoffBaseMS    int `koanf:"backoff_base_ms"`
	BackoffJitterMS  int `koanf:"backoff_jitter_ms"`

	// PageSize is the row limit requested per upstream page.
	PageSize           int `koanf:"page_size"`
	FullPageCap        int `koanf:"full_page_cap"`
	IncrementalPageCap int `koanf:"incremental_page_cap"`
	PageDelayMS        int `koanf:"page_delay_ms"`

	SnapshotTTLSeconds     int `koanf:"snapshot_ttl_seconds"`
	OverlapWindowSeconds   int `koanf:"overlap_window_seconds"`
	MemoryCacheTTLSeconds  int `koanf:"memory_cache_ttl_seconds"`
	DurableCacheTTLSeconds int `koanf:"durable_cache_ttl_seconds"`
	GeoDirectoryTTLSeconds int `koanf:"geo_directory_ttl_seconds"`

	// EnrichWorkers bounds concurrent contact lookups.
	EnrichWorkers int `koanf:"enrich_workers"`

	// StoreDriver is sqlite or memory.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`

	// RangeCacheBackend is store or redis.
	RangeCacheBackend string `koanf:"range_cache_backend"`
	RedisAddr         string `koanf:"redis_addr"`
	RedisPassword     string `koanf:"redis_password"`
	RedisDB           int    `koanf:"redis_db"`
	RedisPrefix       string `koanf:"redis_prefix"`

	// Tenants maps tenant id to its geo dataset and upstream integrations.
	Tenants map[string]Tenant `koanf:"tenants"`
}

// Tenant is the per-tenant configuration block.
type Tenant struct {
	Geo          Geo                    `koanf:"geo"`
	Integrations map[string]Integration `koanf:"integrations"`
}

// Geo locates the city/county reference spreadsheet.
type Geo struct {
	SheetURL    string `koanf:"sheet_url"`
	CitiesTab   string `koanf:"cities_tab"`
	CountiesTab string `koanf:"counties_tab"`
}

// Integration is one upstream account a tenant reports on.
type Integration struct {
	LocationID  string `koanf:"location_id"`
	Token       string `koanf:"token"`
	AgencyToken string `koanf:"agency_token"`
	CompanyID   string `koanf:"company_id"`
}

// Store drivers and range cache backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	CacheBackendStore = "store"
	CacheBackendRedis = "redis"
)

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		Addr:                   ":9080",
		UpstreamBaseURL:        "https://services.leadconnectorhq.com",
		UpstreamVersion:        "2021-07-28",
		RequestTimeoutMS:       20_000,
		MaxRetries:             5,
		BackoffBaseMS:          500,
		BackoffJitterMS:        450,
		PageSize:               100,
		FullPageCap:            800,
		IncrementalPageCap:     12,
		PageDelayMS:            150,
		SnapshotTTLSeconds:     15 * 60,
		OverlapWindowSeconds:   15 * 60,
		MemoryCacheTTLSeconds:  45,
		DurableCacheTTLSeconds: 5 * 60,
		GeoDirectoryTTLSeconds: 15 * 60,
		EnrichWorkers:          8,
		StoreDriver:            StoreSQLite,
		SQLitePath:             "kpisync.db",
		RangeCacheBackend:      CacheBackendStore,
		RedisAddr:              "localhost:6379",
		RedisPrefix:            "kpisync",
		Tenants:                map[string]Tenant{},
	}
}

// RequestTimeout returns the per-call upstream timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// BackoffBase returns the first retry delay before growth.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffJitter returns the upper bound of random jitter added per retry.
func (c *Config) BackoffJitter() time.Duration {
	return time.Duration(c.BackoffJitterMS) * time.Millisecond
}

// PageDelay returns the pacing interval between page fetches.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMS) * time.Millisecond
}

// SnapshotTTL returns how long a snapshot is served without refresh.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

// OverlapWindow returns how far before the newest row an incremental refresh starts.
func (c *Config) OverlapWindow() time.Duration {
	return time.Duration(c.OverlapWindowSeconds) * time.Second
}

// MemoryCacheTTL returns the in-process range cache TTL.
func (c *Config) MemoryCacheTTL() time.Duration {
	return time.Duration(c.MemoryCacheTTLSeconds) * time.Second
}

// DurableCacheTTL returns the durable range cache TTL.
func (c *Config) DurableCacheTTL() time.Duration {
	return time.Duration(c.DurableCacheTTLSeconds) * time.Second
}

// GeoDirectoryTTL returns how long a tenant's geo directory is reused.
func (c *Config) GeoDirectoryTTL() time.Duration {
	return time.Duration(c.GeoDirectoryTTLSeconds) * time.Second
}
