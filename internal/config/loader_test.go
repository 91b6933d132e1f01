package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/kpisync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.PageSize, convey.ShouldEqual, 100)
				convey.So(cfg.EnrichWorkers, convey.ShouldEqual, 8)
				convey.So(cfg.Tenants, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("KPISYNC_ADDR", ":8080")
			_ = os.Setenv("KPISYNC_PAGE_SIZE", "50")
			_ = os.Setenv("KPISYNC_ENRICH_WORKERS", "4")
			_ = os.Setenv("KPISYNC_STORE_DRIVER", "memory")
			_ = os.Setenv("KPISYNC_LOG_FORMAT", "json")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PageSize, convey.ShouldEqual, 50)
				convey.So(cfg.EnrichWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})
		})

		convey.Convey("When loading config with a YAML file carrying tenants", func() {
			yamlContent := `
addr: ":9090"
full_page_cap: 400
range_cache_backend: redis
redis_addr: "cache:6379"
tenants:
  acme:
    geo:
      sheet_url: "https://sheets.example.com/export?format=csv"
      cities_tab: "0"
      counties_tab: "42"
    integrations:
      main:
        location_id: "loc-1"
        token: "tenant-token"
        agency_token: "agency-token"
        company_id: "co-1"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("KPISYNC_CONFIG", tmpFile)
			_ = os.Setenv("KPISYNC_ADDR", ":8081")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values load and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8081")
				convey.So(cfg.FullPageCap, convey.ShouldEqual, 400)
				convey.So(cfg.IncrementalPageCap, convey.ShouldEqual, 12)
				convey.So(cfg.RangeCacheBackend, convey.ShouldEqual, config.CacheBackendRedis)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "cache:6379")

				acme, ok := cfg.Tenants["acme"]
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(acme.Geo.CountiesTab, convey.ShouldEqual, "42")
				convey.So(acme.Integrations["main"].LocationID, convey.ShouldEqual, "loc-1")
				convey.So(acme.Integrations["main"].AgencyToken, convey.ShouldEqual, "agency-token")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("KPISYNC_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("KPISYNC_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("KPISYNC_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("KPISYNC_PAGE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	envVars := []string{
		"KPISYNC_CONFIG",
		"KPISYNC_ADDR",
		"KPISYNC_PAGE_SIZE",
		"KPISYNC_ENRICH_WORKERS",
		"KPISYNC_STORE_DRIVER",
		"KPISYNC_LOG_FORMAT",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "kpisync-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
