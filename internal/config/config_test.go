package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/kpisync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.MaxRetries, convey.ShouldEqual, 5)
			convey.So(cfg.PageSize, convey.ShouldEqual, 100)
			convey.So(cfg.FullPageCap, convey.ShouldEqual, 800)
			convey.So(cfg.IncrementalPageCap, convey.ShouldEqual, 12)
			convey.So(cfg.EnrichWorkers, convey.ShouldEqual, 8)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
			convey.So(cfg.RangeCacheBackend, convey.ShouldEqual, config.CacheBackendStore)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations derive from the numeric settings", func() {
			convey.So(cfg.BackoffBase(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.BackoffJitter(), convey.ShouldEqual, 450*time.Millisecond)
			convey.So(cfg.SnapshotTTL(), convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.OverlapWindow(), convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.MemoryCacheTTL(), convey.ShouldEqual, 45*time.Second)
			convey.So(cfg.DurableCacheTTL(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.GeoDirectoryTTL(), convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 20*time.Second)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the store driver is unknown", func() {
			cfg.StoreDriver = "postgres"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the redis backend has no address", func() {
			cfg.RangeCacheBackend = config.CacheBackendRedis
			cfg.RedisAddr = ""
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the page cap is zero", func() {
			cfg.FullPageCap = 0
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "full_page_cap")
		})

		convey.Convey("When an integration has no token at all", func() {
			cfg.Tenants["acme"] = config.Tenant{
				Integrations: map[string]config.Integration{"main": {LocationID: "loc-1"}},
			}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When an integration only has an agency token", func() {
			cfg.Tenants["acme"] = config.Tenant{
				Integrations: map[string]config.Integration{"main": {AgencyToken: "agency"}},
			}
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
