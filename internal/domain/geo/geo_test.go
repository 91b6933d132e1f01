package geo_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func floridaReference() geo.Reference {
	return geo.Reference{
		Cities: []geo.CityRow{
			{City: "Miami", State: "FL", County: "Miami-Dade"},
			{City: "Miami Beach", State: "FL", County: "Miami-Dade"},
			{City: "Orlando", State: "FL", County: "Orange"},
			{City: "Springfield", State: "IL", County: "Sangamon"},
			{City: "Springfield", State: "MO", County: "Greene"},
		},
		Counties: []geo.CountyRow{
			{County: "Miami-Dade County", State: "FL"},
			{County: "Orange County", State: "FL"},
			{County: "Broward", State: "FL"},
		},
	}
}

func TestNormalize(t *testing.T) {
	Convey("Given free text", t, func() {
		So(geo.Normalize("  Referral--Miami_Dade!! "), ShouldEqual, "referral miami dade")
		So(geo.NormalizeCounty("Miami-Dade County"), ShouldEqual, "miami dade")
		So(geo.NormalizeCounty("County"), ShouldBeEmpty)
	})
}

func TestDirectoryMatching(t *testing.T) {
	Convey("Given a directory", t, func() {
		dir := geo.NewDirectory(floridaReference())

		Convey("When two city tokens are contained", func() {
			c, ok := dir.MatchCity("fb ad miami beach spring")

			Convey("Then the longest wins", func() {
				So(ok, ShouldBeTrue)
				So(c.City, ShouldEqual, "Miami Beach")
			})
		})

		Convey("When a token only appears inside a word", func() {
			_, ok := dir.MatchCity("miamivice promo")

			Convey("Then it does not match", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the county is named with its suffix", func() {
			c, ok := dir.MatchCounty("Broward County walk-in")

			So(ok, ShouldBeTrue)
			So(c.County, ShouldEqual, "Broward")
		})

		Convey("When a city exists in two states", func() {
			_, ok := dir.StateForCity("Springfield")

			Convey("Then no state is inferred from the city alone", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a city is unique", func() {
			s, ok := dir.StateForCity("orlando")
			So(ok, ShouldBeTrue)
			So(s, ShouldEqual, "FL")
			So(dir.CountyFor("FL", "Orlando"), ShouldEqual, "Orange")
		})
	})
}

func TestDirectoryEnrich(t *testing.T) {
	Convey("Given a directory", t, func() {
		dir := geo.NewDirectory(floridaReference())

		Convey("When the source names a city and its county", func() {
			r := model.TransactionRecord{ID: "t1", Source: "referral-miami-dade"}
			dir.Enrich(&r)

			Convey("Then city, county and state are inferred from the source", func() {
				So(r.City, ShouldEqual, "Miami")
				So(r.County, ShouldEqual, "Miami-Dade")
				So(r.State, ShouldEqual, "FL")
				So(r.StateFrom, ShouldEqual, model.StateFromSource)
			})
		})

		Convey("When the row carries its own state and city", func() {
			r := model.TransactionRecord{ID: "t2", State: "FL", City: "Orlando"}
			dir.Enrich(&r)

			Convey("Then the county comes from the pair lookup", func() {
				So(r.County, ShouldEqual, "Orange")
				So(r.StateFrom, ShouldEqual, model.StateFromTransaction)
			})
		})

		Convey("When only a county is named", func() {
			r := model.TransactionRecord{ID: "t3", Source: "orange county expo"}
			dir.Enrich(&r)

			So(r.County, ShouldEqual, "Orange")
			So(r.State, ShouldEqual, "FL")
			So(r.City, ShouldBeEmpty)
		})

		Convey("When nothing matches", func() {
			r := model.TransactionRecord{ID: "t4", Source: "google ads"}
			dir.Enrich(&r)

			So(r.State, ShouldBeEmpty)
			So(r.StateFrom, ShouldBeEmpty)
		})
	})
}

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (l *countingLoader) LoadReference(_ context.Context, _ string) (geo.Reference, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	if l.err != nil {
		return geo.Reference{}, l.err
	}
	return floridaReference(), nil
}

func TestDirectoryCache(t *testing.T) {
	Convey("Given a directory cache", t, func() {
		now := time.Unix(1_700_000_000, 0)
		clock := func() time.Time { return now }
		loader := &countingLoader{delay: 20 * time.Millisecond}
		cache := geo.NewDirectoryCache(loader, geo.WithTTL(15*time.Minute), geo.WithClock(clock))
		ctx := context.Background()

		Convey("When many requests build the same tenant at once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = cache.Get(ctx, "acme")
				}()
			}
			wg.Wait()

			Convey("Then the reference is loaded once", func() {
				So(loader.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the TTL elapses", func() {
			_, err := cache.Get(ctx, "acme")
			So(err, ShouldBeNil)
			now = now.Add(16 * time.Minute)
			_, err = cache.Get(ctx, "acme")
			So(err, ShouldBeNil)

			Convey("Then the directory is rebuilt", func() {
				So(loader.calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the loader fails", func() {
			loader.err = errors.New("sheet 404")
			dir, err := cache.Get(ctx, "acme")

			Convey("Then no directory is returned", func() {
				So(dir, ShouldBeNil)
				So(errors.Is(err, geo.ErrDirectoryUnavailable), ShouldBeTrue)
			})
		})
	})
}
