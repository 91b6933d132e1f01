package enrich_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/kpisync/internal/domain/enrich"
	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeContacts struct {
	mu       sync.Mutex
	profiles map[string]model.ContactProfile
	calls    map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{profiles: map[string]model.ContactProfile{}, calls: map[string]int{}}
}

func (f *fakeContacts) GetContact(_ context.Context, _ model.Integration, id string) (model.ContactProfile, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	p, ok := f.profiles[id]
	if !ok {
		return model.ContactProfile{}, errors.New("404 contact not found")
	}
	return p, nil
}

func directory() *geo.Directory {
	return geo.NewDirectory(geo.Reference{
		Cities: []geo.CityRow{
			{City: "Miami", State: "FL", County: "Miami-Dade"},
			{City: "Austin", State: "TX", County: "Travis"},
		},
		Counties: []geo.CountyRow{{County: "Travis County", State: "TX"}},
	})
}

func TestFromProfile(t *testing.T) {
	Convey("Given contact profiles", t, func() {
		dir := directory()

		Convey("When the profile has a state", func() {
			r := enrich.FromProfile(model.ContactProfile{State: "TX", City: "Austin"}, dir)

			So(r.State, ShouldEqual, "TX")
			So(r.County, ShouldEqual, "Travis")
			So(r.From, ShouldEqual, model.StateFromContact)
		})

		Convey("When only custom fields carry geography", func() {
			r := enrich.FromProfile(model.ContactProfile{CustomFields: []model.CustomField{
				{Name: "Billing State", Value: "FL"},
				{Key: "contact.home_city", Value: "Miami"},
				{Name: "Favorite color", Value: "green"},
			}}, dir)

			So(r.State, ShouldEqual, "FL")
			So(r.City, ShouldEqual, "Miami")
			So(r.County, ShouldEqual, "Miami-Dade")
			So(r.From, ShouldEqual, model.StateFromContactCustom)
		})

		Convey("When a custom city is unambiguous", func() {
			r := enrich.FromProfile(model.ContactProfile{CustomFields: []model.CustomField{
				{Name: "City", Value: "Austin"},
			}}, dir)

			So(r.State, ShouldEqual, "TX")
			So(r.From, ShouldEqual, model.StateFromContactCustom)
		})

		Convey("When only the profile source names a place", func() {
			r := enrich.FromProfile(model.ContactProfile{Source: "travis county fair"}, dir)

			So(r.State, ShouldEqual, "TX")
			So(r.County, ShouldEqual, "Travis County")
			So(r.From, ShouldEqual, model.StateFromContact)
		})

		Convey("When there is no directory and nothing explicit", func() {
			r := enrich.FromProfile(model.ContactProfile{Source: "miami"}, nil)

			So(r.Resolved(), ShouldBeFalse)
			So(r.From, ShouldEqual, model.StateFromUnknown)
		})
	})
}

func TestResolver(t *testing.T) {
	Convey("Given rows referencing repeated contacts", t, func() {
		contacts := newFakeContacts()
		contacts.delay = 5 * time.Millisecond
		contacts.profiles["c1"] = model.ContactProfile{ID: "c1", State: "FL", City: "Miami"}
		contacts.profiles["c2"] = model.ContactProfile{ID: "c2", State: "TX"}
		for _, id := range []string{"c3", "c4", "c5", "c6", "c7", "c8"} {
			contacts.profiles[id] = model.ContactProfile{ID: id}
		}

		rows := []model.TransactionRecord{
			{ID: "t1", ContactID: "c1"},
			{ID: "t2", ContactID: "c1"},
			{ID: "t3", ContactID: "c2"},
			{ID: "t4", ContactID: "missing"},
			{ID: "t5", ContactID: "c9", State: "GA", StateFrom: model.StateFromTransaction},
			{ID: "t6"},
		}
		for _, id := range []string{"c3", "c4", "c5", "c6", "c7", "c8"} {
			rows = append(rows, model.TransactionRecord{ID: "x-" + id, ContactID: id})
		}

		resolver := enrich.NewResolver(contacts, enrich.WithWorkers(2))
		ids := enrich.MissingContacts(rows)
		res, stats := resolver.Resolve(context.Background(), model.Integration{}, directory(), ids)
		filled := enrich.Apply(rows, res)

		Convey("Then each distinct contact is fetched once", func() {
			So(ids, ShouldNotContain, "c9")
			So(contacts.calls["c1"], ShouldEqual, 1)
			So(stats.Lookups, ShouldEqual, 9)
		})

		Convey("And concurrency stays within the pool width", func() {
			So(stats.Workers, ShouldEqual, 2)
			So(contacts.peak.Load(), ShouldBeLessThanOrEqualTo, 2)
		})

		Convey("And a failed lookup degrades to unknown", func() {
			So(stats.Failures, ShouldEqual, 1)
			So(rows[3].State, ShouldBeEmpty)
			So(rows[3].StateFrom, ShouldEqual, model.StateFromUnknown)
		})

		Convey("And resolved rows carry the contact geography", func() {
			So(filled, ShouldEqual, 3)
			So(stats.Resolved, ShouldEqual, 2)
			So(rows[0].State, ShouldEqual, "FL")
			So(rows[0].County, ShouldEqual, "Miami-Dade")
			So(rows[1].StateFrom, ShouldEqual, model.StateFromContact)
			So(rows[4].State, ShouldEqual, "GA")
			So(rows[4].StateFrom, ShouldEqual, model.StateFromTransaction)
			So(rows[5].StateFrom, ShouldEqual, model.StateFromUnknown)
		})
	})

	Convey("Given no contacts to resolve", t, func() {
		resolver := enrich.NewResolver(newFakeContacts())
		res, stats := resolver.Resolve(context.Background(), model.Integration{}, nil, nil)

		So(res, ShouldBeEmpty)
		So(stats.Lookups, ShouldEqual, 0)
	})
}

// stallingContacts holds every lookup until the request is canceled, then
// takes a little longer to return.
type stallingContacts struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (s *stallingContacts) GetContact(ctx context.Context, _ model.Integration, _ string) (model.ContactProfile, error) {
	s.started.Add(1)
	defer s.finished.Add(1)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return model.ContactProfile{}, ctx.Err()
}

func TestResolveCanceled(t *testing.T) {
	Convey("Given lookups that are still running when the request is canceled", t, func() {
		src := &stallingContacts{}
		r := enrich.NewResolver(src, enrich.WithWorkers(4))

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		out, stats := r.Resolve(ctx, model.Integration{}, nil, []string{"c1", "c2", "c3", "c4"})
		atReturn := len(out)

		Convey("Then Resolve returns only after every lookup finished", func() {
			So(src.finished.Load(), ShouldEqual, src.started.Load())
			So(stats.Lookups, ShouldEqual, int(src.finished.Load()))
		})

		Convey("And the returned map is no longer written to", func() {
			time.Sleep(50 * time.Millisecond)
			n := 0
			for range out {
				n++
			}
			So(n, ShouldEqual, atReturn)
			So(stats.Failures, ShouldEqual, stats.Lookups)
		})
	})
}
