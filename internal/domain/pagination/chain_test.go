package pagination_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/internal/domain/pagination"
	"github.com/okian/kpisync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// scriptedFetcher serves pages per attempt name. A missing attempt fails.
type scriptedFetcher struct {
	mu       sync.Mutex
	pages    map[string][]model.Page
	repeat   map[string]bool
	calls    map[string]int
	requests []pagination.PageRequest
}

func newFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		pages:  map[string][]model.Page{},
		repeat: map[string]bool{},
		calls:  map[string]int{},
	}
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ model.Integration, a pagination.Attempt, req pagination.PageRequest) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[a.Name]++
	f.requests = append(f.requests, req)
	pages, ok := f.pages[a.Name]
	if !ok {
		return model.Page{}, errors.New("422 unsupported parameters")
	}
	if f.repeat[a.Name] {
		return pages[0], nil
	}
	if req.Index >= len(pages) {
		return model.Page{}, nil
	}
	return pages[req.Index], nil
}

func rows(from, n int, createdMs int64) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.TransactionRecord{
			ID:        fmt.Sprintf("tx-%d", from+i),
			CreatedMs: createdMs - int64(i),
		})
	}
	return out
}

var integ = model.Integration{
	TenantID:    "acme",
	Key:         "main",
	LocationID:  "loc-1",
	Token:       "tenant-token",
	AgencyToken: "agency-token",
}

func TestChainFallback(t *testing.T) {
	Convey("Given a chain whose first attempt is rejected upstream", t, func() {
		f := newFetcher()
		f.pages["tenant_page_explicit"] = []model.Page{
			{Rows: rows(0, 2, 1000)},
			{Rows: rows(2, 1, 900), Meta: model.PageMeta{HasMore: false, HasMoreKnown: true}},
		}
		chain := pagination.New(f, pagination.WithPageDelay(0))

		res, err := chain.Run(context.Background(), integ, pagination.Options{PageCap: 10, PageSize: 2})

		Convey("Then the second attempt's rows are returned", func() {
			So(err, ShouldBeNil)
			So(res.Attempt.Name, ShouldEqual, "tenant_page_explicit")
			So(len(res.Rows), ShouldEqual, 3)
			So(res.Pages, ShouldEqual, 2)
			So(res.HitPageCap, ShouldBeFalse)
		})

		Convey("And the first failure is recorded", func() {
			So(len(res.Failures), ShouldEqual, 1)
			So(res.Failures[0].Attempt, ShouldEqual, "tenant_offset_explicit")
			So(res.Failures[0].Reason, ShouldContainSubstring, "422")
		})
	})

	Convey("Given an integration without a tenant token", t, func() {
		f := newFetcher()
		f.pages["agency_offset_explicit"] = []model.Page{{Rows: rows(0, 1, 1000)}}
		chain := pagination.New(f, pagination.WithPageDelay(0))

		agencyOnly := integ
		agencyOnly.Token = ""
		res, err := chain.Run(context.Background(), agencyOnly, pagination.Options{PageCap: 5, PageSize: 10})

		Convey("Then tenant attempts fail fast without upstream calls", func() {
			So(err, ShouldBeNil)
			So(res.Attempt.Name, ShouldEqual, "agency_offset_explicit")
			So(f.calls["tenant_offset_explicit"], ShouldEqual, 0)
			So(len(res.Failures), ShouldEqual, 3)
			So(res.Failures[0].Reason, ShouldEqual, "no tenant token configured")
		})
	})

	Convey("Given every attempt fails", t, func() {
		chain := pagination.New(newFetcher(), pagination.WithPageDelay(0))

		res, err := chain.Run(context.Background(), integ, pagination.Options{PageCap: 5, PageSize: 10})

		Convey("Then an exhausted error lists each attempt", func() {
			So(res, ShouldBeNil)
			So(pagination.IsExhausted(err), ShouldBeTrue)

			var exhausted *pagination.ExhaustedError
			So(errors.As(err, &exhausted), ShouldBeTrue)
			So(len(exhausted.Failures), ShouldEqual, len(pagination.DefaultAttempts()))
			So(err.Error(), ShouldContainSubstring, "tenant_offset_inferred: ")
		})
	})
}

func TestChainStopRules(t *testing.T) {
	Convey("Given a working first attempt", t, func() {
		f := newFetcher()
		chain := pagination.New(f, pagination.WithPageDelay(0))
		ctx := context.Background()

		Convey("When the first page is empty", func() {
			f.pages["tenant_offset_explicit"] = []model.Page{{}}
			res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 5, PageSize: 10})

			Convey("Then the run succeeds with no rows", func() {
				So(err, ShouldBeNil)
				So(res.Rows, ShouldBeEmpty)
				So(res.Pages, ShouldEqual, 1)
			})
		})

		Convey("When upstream keeps returning the same page", func() {
			f.pages["tenant_offset_explicit"] = []model.Page{{Rows: rows(0, 3, 1000)}}
			f.repeat["tenant_offset_explicit"] = true
			res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 50, PageSize: 3})

			Convey("Then the repeat stops the loop", func() {
				So(err, ShouldBeNil)
				So(len(res.Rows), ShouldEqual, 3)
				So(res.Pages, ShouldEqual, 2)
				So(res.HitPageCap, ShouldBeFalse)
			})
		})

		Convey("When the total count is reached", func() {
			f.pages["tenant_offset_explicit"] = []model.Page{
				{Rows: rows(0, 2, 1000), Meta: model.PageMeta{TotalCount: 4}},
				{Rows: rows(2, 2, 990), Meta: model.PageMeta{TotalCount: 4}},
				{Rows: rows(4, 2, 980)},
			}
			res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 50, PageSize: 2})

			Convey("Then no further page is requested", func() {
				So(err, ShouldBeNil)
				So(len(res.Rows), ShouldEqual, 4)
				So(f.calls["tenant_offset_explicit"], ShouldEqual, 2)
			})
		})

		Convey("When the page cap is reached", func() {
			f.pages["tenant_offset_explicit"] = []model.Page{
				{Rows: rows(0, 2, 1000)},
				{Rows: rows(2, 2, 990)},
				{Rows: rows(4, 2, 980)},
			}
			res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 2, PageSize: 2})

			Convey("Then the cap is flagged and is not an error", func() {
				So(err, ShouldBeNil)
				So(res.HitPageCap, ShouldBeTrue)
				So(len(res.Rows), ShouldEqual, 4)
			})

			Convey("And offsets advance by the page size", func() {
				So(f.requests[0].Offset, ShouldEqual, 0)
				So(f.requests[1].Offset, ShouldEqual, 2)
			})
		})

		Convey("When an incremental bound is crossed", func() {
			f.pages["tenant_offset_explicit"] = []model.Page{
				{Rows: rows(0, 2, 1000)},
				{Rows: rows(2, 2, 501)},
				{Rows: rows(4, 2, 400)},
			}
			res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 12, PageSize: 2, SinceMs: 500})

			Convey("Then paging stops on the page that reaches it", func() {
				So(err, ShouldBeNil)
				So(res.Pages, ShouldEqual, 2)
				So(len(res.Rows), ShouldEqual, 4)
			})
		})
	})
}

func TestChainCancellation(t *testing.T) {
	Convey("Given a canceled context", t, func() {
		f := newFetcher()
		f.pages["tenant_offset_explicit"] = []model.Page{{Rows: rows(0, 1, 1000)}}
		chain := pagination.New(f, pagination.WithPageDelay(0))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := chain.Run(ctx, integ, pagination.Options{PageCap: 5, PageSize: 10})

		Convey("Then the chain aborts without trying attempts", func() {
			So(res, ShouldBeNil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(pagination.IsExhausted(err), ShouldBeFalse)
			So(f.calls, ShouldBeEmpty)
		})
	})
}
