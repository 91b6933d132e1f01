package upstream_test

import (
	"errors"
	"testing"

	"github.com/okian/kpisync/internal/adapters/upstream"
	"github.com/okian/kpisync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParsePage(t *testing.T) {
	Convey("Given the listing shapes upstream returns", t, func() {
		Convey("When rows sit under transactions with top-level totals", func() {
			page, err := upstream.ParsePage([]byte(`{
				"transactions": [
					{"_id": "t1", "contactId": "c1", "amount": 49.99, "status": "succeeded",
					 "createdAt": "2024-03-01T10:00:00.000Z", "liveMode": true,
					 "entitySourceName": "  Referral   Miami  "}
				],
				"totalCount": 120
			}`))

			Convey("Then the row and meta are normalized", func() {
				So(err, ShouldBeNil)
				So(len(page.Rows), ShouldEqual, 1)
				r := page.Rows[0]
				So(r.ID, ShouldEqual, "t1")
				So(r.Amount.String(), ShouldEqual, "49.99")
				So(r.Currency, ShouldEqual, model.DefaultCurrency)
				So(r.CreatedMs, ShouldEqual, int64(1709287200000))
				So(*r.LiveMode, ShouldBeTrue)
				So(r.Source, ShouldEqual, "Referral Miami")
				So(page.Meta.TotalCount, ShouldEqual, 120)
				So(page.Meta.HasMoreKnown, ShouldBeFalse)
			})
		})

		Convey("When rows sit under data.items with a pagination block", func() {
			page, err := upstream.ParsePage([]byte(`{
				"data": {"items": [{"id": "t2", "total": "10.50", "paymentStatus": "paid",
				                    "created_at": 1709287200, "contact": {"id": "c2"},
				                    "address": {"state": "FL", "city": "Miami"}}]},
				"pagination": {"has_more": true, "next_page": 3, "startAfterId": "t2"}
			}`))

			So(err, ShouldBeNil)
			r := page.Rows[0]
			So(r.ContactID, ShouldEqual, "c2")
			So(r.Amount.String(), ShouldEqual, "10.5")
			So(r.Status, ShouldEqual, "paid")
			So(r.CreatedMs, ShouldEqual, int64(1709287200000))
			So(r.State, ShouldEqual, "FL")
			So(r.City, ShouldEqual, "Miami")
			So(page.Meta.HasMore, ShouldBeTrue)
			So(page.Meta.HasMoreKnown, ShouldBeTrue)
			So(page.Meta.NextPage, ShouldEqual, 3)
			So(page.Meta.NextCursor, ShouldEqual, "t2")
		})

		Convey("When the body is a bare array", func() {
			page, err := upstream.ParsePage([]byte(`[{"id": "a"}, {"id": "b", "live_mode": false}]`))

			So(err, ShouldBeNil)
			So(len(page.Rows), ShouldEqual, 2)
			So(*page.Rows[1].LiveMode, ShouldBeFalse)
			So(page.Rows[0].LiveMode, ShouldBeNil)
		})

		Convey("When data is an array and meta says there is nothing more", func() {
			page, err := upstream.ParsePage([]byte(`{"data": [{"id": "a"}], "meta": {"hasMore": false, "total": 1}}`))

			So(err, ShouldBeNil)
			So(len(page.Rows), ShouldEqual, 1)
			So(page.Meta.HasMoreKnown, ShouldBeTrue)
			So(page.Meta.HasMore, ShouldBeFalse)
			So(page.Meta.TotalCount, ShouldEqual, 1)
		})

		Convey("When the timestamp cannot be read", func() {
			page, err := upstream.ParsePage([]byte(`{"items": [{"id": "a", "createdAt": "last tuesday"}]}`))

			So(err, ShouldBeNil)
			So(page.Rows[0].CreatedMs, ShouldEqual, 0)
			So(page.Rows[0].CreatedAt, ShouldEqual, "last tuesday")
		})

		Convey("When the body is not JSON", func() {
			_, err := upstream.ParsePage([]byte(`<html>`))
			So(err, ShouldNotBeNil)
		})

		Convey("When an error object arrives with a success status", func() {
			for _, body := range []string{
				`{"statusCode": 422, "message": "locationId is invalid"}`,
				`{"message": "Unauthorized for this location"}`,
				`{"data": null}`,
				`null`,
			} {
				_, err := upstream.ParsePage([]byte(body))
				So(errors.Is(err, upstream.ErrUnrecognizedShape), ShouldBeTrue)
			}
		})

		Convey("When a row list is present but empty", func() {
			for _, body := range []string{
				`{"transactions": []}`,
				`{"data": {"items": []}}`,
				`{"data": []}`,
				`[]`,
			} {
				page, err := upstream.ParsePage([]byte(body))
				So(err, ShouldBeNil)
				So(page.Rows, ShouldBeEmpty)
			}
		})
	})
}

func TestParseContact(t *testing.T) {
	Convey("Given a wrapped contact with custom fields", t, func() {
		p, err := upstream.ParseContact([]byte(`{"contact": {
			"id": "c1", "source": "fb  lead",
			"customFields": [
				{"id": "f1", "name": "Home State", "value": "TX"},
				{"id": "f2", "key": "contact.empty", "value": ""}
			]}}`))

		So(err, ShouldBeNil)
		So(p.ID, ShouldEqual, "c1")
		So(p.Source, ShouldEqual, "fb lead")
		So(len(p.CustomFields), ShouldEqual, 1)
		So(p.CustomFields[0].Name, ShouldEqual, "Home State")
		So(p.CustomFields[0].Value, ShouldEqual, "TX")
	})

	Convey("Given a bare contact object", t, func() {
		p, err := upstream.ParseContact([]byte(`{"id": "c2", "state": "FL", "city": "Orlando"}`))

		So(err, ShouldBeNil)
		So(p.State, ShouldEqual, "FL")
		So(p.City, ShouldEqual, "Orlando")
	})
}
