package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/kpisync/internal/adapters/repository"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func openStores(t *testing.T) map[string]repository.DocStore {
	t.Helper()
	sqlite, err := repository.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]repository.DocStore{
		"memory": repository.NewMemoryDocStore(),
		"sqlite": sqlite,
	}
}

func TestDocStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		Convey("Given the "+name+" document store", t, func() {
			Convey("A missing key is reported as absent", func() {
				p, ok, err := store.Get(ctx, "nope")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(p, ShouldBeNil)
			})

			Convey("Put then Get round-trips and Put replaces", func() {
				So(store.Put(ctx, "a:1", []byte("one")), ShouldBeNil)
				So(store.Put(ctx, "a:1", []byte("uno")), ShouldBeNil)
				p, ok, err := store.Get(ctx, "a:1")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(string(p), ShouldEqual, "uno")
			})

			Convey("Keys filters by prefix", func() {
				So(store.Put(ctx, "k:x", []byte("1")), ShouldBeNil)
				So(store.Put(ctx, "k:y", []byte("2")), ShouldBeNil)
				So(store.Put(ctx, "other", []byte("3")), ShouldBeNil)
				keys, err := store.Keys(ctx, "k:")
				So(err, ShouldBeNil)
				So(keys, ShouldContain, "k:x")
				So(keys, ShouldContain, "k:y")
				So(keys, ShouldNotContain, "other")
			})

			Convey("Delete removes the key", func() {
				So(store.Put(ctx, "gone", []byte("x")), ShouldBeNil)
				So(store.Delete(ctx, "gone"), ShouldBeNil)
				_, ok, err := store.Get(ctx, "gone")
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("An empty key is rejected", func() {
				So(store.Put(ctx, "", []byte("x")), ShouldEqual, repository.ErrEmptyKey)
			})
		})
	}
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_700_000_000_000)

	Convey("Given a snapshot store", t, func() {
		docs := repository.NewMemoryDocStore()
		store := repository.NewSnapshotStore(docs, repository.WithClock(func() time.Time { return fixed }))

		Convey("Load of an unknown key returns nil", func() {
			snap, err := store.Load(ctx, "t1", "loc1")
			So(err, ShouldBeNil)
			So(snap, ShouldBeNil)
		})

		Convey("Save stamps UpdatedAtMs and Load returns the same rows", func() {
			err := store.Save(ctx, &model.Snapshot{
				TenantID:        "t1",
				LocationID:      "loc1",
				NewestCreatedMs: 200,
				OldestCreatedMs: 100,
				Complete:        true,
				Rows: []model.TransactionRecord{
					{ID: "tx1", Amount: decimal.RequireFromString("12.50"), Status: "succeeded", CreatedMs: 200},
				},
			})
			So(err, ShouldBeNil)

			snap, err := store.Load(ctx, "t1", "loc1")
			So(err, ShouldBeNil)
			So(snap, ShouldNotBeNil)
			So(snap.UpdatedAtMs, ShouldEqual, fixed.UnixMilli())
			So(snap.Complete, ShouldBeTrue)
			So(len(snap.Rows), ShouldEqual, 1)
			So(snap.Rows[0].Amount.String(), ShouldEqual, "12.5")

			_, ok, _ := docs.Get(ctx, "snapshot:t1:loc1")
			So(ok, ShouldBeTrue)

			keys, err := store.Keys(ctx)
			So(err, ShouldBeNil)
			So(keys, ShouldResemble, []string{"t1:loc1"})
		})

		Convey("A corrupt payload is treated as no snapshot", func() {
			So(docs.Put(ctx, repository.SnapshotKey("t1", "bad"), []byte("{not json")), ShouldBeNil)
			snap, err := store.Load(ctx, "t1", "bad")
			So(err, ShouldBeNil)
			So(snap, ShouldBeNil)
		})
	})
}
