package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/kpisync/internal/adapters/mq/queue"
	worker "github.com/okian/kpisync/internal/adapters/mq/worker"
	logging "github.com/okian/kpisync/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

// trackingHandler records handled jobs and the peak number running at once.
type trackingHandler struct {
	mu       sync.Mutex
	handled  map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failOn   string
}

func newTrackingHandler(delay time.Duration) *trackingHandler {
	return &trackingHandler{handled: map[string]int{}, delay: delay}
}

func (h *trackingHandler) Handle(_ context.Context, job queue.Job) error {
	n := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(h.delay)

	h.mu.Lock()
	h.handled[job.ContactID]++
	h.mu.Unlock()
	if job.ContactID == h.failOn {
		return errors.New("lookup failed")
	}
	return nil
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of three workers over twenty jobs", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(20))
		for i := 0; i < 20; i++ {
			q.Enqueue(ctx, queue.Job{ContactID: fmt.Sprintf("c%d", i)})
		}
		_ = q.Close()

		h := newTrackingHandler(5 * time.Millisecond)
		h.failOn = "c7"
		pool := worker.NewPool(ctx, 3, q, h)
		pool.Start(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := pool.Wait(waitCtx)

		convey.Convey("Then every job is handled exactly once", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(h.handled), convey.ShouldEqual, 20)
			for _, n := range h.handled {
				convey.So(n, convey.ShouldEqual, 1)
			}
		})

		convey.Convey("And no more than three run at once", func() {
			convey.So(pool.Size(), convey.ShouldEqual, 3)
			convey.So(h.peak.Load(), convey.ShouldBeLessThanOrEqualTo, 3)
			convey.So(h.peak.Load(), convey.ShouldBeGreaterThan, 0)
		})
	})

	convey.Convey("Given a pool size below one", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(ctx, 0, q, newTrackingHandler(0))

		convey.So(pool.Size(), convey.ShouldEqual, 1)
		convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
		convey.So(q.IsClosed(), convey.ShouldBeTrue)
	})

	convey.Convey("Given a started pool on an open queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue()
		h := newTrackingHandler(0)
		pool := worker.NewPool(ctx, 2, q, worker.HandlerFunc(h.Handle))
		pool.Start(ctx)
		q.Enqueue(ctx, queue.Job{ContactID: "c1"})

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		convey.Convey("Then shutdown stops every worker", func() {
			convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.So(pool.Wait(shutdownCtx), convey.ShouldBeNil)
		})
	})
}

func TestPoolWaitJoinsOnCancel(t *testing.T) {
	convey.Convey("Given workers busy in a handler when their context is canceled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue()
		for i := 0; i < 2; i++ {
			q.Enqueue(ctx, queue.Job{ContactID: fmt.Sprintf("c%d", i)})
		}

		var running, finished atomic.Int32
		pool := worker.NewPool(ctx, 2, q, worker.HandlerFunc(func(ctx context.Context, _ queue.Job) error {
			running.Add(1)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return ctx.Err()
		}))
		pool.Start(ctx)
		time.AfterFunc(10*time.Millisecond, cancel)

		err := pool.Wait(ctx)

		convey.Convey("Then Wait returns only after the handlers returned", func() {
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
			convey.So(finished.Load(), convey.ShouldEqual, running.Load())
		})
	})
}
