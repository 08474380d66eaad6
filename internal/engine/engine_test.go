package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/engine"
	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

var _ = Describe("Engine", func() {
	var (
		st  *store.Store
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		st, err = store.NewStore(ctx, ":memory:", zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("dispatches a pending task to a registered handler and marks it completed", func() {
		eng := engine.New(st, engine.Config{Workers: 2, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())

		var ran atomic.Bool
		eng.Register(models.OpStart, func(ctx context.Context, task *models.Task) error {
			ran.Store(true)
			return nil
		})

		runCtx, cancel := context.WithCancel(ctx)
		eng.Start(runCtx)
		defer func() {
			cancel()
			eng.Stop()
		}()

		inserted, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() models.TaskStatus {
			got, err := st.Tasks.Get(ctx, inserted.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}, time.Second, 10*time.Millisecond).Should(Equal(models.TaskCompleted))
		Expect(ran.Load()).To(BeTrue())
	})

	It("fails a task with no registered handler", func() {
		eng := engine.New(st, engine.Config{Workers: 1, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())

		runCtx, cancel := context.WithCancel(ctx)
		eng.Start(runCtx)
		defer func() {
			cancel()
			eng.Stop()
		}()

		inserted, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() models.TaskStatus {
			got, err := st.Tasks.Get(ctx, inserted.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}, time.Second, 10*time.Millisecond).Should(Equal(models.TaskFailed))
	})

	It("retries a retryable handler error with backoff before eventually completing", func() {
		eng := engine.New(st, engine.Config{
			Workers: 1, PollInterval: 10 * time.Millisecond,
			MaxAttempts: 5, RetryBaseDelay: 10 * time.Millisecond,
		}, zap.NewNop().Sugar())

		var attempts atomic.Int32
		eng.Register(models.OpStart, func(ctx context.Context, task *models.Task) error {
			n := attempts.Add(1)
			if n < 3 {
				return srvErrors.NewHandlerError("start", context.DeadlineExceeded, true)
			}
			return nil
		})

		runCtx, cancel := context.WithCancel(ctx)
		eng.Start(runCtx)
		defer func() {
			cancel()
			eng.Stop()
		}()

		inserted, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() models.TaskStatus {
			got, err := st.Tasks.Get(ctx, inserted.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(models.TaskCompleted))
		Expect(attempts.Load()).To(BeNumerically(">=", 3))
	})

	It("cascades cancellation to a dependent task when its dependency fails", func() {
		eng := engine.New(st, engine.Config{Workers: 2, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())
		eng.Register(models.OpZoneSetup, func(ctx context.Context, task *models.Task) error {
			return srvErrors.NewHandlerError("zone_setup", context.Canceled, false)
		})
		eng.Register(models.OpZoneWaitSSH, func(ctx context.Context, task *models.Task) error {
			return nil
		})

		runCtx, cancel := context.WithCancel(ctx)
		eng.Start(runCtx)
		defer func() {
			cancel()
			eng.Stop()
		}()

		parent, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneSetup})
		Expect(err).NotTo(HaveOccurred())
		child, _, err := st.Tasks.Insert(ctx, &models.Task{
			ZoneName:  "web01",
			Operation: models.OpZoneWaitSSH,
			DependsOn: &parent.ID,
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() models.TaskStatus {
			got, err := st.Tasks.Get(ctx, child.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}, time.Second, 10*time.Millisecond).Should(Equal(models.TaskCancelled))
	})

	It("serialises mutex-conflicting tasks against the same zone", func() {
		eng := engine.New(st, engine.Config{Workers: 4, PollInterval: 5 * time.Millisecond}, zap.NewNop().Sugar())

		var concurrent atomic.Int32
		var maxConcurrent atomic.Int32
		eng.Register(models.OpStart, func(ctx context.Context, task *models.Task) error {
			n := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				cur := maxConcurrent.Load()
				if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			return nil
		})

		runCtx, cancel := context.WithCancel(ctx)
		eng.Start(runCtx)
		defer func() {
			cancel()
			eng.Stop()
		}()

		// A mutex op is idempotent-queued per zone: a second same-zone
		// insert resolves to the first task's id, so the handler never
		// runs two web01 start tasks at once.
		first, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
		Expect(err).NotTo(HaveOccurred())
		dup, existed, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
		Expect(err).NotTo(HaveOccurred())
		Expect(existed).To(BeTrue())
		Expect(dup.ID).To(Equal(first.ID))

		Eventually(func() models.TaskStatus {
			got, err := st.Tasks.Get(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}, time.Second, 10*time.Millisecond).Should(Equal(models.TaskCompleted))
		Expect(maxConcurrent.Load()).To(BeNumerically("<=", 1))
	})
})
