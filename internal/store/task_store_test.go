package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

var _ = Describe("TaskStore", func() {
	var (
		st  *store.Store
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger := zap.NewNop().Sugar()
		var err error
		st, err = store.NewStore(ctx, ":memory:", logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	Describe("Insert", func() {
		It("assigns an id and defaults to pending", func() {
			task, existed, err := st.Tasks.Insert(ctx, &models.Task{
				ZoneName:  "web01",
				Operation: models.OpStart,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
			Expect(task.ID).NotTo(BeEmpty())
			Expect(task.Status).To(Equal(models.TaskPending))
		})

		It("returns the existing task instead of duplicating a mutex op", func() {
			first, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())

			second, existed, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("allows the same mutex operation against a different zone", func() {
			first, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())

			second, existed, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web02", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
			Expect(second.ID).NotTo(Equal(first.ID))
		})

		It("rejects a dependency cycle", func() {
			parent, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneSetup})
			Expect(err).NotTo(HaveOccurred())

			child, _, err := st.Tasks.Insert(ctx, &models.Task{
				ZoneName:  "web01",
				Operation: models.OpZoneWaitSSH,
				DependsOn: &parent.ID,
			})
			Expect(err).NotTo(HaveOccurred())

			// Closing the loop: make parent depend on child would cycle back to parent.
			_, _, err = st.Tasks.Insert(ctx, &models.Task{
				ID:        parent.ID,
				ZoneName:  "web01",
				Operation: models.OpZoneSetup,
				DependsOn: &child.ID,
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ClaimNext", func() {
		It("returns ErrNoRunnableTask when the queue is empty", func() {
			_, err := st.Tasks.ClaimNext(ctx)
			Expect(err).To(MatchError(store.ErrNoRunnableTask))
		})

		It("claims a pending task and marks it running", func() {
			inserted, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())

			claimed, err := st.Tasks.ClaimNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed.ID).To(Equal(inserted.ID))
			Expect(claimed.Status).To(Equal(models.TaskRunning))

			_, err = st.Tasks.ClaimNext(ctx)
			Expect(err).To(MatchError(store.ErrNoRunnableTask))
		})

		It("does not claim a task whose dependency has not completed", func() {
			parent, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneSetup})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = st.Tasks.Insert(ctx, &models.Task{
				ZoneName:  "web01",
				Operation: models.OpZoneWaitSSH,
				DependsOn: &parent.ID,
			})
			Expect(err).NotTo(HaveOccurred())

			claimed, err := st.Tasks.ClaimNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed.Operation).To(Equal(models.OpZoneSetup))

			_, err = st.Tasks.ClaimNext(ctx)
			Expect(err).To(MatchError(store.ErrNoRunnableTask))
		})
	})

	Describe("Fail and cascade cancellation", func() {
		It("cancels dependents of a failed task", func() {
			parent, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneSetup})
			Expect(err).NotTo(HaveOccurred())
			child, _, err := st.Tasks.Insert(ctx, &models.Task{
				ZoneName:  "web01",
				Operation: models.OpZoneWaitSSH,
				DependsOn: &parent.ID,
			})
			Expect(err).NotTo(HaveOccurred())
			grandchild, _, err := st.Tasks.Insert(ctx, &models.Task{
				ZoneName:  "web01",
				Operation: models.OpZoneSync,
				DependsOn: &child.ID,
			})
			Expect(err).NotTo(HaveOccurred())

			claimed, err := st.Tasks.ClaimNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed.ID).To(Equal(parent.ID))

			Expect(st.Tasks.Fail(ctx, parent.ID, "boot failed")).To(Succeed())

			got, err := st.Tasks.Get(ctx, child.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(models.TaskCancelled))

			got, err = st.Tasks.Get(ctx, grandchild.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(models.TaskCancelled))
		})
	})

	Describe("Retry", func() {
		It("re-queues a running task as pending with a future retry time", func() {
			inserted, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())
			_, err = st.Tasks.ClaimNext(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(st.Tasks.Retry(ctx, inserted.ID, "transient failure", 50*time.Millisecond)).To(Succeed())

			got, err := st.Tasks.Get(ctx, inserted.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(models.TaskPending))
			Expect(got.ErrorMessage).To(Equal("transient failure"))
		})
	})

	Describe("ParentAggregateStatus", func() {
		It("reports completed only once every child has completed", func() {
			parent, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneProvisionOrchestation})
			Expect(err).NotTo(HaveOccurred())
			childA, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneProvisionParent, ParentTaskID: &parent.ID})
			Expect(err).NotTo(HaveOccurred())
			childB, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpZoneSyncParent, ParentTaskID: &parent.ID})
			Expect(err).NotTo(HaveOccurred())

			status, err := st.Tasks.ParentAggregateStatus(ctx, parent.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(models.TaskRunning))

			for _, id := range []string{childA.ID, childB.ID} {
				claimed, err := st.Tasks.ClaimNext(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(claimed.ID).To(BeElementOf(childA.ID, childB.ID))
				Expect(st.Tasks.Complete(ctx, id)).To(Succeed())
			}

			status, err = st.Tasks.ParentAggregateStatus(ctx, parent.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(models.TaskCompleted))
		})
	})

	Describe("List", func() {
		It("filters by zone and status", func() {
			_, _, err := st.Tasks.Insert(ctx, &models.Task{ZoneName: "web01", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = st.Tasks.Insert(ctx, &models.Task{ZoneName: "web02", Operation: models.OpStart})
			Expect(err).NotTo(HaveOccurred())

			tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"), store.ByTaskStatus(models.TaskPending))
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].ZoneName).To(Equal("web01"))
		})
	})
})
