package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

var _ = Describe("ConsoleStore", func() {
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

	It("enforces at most one active session per zone (§3 I7)", func() {
		first, existed, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(existed).To(BeFalse())

		second, existed, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(existed).To(BeTrue())
		Expect(second.ID).To(Equal(first.ID))
	})

	It("allows a new session once the prior one is closed", func() {
		first, _, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Console.Close(ctx, first.ID)).To(Succeed())

		second, existed, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(existed).To(BeFalse())
		Expect(second.ID).NotTo(Equal(first.ID))
	})

	It("records the PID once the PTY spawns", func() {
		sess, _, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Console.SetPID(ctx, sess.ID, 4242)).To(Succeed())

		got, err := st.Console.Get(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PID).NotTo(BeNil())
		Expect(*got.PID).To(Equal(4242))
		Expect(got.Status).To(Equal(models.ConsoleActive))
	})

	It("bounds the replayed session buffer to maxBufferBytes", func() {
		sess, _, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())

		Expect(st.Console.Touch(ctx, sess.ID, "0123456789", 5)).To(Succeed())
		got, err := st.Console.Get(ctx, sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.SessionBuffer).To(Equal("56789"))
	})

	It("excludes closed sessions from ListActive", func() {
		active, _, err := st.Console.Create(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		closed, _, err := st.Console.Create(ctx, "web02")
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Console.Close(ctx, closed.ID)).To(Succeed())

		sessions, err := st.Console.ListActive(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].ID).To(Equal(active.ID))
	})
})
