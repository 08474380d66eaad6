package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

var _ = Describe("ZoneStore", func() {
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

	It("upserts and re-upserts a zone without duplicating the row", func() {
		zone := &models.Zone{
			Name:          "web01",
			ZoneID:        "3",
			Host:          "hv01",
			Brand:         "ipkg",
			Status:        models.ZoneConfigured,
			Configuration: `{"ip":"10.0.0.5"}`,
		}
		Expect(st.Zones.Upsert(ctx, zone)).To(Succeed())

		zone.Status = models.ZoneRunning
		Expect(st.Zones.Upsert(ctx, zone)).To(Succeed())

		got, err := st.Zones.Get(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(models.ZoneRunning))

		all, err := st.Zones.List(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})

	It("updates configuration without touching status (§3 I6)", func() {
		zone := &models.Zone{Name: "web01", Status: models.ZoneRunning, Configuration: `{}`}
		Expect(st.Zones.Upsert(ctx, zone)).To(Succeed())

		Expect(st.Zones.UpdateConfiguration(ctx, "web01", `{"ip":"10.0.0.9"}`)).To(Succeed())

		got, err := st.Zones.Get(ctx, "web01")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Configuration).To(Equal(`{"ip":"10.0.0.9"}`))
		Expect(got.Status).To(Equal(models.ZoneRunning))
	})

	It("returns a NotFoundError updating a zone that does not exist", func() {
		err := st.Zones.UpdateConfiguration(ctx, "ghost", `{}`)
		Expect(err).To(HaveOccurred())
	})

	It("deletes a zone", func() {
		Expect(st.Zones.Upsert(ctx, &models.Zone{Name: "web01", Status: models.ZoneDown})).To(Succeed())
		Expect(st.Zones.Delete(ctx, "web01")).To(Succeed())
		_, err := st.Zones.Get(ctx, "web01")
		Expect(err).To(HaveOccurred())
	})

	It("filters List by status", func() {
		Expect(st.Zones.Upsert(ctx, &models.Zone{Name: "web01", Status: models.ZoneRunning})).To(Succeed())
		Expect(st.Zones.Upsert(ctx, &models.Zone{Name: "web02", Status: models.ZoneDown})).To(Succeed())

		running := models.ZoneRunning
		zones, err := st.Zones.List(ctx, &running)
		Expect(err).NotTo(HaveOccurred())
		Expect(zones).To(HaveLen(1))
		Expect(zones[0].Name).To(Equal("web01"))
	})
})
