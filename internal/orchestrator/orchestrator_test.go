package orchestrator_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

func mustUpsertZone(ctx context.Context, st *store.Store, name, configuration string, status models.ZoneStatus) {
	Expect(st.Zones.Upsert(ctx, &models.Zone{
		Name:          name,
		ZoneID:        "3",
		Host:          "hv01",
		Brand:         "ipkg",
		Status:        status,
		Configuration: configuration,
	})).To(Succeed())
}

var _ = Describe("Orchestrator", func() {
	var (
		st   *store.Store
		orch *orchestrator.Orchestrator
		ctx  context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		st, err = store.NewStore(ctx, ":memory:", zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
		orch = orchestrator.New(st, zap.NewNop().Sugar())
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("rejects a zone name outside the permitted character set", func() {
		_, err := orch.Plan(ctx, "web01; rm -rf /", "operator")
		Expect(err).To(HaveOccurred())
	})

	It("requires credentials.username before inserting anything", func() {
		mustUpsertZone(ctx, st, "web01", `{"ip":"10.0.0.5"}`, models.ZoneConfigured)

		_, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).To(HaveOccurred())

		tasks, listErr := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(listErr).NotTo(HaveOccurred())
		Expect(tasks).To(BeEmpty())
	})

	It("requires a resolvable target IP before inserting anything", func() {
		mustUpsertZone(ctx, st, "web01", `{"credentials":{"username":"root"}}`, models.ZoneConfigured)

		_, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).To(HaveOccurred())

		tasks, listErr := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(listErr).NotTo(HaveOccurred())
		Expect(tasks).To(BeEmpty())
	})

	It("falls back to a control-tagged network entry when ip is unset", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"credentials":{"username":"root"},"networks":[{"name":"net0","ip":"10.0.0.9","control":true}]}`,
			models.ZoneConfigured)

		result, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.OrchestrationTaskID).NotTo(BeEmpty())
	})

	It("chains extract, start and wait_ssh for a stopped zone with an artifact", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"artifact_id":"abc123","credentials":{"username":"root"},"ip":"127.0.0.1","port":1}`,
			models.ZoneConfigured)

		result, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())

		tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(err).NotTo(HaveOccurred())

		var ops []models.Operation
		for _, t := range tasks {
			if t.ID != result.OrchestrationTaskID {
				ops = append(ops, t.Operation)
			}
		}
		Expect(ops).To(ContainElement(models.OpZoneProvisioningExtract))
		Expect(ops).To(ContainElement(models.OpStart))
		Expect(ops).To(ContainElement(models.OpZoneWaitSSH))
	})

	It("skips the start step when the zone is already running", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"credentials":{"username":"root"},"ip":"127.0.0.1","port":1}`,
			models.ZoneRunning)

		result, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())

		tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(err).NotTo(HaveOccurred())

		var ops []models.Operation
		for _, t := range tasks {
			if t.ID != result.OrchestrationTaskID {
				ops = append(ops, t.Operation)
			}
		}
		Expect(ops).NotTo(ContainElement(models.OpStart))
	})

	It("inserts a zone_setup pre-flight task when the recipe host is not yet reachable", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"recipe_id":"bootstrap","credentials":{"username":"root"},"ip":"127.0.0.1","port":1}`,
			models.ZoneRunning)

		result, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())

		tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(err).NotTo(HaveOccurred())

		var ops []models.Operation
		for _, t := range tasks {
			if t.ID != result.OrchestrationTaskID {
				ops = append(ops, t.Operation)
			}
		}
		Expect(ops).To(ContainElement(models.OpZoneSetup))
	})

	It("packs every configured folder into a single sync task, since zone_sync is mutex-set", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"credentials":{"username":"root"},"ip":"127.0.0.1","port":1,
			  "folders":[{"local_path":"/a","remote_path":"/b"},{"local_path":"/c","remote_path":"/d"}]}`,
			models.ZoneRunning)

		_, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())

		tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(err).NotTo(HaveOccurred())

		syncCount, parentCount := 0, 0
		var syncTask models.Task
		for _, t := range tasks {
			switch t.Operation {
			case models.OpZoneSync:
				syncCount++
				syncTask = t
			case models.OpZoneSyncParent:
				parentCount++
			}
		}
		Expect(syncCount).To(Equal(1))
		Expect(parentCount).To(Equal(1))
		Expect(gjson.Get(syncTask.Metadata, "folders").Array()).To(HaveLen(2))
	})

	It("packs every configured provisioner into a single provision task, since zone_provision is mutex-set", func() {
		mustUpsertZone(ctx, st, "web01",
			`{"credentials":{"username":"root"},"ip":"127.0.0.1","port":1,
			  "provisioners":[{"kind":"shell","command":"echo hi"},{"kind":"shell","command":"echo bye"}]}`,
			models.ZoneRunning)

		_, err := orch.Plan(ctx, "web01", "operator")
		Expect(err).NotTo(HaveOccurred())

		tasks, err := st.Tasks.List(ctx, store.ByZoneName("web01"))
		Expect(err).NotTo(HaveOccurred())

		provisionCount, parentCount := 0, 0
		var provisionTask models.Task
		for _, t := range tasks {
			switch t.Operation {
			case models.OpZoneProvision:
				provisionCount++
				provisionTask = t
			case models.OpZoneProvisionParent:
				parentCount++
			}
		}
		Expect(provisionCount).To(Equal(1))
		Expect(parentCount).To(Equal(1))
		Expect(gjson.Get(provisionTask.Metadata, "provisioners").Array()).To(HaveLen(2))
	})
})
