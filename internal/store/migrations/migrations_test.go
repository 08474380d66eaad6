package migrations_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Makr91/zoneweaver-api/internal/store/migrations"
)

func TestMigrations(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Migrations Suite")
}

var _ = Describe("Run", func() {
	var db *sql.DB

	BeforeEach(func() {
		var err error
		db, err = sql.Open("duckdb", ":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	It("creates every declared table on a fresh database", func() {
		Expect(migrations.Run(context.Background(), db)).To(Succeed())

		for _, table := range []string{
			"tasks", "zones", "zlogin_sessions", "provisioning_profiles",
			"recipes", "network_interfaces", "network_usage", "cpu_stats",
			"memory_stats", "swap_areas", "disks", "host_info",
		} {
			var name string
			err := db.QueryRow(
				`SELECT table_name FROM information_schema.tables WHERE table_name = ?`, table,
			).Scan(&name)
			Expect(err).NotTo(HaveOccurred(), "expected table %q to exist", table)
		}
	})

	It("is idempotent across repeated runs", func() {
		Expect(migrations.Run(context.Background(), db)).To(Succeed())
		Expect(migrations.Run(context.Background(), db)).To(Succeed())
		Expect(migrations.Run(context.Background(), db)).To(Succeed())

		var count int
		Expect(db.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(25))
	})

	It("leaves existing rows untouched on re-run", func() {
		Expect(migrations.Run(context.Background(), db)).To(Succeed())

		_, err := db.Exec(
			`INSERT INTO zones (name, zone_id, host, brand, status, configuration)
			 VALUES ('web01', '3', 'hv01', 'ipkg', 'running', '{}')`,
		)
		Expect(err).NotTo(HaveOccurred())

		Expect(migrations.Run(context.Background(), db)).To(Succeed())

		var status string
		Expect(db.QueryRow(`SELECT status FROM zones WHERE name = 'web01'`).Scan(&status)).To(Succeed())
		Expect(status).To(Equal("running"))
	})
})
