// Package migrations implements the Store's idempotent schema-evolution
// routine (§4.1): create missing tables and indexes, and additively add
// missing columns. It does not remove duplicate rows before creating a
// unique index, and it has no step that recreates a table to change a
// column's nullability. Migrations never drop columns or change a
// declared type, and re-running the full set is always safe.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one step in the ordered set below. Version must be unique
// and monotonically increasing; Run re-applies every version whose number
// is not yet present in schema_migrations, in order.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, db *sql.DB) error
}

var all = []migration{
	{1, "create_schema_migrations", createSchemaMigrations},
	{2, "create_tasks", createTasks},
	{3, "create_zones", createZones},
	{4, "create_zlogin_sessions", createZloginSessions},
	{5, "create_terminal_sessions", createTerminalSessions},
	{6, "create_vnc_sessions", createVNCSessions},
	{7, "create_provisioning_profiles", createProvisioningProfiles},
	{8, "create_recipes", createRecipes},
	{9, "create_network_interfaces", createNetworkInterfaces},
	{10, "create_network_usage", createNetworkUsage},
	{11, "create_ip_addresses", createIPAddresses},
	{12, "create_routing_table", createRoutingTable},
	{13, "create_cpu_stats", createCPUStats},
	{14, "create_memory_stats", createMemoryStats},
	{15, "create_swap_areas", createSwapAreas},
	{16, "create_disks", createDisks},
	{17, "create_disk_io_stats", createDiskIOStats},
	{18, "create_pool_io_stats", createPoolIOStats},
	{19, "create_arc_stats", createArcStats},
	{20, "create_zfs_datasets", createZFSDatasets},
	{21, "create_pci_devices", createPCIDevices},
	{22, "create_host_info", createHostInfo},
	{23, "create_migration_cleanups", createMigrationCleanups},
	{24, "purge_network_interface_header_rows", purgeNetworkInterfaceHeaderRows},
	{25, "add_zones_notes_column", addZonesNotesColumn},
}

// Run applies every migration not yet recorded in schema_migrations, in
// version order, inside its own best-effort step (DuckDB DDL is
// auto-committing). Running Run twice is a no-op on the second call.
func Run(ctx context.Context, db *sql.DB) error {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("migrations: read applied versions: %w", err)
	}

	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := m.Apply(ctx, db); err != nil {
			return fmt.Errorf("migrations: apply %d_%s: %w", m.Version, m.Name, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("migrations: record %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	// First migration creates the table; tolerate its absence on a
	// brand-new database.
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = 'schema_migrations'`,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	applied := map[int]bool{}
	if exists == 0 {
		return applied, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func createSchemaMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR NOT NULL,
			applied_at TIMESTAMP DEFAULT current_timestamp
		)
	`)
	return err
}

// addColumnIfMissing implements the "additively add missing columns on
// known tables" clause of §4.1 without ever altering an existing column.
func addColumnIfMissing(ctx context.Context, db *sql.DB, table, column, ddl string) error {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddl))
	return err
}

func createTasks(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR PRIMARY KEY,
			zone_name VARCHAR NOT NULL,
			operation VARCHAR NOT NULL,
			priority INTEGER NOT NULL,
			status VARCHAR NOT NULL,
			depends_on VARCHAR,
			parent_task_id VARCHAR,
			metadata VARCHAR NOT NULL DEFAULT '{}',
			created_by VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error_message VARCHAR NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_tasks_status_priority_created
		ON tasks (status, priority, created_at)
	`)
	return err
}

func createZones(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS zones (
			name VARCHAR PRIMARY KEY,
			zone_id VARCHAR NOT NULL,
			host VARCHAR NOT NULL,
			brand VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			configuration VARCHAR NOT NULL DEFAULT '{}',
			is_orphaned BOOLEAN NOT NULL DEFAULT false,
			auto_discovered BOOLEAN NOT NULL DEFAULT false,
			last_seen TIMESTAMP
		)
	`)
	return err
}

func createZloginSessions(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS zlogin_sessions (
			id VARCHAR PRIMARY KEY,
			zone_name VARCHAR NOT NULL,
			pid INTEGER,
			status VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			last_accessed TIMESTAMP,
			last_activity TIMESTAMP,
			session_buffer VARCHAR NOT NULL DEFAULT ''
		)
	`)
	return err
}

func createTerminalSessions(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS terminal_sessions (
			id VARCHAR PRIMARY KEY,
			zone_name VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)
	`)
	return err
}

func createVNCSessions(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vnc_sessions (
			id VARCHAR PRIMARY KEY,
			zone_name VARCHAR NOT NULL,
			port INTEGER,
			status VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)
	`)
	return err
}

func createProvisioningProfiles(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS provisioning_profiles (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			document VARCHAR NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_provisioning_profiles_name ON provisioning_profiles (name)
	`)
	return err
}

func createRecipes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recipes (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			script VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)
	`)
	return err
}

func createNetworkInterfaces(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS network_interfaces (
			host VARCHAR NOT NULL,
			link VARCHAR NOT NULL,
			class VARCHAR NOT NULL DEFAULT '',
			state VARCHAR NOT NULL DEFAULT '',
			speed_mbps DOUBLE,
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_network_interfaces_host_link ON network_interfaces (host, link)
	`)
	return err
}

func createNetworkUsage(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS network_usage (
			host VARCHAR NOT NULL,
			link VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			rbytes UBIGINT NOT NULL,
			obytes UBIGINT NOT NULL,
			ipackets UBIGINT NOT NULL,
			opackets UBIGINT NOT NULL,
			rbytes_delta UBIGINT,
			obytes_delta UBIGINT,
			rx_bps DOUBLE,
			tx_bps DOUBLE,
			rx_mbps DOUBLE,
			tx_mbps DOUBLE,
			rx_utilization_pct DOUBLE,
			tx_utilization_pct DOUBLE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_network_usage_host_scan ON network_usage (host, scan_timestamp)
	`)
	return err
}

func createIPAddresses(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ip_addresses (
			host VARCHAR NOT NULL,
			link VARCHAR NOT NULL,
			address VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ip_addresses_host_link_addr ON ip_addresses (host, link, address)
	`)
	return err
}

func createRoutingTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS routing_table (
			host VARCHAR NOT NULL,
			destination VARCHAR NOT NULL,
			gateway VARCHAR NOT NULL DEFAULT '',
			interface VARCHAR NOT NULL DEFAULT '',
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_routing_table_host_dest ON routing_table (host, destination)
	`)
	return err
}

func createCPUStats(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cpu_stats (
			host VARCHAR NOT NULL,
			core VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			user_pct DOUBLE,
			system_pct DOUBLE,
			idle_pct DOUBLE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_cpu_stats_host_scan ON cpu_stats (host, scan_timestamp)
	`)
	return err
}

func createMemoryStats(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memory_stats (
			host VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			total_bytes UBIGINT NOT NULL,
			free_bytes UBIGINT NOT NULL,
			used_bytes UBIGINT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_memory_stats_host_scan ON memory_stats (host, scan_timestamp)
	`)
	return err
}

func createSwapAreas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS swap_areas (
			host VARCHAR NOT NULL,
			swapfile VARCHAR NOT NULL,
			total_bytes UBIGINT NOT NULL,
			free_bytes UBIGINT NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_swap_areas_host_swapfile ON swap_areas (host, swapfile)
	`)
	return err
}

func createDisks(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disks (
			host VARCHAR NOT NULL,
			device VARCHAR NOT NULL,
			size_bytes UBIGINT NOT NULL DEFAULT 0,
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_disks_host_device ON disks (host, device)
	`)
	return err
}

func createDiskIOStats(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disk_io_stats (
			host VARCHAR NOT NULL,
			device VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			reads_per_sec DOUBLE,
			writes_per_sec DOUBLE,
			read_bps DOUBLE,
			write_bps DOUBLE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_disk_io_stats_host_scan ON disk_io_stats (host, scan_timestamp)
	`)
	return err
}

func createPoolIOStats(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pool_io_stats (
			host VARCHAR NOT NULL,
			pool VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			read_bps DOUBLE,
			write_bps DOUBLE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pool_io_stats_host_scan ON pool_io_stats (host, scan_timestamp)
	`)
	return err
}

func createArcStats(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS arc_stats (
			host VARCHAR NOT NULL,
			scan_timestamp TIMESTAMP NOT NULL,
			size_bytes UBIGINT NOT NULL,
			target_bytes UBIGINT NOT NULL,
			hit_ratio_pct DOUBLE
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_arc_stats_host_scan ON arc_stats (host, scan_timestamp)
	`)
	return err
}

func createZFSDatasets(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS zfs_datasets (
			host VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			used_bytes UBIGINT NOT NULL DEFAULT 0,
			avail_bytes UBIGINT NOT NULL DEFAULT 0,
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_zfs_datasets_host_name ON zfs_datasets (host, name)
	`)
	return err
}

func createPCIDevices(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pci_devices (
			host VARCHAR NOT NULL,
			slot VARCHAR NOT NULL,
			description VARCHAR NOT NULL DEFAULT '',
			scan_timestamp TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_pci_devices_host_slot ON pci_devices (host, slot)
	`)
	return err
}

func createHostInfo(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS host_info (
			host VARCHAR PRIMARY KEY,
			cpu_count INTEGER NOT NULL DEFAULT 0,
			total_memory_bytes UBIGINT NOT NULL DEFAULT 0,
			network_accounting_on BOOLEAN NOT NULL DEFAULT false,
			last_network_scan TIMESTAMP,
			last_cpu_scan TIMESTAMP,
			last_memory_scan TIMESTAMP,
			last_swap_scan TIMESTAMP,
			last_storage_scan TIMESTAMP,
			last_arc_scan TIMESTAMP,
			collector_errors VARCHAR NOT NULL DEFAULT '{}',
			collector_disabled VARCHAR NOT NULL DEFAULT '{}',
			collector_last_error VARCHAR NOT NULL DEFAULT '{}'
		)
	`)
	return err
}

// createMigrationCleanups backs §9's Open Question decision: one-off data
// cleanups run exactly once, gated by a marker row, rather than on every
// startup.
func createMigrationCleanups(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migration_cleanups (
			name VARCHAR PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)
	`)
	return err
}

// purgeNetworkInterfaceHeaderRows is the one-off cleanup analogous to the
// teacher's network-interface header-contamination purge referenced in
// §9: legend rows that slipped into network_interfaces before the parser
// learned to reject them are deleted exactly once.
func purgeNetworkInterfaceHeaderRows(ctx context.Context, db *sql.DB) error {
	const marker = "purge_network_interface_header_rows"
	var done int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM migration_cleanups WHERE name = ?`, marker,
	).Scan(&done); err != nil {
		return err
	}
	if done > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM network_interfaces WHERE upper(link) IN ('LINK', 'CLASS', 'STATE', 'IPACKETS')`,
	); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `INSERT INTO migration_cleanups (name) VALUES (?)`, marker)
	return err
}

// addZonesNotesColumn demonstrates the additive-column path of §4.1: an
// operator free-text field added after zones already shipped, never
// altering the existing column set.
func addZonesNotesColumn(ctx context.Context, db *sql.DB) error {
	return addColumnIfMissing(ctx, db, "zones", "notes", "VARCHAR NOT NULL DEFAULT ''")
}
