package collectors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// StorageCollector gathers disk inventory, disk I/O rates, pool I/O
// rates and ZFS dataset usage — the four storage-domain tables of §6.1 —
// on a single schedule since they share one collection pass over the
// storage subsystem (§4.6: "storage I/O every 30 s").
type StorageCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration
}

func NewStorageCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *StorageCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StorageCollector{host: host, runner: runner, store: st, logger: logger, interval: interval}
}

func (c *StorageCollector) Name() string           { return "storage" }
func (c *StorageCollector) Interval() time.Duration { return c.interval }

// diskinfo -Hp columns: DEVICE:SIZE
const diskColumns = 2

// iostat -xcn -p columns: DEVICE:READS_PER_SEC:WRITES_PER_SEC:READ_KB_PER_SEC:WRITE_KB_PER_SEC
const diskIOColumns = 5

// zpool iostat -Hp columns: POOL:ALLOC:FREE:READ_OPS:WRITE_OPS:READ_BPS:WRITE_BPS
const poolIOColumns = 7

// zfs list -Hp -o name,used,avail columns: NAME:USED:AVAIL
const zfsDatasetColumns = 3

func (c *StorageCollector) Collect(ctx context.Context) error {
	if err := c.collectDisks(ctx); err != nil {
		return err
	}
	if err := c.collectDiskIO(ctx); err != nil {
		return err
	}
	if err := c.collectPoolIO(ctx); err != nil {
		return err
	}
	return c.collectZFSDatasets(ctx)
}

func (c *StorageCollector) collectDisks(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"diskinfo", "-Hp"}, command.Options{Timeout: 15 * time.Second})
	if err != nil || !res.OK {
		return err
	}

	now := time.Now()
	var rows [][]any
	for _, fields := range ParseColonDelimited(res.Stdout, diskColumns) {
		size, ok := ParseNonNegativeInt(fields[1])
		if !ok {
			continue
		}
		rows = append(rows, []any{c.host, fields[0], "", size, now})
	}
	return c.store.Metrics.ReplaceSnapshot(ctx, "disks", "host", c.host,
		[]string{"host", "device", "description", "size_bytes", "scan_timestamp"}, rows)
}

func (c *StorageCollector) collectDiskIO(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"iostat", "-xcn", "-p"}, command.Options{Timeout: 15 * time.Second})
	if err != nil || !res.OK {
		return err
	}

	now := time.Now()
	var rows [][]any
	for _, fields := range ParseColonDelimited(res.Stdout, diskIOColumns) {
		reads, ok1 := ParseNonNegativeFloat(fields[1])
		writes, ok2 := ParseNonNegativeFloat(fields[2])
		readKB, ok3 := ParseNonNegativeFloat(fields[3])
		writeKB, ok4 := ParseNonNegativeFloat(fields[4])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		rows = append(rows, []any{c.host, fields[0], now, reads, writes, readKB * 1024, writeKB * 1024})
	}
	return c.store.Metrics.BulkInsert(ctx, "disk_io_stats",
		[]string{"host", "device", "scan_timestamp", "reads_per_sec", "writes_per_sec", "read_bps", "write_bps"}, rows, 0)
}

func (c *StorageCollector) collectPoolIO(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"zpool", "iostat", "-Hp"}, command.Options{Timeout: 15 * time.Second})
	if err != nil || !res.OK {
		return err
	}

	now := time.Now()
	var rows [][]any
	for _, fields := range ParseColonDelimited(res.Stdout, poolIOColumns) {
		readBps, ok1 := ParseNonNegativeFloat(fields[5])
		writeBps, ok2 := ParseNonNegativeFloat(fields[6])
		if !ok1 || !ok2 {
			continue
		}
		rows = append(rows, []any{c.host, fields[0], now, readBps, writeBps})
	}
	return c.store.Metrics.BulkInsert(ctx, "pool_io_stats",
		[]string{"host", "pool", "scan_timestamp", "read_bps", "write_bps"}, rows, 0)
}

func (c *StorageCollector) collectZFSDatasets(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"zfs", "list", "-Hp", "-o", "name,used,avail"}, command.Options{Timeout: 15 * time.Second})
	if err != nil || !res.OK {
		return err
	}

	now := time.Now()
	var rows [][]any
	for _, fields := range ParseColonDelimited(res.Stdout, zfsDatasetColumns) {
		used, ok1 := ParseNonNegativeInt(fields[1])
		avail, ok2 := ParseNonNegativeInt(fields[2])
		if !ok1 || !ok2 {
			continue
		}
		rows = append(rows, []any{c.host, fields[0], used, avail, now})
	}
	return c.store.Metrics.ReplaceSnapshot(ctx, "zfs_datasets", "host", c.host,
		[]string{"host", "name", "used_bytes", "avail_bytes", "scan_timestamp"}, rows)
}
