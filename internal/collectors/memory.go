package collectors

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// pageSizeBytes is illumos's default MMU page size; system_pages kstat
// counters are expressed in pages.
const pageSizeBytes = 4096

// MemoryCollector samples host-wide physical memory usage via
// `kstat -p -m unix -n system_pages` (§4.6).
type MemoryCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration
}

func NewMemoryCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *MemoryCollector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &MemoryCollector{host: host, runner: runner, store: st, logger: logger, interval: interval}
}

func (c *MemoryCollector) Name() string           { return "memory" }
func (c *MemoryCollector) Interval() time.Duration { return c.interval }

func (c *MemoryCollector) Collect(ctx context.Context) error {
	res, err := c.runner.Run(ctx,
		[]string{"kstat", "-p", "-m", "unix", "-n", "system_pages", "-s", "physmem,freemem"},
		command.Options{Timeout: 10 * time.Second},
	)
	if err != nil {
		return err
	}
	if !res.OK {
		return nil
	}

	var physPages, freePages uint64
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		keyFields := strings.Split(parts[0], ":")
		if len(keyFields) != 4 {
			continue
		}
		value, ok := ParseNonNegativeInt(parts[1])
		if !ok {
			continue
		}
		switch keyFields[3] {
		case "physmem":
			physPages = value
		case "freemem":
			freePages = value
		}
	}

	if physPages == 0 {
		return nil
	}

	total := physPages * pageSizeBytes
	free := freePages * pageSizeBytes
	used := Delta(total, free)
	now := time.Now()

	return c.store.Metrics.BulkInsert(ctx, "memory_stats",
		[]string{"host", "scan_timestamp", "total_bytes", "free_bytes", "used_bytes"},
		[][]any{{c.host, now, total, free, used}}, 0)
}
