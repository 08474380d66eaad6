package collectors

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// ArcCollector samples the ZFS adaptive replacement cache via
// `kstat -p -m zfs -n arcstats` (§GLOSSARY: "ARC").
type ArcCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration
}

func NewArcCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *ArcCollector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &ArcCollector{host: host, runner: runner, store: st, logger: logger, interval: interval}
}

func (c *ArcCollector) Name() string           { return "arc" }
func (c *ArcCollector) Interval() time.Duration { return c.interval }

func (c *ArcCollector) Collect(ctx context.Context) error {
	res, err := c.runner.Run(ctx,
		[]string{"kstat", "-p", "-m", "zfs", "-n", "arcstats", "-s", "size,c,hits,misses"},
		command.Options{Timeout: 10 * time.Second},
	)
	if err != nil {
		return err
	}
	if !res.OK {
		return nil
	}

	var size, target, hits, misses uint64
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		keyFields := strings.Split(fields[0], ":")
		if len(keyFields) != 4 {
			continue
		}
		value, ok := ParseNonNegativeInt(fields[1])
		if !ok {
			continue
		}
		switch keyFields[3] {
		case "size":
			size = value
		case "c":
			target = value
		case "hits":
			hits = value
		case "misses":
			misses = value
		}
	}

	var hitRatio *float64
	if total := hits + misses; total > 0 {
		v := roundTo(float64(hits)/float64(total)*100, 2)
		hitRatio = &v
	}

	return c.store.Metrics.BulkInsert(ctx, "arc_stats",
		[]string{"host", "scan_timestamp", "size_bytes", "target_bytes", "hit_ratio_pct"},
		[][]any{{c.host, time.Now(), size, target, hitRatio}}, 0)
}
