package collectors

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// swapBlockBytes is the block size `swap -l` reports blocks/free in.
const swapBlockBytes = 512

// SwapCollector samples swap devices via `swap -l`, a current-state
// snapshot table keyed by (host, swapfile) (§3, §6.1).
type SwapCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration
}

func NewSwapCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *SwapCollector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &SwapCollector{host: host, runner: runner, store: st, logger: logger, interval: interval}
}

func (c *SwapCollector) Name() string           { return "swap" }
func (c *SwapCollector) Interval() time.Duration { return c.interval }

func (c *SwapCollector) Collect(ctx context.Context) error {
	res, err := c.runner.Run(ctx, []string{"swap", "-l"}, command.Options{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}
	if !res.OK {
		return nil
	}

	now := time.Now()
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			continue
		}
		if strings.EqualFold(fields[0], "swapfile") {
			continue
		}
		blocks, okBlocks := ParseNonNegativeInt(fields[3])
		free, okFree := ParseNonNegativeInt(fields[4])
		if !okBlocks || !okFree {
			if c.logger != nil {
				c.logger.Debugw("swap collector rejected row", "line", line)
			}
			continue
		}

		err := c.store.Metrics.UpsertByNaturalKey(ctx, "swap_areas",
			[]string{"host", "swapfile"},
			[]string{"total_bytes", "free_bytes", "scan_timestamp"},
			map[string]any{
				"host": c.host, "swapfile": fields[0],
				"total_bytes": blocks * swapBlockBytes, "free_bytes": free * swapBlockBytes,
				"scan_timestamp": now,
			})
		if err != nil {
			return err
		}
	}
	return nil
}
