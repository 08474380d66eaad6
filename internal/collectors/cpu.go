package collectors

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

type cpuTicks struct {
	user, kernel, idle uint64
}

// CPUCollector samples per-core cumulative tick counters via `kstat -p`
// against the `cpu_stat` kstat module and derives percentages from the
// tick deltas (§4.6: "CPU: per-core percentages from cumulative
// counters").
type CPUCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration

	mu       sync.Mutex
	previous map[string]cpuTicks
}

func NewCPUCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *CPUCollector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &CPUCollector{host: host, runner: runner, store: st, logger: logger, interval: interval, previous: map[string]cpuTicks{}}
}

func (c *CPUCollector) Name() string           { return "cpu" }
func (c *CPUCollector) Interval() time.Duration { return c.interval }

func (c *CPUCollector) Collect(ctx context.Context) error {
	res, err := c.runner.Run(ctx,
		[]string{"kstat", "-p", "-m", "cpu_stat", "-s", "user,kernel,idle"},
		command.Options{Timeout: 10 * time.Second},
	)
	if err != nil {
		return err
	}
	if !res.OK {
		return nil
	}

	now := time.Now()
	current := parseKstatCPUTicks(res.Stdout)

	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([][]any, 0, len(current))
	for core, ticks := range current {
		var userPct, sysPct, idlePct *float64
		if prev, seen := c.previous[core]; seen {
			userDelta := Delta(ticks.user, prev.user)
			kernelDelta := Delta(ticks.kernel, prev.kernel)
			idleDelta := Delta(ticks.idle, prev.idle)
			total := userDelta + kernelDelta + idleDelta
			if total > 0 {
				u := roundTo(float64(userDelta)/float64(total)*100, 2)
				s := roundTo(float64(kernelDelta)/float64(total)*100, 2)
				i := roundTo(float64(idleDelta)/float64(total)*100, 2)
				userPct, sysPct, idlePct = &u, &s, &i
			}
		}
		c.previous[core] = ticks
		rows = append(rows, []any{c.host, core, now, userPct, sysPct, idlePct})
	}

	return c.store.Metrics.BulkInsert(ctx, "cpu_stats",
		[]string{"host", "core", "scan_timestamp", "user_pct", "system_pct", "idle_pct"}, rows, 0)
}

// parseKstatCPUTicks parses `kstat -p` output of the form
// "cpu_stat:<instance>:cpu_stat<instance>:<stat>\t<value>" into a
// per-core tick accumulator. Malformed lines are skipped rather than
// failing the whole sample (§4.6.1).
func parseKstatCPUTicks(output string) map[string]cpuTicks {
	result := map[string]cpuTicks{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			parts = strings.Fields(line)
			if len(parts) != 2 {
				continue
			}
		}
		keyFields := strings.Split(parts[0], ":")
		if len(keyFields) != 4 {
			continue
		}
		instance, stat := keyFields[1], keyFields[3]
		value, ok := ParseNonNegativeInt(strings.TrimSpace(parts[1]))
		if !ok {
			continue
		}
		t := result[instance]
		switch stat {
		case "user":
			t.user = value
		case "kernel":
			t.kernel = value
		case "idle":
			t.idle = value
		default:
			continue
		}
		result[instance] = t
	}
	return result
}
