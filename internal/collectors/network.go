package collectors

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// networkSample is the previous-sample cache entry kept in-memory per
// link to avoid a database round-trip on every tick (§4.6.2).
type networkSample struct {
	at      time.Time
	rbytes  uint64
	obytes  uint64
}

// NetworkCollector gathers per-link traffic counters via
// `dladm show-link -s -p` and link speed via `dladm show-phys -p -o
// LINK,SPEED`, computing deltas against the previous sample
// (§4.6, §4.6.2).
type NetworkCollector struct {
	host     string
	runner   *command.Runner
	store    *store.Store
	logger   *zap.SugaredLogger
	interval time.Duration

	mu       sync.Mutex
	previous map[string]networkSample
}

func NewNetworkCollector(host string, runner *command.Runner, st *store.Store, logger *zap.SugaredLogger, interval time.Duration) *NetworkCollector {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &NetworkCollector{
		host: host, runner: runner, store: st, logger: logger, interval: interval,
		previous: map[string]networkSample{},
	}
}

func (c *NetworkCollector) Name() string          { return "network" }
func (c *NetworkCollector) Interval() time.Duration { return c.interval }

// dladm show-link -s -p columns: LINK:IPACKETS:RBYTES:IERRORS:OPACKETS:OBYTES:OERRORS
const networkUsageColumns = 7

// dladm show-phys -p -o LINK,SPEED columns: LINK:SPEED
const networkSpeedColumns = 2

func (c *NetworkCollector) Collect(ctx context.Context) error {
	usageRes, err := c.runner.Run(ctx, []string{"dladm", "show-link", "-s", "-p", "-o", "LINK,IPACKETS,RBYTES,IERRORS,OPACKETS,OBYTES,OERRORS"}, command.Options{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}
	if !usageRes.OK {
		return srvErrors.NewParseError("network", "dladm show-link", usageRes.Stderr)
	}

	speedRes, err := c.runner.Run(ctx, []string{"dladm", "show-phys", "-p", "-o", "LINK,SPEED"}, command.Options{Timeout: 10 * time.Second})
	speeds := map[string]float64{}
	if err == nil && speedRes.OK {
		for _, fields := range ParseColonDelimited(speedRes.Stdout, networkSpeedColumns) {
			if mbps, ok := ParseNonNegativeFloat(fields[1]); ok {
				speeds[fields[0]] = mbps
			}
		}
	}

	now := time.Now()
	rows := make([][]any, 0)
	interfaceRows := make([][]any, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, fields := range ParseColonDelimited(usageRes.Stdout, networkUsageColumns) {
		link := fields[0]
		ipackets, ok1 := ParseNonNegativeInt(fields[1])
		rbytes, ok2 := ParseNonNegativeInt(fields[2])
		opackets, ok3 := ParseNonNegativeInt(fields[4])
		obytes, ok4 := ParseNonNegativeInt(fields[5])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			if c.logger != nil {
				c.logger.Debugw("network collector rejected row", "link", link)
			}
			continue
		}

		var rbytesDelta, obytesDelta *uint64
		var bw, bwTx BandwidthResult
		if prev, seen := c.previous[link]; seen {
			timeDelta := now.Sub(prev.at).Seconds()
			rd := Delta(rbytes, prev.rbytes)
			od := Delta(obytes, prev.obytes)
			rbytesDelta = &rd
			obytesDelta = &od
			bw = Bandwidth(rd, timeDelta, speeds[link])
			bwTx = Bandwidth(od, timeDelta, speeds[link])
		}
		c.previous[link] = networkSample{at: now, rbytes: rbytes, obytes: obytes}

		rows = append(rows, []any{
			c.host, link, now, rbytes, obytes, ipackets, opackets,
			rbytesDelta, obytesDelta, bw.Bps, bwTx.Bps, bw.Mbps, bwTx.Mbps, bw.UtilizationPct, bwTx.UtilizationPct,
		})

		speedMbps, haveSpeed := speeds[link]
		if !haveSpeed {
			speedMbps = 0
		}
		interfaceRows = append(interfaceRows, []any{c.host, link, "", "", speedMbps, now})
	}

	if err := c.store.Metrics.BulkInsert(ctx, "network_usage",
		[]string{"host", "link", "scan_timestamp", "rbytes", "obytes", "ipackets", "opackets",
			"rbytes_delta", "obytes_delta", "rx_bps", "tx_bps", "rx_mbps", "tx_mbps", "rx_utilization_pct", "tx_utilization_pct"},
		rows, 0); err != nil {
		return err
	}

	if err := c.store.Metrics.ReplaceSnapshot(ctx, "network_interfaces", "host", c.host,
		[]string{"host", "link", "class", "state", "speed_mbps", "scan_timestamp"}, interfaceRows); err != nil {
		return err
	}

	return nil
}
