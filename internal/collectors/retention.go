package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/store"
)

// RetentionTable names one metric table and the scan-timestamp column
// its retention sweep deletes against.
type RetentionTable struct {
	Table         string
	ScanColumn    string
	RetentionDays int
}

// DefaultRetentionTables are the table family horizons §4.6.3 calls out
// by name; a caller wanting other horizons passes its own slice to
// NewRetentionSweeper.
func DefaultRetentionTables() []RetentionTable {
	return []RetentionTable{
		{Table: "network_usage", ScanColumn: "scan_timestamp", RetentionDays: 14},
		{Table: "cpu_stats", ScanColumn: "scan_timestamp", RetentionDays: 14},
		{Table: "memory_stats", ScanColumn: "scan_timestamp", RetentionDays: 14},
		{Table: "disk_io_stats", ScanColumn: "scan_timestamp", RetentionDays: 14},
		{Table: "pool_io_stats", ScanColumn: "scan_timestamp", RetentionDays: 14},
		{Table: "arc_stats", ScanColumn: "scan_timestamp", RetentionDays: 14},
	}
}

// RetentionSweeper periodically deletes rows older than each table's
// configured horizon (§4.6.3). Failures log and retry at the next tick;
// they never halt collection.
type RetentionSweeper struct {
	store    *store.Store
	logger   *zap.SugaredLogger
	tables   []RetentionTable
	interval time.Duration
	cron     *cron.Cron
}

func NewRetentionSweeper(st *store.Store, tables []RetentionTable, interval time.Duration, logger *zap.SugaredLogger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{store: st, logger: logger, tables: tables, interval: interval}
}

func (s *RetentionSweeper) Start(ctx context.Context) {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweepOnce(ctx) }); err != nil && s.logger != nil {
		s.logger.Errorw("schedule retention sweep failed", "error", err)
	}
	s.cron.Start()
}

func (s *RetentionSweeper) sweepOnce(ctx context.Context) {
	for _, t := range s.tables {
		cutoff := time.Now().AddDate(0, 0, -t.RetentionDays)
		affected, err := s.store.Metrics.DeleteOlderThan(ctx, t.Table, t.ScanColumn, cutoff)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorw("retention sweep failed", "table", t.Table, "error", err)
			}
			continue
		}
		if affected > 0 && s.logger != nil {
			s.logger.Infow("retention sweep deleted rows", "table", t.Table, "rows", affected)
		}
	}
}

func (s *RetentionSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
