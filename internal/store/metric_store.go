package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
)

// MetricStore implements the Store's bulk-insert, range-delete and
// current-state-upsert contracts (§4.1) against the metric table family
// in §6.1. Collectors build plain column/value batches and hand them to
// the generic helpers below rather than each collector re-implementing
// SQL.
type MetricStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.SugaredLogger
}

// BulkInsert inserts rows into table in batches of batchSize, each row
// being a slice of column values in the order of columns. Used for
// time-series tables (network_usage, cpu_stats, memory_stats, ...).
func (s *MetricStore) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	return withRetry(ctx, s.logger, func() error {
		for start := 0; start < len(rows); start += batchSize {
			end := start + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := insertBatch(ctx, s.db, table, columns, rows[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertBatch(ctx context.Context, db *sql.DB, table string, columns []string, batch [][]any) error {
	b := sq.Insert(table).Columns(columns...)
	for _, row := range batch {
		b = b.Values(row...)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build bulk insert for %s: %w", table, err)
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

// ReplaceSnapshot atomically replaces every row for host in table with
// the given batch, implementing the "previous rows replaced atomically"
// contract for current-state tables (§3).
func (s *MetricStore) ReplaceSnapshot(ctx context.Context, table, hostColumn, host string, columns []string, rows [][]any) error {
	return withRetry(ctx, s.logger, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, hostColumn), host); err != nil {
			return err
		}
		if len(rows) > 0 {
			b := sq.Insert(table).Columns(columns...)
			for _, row := range rows {
				b = b.Values(row...)
			}
			query, args, err := b.ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// UpsertByNaturalKey upserts a single current-state row keyed by the
// given natural-key columns (e.g. (host, swapfile) for swap areas),
// updating every other column on conflict.
func (s *MetricStore) UpsertByNaturalKey(ctx context.Context, table string, keyColumns, updateColumns []string, values map[string]any) error {
	allColumns := append(append([]string{}, keyColumns...), updateColumns...)
	args := make([]any, 0, len(allColumns))
	for _, c := range allColumns {
		args = append(args, values[c])
	}

	query, args2, err := buildUpsertQuery(table, keyColumns, updateColumns, allColumns, args)
	if err != nil {
		return err
	}

	return withRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, query, args2...)
		return err
	})
}

func buildUpsertQuery(table string, keyColumns, updateColumns, allColumns []string, args []any) (string, []any, error) {
	b := sq.Insert(table).Columns(allColumns...).Values(args...)
	query, qargs, err := b.ToSql()
	if err != nil {
		return "", nil, err
	}
	query += " ON CONFLICT (" + joinColumns(keyColumns) + ") DO UPDATE SET " + buildSetClause(updateColumns)
	return query, qargs, nil
}

func joinColumns(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func buildSetClause(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c + " = excluded." + c
	}
	return out
}

// DeleteOlderThan deletes rows from table where scanTimestampColumn is
// older than cutoff, implementing per-table retention (§4.6.3).
func (s *MetricStore) DeleteOlderThan(ctx context.Context, table, scanTimestampColumn string, cutoff time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, scanTimestampColumn), cutoff,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// UpsertHostInfo writes the per-host health/scan-timestamp record (§4.6(5)).
func (s *MetricStore) UpsertHostInfo(ctx context.Context, info *models.HostInfo) error {
	return withRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO host_info (host, cpu_count, total_memory_bytes, network_accounting_on,
				last_network_scan, last_cpu_scan, last_memory_scan, last_swap_scan, last_storage_scan, last_arc_scan,
				collector_errors, collector_disabled, collector_last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (host) DO UPDATE SET
				cpu_count = excluded.cpu_count,
				total_memory_bytes = excluded.total_memory_bytes,
				network_accounting_on = excluded.network_accounting_on,
				last_network_scan = coalesce(excluded.last_network_scan, host_info.last_network_scan),
				last_cpu_scan = coalesce(excluded.last_cpu_scan, host_info.last_cpu_scan),
				last_memory_scan = coalesce(excluded.last_memory_scan, host_info.last_memory_scan),
				last_swap_scan = coalesce(excluded.last_swap_scan, host_info.last_swap_scan),
				last_storage_scan = coalesce(excluded.last_storage_scan, host_info.last_storage_scan),
				last_arc_scan = coalesce(excluded.last_arc_scan, host_info.last_arc_scan),
				collector_errors = excluded.collector_errors,
				collector_disabled = excluded.collector_disabled,
				collector_last_error = excluded.collector_last_error
		`,
			info.Host, info.CPUCount, info.TotalMemoryBytes, info.NetworkAccountingOn,
			info.LastNetworkScan, info.LastCPUScan, info.LastMemoryScan, info.LastSwapScan, info.LastStorageScan, info.LastArcScan,
			encodeJSONMap(info.CollectorErrors), encodeJSONBoolMap(info.CollectorDisabled), encodeJSONStringMap(info.CollectorLastError),
		)
		return err
	})
}

// GetHostInfo returns the host_info row for host, or a HostInfo with only
// Host set (and a nil error) if none exists yet.
func (s *MetricStore) GetHostInfo(ctx context.Context, host string) (*models.HostInfo, error) {
	var info models.HostInfo
	err := withRetry(ctx, s.logger, func() error {
		var lastNetwork, lastCPU, lastMemory, lastSwap, lastStorage, lastArc sql.NullTime
		var errorsJSON, disabledJSON, lastErrorJSON string
		err := s.db.QueryRowContext(ctx, `
			SELECT host, cpu_count, total_memory_bytes, network_accounting_on,
				last_network_scan, last_cpu_scan, last_memory_scan, last_swap_scan, last_storage_scan, last_arc_scan,
				collector_errors, collector_disabled, collector_last_error
			FROM host_info WHERE host = ?
		`, host).Scan(&info.Host, &info.CPUCount, &info.TotalMemoryBytes, &info.NetworkAccountingOn,
			&lastNetwork, &lastCPU, &lastMemory, &lastSwap, &lastStorage, &lastArc,
			&errorsJSON, &disabledJSON, &lastErrorJSON)
		if errors.Is(err, sql.ErrNoRows) {
			info = models.HostInfo{Host: host}
			return nil
		}
		if err != nil {
			return err
		}
		if lastNetwork.Valid {
			info.LastNetworkScan = &lastNetwork.Time
		}
		if lastCPU.Valid {
			info.LastCPUScan = &lastCPU.Time
		}
		if lastMemory.Valid {
			info.LastMemoryScan = &lastMemory.Time
		}
		if lastSwap.Valid {
			info.LastSwapScan = &lastSwap.Time
		}
		if lastStorage.Valid {
			info.LastStorageScan = &lastStorage.Time
		}
		if lastArc.Valid {
			info.LastArcScan = &lastArc.Time
		}
		info.CollectorErrors = decodeJSONMap(errorsJSON)
		info.CollectorDisabled = decodeJSONBoolMap(disabledJSON)
		info.CollectorLastError = decodeJSONStringMap(lastErrorJSON)
		return nil
	})
	return &info, err
}
