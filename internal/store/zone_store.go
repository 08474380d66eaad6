package store

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ZoneStore persists Zone records.
type ZoneStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.SugaredLogger
}

const queryUpsertZone = `
	INSERT INTO zones (name, zone_id, host, brand, status, configuration, is_orphaned, auto_discovered, last_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, current_timestamp)
	ON CONFLICT (name) DO UPDATE SET
		zone_id = excluded.zone_id,
		host = excluded.host,
		brand = excluded.brand,
		status = excluded.status,
		configuration = excluded.configuration,
		is_orphaned = excluded.is_orphaned,
		auto_discovered = excluded.auto_discovered,
		last_seen = excluded.last_seen
`

const queryGetZone = `
	SELECT name, zone_id, host, brand, status, configuration, is_orphaned, auto_discovered, last_seen
	FROM zones WHERE name = ?
`

// Upsert creates or replaces the zone row keyed by Name (§4.1's
// upsert-by-natural-key contract, applied here to zone state rather than
// a metric table).
func (s *ZoneStore) Upsert(ctx context.Context, z *models.Zone) error {
	return withRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, queryUpsertZone,
			z.Name, z.ZoneID, z.Host, z.Brand, string(z.Status), z.Configuration,
			z.IsOrphaned, z.AutoDiscovered,
		)
		return err
	})
}

// UpdateConfiguration mutates only the opaque configuration document
// (§3 I6: no task is queued for this).
func (s *ZoneStore) UpdateConfiguration(ctx context.Context, name, configuration string) error {
	return withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE zones SET configuration = ? WHERE name = ?`, configuration, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return srvErrors.NewNotFoundError("zone", name)
		}
		return nil
	})
}

// Get returns the zone named name.
func (s *ZoneStore) Get(ctx context.Context, name string) (*models.Zone, error) {
	var z *models.Zone
	err := withRetry(ctx, s.logger, func() error {
		row := s.db.QueryRowContext(ctx, queryGetZone, name)
		var status string
		var lastSeen sql.NullTime
		var zone models.Zone
		err := row.Scan(&zone.Name, &zone.ZoneID, &zone.Host, &zone.Brand, &status,
			&zone.Configuration, &zone.IsOrphaned, &zone.AutoDiscovered, &lastSeen)
		if errors.Is(err, sql.ErrNoRows) {
			return srvErrors.NewNotFoundError("zone", name)
		}
		if err != nil {
			return err
		}
		zone.Status = models.ZoneStatus(status)
		if lastSeen.Valid {
			zone.LastSeen = lastSeen.Time
		}
		z = &zone
		return nil
	})
	return z, err
}

// Delete removes the zone row.
func (s *ZoneStore) Delete(ctx context.Context, name string) error {
	return withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM zones WHERE name = ?`, name)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return srvErrors.NewNotFoundError("zone", name)
		}
		return nil
	})
}

// List returns zones optionally filtered by status.
func (s *ZoneStore) List(ctx context.Context, status *models.ZoneStatus) ([]*models.Zone, error) {
	b := s.builder.Select("name", "zone_id", "host", "brand", "status", "configuration", "is_orphaned", "auto_discovered", "last_seen").
		From("zones").OrderBy("name ASC")
	if status != nil {
		b = b.Where(sq.Eq{"status": string(*status)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	var zones []*models.Zone
	err = withRetry(ctx, s.logger, func() error {
		zones = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var zone models.Zone
			var st string
			var lastSeen sql.NullTime
			if err := rows.Scan(&zone.Name, &zone.ZoneID, &zone.Host, &zone.Brand, &st,
				&zone.Configuration, &zone.IsOrphaned, &zone.AutoDiscovered, &lastSeen); err != nil {
				return err
			}
			zone.Status = models.ZoneStatus(st)
			if lastSeen.Valid {
				zone.LastSeen = lastSeen.Time
			}
			zones = append(zones, &zone)
		}
		return rows.Err()
	})
	return zones, err
}
