package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/store/migrations"
)

// Store is the facade the rest of the agent depends on: one *sql.DB plus
// one query struct per entity family, mirroring the teacher's
// Store{configuration, inventory} shape generalised to the zone domain's
// full table set.
type Store struct {
	db *sql.DB

	Tasks         *TaskStore
	Zones         *ZoneStore
	Console       *ConsoleStore
	Metrics       *MetricStore
	Provisioning  *ProvisioningStore
}

// NewStore opens db at path, runs migrations, and wires every per-entity
// query struct against the same *sql.DB and squirrel StatementBuilder.
func NewStore(ctx context.Context, path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)

	return &Store{
		db:           db,
		Tasks:        &TaskStore{db: db, builder: builder, logger: logger},
		Zones:        &ZoneStore{db: db, builder: builder, logger: logger},
		Console:      &ConsoleStore{db: db, builder: builder, logger: logger},
		Metrics:      &MetricStore{db: db, builder: builder, logger: logger},
		Provisioning: &ProvisioningStore{db: db, builder: builder, logger: logger},
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for raw queries the per-entity stores
// don't cover.
func (s *Store) DB() *sql.DB {
	return s.db
}
