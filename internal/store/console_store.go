package store

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ConsoleStore persists ConsoleSession records (§3 ConsoleSession, I7/I8).
type ConsoleStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.SugaredLogger
}

const queryInsertSession = `
	INSERT INTO zlogin_sessions (id, zone_name, pid, status, created_at, last_accessed, last_activity, session_buffer)
	VALUES (?, ?, ?, ?, current_timestamp, current_timestamp, current_timestamp, '')
`

const queryActiveSessionForZone = `
	SELECT id FROM zlogin_sessions WHERE zone_name = ? AND status IN ('connecting', 'active') LIMIT 1
`

const queryGetSession = `
	SELECT id, zone_name, pid, status, created_at, last_accessed, last_activity, session_buffer
	FROM zlogin_sessions WHERE id = ?
`

// Create inserts a new session for zone, enforcing at most one active
// session per zone (§3 I7) by returning the existing session instead.
func (s *ConsoleStore) Create(ctx context.Context, zoneName string) (*models.ConsoleSession, bool, error) {
	var result *models.ConsoleSession
	existed := false

	err := withRetry(ctx, s.logger, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var existingID string
		err = tx.QueryRowContext(ctx, queryActiveSessionForZone, zoneName).Scan(&existingID)
		if err == nil {
			result, err = getSessionTx(ctx, tx, existingID)
			if err != nil {
				return err
			}
			existed = true
			return tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, queryInsertSession, id, zoneName, nil, string(models.ConsoleConnecting)); err != nil {
			return err
		}
		result, err = getSessionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}
	return result, existed, nil
}

func getSessionTx(ctx context.Context, tx *sql.Tx, id string) (*models.ConsoleSession, error) {
	row := tx.QueryRowContext(ctx, queryGetSession, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.ConsoleSession, error) {
	var sess models.ConsoleSession
	var status string
	var pid sql.NullInt64
	err := row.Scan(&sess.ID, &sess.ZoneName, &pid, &status, &sess.CreatedAt, &sess.LastAccessed, &sess.LastActivity, &sess.SessionBuffer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewNotFoundError("zlogin_session", "")
	}
	if err != nil {
		return nil, err
	}
	sess.Status = models.ConsoleSessionStatus(status)
	if pid.Valid {
		p := int(pid.Int64)
		sess.PID = &p
	}
	return &sess, nil
}

// Get returns the session by id.
func (s *ConsoleStore) Get(ctx context.Context, id string) (*models.ConsoleSession, error) {
	var sess *models.ConsoleSession
	err := withRetry(ctx, s.logger, func() error {
		row := s.db.QueryRowContext(ctx, queryGetSession, id)
		var scanErr error
		sess, scanErr = scanSession(row)
		return scanErr
	})
	return sess, err
}

// SetPID records the PTY's process id once it has spawned.
func (s *ConsoleStore) SetPID(ctx context.Context, id string, pid int) error {
	return withRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE zlogin_sessions SET pid = ?, status = ? WHERE id = ?`, pid, string(models.ConsoleActive), id)
		return err
	})
}

// Touch updates last_accessed/last_activity and appends to the
// session_buffer tail (§4.5) used for forensic/reconnect context across
// restarts, keeping only its last maxBufferBytes bytes; the bound is a
// byte count, not a line count.
func (s *ConsoleStore) Touch(ctx context.Context, id, appended string, maxBufferBytes int) error {
	return withRetry(ctx, s.logger, func() error {
		var current string
		if err := s.db.QueryRowContext(ctx, `SELECT session_buffer FROM zlogin_sessions WHERE id = ?`, id).Scan(&current); err != nil {
			return err
		}
		next := current + appended
		if len(next) > maxBufferBytes {
			next = next[len(next)-maxBufferBytes:]
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE zlogin_sessions SET session_buffer = ?, last_accessed = current_timestamp, last_activity = current_timestamp WHERE id = ?`,
			next, id,
		)
		return err
	})
}

// Close marks a session closed (PTY exit, explicit stop, or unreachable
// pid on restart reconciliation — §3 I8).
func (s *ConsoleStore) Close(ctx context.Context, id string) error {
	return withRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE zlogin_sessions SET status = ? WHERE id = ?`, string(models.ConsoleClosed), id)
		return err
	})
}

// ListActive returns every session not yet closed, used at startup to
// reconcile against live pids (§3 I8).
func (s *ConsoleStore) ListActive(ctx context.Context) ([]*models.ConsoleSession, error) {
	var sessions []*models.ConsoleSession
	err := withRetry(ctx, s.logger, func() error {
		sessions = nil
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, zone_name, pid, status, created_at, last_accessed, last_activity, session_buffer
			 FROM zlogin_sessions WHERE status IN ('connecting', 'active')`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sess models.ConsoleSession
			var status string
			var pid sql.NullInt64
			if err := rows.Scan(&sess.ID, &sess.ZoneName, &pid, &status, &sess.CreatedAt, &sess.LastAccessed, &sess.LastActivity, &sess.SessionBuffer); err != nil {
				return err
			}
			sess.Status = models.ConsoleSessionStatus(status)
			if pid.Valid {
				p := int(pid.Int64)
				sess.PID = &p
			}
			sessions = append(sessions, &sess)
		}
		return rows.Err()
	})
	return sessions, err
}
