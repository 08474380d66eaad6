// Package store provides durable, transactional storage for every entity
// in the agent's data model (tasks, zones, console sessions, metric
// tables) on top of an embedded DuckDB file, following the teacher's
// internal/store shape (a thin *sql.DB wrapper plus per-entity query
// structs) generalised from a single Configuration/Inventory pair to the
// zone domain's full table set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// NewDB opens (or creates) the DuckDB file at path. Use ":memory:" for an
// ephemeral in-process database, the pattern the teacher's migration
// tests rely on.
func NewDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}
	// DuckDB's single-writer model makes a wide-open pool counterproductive;
	// serialise writers the way the teacher's store does.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// retryPolicy implements §4.1's failure semantics: exponential backoff
// with jitter, base 100ms, exponent 1.5, capped at 5 attempts.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 1.5
	b.MaxInterval = 2 * time.Second
	return b
}

// isTransient reports whether err looks like a DuckDB busy/locked error
// that should be retried rather than surfaced immediately.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lock") || strings.Contains(msg, "busy") || strings.Contains(msg, "conflict")
}

// withRetry runs fn, retrying transient engine errors with backoff up to
// 5 attempts, and wraps any surviving transient error as
// *errors.TransientStoreError. Non-transient errors are returned as-is.
func withRetry(ctx context.Context, logger *zap.SugaredLogger, fn func() error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if logger != nil {
			logger.Debugw("retrying transient store error", "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(retryPolicy()),
		backoff.WithMaxTries(5),
	)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return srvErrors.NewTransientStoreError(err)
}
