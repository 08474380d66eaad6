package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ProvisioningStore persists ProvisioningProfile and Recipe records, the
// reusable bundles referenced by a zone's configuration document.
type ProvisioningStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.SugaredLogger
}

// CreateProfile inserts a profile, returning *errors.ConflictError if the
// name is already taken.
func (s *ProvisioningStore) CreateProfile(ctx context.Context, name, document string) (*models.ProvisioningProfile, error) {
	var profile *models.ProvisioningProfile
	err := withRetry(ctx, s.logger, func() error {
		id := uuid.NewString()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO provisioning_profiles (id, name, document, created_at, updated_at) VALUES (?, ?, ?, current_timestamp, current_timestamp)`,
			id, name, document,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return srvErrors.NewConflictError("provisioning_profile", name)
			}
			return err
		}
		profile, err = s.getProfileTx(ctx, id)
		return err
	})
	return profile, err
}

func (s *ProvisioningStore) getProfileTx(ctx context.Context, id string) (*models.ProvisioningProfile, error) {
	var p models.ProvisioningProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, document, created_at, updated_at FROM provisioning_profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Document, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewNotFoundError("provisioning_profile", id)
	}
	return &p, err
}

// GetProfile returns the profile by id.
func (s *ProvisioningStore) GetProfile(ctx context.Context, id string) (*models.ProvisioningProfile, error) {
	var p *models.ProvisioningProfile
	err := withRetry(ctx, s.logger, func() error {
		var getErr error
		p, getErr = s.getProfileTx(ctx, id)
		return getErr
	})
	return p, err
}

// UpdateProfile overwrites the document for an existing profile.
func (s *ProvisioningStore) UpdateProfile(ctx context.Context, id, document string) error {
	return withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE provisioning_profiles SET document = ?, updated_at = current_timestamp WHERE id = ?`, document, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return srvErrors.NewNotFoundError("provisioning_profile", id)
		}
		return nil
	})
}

// DeleteProfile removes a profile by id.
func (s *ProvisioningStore) DeleteProfile(ctx context.Context, id string) error {
	return withRetry(ctx, s.logger, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM provisioning_profiles WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return srvErrors.NewNotFoundError("provisioning_profile", id)
		}
		return nil
	})
}

// ListProfiles returns every stored profile.
func (s *ProvisioningStore) ListProfiles(ctx context.Context) ([]*models.ProvisioningProfile, error) {
	var profiles []*models.ProvisioningProfile
	err := withRetry(ctx, s.logger, func() error {
		profiles = nil
		rows, err := s.db.QueryContext(ctx, `SELECT id, name, document, created_at, updated_at FROM provisioning_profiles ORDER BY name ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p models.ProvisioningProfile
			if err := rows.Scan(&p.ID, &p.Name, &p.Document, &p.CreatedAt, &p.UpdatedAt); err != nil {
				return err
			}
			profiles = append(profiles, &p)
		}
		return rows.Err()
	})
	return profiles, err
}

// GetRecipe returns a recipe by id, used by the Console Multiplexer's
// zone_setup automation.
func (s *ProvisioningStore) GetRecipe(ctx context.Context, id string) (*models.Recipe, error) {
	var r models.Recipe
	err := withRetry(ctx, s.logger, func() error {
		err := s.db.QueryRowContext(ctx, `SELECT id, name, script, created_at FROM recipes WHERE id = ?`, id).
			Scan(&r.ID, &r.Name, &r.Script, &r.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return srvErrors.NewNotFoundError("recipe", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate")
}
