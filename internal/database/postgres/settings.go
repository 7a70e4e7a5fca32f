package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

// SettingsRepository stores the single settings row.
type SettingsRepository struct {
	pool *Pool
}

// NewSettingsRepository creates a new PostgreSQL settings repository.
func NewSettingsRepository(pool *Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// GetSettings returns the stored settings or database.ErrNotFound.
func (r *SettingsRepository) GetSettings(ctx context.Context) (*database.Settings, error) {
	var s database.Settings
	err := r.pool.QueryRow(ctx, "SELECT threshold, camera_id, updated_at FROM settings WHERE id = 1").
		Scan(&s.Threshold, &s.CameraID, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	s.UpdatedAt = timezone.In(s.UpdatedAt)
	return &s, nil
}

// SaveSettings upserts the settings row.
func (r *SettingsRepository) SaveSettings(ctx context.Context, s *database.Settings) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO settings (id, threshold, camera_id, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			camera_id = EXCLUDED.camera_id,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`, s.Threshold, s.CameraID).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.UpdatedAt = timezone.In(s.UpdatedAt)
	return nil
}
