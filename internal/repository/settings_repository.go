package repository

import (
	"database/sql"
	"fmt"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

type SettingsRepository struct {
	db *database.DB
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Active returns the active settings row. When none exists the hardcoded
// defaults apply, so duels keep working on an empty settings table.
func (r *SettingsRepository) Active() (*models.PvpSettings, error) {
	query := `
		SELECT id, name, duration_minutes, max_tasks, k_factor, initial_rating,
		       max_rating_diff_for_nodelay, min_wait_time_seconds, is_active
		FROM pvp_settings
		WHERE is_active = TRUE
		ORDER BY name ASC
		LIMIT 1
	`

	settings := &models.PvpSettings{}
	err := r.db.QueryRow(query).Scan(
		&settings.ID,
		&settings.Name,
		&settings.DurationMinutes,
		&settings.MaxTasks,
		&settings.KFactor,
		&settings.InitialRating,
		&settings.MaxRatingDiffForNoDelay,
		&settings.MinWaitTimeSeconds,
		&settings.IsActive,
	)

	if err == sql.ErrNoRows {
		return models.DefaultPvpSettings(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return settings, nil
}
