package models

// PvpSettings is the active duel configuration row. A single active record
// drives match creation and rating updates; defaults apply when none exists.
type PvpSettings struct {
	ID                      string `json:"id" db:"id"`
	Name                    string `json:"name" db:"name"`
	DurationMinutes         int    `json:"durationMinutes" db:"duration_minutes"`
	MaxTasks                int    `json:"maxTasks" db:"max_tasks"`
	KFactor                 int    `json:"kFactor" db:"k_factor"`
	InitialRating           int    `json:"initialRating" db:"initial_rating"`
	MaxRatingDiffForNoDelay int    `json:"maxRatingDiffForNoDelay" db:"max_rating_diff_for_nodelay"`
	MinWaitTimeSeconds      int    `json:"minWaitTimeSeconds" db:"min_wait_time_seconds"`
	IsActive                bool   `json:"isActive" db:"is_active"`
}

// DefaultPvpSettings mirrors the fallback values used when no active
// settings row exists.
func DefaultPvpSettings() *PvpSettings {
	return &PvpSettings{
		Name:                    "default",
		DurationMinutes:         15,
		MaxTasks:                5,
		KFactor:                 32,
		InitialRating:           1000,
		MaxRatingDiffForNoDelay: 200,
		MinWaitTimeSeconds:      30,
		IsActive:                true,
	}
}
