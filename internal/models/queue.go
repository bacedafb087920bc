package models

import "time"

// QueueEntry is a user's declared intent to be matched for a subject.
// At most one entry per user exists at any time (unique constraint).
type QueueEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	SubjectID string    `json:"subjectId" db:"subject_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// RatingScore is joined from the ratings table for pairing decisions.
	RatingScore int `json:"ratingScore" db:"rating_score"`
}

// WaitedAt reports how long the entry has been queued as of now.
func (q *QueueEntry) WaitedAt(now time.Time) time.Duration {
	return now.Sub(q.CreatedAt)
}
