package repository

import "errors"

var (
	// ErrDuplicateQueueEntry means the user already has a queue entry.
	ErrDuplicateQueueEntry = errors.New("queue entry already exists")

	// ErrQueueEntryGone means a concurrent pairing removed a queue entry
	// this transaction expected to consume. Benign race loss.
	ErrQueueEntryGone = errors.New("queue entry no longer exists")

	// ErrNotEnoughTasks means the subject's pool is smaller than the match
	// task count, so pairing must be aborted.
	ErrNotEnoughTasks = errors.New("not enough tasks for subject")
)
