package service

import "errors"

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

// User service specific errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
)

// Matchmaking service specific errors
var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrAlreadyQueued     = errors.New("user already in queue")
	ErrAlreadyInMatch    = errors.New("user already in an active match")
	ErrInsufficientTasks = errors.New("subject has fewer tasks than a match requires")
)

// Match service specific errors
var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("user is not a participant of this match")
	ErrEmptyAnswer    = errors.New("answer must not be empty")
)
