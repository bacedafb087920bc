package models

// CompletionDecision is the outcome a completion check derived from a
// consistent snapshot of both participants.
type CompletionDecision struct {
	Complete bool
	Result   MatchResult
	WinnerID *string
}

// MatchCompletion is the terminal-transition payload broadcast to both
// players and returned exactly once per match.
type MatchCompletion struct {
	Match        *Match
	Participants []MatchParticipant
	Result       MatchResult
	WinnerID     *string
	// RatingDeltas maps user id to the applied score change. Empty for
	// technical termination.
	RatingDeltas map[string]int
}
