package models

// Rating is a user's Elo-style competitive score with match counters.
// Created lazily on first queue entry.
type Rating struct {
	UserID        string `json:"userId" db:"user_id"`
	Score         int    `json:"score" db:"score"`
	MatchesPlayed int    `json:"matchesPlayed" db:"matches_played"`
	MatchesWon    int    `json:"matchesWon" db:"matches_won"`
	MatchesLost   int    `json:"matchesLost" db:"matches_lost"`
	MatchesDrawn  int    `json:"matchesDrawn" db:"matches_drawn"`
}

// WinRate is the share of won matches in percent.
func (r *Rating) WinRate() float64 {
	if r.MatchesPlayed == 0 {
		return 0
	}
	return float64(r.MatchesWon) / float64(r.MatchesPlayed) * 100
}

// LeaderboardEntry is a ranked rating row joined with the username.
type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	UserID        string  `json:"userId"`
	Username      string  `json:"username"`
	Score         int     `json:"rating"`
	MatchesPlayed int     `json:"matchesPlayed"`
	MatchesWon    int     `json:"matchesWon"`
	MatchesLost   int     `json:"matchesLost"`
	MatchesDrawn  int     `json:"matchesDrawn"`
	WinRate       float64 `json:"winRate"`
}
