package models

import "strings"

type Subject struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type TaskDifficulty string

const (
	TaskDifficultyEasy   TaskDifficulty = "easy"
	TaskDifficultyMedium TaskDifficulty = "medium"
	TaskDifficultyHard   TaskDifficulty = "hard"
)

type Task struct {
	ID          string         `json:"id" db:"id"`
	SubjectID   string         `json:"subjectId" db:"subject_id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Answer      string         `json:"-" db:"answer"` // never sent to clients
	Difficulty  TaskDifficulty `json:"difficulty" db:"difficulty"`
}

// CheckAnswer compares a submitted answer with the reference one,
// ignoring surrounding whitespace and letter case.
func (t *Task) CheckAnswer(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(t.Answer))
}
