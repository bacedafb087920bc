package repository

import (
	"database/sql"
	"fmt"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

type TaskRepository struct {
	db *database.DB
}

func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) SubjectExists(subjectID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)`
	if err := r.db.QueryRow(query, subjectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check subject: %w", err)
	}
	return exists, nil
}

func (r *TaskRepository) FindSubject(subjectID string) (*models.Subject, error) {
	query := `SELECT id, name FROM subjects WHERE id = $1`

	subject := &models.Subject{}
	err := r.db.QueryRow(query, subjectID).Scan(&subject.ID, &subject.Name)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find subject: %w", err)
	}

	return subject, nil
}

func (r *TaskRepository) FindByID(id string) (*models.Task, error) {
	query := `
		SELECT id, subject_id, name, description, answer, difficulty
		FROM tasks
		WHERE id = $1
	`

	task := &models.Task{}
	err := r.db.QueryRow(query, id).Scan(
		&task.ID,
		&task.SubjectID,
		&task.Name,
		&task.Description,
		&task.Answer,
		&task.Difficulty,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	return task, nil
}

// CountForSubject reports the size of a subject's task pool.
func (r *TaskRepository) CountForSubject(subjectID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM tasks WHERE subject_id = $1`
	if err := r.db.QueryRow(query, subjectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// MarkSolved records a task in the user's personal solved set.
// Repeated solves are ignored.
func (r *TaskRepository) MarkSolved(userID, taskID string) error {
	query := `
		INSERT INTO user_solved_tasks (user_id, task_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, task_id) DO NOTHING
	`
	_, err := r.db.Exec(query, userID, taskID)
	return err
}
