package remote

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/julianstephens/habitgarden/internal/errors"
	"github.com/julianstephens/habitgarden/internal/migration"
	"github.com/julianstephens/habitgarden/internal/models"
)

// SQLiteStore is a file-backed remote, used for single-machine setups and
// development.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := migration.Apply(context.Background(), db, migration.RemoteSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, frequency, plant, created_at, updated_at
		FROM habits
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var habits []models.Habit
	for rows.Next() {
		var h models.Habit
		var frequency, plant, createdAt, updatedAt string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Title, &h.Description, &frequency, &plant, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		h.Frequency = models.Frequency(frequency)
		h.Plant = models.Plant(plant)
		if h.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at for %s: %w", h.ID, err)
		}
		if h.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for %s: %w", h.ID, err)
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habits: %w", err)
	}
	return habits, nil
}

func (s *SQLiteStore) ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error) {
	if len(habitIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(habitIDs)), ",")
	args := make([]any, len(habitIDs))
	for i, id := range habitIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT habit_id, day FROM habit_completions WHERE habit_id IN ("+placeholders+") ORDER BY habit_id, day",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []models.Completion
	for rows.Next() {
		var c models.Completion
		if err := rows.Scan(&c.HabitID, &c.Day); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertHabit(ctx context.Context, h models.Habit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits (id, user_id, title, description, frequency, plant, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.UserID, h.Title, h.Description, string(h.Frequency), string(h.Plant),
		h.CreatedAt.UTC().Format(time.RFC3339Nano), h.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert habit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE habits SET title = ?, description = ?, frequency = ?, plant = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		h.Title, h.Description, string(h.Frequency), string(h.Plant),
		h.UpdatedAt.UTC().Format(time.RFC3339Nano), h.ID, h.UserID)
	if err != nil {
		return fmt.Errorf("failed to update habit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrHabitNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	// Completions go with the habit via ON DELETE CASCADE
	if _, err := s.db.ExecContext(ctx, "DELETE FROM habits WHERE id = ? AND user_id = ?", habitID, userID); err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertCompletion(ctx context.Context, habitID, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_completions (habit_id, day, created_at) VALUES (?, ?, ?)
		ON CONFLICT(habit_id, day) DO NOTHING`,
		habitID, day, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCompletion(ctx context.Context, habitID, day string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM habit_completions WHERE habit_id = ? AND day = ?", habitID, day); err != nil {
		return fmt.Errorf("failed to delete completion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
