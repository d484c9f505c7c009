package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	pq "github.com/lib/pq"

	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/errors"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/migration"
	"github.com/julianstephens/habitgarden/internal/models"
)

var (
	ErrInvalidConnectionString = stderrors.New("invalid PostgreSQL connection string")
	ErrEmbeddedCredentials     = stderrors.New("connection string must not contain a password")
)

// PostgresStore is the shared remote backend
type PostgresStore struct {
	connStr string
	db      *sql.DB
}

// OpenPostgres connects to connStr, creates the application schema and
// applies the embedded migrations. The initial connection is retried with
// exponential backoff until ctx is done.
func OpenPostgres(ctx context.Context, connStr string) (*PostgresStore, error) {
	s := &PostgresStore{connStr: WithSearchPath(connStr, constants.AppName)}

	db, err := sql.Open("postgres", s.connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, b, func(err error, wait time.Duration) {
		logger.Warn("Remote not reachable, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		db.Close()
		if strings.Contains(err.Error(), "SSL is not enabled on the server") && !hasSSLMode(s.connStr) {
			return nil, fmt.Errorf("failed to connect to database: %w (hint: try adding ?sslmode=disable to your connection string)", err)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+constants.AppName); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := migration.Apply(ctx, db, migration.RemotePostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = db
	return s, nil
}

// WithSearchPath pins the connection's search_path to schema unless the
// connection string already sets one. Both URL and key=value forms are handled.
func WithSearchPath(connStr, schema string) string {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			logger.Warn("Failed to parse Postgres connection string", "error", err)
			return connStr
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", schema)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}

	if hasParam(connStr, "search_path") {
		return connStr
	}
	return strings.TrimSpace(connStr) + " search_path=" + schema
}

// hasParam reports whether a key=value style connection string sets key
func hasParam(connStr, key string) bool {
	for _, part := range strings.Fields(connStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], key) {
			return true
		}
	}
	return false
}

func hasSSLMode(connStr string) bool {
	if u, err := url.Parse(connStr); err == nil && u.Scheme != "" {
		for key := range u.Query() {
			if strings.EqualFold(key, "sslmode") {
				return true
			}
		}
	}
	return hasParam(connStr, "sslmode")
}

// ValidateConnString checks that connStr is a usable PostgreSQL connection
// string (URL or key=value) and that it carries no password. Passwords belong
// in the OS keyring or the environment, never in a config file.
func ValidateConnString(connStr string) error {
	if strings.TrimSpace(connStr) == "" {
		return fmt.Errorf("%w: connection string cannot be empty", ErrInvalidConnectionString)
	}

	if _, err := pq.NewConnector(connStr); err != nil {
		return fmt.Errorf("%w: invalid connection string format: %v", ErrInvalidConnectionString, err)
	}

	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return fmt.Errorf("%w: failed to parse connection URL: %v", ErrInvalidConnectionString, err)
		}
		if _, isSet := u.User.Password(); isSet {
			return ErrEmbeddedCredentials
		}
		if u.Host == "" && u.User == nil && (u.Path == "" || u.Path == "/") {
			return fmt.Errorf("%w: connection URL is incomplete", ErrInvalidConnectionString)
		}
		return nil
	}

	if hasParam(connStr, "password") {
		return ErrEmbeddedCredentials
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, frequency, plant, created_at, updated_at
		FROM habits
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var habits []models.Habit
	for rows.Next() {
		var h models.Habit
		var frequency, plant string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Title, &h.Description, &frequency, &plant, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		h.Frequency = models.Frequency(frequency)
		h.Plant = models.Plant(plant)
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habits: %w", err)
	}
	return habits, nil
}

func (s *PostgresStore) ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error) {
	if len(habitIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT habit_id, to_char(day, 'YYYY-MM-DD')
		FROM habit_completions
		WHERE habit_id = ANY($1)
		ORDER BY habit_id, day`, pq.Array(habitIDs))
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

func (s *PostgresStore) InsertHabit(ctx context.Context, h models.Habit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits (id, user_id, title, description, frequency, plant, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.UserID, h.Title, h.Description, string(h.Frequency), string(h.Plant), h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert habit: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE habits SET title = $1, description = $2, frequency = $3, plant = $4, updated_at = $5
		WHERE id = $6 AND user_id = $7`,
		h.Title, h.Description, string(h.Frequency), string(h.Plant), h.UpdatedAt, h.ID, h.UserID)
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

func (s *PostgresStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM habits WHERE id = $1 AND user_id = $2", habitID, userID); err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCompletion(ctx context.Context, habitID, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_completions (habit_id, day) VALUES ($1, $2::date)
		ON CONFLICT (habit_id, day) DO NOTHING`, habitID, day)
	if err != nil {
		return fmt.Errorf("failed to insert completion: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompletion(ctx context.Context, habitID, day string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM habit_completions WHERE habit_id = $1 AND day = $2::date", habitID, day); err != nil {
		return fmt.Errorf("failed to delete completion: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
