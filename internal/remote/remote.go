// Package remote talks to the authoritative habit store. Every implementation
// scopes habits by user id and treats completion writes as idempotent.
package remote

import (
	"context"

	"github.com/julianstephens/habitgarden/internal/models"
)

// Store is the remote backend contract
type Store interface {
	Ping(ctx context.Context) error

	ListHabits(ctx context.Context, userID string) ([]models.Habit, error)
	ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error)

	InsertHabit(ctx context.Context, h models.Habit) error
	// UpdateHabit returns errors.ErrHabitNotFound when no row matches
	// the habit's id and user.
	UpdateHabit(ctx context.Context, h models.Habit) error
	DeleteHabit(ctx context.Context, userID, habitID string) error

	// InsertCompletion succeeds if the row already exists
	InsertCompletion(ctx context.Context, habitID, day string) error
	// DeleteCompletion succeeds if the row does not exist
	DeleteCompletion(ctx context.Context, habitID, day string) error

	Close() error
}
