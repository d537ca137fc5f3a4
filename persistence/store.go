// Package persistence holds the document-store contracts the core logic
// is written against, plus SQLite and in-memory implementations.
package persistence

import (
	"context"
	"time"

	"github.com/lexcodex/mindwell/routine"
)

// User is the internal user record the identity provider's caller id
// resolves to.
type User struct {
	ID        string    `json:"id"`
	AuthID    string    `json:"authId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Analysis is one persisted chat sentiment analysis. At most one is
// recorded per user per calendar day; the day is derived from CreatedAt.
type Analysis struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	EmotionalState  string    `json:"emotionalState"`
	KeyTopics       []string  `json:"keyTopics"`
	NotablePatterns []string  `json:"notablePatterns"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UserStore resolves and manages user records.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (string, error)
	FindUserByAuthID(ctx context.Context, authID string) (User, bool, error)
	ResolveOwner(ctx context.Context, authID string) (string, bool, error)
}

// RoutineStore is the routine document collection. Create assigns the
// document id and persists the routine with its tasks as one atomic
// insert; SetTaskCompleted patches a single task's completed flag
// addressed by (routine id, task key) and reports whether anything
// matched.
type RoutineStore interface {
	Create(ctx context.Context, r routine.Routine) (string, error)
	FindByOwnerAndDate(ctx context.Context, ownerID string, start time.Time) (routine.Routine, bool, error)
	ListSince(ctx context.Context, ownerID string, since time.Time) ([]routine.Routine, error)
	Owner(ctx context.Context, routineID string) (string, bool, error)
	SetTaskCompleted(ctx context.Context, routineID, taskKey string, completed bool) (bool, error)
}

// AnalysisStore records daily chat analyses.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, a Analysis) (string, error)
	AnalysisExistsOn(ctx context.Context, ownerID string, day time.Time) (bool, error)
}

// Store is the full document-store surface the service needs.
type Store interface {
	UserStore
	RoutineStore
	AnalysisStore
}
