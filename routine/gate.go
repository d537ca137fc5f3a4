package routine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrOwnerNotFound means the caller has no user record in the store.
	ErrOwnerNotFound = errors.New("routine: owner not found")
	// ErrNoTasks means the routine text yielded zero parseable tasks.
	ErrNoTasks = errors.New("routine: no tasks parsed from content")
	// ErrDuplicateRoutine is returned by stores whose insert hits a
	// uniqueness constraint on (owner, start date). The gate folds it
	// into the AlreadyExists outcome.
	ErrDuplicateRoutine = errors.New("routine: duplicate routine for owner and date")
)

// OwnerResolver maps the identity provider's caller id to the internal
// user document id.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, callerID string) (string, bool, error)
}

// GateStore is the slice of the document store the gate needs: a lookup
// by (owner, start date) and a single atomic insert.
type GateStore interface {
	FindByOwnerAndDate(ctx context.Context, ownerID string, start time.Time) (Routine, bool, error)
	Create(ctx context.Context, r Routine) (string, error)
}

// SaveOutcome distinguishes a fresh insert from the idempotent
// already-exists result. AlreadyExists is not an error; callers must
// branch on it explicitly.
type SaveOutcome int

const (
	OutcomeCreated SaveOutcome = iota
	OutcomeAlreadyExists
)

// SaveResult reports what the gate did.
type SaveResult struct {
	Outcome   SaveOutcome
	RoutineID string
	TaskCount int
}

// Gate enforces at-most-one routine per owner per calendar day and
// performs the create. The existence check and the insert are two store
// round trips, so two concurrent saves for the same owner and day can
// both pass the check; the SQLite store's unique index on
// (owner_id, start_date) is the backstop, reported as AlreadyExists.
type Gate struct {
	Users    OwnerResolver
	Routines GateStore
	Logger   *log.Logger
	Now      func() time.Time
}

// NewGate wires a gate over the given stores.
func NewGate(users OwnerResolver, routines GateStore, logger *log.Logger) *Gate {
	return &Gate{Users: users, Routines: routines, Logger: logger, Now: time.Now}
}

// SaveConfirmed resolves the owner, checks for an existing routine on
// startDate, parses the content and inserts the document. A zero
// startDate defaults to today; a non-positive duration defaults to 1.
func (g *Gate) SaveConfirmed(ctx context.Context, callerID string, startDate time.Time, duration int, content string) (SaveResult, error) {
	ownerID, ok, err := g.Users.ResolveOwner(ctx, callerID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("resolve owner: %w", err)
	}
	if !ok {
		return SaveResult{}, ErrOwnerNotFound
	}

	if startDate.IsZero() {
		startDate = g.now()
	}
	startDate = DateOnly(startDate)
	if duration < 1 {
		duration = 1
	}

	existing, found, err := g.Routines.FindByOwnerAndDate(ctx, ownerID, startDate)
	if err != nil {
		return SaveResult{}, fmt.Errorf("check existing routine: %w", err)
	}
	if found {
		g.logf("routine %s already exists for owner %s on %s", existing.ID, ownerID, startDate.Format(time.DateOnly))
		return SaveResult{Outcome: OutcomeAlreadyExists, RoutineID: existing.ID, TaskCount: len(existing.Tasks)}, nil
	}

	tasks := ParseTasks(content)
	if len(tasks) == 0 {
		return SaveResult{}, ErrNoTasks
	}
	for i := range tasks {
		tasks[i].Key = uuid.NewString()
	}

	id, err := g.Routines.Create(ctx, Routine{
		OwnerID:     ownerID,
		StartDate:   startDate,
		Duration:    duration,
		Tasks:       tasks,
		GeneratedAt: g.now(),
	})
	if errors.Is(err, ErrDuplicateRoutine) {
		// A concurrent save won the race between our existence check
		// and the insert.
		g.logf("concurrent save detected for owner %s on %s", ownerID, startDate.Format(time.DateOnly))
		return SaveResult{Outcome: OutcomeAlreadyExists}, nil
	}
	if err != nil {
		return SaveResult{}, fmt.Errorf("create routine: %w", err)
	}
	g.logf("saved routine %s for owner %s duration %d tasks %d", id, ownerID, duration, len(tasks))
	return SaveResult{Outcome: OutcomeCreated, RoutineID: id, TaskCount: len(tasks)}, nil
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gate) logf(format string, args ...interface{}) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}
