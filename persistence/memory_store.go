package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/mindwell/routine"
)

// MemoryStore keeps every collection in process memory. It backs tests
// and local development where a database file is unwelcome.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	routines map[string]routine.Routine
	analyses map[string]Analysis
}

// NewMemoryStore returns a ready-to-use store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		routines: make(map[string]routine.Routine),
		analyses: make(map[string]Analysis),
	}
}

// CreateUser stores a user record, assigning an id when absent.
func (s *MemoryStore) CreateUser(ctx context.Context, u User) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	if u.AuthID == "" {
		return "", errors.New("auth id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// FindUserByAuthID looks a user up by the identity provider's id.
func (s *MemoryStore) FindUserByAuthID(ctx context.Context, authID string) (User, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.AuthID == authID {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

// ResolveOwner maps an auth id to the internal user id.
func (s *MemoryStore) ResolveOwner(ctx context.Context, authID string) (string, bool, error) {
	u, ok, err := s.FindUserByAuthID(ctx, authID)
	return u.ID, ok, err
}

// Create inserts a routine document, enforcing the unique
// (owner, start date) constraint the SQLite schema carries.
func (s *MemoryStore) Create(ctx context.Context, r routine.Routine) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := routine.DateOnly(r.StartDate)
	for _, existing := range s.routines {
		if existing.OwnerID == r.OwnerID && existing.StartDate.Equal(start) {
			return "", routine.ErrDuplicateRoutine
		}
	}
	r.ID = uuid.NewString()
	r.StartDate = start
	r.Tasks = append([]routine.TaskItem(nil), r.Tasks...)
	s.routines[r.ID] = r
	return r.ID, nil
}

// FindByOwnerAndDate returns the routine starting on the given date.
func (s *MemoryStore) FindByOwnerAndDate(ctx context.Context, ownerID string, start time.Time) (routine.Routine, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return routine.Routine{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start = routine.DateOnly(start)
	for _, r := range s.routines {
		if r.OwnerID == ownerID && r.StartDate.Equal(start) {
			return copyRoutine(r), true, nil
		}
	}
	return routine.Routine{}, false, nil
}

// ListSince returns the owner's routines with a start date on or after
// since, newest first.
func (s *MemoryStore) ListSince(ctx context.Context, ownerID string, since time.Time) ([]routine.Routine, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	since = routine.DateOnly(since)
	out := make([]routine.Routine, 0)
	for _, r := range s.routines {
		if r.OwnerID == ownerID && !r.StartDate.Before(since) {
			out = append(out, copyRoutine(r))
		}
	}
	sortByStartDateDesc(out)
	return out, nil
}

// Owner reports which user a routine belongs to.
func (s *MemoryStore) Owner(ctx context.Context, routineID string) (string, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routines[routineID]
	if !ok {
		return "", false, nil
	}
	return r.OwnerID, true, nil
}

// SetTaskCompleted patches one task's completed flag in place.
func (s *MemoryStore) SetTaskCompleted(ctx context.Context, routineID, taskKey string, completed bool) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[routineID]
	if !ok {
		return false, nil
	}
	for i := range r.Tasks {
		if r.Tasks[i].Key == taskKey {
			r.Tasks[i].Completed = completed
			s.routines[routineID] = r
			return true, nil
		}
	}
	return false, nil
}

// CreateAnalysis stores a daily analysis record.
func (s *MemoryStore) CreateAnalysis(ctx context.Context, a Analysis) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.analyses[a.ID] = a
	return a.ID, nil
}

// AnalysisExistsOn reports whether an analysis was recorded for the
// owner on the given calendar day.
func (s *MemoryStore) AnalysisExistsOn(ctx context.Context, ownerID string, day time.Time) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	day = routine.DateOnly(day)
	for _, a := range s.analyses {
		if a.OwnerID == ownerID && routine.DateOnly(a.CreatedAt).Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func copyRoutine(r routine.Routine) routine.Routine {
	r.Tasks = append([]routine.TaskItem(nil), r.Tasks...)
	return r
}

func sortByStartDateDesc(routines []routine.Routine) {
	for i := 0; i < len(routines)-1; i++ {
		for j := i + 1; j < len(routines); j++ {
			if routines[j].StartDate.After(routines[i].StartDate) {
				routines[i], routines[j] = routines[j], routines[i]
			}
		}
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
