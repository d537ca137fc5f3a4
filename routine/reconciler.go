package routine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrFutureTask rejects completion toggles on days that have not
	// started yet. The check lives here so the persistence endpoint is
	// covered even when UI disablement is bypassed.
	ErrFutureTask = errors.New("routine: task day is in the future")
	// ErrTaskBusy means a toggle for the same task key is still in
	// flight; the second attempt is rejected rather than interleaved.
	ErrTaskBusy = errors.New("routine: task update already in progress")
	// ErrTaskVanished means the store reported no matching task when
	// the patch was applied.
	ErrTaskVanished = errors.New("routine: task not found in store")
)

// TaskPatcher updates exactly one task's completed flag, addressed by
// routine id and task key. The ok result is false when nothing matched.
type TaskPatcher interface {
	SetTaskCompleted(ctx context.Context, routineID, taskKey string, completed bool) (bool, error)
}

// Reconciler applies completion toggles against an in-memory snapshot of
// active routines: apply optimistically, persist, revert on failure.
// Toggles on different tasks may run concurrently; a per-key guard
// serializes toggles on the same task.
type Reconciler struct {
	store TaskPatcher
	Now   func() time.Time

	mu       sync.Mutex
	routines []Routine
	pending  map[string]bool
}

// NewReconciler builds a reconciler over the given patcher.
func NewReconciler(store TaskPatcher) *Reconciler {
	return &Reconciler{
		store:   store,
		Now:     time.Now,
		pending: make(map[string]bool),
	}
}

// SetSnapshot replaces the in-memory view of active routines.
func (rc *Reconciler) SetSnapshot(routines []Routine) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.routines = cloneRoutines(routines)
}

// Snapshot returns a copy of the current in-memory state.
func (rc *Reconciler) Snapshot() []Routine {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return cloneRoutines(rc.routines)
}

// Toggle sets one task's completed flag. Unknown routine or task keys are
// a no-op. Future-day tasks and tasks with a pending toggle are rejected.
// The snapshot is updated before the store call and restored if the call
// fails.
func (rc *Reconciler) Toggle(ctx context.Context, routineID, taskKey string, completed bool) error {
	rc.mu.Lock()
	ri, ti := rc.locate(routineID, taskKey)
	if ri < 0 {
		rc.mu.Unlock()
		return nil
	}
	r := rc.routines[ri]
	task := r.Tasks[ti]
	if StateOfDay(r.StartDate, effectiveDay(task), rc.Now()) == DayFuture {
		rc.mu.Unlock()
		return ErrFutureTask
	}
	if rc.pending[taskKey] {
		rc.mu.Unlock()
		return ErrTaskBusy
	}
	rc.pending[taskKey] = true
	previous := task.Completed
	rc.routines[ri].Tasks[ti].Completed = completed
	rc.mu.Unlock()

	ok, err := rc.store.SetTaskCompleted(ctx, routineID, taskKey, completed)
	if err == nil && !ok {
		err = ErrTaskVanished
	}

	rc.mu.Lock()
	delete(rc.pending, taskKey)
	if err != nil {
		// Relocate before reverting: the snapshot may have been
		// replaced while the call was outstanding.
		if ri, ti := rc.locate(routineID, taskKey); ri >= 0 {
			rc.routines[ri].Tasks[ti].Completed = previous
		}
	}
	rc.mu.Unlock()

	if err != nil {
		return fmt.Errorf("update task %s: %w", taskKey, err)
	}
	return nil
}

// locate must be called with rc.mu held. Returns (-1, -1) when either the
// routine or the task is absent.
func (rc *Reconciler) locate(routineID, taskKey string) (int, int) {
	for ri, r := range rc.routines {
		if r.ID != routineID {
			continue
		}
		for ti, task := range r.Tasks {
			if task.Key == taskKey {
				return ri, ti
			}
		}
	}
	return -1, -1
}

// effectiveDay mirrors the bucketing rule: non-positive indexes render
// under day 1 and follow day 1's state.
func effectiveDay(task TaskItem) int {
	if task.DayIndex < 1 {
		return 1
	}
	return task.DayIndex
}

func cloneRoutines(routines []Routine) []Routine {
	out := make([]Routine, len(routines))
	for i, r := range routines {
		out[i] = r
		out[i].Tasks = append([]TaskItem(nil), r.Tasks...)
	}
	return out
}
