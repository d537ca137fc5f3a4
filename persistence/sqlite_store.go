package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/mindwell/routine"
)

const timestampLayout = time.RFC3339Nano

// SQLiteStore persists users, routines, tasks and analyses in a SQLite
// database. Tasks live in their own table keyed by (routine_id, key), so
// a single-task patch is one UPDATE rather than a document rewrite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		auth_id TEXT NOT NULL UNIQUE,
		name TEXT,
		email TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS routines (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		duration INTEGER NOT NULL,
		insight TEXT,
		generated_at TEXT NOT NULL,
		FOREIGN KEY(owner_id) REFERENCES users(id),
		UNIQUE(owner_id, start_date)
	);
	CREATE TABLE IF NOT EXISTS tasks (
		routine_id TEXT NOT NULL,
		key TEXT NOT NULL,
		day_index INTEGER NOT NULL,
		description TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		PRIMARY KEY(routine_id, key),
		FOREIGN KEY(routine_id) REFERENCES routines(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		emotional_state TEXT,
		key_topics TEXT,
		notable_patterns TEXT,
		analysis_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY(owner_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_owner_date ON analyses(owner_id, analysis_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateUser inserts a user record, assigning an id when absent.
func (s *SQLiteStore) CreateUser(ctx context.Context, u User) (string, error) {
	if u.AuthID == "" {
		return "", errors.New("auth id required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, auth_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.AuthID, u.Name, u.Email, u.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return u.ID, nil
}

// FindUserByAuthID looks a user up by the identity provider's id.
func (s *SQLiteStore) FindUserByAuthID(ctx context.Context, authID string) (User, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, auth_id, name, email, created_at FROM users WHERE auth_id = ?`, authID)
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.AuthID, &u.Name, &u.Email, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	createdAt, err := time.Parse(timestampLayout, created)
	if err != nil {
		return User{}, false, err
	}
	u.CreatedAt = createdAt
	return u, true, nil
}

// ResolveOwner maps an auth id to the internal user id.
func (s *SQLiteStore) ResolveOwner(ctx context.Context, authID string) (string, bool, error) {
	u, ok, err := s.FindUserByAuthID(ctx, authID)
	return u.ID, ok, err
}

// Create inserts the routine and its tasks in one transaction. A unique
// constraint hit on (owner_id, start_date) surfaces as
// routine.ErrDuplicateRoutine so the gate can fold it into the
// already-exists outcome.
func (s *SQLiteStore) Create(ctx context.Context, r routine.Routine) (string, error) {
	if r.OwnerID == "" {
		return "", errors.New("owner id required")
	}
	r.ID = uuid.NewString()
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO routines (id, owner_id, start_date, duration, insight, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, routine.DateOnly(r.StartDate).Format(time.DateOnly),
		r.Duration, r.Insight, r.GeneratedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return "", routine.ErrDuplicateRoutine
		}
		return "", fmt.Errorf("insert routine: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (routine_id, key, day_index, description, completed, position)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	defer stmt.Close()
	for i, task := range r.Tasks {
		if _, err := stmt.ExecContext(ctx, r.ID, task.Key, task.DayIndex, task.Description, boolInt(task.Completed), i); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("insert task %s: %w", task.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return r.ID, nil
}

// FindByOwnerAndDate returns the routine starting on the given date,
// tasks included.
func (s *SQLiteStore) FindByOwnerAndDate(ctx context.Context, ownerID string, start time.Time) (routine.Routine, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, start_date, duration, insight, generated_at
		FROM routines WHERE owner_id = ? AND start_date = ?`,
		ownerID, routine.DateOnly(start).Format(time.DateOnly))
	r, err := scanRoutine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return routine.Routine{}, false, nil
		}
		return routine.Routine{}, false, err
	}
	if err := s.loadTasks(ctx, &r); err != nil {
		return routine.Routine{}, false, err
	}
	return r, true, nil
}

// ListSince returns the owner's routines with a start date on or after
// since, newest first, tasks included.
func (s *SQLiteStore) ListSince(ctx context.Context, ownerID string, since time.Time) ([]routine.Routine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, start_date, duration, insight, generated_at
		FROM routines WHERE owner_id = ? AND start_date >= ?
		ORDER BY start_date DESC`,
		ownerID, routine.DateOnly(since).Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]routine.Routine, 0)
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadTasks(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Owner reports which user a routine belongs to.
func (s *SQLiteStore) Owner(ctx context.Context, routineID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner_id FROM routines WHERE id = ?`, routineID)
	var ownerID string
	if err := row.Scan(&ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return ownerID, true, nil
}

// SetTaskCompleted patches exactly one task's completed flag.
func (s *SQLiteStore) SetTaskCompleted(ctx context.Context, routineID, taskKey string, completed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ? WHERE routine_id = ? AND key = ?`,
		boolInt(completed), routineID, taskKey)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateAnalysis records a daily analysis; topics and patterns are kept
// as joined text.
func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a Analysis) (string, error) {
	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, owner_id, emotional_state, key_topics, notable_patterns, analysis_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.EmotionalState,
		joinList(a.KeyTopics), joinList(a.NotablePatterns),
		routine.DateOnly(a.CreatedAt).Format(time.DateOnly),
		a.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return a.ID, nil
}

// AnalysisExistsOn reports whether an analysis was recorded for the
// owner on the given calendar day.
func (s *SQLiteStore) AnalysisExistsOn(ctx context.Context, ownerID string, day time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE owner_id = ? AND analysis_date = ?`,
		ownerID, routine.DateOnly(day).Format(time.DateOnly))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteStore) loadTasks(ctx context.Context, r *routine.Routine) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, day_index, description, completed
		FROM tasks WHERE routine_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	tasks := make([]routine.TaskItem, 0)
	for rows.Next() {
		var task routine.TaskItem
		var completed int
		if err := rows.Scan(&task.Key, &task.DayIndex, &task.Description, &completed); err != nil {
			return err
		}
		task.Completed = completed == 1
		tasks = append(tasks, task)
	}
	r.Tasks = tasks
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoutine(s scanner) (routine.Routine, error) {
	var r routine.Routine
	var start, generated string
	var insight sql.NullString
	if err := s.Scan(&r.ID, &r.OwnerID, &start, &r.Duration, &insight, &generated); err != nil {
		return routine.Routine{}, err
	}
	startDate, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return routine.Routine{}, err
	}
	generatedAt, err := time.Parse(timestampLayout, generated)
	if err != nil {
		return routine.Routine{}, err
	}
	r.StartDate = startDate
	r.GeneratedAt = generatedAt
	r.Insight = insight.String
	return r, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func joinList(items []string) string {
	return strings.Join(items, "\n")
}
