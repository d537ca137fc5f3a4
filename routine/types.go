package routine

import "time"

// TaskItem is one actionable item inside a routine. Tasks are created in
// bulk when the routine is persisted; only Completed mutates afterwards.
type TaskItem struct {
	Key         string `json:"key"`
	DayIndex    int    `json:"dayIndex"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Routine is a multi-day self-care schedule owned by one user. StartDate
// and Duration are immutable once the document is created.
type Routine struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	StartDate   time.Time  `json:"startDate"`
	Duration    int        `json:"duration"`
	Insight     string     `json:"insight,omitempty"`
	Tasks       []TaskItem `json:"tasks"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// DayState classifies a routine day relative to the current date.
type DayState int

const (
	DayPast DayState = iota
	DayToday
	DayFuture
)

func (s DayState) String() string {
	switch s {
	case DayToday:
		return "today"
	case DayFuture:
		return "future"
	default:
		return "past"
	}
}

// DateOnly truncates a timestamp to its calendar date in UTC. All date
// comparisons in this package operate on the result.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from start to today.
// Positive when today is after start.
func DaysBetween(today, start time.Time) int {
	return int(DateOnly(today).Sub(DateOnly(start)).Hours() / 24)
}
