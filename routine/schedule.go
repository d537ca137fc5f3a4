package routine

import "time"

// IsActive reports whether today falls inside the routine's date window:
// startDate <= today < startDate + duration days.
func IsActive(r Routine, today time.Time) bool {
	duration := r.Duration
	if duration < 1 {
		duration = 1
	}
	passed := DaysBetween(today, r.StartDate)
	return passed >= 0 && passed < duration
}

// ActiveRoutines filters the fetched list down to routines whose window
// contains today. The input is typically pre-filtered by the store query
// to a trailing window for efficiency; this applies the real predicate.
func ActiveRoutines(fetched []Routine, today time.Time) []Routine {
	active := make([]Routine, 0, len(fetched))
	for _, r := range fetched {
		if IsActive(r, today) {
			active = append(active, r)
		}
	}
	return active
}

// BucketByDay groups tasks by their day index. Tasks with a missing or
// non-positive index land in the day-1 bucket.
func BucketByDay(tasks []TaskItem) map[int][]TaskItem {
	buckets := make(map[int][]TaskItem)
	for _, task := range tasks {
		day := task.DayIndex
		if day < 1 {
			day = 1
		}
		buckets[day] = append(buckets[day], task)
	}
	return buckets
}

// DayDate returns the calendar date a 1-based day index maps to.
func DayDate(start time.Time, dayIndex int) time.Time {
	return DateOnly(start).AddDate(0, 0, dayIndex-1)
}

// StateOfDay classifies a routine day as past, today or future. Future
// days are read-only; the reconciler enforces that, not just the display.
func StateOfDay(start time.Time, dayIndex int, today time.Time) DayState {
	date := DayDate(start, dayIndex)
	switch t := DateOnly(today); {
	case t.Before(date):
		return DayFuture
	case t.Equal(date):
		return DayToday
	default:
		return DayPast
	}
}

// DayView is one rendered day of an active routine.
type DayView struct {
	Index int        `json:"index"`
	Date  time.Time  `json:"date"`
	State DayState   `json:"state"`
	Tasks []TaskItem `json:"tasks"`
}

// Days derives the per-day view for a routine: one entry per day of the
// duration, each carrying its display date, state and bucketed tasks.
// The computation is pure; callers re-derive it whenever the routine list
// or today changes.
func Days(r Routine, today time.Time) []DayView {
	duration := r.Duration
	if duration < 1 {
		duration = 1
	}
	buckets := BucketByDay(r.Tasks)
	views := make([]DayView, 0, duration)
	for day := 1; day <= duration; day++ {
		views = append(views, DayView{
			Index: day,
			Date:  DayDate(r.StartDate, day),
			State: StateOfDay(r.StartDate, day, today),
			Tasks: buckets[day],
		})
	}
	return views
}
