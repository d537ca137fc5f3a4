package routine

import (
	"regexp"
	"strconv"
	"strings"
)

// Day headers look like "Day 3:" with optional markdown emphasis around
// them. Bullet lines start with "*", "-" or "•".
var (
	dayHeaderRe    = regexp.MustCompile(`(?i)^\*{0,2}Day\s*(\d+):`)
	bulletPrefixRe = regexp.MustCompile(`^[*\-•]\s*`)
)

// ParseTasks scans free-form routine text and returns task drafts in the
// order they appear. A draft belongs to the nearest preceding "Day N:"
// header; bullets before any header and empty descriptions are dropped.
// Unrecognized lines are ignored, so malformed input degrades to an empty
// slice rather than an error — the persistence gate decides whether that
// is acceptable.
func ParseTasks(content string) []TaskItem {
	var tasks []TaskItem
	currentDay := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := dayHeaderRe.FindStringSubmatch(line); m != nil {
			day, err := strconv.Atoi(m[1])
			if err == nil {
				currentDay = day
			}
			continue
		}
		if currentDay > 0 && (strings.HasPrefix(line, "*") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•")) {
			description := strings.TrimSpace(bulletPrefixRe.ReplaceAllString(line, ""))
			if description == "" {
				continue
			}
			tasks = append(tasks, TaskItem{
				DayIndex:    currentDay,
				Description: description,
			})
		}
	}
	return tasks
}
