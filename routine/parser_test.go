package routine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTasksMultiDay(t *testing.T) {
	content := "**Day 1:**\n* Drink water\n**Day 2:**\n* Walk 10 min\n* Journal"
	tasks := ParseTasks(content)

	assert.Len(t, tasks, 3)
	assert.Equal(t, 1, tasks[0].DayIndex)
	assert.Equal(t, "Drink water", tasks[0].Description)
	assert.Equal(t, 2, tasks[1].DayIndex)
	assert.Equal(t, "Walk 10 min", tasks[1].Description)
	assert.Equal(t, 2, tasks[2].DayIndex)
	assert.Equal(t, "Journal", tasks[2].Description)
	for _, task := range tasks {
		assert.False(t, task.Completed)
		assert.Empty(t, task.Key, "keys are assigned at persistence time")
	}
}

func TestParseTasksEdgeCases(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []TaskItem
	}{
		{
			name:    "empty input",
			content: "",
			want:    nil,
		},
		{
			name:    "bullets without any header are dropped",
			content: "* floats free\n- also free",
			want:    nil,
		},
		{
			name:    "headers without bullets yield nothing",
			content: "Day 1:\nDay 2:",
			want:    nil,
		},
		{
			name:    "plain header without emphasis",
			content: "Day 3:\n- Stretch",
			want:    []TaskItem{{DayIndex: 3, Description: "Stretch"}},
		},
		{
			name:    "case insensitive header",
			content: "day 2:\n* Breathe",
			want:    []TaskItem{{DayIndex: 2, Description: "Breathe"}},
		},
		{
			name:    "dash bullets",
			content: "**Day 1:**\n- Meditate\n- Read",
			want: []TaskItem{
				{DayIndex: 1, Description: "Meditate"},
				{DayIndex: 1, Description: "Read"},
			},
		},
		{
			name:    "unicode bullets",
			content: "Day 1:\n• Hydrate\n• Rest",
			want: []TaskItem{
				{DayIndex: 1, Description: "Hydrate"},
				{DayIndex: 1, Description: "Rest"},
			},
		},
		{
			name:    "empty bullet is skipped",
			content: "Day 1:\n*   \n* Real task",
			want:    []TaskItem{{DayIndex: 1, Description: "Real task"}},
		},
		{
			name:    "prose between tasks is ignored",
			content: "Day 1:\nHere is your plan.\n* Sleep early",
			want:    []TaskItem{{DayIndex: 1, Description: "Sleep early"}},
		},
		{
			name:    "out of order headers kept as parsed",
			content: "Day 2:\n* Later\nDay 1:\n* Earlier",
			want: []TaskItem{
				{DayIndex: 2, Description: "Later"},
				{DayIndex: 1, Description: "Earlier"},
			},
		},
		{
			name:    "duplicate header reopens the day",
			content: "Day 1:\n* One\nDay 2:\n* Two\nDay 1:\n* Three",
			want: []TaskItem{
				{DayIndex: 1, Description: "One"},
				{DayIndex: 2, Description: "Two"},
				{DayIndex: 1, Description: "Three"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseTasks(tc.content))
		})
	}
}

func TestParseTasksCountMatchesBullets(t *testing.T) {
	content := "Day 1:\n* a\n* b\nDay 2:\n* c\nDay 3:\n* d\n* e\n* f"
	tasks := ParseTasks(content)
	assert.Len(t, tasks, 6)
	byDay := BucketByDay(tasks)
	assert.Len(t, byDay[1], 2)
	assert.Len(t, byDay[2], 1)
	assert.Len(t, byDay[3], 3)
}
