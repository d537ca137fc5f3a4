package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mindwell/chat"
	"github.com/lexcodex/mindwell/llm"
	"github.com/lexcodex/mindwell/persistence"
	"github.com/lexcodex/mindwell/routine"
)

const analysisReply = `Analysis:
Emotional State:
* Calm

Key Topics:
* Morning walks

Notable Patterns:
* Consistent check-ins
`

type stubModel struct{}

func (stubModel) Generate(context.Context, string, *llm.Options) (*llm.Response, error) {
	return &llm.Response{Text: analysisReply, FinishReason: "stop"}, nil
}

func (stubModel) Chat(context.Context, []llm.Message, *llm.Options) (*llm.Response, error) {
	return &llm.Response{Text: "ok"}, nil
}

func (stubModel) ChatStream(context.Context, []llm.Message, *llm.Options) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

type testEnv struct {
	api     *APIServer
	store   *persistence.MemoryStore
	ownerID string
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := persistence.NewMemoryStore()
	ownerID, err := store.CreateUser(context.Background(), persistence.User{AuthID: "auth-1", Name: "Sam"})
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	now := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

	gate := routine.NewGate(store, store, logger)
	gate.Now = func() time.Time { return now }
	analyzer := chat.NewAnalyzer(stubModel{}, store, logger)
	analyzer.Now = func() time.Time { return now }

	api := NewAPIServer(store, gate, analyzer, logger)
	api.Now = func() time.Time { return now }

	env := &testEnv{api: api, store: store, ownerID: ownerID, now: now}
	return env
}

// setNow moves every clock in the environment at once.
func (e *testEnv) setNow(now time.Time) {
	e.now = now
	e.api.Now = func() time.Time { return now }
	e.api.Gate.Now = func() time.Time { return now }
	e.api.Analyzer.Now = func() time.Time { return now }
}

func (e *testEnv) request(t *testing.T, method, target, authID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if authID != "" {
		req.Header.Set("X-Auth-Id", authID)
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const routineContent = "**Day 1:**\n* Drink water\n* Journal\n**Day 2:**\n* Walk 10 min"

func TestSaveRoutine(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/save-routine", "auth-1",
		map[string]interface{}{"routineContent": routineContent, "duration": 2})
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["routineId"])

	// Saving again the same day reports the existing routine.
	rec = env.request(t, http.MethodPost, "/api/save-routine", "auth-1",
		map[string]interface{}{"routineContent": routineContent, "duration": 2})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["routineExists"])
}

func TestSaveRoutineErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/save-routine", "",
		map[string]interface{}{"routineContent": routineContent, "duration": 2})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/save-routine", "auth-unknown",
		map[string]interface{}{"routineContent": routineContent, "duration": 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/save-routine", "auth-1",
		map[string]interface{}{"routineContent": "", "duration": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/save-routine", "auth-1",
		map[string]interface{}{"routineContent": "just some chatter, no plan", "duration": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "content without tasks is a validation error")

	rec = env.request(t, http.MethodGet, "/api/save-routine", "auth-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// saveAndFetch creates a routine through the API and returns the stored document.
func saveAndFetch(t *testing.T, env *testEnv, duration int) routine.Routine {
	t.Helper()
	rec := env.request(t, http.MethodPost, "/api/save-routine", "auth-1",
		map[string]interface{}{"routineContent": routineContent, "duration": duration})
	require.Equal(t, http.StatusCreated, rec.Code)

	r, found, err := env.store.FindByOwnerAndDate(context.Background(), env.ownerID, env.now)
	require.NoError(t, err)
	require.True(t, found)
	return r
}

func taskForDay(t *testing.T, r routine.Routine, day int) routine.TaskItem {
	t.Helper()
	for _, task := range r.Tasks {
		if task.DayIndex == day {
			return task
		}
	}
	t.Fatalf("no task for day %d", day)
	return routine.TaskItem{}
}

func TestUpdateTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	r := saveAndFetch(t, env, 2)
	task := taskForDay(t, r, 1)

	rec := env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, _, err := env.store.FindByOwnerAndDate(context.Background(), env.ownerID, env.now)
	require.NoError(t, err)
	assert.True(t, taskForDay(t, stored, 1).Completed)

	// Untoggle works too.
	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": false})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateTaskStatusRejectsFutureDay(t *testing.T) {
	env := newTestEnv(t)
	r := saveAndFetch(t, env, 2)
	task := taskForDay(t, r, 2)

	rec := env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "day 2 has not started on the start date")

	// The next day the same task is toggleable.
	env.setNow(env.now.AddDate(0, 0, 1))
	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateTaskStatusAccessControl(t *testing.T) {
	env := newTestEnv(t)
	r := saveAndFetch(t, env, 2)
	task := taskForDay(t, r, 1)

	_, err := env.store.CreateUser(context.Background(), persistence.User{AuthID: "auth-2", Name: "Alex"})
	require.NoError(t, err)

	rec := env.request(t, http.MethodPost, "/api/update-task-status", "",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Someone else's routine is indistinguishable from a missing one.
	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-2",
		map[string]interface{}{"routineId": r.ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": "no-such-routine", "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": r.ID, "taskKey": "no-such-task", "completed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": "", "taskKey": "", "completed": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRoutines(t *testing.T) {
	env := newTestEnv(t)
	saveAndFetch(t, env, 2)

	rec := env.request(t, http.MethodGet, "/api/routines", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Routines []routine.Routine `json:"routines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Routines, 1)
	assert.Len(t, resp.Routines[0].Tasks, 3)

	since := env.now.AddDate(0, 0, 1).Format(time.DateOnly)
	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/routines?since=%s", since), "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Routines = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Routines, "since filter excludes earlier starts")

	rec = env.request(t, http.MethodGet, "/api/routines?since=junk", "auth-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutineToday(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/routine-today", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["routineExists"])

	saveAndFetch(t, env, 2)

	rec = env.request(t, http.MethodGet, "/api/routine-today", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["routineExists"])
	assert.NotNil(t, body["routine"])
}

func TestAnalyzeChatOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	messages := map[string]interface{}{"messages": []map[string]string{
		{"role": "user", "content": "I had a rough week"},
		{"role": "assistant", "content": "I'm sorry to hear that"},
	}}

	rec := env.request(t, http.MethodGet, "/api/analysis-today", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["analysisDone"])

	rec = env.request(t, http.MethodPost, "/api/analyze-chat", "auth-1", messages)
	require.Equal(t, http.StatusCreated, rec.Code)
	analysis, ok := decodeBody(t, rec)["analysis"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Calm", analysis["emotionalState"])

	rec = env.request(t, http.MethodGet, "/api/analysis-today", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["analysisDone"])

	rec = env.request(t, http.MethodPost, "/api/analyze-chat", "auth-1", messages)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["alreadyAnalyzed"])
}

func TestAnalyzeChatValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/analyze-chat", "auth-1",
		map[string]interface{}{"messages": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/analyze-chat", "auth-1",
		map[string]interface{}{"messages": []map[string]string{{"role": "user", "content": ""}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestRoutineLifecycle walks the full flow: confirmation saves the
// parsed routine, the next day it is still active and its day-2 tasks
// become toggleable.
func TestRoutineLifecycle(t *testing.T) {
	env := newTestEnv(t)
	r := saveAndFetch(t, env, 2)
	require.Len(t, r.Tasks, 3)

	dayTwo := env.now.AddDate(0, 0, 1)
	env.setNow(dayTwo)

	rec := env.request(t, http.MethodGet, "/api/routines", "auth-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Routines []routine.Routine `json:"routines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	active := routine.ActiveRoutines(resp.Routines, dayTwo)
	require.Len(t, active, 1, "a 2-day routine is still active on its second day")

	task := taskForDay(t, active[0], 2)
	rec = env.request(t, http.MethodPost, "/api/update-task-status", "auth-1",
		map[string]interface{}{"routineId": active[0].ID, "taskKey": task.Key, "completed": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	// One more day and the routine has lapsed.
	assert.Empty(t, routine.ActiveRoutines(resp.Routines, dayTwo.AddDate(0, 0, 1)))
}
