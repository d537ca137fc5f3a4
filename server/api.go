// Package server exposes the routine lifecycle over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lexcodex/mindwell/chat"
	"github.com/lexcodex/mindwell/llm"
	"github.com/lexcodex/mindwell/persistence"
	"github.com/lexcodex/mindwell/routine"
)

// listWindowDays is how far back the routine listing reaches by default.
const listWindowDays = 60

// Identity resolves the pre-verified caller id from a request. The
// HTTP layer never performs authentication itself; it trusts whatever
// fronting proxy or middleware populated the request.
type Identity interface {
	CallerID(r *http.Request) (string, bool)
}

// HeaderIdentity reads the caller id from a header.
type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) CallerID(r *http.Request) (string, bool) {
	name := h.Header
	if name == "" {
		name = "X-Auth-Id"
	}
	id := r.Header.Get(name)
	return id, id != ""
}

// APIServer wires the routine gate, the store, and the analyzer into
// HTTP endpoints.
type APIServer struct {
	Store    persistence.Store
	Gate     *routine.Gate
	Analyzer *chat.Analyzer
	Identity Identity
	Logger   *log.Logger
	Now      func() time.Time

	mu          sync.Mutex
	reconcilers map[string]*routine.Reconciler
}

// NewAPIServer builds the server with a header-based identity resolver.
func NewAPIServer(store persistence.Store, gate *routine.Gate, analyzer *chat.Analyzer, logger *log.Logger) *APIServer {
	return &APIServer{
		Store:    store,
		Gate:     gate,
		Analyzer: analyzer,
		Identity: HeaderIdentity{},
		Logger:   logger,
		Now:      time.Now,
	}
}

type saveRoutineRequest struct {
	RoutineContent string `json:"routineContent"`
	Duration       int    `json:"duration"`
}

type updateTaskRequest struct {
	RoutineID string `json:"routineId"`
	TaskKey   string `json:"taskKey"`
	Completed bool   `json:"completed"`
}

type analyzeChatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logf("API listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routing mux, exposed for tests.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/save-routine", s.handleSaveRoutine)
	mux.HandleFunc("/api/update-task-status", s.handleUpdateTaskStatus)
	mux.HandleFunc("/api/routines", s.handleListRoutines)
	mux.HandleFunc("/api/routine-today", s.handleRoutineToday)
	mux.HandleFunc("/api/analysis-today", s.handleAnalysisToday)
	mux.HandleFunc("/api/analyze-chat", s.handleAnalyzeChat)
	return mux
}

func (s *APIServer) handleSaveRoutine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	callerID, ok := s.Identity.CallerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req saveRoutineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RoutineContent == "" {
		writeError(w, http.StatusBadRequest, "routineContent is required")
		return
	}

	result, err := s.Gate.SaveConfirmed(r.Context(), callerID, s.now(), req.Duration, req.RoutineContent)
	switch {
	case errors.Is(err, routine.ErrOwnerNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, routine.ErrNoTasks):
		writeError(w, http.StatusBadRequest, "routine content contains no tasks")
		return
	case err != nil:
		s.logf("save-routine: %v", err)
		writeError(w, http.StatusInternalServerError, "could not save routine")
		return
	}

	if result.Outcome == routine.OutcomeAlreadyExists {
		writeJSON(w, http.StatusOK, map[string]interface{}{"routineExists": true})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"routineId": result.RoutineID})
}

func (s *APIServer) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	callerID, ok := s.Identity.CallerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RoutineID == "" || req.TaskKey == "" {
		writeError(w, http.StatusBadRequest, "routineId and taskKey are required")
		return
	}

	ownerID, ok, err := s.Store.ResolveOwner(r.Context(), callerID)
	if err != nil {
		s.logf("update-task-status: resolving owner: %v", err)
		writeError(w, http.StatusInternalServerError, "could not resolve user")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	// Ownership first: a routine the caller does not own looks the same
	// as one that does not exist.
	routineOwner, found, err := s.Store.Owner(r.Context(), req.RoutineID)
	if err != nil {
		s.logf("update-task-status: ownership lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "could not verify routine")
		return
	}
	if !found || routineOwner != ownerID {
		writeError(w, http.StatusForbidden, "routine is not accessible")
		return
	}

	rec, err := s.reconcilerFor(r.Context(), ownerID)
	if err != nil {
		s.logf("update-task-status: loading routines: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load routines")
		return
	}
	if !snapshotHasTask(rec.Snapshot(), req.RoutineID, req.TaskKey) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	err = rec.Toggle(r.Context(), req.RoutineID, req.TaskKey, req.Completed)
	switch {
	case errors.Is(err, routine.ErrFutureTask):
		writeError(w, http.StatusBadRequest, "task day has not started yet")
	case errors.Is(err, routine.ErrTaskBusy):
		writeError(w, http.StatusConflict, "task update already in progress")
	case errors.Is(err, routine.ErrTaskVanished):
		writeError(w, http.StatusNotFound, "task not found")
	case err != nil:
		s.logf("update-task-status: %v", err)
		writeError(w, http.StatusInternalServerError, "could not update task")
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	}
}

func (s *APIServer) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID, done := s.resolveOwner(w, r)
	if done {
		return
	}
	since := routine.DateOnly(s.now()).AddDate(0, 0, -listWindowDays)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		since = parsed
	}
	routines, err := s.Store.ListSince(r.Context(), ownerID, since)
	if err != nil {
		s.logf("routines: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list routines")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routines": routines})
}

func (s *APIServer) handleRoutineToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID, done := s.resolveOwner(w, r)
	if done {
		return
	}
	today, found, err := s.Store.FindByOwnerAndDate(r.Context(), ownerID, s.now())
	if err != nil {
		s.logf("routine-today: %v", err)
		writeError(w, http.StatusInternalServerError, "could not check today's routine")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"routineExists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routineExists": true,
		"routine":       today,
	})
}

func (s *APIServer) handleAnalysisToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID, done := s.resolveOwner(w, r)
	if done {
		return
	}
	doneToday, err := s.Analyzer.DoneToday(r.Context(), ownerID)
	if err != nil {
		s.logf("analysis-today: %v", err)
		writeError(w, http.StatusInternalServerError, "could not check today's analysis")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analysisDone": doneToday})
}

func (s *APIServer) handleAnalyzeChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ownerID, done := s.resolveOwner(w, r)
	if done {
		return
	}
	var req analyzeChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			writeError(w, http.StatusBadRequest, "each message needs a role and content")
			return
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	analysis, ran, err := s.Analyzer.Analyze(r.Context(), ownerID, messages)
	if err != nil {
		s.logf("analyze-chat: %v", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	if !ran {
		writeJSON(w, http.StatusOK, map[string]interface{}{"alreadyAnalyzed": true})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"analysis": analysis})
}

// resolveOwner maps the request identity to an internal user id,
// writing the error response itself. done=true means the response was
// already written.
func (s *APIServer) resolveOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, ok := s.Identity.CallerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return "", true
	}
	ownerID, ok, err := s.Store.ResolveOwner(r.Context(), callerID)
	if err != nil {
		s.logf("resolving owner: %v", err)
		writeError(w, http.StatusInternalServerError, "could not resolve user")
		return "", true
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return "", true
	}
	return ownerID, false
}

// reconcilerFor returns the caller's reconciler with a freshly loaded
// snapshot. One reconciler per owner keeps the per-task busy guard
// effective across requests.
func (s *APIServer) reconcilerFor(ctx context.Context, ownerID string) (*routine.Reconciler, error) {
	s.mu.Lock()
	if s.reconcilers == nil {
		s.reconcilers = make(map[string]*routine.Reconciler)
	}
	rec, ok := s.reconcilers[ownerID]
	if !ok {
		rec = routine.NewReconciler(s.Store)
		rec.Now = s.now
		s.reconcilers[ownerID] = rec
	}
	s.mu.Unlock()

	since := routine.DateOnly(s.now()).AddDate(0, 0, -listWindowDays)
	routines, err := s.Store.ListSince(ctx, ownerID, since)
	if err != nil {
		return nil, err
	}
	rec.SetSnapshot(routines)
	return rec, nil
}

func snapshotHasTask(routines []routine.Routine, routineID, taskKey string) bool {
	for _, r := range routines {
		if r.ID != routineID {
			continue
		}
		for _, t := range r.Tasks {
			if t.Key == taskKey {
				return true
			}
		}
	}
	return false
}

func (s *APIServer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *APIServer) logf(format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Printf(format, args...)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
