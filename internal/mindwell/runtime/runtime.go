// Package runtime wires the mindwell CLI and API server to the shared
// service components: store, language model, gate, and analyzer.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/lexcodex/mindwell/chat"
	"github.com/lexcodex/mindwell/llm"
	"github.com/lexcodex/mindwell/persistence"
	"github.com/lexcodex/mindwell/routine"
	"github.com/lexcodex/mindwell/server"
)

// Runtime centralizes store setup, model wiring, and log management for
// every entry point.
type Runtime struct {
	Config   Config
	Store    persistence.Store
	Gate     *routine.Gate
	Analyzer *chat.Analyzer
	Model    llm.Provider
	Logger   *log.Logger

	logFile io.Closer
	closers []io.Closer

	serverMu     sync.Mutex
	serverCancel context.CancelFunc
}

// New builds a runtime from the given config.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	logger := log.New(io.MultiWriter(os.Stdout, logFile), "mindwell ", log.LstdFlags|log.Lmicroseconds)

	workspaceCfg, err := LoadWorkspaceConfig(cfg.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Printf("workspace config load failed: %v", err)
		}
		workspaceCfg = WorkspaceConfig{}
	}
	if workspaceCfg.Model != "" {
		cfg.OllamaModel = workspaceCfg.Model
	}
	if workspaceCfg.AuthHeader != "" {
		cfg.AuthHeader = workspaceCfg.AuthHeader
	}

	store, err := openStore(cfg)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	client := llm.NewClient(cfg.OllamaEndpoint, cfg.OllamaModel)
	client.SetDebugLogging(cfg.Debug)
	model := llm.NewInstrumentedModel(client, logger, cfg.Debug)

	rt := &Runtime{
		Config:   cfg,
		Store:    store,
		Gate:     routine.NewGate(store, store, logger),
		Analyzer: chat.NewAnalyzer(model, store, logger),
		Model:    model,
		Logger:   logger,
		logFile:  logFile,
	}
	if closer, ok := store.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}
	return rt, nil
}

func openStore(cfg Config) (persistence.Store, error) {
	if cfg.DatabasePath == ":memory:" {
		return persistence.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := persistence.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

// NewSession starts a companion chat session for the given caller,
// wired to the runtime's model and persistence gate.
func (r *Runtime) NewSession(callerID string) *chat.Session {
	return chat.NewSession(r.Model, r.Gate, callerID, r.Logger)
}

// Close releases resources managed by the runtime.
func (r *Runtime) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StartServer launches the HTTP API server. The returned stop function
// shuts the server down using the provided context.
func (r *Runtime) StartServer(ctx context.Context, addr string) (func(context.Context) error, error) {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	if r.serverCancel != nil {
		return nil, errors.New("server already running")
	}
	if addr == "" {
		addr = r.Config.ServerAddr
	}
	api := server.NewAPIServer(r.Store, r.Gate, r.Analyzer, r.Logger)
	api.Identity = server.HeaderIdentity{Header: r.Config.AuthHeader}
	serverCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ServeContext(serverCtx, addr)
	}()
	r.serverCancel = cancel
	stopFn := func(shutdownCtx context.Context) error {
		r.serverMu.Lock()
		if r.serverCancel == nil {
			r.serverMu.Unlock()
			return nil
		}
		r.serverCancel()
		r.serverCancel = nil
		r.serverMu.Unlock()
		select {
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
	return stopFn, nil
}

// ServerRunning reports whether the HTTP server is active.
func (r *Runtime) ServerRunning() bool {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	return r.serverCancel != nil
}
