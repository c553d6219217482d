// Package server exposes the admin HTTP API: global config, per-user
// settings, task inspection, and process status. JSON only, no auth; bind
// it to localhost.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/tasks"
)

// Server is the admin API
type Server struct {
	Store   *db.Store
	Tasks   *tasks.Service
	Started time.Time
	Version string

	http *http.Server
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/config", s.handleGetConfig)
	r.Put("/api/config", s.handlePutConfig)
	r.Get("/api/users/{userID}/settings", s.handleGetSettings)
	r.Put("/api/users/{userID}/settings", s.handlePutSettings)
	r.Get("/api/users/{userID}/tasks", s.handleGetTasks)
	return r
}

// Run starts the server and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("[Server] Admin API on http://%s", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("[Server] Response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	users, err := s.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.Version,
		"uptime":  time.Since(s.Started).Round(time.Second).String(),
		"users":   len(users),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Store.AllGlobalConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for key, value := range updates {
		if err := s.Store.SetGlobalConfig(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	logging.Infof("[Server] Global config updated: %d key(s)", len(updates))
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(updates)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	settings, err := s.Store.UserSettings(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for key, value := range updates {
		if err := s.Store.SetUserSetting(r.Context(), userID, key, value); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(updates)})
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "pending"
	}
	list, err := s.Tasks.Prioritized(r.Context(), userID, 0, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}
