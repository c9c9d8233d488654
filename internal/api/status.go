package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/scheduler"
	"github.com/kalambet/jopper/internal/state"
	"github.com/kalambet/jopper/internal/syncer"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StateReader is the read-only part of the state store the API exposes.
type StateReader interface {
	Stats() (state.Stats, error)
	RecentRuns(limit int) ([]state.RunLog, error)
	ListRecords(limit int) ([]state.NoteRecord, error)
}

// Trigger starts a sync run on demand.
type Trigger interface {
	TriggerNow(ctx context.Context) (syncer.RunResult, error)
}

// AppDeps holds what the status router reads and triggers.
type AppDeps struct {
	Config config.Config
	Store  StateReader
	Sync   Trigger
	Token  string // optional; when empty every route is open
}

// NewAppHandler returns the daemon's status router. /health never requires
// authentication.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/status", handleStatus(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/notes", handleListNotes(deps))
		r.Post("/sync", handleSync(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := syncer.ReadStatus(deps.Config, deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultListLimit, maxListLimit)

		runs, err := deps.Store.RecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, syncer.FromRunLogs(runs))
	}
}

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultListLimit, maxListLimit)

		recs, err := deps.Store.ListRecords(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, syncer.FromRecords(recs))
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The run outlives a disconnecting client.
		res, err := deps.Sync.TriggerNow(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, scheduler.ErrBusy):
			httpError(w, http.StatusConflict, "conflict", "%v", err)
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "sync failed: %v", err)
		default:
			writeJSON(w, http.StatusAccepted, res)
		}
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
