package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/batch"
	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/normalize"
	"github.com/sells-group/venue-leads/internal/scorer"
	"github.com/sells-group/venue-leads/internal/store"
)

// batchRunner runs a synchronous batch.
type batchRunner interface {
	EnrichMany(ctx context.Context, req batch.Request) (*model.BatchResult, error)
}

// jobRunner submits and reads async jobs.
type jobRunner interface {
	Submit(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

// api serves the HTTP surface.
type api struct {
	batch            batchRunner
	jobs             jobRunner
	scorer           *scorer.Scorer
	overwriteDefault bool
}

// enrichRequest is the body of both enrich endpoints.
type enrichRequest struct {
	LeadIDs   []string `json:"leadIds"`
	Overwrite *bool    `json:"overwrite,omitempty"`
}

type enrichCounts struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Unsaved   int      `json:"unsaved"`
	Errors    []string `json:"errors"`
}

// enrichResponse is the public batch contract.
type enrichResponse struct {
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	Results            enrichCounts        `json:"results"`
	EnrichedBusinesses []model.LeadOutcome `json:"enrichedBusinesses"`
}

func newEnrichResponse(br *model.BatchResult) enrichResponse {
	msg := fmt.Sprintf("Enriched %d of %d leads", br.Succeeded, br.Processed)
	if br.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", br.Skipped)
	}
	if br.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", br.Failed)
	}
	if br.Unsaved > 0 {
		msg += fmt.Sprintf(", %d not saved", br.Unsaved)
	}

	enriched := []model.LeadOutcome{}
	for _, l := range br.Leads {
		if l.Outcome == model.OutcomeSucceeded {
			enriched = append(enriched, l)
		}
	}

	errs := br.Errors
	if errs == nil {
		errs = []string{}
	}
	return enrichResponse{
		Success: br.Success(),
		Message: msg,
		Results: enrichCounts{
			Processed: br.Processed,
			Succeeded: br.Succeeded,
			Failed:    br.Failed,
			Skipped:   br.Skipped,
			Unsaved:   br.Unsaved,
			Errors:    errs,
		},
		EnrichedBusinesses: enriched,
	}
}

type jobAccepted struct {
	JobID  string          `json:"jobId"`
	Status model.JobStatus `json:"status"`
}

type scoreRequest struct {
	Record  any    `json:"record"`
	Profile string `json:"profile"`
}

// newRouter wires the HTTP routes.
func newRouter(a *api, corsOrigins []string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/leads/enrich", a.handleEnrich)
		r.Post("/enrichment/jobs", a.handleSubmitJob)
		r.Get("/enrichment/jobs/{id}", a.handleGetJob)
		r.Post("/score", a.handleScore)
	})
	return r
}

func (a *api) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	br, err := a.batch.EnrichMany(r.Context(), batch.Request{LeadIDs: req.LeadIDs, Overwrite: a.overwrite(req)})
	if err != nil {
		a.batchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEnrichResponse(br))
}

func (a *api) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := a.jobs.Submit(r.Context(), req.LeadIDs, a.overwrite(req))
	if err != nil {
		a.batchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *api) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	strategy, err := scorer.ParseStrategy(req.Profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.scorer.Score(strategy, normalize.Normalize(req.Record)))
}

func (a *api) overwrite(req enrichRequest) bool {
	if req.Overwrite != nil {
		return *req.Overwrite
	}
	return a.overwriteDefault
}

func (a *api) batchError(w http.ResponseWriter, err error) {
	if batch.IsInputError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Error("api: batch failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "enrichment failed: "+err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

// serverTimeouts bound slow clients. The write timeout covers a full
// synchronous batch.
func serverTimeouts(batchTimeout time.Duration) (read, write time.Duration) {
	return 30 * time.Second, batchTimeout + time.Minute
}
