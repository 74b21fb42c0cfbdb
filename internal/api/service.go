// Package api provides the HTTP handlers for submitting deals, running
// Monte Carlo ensembles over them and fetching the stored results.
//
// The simulation core works in float64; summaries leave the process as
// shopspring/decimal values.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openrating/waterfall/internal/config"
	"github.com/openrating/waterfall/internal/metrics"
	"github.com/openrating/waterfall/internal/model"
	"github.com/openrating/waterfall/internal/simulation"
	"github.com/openrating/waterfall/internal/store"
)

const (
	// MaxTrials caps one request's ensemble size.
	MaxTrials = 1_000_000

	maxBodyBytes = 10 << 20
)

// Service handles run submission and retrieval. Ensembles run in the
// background unless the caller asks to wait.
type Service struct {
	store    store.Store
	ensemble simulation.Ensemble
	wsHub    *WSHub // optional WebSocket hub for run events

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new run service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, ensemble simulation.Ensemble, hub *WSHub) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    st,
		ensemble: ensemble,
		wsHub:    hub,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Wait blocks until every background ensemble has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background ensembles and waits for them to record their
// outcome.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// --- Request/Response types ---

// CreateRunRequest is the JSON body for run submission. Deal holds the
// deal document in JSON form.
type CreateRunRequest struct {
	Deal   json.RawMessage `json:"deal"`
	Trials int             `json:"trials"`
	Seed   *int64          `json:"seed,omitempty"` // nil → time-based
}

// ValidateResponse describes a deal that passed validation.
type ValidateResponse struct {
	Valid          bool    `json:"valid"`
	Name           string  `json:"name"`
	Periods        int     `json:"periods"`
	PeriodsPerYear int     `json:"periods_per_year"`
	Tranches       int     `json:"tranches"`
	PoolModel      string  `json:"pool_model"`
	Waterfall      string  `json:"waterfall"`
	InitialBalance float64 `json:"initial_balance"`
}

// --- HTTP Handlers ---

// CreateRun handles POST /api/v1/runs
// Returns 202 with the pending run, or 200 with the finished run when
// called with ?wait=true.
func (s *Service) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if len(req.Deal) == 0 {
		writeError(w, "deal is required", http.StatusBadRequest)
		return
	}
	if req.Trials <= 0 || req.Trials > MaxTrials {
		writeError(w, fmt.Sprintf("trials must be between 1 and %d", MaxTrials), http.StatusBadRequest)
		return
	}

	// Compact JSON is also a valid single-line YAML flow mapping.
	var doc bytes.Buffer
	if err := json.Compact(&doc, req.Deal); err != nil {
		writeError(w, "deal must be a JSON object", http.StatusBadRequest)
		return
	}
	plan, err := preparePlan(doc.Bytes())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		DealName:  plan.Deal.Name,
		Trials:    req.Trials,
		Seed:      seed,
		Status:    model.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx := r.Context()
	if err := s.store.CreateRun(ctx, run); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("run submitted",
		"id", run.ID,
		"deal", run.DealName,
		"trials", run.Trials,
		"seed", run.Seed,
		"periods", plan.Periods(),
	)

	if r.URL.Query().Get("wait") == "true" {
		s.execute(ctx, run.ID, plan, run.Trials, run.Seed)
		finished, err := s.store.GetRun(ctx, run.ID)
		if err != nil {
			writeError(w, "failed to load run", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, finished)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, run.ID, plan, run.Trials, run.Seed)
	}()

	writeJSON(w, http.StatusAccepted, run)
}

// GetRun handles GET /api/v1/runs/{runID}
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs
// Returns all runs, optionally filtered by ?status=<status>.
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Run{}
		for _, run := range runs {
			if run.Status == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}

	writeJSON(w, http.StatusOK, runs)
}

// ValidateDeal handles POST /api/v1/deals/validate
// The body is a deal document in YAML or JSON.
func (s *Service) ValidateDeal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := preparePlan(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:          true,
		Name:           plan.Deal.Name,
		Periods:        plan.Periods(),
		PeriodsPerYear: plan.PeriodsPerYear,
		Tranches:       len(plan.Deal.Tranches),
		PoolModel:      plan.Deal.Pool.Model,
		Waterfall:      string(plan.Deal.Waterfall),
		InitialBalance: plan.InitialBalance,
	})
}

// --- Execution ---

func preparePlan(doc []byte) (*simulation.Plan, error) {
	deal, err := config.ParseDeal(doc)
	if err != nil {
		return nil, err
	}
	return simulation.Prepare(deal)
}

// execute runs the ensemble and records its outcome. It uses its own
// timeout-free context for the final write so a cancelled ensemble is
// still marked failed.
func (s *Service) execute(ctx context.Context, runID string, plan *simulation.Plan, trials int, seed int64) {
	outcomes, err := s.ensemble.Run(ctx, plan, trials, seed)
	if err != nil {
		s.fail(runID, plan.Deal.Name, err.Error())
		return
	}

	summary := simulation.Summarize(outcomes)
	if summary.Completed == 0 {
		s.fail(runID, plan.Deal.Name, fmt.Sprintf("all %d trials failed: %v", trials, summary.FailureReasons))
		return
	}

	if err := s.store.CompleteRun(context.Background(), runID, summary); err != nil {
		slog.Error("failed to record run", "id", runID, "err", err)
		return
	}
	metrics.RunsTotal.WithLabelValues(model.RunCompleted).Inc()

	slog.Info("run completed",
		"id", runID,
		"deal", plan.Deal.Name,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"mean_loss", summary.MeanCumulativeLoss.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "run_completed",
			RunID:     runID,
			DealName:  plan.Deal.Name,
			Status:    model.RunCompleted,
			Completed: summary.Completed,
			Failed:    summary.Failed,
		})
	}
}

func (s *Service) fail(runID, dealName, reason string) {
	if err := s.store.FailRun(context.Background(), runID, reason); err != nil {
		slog.Error("failed to record run failure", "id", runID, "err", err)
		return
	}
	metrics.RunsTotal.WithLabelValues(model.RunFailed).Inc()
	slog.Warn("run failed", "id", runID, "deal", dealName, "reason", reason)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "run_failed",
			RunID:    runID,
			DealName: dealName,
			Status:   model.RunFailed,
			Error:    reason,
		})
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
