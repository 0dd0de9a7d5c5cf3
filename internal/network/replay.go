package network

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
	"github.com/MRamiBalles/NightlandServer/server/internal/infra/storage"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
)

// ReplayHandler serves the event journal over HTTP.
type ReplayHandler struct {
	repo   storage.JournalRepository
	logger *logger.Logger
}

// NewReplayHandler creates a journal replay handler.
func NewReplayHandler(repo storage.JournalRepository, log *logger.Logger) *ReplayHandler {
	return &ReplayHandler{
		repo:   repo,
		logger: log,
	}
}

// ReplayResponse is the API response for a journal replay.
type ReplayResponse struct {
	RunID       string                 `json:"run_id"`
	TotalEvents int                    `json:"total_events"`
	FilteredBy  string                 `json:"filtered_by,omitempty"`
	GeneratedAt string                 `json:"generated_at"`
	Events      []storage.JournalEntry `json:"events"`
	Wire        string                 `json:"wire"`
}

// HandleReplay returns the journal of a run.
// GET /api/journal/replay?run_id=XXX&kind=BORN&direction=in&since=N
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	runID := q.Get("run_id")
	if runID == "" {
		rh.jsonError(w, "Missing run_id", http.StatusBadRequest)
		return
	}

	kind := q.Get("kind")
	if kind != "" {
		if _, err := events.ParseKind(kind); err != nil {
			rh.jsonError(w, "Unknown kind "+kind, http.StatusBadRequest)
			return
		}
	}
	direction := q.Get("direction")
	since := 0
	if s := q.Get("since"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			rh.jsonError(w, "Bad since", http.StatusBadRequest)
			return
		}
		since = n
	}

	var entries []storage.JournalEntry
	var err error
	if kind != "" {
		entries, err = rh.repo.GetByKind(r.Context(), runID, kind)
	} else {
		entries, err = rh.repo.GetByRun(r.Context(), runID)
	}
	if err != nil {
		rh.logger.Warn("Journal query failed: " + err.Error())
		rh.jsonError(w, "Journal unavailable", http.StatusInternalServerError)
		return
	}

	filterDesc := kind
	filtered := make([]storage.JournalEntry, 0, len(entries))
	wire := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		if direction != "" && e.Direction != direction {
			continue
		}
		if e.Tick < since {
			continue
		}
		filtered = append(filtered, e)
		if k, err := events.ParseKind(e.Kind); err == nil {
			wire = append(wire, events.New(k, e.Args...))
		}
	}
	if direction != "" {
		filterDesc += " " + direction
	}

	response := ReplayResponse{
		RunID:       runID,
		TotalEvents: len(filtered),
		FilteredBy:  filterDesc,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      filtered,
		Wire:        string(events.Encode(wire)),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleRecap returns the slot sessions and totals of a run.
// GET /api/journal/recap?run_id=XXX
func (rh *ReplayHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		rh.jsonError(w, "Missing run_id", http.StatusBadRequest)
		return
	}

	recap, err := storage.NewReconstructor(rh.repo).Recap(r.Context(), runID)
	if err != nil {
		rh.logger.Warn(err.Error())
		rh.jsonError(w, "Journal unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recap)
}

// HandleRuns lists the journaled runs, newest first.
// GET /api/journal/runs
func (rh *ReplayHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rh.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runs, err := rh.repo.Runs(r.Context())
	if err != nil {
		rh.logger.Warn("Run listing failed: " + err.Error())
		rh.jsonError(w, "Journal unavailable", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"runs":         runs,
	})
}

// RegisterRoutes sets up the journal API routes.
func (rh *ReplayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/journal/replay", rh.HandleReplay)
	mux.HandleFunc("/api/journal/recap", rh.HandleRecap)
	mux.HandleFunc("/api/journal/runs", rh.HandleRuns)
}

func (rh *ReplayHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
