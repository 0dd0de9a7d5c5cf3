package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MRamiBalles/NightlandServer/server/internal/infra/storage"
	"github.com/MRamiBalles/NightlandServer/server/internal/platform/logger"
)

type memoryJournal struct {
	runs    []storage.Run
	entries []storage.JournalEntry
}

func (m *memoryJournal) StartRun(ctx context.Context, run storage.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryJournal) Append(ctx context.Context, entries []storage.JournalEntry) error {
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memoryJournal) GetByRun(ctx context.Context, runID string) ([]storage.JournalEntry, error) {
	var out []storage.JournalEntry
	for _, e := range m.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryJournal) GetByKind(ctx context.Context, runID, kind string) ([]storage.JournalEntry, error) {
	var out []storage.JournalEntry
	for _, e := range m.entries {
		if e.RunID == runID && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryJournal) Runs(ctx context.Context) ([]storage.Run, error) {
	return m.runs, nil
}

func newReplayMux() *http.ServeMux {
	repo := &memoryJournal{}
	repo.Append(context.Background(), []storage.JournalEntry{
		{RunID: "r1", Tick: 1, Direction: "in", Kind: "BORN", Args: []int{0}},
		{RunID: "r1", Tick: 5, Direction: "out", Kind: "EXPLODED", Args: []int{5}},
		{RunID: "r1", Tick: 8, Direction: "in", Kind: "DIED", Args: []int{0}},
		{RunID: "r2", Tick: 1, Direction: "in", Kind: "BORN", Args: []int{3}},
	})
	mux := http.NewServeMux()
	NewReplayHandler(repo, logger.Discard()).RegisterRoutes(mux)
	return mux
}

func TestReplayFilters(t *testing.T) {
	mux := newReplayMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal/replay?run_id=r1&direction=in", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status %d: %s", rec.Code, rec.Body.String())
	}

	var resp ReplayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if resp.TotalEvents != 2 || resp.Wire != "BORN,0;DIED,0;" {
		t.Errorf("Unexpected replay: %+v", resp)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal/replay?run_id=r1&kind=EXPLODED", nil))
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TotalEvents != 1 || resp.Wire != "EXPLODED,5;" {
		t.Errorf("Kind filter returned %+v", resp)
	}
}

func TestReplayRejectsBadRequests(t *testing.T) {
	mux := newReplayMux()

	cases := map[string]int{
		"/api/journal/replay":                      http.StatusBadRequest,
		"/api/journal/replay?run_id=r1&kind=SPAWN": http.StatusBadRequest,
		"/api/journal/replay?run_id=r1&since=x":    http.StatusBadRequest,
		"/api/journal/recap":                       http.StatusBadRequest,
	}
	for url, want := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", url, rec.Code, want)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/journal/runs", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST runs = %d", rec.Code)
	}
}

func TestRecapEndpoint(t *testing.T) {
	mux := newReplayMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal/recap?run_id=r1", nil))

	var recap storage.Recap
	if err := json.Unmarshal(rec.Body.Bytes(), &recap); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if len(recap.Sessions) != 1 || recap.Sessions[0].DiedTick != 8 || recap.Explosions != 1 {
		t.Errorf("Unexpected recap %+v", recap)
	}
}
