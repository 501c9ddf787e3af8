package main

import (
	"context"
	"net/http"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sirupsen/logrus"

	"tradewatch/internal/domain"
	"tradewatch/internal/ingestion"
	"tradewatch/internal/observability"
	"tradewatch/internal/query"
	"tradewatch/internal/storage"
	"tradewatch/internal/viewer"
)

// statsSource reports ingestion counters. Nil when ingestion is disabled.
type statsSource interface {
	Stats() ingestion.Stats
}

// API serves queries over the trade log.
type API struct {
	log     storage.TradeLog
	engine  *query.Engine
	stats   statsSource
	backend string
	runID   string
	started time.Time
	logger  *logrus.Entry
}

// Handler returns the HTTP routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/trades", a.handleTrades)
	mux.HandleFunc("/summary", a.handleSummary)
	mux.HandleFunc("/status", a.handleStatus)

	return mux
}

// session builds the query session from ?user= and ?sort=.
func session(r *http.Request) (domain.Session, bool) {
	q := r.URL.Query()
	mode, ok := domain.ParseSortMode(q.Get("sort"))
	if !ok {
		return domain.Session{}, false
	}
	return domain.Session{Filter: q.Get("user"), Sort: mode}, true
}

func (a *API) run(w http.ResponseWriter, r *http.Request) (domain.QueryResult, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return domain.QueryResult{}, false
	}
	sess, ok := session(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown sort mode")
		return domain.QueryResult{}, false
	}

	result, err := a.engine.Query(r.Context(), a.log, sess)
	if err != nil {
		a.logger.WithError(err).Warn("query failed")
		writeError(w, http.StatusServiceUnavailable, "trade log unavailable")
		return domain.QueryResult{}, false
	}
	return result, true
}

func (a *API) handleTrades(w http.ResponseWriter, r *http.Request) {
	result, ok := a.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewer.NewResultView(result))
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	result, ok := a.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewer.NewSummaryView(result.Summary))
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string           `json:"status"`
	RunID     string           `json:"run_id"`
	Backend   string           `json:"backend"`
	Uptime    string           `json:"uptime"`
	Started   time.Time        `json:"started"`
	Trades    int              `json:"trades"`
	Ingestion *IngestionStatus `json:"ingestion,omitempty"`
}

// IngestionStatus mirrors ingestion.Stats.
type IngestionStatus struct {
	Received     uint64            `json:"received"`
	Accepted     uint64            `json:"accepted"`
	AppendFailed uint64            `json:"append_failed"`
	Rejected     map[string]uint64 `json:"rejected"`
}

// handleStatus returns server status as JSON.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := StatusResponse{
		Status:  "running",
		RunID:   a.runID,
		Backend: a.backend,
		Uptime:  time.Since(a.started).Round(time.Second).String(),
		Started: a.started,
	}

	n, err := a.log.Count(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("count trades")
		resp.Status = "degraded"
	}
	resp.Trades = n

	if a.stats != nil {
		stats := a.stats.Stats()
		rejected := make(map[string]uint64, len(stats.Rejected))
		for reason, count := range stats.Rejected {
			rejected[string(reason)] = count
		}
		resp.Ingestion = &IngestionStatus{
			Received:     stats.Received,
			Accepted:     stats.Accepted,
			AppendFailed: stats.AppendFailed,
			Rejected:     rejected,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
