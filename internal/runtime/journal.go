package runtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voice/internal/eventstore"
)

const (
	journalPath         = "/v1/synthesis/journal"
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

type journalEntry struct {
	RequestID string    `json:"request_id"`
	Format    string    `json:"format"`
	Stream    bool      `json:"stream"`
	Chars     int       `json:"chars"`
	Bytes     int       `json:"bytes"`
	Fallback  bool      `json:"fallback"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type journalResponse struct {
	Retention string         `json:"retention"`
	Total     int            `json:"total"`
	Fallbacks int            `json:"fallbacks"`
	Failures  int            `json:"failures"`
	Recent    []journalEntry `json:"recent"`
}

// handleJournal reports aggregate counts and the most recent requests.
// With ephemeral retention the response is always empty.
func (r *Runtime) handleJournal(w http.ResponseWriter, req *http.Request) {
	limit := defaultJournalLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxJournalLimit)
	}

	stats, err := r.store.Stats(req.Context())
	if err != nil {
		r.logger.Warn("journal stats failed", slogError(err))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	entries, err := r.store.Recent(req.Context(), limit)
	if err != nil {
		r.logger.Warn("journal query failed", slogError(err))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	resp := journalResponse{
		Retention: r.cfg.EventStore.RetentionMode,
		Total:     stats.Total,
		Fallbacks: stats.Fallbacks,
		Failures:  stats.Failures,
		Recent:    make([]journalEntry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Recent = append(resp.Recent, toJournalEntry(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func toJournalEntry(e eventstore.Entry) journalEntry {
	return journalEntry{
		RequestID: e.RequestID,
		Format:    e.Format,
		Stream:    e.Stream,
		Chars:     e.Chars,
		Bytes:     e.Bytes,
		Fallback:  e.Fallback,
		LatencyMS: e.Latency.Milliseconds(),
		Error:     e.Error,
		CreatedAt: e.CreatedAt,
	}
}
