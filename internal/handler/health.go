package handler

import (
	"context"
	"encoding/json"
	"net/http"
)

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats exposes per-instance gateway counters.
type Stats interface {
	InstanceID() string
	ConnectionCount() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	redis Pinger
	db    Pinger
	stats Stats
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(redis, db Pinger, stats Stats) *HealthHandler {
	return &HealthHandler{redis: redis, db: db, stats: stats}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.redis.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "redis not connected",
		})
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// StatsHandler handles GET /stats
func (h *HealthHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instanceId":  h.stats.InstanceID(),
		"connections": h.stats.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
