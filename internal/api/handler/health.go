package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/ally-chat/internal/api/response"
)

// Pinger reports backend connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including storage connectivity
func ReadyCheck(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		ready := true
		for name, p := range deps {
			if err := p.Ping(r.Context()); err != nil {
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			response.ErrorWithData(w, http.StatusServiceUnavailable, "not ready", status)
			return
		}
		status["status"] = "ready"
		response.OK(w, status)
	}
}
