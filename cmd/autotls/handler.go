package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/autotls/core/health"
	"github.com/dmitrymomot/autotls/core/rotation"
)

type status struct {
	Domain              string    `json:"domain"`
	NotAfter            time.Time `json:"not_after"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	Succeeded           int64     `json:"succeeded"`
	Failed              int64     `json:"failed"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	Rotating            bool      `json:"rotating"`
}

// newHandler serves the public HTTPS routes. Health checks answer with status
// codes only.
func newHandler(log *slog.Logger, checks ...health.Check) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health/live", health.Liveness())
	mux.Handle("GET /health/ready", health.Readiness(log, checks...))
	mux.Handle("GET /ping", health.NoContent())
	return mux
}

// newAdminHandler serves rotation stats on the operator listener.
func newAdminHandler(sched *rotation.Scheduler, domain string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		st := sched.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{
			Domain:              domain,
			NotAfter:            st.NotAfter,
			LastSuccess:         st.LastSuccess,
			LastFailure:         st.LastFailure,
			Succeeded:           st.Succeeded,
			Failed:              st.Failed,
			ConsecutiveFailures: st.ConsecutiveFailures,
			Rotating:            st.InFlight,
		})
	})
	return mux
}
