package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/server"
)

var (
	ErrNoCertificate       = errors.New("health: no certificate installed")
	ErrCertificateExpiring = errors.New("health: certificate expires within margin")
)

// Check reports whether a dependency is usable.
type Check func(context.Context) error

// Readiness verifies all service dependencies are functioning.
// Returns "READY" if all checks pass, 503 Service Unavailable if any fail.
//
// Example:
//
//	mux.Handle("GET /health/ready", health.Readiness(
//		logger,
//		health.Certificate(cell, 7*24*time.Hour),
//		redis.Healthcheck(client),
//	))
func Readiness(log *slog.Logger, checks ...Check) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				writeText(w, http.StatusServiceUnavailable, "NOT READY")
				return
			}
		}
		writeText(w, http.StatusOK, "READY")
	})
}

// Certificate fails until cell holds a certificate valid for at least margin.
func Certificate(cell *server.TLSConfigCell, margin time.Duration) Check {
	return func(context.Context) error {
		if !cell.Ready() {
			return ErrNoCertificate
		}
		notAfter := cell.NotAfter()
		if time.Until(notAfter) < margin {
			return fmt.Errorf("%w: not after %s", ErrCertificateExpiring, notAfter.UTC().Format(time.RFC3339))
		}
		return nil
	}
}
